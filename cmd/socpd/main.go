// socpd runs one SOCP mesh node.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	socp "github.com/WillLehmann04/secure-programming"
	"github.com/WillLehmann04/secure-programming/store"
)

var (
	flagConfig     string
	flagListenHost string
	flagListenPort int
	flagBootstrap  string
	flagStorage    string
	flagMetrics    string
	flagVerbose    bool
)

func main() {
	root := &cobra.Command{
		Use:          "socpd",
		Short:        "SOCP mesh node: federated, end-to-end encrypted chat overlay",
		RunE:         run,
		SilenceUsage: true,
	}

	root.Flags().StringVarP(&flagConfig, "config", "c", "", "YAML config file")
	root.Flags().StringVar(&flagListenHost, "listen-host", "", "listen host (overrides config)")
	root.Flags().IntVar(&flagListenPort, "listen-port", 0, "listen port (overrides config)")
	root.Flags().StringVar(&flagBootstrap, "bootstrap", "", "comma-separated host:port bootstrap peers")
	root.Flags().StringVar(&flagStorage, "storage-dir", "", "directory for keys, id and registry")
	root.Flags().StringVar(&flagMetrics, "metrics-addr", "", "prometheus listen address, empty disables")
	root.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// a .env file is optional
	_ = godotenv.Load()

	cfg := socp.DefaultConfig()
	if err := cfg.LoadFile(flagConfig); err != nil {
		return err
	}
	if err := cfg.LoadEnv(); err != nil {
		return err
	}
	if flagListenHost != "" {
		cfg.ListenHost = flagListenHost
	}
	if flagListenPort != 0 {
		cfg.ListenPort = flagListenPort
	}
	if flagBootstrap != "" {
		cfg.BootstrapPeers = socp.SplitPeers(flagBootstrap)
	}
	if flagStorage != "" {
		cfg.StorageDir = flagStorage
	}
	if flagMetrics != "" {
		cfg.MetricsAddr = flagMetrics
	}

	logger, err := buildLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Sugar()

	id, err := socp.LoadOrCreateIdentity(cfg.StorageDir, cfg.ServerID)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	reg, err := store.Open(filepath.Join(cfg.StorageDir, "registry.db"))
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	defer reg.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node := socp.NewNode(cfg, id, reg, log)
	log.Infow("starting node",
		"server_id", id.ServerID,
		"listen", fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort),
		"bootstrap", cfg.BootstrapPeers)
	return node.Run(ctx)
}

func buildLogger() (*zap.Logger, error) {
	if flagVerbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
