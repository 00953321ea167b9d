package socp

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Protocol timing constants.
const (
	HeartbeatEvery = 15 * time.Second
	DeadAfter      = 45 * time.Second
	ReconnectEvery = 10 * time.Second
	ReadIdle       = 300 * time.Second
)

// Config is the node's operator-facing surface. Precedence, lowest to
// highest: defaults, YAML file, environment.
type Config struct {
	ListenHost      string   `yaml:"listen_host"`
	ListenPort      int      `yaml:"listen_port"`
	ServerID        string   `yaml:"server_id"`
	BootstrapPeers  []string `yaml:"bootstrap_peers"`
	StorageDir      string   `yaml:"storage_dir"`
	MetricsAddr     string   `yaml:"metrics_addr"`
	StrictUserHello bool     `yaml:"strict_user_hello"`
	AdvertiseHost   string   `yaml:"advertise_host"`
}

func DefaultConfig() Config {
	return Config{
		ListenHost: "0.0.0.0",
		ListenPort: 8765,
		StorageDir: "storage",
	}
}

// LoadFile overlays a YAML config file. A missing file is not an error when
// path is empty.
func (c *Config) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// LoadEnv overlays the environment variables.
func (c *Config) LoadEnv() error {
	if v := os.Getenv("LISTEN_HOST"); v != "" {
		c.ListenHost = v
	}
	if v := os.Getenv("LISTEN_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LISTEN_PORT: %w", err)
		}
		c.ListenPort = p
	}
	if v := os.Getenv("SERVER_ID"); v != "" {
		c.ServerID = v
	}
	if v := os.Getenv("BOOTSTRAP_PEERS"); v != "" {
		c.BootstrapPeers = SplitPeers(v)
	}
	if v := os.Getenv("STORAGE_DIR"); v != "" {
		c.StorageDir = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("STRICT_USER_HELLO"); v != "" {
		c.StrictUserHello = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("ADVERTISE_HOST"); v != "" {
		c.AdvertiseHost = v
	}
	return nil
}

// SplitPeers parses a comma-separated host:port list, skipping blanks.
func SplitPeers(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// advertisedHost is the address peers should dial back: the explicit
// advertise host when set, else the listen host.
func (c Config) advertisedHost() string {
	if c.AdvertiseHost != "" {
		return c.AdvertiseHost
	}
	return c.ListenHost
}
