package socp

import (
	"crypto/rsa"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/WillLehmann04/secure-programming/crypto"
	"github.com/WillLehmann04/secure-programming/wire"
)

// Identity is the node's persisted self: a stable v4 server id and an
// RSA-4096 keypair, created under the storage directory on first boot.
type Identity struct {
	ServerID string
	Key      *rsa.PrivateKey
	PubPEM   string
}

const (
	serverIDFile = "server_id.txt"
	privKeyFile  = "server_private.pem"
	pubKeyFile   = "server_public.pem"
)

// LoadOrCreateIdentity reads the identity from storageDir, creating the
// files on first boot. explicitID, when non-empty, overrides and persists
// the server id; it must be a v4 UUID.
func LoadOrCreateIdentity(storageDir, explicitID string) (*Identity, error) {
	if err := os.MkdirAll(storageDir, 0o700); err != nil {
		return nil, fmt.Errorf("storage dir: %w", err)
	}

	sid, err := loadOrCreateServerID(filepath.Join(storageDir, serverIDFile), explicitID)
	if err != nil {
		return nil, err
	}

	key, err := crypto.LoadOrCreateKeypair(
		filepath.Join(storageDir, privKeyFile),
		filepath.Join(storageDir, pubKeyFile),
		crypto.DefaultKeyBits,
	)
	if err != nil {
		return nil, fmt.Errorf("node keypair: %w", err)
	}
	pubPEM, err := crypto.EncodePublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	return &Identity{ServerID: sid, Key: key, PubPEM: pubPEM}, nil
}

func loadOrCreateServerID(path, explicitID string) (string, error) {
	if explicitID != "" {
		if !wire.IsUUID4(explicitID) {
			return "", fmt.Errorf("server id %q is not a v4 UUID", explicitID)
		}
		if err := os.WriteFile(path, []byte(explicitID+"\n"), 0o600); err != nil {
			return "", err
		}
		return explicitID, nil
	}

	if raw, err := os.ReadFile(path); err == nil {
		sid := strings.TrimSpace(string(raw))
		if wire.IsUUID4(sid) {
			return sid, nil
		}
		return "", fmt.Errorf("corrupt server id file %s", path)
	}

	sid := uuid.NewString()
	if err := os.WriteFile(path, []byte(sid+"\n"), 0o600); err != nil {
		return "", err
	}
	return sid, nil
}
