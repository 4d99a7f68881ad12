// Package secrets supplies the wallet encryption key from the deployment's
// secret manager. Nothing here generates key material.
package secrets

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"custody-ledger/config"
	"custody-ledger/internal/core/ports"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var ErrNoKey = errors.New("no wallet encryption key configured")

// FileProvider reads a hex-encoded key from a file mounted by the secret
// manager. The file is read on every call so a rotated key is picked up
// without a restart.
type FileProvider struct {
	path string
}

// NewFileProvider creates a FileProvider for path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Key returns a fresh copy of the key; callers may zero it.
func (p *FileProvider) Key(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	defer clear(raw)
	return decodeKey(string(raw))
}

// StaticProvider holds a key injected through configuration, e.g. the
// CWL_KMS_KEY environment variable populated by the orchestrator.
type StaticProvider struct {
	key []byte
}

// NewStaticProvider decodes and validates the hex key.
func NewStaticProvider(hexKey string) (*StaticProvider, error) {
	key, err := decodeKey(hexKey)
	if err != nil {
		return nil, err
	}
	return &StaticProvider{key: key}, nil
}

// Key returns a copy of the key; callers may zero it.
func (p *StaticProvider) Key(ctx context.Context) ([]byte, error) {
	out := make([]byte, len(p.key))
	copy(out, p.key)
	return out, nil
}

// NewProvider builds the provider selected by kms.provider.
func NewProvider(cfg config.KMSConfig) (ports.SecretProvider, error) {
	switch cfg.Provider {
	case "file":
		if cfg.KeyFile == "" {
			return nil, fmt.Errorf("kms.key_file: %w", ErrNoKey)
		}
		return NewFileProvider(cfg.KeyFile), nil
	case "static":
		return NewStaticProvider(cfg.Key)
	default:
		return nil, fmt.Errorf("unsupported kms provider %q", cfg.Provider)
	}
}

func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrNoKey
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode key: not valid hex")
	}
	if len(key) != KeySize {
		clear(key)
		return nil, fmt.Errorf("decode key: want %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}
