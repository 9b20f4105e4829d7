// Package store persists credentials and per-session flow state. It replaces
// the browser's localStorage (credentials that survive restarts) and
// sessionStorage (flow state scoped to one browser session).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/flowlab/oauth-playground/internal/config"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("store: not found")

// ErrEmptyKey is returned for a blank key.
var ErrEmptyKey = errors.New("store: key is required")

// Record is one stored value.
type Record struct {
	Key       string          `json:"key"`
	Kind      string          `json:"kind"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store is a flat key/value store of JSON documents.
type Store interface {
	Get(ctx context.Context, key string) (Record, error)
	// Put overwrites any existing value.
	Put(ctx context.Context, key string, value json.RawMessage) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns the records whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Record, error)
	Close() error
}

// KindOf returns the key segment before the first colon.
func KindOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}

func checkKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrEmptyKey
	}
	return key, nil
}

func checkValue(value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("store: value is not valid JSON")
	}
	return nil
}

// Open returns the persistent store selected by cfg.Storage.Backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("store: nil config")
	}
	switch cfg.Storage.Backend {
	case config.BackendFile, "":
		return NewFileStore(filepath.Join(cfg.StateDir, "state"))
	case config.BackendSQLite:
		return OpenSQLite(ctx, cfg.Storage.DSN)
	case config.BackendPostgres:
		return OpenPostgres(ctx, cfg.Storage.DSN)
	case config.BackendMemory:
		return NewMemoryStore(0), nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Storage.Backend)
	}
}

// OpenVault opens the configured persistent store and an in-memory session
// store whose entries expire after cfg.Storage.SessionTTLMinutes of inactivity.
func OpenVault(ctx context.Context, cfg *config.Config) (*Vault, error) {
	persistent, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ttl := time.Duration(cfg.Storage.SessionTTLMinutes) * time.Minute
	return NewVault(persistent, NewMemoryStore(ttl)), nil
}
