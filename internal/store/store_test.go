package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowlab/oauth-playground/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

func backends(t *testing.T) map[string]storeFactory {
	t.Helper()
	out := map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore(0) },
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "state"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "playground.db"))
			require.NoError(t, err)
			return s
		},
	}
	if dsn := os.Getenv("PLAYGROUND_TEST_POSTGRES_DSN"); dsn != "" {
		out["postgres"] = func(t *testing.T) Store {
			s, err := OpenPostgres(context.Background(), dsn)
			require.NoError(t, err)
			ctx := context.Background()
			recs, _ := s.List(ctx, "")
			for _, r := range recs {
				_ = s.Delete(ctx, r.Key)
			}
			return s
		}
	}
	return out
}

func TestStoreContract(t *testing.T) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer func() { require.NoError(t, s.Close()) }()
			ctx := context.Background()

			_, err := s.Get(ctx, "credentials:pkce")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put(ctx, "credentials:pkce", json.RawMessage(`{"client_id":"a"}`)))
			rec, err := s.Get(ctx, "credentials:pkce")
			require.NoError(t, err)
			assert.Equal(t, "credentials:pkce", rec.Key)
			assert.Equal(t, "credentials", rec.Kind)
			assert.JSONEq(t, `{"client_id":"a"}`, string(rec.Value))
			assert.False(t, rec.UpdatedAt.IsZero())

			require.NoError(t, s.Put(ctx, "credentials:pkce", json.RawMessage(`{"client_id":"b"}`)))
			rec, err = s.Get(ctx, "credentials:pkce")
			require.NoError(t, err)
			assert.JSONEq(t, `{"client_id":"b"}`, string(rec.Value))

			require.NoError(t, s.Put(ctx, "flow:s1:pkce", json.RawMessage(`{}`)))
			require.NoError(t, s.Put(ctx, "flow:s1:device", json.RawMessage(`{}`)))
			require.NoError(t, s.Put(ctx, "flow:s2:pkce", json.RawMessage(`{}`)))
			require.NoError(t, s.Put(ctx, "flow:s1_x:pkce", json.RawMessage(`{}`)))

			recs, err := s.List(ctx, "flow:s1:")
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, "flow:s1:device", recs[0].Key)
			assert.Equal(t, "flow:s1:pkce", recs[1].Key)

			all, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 5)

			require.NoError(t, s.Delete(ctx, "flow:s1:pkce"))
			require.NoError(t, s.Delete(ctx, "flow:s1:pkce"))
			_, err = s.Get(ctx, "flow:s1:pkce")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.ErrorIs(t, s.Put(ctx, " ", json.RawMessage(`{}`)), ErrEmptyKey)
			assert.Error(t, s.Put(ctx, "k", json.RawMessage(`{not json`)))
		})
	}
}

func TestFileStore_Permissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "credentials:par", json.RawMessage(`{"client_secret":"x"}`)))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "credentials%3Apar.json", entries[0].Name())
	fi, err := entries[0].Info()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())
}

func TestFileStore_SkipsCorruptFiles(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "flow:s:pkce", json.RawMessage(`{}`)))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "flow%3As%3Adevice.json"), []byte("garbage"), 0600))

	recs, err := s.List(context.Background(), "flow:")
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	_, err = s.Get(context.Background(), "flow:s:device")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStore_TTL(t *testing.T) {
	s := NewMemoryStore(50 * time.Millisecond)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "flow:s:pkce", json.RawMessage(`{}`)))

	_, err := s.Get(ctx, "flow:s:pkce")
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)
	_, err = s.Get(ctx, "flow:s:pkce")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	value := json.RawMessage(`{"a":1}`)
	require.NoError(t, s.Put(ctx, "k", value))
	value[2] = 'b'

	rec, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(rec.Value))
}

func TestSQLiteStore_LikeEscaping(t *testing.T) {
	s, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "flow:a%b:pkce", json.RawMessage(`{}`)))
	require.NoError(t, s.Put(ctx, "flow:axb:pkce", json.RawMessage(`{}`)))

	recs, err := s.List(ctx, "flow:a%b:")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "flow:a%b:pkce", recs[0].Key)
}

func TestOpen(t *testing.T) {
	tests := []struct {
		backend string
		want    interface{}
		wantErr bool
	}{
		{config.BackendFile, &FileStore{}, false},
		{config.BackendSQLite, &SQLiteStore{}, false},
		{config.BackendMemory, &MemoryStore{}, false},
		{config.BackendPostgres, nil, true},
		{"redis", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := &config.Config{StateDir: t.TempDir()}
			cfg.Storage.Backend = tt.backend
			if tt.backend == config.BackendSQLite {
				cfg.Storage.DSN = filepath.Join(cfg.StateDir, "playground.db")
			}
			s, err := Open(context.Background(), cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer func() { _ = s.Close() }()
			assert.IsType(t, tt.want, s)
		})
	}

	_, err := Open(context.Background(), nil)
	assert.Error(t, err)
}
