package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const fileExt = ".json"

// FileStore keeps one JSON file per key in a private directory.
type FileStore struct {
	dir string
	mu  sync.RWMutex
	now func() time.Time
}

// NewFileStore creates dir with 0700 permissions if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("store: file store directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("store: failed to create directory: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Dir returns the directory holding the files.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, url.QueryEscape(key)+fileExt)
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, key string) (Record, error) {
	key, err := checkKey(key)
	if err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(s.path(key))
}

func (s *FileStore) read(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("store: failed to read %s: %w", filepath.Base(path), err)
	}
	var rec Record
	if err = json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("store: corrupt file %s: %w", filepath.Base(path), err)
	}
	// undo the indentation applied on write
	var compact bytes.Buffer
	if err = json.Compact(&compact, rec.Value); err == nil {
		rec.Value = compact.Bytes()
	}
	return rec, nil
}

// Put implements Store. Files are written to a temp file and renamed.
func (s *FileStore) Put(_ context.Context, key string, value json.RawMessage) error {
	key, err := checkKey(key)
	if err != nil {
		return err
	}
	if err = checkValue(value); err != nil {
		return err
	}
	rec := Record{Key: key, Kind: KindOf(key), Value: value, UpdatedAt: s.now().UTC()}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("store: failed to encode record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("store: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: failed to write record: %w", err)
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: failed to write record: %w", err)
	}
	if err = os.Chmod(tmpName, 0600); err != nil {
		log.Debugf("store: chmod %s: %v", tmpName, err)
	}
	if err = os.Rename(tmpName, s.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: failed to save record: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, key string) error {
	key, err := checkKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err = os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("store: failed to delete record: %w", err)
	}
	return nil
}

// List implements Store. Unreadable files are skipped with a warning.
func (s *FileStore) List(_ context.Context, prefix string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: failed to list directory: %w", err)
	}
	var out []Record
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		key, errKey := url.QueryUnescape(strings.TrimSuffix(name, fileExt))
		if errKey != nil || !strings.HasPrefix(key, prefix) {
			continue
		}
		rec, errRead := s.read(filepath.Join(s.dir, name))
		if errRead != nil {
			log.Warnf("store: skipping %s: %v", name, errRead)
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}
