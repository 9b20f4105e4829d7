package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps records in process. With a TTL each record expires that
// long after its last read or write, which gives flow state the lifetime of
// a browser session.
type MemoryStore struct {
	items *cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryStore returns a store whose records expire after ttl of
// inactivity. ttl <= 0 keeps records until deleted.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	exp := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		exp = ttl
		cleanup = ttl / 2
		if cleanup < time.Second {
			cleanup = time.Second
		}
	}
	return &MemoryStore{items: cache.New(exp, cleanup), ttl: ttl, now: time.Now}
}

// Get implements Store. A hit extends the record's TTL.
func (s *MemoryStore) Get(_ context.Context, key string) (Record, error) {
	key, err := checkKey(key)
	if err != nil {
		return Record{}, err
	}
	v, ok := s.items.Get(key)
	if !ok {
		return Record{}, ErrNotFound
	}
	rec := v.(Record)
	if s.ttl > 0 {
		s.items.Set(key, rec, cache.DefaultExpiration)
	}
	return copyRecord(rec), nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, key string, value json.RawMessage) error {
	key, err := checkKey(key)
	if err != nil {
		return err
	}
	if err = checkValue(value); err != nil {
		return err
	}
	rec := Record{Key: key, Kind: KindOf(key), Value: value, UpdatedAt: s.now().UTC()}
	s.items.Set(key, copyRecord(rec), cache.DefaultExpiration)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	key, err := checkKey(key)
	if err != nil {
		return err
	}
	s.items.Delete(key)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]Record, error) {
	var out []Record
	for key, item := range s.items.Items() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, copyRecord(item.Object.(Record)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.items.Flush()
	return nil
}

func copyRecord(rec Record) Record {
	rec.Value = append(json.RawMessage(nil), rec.Value...)
	return rec
}
