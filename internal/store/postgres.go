package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS playground_records (
	key        TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// PostgresStore keeps records in a shared Postgres table so several
// playground instances see the same credentials.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// OpenPostgres connects to dsn and creates the table if needed.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("store: postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	if _, err = pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: create postgres schema: %w", err)
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, key string) (Record, error) {
	key, err := checkKey(key)
	if err != nil {
		return Record{}, err
	}
	var (
		rec   Record
		value []byte
	)
	err = s.pool.QueryRow(ctx, `SELECT key, kind, value, updated_at FROM playground_records WHERE key = $1`, key).
		Scan(&rec.Key, &rec.Kind, &value, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("store: get %s: %w", key, err)
	}
	rec.Value = json.RawMessage(value)
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

// Put implements Store.
func (s *PostgresStore) Put(ctx context.Context, key string, value json.RawMessage) error {
	key, err := checkKey(key)
	if err != nil {
		return err
	}
	if err = checkValue(value); err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO playground_records (key, kind, value, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET kind = EXCLUDED.kind, value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, KindOf(key), string(value), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	key, err := checkKey(key)
	if err != nil {
		return err
	}
	if _, err = s.pool.Exec(ctx, `DELETE FROM playground_records WHERE key = $1`, key); err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, prefix string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, kind, value, updated_at FROM playground_records WHERE key LIKE $1 ESCAPE '\' ORDER BY key`,
		likePrefix(prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("store: list %q: %w", prefix, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec   Record
			value []byte
		)
		if err = rows.Scan(&rec.Key, &rec.Kind, &value, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan record: %w", err)
		}
		rec.Value = json.RawMessage(value)
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}
