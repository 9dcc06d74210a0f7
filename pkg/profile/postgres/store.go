// Package postgres provides a profile.Store backed by PostgreSQL with the
// pgvector extension. Each row of speaker_embeddings is one reference vector;
// a speaker may have several.
//
// The store caches the last snapshot and re-queries only when the row count
// or max(updated_at) changes, so calling Profiles on every wake is cheap.
package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/sarvis/pkg/profile"
)

var _ profile.Store = (*Store)(nil)

// Store is a PostgreSQL-backed profile store. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool

	mu       sync.Mutex
	count    int64
	stamp    time.Time
	loaded   bool
	profiles []profile.Profile
}

// NewStore connects to dsn, registers pgvector types on every connection and
// runs [Migrate].
func NewStore(ctx context.Context, dsn string, dimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("profile store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("profile store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, dimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() { s.pool.Close() }

// Profiles implements profile.Store.
func (s *Store) Profiles(ctx context.Context) ([]profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		count int64
		stamp time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT count(*), coalesce(max(updated_at), 'epoch'::timestamptz) FROM speaker_embeddings`,
	).Scan(&count, &stamp)
	if err != nil {
		return s.profiles, fmt.Errorf("profile store: check version: %w", err)
	}
	if s.loaded && count == s.count && stamp.Equal(s.stamp) {
		return s.profiles, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT speaker_id, embedding FROM speaker_embeddings ORDER BY speaker_id, id`)
	if err != nil {
		return s.profiles, fmt.Errorf("profile store: query: %w", err)
	}
	defer rows.Close()

	byID := map[string][][]float32{}
	for rows.Next() {
		var (
			id  string
			vec pgvector.Vector
		)
		if err := rows.Scan(&id, &vec); err != nil {
			return s.profiles, fmt.Errorf("profile store: scan: %w", err)
		}
		byID[id] = append(byID[id], profile.Normalize(vec.Slice()))
	}
	if err := rows.Err(); err != nil {
		return s.profiles, fmt.Errorf("profile store: rows: %w", err)
	}

	s.profiles = profile.Collect(byID)
	s.count, s.stamp, s.loaded = count, stamp, true
	return s.profiles, nil
}

// Replace stores embeddings as the complete reference set for speakerID.
func (s *Store) Replace(ctx context.Context, speakerID string, embeddings [][]float32) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("profile store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM speaker_embeddings WHERE speaker_id = $1`, speakerID); err != nil {
		return fmt.Errorf("profile store: delete %s: %w", speakerID, err)
	}
	for _, e := range embeddings {
		if _, err := tx.Exec(ctx,
			`INSERT INTO speaker_embeddings (speaker_id, embedding) VALUES ($1, $2)`,
			speakerID, pgvector.NewVector(e),
		); err != nil {
			return fmt.Errorf("profile store: insert %s: %w", speakerID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("profile store: commit: %w", err)
	}
	return nil
}

// Delete removes every embedding of speakerID.
func (s *Store) Delete(ctx context.Context, speakerID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM speaker_embeddings WHERE speaker_id = $1`, speakerID); err != nil {
		return fmt.Errorf("profile store: delete %s: %w", speakerID, err)
	}
	return nil
}
