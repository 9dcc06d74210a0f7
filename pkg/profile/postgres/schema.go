package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSpeakerEmbeddings = `
CREATE TABLE IF NOT EXISTS speaker_embeddings (
    id          BIGSERIAL    PRIMARY KEY,
    speaker_id  TEXT         NOT NULL,
    embedding   vector(%d)   NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_speaker_embeddings_speaker
    ON speaker_embeddings (speaker_id);
`

// Migrate creates the pgvector extension and the speaker_embeddings table.
// It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", dimensions)
	}
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create extension vector: %w", err)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(ddlSpeakerEmbeddings, dimensions)); err != nil {
		return fmt.Errorf("create speaker_embeddings: %w", err)
	}
	return nil
}
