package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/sarvis/pkg/profile/postgres"
)

const testDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if SARVIS_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("SARVIS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SARVIS_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS speaker_embeddings CASCADE"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	pool.Close()

	s, err := postgres.NewStore(ctx, dsn, testDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStore_Empty(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Profiles(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestStore_ReplaceAndReload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Replace(ctx, "u1", [][]float32{{2, 0, 0, 0}, {0, 3, 0, 0}}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	got, err := s.Profiles(ctx)
	if err != nil {
		t.Fatalf("Profiles: %v", err)
	}
	if len(got) != 1 || got[0].SpeakerID != "u1" || len(got[0].Embeddings) != 2 {
		t.Fatalf("got %+v", got)
	}
	if e := got[0].Embeddings[0]; e[0] < 0.999 {
		t.Errorf("embedding not normalised: %v", e)
	}

	if err := s.Replace(ctx, "u2", [][]float32{{0, 0, 1, 0}}); err != nil {
		t.Fatalf("Replace u2: %v", err)
	}
	got, _ = s.Profiles(ctx)
	if len(got) != 2 || got[1].SpeakerID != "u2" {
		t.Fatalf("after second speaker: %+v", got)
	}

	if err := s.Delete(ctx, "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, _ = s.Profiles(ctx)
	if len(got) != 1 || got[0].SpeakerID != "u2" {
		t.Fatalf("after delete: %+v", got)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	newTestStore(t)
	s, err := postgres.NewStore(context.Background(), testDSN(t), testDim)
	if err != nil {
		t.Fatalf("second NewStore: %v", err)
	}
	s.Close()
}
