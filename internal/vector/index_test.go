package vector_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/tobfr/verbatim/internal/store"
	"github.com/tobfr/verbatim/internal/vector"
)

const testDim = 4

func newTestIndex(t *testing.T) (*vector.Index, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("VERBATIM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VERBATIM_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	ctx := context.Background()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS voice_embeddings CASCADE"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if err := store.Migrate(ctx, pool, testDim); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return vector.New(pool, testDim), pool
}

func TestUpsertAndKNN(t *testing.T) {
	ix, _ := newTestIndex(t)
	ctx := context.Background()
	user := uuid.New()

	// Three speakers; a and b point the same way, c is orthogonal.
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	put := func(id uuid.UUID, emb []float32) {
		t.Helper()
		if err := ix.Upsert(ctx, id, vector.OwnerSpeaker, user, emb); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	put(a, []float32{1, 0, 0, 0})
	put(b, []float32{0.9, 0.1, 0, 0})
	put(c, []float32{0, 0, 1, 0})

	// Probe with a's embedding, excluding a itself.
	got, err := ix.KNN(ctx, user, vector.OwnerSpeaker, []float32{1, 0, 0, 0}, 10, []uuid.UUID{a})
	if err != nil {
		t.Fatalf("knn: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].OwnerID != b {
		t.Errorf("nearest = %s, want b", got[0].OwnerID)
	}
	if got[0].Similarity < 0.9 {
		t.Errorf("similarity to b = %g, want > 0.9", got[0].Similarity)
	}
	if got[1].OwnerID != c || got[1].Similarity > 0.1 {
		t.Errorf("second = %s sim %g, want c with near-zero similarity", got[1].OwnerID, got[1].Similarity)
	}
}

func TestKNN_UserScoped(t *testing.T) {
	ix, _ := newTestIndex(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	theirs := uuid.New()
	if err := ix.Upsert(ctx, theirs, vector.OwnerSpeaker, bob, []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := ix.KNN(ctx, alice, vector.OwnerSpeaker, []float32{1, 0, 0, 0}, 10, nil)
	if err != nil {
		t.Fatalf("knn: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0 — another user's embeddings leaked", len(got))
	}
}

func TestCount_SeparatesPopulations(t *testing.T) {
	ix, _ := newTestIndex(t)
	ctx := context.Background()
	user := uuid.New()

	if err := ix.Upsert(ctx, uuid.New(), vector.OwnerSpeaker, user, []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	n, err := ix.Count(ctx, user, vector.OwnerProfile)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("profile count = %d, want 0", n)
	}
	n, err = ix.Count(ctx, user, vector.OwnerSpeaker)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("speaker count = %d, want 1", n)
	}
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	ix, _ := newTestIndex(t)
	ctx := context.Background()

	err := ix.Upsert(ctx, uuid.New(), vector.OwnerSpeaker, uuid.New(), []float32{1, 0})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestGetAndDelete(t *testing.T) {
	ix, _ := newTestIndex(t)
	ctx := context.Background()
	user, owner := uuid.New(), uuid.New()

	if err := ix.Upsert(ctx, owner, vector.OwnerProfile, user, []float32{0, 1, 0, 0}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	emb, err := ix.Get(ctx, owner, vector.OwnerProfile)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(emb) != testDim || emb[1] != 1 {
		t.Errorf("embedding = %v, want unit y", emb)
	}

	if err := ix.Delete(ctx, owner, vector.OwnerProfile); err != nil {
		t.Fatalf("delete: %v", err)
	}
	emb, err = ix.Get(ctx, owner, vector.OwnerProfile)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if emb != nil {
		t.Errorf("embedding after delete = %v, want nil", emb)
	}
}
