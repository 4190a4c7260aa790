// Package vector provides the voice embedding index backed by the pgvector
// voice_embeddings table. It serves two populations through one HNSW index:
// per-speaker embeddings ([OwnerSpeaker]) and consolidated profile embeddings
// ([OwnerProfile]).
//
// Similarity is cosine: the stored operator class is vector_cosine_ops and
// queries use the <=> distance operator, so Similarity = 1 - distance.
package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// OwnerType distinguishes the two embedding populations.
type OwnerType string

const (
	// OwnerSpeaker marks a per-file speaker embedding.
	OwnerSpeaker OwnerType = "speaker"

	// OwnerProfile marks a consolidated profile embedding.
	OwnerProfile OwnerType = "profile"
)

// Neighbor is one kNN result.
type Neighbor struct {
	OwnerID uuid.UUID
	// Similarity is cosine similarity in [-1,1]; higher is more similar.
	Similarity float64
}

// Index reads and writes voice embeddings. All methods are safe for
// concurrent use.
type Index struct {
	pool *pgxpool.Pool
	dim  int
}

// New creates an Index over the given pool. dim is the embedding dimension
// enforced on writes; it must match the migrated column type.
func New(pool *pgxpool.Pool, dim int) *Index {
	return &Index{pool: pool, dim: dim}
}

// Upsert stores the embedding for an owner, replacing any previous value.
func (ix *Index) Upsert(ctx context.Context, ownerID uuid.UUID, ownerType OwnerType, userID uuid.UUID, embedding []float32) error {
	if len(embedding) != ix.dim {
		return fmt.Errorf("vector index: embedding has %d dimensions, want %d", len(embedding), ix.dim)
	}

	const q = `
		INSERT INTO voice_embeddings (owner_id, owner_type, user_id, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id, owner_type) DO UPDATE SET
		    embedding  = EXCLUDED.embedding,
		    updated_at = now()`

	if _, err := ix.pool.Exec(ctx, q, ownerID, ownerType, userID, pgvector.NewVector(embedding)); err != nil {
		return fmt.Errorf("vector index: upsert: %w", err)
	}
	return nil
}

// Get returns the stored embedding for an owner, or nil when none exists.
func (ix *Index) Get(ctx context.Context, ownerID uuid.UUID, ownerType OwnerType) ([]float32, error) {
	const q = `SELECT embedding FROM voice_embeddings WHERE owner_id = $1 AND owner_type = $2`

	var vec pgvector.Vector
	err := ix.pool.QueryRow(ctx, q, ownerID, ownerType).Scan(&vec)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vector index: get: %w", err)
	}
	return vec.Slice(), nil
}

// MGet returns the stored embeddings of several owners of one type, keyed by
// owner ID. Owners without an embedding are absent from the result.
func (ix *Index) MGet(ctx context.Context, ownerIDs []uuid.UUID, ownerType OwnerType) (map[uuid.UUID][]float32, error) {
	const q = `
		SELECT owner_id, embedding
		FROM   voice_embeddings
		WHERE  owner_id = ANY($1) AND owner_type = $2`

	rows, err := ix.pool.Query(ctx, q, ownerIDs, ownerType)
	if err != nil {
		return nil, fmt.Errorf("vector index: mget: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]float32, len(ownerIDs))
	for rows.Next() {
		var (
			id  uuid.UUID
			vec pgvector.Vector
		)
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("vector index: scan: %w", err)
		}
		out[id] = vec.Slice()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector index: rows: %w", err)
	}
	return out, nil
}

// Delete removes an owner's embedding. Missing rows are not an error.
func (ix *Index) Delete(ctx context.Context, ownerID uuid.UUID, ownerType OwnerType) error {
	_, err := ix.pool.Exec(ctx,
		`DELETE FROM voice_embeddings WHERE owner_id = $1 AND owner_type = $2`,
		ownerID, ownerType)
	if err != nil {
		return fmt.Errorf("vector index: delete: %w", err)
	}
	return nil
}

// KNN finds the topK nearest owners of the given type among one user's
// embeddings, excluding the owners in exclude (typically the probe speaker
// itself and its file-mates). Results are ordered by descending similarity.
func (ix *Index) KNN(ctx context.Context, userID uuid.UUID, ownerType OwnerType, embedding []float32, topK int, exclude []uuid.UUID) ([]Neighbor, error) {
	if len(embedding) != ix.dim {
		return nil, fmt.Errorf("vector index: probe has %d dimensions, want %d", len(embedding), ix.dim)
	}
	if exclude == nil {
		exclude = []uuid.UUID{}
	}

	const q = `
		SELECT owner_id, 1 - (embedding <=> $1) AS similarity
		FROM   voice_embeddings
		WHERE  user_id = $2
		  AND  owner_type = $3
		  AND  NOT (owner_id = ANY($4))
		ORDER  BY embedding <=> $1
		LIMIT  $5`

	rows, err := ix.pool.Query(ctx, q,
		pgvector.NewVector(embedding), userID, ownerType, exclude, topK)
	if err != nil {
		return nil, fmt.Errorf("vector index: knn: %w", err)
	}

	neighbors, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Neighbor, error) {
		var n Neighbor
		err := row.Scan(&n.OwnerID, &n.Similarity)
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("vector index: scan rows: %w", err)
	}
	if neighbors == nil {
		neighbors = []Neighbor{}
	}
	return neighbors, nil
}

// Count returns how many embeddings of the given type a user has. Profile
// matching probes this first: running a kNN against an empty profile
// population wastes a round trip and, worse, an accidental unfiltered query
// could match across users.
func (ix *Index) Count(ctx context.Context, userID uuid.UUID, ownerType OwnerType) (int, error) {
	const q = `SELECT count(*) FROM voice_embeddings WHERE user_id = $1 AND owner_type = $2`

	var n int
	if err := ix.pool.QueryRow(ctx, q, userID, ownerType).Scan(&n); err != nil {
		return 0, fmt.Errorf("vector index: count: %w", err)
	}
	return n, nil
}
