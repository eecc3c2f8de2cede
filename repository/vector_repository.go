package repository

import (
	"context"
	"fmt"
	"strings"

	"lawsim-backend/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// VectorRepository performs nearest-neighbor search over chunk embeddings
// stored in pgvector. Cosine similarity, highest first.
type VectorRepository struct {
	db  *pgxpool.Pool
	dim int
}

// NewVectorRepository creates a new vector repository. dim is the expected
// embedding dimension; mismatched query vectors are rejected.
func NewVectorRepository(db *pgxpool.Pool, dim int) *VectorRepository {
	return &VectorRepository{db: db, dim: dim}
}

// formatVector formats an embedding vector as a string for pgx
func formatVector(embedding []float64) string {
	if len(embedding) == 0 {
		return "[]"
	}
	var parts []string
	for _, v := range embedding {
		parts = append(parts, fmt.Sprintf("%.6f", v))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Search returns the topK nearest chunks by cosine similarity.
func (r *VectorRepository) Search(ctx context.Context, embedding []float64, topK int) ([]models.VectorHit, error) {
	if len(embedding) != r.dim {
		return nil, fmt.Errorf("embedding must be %d dimensions, got %d", r.dim, len(embedding))
	}

	vectorStr := formatVector(embedding)

	query := `
		SELECT
			chunk_id,
			1 - (embedding <=> $1::vector) AS similarity
		FROM chunks
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1::vector
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, vectorStr, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	var hits []models.VectorHit
	for rows.Next() {
		var hit models.VectorHit
		if err := rows.Scan(&hit.ChunkID, &hit.Score); err != nil {
			return nil, fmt.Errorf("failed to scan vector hit: %w", err)
		}
		hits = append(hits, hit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vector hits: %w", err)
	}

	return hits, nil
}

// UpsertEmbedding stores the embedding for an already-inserted chunk.
func (r *VectorRepository) UpsertEmbedding(ctx context.Context, chunkID string, embedding []float64) error {
	if len(embedding) != r.dim {
		return fmt.Errorf("embedding must be %d dimensions, got %d", r.dim, len(embedding))
	}

	_, err := r.db.Exec(
		ctx,
		`UPDATE chunks SET embedding = $2::vector WHERE chunk_id = $1`,
		chunkID,
		formatVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}
