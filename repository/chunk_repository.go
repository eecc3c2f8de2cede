package repository

import (
	"context"
	"errors"
	"fmt"

	"lawsim-backend/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrChunkNotFound is returned when a chunk id has no stored metadata.
var ErrChunkNotFound = errors.New("chunk not found")

// ChunkRepository handles database operations for knowledge chunks
type ChunkRepository struct {
	db *pgxpool.Pool
}

// NewChunkRepository creates a new chunk repository
func NewChunkRepository(db *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// GetByID retrieves a single chunk by its id
func (r *ChunkRepository) GetByID(ctx context.Context, chunkID string) (*models.RetrievedChunk, error) {
	query := `
		SELECT chunk_id, chunk_text, law_name, article_no, section, tags, source
		FROM chunks
		WHERE chunk_id = $1`

	chunk := &models.RetrievedChunk{}
	err := r.db.QueryRow(ctx, query, chunkID).Scan(
		&chunk.ChunkID,
		&chunk.Text,
		&chunk.LawName,
		&chunk.ArticleNo,
		&chunk.Section,
		&chunk.Tags,
		&chunk.Source,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChunkNotFound
		}
		return nil, fmt.Errorf("failed to query chunk: %w", err)
	}

	return chunk, nil
}

// GetByIDs batch-fetches chunk metadata. Ids with no stored metadata are
// simply absent from the returned map; index/store drift is tolerated.
func (r *ChunkRepository) GetByIDs(ctx context.Context, chunkIDs []string) (map[string]models.RetrievedChunk, error) {
	if len(chunkIDs) == 0 {
		return map[string]models.RetrievedChunk{}, nil
	}

	query := `
		SELECT chunk_id, chunk_text, law_name, article_no, section, tags, source
		FROM chunks
		WHERE chunk_id = ANY($1)`

	rows, err := r.db.Query(ctx, query, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	found := make(map[string]models.RetrievedChunk, len(chunkIDs))
	for rows.Next() {
		var chunk models.RetrievedChunk
		err := rows.Scan(
			&chunk.ChunkID,
			&chunk.Text,
			&chunk.LawName,
			&chunk.ArticleNo,
			&chunk.Section,
			&chunk.Tags,
			&chunk.Source,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		found[chunk.ChunkID] = chunk
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	return found, nil
}

// Upsert stores chunk metadata, replacing any previous row for the id.
// Used by the ingestion tool.
func (r *ChunkRepository) Upsert(ctx context.Context, chunk *models.RetrievedChunk) error {
	query := `
		INSERT INTO chunks (chunk_id, chunk_text, law_name, article_no, section, tags, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chunk_id) DO UPDATE SET
			chunk_text = EXCLUDED.chunk_text,
			law_name = EXCLUDED.law_name,
			article_no = EXCLUDED.article_no,
			section = EXCLUDED.section,
			tags = EXCLUDED.tags,
			source = EXCLUDED.source`

	_, err := r.db.Exec(
		ctx, query,
		chunk.ChunkID,
		chunk.Text,
		chunk.LawName,
		chunk.ArticleNo,
		chunk.Section,
		chunk.Tags,
		chunk.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}
	return nil
}
