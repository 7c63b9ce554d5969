package store

import (
	"context"
	"fmt"

	"github.com/MikeSquared-Agency/quill/internal/index"
)

// VectorIndex implements index.Index over a pgvector column, for deployments
// where the ranking pipeline and its data share a Postgres instance. The
// collection configuration is pinned at construction; a writer and a reader
// built from the same config can never disagree on metric or dimensionality.
type VectorIndex struct {
	store *Store
	cfg   index.CollectionConfig
}

func NewVectorIndex(store *Store, cfg index.CollectionConfig) *VectorIndex {
	return &VectorIndex{store: store, cfg: cfg}
}

func (v *VectorIndex) Upsert(ctx context.Context, id string, vector []float32, meta index.Metadata) error {
	if len(vector) != v.cfg.Dimensions {
		return fmt.Errorf("vector for %s has %d dimensions, collection expects %d", id, len(vector), v.cfg.Dimensions)
	}

	_, err := v.store.pool.Exec(ctx, `
		INSERT INTO indexed_quotes (utterance_id, embedding, role, transcript_id, position, context_ids)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (utterance_id) DO UPDATE
		SET embedding = $2, role = $3, transcript_id = $4, position = $5, context_ids = $6`,
		id, pgVector(vector), meta.Role, meta.TranscriptID, meta.Position, meta.ContextIDs,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert vector: %v", index.ErrUnavailable, err)
	}
	return nil
}

// Query ranks by cosine similarity. pgvector's <=> operator is cosine
// distance in [0, 2]; similarity = 1 - distance/2 maps it to [0, 1], the
// same scale the memory backend reports.
func (v *VectorIndex) Query(ctx context.Context, vector []float32, k int, filter index.Filter) ([]index.Result, error) {
	if len(vector) != v.cfg.Dimensions {
		return nil, fmt.Errorf("query vector has %d dimensions, collection expects %d", len(vector), v.cfg.Dimensions)
	}

	query := `
		SELECT utterance_id, 1 - (embedding <=> $1::vector) / 2 AS similarity
		FROM indexed_quotes`
	args := []any{pgVector(vector)}

	where := ""
	if filter.Role != "" {
		args = append(args, filter.Role)
		where = fmt.Sprintf(" WHERE role = $%d", len(args))
	}
	if filter.TranscriptID != "" {
		args = append(args, filter.TranscriptID)
		if where == "" {
			where = fmt.Sprintf(" WHERE transcript_id = $%d", len(args))
		} else {
			where += fmt.Sprintf(" AND transcript_id = $%d", len(args))
		}
	}
	args = append(args, k)
	query += where + fmt.Sprintf(" ORDER BY embedding <=> $1::vector, utterance_id LIMIT $%d", len(args))

	rows, err := v.store.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query vectors: %v", index.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []index.Result
	for rows.Next() {
		var r index.Result
		if err := rows.Scan(&r.ID, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scan vector result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
