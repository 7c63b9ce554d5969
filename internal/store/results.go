package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/quill/internal/coverage"
	"github.com/MikeSquared-Agency/quill/internal/ranking"
)

// WriteRankedQuotes persists one question's final ordering for a run.
func (s *Store) WriteRankedQuotes(ctx context.Context, runID uuid.UUID, questionID string, quotes []ranking.RankedQuote) error {
	for _, q := range quotes {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO ranked_quotes (run_id, question_id, utterance_id, rank, selection_stage, score, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			runID, questionID, q.UtteranceID, q.Rank, q.SelectionStage, q.Score, q.Reason,
		)
		if err != nil {
			return fmt.Errorf("insert ranked quote %s: %w", q.UtteranceID, err)
		}
	}
	return nil
}

// WriteCoverage persists one question's coverage stats for a run.
func (s *Store) WriteCoverage(ctx context.Context, runID uuid.UUID, stats coverage.Stats) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO coverage_stats (run_id, question_id, candidates_considered, oracle_ranked, oracle_fallback, batches_attempted, batches_failed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		runID, stats.QuestionID, stats.CandidatesConsidered, stats.OracleRanked, stats.OracleFallback, stats.BatchesAttempted, stats.BatchesFailed,
	)
	if err != nil {
		return fmt.Errorf("insert coverage stats: %w", err)
	}
	return nil
}

// ListRankedQuotes returns a question's ordering for a run, best first.
func (s *Store) ListRankedQuotes(ctx context.Context, runID uuid.UUID, questionID string) ([]ranking.RankedQuote, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT utterance_id, rank, selection_stage, score, reason
		FROM ranked_quotes WHERE run_id = $1 AND question_id = $2 ORDER BY rank`,
		runID, questionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list ranked quotes: %w", err)
	}
	defer rows.Close()

	var out []ranking.RankedQuote
	for rows.Next() {
		var q ranking.RankedQuote
		if err := rows.Scan(&q.UtteranceID, &q.Rank, &q.SelectionStage, &q.Score, &q.Reason); err != nil {
			return nil, fmt.Errorf("scan ranked quote: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
