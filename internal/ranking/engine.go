package ranking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/MikeSquared-Agency/quill/internal/retrieval"
)

// Selection stages: where a quote's rank came from.
const (
	StageOracleRanked   = "oracle_ranked"
	StageOracleFallback = "oracle_fallback"
)

var (
	// ErrOracleRequest marks a transport-level oracle failure. Transient.
	ErrOracleRequest = errors.New("oracle request failed")
	// ErrOracleMalformed marks a response the engine cannot trust: wrong
	// entry count, unknown id, or duplicate id. Treated like a request
	// failure.
	ErrOracleMalformed = errors.New("oracle response malformed")
)

// State identifies where the engine is in a ranking pass.
type State int

const (
	StateIdle State = iota
	StateBatching
	StateAwaitingOracle
	StateMerging
	StateRetrying
	StateFallingBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBatching:
		return "batching"
	case StateAwaitingOracle:
		return "awaiting_oracle"
	case StateMerging:
		return "merging"
	case StateRetrying:
		return "retrying"
	case StateFallingBack:
		return "falling_back"
	default:
		return "unknown"
	}
}

// RankedEntry is one line of an oracle's answer for a batch. Rank is relative
// to that batch only. Duplicate ranks are allowed and resolved by local score.
type RankedEntry struct {
	UtteranceID string
	Rank        int
	Reason      string
}

// Oracle ranks one batch of candidates against a question. Implementations
// must return exactly one entry per candidate.
type Oracle interface {
	RankBatch(ctx context.Context, question string, candidates []retrieval.Candidate) ([]RankedEntry, error)
}

// RankedQuote is one utterance's final position for a question. Rank 1 is
// best across the whole question, not just a batch.
type RankedQuote struct {
	UtteranceID    string
	Rank           int
	SelectionStage string
	Score          float64
	Reason         string
}

// BatchOutcome records how one batch resolved, for coverage accounting.
// Attempts counts oracle requests made for the batch.
type BatchOutcome struct {
	Batch    int
	Attempts int
	FellBack bool
	LastErr  string
}

// Config bounds the engine's behavior. Validate ranges at startup; the
// engine assumes they hold.
type Config struct {
	BatchSize    int
	MaxRetries   int
	BatchDelay   time.Duration
	FailureDelay time.Duration
}

// Engine ranks candidates through a batch-at-a-time oracle conversation:
//
//	Idle -> Batching -> AwaitingOracle -> (Merging | Retrying | FallingBack) -> Idle
//
// Batches run sequentially to respect external rate limits. A batch that
// exhausts its retries is ranked by local score instead; its candidates are
// never dropped, and other batches are unaffected.
type Engine struct {
	oracle  Oracle
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger

	mu    sync.Mutex
	state State
}

func NewEngine(oracle Oracle, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		oracle:  oracle,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.BatchDelay), 1),
		logger:  logger,
		state:   StateIdle,
	}
}

// State reports the engine's current position in the state machine. Safe to
// call from other goroutines while a Rank pass runs.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Rank produces the full per-question ordering plus a per-batch outcome log.
// Identical candidates and identical oracle behavior produce identical
// output: batches are sliced in input order and every tie-break is
// deterministic. On cancellation the already-merged prefix is returned with
// the context error.
func (e *Engine) Rank(ctx context.Context, question string, candidates []retrieval.Candidate) ([]RankedQuote, []BatchOutcome, error) {
	if len(candidates) == 0 {
		return nil, nil, nil
	}

	e.setState(StateBatching)
	defer e.setState(StateIdle)

	batches := slice(candidates, e.cfg.BatchSize)
	ranked := make([]RankedQuote, 0, len(candidates))
	outcomes := make([]BatchOutcome, 0, len(batches))

	for i, batch := range batches {
		quotes, outcome, err := e.rankBatch(ctx, question, i+1, batch)
		outcomes = append(outcomes, outcome)
		if err != nil {
			return ranked, outcomes, err
		}
		// Global ranks continue across batches, preserving batch order.
		for j := range quotes {
			quotes[j].Rank = len(ranked) + j + 1
		}
		ranked = append(ranked, quotes...)
	}

	return ranked, outcomes, nil
}

// rankBatch resolves one batch: oracle with retries, then local fallback.
// The returned quotes carry batch-local positions; Rank is assigned by the
// caller. The error is non-nil only on cancellation.
func (e *Engine) rankBatch(ctx context.Context, question string, batchNum int, batch []retrieval.Candidate) ([]RankedQuote, BatchOutcome, error) {
	outcome := BatchOutcome{Batch: batchNum}

	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, outcome, err
		}

		e.setState(StateAwaitingOracle)
		outcome.Attempts++
		entries, err := e.oracle.RankBatch(ctx, question, batch)
		if err == nil {
			err = validateEntries(batch, entries)
		}
		if err == nil {
			e.setState(StateMerging)
			return mergeBatch(batch, entries), outcome, nil
		}

		outcome.LastErr = err.Error()
		e.logger.Warn("batch ranking attempt failed",
			"batch", batchNum, "attempt", attempt, "error", err)

		if ctx.Err() != nil {
			return nil, outcome, ctx.Err()
		}
		if attempt == e.cfg.MaxRetries {
			break
		}
		e.setState(StateRetrying)
		if err := sleep(ctx, e.cfg.FailureDelay); err != nil {
			return nil, outcome, err
		}
	}

	// Retries exhausted: this batch degrades to local-score ranking. Every
	// candidate still receives a rank.
	e.setState(StateFallingBack)
	outcome.FellBack = true
	e.logger.Warn("batch fell back to local ranking", "batch", batchNum, "candidates", len(batch))
	return fallbackBatch(batch), outcome, nil
}

// validateEntries rejects any oracle answer the engine cannot merge safely.
func validateEntries(batch []retrieval.Candidate, entries []RankedEntry) error {
	if len(entries) != len(batch) {
		return fmt.Errorf("%w: got %d entries for %d candidates", ErrOracleMalformed, len(entries), len(batch))
	}
	known := make(map[string]bool, len(batch))
	for _, c := range batch {
		known[c.UtteranceID] = true
	}
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if !known[entry.UtteranceID] {
			return fmt.Errorf("%w: unknown id %q", ErrOracleMalformed, entry.UtteranceID)
		}
		if seen[entry.UtteranceID] {
			return fmt.Errorf("%w: duplicate id %q", ErrOracleMalformed, entry.UtteranceID)
		}
		seen[entry.UtteranceID] = true
	}
	return nil
}

// mergeBatch orders a validated oracle answer. Duplicate oracle ranks are
// broken by descending local score, then by id.
func mergeBatch(batch []retrieval.Candidate, entries []RankedEntry) []RankedQuote {
	byID := make(map[string]retrieval.Candidate, len(batch))
	for _, c := range batch {
		byID[c.UtteranceID] = c
	}

	sorted := make([]RankedEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Rank != sorted[j].Rank {
			return sorted[i].Rank < sorted[j].Rank
		}
		si, sj := byID[sorted[i].UtteranceID].LocalScore, byID[sorted[j].UtteranceID].LocalScore
		if si != sj {
			return si > sj
		}
		return sorted[i].UtteranceID < sorted[j].UtteranceID
	})

	quotes := make([]RankedQuote, len(sorted))
	for i, entry := range sorted {
		quotes[i] = RankedQuote{
			UtteranceID:    entry.UtteranceID,
			SelectionStage: StageOracleRanked,
			Score:          byID[entry.UtteranceID].LocalScore,
			Reason:         entry.Reason,
		}
	}
	return quotes
}

func fallbackBatch(batch []retrieval.Candidate) []RankedQuote {
	sorted := make([]retrieval.Candidate, len(batch))
	copy(sorted, batch)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].LocalScore != sorted[j].LocalScore {
			return sorted[i].LocalScore > sorted[j].LocalScore
		}
		return sorted[i].UtteranceID < sorted[j].UtteranceID
	})

	quotes := make([]RankedQuote, len(sorted))
	for i, c := range sorted {
		quotes[i] = RankedQuote{
			UtteranceID:    c.UtteranceID,
			SelectionStage: StageOracleFallback,
			Score:          c.LocalScore,
		}
	}
	return quotes
}

func slice(candidates []retrieval.Candidate, size int) [][]retrieval.Candidate {
	var batches [][]retrieval.Candidate
	for start := 0; start < len(candidates); start += size {
		end := start + size
		if end > len(candidates) {
			end = len(candidates)
		}
		batches = append(batches, candidates[start:end])
	}
	return batches
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
