package ranking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/quill/internal/retrieval"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(batchSize int) Config {
	return Config{
		BatchSize:    batchSize,
		MaxRetries:   3,
		BatchDelay:   time.Millisecond,
		FailureDelay: 2 * time.Millisecond,
	}
}

func makeCandidates(n int) []retrieval.Candidate {
	out := make([]retrieval.Candidate, n)
	for i := range out {
		out[i] = retrieval.Candidate{
			UtteranceID: fmt.Sprintf("u%02d", i+1),
			Text:        fmt.Sprintf("candidate %d", i+1),
			LocalScore:  float64(n - i),
		}
	}
	return out
}

// scriptedOracle runs fn per request, counting calls.
type scriptedOracle struct {
	calls int
	fn    func(call int, batch []retrieval.Candidate) ([]RankedEntry, error)
}

func (s *scriptedOracle) RankBatch(ctx context.Context, question string, batch []retrieval.Candidate) ([]RankedEntry, error) {
	s.calls++
	return s.fn(s.calls, batch)
}

// identity ranks a batch in its input order.
func identity(batch []retrieval.Candidate) []RankedEntry {
	entries := make([]RankedEntry, len(batch))
	for i, c := range batch {
		entries[i] = RankedEntry{UtteranceID: c.UtteranceID, Rank: i + 1}
	}
	return entries
}

func TestRank_OneRequestPerBatch(t *testing.T) {
	oracle := &scriptedOracle{fn: func(_ int, batch []retrieval.Candidate) ([]RankedEntry, error) {
		return identity(batch), nil
	}}
	engine := NewEngine(oracle, testConfig(10), testLogger())

	quotes, outcomes, err := engine.Rank(context.Background(), "q", makeCandidates(25))
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if oracle.calls != 3 {
		t.Errorf("expected ceil(25/10)=3 oracle requests, got %d", oracle.calls)
	}
	if len(quotes) != 25 {
		t.Errorf("expected 25 ranked quotes, got %d", len(quotes))
	}
	if len(outcomes) != 3 {
		t.Errorf("expected 3 batch outcomes, got %d", len(outcomes))
	}
	for i, q := range quotes {
		if q.Rank != i+1 {
			t.Fatalf("ranks must be contiguous from 1, got %d at position %d", q.Rank, i)
		}
		if q.SelectionStage != StageOracleRanked {
			t.Errorf("quote %s should be oracle_ranked, got %s", q.UtteranceID, q.SelectionStage)
		}
	}
}

func TestRank_BatchFailsTwiceThenSucceeds(t *testing.T) {
	// 30 candidates, batch size 10: batch 2 fails twice, succeeds third try.
	// Total requests: 1 + 3 + 1 = 5, no batch falls back.
	batch2Calls := 0
	oracle := &scriptedOracle{fn: func(_ int, batch []retrieval.Candidate) ([]RankedEntry, error) {
		if batch[0].UtteranceID == "u11" {
			batch2Calls++
			if batch2Calls <= 2 {
				return nil, ErrOracleRequest
			}
		}
		return identity(batch), nil
	}}
	engine := NewEngine(oracle, testConfig(10), testLogger())

	quotes, outcomes, err := engine.Rank(context.Background(), "q", makeCandidates(30))
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}

	totalAttempts := 0
	failed := 0
	for _, o := range outcomes {
		totalAttempts += o.Attempts
		if o.FellBack {
			failed++
		}
	}
	if totalAttempts != 5 {
		t.Errorf("expected 5 total requests (1+3+1), got %d", totalAttempts)
	}
	if failed != 0 {
		t.Errorf("expected 0 failed batches, got %d", failed)
	}
	for _, q := range quotes {
		if q.SelectionStage != StageOracleRanked {
			t.Fatalf("all 30 quotes should be oracle_ranked, %s is %s", q.UtteranceID, q.SelectionStage)
		}
	}
	if len(quotes) != 30 {
		t.Errorf("expected 30 quotes, got %d", len(quotes))
	}
}

func TestRank_ExhaustedRetriesFallBackThatBatchOnly(t *testing.T) {
	oracle := &scriptedOracle{fn: func(_ int, batch []retrieval.Candidate) ([]RankedEntry, error) {
		if batch[0].UtteranceID == "u06" {
			return nil, ErrOracleRequest
		}
		return identity(batch), nil
	}}
	engine := NewEngine(oracle, testConfig(5), testLogger())

	quotes, outcomes, err := engine.Rank(context.Background(), "q", makeCandidates(15))
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if len(quotes) != 15 {
		t.Fatalf("no candidate may be dropped: expected 15 quotes, got %d", len(quotes))
	}

	stages := map[string]string{}
	for _, q := range quotes {
		stages[q.UtteranceID] = q.SelectionStage
	}
	for i := 1; i <= 15; i++ {
		id := fmt.Sprintf("u%02d", i)
		want := StageOracleRanked
		if i >= 6 && i <= 10 {
			want = StageOracleFallback
		}
		if stages[id] != want {
			t.Errorf("%s: expected %s, got %s", id, want, stages[id])
		}
	}

	if !outcomes[1].FellBack || outcomes[1].Attempts != 3 {
		t.Errorf("batch 2 should fall back after 3 attempts, got %+v", outcomes[1])
	}
	if outcomes[0].FellBack || outcomes[2].FellBack {
		t.Error("batches 1 and 3 must be unaffected by batch 2's failure")
	}
	if engine.State() != StateIdle {
		t.Errorf("engine should return to idle, got %s", engine.State())
	}
}

func TestRank_FallbackOrderedByLocalScore(t *testing.T) {
	oracle := &scriptedOracle{fn: func(_ int, batch []retrieval.Candidate) ([]RankedEntry, error) {
		return nil, ErrOracleRequest
	}}
	engine := NewEngine(oracle, testConfig(10), testLogger())

	candidates := []retrieval.Candidate{
		{UtteranceID: "low", LocalScore: 1},
		{UtteranceID: "high", LocalScore: 9},
		{UtteranceID: "mid", LocalScore: 5},
	}
	quotes, _, err := engine.Rank(context.Background(), "q", candidates)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}

	var order []string
	for _, q := range quotes {
		order = append(order, q.UtteranceID)
	}
	if !reflect.DeepEqual(order, []string{"high", "mid", "low"}) {
		t.Errorf("fallback should order by descending local score, got %v", order)
	}
}

func TestRank_DuplicateOracleRanksBrokenByLocalScore(t *testing.T) {
	oracle := &scriptedOracle{fn: func(_ int, batch []retrieval.Candidate) ([]RankedEntry, error) {
		entries := identity(batch)
		for i := range entries {
			entries[i].Rank = 1
		}
		return entries, nil
	}}
	engine := NewEngine(oracle, testConfig(10), testLogger())

	candidates := []retrieval.Candidate{
		{UtteranceID: "a", LocalScore: 2},
		{UtteranceID: "b", LocalScore: 8},
		{UtteranceID: "c", LocalScore: 5},
	}
	quotes, _, err := engine.Rank(context.Background(), "q", candidates)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}

	var order []string
	for _, q := range quotes {
		order = append(order, q.UtteranceID)
	}
	if !reflect.DeepEqual(order, []string{"b", "c", "a"}) {
		t.Errorf("duplicate ranks should break by descending local score, got %v", order)
	}
}

func TestRank_MalformedResponsesRetry(t *testing.T) {
	tests := []struct {
		name   string
		mangle func(entries []RankedEntry) []RankedEntry
	}{
		{"wrong count", func(e []RankedEntry) []RankedEntry { return e[:len(e)-1] }},
		{"unknown id", func(e []RankedEntry) []RankedEntry { e[0].UtteranceID = "stranger"; return e }},
		{"duplicate id", func(e []RankedEntry) []RankedEntry { e[1].UtteranceID = e[0].UtteranceID; return e }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := &scriptedOracle{fn: func(call int, batch []retrieval.Candidate) ([]RankedEntry, error) {
				entries := identity(batch)
				if call == 1 {
					return tt.mangle(entries), nil
				}
				return entries, nil
			}}
			engine := NewEngine(oracle, testConfig(10), testLogger())

			quotes, outcomes, err := engine.Rank(context.Background(), "q", makeCandidates(5))
			if err != nil {
				t.Fatalf("Rank: %v", err)
			}
			if outcomes[0].Attempts != 2 {
				t.Errorf("malformed response should trigger a retry, attempts = %d", outcomes[0].Attempts)
			}
			if outcomes[0].FellBack {
				t.Error("batch should succeed on retry, not fall back")
			}
			if len(quotes) != 5 {
				t.Errorf("expected 5 quotes, got %d", len(quotes))
			}
		})
	}
}

func TestRank_DeterministicAcrossRuns(t *testing.T) {
	mkOracle := func() Oracle {
		return &scriptedOracle{fn: func(_ int, batch []retrieval.Candidate) ([]RankedEntry, error) {
			// Reverse the batch: a fixed, non-trivial ordering.
			entries := make([]RankedEntry, len(batch))
			for i, c := range batch {
				entries[i] = RankedEntry{UtteranceID: c.UtteranceID, Rank: len(batch) - i}
			}
			return entries, nil
		}}
	}

	run := func() []RankedQuote {
		engine := NewEngine(mkOracle(), testConfig(7), testLogger())
		quotes, _, err := engine.Rank(context.Background(), "q", makeCandidates(20))
		if err != nil {
			t.Fatalf("Rank: %v", err)
		}
		return quotes
	}

	first := run()
	second := run()
	if !reflect.DeepEqual(first, second) {
		t.Error("identical input and oracle behavior must produce identical ranking")
	}
}

func TestRank_EmptyCandidates(t *testing.T) {
	oracle := &scriptedOracle{fn: func(_ int, batch []retrieval.Candidate) ([]RankedEntry, error) {
		t.Fatal("oracle must not be called for empty input")
		return nil, nil
	}}
	engine := NewEngine(oracle, testConfig(10), testLogger())

	quotes, outcomes, err := engine.Rank(context.Background(), "q", nil)
	if err != nil || quotes != nil || outcomes != nil {
		t.Errorf("empty input should be a no-op, got %v %v %v", quotes, outcomes, err)
	}
}

func TestRank_CancellationReturnsMergedPrefix(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	oracle := &scriptedOracle{fn: func(call int, batch []retrieval.Candidate) ([]RankedEntry, error) {
		if call == 2 {
			cancel()
			return nil, ErrOracleRequest
		}
		return identity(batch), nil
	}}
	engine := NewEngine(oracle, testConfig(5), testLogger())

	quotes, _, err := engine.Rank(ctx, "q", makeCandidates(15))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(quotes) != 5 {
		t.Errorf("already-merged quotes must be returned, got %d", len(quotes))
	}
}

func TestState_ConcurrentReadsDuringRank(t *testing.T) {
	oracle := &scriptedOracle{fn: func(_ int, batch []retrieval.Candidate) ([]RankedEntry, error) {
		return identity(batch), nil
	}}
	engine := NewEngine(oracle, testConfig(5), testLogger())

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				_ = engine.State()
			}
		}
	}()

	if _, _, err := engine.Rank(context.Background(), "q", makeCandidates(50)); err != nil {
		t.Fatalf("Rank: %v", err)
	}
	close(stop)
	<-done

	if engine.State() != StateIdle {
		t.Errorf("engine should be idle after Rank, got %s", engine.State())
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		StateIdle:           "idle",
		StateBatching:       "batching",
		StateAwaitingOracle: "awaiting_oracle",
		StateMerging:        "merging",
		StateRetrying:       "retrying",
		StateFallingBack:    "falling_back",
	}
	for state, want := range states {
		if state.String() != want {
			t.Errorf("State(%d).String() = %s, want %s", state, state.String(), want)
		}
	}
}
