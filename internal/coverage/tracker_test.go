package coverage

import (
	"testing"

	"github.com/MikeSquared-Agency/quill/internal/ranking"
)

func quotes(ranked, fallback int) []ranking.RankedQuote {
	var out []ranking.RankedQuote
	for i := 0; i < ranked; i++ {
		out = append(out, ranking.RankedQuote{SelectionStage: ranking.StageOracleRanked})
	}
	for i := 0; i < fallback; i++ {
		out = append(out, ranking.RankedQuote{SelectionStage: ranking.StageOracleFallback})
	}
	return out
}

func TestRecord(t *testing.T) {
	tracker := NewTracker()

	outcomes := []ranking.BatchOutcome{
		{Batch: 1, Attempts: 1},
		{Batch: 2, Attempts: 3, FellBack: true},
		{Batch: 3, Attempts: 1},
	}
	s, err := tracker.Record("q1", quotes(20, 10), outcomes)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if s.CandidatesConsidered != 30 {
		t.Errorf("expected 30 considered, got %d", s.CandidatesConsidered)
	}
	if s.OracleRanked != 20 || s.OracleFallback != 10 {
		t.Errorf("unexpected stage counts %d/%d", s.OracleRanked, s.OracleFallback)
	}
	if s.OracleRanked+s.OracleFallback != s.CandidatesConsidered {
		t.Error("stage counts must cover all candidates")
	}
	if s.BatchesAttempted != 5 {
		t.Errorf("expected 5 attempts, got %d", s.BatchesAttempted)
	}
	if s.BatchesFailed != 1 {
		t.Errorf("expected 1 failed batch, got %d", s.BatchesFailed)
	}
	if s.RankedRatio < 0.666 || s.RankedRatio > 0.667 {
		t.Errorf("expected ranked ratio 2/3, got %f", s.RankedRatio)
	}
}

func TestRecord_UnknownStage(t *testing.T) {
	tracker := NewTracker()

	_, err := tracker.Record("q1", []ranking.RankedQuote{{SelectionStage: "guesswork"}}, nil)
	if err == nil {
		t.Error("expected error for unknown selection stage")
	}
}

func TestRecord_EmptyQuestion(t *testing.T) {
	tracker := NewTracker()

	s, err := tracker.Record("q1", nil, nil)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if s.CandidatesConsidered != 0 || s.RankedRatio != 0 {
		t.Errorf("empty question should have zero stats, got %+v", s)
	}
}

func TestAll_SortedByQuestion(t *testing.T) {
	tracker := NewTracker()
	tracker.Record("q3", quotes(1, 0), nil)
	tracker.Record("q1", quotes(2, 0), nil)
	tracker.Record("q2", quotes(3, 0), nil)

	all := tracker.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	for i, want := range []string{"q1", "q2", "q3"} {
		if all[i].QuestionID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, all[i].QuestionID)
		}
	}

	if _, ok := tracker.Get("q2"); !ok {
		t.Error("Get should find recorded question")
	}
	if _, ok := tracker.Get("missing"); ok {
		t.Error("Get should miss unknown question")
	}
}
