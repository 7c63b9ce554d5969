package coverage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/MikeSquared-Agency/quill/internal/ranking"
)

// Stats summarises one question's ranking provenance for a run.
// OracleRanked + OracleFallback always equals CandidatesConsidered: a
// candidate that entered ranking came out ranked one way or the other.
type Stats struct {
	QuestionID           string  `json:"question_id"`
	CandidatesConsidered int     `json:"candidates_considered"`
	OracleRanked         int     `json:"oracle_ranked"`
	OracleFallback       int     `json:"oracle_fallback"`
	BatchesAttempted     int     `json:"batches_attempted"`
	BatchesFailed        int     `json:"batches_failed"`
	RankedRatio          float64 `json:"ranked_ratio"`
}

// Tracker aggregates per-question stats for a single analysis run.
type Tracker struct {
	mu    sync.Mutex
	stats map[string]Stats
}

func NewTracker() *Tracker {
	return &Tracker{stats: make(map[string]Stats)}
}

// Record derives a question's stats from its ranked quotes and batch
// outcomes. BatchesAttempted counts oracle requests, including retries;
// BatchesFailed counts batches that fell back.
func (t *Tracker) Record(questionID string, quotes []ranking.RankedQuote, outcomes []ranking.BatchOutcome) (Stats, error) {
	s := Stats{QuestionID: questionID, CandidatesConsidered: len(quotes)}

	for _, q := range quotes {
		switch q.SelectionStage {
		case ranking.StageOracleRanked:
			s.OracleRanked++
		case ranking.StageOracleFallback:
			s.OracleFallback++
		default:
			return Stats{}, fmt.Errorf("question %s: quote %s has unknown selection stage %q", questionID, q.UtteranceID, q.SelectionStage)
		}
	}
	for _, o := range outcomes {
		s.BatchesAttempted += o.Attempts
		if o.FellBack {
			s.BatchesFailed++
		}
	}
	if s.CandidatesConsidered > 0 {
		s.RankedRatio = float64(s.OracleRanked) / float64(s.CandidatesConsidered)
	}

	if s.OracleRanked+s.OracleFallback != s.CandidatesConsidered {
		return Stats{}, fmt.Errorf("question %s: stage counts %d+%d do not cover %d candidates",
			questionID, s.OracleRanked, s.OracleFallback, s.CandidatesConsidered)
	}

	t.mu.Lock()
	t.stats[questionID] = s
	t.mu.Unlock()
	return s, nil
}

// Get returns one question's stats.
func (t *Tracker) Get(questionID string) (Stats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stats[questionID]
	return s, ok
}

// All returns every recorded question's stats, ordered by question id.
func (t *Tracker) All() []Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Stats, 0, len(t.stats))
	for _, s := range t.stats {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out
}
