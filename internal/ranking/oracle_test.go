package ranking

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/quill/internal/anthropic"
	"github.com/MikeSquared-Agency/quill/internal/retrieval"
)

type stubCompleter struct {
	response string
	err      error
	prompt   string
}

func (s *stubCompleter) Complete(ctx context.Context, system string, messages []anthropic.Message, maxTokens int) (string, error) {
	if len(messages) > 0 {
		s.prompt = messages[0].Content
	}
	return s.response, s.err
}

func TestLLMOracle_RankBatch(t *testing.T) {
	llm := &stubCompleter{response: `[
		{"id": "u2", "rank": 1, "reason": "directly answers the question"},
		{"id": "u1", "rank": 2, "reason": "related but indirect"}
	]`}
	oracle := NewLLMOracle(llm, time.Minute, testLogger())

	batch := []retrieval.Candidate{
		{UtteranceID: "u1", Text: "first text"},
		{UtteranceID: "u2", Text: "second text"},
	}
	entries, err := oracle.RankBatch(context.Background(), "the question", batch)
	if err != nil {
		t.Fatalf("RankBatch: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].UtteranceID != "u2" || entries[0].Rank != 1 {
		t.Errorf("unexpected first entry %+v", entries[0])
	}
	if entries[0].Reason == "" {
		t.Error("reason should carry through")
	}

	if !strings.Contains(llm.prompt, "the question") {
		t.Error("prompt should include the question text")
	}
	for _, c := range batch {
		if !strings.Contains(llm.prompt, c.UtteranceID) || !strings.Contains(llm.prompt, c.Text) {
			t.Errorf("prompt should include id and text of %s", c.UtteranceID)
		}
	}
}

func TestLLMOracle_ProseWrappedJSON(t *testing.T) {
	llm := &stubCompleter{response: "Here is the ranking:\n```json\n[{\"id\": \"u1\", \"rank\": 1, \"reason\": \"ok\"}]\n```\nDone."}
	oracle := NewLLMOracle(llm, time.Minute, testLogger())

	entries, err := oracle.RankBatch(context.Background(), "q", []retrieval.Candidate{{UtteranceID: "u1"}})
	if err != nil {
		t.Fatalf("RankBatch: %v", err)
	}
	if len(entries) != 1 || entries[0].UtteranceID != "u1" {
		t.Errorf("unexpected entries %+v", entries)
	}
}

func TestLLMOracle_RequestFailure(t *testing.T) {
	llm := &stubCompleter{err: errors.New("connection refused")}
	oracle := NewLLMOracle(llm, time.Minute, testLogger())

	_, err := oracle.RankBatch(context.Background(), "q", []retrieval.Candidate{{UtteranceID: "u1"}})
	if !errors.Is(err, ErrOracleRequest) {
		t.Errorf("expected ErrOracleRequest, got %v", err)
	}
}

func TestLLMOracle_MalformedResponses(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"no array", "I cannot rank these."},
		{"broken json", `[{"id": "u1", "rank": }]`},
		{"missing rank", `[{"id": "u1", "reason": "x"}]`},
		{"missing id", `[{"rank": 1, "reason": "x"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &stubCompleter{response: tt.response}
			oracle := NewLLMOracle(llm, time.Minute, testLogger())

			_, err := oracle.RankBatch(context.Background(), "q", []retrieval.Candidate{{UtteranceID: "u1"}})
			if !errors.Is(err, ErrOracleMalformed) {
				t.Errorf("expected ErrOracleMalformed, got %v", err)
			}
		})
	}
}
