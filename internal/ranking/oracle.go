package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/quill/internal/anthropic"
	"github.com/MikeSquared-Agency/quill/internal/retrieval"
)

const oracleSystemPrompt = `You rank interview excerpts by how well they answer a business question.

You receive one question and a numbered list of excerpts, each with an id. Rank ALL of them, best answer first.

Respond with a JSON array only, one object per excerpt:
[{"id": "<excerpt id>", "rank": 1, "reason": "<one short sentence>"}, ...]

Rules:
- Include every excerpt exactly once.
- rank 1 is the best answer to the question.
- The reason is one sentence on why the excerpt earned its rank.
- No text before or after the JSON array.`

// Completer is the LLM surface the oracle needs. *anthropic.Client satisfies
// it; tests use a stub.
type Completer interface {
	Complete(ctx context.Context, system string, messages []anthropic.Message, maxTokens int) (string, error)
}

// LLMOracle ranks batches through a chat completion. Each call is bounded by
// its own timeout; a timeout surfaces as a transient request failure.
type LLMOracle struct {
	llm     Completer
	timeout time.Duration
	logger  *slog.Logger
}

func NewLLMOracle(llm Completer, timeout time.Duration, logger *slog.Logger) *LLMOracle {
	return &LLMOracle{llm: llm, timeout: timeout, logger: logger}
}

type oracleEntry struct {
	ID     string `json:"id"`
	Rank   int    `json:"rank"`
	Reason string `json:"reason"`
}

func (o *LLMOracle) RankBatch(ctx context.Context, question string, candidates []retrieval.Candidate) ([]RankedEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\nExcerpts:\n", question)
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. [id: %s] %s\n", i+1, c.UtteranceID, c.Text)
	}

	messages := []anthropic.Message{
		{Role: "user", Content: sb.String()},
	}

	raw, err := o.llm.Complete(ctx, oracleSystemPrompt, messages, 4096)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleRequest, err)
	}

	entries, err := parseOracleResponse(raw)
	if err != nil {
		o.logger.Warn("unparseable oracle response", "error", err, "raw_len", len(raw))
		return nil, err
	}
	return entries, nil
}

// parseOracleResponse pulls the JSON array out of the completion. Models
// sometimes wrap the array in prose or a code fence; everything outside the
// outermost brackets is ignored.
func parseOracleResponse(raw string) ([]RankedEntry, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("%w: no JSON array in response", ErrOracleMalformed)
	}

	var parsed []oracleEntry
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleMalformed, err)
	}

	entries := make([]RankedEntry, len(parsed))
	for i, p := range parsed {
		if p.ID == "" || p.Rank < 1 {
			return nil, fmt.Errorf("%w: entry %d missing id or rank", ErrOracleMalformed, i)
		}
		entries[i] = RankedEntry{UtteranceID: p.ID, Rank: p.Rank, Reason: p.Reason}
	}
	return entries, nil
}
