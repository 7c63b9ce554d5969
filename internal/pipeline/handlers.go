package pipeline

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/MikeSquared-Agency/quill/internal/bus"
	"github.com/MikeSquared-Agency/quill/internal/coverage"
	"github.com/MikeSquared-Agency/quill/internal/questions"
	"github.com/MikeSquared-Agency/quill/internal/ranking"
	"github.com/MikeSquared-Agency/quill/internal/speaker"
)

// Status is the pipeline's externally visible state.
type Status struct {
	TranscriptsIngested int    `json:"transcripts_ingested"`
	UtterancesIngested  int    `json:"utterances_ingested"`
	IndexPopulated      bool   `json:"index_populated"`
	EngineState         string `json:"engine_state"`
	Questions           int    `json:"questions"`
}

// Run populates the index and analyzes every question. The index barrier
// always completes before ranking starts.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.PopulateIndex(ctx); err != nil {
		return err
	}
	return p.Analyze(ctx)
}

// HandleTranscriptSegmented ingests a transcript arriving over the bus.
func (p *Pipeline) HandleTranscriptSegmented(subject string, data []byte) {
	var event bus.TranscriptSegmented
	if err := json.Unmarshal(data, &event); err != nil {
		p.logger.Error("malformed transcript event", "subject", subject, "error", err)
		return
	}
	if _, err := p.Ingest(context.Background(), event.TranscriptID, event.Utterances); err != nil {
		p.logger.Error("transcript ingestion failed", "transcript_id", event.TranscriptID, "error", err)
	}
}

// Results returns the latest ranked quotes for a question.
func (p *Pipeline) Results(questionID string) ([]ranking.RankedQuote, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	quotes, ok := p.results[questionID]
	return quotes, ok
}

// Coverage returns every question's stats for the current run.
func (p *Pipeline) Coverage() []coverage.Stats {
	return p.tracker.All()
}

// Corrections returns the correction log for a transcript.
func (p *Pipeline) Corrections(transcriptID string) []speaker.Correction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.corrections[transcriptID]
}

// IngestedStats returns per-transcript ingestion statistics, ordered by
// transcript id.
func (p *Pipeline) IngestedStats() []IngestStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]IngestStats, 0, len(p.ingested))
	for _, s := range p.ingested {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TranscriptID < out[j].TranscriptID })
	return out
}

// Questions returns the configured question definitions.
func (p *Pipeline) Questions() []questions.Question {
	return p.questions
}

// Status reports the pipeline's current state.
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Status{
		TranscriptsIngested: len(p.ingested),
		UtterancesIngested:  len(p.utterances),
		IndexPopulated:      p.indexed,
		EngineState:         p.engine.State().String(),
		Questions:           len(p.questions),
	}
}
