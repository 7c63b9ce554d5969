package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/quill/internal/bus"
	"github.com/MikeSquared-Agency/quill/internal/config"
	"github.com/MikeSquared-Agency/quill/internal/coverage"
	"github.com/MikeSquared-Agency/quill/internal/embed"
	"github.com/MikeSquared-Agency/quill/internal/index"
	"github.com/MikeSquared-Agency/quill/internal/questions"
	"github.com/MikeSquared-Agency/quill/internal/ranking"
	"github.com/MikeSquared-Agency/quill/internal/retrieval"
	"github.com/MikeSquared-Agency/quill/internal/speaker"
)

// Persister is the storage surface the pipeline writes through. *store.Store
// satisfies it; running without a database is supported.
type Persister interface {
	WriteUtterance(ctx context.Context, u speaker.Utterance) error
	WriteRoleLabel(ctx context.Context, l speaker.RoleLabel) error
	WriteCorrection(ctx context.Context, transcriptID string, c speaker.Correction) error
	WriteContextLink(ctx context.Context, link speaker.ContextLink) error
	WriteRankedQuotes(ctx context.Context, runID uuid.UUID, questionID string, quotes []ranking.RankedQuote) error
	WriteCoverage(ctx context.Context, runID uuid.UUID, stats coverage.Stats) error
}

// Publisher emits run lifecycle events. *bus.Client satisfies it.
type Publisher interface {
	Publish(subject string, data any) error
}

// IngestStats summarises one transcript's ingestion.
type IngestStats struct {
	TranscriptID       string `json:"transcript_id"`
	Utterances         int    `json:"utterances"`
	SubjectCount       int    `json:"subject_count"`
	InterviewerCount   int    `json:"interviewer_count"`
	CorrectionsApplied int    `json:"corrections_applied"`
}

// Pipeline runs the full flow: ingest utterances, populate the index, then
// retrieve, rank, and track coverage per question. One logical pipeline per
// process; questions are processed sequentially for predictable cost.
type Pipeline struct {
	cfg        config.Config
	classifier *speaker.Classifier
	linker     *speaker.Linker
	corrector  *speaker.Corrector
	embedder   embed.Embedder
	idx        index.Index
	planner    *retrieval.Planner
	engine     *ranking.Engine
	tracker    *coverage.Tracker
	questions  []questions.Question
	persister  Persister
	publisher  Publisher
	logger     *slog.Logger

	mu          sync.RWMutex
	runID       uuid.UUID
	utterances  []speaker.Utterance
	labels      map[string]speaker.RoleLabel
	links       map[string]speaker.ContextLink
	corrections map[string][]speaker.Correction
	ingested    map[string]IngestStats
	results     map[string][]ranking.RankedQuote
	indexed     bool
}

func New(
	cfg config.Config,
	classifier *speaker.Classifier,
	linker *speaker.Linker,
	corrector *speaker.Corrector,
	embedder embed.Embedder,
	idx index.Index,
	planner *retrieval.Planner,
	engine *ranking.Engine,
	tracker *coverage.Tracker,
	qs []questions.Question,
	persister Persister,
	publisher Publisher,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		classifier:  classifier,
		linker:      linker,
		corrector:   corrector,
		embedder:    embedder,
		idx:         idx,
		planner:     planner,
		engine:      engine,
		tracker:     tracker,
		questions:   qs,
		persister:   persister,
		publisher:   publisher,
		logger:      logger,
		runID:       uuid.New(),
		labels:      make(map[string]speaker.RoleLabel),
		links:       make(map[string]speaker.ContextLink),
		corrections: make(map[string][]speaker.Correction),
		ingested:    make(map[string]IngestStats),
		results:     make(map[string][]ranking.RankedQuote),
	}
}

// Ingest classifies, links, and validates one transcript's utterances.
// Texts arrive in transcript order from the segmentation collaborator.
func (p *Pipeline) Ingest(ctx context.Context, transcriptID string, texts []string) (IngestStats, error) {
	if transcriptID == "" || len(texts) == 0 {
		return IngestStats{}, fmt.Errorf("transcript %q has no utterances", transcriptID)
	}

	utterances := make([]speaker.Utterance, 0, len(texts))
	labels := make([]speaker.RoleLabel, 0, len(texts))
	var preceding []string

	for i, text := range texts {
		u := speaker.Utterance{
			ID:           uuid.New().String(),
			TranscriptID: transcriptID,
			Position:     i,
			RawText:      text,
			CleanedText:  cleanText(text),
		}
		role, confidence := p.classifier.Classify(u.CleanedText, preceding)
		preceding = append(preceding, u.CleanedText)
		if len(preceding) > 3 {
			preceding = preceding[len(preceding)-3:]
		}

		utterances = append(utterances, u)
		labels = append(labels, speaker.RoleLabel{
			UtteranceID: u.ID,
			Role:        role,
			Confidence:  confidence,
		})
	}

	// Second pass: re-validate against the whole transcript.
	corrected, corrections := p.corrector.Validate(utterances, labels)

	labelMap := make(map[string]speaker.RoleLabel, len(corrected))
	for _, l := range corrected {
		labelMap[l.UtteranceID] = l
	}
	links := p.linker.Link(utterances, labelMap)

	stats := IngestStats{TranscriptID: transcriptID, Utterances: len(utterances), CorrectionsApplied: len(corrections)}
	for _, l := range corrected {
		switch l.Role {
		case speaker.RoleSubject:
			stats.SubjectCount++
		case speaker.RoleInterviewer:
			stats.InterviewerCount++
		}
	}

	if p.persister != nil {
		for _, u := range utterances {
			if err := p.persister.WriteUtterance(ctx, u); err != nil {
				return IngestStats{}, fmt.Errorf("persist utterance: %w", err)
			}
		}
		for _, l := range corrected {
			if err := p.persister.WriteRoleLabel(ctx, l); err != nil {
				return IngestStats{}, fmt.Errorf("persist role label: %w", err)
			}
		}
		for _, c := range corrections {
			if err := p.persister.WriteCorrection(ctx, transcriptID, c); err != nil {
				return IngestStats{}, fmt.Errorf("persist correction: %w", err)
			}
		}
		for _, link := range links {
			if err := p.persister.WriteContextLink(ctx, link); err != nil {
				return IngestStats{}, fmt.Errorf("persist context link: %w", err)
			}
		}
	}

	p.mu.Lock()
	p.utterances = append(p.utterances, utterances...)
	for _, l := range corrected {
		p.labels[l.UtteranceID] = l
	}
	for _, link := range links {
		p.links[link.SubjectUtteranceID] = link
	}
	p.corrections[transcriptID] = append(p.corrections[transcriptID], corrections...)
	p.ingested[transcriptID] = stats
	p.indexed = false
	p.mu.Unlock()

	p.logger.Info("transcript ingested",
		"transcript_id", transcriptID,
		"utterances", stats.Utterances,
		"subject", stats.SubjectCount,
		"interviewer", stats.InterviewerCount,
		"corrections", stats.CorrectionsApplied,
	)
	return stats, nil
}

// PopulateIndex embeds and upserts every ingested utterance. It must finish
// before Analyze runs; index writes are the barrier between ingestion and
// ranking.
func (p *Pipeline) PopulateIndex(ctx context.Context) error {
	p.mu.RLock()
	utterances := make([]speaker.Utterance, len(p.utterances))
	copy(utterances, p.utterances)
	labels := p.labelsCopyLocked()
	links := make(map[string]speaker.ContextLink, len(p.links))
	for k, v := range p.links {
		links[k] = v
	}
	p.mu.RUnlock()

	for _, u := range utterances {
		label, ok := labels[u.ID]
		if !ok {
			continue
		}
		vec, err := p.embedder.Embed(ctx, u.CleanedText)
		if err != nil {
			return fmt.Errorf("embed utterance %s: %w", u.ID, err)
		}
		meta := index.Metadata{
			Role:         string(label.Role),
			TranscriptID: u.TranscriptID,
			Position:     u.Position,
			ContextIDs:   links[u.ID].InterviewerIDs,
		}
		if err := p.idx.Upsert(ctx, u.ID, vec, meta); err != nil {
			return fmt.Errorf("index utterance %s: %w", u.ID, err)
		}
	}

	p.mu.Lock()
	p.indexed = true
	p.mu.Unlock()
	p.logger.Info("index populated", "utterances", len(utterances))
	return nil
}

// Analyze runs every configured question through retrieval, pre-filtering,
// and batch ranking, recording coverage as it goes. The run always completes
// with a ranked list per question; degraded stages are visible in the
// provenance tags, never silent.
func (p *Pipeline) Analyze(ctx context.Context) error {
	p.mu.RLock()
	utterances := make([]speaker.Utterance, len(p.utterances))
	copy(utterances, p.utterances)
	labels := p.labelsCopyLocked()
	indexed := p.indexed
	runID := p.runID
	p.mu.RUnlock()

	if len(utterances) == 0 {
		return fmt.Errorf("no transcripts ingested")
	}

	texts := make(map[string]string, len(utterances))
	for _, u := range utterances {
		texts[u.ID] = u.CleanedText
	}

	var summaries []coverage.Stats
	for _, q := range p.questions {
		candidates, err := p.retrieveCandidates(ctx, q, indexed, utterances, labels, texts)
		if err != nil {
			return fmt.Errorf("question %s: %w", q.ID, err)
		}
		candidates = p.prefilter(candidates)

		quotes, outcomes, err := p.engine.Rank(ctx, q.Text, candidates)
		if err != nil {
			return fmt.Errorf("question %s: %w", q.ID, err)
		}

		stats, err := p.tracker.Record(q.ID, quotes, outcomes)
		if err != nil {
			return fmt.Errorf("question %s: %w", q.ID, err)
		}
		summaries = append(summaries, stats)

		p.mu.Lock()
		p.results[q.ID] = quotes
		p.mu.Unlock()

		if p.persister != nil {
			if err := p.persister.WriteRankedQuotes(ctx, runID, q.ID, quotes); err != nil {
				return fmt.Errorf("persist ranked quotes: %w", err)
			}
			if err := p.persister.WriteCoverage(ctx, runID, stats); err != nil {
				return fmt.Errorf("persist coverage: %w", err)
			}
		}

		p.logger.Info("question analyzed",
			"question_id", q.ID,
			"candidates", stats.CandidatesConsidered,
			"oracle_ranked", stats.OracleRanked,
			"oracle_fallback", stats.OracleFallback,
			"batches_attempted", stats.BatchesAttempted,
			"batches_failed", stats.BatchesFailed,
		)
	}

	p.publishCompleted(runID, summaries)
	return nil
}

// retrieveCandidates prefers semantic retrieval and falls back to local
// keyword candidates when the index is unavailable.
func (p *Pipeline) retrieveCandidates(
	ctx context.Context,
	q questions.Question,
	indexed bool,
	utterances []speaker.Utterance,
	labels map[string]speaker.RoleLabel,
	texts map[string]string,
) ([]retrieval.Candidate, error) {
	if indexed {
		candidates, err := p.planner.Retrieve(ctx, q.FocusAreas, texts)
		if err == nil {
			return candidates, nil
		}
		if !errors.Is(err, index.ErrUnavailable) {
			return nil, err
		}
		p.logger.Warn("index unavailable, using local candidates", "question_id", q.ID, "error", err)
	} else {
		p.logger.Warn("index not populated, using local candidates", "question_id", q.ID)
	}
	return p.planner.RetrieveLocal(q.FocusAreas, utterances, labels), nil
}

// prefilter drops candidates below the minimum local score before batching.
// Dropped candidates never enter ranking and are not counted as considered.
func (p *Pipeline) prefilter(candidates []retrieval.Candidate) []retrieval.Candidate {
	kept := candidates[:0:0]
	for _, c := range candidates {
		if c.LocalScore >= p.cfg.MinLocalScore {
			kept = append(kept, c)
		}
	}
	return kept
}

func (p *Pipeline) publishCompleted(runID uuid.UUID, summaries []coverage.Stats) {
	if p.publisher == nil {
		return
	}
	payload := bus.AnalysisCompleted{RunID: runID.String()}
	for _, s := range summaries {
		payload.Questions = append(payload.Questions, bus.QuestionCoverage{
			QuestionID:           s.QuestionID,
			CandidatesConsidered: s.CandidatesConsidered,
			OracleRanked:         s.OracleRanked,
			OracleFallback:       s.OracleFallback,
			BatchesAttempted:     s.BatchesAttempted,
			BatchesFailed:        s.BatchesFailed,
		})
	}
	if err := p.publisher.Publish(bus.SubjectAnalysisCompleted, payload); err != nil {
		p.logger.Warn("failed to publish analysis completion", "error", err)
	}
}

func (p *Pipeline) labelsCopyLocked() map[string]speaker.RoleLabel {
	labels := make(map[string]speaker.RoleLabel, len(p.labels))
	for k, v := range p.labels {
		labels[k] = v
	}
	return labels
}

func cleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
