package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/quill/internal/embed"
	"github.com/MikeSquared-Agency/quill/internal/index"
	"github.com/MikeSquared-Agency/quill/internal/relevance"
	"github.com/MikeSquared-Agency/quill/internal/speaker"
)

// Candidate is one utterance eligible for ranking within a single question's
// pass. Transient: rebuilt on every run.
type Candidate struct {
	UtteranceID string
	Text        string
	FocusArea   string
	LocalScore  float64
	Similarity  float64
}

// Related terms for common business concepts. Expanding a focus area into
// these counters vocabulary mismatch between question phrasing and how
// subjects actually talk.
var expansions = map[string][]string{
	"market":      {"marketplace", "market demand", "market share", "market position"},
	"customer":    {"client", "buyer", "customer satisfaction", "customer needs"},
	"technology":  {"innovation", "digital", "platform", "solution"},
	"business":    {"company", "operation", "strategy", "business model"},
	"growth":      {"expansion", "scaling", "development", "increase"},
	"risk":        {"challenge", "concern", "threat", "vulnerability"},
	"quality":     {"performance", "reliability", "consistency", "accuracy"},
	"pricing":     {"price", "cost", "value", "willingness to pay"},
	"competition": {"competitor", "competitive landscape", "market position"},
}

// Hits requested per similarity query, before merge and ceiling.
const perExpansionK = 50

// Planner expands focus areas into similarity queries and merges the results
// into a deduplicated candidate list.
type Planner struct {
	idx          index.Index
	embedder     embed.Embedder
	scorer       *relevance.Scorer
	expansionCap int
	ceiling      int
	logger       *slog.Logger
}

func NewPlanner(idx index.Index, embedder embed.Embedder, scorer *relevance.Scorer, expansionCap, ceiling int, logger *slog.Logger) *Planner {
	return &Planner{
		idx:          idx,
		embedder:     embedder,
		scorer:       scorer,
		expansionCap: expansionCap,
		ceiling:      ceiling,
		logger:       logger,
	}
}

// Expand returns the focus area itself plus related terms, deduplicated and
// capped.
func (p *Planner) Expand(focusArea string) []string {
	terms := []string{focusArea}
	seen := map[string]bool{strings.ToLower(focusArea): true}

	areaLower := strings.ToLower(focusArea)
	for key, related := range expansions {
		if !strings.Contains(areaLower, key) {
			continue
		}
		for _, term := range related {
			if seen[term] {
				continue
			}
			seen[term] = true
			terms = append(terms, term)
		}
	}

	sort.Strings(terms[1:])
	if len(terms) > p.expansionCap {
		terms = terms[:p.expansionCap]
	}
	return terms
}

// Retrieve issues one similarity query per expansion term, restricted to
// subject utterances, and merges the hits keeping the highest similarity per
// utterance. The result is capped at the candidate ceiling, ordered by
// similarity. Errors from the index, including index.ErrUnavailable, surface
// to the caller so it can fall back to RetrieveLocal.
func (p *Planner) Retrieve(ctx context.Context, focusAreas []string, texts map[string]string) ([]Candidate, error) {
	best := make(map[string]Candidate)

	for _, area := range focusAreas {
		for _, term := range p.Expand(area) {
			vec, err := p.embedder.Embed(ctx, term)
			if err != nil {
				return nil, fmt.Errorf("embed expansion %q: %w", term, err)
			}
			results, err := p.idx.Query(ctx, vec, perExpansionK, index.Filter{Role: string(speaker.RoleSubject)})
			if err != nil {
				return nil, fmt.Errorf("query expansion %q: %w", term, err)
			}
			for _, r := range results {
				cur, ok := best[r.ID]
				if ok && r.Similarity <= cur.Similarity {
					continue
				}
				text := texts[r.ID]
				best[r.ID] = Candidate{
					UtteranceID: r.ID,
					Text:        text,
					FocusArea:   area,
					LocalScore:  p.scorer.Score(text, area),
					Similarity:  r.Similarity,
				}
			}
		}
	}

	candidates := make([]Candidate, 0, len(best))
	for _, c := range best {
		candidates = append(candidates, c)
	}
	sortBySimilarity(candidates)

	if len(candidates) > p.ceiling {
		candidates = candidates[:p.ceiling]
	}
	p.logger.Debug("retrieval complete", "focus_areas", len(focusAreas), "candidates", len(candidates))
	return candidates, nil
}

// RetrieveLocal generates candidates without the index by scoring every
// subject utterance against the focus areas. Used when semantic retrieval is
// unavailable; similarity is zero for every candidate.
func (p *Planner) RetrieveLocal(focusAreas []string, utterances []speaker.Utterance, labels map[string]speaker.RoleLabel) []Candidate {
	var candidates []Candidate

	for _, u := range utterances {
		label, ok := labels[u.ID]
		if !ok || label.Role != speaker.RoleSubject {
			continue
		}
		bestScore := 0.0
		bestArea := ""
		for _, area := range focusAreas {
			if s := p.scorer.Score(u.CleanedText, area); s > bestScore {
				bestScore = s
				bestArea = area
			}
		}
		if bestScore <= 0 {
			continue
		}
		candidates = append(candidates, Candidate{
			UtteranceID: u.ID,
			Text:        u.CleanedText,
			FocusArea:   bestArea,
			LocalScore:  bestScore,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].LocalScore != candidates[j].LocalScore {
			return candidates[i].LocalScore > candidates[j].LocalScore
		}
		return candidates[i].UtteranceID < candidates[j].UtteranceID
	})
	if len(candidates) > p.ceiling {
		candidates = candidates[:p.ceiling]
	}
	return candidates
}

func sortBySimilarity(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].UtteranceID < candidates[j].UtteranceID
	})
}
