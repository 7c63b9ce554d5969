package relevance

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

// ScoreCap bounds every score the scorer can produce.
const ScoreCap = 10.0

const (
	exactPhraseBonus = 3.0
	fullTermBonus    = 1.0
	partialTermBonus = 0.5
	lengthBonusCap   = 1.0
	lengthBonusWords = 50
	registerBonus    = 1.0
	minTermLen       = 3
)

// Terms that mark business-register speech worth surfacing to analysts.
var businessTerms = []string{
	"revenue", "profit", "margin", "market", "customer", "pricing",
	"competition", "competitive", "strategy", "growth", "efficiency",
	"quality", "capacity", "scalability", "retention", "investment",
	"opportunity", "advantage", "risk", "compliance",
}

// Scorer rates how well an utterance matches a focus area. It is a pure
// function of its inputs and is used both to pre-filter candidates before
// ranking and to rank a batch when the oracle is unreachable.
type Scorer struct{}

func NewScorer() *Scorer {
	return &Scorer{}
}

// Score combines an exact-phrase bonus, per-term matches (full or fuzzy
// partial), a capped length bonus, and a business-register bonus. The result
// is clamped to [0, ScoreCap].
func (s *Scorer) Score(text, focusArea string) float64 {
	textLower := strings.ToLower(text)
	focusLower := strings.ToLower(strings.TrimSpace(focusArea))
	if textLower == "" || focusLower == "" {
		return 0
	}

	score := 0.0

	if strings.Contains(textLower, focusLower) {
		score += exactPhraseBonus
	}

	words := strings.Fields(textLower)
	for _, term := range strings.Fields(focusLower) {
		if len(term) < minTermLen {
			continue
		}
		if strings.Contains(textLower, term) {
			score += fullTermBonus
			continue
		}
		if len(fuzzy.Find(term, words)) > 0 {
			score += partialTermBonus
		}
	}

	lengthBonus := float64(len(words)) / lengthBonusWords
	if lengthBonus > lengthBonusCap {
		lengthBonus = lengthBonusCap
	}
	score += lengthBonus

	for _, term := range businessTerms {
		if strings.Contains(textLower, term) {
			score += registerBonus
			break
		}
	}

	if score > ScoreCap {
		score = ScoreCap
	}
	return score
}
