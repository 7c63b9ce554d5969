package speaker

import (
	"regexp"
	"strings"
)

// Marker weights. Interviewer evidence accumulates toward the threshold,
// subject-register evidence pulls away from it.
const (
	highMarkerWeight   = 2
	mediumMarkerWeight = 1
	expertMarkerWeight = 1
)

// Opening phrases that almost always start an interviewer question.
var interrogativeOpeners = []string{
	"what ", "how ", "why ", "when ", "where ", "who ",
	"can you ", "could you ", "would you ", "do you ", "are you ",
	"have you ", "is there ", "are there ", "does it ", "do they ",
	"tell me ", "describe ", "explain ", "walk me through ", "take me through ",
}

// Explicit speaker prefixes left over from transcript formatting.
var rolePrefixes = []string{
	"interviewer:", "moderator:", "analyst:", "q:",
}

// Transitional and acknowledgment phrases typical of interviewers steering a
// conversation.
var transitionalPhrases = []string{
	"just to start", "i'm curious", "i'd like to understand",
	"help me understand", "i'm wondering", "i'd love to hear",
	"i'm trying to understand", "let me ask you", "let me get this straight",
	"so what you're saying is", "to clarify", "to make sure i understand",
	"just to confirm", "one more thing", "before we move on",
	"while we're on the topic", "got it", "that makes sense",
}

// First-person business claims typical of the subject describing their own
// company.
var expertPhrases = []string{
	"our company", "our team", "our customers", "our service", "our technology",
	"our approach", "our strategy", "our process", "our capabilities",
	"we have", "we provide", "we offer", "we deliver", "we specialize",
	"we focus on", "we prioritize", "we've developed", "we've built",
	"we're able to", "in my experience", "from my perspective", "i believe",
}

// Company-name-plus-verb pattern: a capitalised name making a claim about
// itself ("Acme provides ...").
var companyClaimRe = regexp.MustCompile(`\b[A-Z][A-Za-z]+ (has|have|provides|provide|offers|offer|delivers|deliver|specializes|specialize)\b`)

const (
	shortQuestionLen   = 150
	longDeclarativeLen = 300
	probeQuestionLen   = 100
	longAnswerLen      = 200
)

// Classifier scores utterance text for interviewer evidence. It is a pure
// function of its inputs: identical text and context always produce the same
// verdict.
type Classifier struct {
	threshold int
}

func NewClassifier(threshold int) *Classifier {
	return &Classifier{threshold: threshold}
}

// Classify returns the role for an utterance together with the accumulated
// interviewer confidence. The confidence can be negative when subject-register
// evidence dominates. An utterance that matches nothing is a subject
// utterance: losing an interviewer question to context is cheaper than losing
// genuine insight.
func (c *Classifier) Classify(text string, preceding []string) (Role, int) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	score := 0

	for _, prefix := range rolePrefixes {
		if strings.HasPrefix(lower, prefix) {
			score += highMarkerWeight
			// Strip the prefix so the opener check sees the real text.
			lower = strings.TrimSpace(strings.TrimPrefix(lower, prefix))
			break
		}
	}

	for _, opener := range interrogativeOpeners {
		if strings.HasPrefix(lower, opener) {
			score += highMarkerWeight
			break
		}
	}

	if strings.HasSuffix(lower, "?") && len(trimmed) < shortQuestionLen {
		score += highMarkerWeight
	}

	for _, phrase := range transitionalPhrases {
		if strings.Contains(lower, phrase) {
			score += mediumMarkerWeight
			break
		}
	}

	// A short question right after a long answer is a follow-up probe.
	if len(preceding) > 0 {
		last := preceding[len(preceding)-1]
		if len(last) > longAnswerLen && len(trimmed) < probeQuestionLen && strings.HasSuffix(lower, "?") {
			score += mediumMarkerWeight
		}
	}

	score -= expertMarkerWeight * c.ExpertEvidence(trimmed)

	if score >= c.threshold {
		return RoleInterviewer, score
	}
	return RoleSubject, score
}

// ExpertEvidence counts subject-register markers in the text: first-person
// business claims, company-name claims, and long declarative runs.
func (c *Classifier) ExpertEvidence(text string) int {
	lower := strings.ToLower(text)
	count := 0

	for _, phrase := range expertPhrases {
		if strings.Contains(lower, phrase) {
			count++
		}
	}

	if companyClaimRe.MatchString(text) {
		count++
	}

	if len(text) > longDeclarativeLen && !strings.Contains(text, "?") {
		count++
	}

	return count
}

// Threshold reports the configured interviewer cutoff.
func (c *Classifier) Threshold() int {
	return c.threshold
}
