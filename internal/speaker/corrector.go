package speaker

import (
	"log/slog"
)

const (
	// ReasonInterviewerDetected marks a subject label flipped to interviewer.
	ReasonInterviewerDetected = "interviewer_question_detected"
	// ReasonSubjectDetected marks an interviewer label flipped back to subject.
	ReasonSubjectDetected = "subject_response_detected"

	// Minimum subject-register markers required before an interviewer label is
	// flipped back to subject.
	minExpertEvidence = 2

	// Corpus sanity bound: a one-on-one interview should not be mostly
	// interviewer turns. Above this ratio no further subject labels are
	// demoted to interviewer.
	maxInterviewerRatio = 0.5

	// Below this many utterances the turn ratio carries no signal and the
	// corpus bound is skipped.
	minCorpusSize = 4
)

// Corrector re-validates role labels in a second pass over a whole transcript,
// applying the classifier's rule set plus a corpus-level turn-ratio bound.
// It records a correction only on disagreement and never removes utterances.
// Running it twice over the same transcript is a no-op the second time.
type Corrector struct {
	classifier *Classifier
	logger     *slog.Logger
}

func NewCorrector(classifier *Classifier, logger *slog.Logger) *Corrector {
	return &Corrector{classifier: classifier, logger: logger}
}

type verdict struct {
	labelIdx   int
	role       Role
	confidence int
}

// Validate returns the corrected labels alongside the corrections made. The
// input slices are not modified.
//
// Corrections toward subject are applied before corrections toward
// interviewer. Interviewer demotions are bounded by the corpus turn ratio,
// and applying the unbounded direction first keeps a repeat pass from
// reaching a different ratio state than the first.
func (c *Corrector) Validate(utterances []Utterance, labels []RoleLabel) ([]RoleLabel, []Correction) {
	out := make([]RoleLabel, len(labels))
	copy(out, labels)

	byID := make(map[string]int, len(labels))
	for i, l := range labels {
		byID[l.UtteranceID] = i
	}

	// Reclassify every labeled utterance with the same context the ingestion
	// pass saw. The verdicts depend only on text, so this is deterministic.
	verdicts := make(map[string]verdict, len(labels))
	var preceding []string
	for _, u := range utterances {
		if i, ok := byID[u.ID]; ok {
			role, confidence := c.classifier.Classify(u.CleanedText, preceding)
			verdicts[u.ID] = verdict{labelIdx: i, role: role, confidence: confidence}
		}
		preceding = appendContext(preceding, u.CleanedText)
	}

	interviewerCount := 0
	for _, l := range labels {
		if l.Role == RoleInterviewer {
			interviewerCount++
		}
	}
	ratioKnown := len(labels) >= minCorpusSize

	var corrections []Correction

	// Phase one: interviewer labels that read like subject answers.
	for _, u := range utterances {
		v, ok := verdicts[u.ID]
		if !ok || v.role != RoleSubject || out[v.labelIdx].Role != RoleInterviewer {
			continue
		}
		if c.classifier.ExpertEvidence(u.CleanedText) < minExpertEvidence {
			// Below threshold either way; keep the original verdict.
			continue
		}
		out[v.labelIdx] = RoleLabel{
			UtteranceID:       u.ID,
			Role:              RoleSubject,
			Confidence:        v.confidence,
			CorrectionApplied: true,
			CorrectionReason:  ReasonSubjectDetected,
		}
		interviewerCount--
		corrections = append(corrections, Correction{
			UtteranceID: u.ID,
			From:        RoleInterviewer,
			To:          RoleSubject,
			Reason:      ReasonSubjectDetected,
			Confidence:  v.confidence,
		})
	}

	// Phase two: subject labels that read like interviewer questions, bounded
	// by the corpus turn ratio.
	for _, u := range utterances {
		v, ok := verdicts[u.ID]
		if !ok || v.role != RoleInterviewer || out[v.labelIdx].Role != RoleSubject {
			continue
		}
		if ratioKnown && float64(interviewerCount+1)/float64(len(labels)) > maxInterviewerRatio {
			continue
		}
		out[v.labelIdx] = RoleLabel{
			UtteranceID:       u.ID,
			Role:              RoleInterviewer,
			Confidence:        v.confidence,
			CorrectionApplied: true,
			CorrectionReason:  ReasonInterviewerDetected,
		}
		interviewerCount++
		corrections = append(corrections, Correction{
			UtteranceID: u.ID,
			From:        RoleSubject,
			To:          RoleInterviewer,
			Reason:      ReasonInterviewerDetected,
			Confidence:  v.confidence,
		})
	}

	if len(corrections) > 0 && c.logger != nil {
		c.logger.Info("role labels corrected",
			"corrections", len(corrections),
			"utterances", len(utterances))
	}

	return out, corrections
}

func appendContext(ctx []string, text string) []string {
	ctx = append(ctx, text)
	if len(ctx) > 3 {
		ctx = ctx[len(ctx)-3:]
	}
	return ctx
}
