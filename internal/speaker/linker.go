package speaker

// Linker attaches recent interviewer utterances to each subject utterance so
// a ranked quote can be read with the question that prompted it.
type Linker struct {
	window int
}

// NewLinker caps each subject utterance's context at window interviewer
// utterances.
func NewLinker(window int) *Linker {
	return &Linker{window: window}
}

// Link walks the transcript in order. Interviewer utterances accumulate in a
// buffer; each subject utterance takes the most recent window entries as its
// context and the buffer resets. Context is always chronologically prior to
// the utterance it is attached to, and no interviewer utterance is attached
// to more than one subject utterance.
func (l *Linker) Link(utterances []Utterance, labels map[string]RoleLabel) []ContextLink {
	links := make([]ContextLink, 0, len(utterances))
	var buffer []string

	for _, u := range utterances {
		label, ok := labels[u.ID]
		if !ok {
			continue
		}
		switch label.Role {
		case RoleInterviewer:
			buffer = append(buffer, u.ID)
		case RoleSubject:
			ctx := buffer
			if len(ctx) > l.window {
				ctx = ctx[len(ctx)-l.window:]
			}
			attached := make([]string, len(ctx))
			copy(attached, ctx)
			links = append(links, ContextLink{
				SubjectUtteranceID: u.ID,
				InterviewerIDs:     attached,
			})
			buffer = buffer[:0]
		}
	}

	return links
}
