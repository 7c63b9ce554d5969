package speaker

// Role labels who produced an utterance. Subject is the interviewee whose
// insight is being extracted; interviewer utterances are only ever attached as
// context, never ranked.
type Role string

const (
	RoleSubject     Role = "subject"
	RoleInterviewer Role = "interviewer"
)

// Utterance is one segmented turn of a transcript. Immutable once ingested.
type Utterance struct {
	ID           string
	TranscriptID string
	Position     int
	RawText      string
	CleanedText  string
}

// RoleLabel is the classifier's verdict for one utterance. A validation pass
// may overwrite it at most once, recording why.
type RoleLabel struct {
	UtteranceID       string
	Role              Role
	Confidence        int
	CorrectionApplied bool
	CorrectionReason  string
}

// ContextLink attaches the interviewer utterances that preceded a subject
// utterance. The interviewer utterances are referenced, not copied.
type ContextLink struct {
	SubjectUtteranceID string
	InterviewerIDs     []string
}

// Correction records one role change made by the validation pass.
type Correction struct {
	UtteranceID string
	From        Role
	To          Role
	Reason      string
	Confidence  int
}
