package speaker

import (
	"fmt"
	"reflect"
	"testing"
)

func makeRoleTranscript(roles ...Role) ([]Utterance, map[string]RoleLabel) {
	utterances := make([]Utterance, len(roles))
	labels := make(map[string]RoleLabel, len(roles))
	for i, role := range roles {
		id := fmt.Sprintf("u%d", i+1)
		utterances[i] = Utterance{ID: id, TranscriptID: "t1", Position: i}
		labels[id] = RoleLabel{UtteranceID: id, Role: role}
	}
	return utterances, labels
}

func TestLink_AttachesRecentInterviewerContext(t *testing.T) {
	// u1,u2 interviewer, u3 subject, u4 interviewer, u5 subject
	utterances, labels := makeRoleTranscript(
		RoleInterviewer, RoleInterviewer, RoleSubject, RoleInterviewer, RoleSubject,
	)

	links := NewLinker(3).Link(utterances, labels)
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(links))
	}

	if !reflect.DeepEqual(links[0].InterviewerIDs, []string{"u1", "u2"}) {
		t.Errorf("first subject should carry [u1 u2], got %v", links[0].InterviewerIDs)
	}
	// u1,u2 were consumed by u3; u5 only sees u4.
	if !reflect.DeepEqual(links[1].InterviewerIDs, []string{"u4"}) {
		t.Errorf("second subject should carry [u4] only, got %v", links[1].InterviewerIDs)
	}
}

func TestLink_WindowCapKeepsMostRecent(t *testing.T) {
	utterances, labels := makeRoleTranscript(
		RoleInterviewer, RoleInterviewer, RoleInterviewer, RoleInterviewer, RoleSubject,
	)

	links := NewLinker(2).Link(utterances, labels)
	if len(links) != 1 {
		t.Fatalf("expected 1 link, got %d", len(links))
	}
	if !reflect.DeepEqual(links[0].InterviewerIDs, []string{"u3", "u4"}) {
		t.Errorf("expected the 2 most recent interviewer utterances, got %v", links[0].InterviewerIDs)
	}
}

func TestLink_SubjectWithoutContext(t *testing.T) {
	utterances, labels := makeRoleTranscript(RoleSubject, RoleSubject)

	links := NewLinker(3).Link(utterances, labels)
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(links))
	}
	for _, link := range links {
		if len(link.InterviewerIDs) != 0 {
			t.Errorf("subject %s should have empty context, got %v", link.SubjectUtteranceID, link.InterviewerIDs)
		}
	}
}

func TestLink_ConsecutiveSubjectsDoNotShareContext(t *testing.T) {
	utterances, labels := makeRoleTranscript(RoleInterviewer, RoleSubject, RoleSubject)

	links := NewLinker(3).Link(utterances, labels)
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(links))
	}
	if !reflect.DeepEqual(links[0].InterviewerIDs, []string{"u1"}) {
		t.Errorf("first subject should carry [u1], got %v", links[0].InterviewerIDs)
	}
	if len(links[1].InterviewerIDs) != 0 {
		t.Errorf("u1 must not be reattached to a later subject, got %v", links[1].InterviewerIDs)
	}
}
