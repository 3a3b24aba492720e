package thread

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mailtriage/internal/models"
)

func msg(id string, date time.Time, from string, to []string, subject string, refs ...string) models.Message {
	return models.Message{
		MessageID:  id,
		DateUTC:    date,
		From:       from,
		To:         to,
		Subject:    subject,
		Inbound:    true,
		References: refs,
	}
}

var t0 = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Re: Budget", "budget"},
		{"RE:  FW: Fwd: Budget  plan", "budget plan"},
		{"Budget", "budget"},
		{"  re :  x ", "x"},
		{"", ""},
	}

	for _, tt := range tests {
		got := NormalizeSubject(tt.in)
		if got != tt.want {
			t.Errorf("NormalizeSubject(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestBuild_ReferenceChainMergesDifferentSubjects(t *testing.T) {
	msgs := []models.Message{
		msg("a@x", t0, "alice@x.com", []string{"bob@x.com"}, "Budget"),
		msg("b@x", t0.Add(time.Hour), "bob@x.com", []string{"alice@x.com"}, "Totally different", "a@x"),
	}

	threads := Build(msgs)
	if len(threads) != 1 {
		t.Fatalf("Expected 1 thread, got %d", len(threads))
	}
	if len(threads[0].Messages) != 2 {
		t.Errorf("Expected 2 messages in thread, got %d", len(threads[0].Messages))
	}
}

func TestBuild_SubjectFallbackNeedsParticipantOverlap(t *testing.T) {
	shared := []models.Message{
		msg("a@x", t0, "alice@x.com", []string{"bob@x.com"}, "Standup notes"),
		msg("b@x", t0.Add(time.Hour), "bob@x.com", []string{"alice@x.com"}, "Re: Standup notes"),
	}
	threads := Build(shared)
	if len(threads) != 1 {
		t.Fatalf("Expected chainless same-subject overlap to merge, got %d threads", len(threads))
	}

	disjoint := []models.Message{
		msg("a@x", t0, "alice@x.com", []string{"bob@x.com"}, "Standup notes"),
		msg("c@x", t0.Add(time.Hour), "carol@y.com", []string{"dave@y.com"}, "Standup notes"),
	}
	threads = Build(disjoint)
	if len(threads) != 2 {
		t.Fatalf("Expected disjoint participants to stay separate, got %d threads", len(threads))
	}
}

func TestBuild_ChainedMessagesNeverUseSubjectFallback(t *testing.T) {
	// Two distinct reference chains with the same subject and the same
	// participants. Only chainless messages consult subjects, so these
	// stay separate conversations.
	msgs := []models.Message{
		msg("a1@x", t0, "alice@x.com", []string{"bob@x.com"}, "Weekly report", "a0@x"),
		msg("a2@x", t0.Add(time.Hour), "bob@x.com", []string{"alice@x.com"}, "Re: Weekly report", "a1@x"),
		msg("b1@x", t0.Add(2*time.Hour), "alice@x.com", []string{"bob@x.com"}, "Weekly report", "b0@x"),
		msg("b2@x", t0.Add(3*time.Hour), "bob@x.com", []string{"alice@x.com"}, "Re: Weekly report", "b1@x"),
	}

	threads := Build(msgs)
	if len(threads) != 2 {
		t.Fatalf("Expected 2 threads, got %d", len(threads))
	}
}

func TestBuild_ChainlessMessageJoinsChainedThreadBySubject(t *testing.T) {
	// A message that lost its headers still lands in the conversation
	// when subject and participants line up.
	msgs := []models.Message{
		msg("a@x", t0, "alice@x.com", []string{"bob@x.com"}, "Budget"),
		msg("b@x", t0.Add(time.Hour), "bob@x.com", []string{"alice@x.com"}, "Re: Budget", "a@x"),
		msg("synthetic:acct:INBOX:7", t0.Add(2*time.Hour), "alice@x.com", []string{"bob@x.com"}, "Re: Budget"),
	}

	threads := Build(msgs)
	if len(threads) != 1 {
		t.Fatalf("Expected 1 thread, got %d", len(threads))
	}
	if len(threads[0].Messages) != 3 {
		t.Errorf("Expected 3 messages in thread, got %d", len(threads[0].Messages))
	}
}

func TestBuild_DeterministicAcrossInputOrder(t *testing.T) {
	msgs := []models.Message{
		msg("a@x", t0, "alice@x.com", []string{"bob@x.com"}, "Budget"),
		msg("b@x", t0.Add(time.Hour), "bob@x.com", []string{"alice@x.com"}, "Re: Budget", "a@x"),
		msg("c@x", t0.Add(2*time.Hour), "carol@x.com", []string{"alice@x.com"}, "Re: Budget", "b@x", "a@x"),
		msg("d@x", t0.Add(3*time.Hour), "dave@y.com", []string{"erin@y.com"}, "Lunch"),
	}

	perms := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{1, 3, 0, 2},
		{2, 0, 3, 1},
	}

	var baseline []models.Thread
	for i, perm := range perms {
		shuffled := make([]models.Message, len(msgs))
		for j, k := range perm {
			shuffled[j] = msgs[k]
		}
		threads := Build(shuffled)
		if i == 0 {
			baseline = threads
			continue
		}
		if diff := cmp.Diff(baseline, threads); diff != "" {
			t.Errorf("Permutation %d produced different threads (-first +got):\n%s", i, diff)
		}
	}
}

func TestBuild_ThreadIDStableUnderSuperset(t *testing.T) {
	first := msg("a@x", t0, "alice@x.com", []string{"bob@x.com"}, "Budget")
	reply := msg("b@x", t0.Add(time.Hour), "bob@x.com", []string{"alice@x.com"}, "Re: Budget", "a@x")

	only := Build([]models.Message{first})
	both := Build([]models.Message{first, reply})

	if len(only) != 1 || len(both) != 1 {
		t.Fatalf("Expected single threads, got %d and %d", len(only), len(both))
	}
	if only[0].ThreadID != both[0].ThreadID {
		t.Errorf("Thread id changed when reply arrived: %s vs %s", only[0].ThreadID, both[0].ThreadID)
	}
}

func TestBuild_TracksInboundOutboundMaxima(t *testing.T) {
	in := msg("a@x", t0, "alice@x.com", []string{"me@x.com"}, "Question")
	out := msg("b@x", t0.Add(time.Hour), "me@x.com", []string{"alice@x.com"}, "Re: Question", "a@x")
	out.Inbound = false
	out.Outbound = true

	threads := Build([]models.Message{in, out})
	if len(threads) != 1 {
		t.Fatalf("Expected 1 thread, got %d", len(threads))
	}

	th := threads[0]
	if !th.LastInboundAt.Equal(t0) {
		t.Errorf("Expected last inbound %v, got %v", t0, th.LastInboundAt)
	}
	if !th.LastOutboundAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("Expected last outbound %v, got %v", t0.Add(time.Hour), th.LastOutboundAt)
	}
	if th.Unresolved() {
		t.Error("Expected thread with newer outbound to be resolved")
	}
}
