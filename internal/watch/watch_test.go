package watch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mailtriage/internal/models"
	"mailtriage/internal/store"
	"mailtriage/internal/thread"
)

type recordingNotifier struct {
	titles []string
	bodies []string
	err    error
}

func (n *recordingNotifier) Notify(title, body string) error {
	if n.err != nil {
		return n.err
	}
	n.titles = append(n.titles, title)
	n.bodies = append(n.bodies, body)
	return nil
}

var now = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func seedStore(t *testing.T, msgs []models.Message) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	err = s.WithinTx(context.Background(), func(tx *store.Tx) error {
		if err := tx.EnsureAccount("work", "me@example.com", nil); err != nil {
			return err
		}
		return tx.RecordMessages(msgs)
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func rule() models.UnrepliedRuleConfig {
	return models.UnrepliedRuleConfig{
		ID:                    "support",
		TargetAddresses:       []string{"me@example.com"},
		UnrepliedAfterMinutes: 60,
		LookbackDays:          14,
		NotifyCooldownMinutes: 120,
	}
}

func inboundTo(id string, age time.Duration, subject string) models.Message {
	return models.Message{
		MessageID: id,
		AccountID: "work",
		Folder:    "INBOX",
		DateUTC:   now.Add(-age),
		From:      "customer@example.com",
		To:        []string{"me@example.com"},
		Subject:   subject,
		Inbound:   true,
		ThreadID:  "t-" + id,
	}
}

func checker(s *store.Store, n *recordingNotifier) *Checker {
	return &Checker{
		Store:    s,
		Config:   models.UnrepliedWatchConfig{Enabled: true, Rules: []models.UnrepliedRuleConfig{rule()}},
		Notifier: n,
		Now:      func() time.Time { return now },
	}
}

func TestRun_NotifiesOverdueThread(t *testing.T) {
	s := seedStore(t, []models.Message{inboundTo("a@x", 2*time.Hour, "Need help")})
	n := &recordingNotifier{}

	notified, err := checker(s, n).Run()
	if err != nil {
		t.Fatal(err)
	}
	if notified != 1 {
		t.Fatalf("Expected 1 notified thread, got %d", notified)
	}
	if len(n.titles) != 1 {
		t.Fatalf("Expected one notification, got %d", len(n.titles))
	}
	if n.bodies[0] == "" || n.titles[0] != "1 unreplied thread (support)" {
		t.Errorf("Unexpected notification: %q / %q", n.titles[0], n.bodies[0])
	}
}

func TestRun_FreshThreadNotNotified(t *testing.T) {
	s := seedStore(t, []models.Message{inboundTo("a@x", 10*time.Minute, "Quick one")})
	n := &recordingNotifier{}

	notified, err := checker(s, n).Run()
	if err != nil {
		t.Fatal(err)
	}
	if notified != 0 || len(n.titles) != 0 {
		t.Errorf("Expected no notification for thread inside SLA, got %d", notified)
	}
}

func TestRun_RepliedThreadNotNotified(t *testing.T) {
	inbound := inboundTo("a@x", 3*time.Hour, "Question")
	reply := models.Message{
		MessageID:  "b@x",
		AccountID:  "work",
		Folder:     "INBOX",
		DateUTC:    now.Add(-2 * time.Hour),
		From:       "me@example.com",
		To:         []string{"customer@example.com"},
		Subject:    "Re: Question",
		Outbound:   true,
		References: []string{"a@x"},
		ThreadID:   "t-a@x",
	}
	s := seedStore(t, []models.Message{inbound, reply})
	n := &recordingNotifier{}

	notified, err := checker(s, n).Run()
	if err != nil {
		t.Fatal(err)
	}
	if notified != 0 {
		t.Errorf("Expected replied thread skipped, got %d notifications", notified)
	}
}

func TestRun_CooldownSuppressesRepeat(t *testing.T) {
	s := seedStore(t, []models.Message{inboundTo("a@x", 2*time.Hour, "Need help")})
	n := &recordingNotifier{}
	c := checker(s, n)

	if _, err := c.Run(); err != nil {
		t.Fatal(err)
	}
	notified, err := c.Run()
	if err != nil {
		t.Fatal(err)
	}
	if notified != 0 || len(n.titles) != 1 {
		t.Errorf("Expected cooldown to suppress repeat notification, got %d more", notified)
	}
}

func TestRun_DoneThreadSkipped(t *testing.T) {
	msg := inboundTo("a@x", 2*time.Hour, "Handled elsewhere")
	s := seedStore(t, []models.Message{msg})
	n := &recordingNotifier{}
	c := checker(s, n)

	// The thread id assigned by the threader, not the stored stub.
	first, err := c.Run()
	if err != nil {
		t.Fatal(err)
	}
	if first != 1 {
		t.Fatalf("Expected initial notification, got %d", first)
	}

	// Mark it done under the id the threader assigns, and move time
	// forward past the cooldown.
	c.Now = func() time.Time { return now.Add(3 * time.Hour) }
	built := thread.Build([]models.Message{msg})
	if err := s.SetTriageState(built[0].ThreadID, store.EntityTypeThread, models.TriageDone); err != nil {
		t.Fatal(err)
	}

	again, err := c.Run()
	if err != nil {
		t.Fatal(err)
	}
	if again != 0 {
		t.Errorf("Expected done thread skipped, got %d notifications", again)
	}
}
