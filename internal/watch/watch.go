// Package watch evaluates unreplied-thread alert rules against stored
// state. Watch produces notifications only; it never writes report
// artifacts and never changes triage decisions.
package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mailtriage/internal/logging"
	"mailtriage/internal/models"
	"mailtriage/internal/notify"
	"mailtriage/internal/store"
	"mailtriage/internal/thread"
)

// cooldownEntityType scopes notification bookkeeping rows per rule so
// they never collide with real triage decisions.
func cooldownEntityType(ruleID string) string {
	return "watch_unreplied:" + ruleID
}

const notifiedState = models.TriageStatus("notified")

// Checker evaluates the configured unreplied rules.
type Checker struct {
	Store    *store.Store
	Config   models.UnrepliedWatchConfig
	Notifier notify.Notifier
	Now      func() time.Time
}

// Run evaluates every rule and sends at most one notification per
// rule, covering all newly overdue threads. Returns the number of
// threads notified about.
func (c *Checker) Run() (int, error) {
	if !c.Config.Enabled {
		return 0, nil
	}

	now := c.Now()
	total := 0
	for _, rule := range c.Config.Rules {
		n, err := c.runRule(rule, now)
		if err != nil {
			return total, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		total += n
	}
	return total, nil
}

func (c *Checker) runRule(rule models.UnrepliedRuleConfig, now time.Time) (int, error) {
	log := logging.Log.WithField("rule", rule.ID)

	cutoff := now.AddDate(0, 0, -rule.LookbackDays)
	msgs, err := c.Store.MessagesSince(cutoff)
	if err != nil {
		return 0, err
	}

	sla := time.Duration(rule.UnrepliedAfterMinutes) * time.Minute
	cooldown := time.Duration(rule.NotifyCooldownMinutes) * time.Minute

	var overdue []overdueThread
	for _, t := range thread.Build(msgs) {
		t := t
		subject, ok := c.isOverdue(&t, rule, now, sla)
		if !ok {
			continue
		}

		state, err := c.Store.GetTriageState(t.ThreadID, store.EntityTypeThread)
		if err != nil {
			return 0, err
		}
		if state != nil && state.Status != models.TriageOpen {
			continue
		}

		last, err := c.Store.GetTriageState(t.ThreadID, cooldownEntityType(rule.ID))
		if err != nil {
			return 0, err
		}
		if last != nil && now.Sub(last.UpdatedAt) < cooldown {
			log.WithField("thread_id", t.ThreadID).Debug("Thread in notification cooldown, skipping")
			continue
		}

		overdue = append(overdue, overdueThread{id: t.ThreadID, subject: subject, waiting: now.Sub(t.LastInboundAt)})
	}

	if len(overdue) == 0 {
		return 0, nil
	}

	if err := c.Notifier.Notify(notificationTitle(rule, len(overdue)), notificationBody(overdue)); err != nil {
		// Notification delivery is best effort; log and keep the
		// cooldown unset so the next run retries.
		log.WithFields(logrus.Fields{"error": err}).Warn("Failed to deliver notification")
		return 0, nil
	}

	for _, o := range overdue {
		if err := c.Store.SetTriageState(o.id, cooldownEntityType(rule.ID), notifiedState); err != nil {
			return len(overdue), err
		}
	}

	log.WithField("threads", len(overdue)).Info("Sent unreplied-thread notification")
	return len(overdue), nil
}

type overdueThread struct {
	id      string
	subject string
	waiting time.Duration
}

// isOverdue reports whether the thread's newest message is inbound
// mail to one of the rule's target addresses and has been waiting
// longer than the SLA. Returns the thread subject for the
// notification body.
func (c *Checker) isOverdue(t *models.Thread, rule models.UnrepliedRuleConfig, now time.Time, sla time.Duration) (string, bool) {
	if len(t.Messages) == 0 {
		return "", false
	}
	newest := &t.Messages[len(t.Messages)-1]
	if !newest.Inbound {
		return "", false
	}
	if now.Sub(newest.DateUTC) < sla {
		return "", false
	}
	if !addressedTo(newest, rule.TargetAddresses) {
		return "", false
	}
	return newest.Subject, true
}

func addressedTo(m *models.Message, targets []string) bool {
	for _, target := range targets {
		target = strings.ToLower(target)
		for _, addr := range m.To {
			if addr == target {
				return true
			}
		}
		for _, addr := range m.Cc {
			if addr == target {
				return true
			}
		}
	}
	return false
}

func notificationTitle(rule models.UnrepliedRuleConfig, n int) string {
	if n == 1 {
		return fmt.Sprintf("1 unreplied thread (%s)", rule.ID)
	}
	return fmt.Sprintf("%d unreplied threads (%s)", n, rule.ID)
}

func notificationBody(overdue []overdueThread) string {
	var lines []string
	for _, o := range overdue {
		subject := o.subject
		if subject == "" {
			subject = "(no subject)"
		}
		lines = append(lines, fmt.Sprintf("%s (waiting %s)", subject, o.waiting.Round(time.Minute)))
	}
	return strings.Join(lines, "\n")
}
