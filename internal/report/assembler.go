// Package report builds the per-window report model. The model is a
// pure function of the window's classified threads, so two runs over
// identical state produce identical artifacts byte for byte. Nothing
// here reads the clock.
package report

import (
	"sort"
	"time"

	"mailtriage/internal/models"
	"mailtriage/internal/timewindow"
)

const timeFormat = "2006-01-02T15:04:05Z"

// Report is the renderable model for one window.
type Report struct {
	Window  WindowInfo    `json:"window"`
	Buckets []BucketGroup `json:"buckets"`
	Summary Summary       `json:"summary"`
}

// WindowInfo carries the window bounds in both local and UTC form.
type WindowInfo struct {
	Label      string `json:"label"`
	Timezone   string `json:"timezone"`
	StartLocal string `json:"start_local"`
	EndLocal   string `json:"end_local"`
	StartUTC   string `json:"start_utc"`
	EndUTC     string `json:"end_utc"`
}

// BucketGroup is one rendered bucket. Suppressed threads never appear
// here; they only contribute to Summary.Suppressed.
type BucketGroup struct {
	Bucket  models.Bucket `json:"bucket"`
	Threads []ThreadGroup `json:"threads"`
}

// ThreadGroup is one thread with its in-window messages.
type ThreadGroup struct {
	ThreadID     string        `json:"thread_id"`
	Subject      string        `json:"subject"`
	Participants []string      `json:"participants"`
	MatchedRule  string        `json:"matched_rule"`
	LastActivity string        `json:"last_activity_utc"`
	Unresolved   bool          `json:"unresolved"`
	Messages     []MessageView `json:"messages"`
}

// MessageView is the rendered slice of one message.
type MessageView struct {
	MessageID       string   `json:"message_id"`
	DateUTC         string   `json:"date_utc"`
	From            string   `json:"from"`
	Subject         string   `json:"subject"`
	Excerpt         string   `json:"excerpt"`
	Outbound        bool     `json:"outbound"`
	HasAttachments  bool     `json:"has_attachments"`
	AttachmentNames []string `json:"attachment_names,omitempty"`
}

// Summary counts the window's classification outcomes plus the run's
// error taxonomy: messages that failed to parse and accounts that
// failed to fetch are surfaced here, never silently dropped.
type Summary struct {
	Messages       int `json:"messages"`
	Threads        int `json:"threads"`
	HighPriority   int `json:"high_priority"`
	ArrivalOnly    int `json:"arrival_only"`
	Normal         int `json:"normal"`
	Suppressed     int `json:"suppressed"`
	SkippedParse   int `json:"skipped_parse"`
	FailedAccounts int `json:"failed_accounts"`
}

// Entry is one classified thread handed to Assemble: the full thread,
// its classification, and the subset of its messages dated inside the
// window.
type Entry struct {
	Thread         *models.Thread
	Result         models.ClassificationResult
	WindowMessages []models.Message
}

// Assemble builds the report model. Buckets appear in fixed order;
// within a bucket threads sort by last activity, newest first, with
// thread id as the tiebreak.
func Assemble(w timewindow.Window, entries []Entry) *Report {
	r := &Report{
		Window: WindowInfo{
			Label:      w.Label,
			Timezone:   w.StartLocal.Location().String(),
			StartLocal: w.StartLocal.Format("2006-01-02T15:04:05-07:00"),
			EndLocal:   w.EndLocal.Format("2006-01-02T15:04:05-07:00"),
			StartUTC:   w.StartUTC.Format(timeFormat),
			EndUTC:     w.EndUTC.Format(timeFormat),
		},
	}

	byBucket := make(map[models.Bucket][]ThreadGroup)
	for _, e := range entries {
		r.Summary.Threads++
		r.Summary.Messages += len(e.WindowMessages)

		switch e.Result.Bucket {
		case models.BucketHighPriority:
			r.Summary.HighPriority++
		case models.BucketArrivalOnly:
			r.Summary.ArrivalOnly++
		case models.BucketNormal:
			r.Summary.Normal++
		case models.BucketSuppressed:
			r.Summary.Suppressed++
			continue
		}

		byBucket[e.Result.Bucket] = append(byBucket[e.Result.Bucket], threadGroup(e))
	}

	for _, b := range models.RenderedBuckets {
		threads := byBucket[b]
		sort.Slice(threads, func(i, j int) bool {
			if threads[i].LastActivity != threads[j].LastActivity {
				return threads[i].LastActivity > threads[j].LastActivity
			}
			return threads[i].ThreadID < threads[j].ThreadID
		})
		r.Buckets = append(r.Buckets, BucketGroup{Bucket: b, Threads: threads})
	}
	return r
}

func threadGroup(e Entry) ThreadGroup {
	g := ThreadGroup{
		ThreadID:     e.Thread.ThreadID,
		Subject:      threadSubject(e.Thread),
		Participants: e.Thread.Participants,
		MatchedRule:  e.Result.MatchedRule,
		Unresolved:   e.Thread.Unresolved(),
	}
	if la := e.Thread.LastActivity(); !la.IsZero() {
		g.LastActivity = la.UTC().Format(timeFormat)
	}

	msgs := make([]models.Message, len(e.WindowMessages))
	copy(msgs, e.WindowMessages)
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].DateUTC.Equal(msgs[j].DateUTC) {
			return msgs[i].DateUTC.Before(msgs[j].DateUTC)
		}
		return msgs[i].MessageID < msgs[j].MessageID
	})

	for i := range msgs {
		g.Messages = append(g.Messages, messageView(&msgs[i]))
	}
	return g
}

func messageView(m *models.Message) MessageView {
	v := MessageView{
		MessageID:      m.MessageID,
		DateUTC:        m.DateUTC.UTC().Format(timeFormat),
		From:           m.From,
		Subject:        m.Subject,
		Excerpt:        m.ExtractedNewText,
		Outbound:       m.Outbound,
		HasAttachments: m.HasAttachments,
	}
	if m.HasAttachments && len(m.AttachmentNames) > 0 {
		names := make([]string, len(m.AttachmentNames))
		copy(names, m.AttachmentNames)
		sort.Strings(names)
		v.AttachmentNames = names
	}
	return v
}

// threadSubject picks the earliest message's subject as the thread
// title; later replies usually just add prefixes.
func threadSubject(t *models.Thread) string {
	var best string
	var bestAt time.Time
	for i := range t.Messages {
		m := &t.Messages[i]
		if m.Subject == "" {
			continue
		}
		if best == "" || m.DateUTC.Before(bestAt) {
			best = m.Subject
			bestAt = m.DateUTC
		}
	}
	return best
}
