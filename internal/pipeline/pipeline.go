// Package pipeline orchestrates one triage run: fetch mail for every
// configured account, normalize it, thread it, classify it and write
// the per-window report artifacts. Each window runs inside a single
// store transaction so a crash leaves either the pre-run state or the
// fully processed one.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mailtriage/internal/imap"
	"mailtriage/internal/logging"
	"mailtriage/internal/mailparse"
	"mailtriage/internal/models"
	"mailtriage/internal/notify"
	"mailtriage/internal/render"
	"mailtriage/internal/report"
	"mailtriage/internal/rules"
	"mailtriage/internal/secrets"
	"mailtriage/internal/store"
	"mailtriage/internal/thread"
	"mailtriage/internal/timewindow"
	"mailtriage/internal/watch"
)

// ErrPartial reports that some accounts failed while others were
// processed. Artifacts for the successful accounts are still written.
var ErrPartial = errors.New("some accounts failed")

// Runner wires the run-time collaborators. NewClient and Now are
// injection points for tests; left nil they use the real
// implementations.
type Runner struct {
	Config *models.Config
	Store  *store.Store

	NewClient func() imap.Client
	Provider  func(name string) (secrets.Provider, error)
	Notifier  notify.Notifier
	Now       func() time.Time

	// log carries the run id of the run in progress.
	log *logrus.Entry
}

// fetchStats is the run's error taxonomy, surfaced in every window
// summary.
type fetchStats struct {
	skippedParse   int
	failedAccounts int
}

func (r *Runner) newClient() imap.Client {
	if r.NewClient != nil {
		return r.NewClient()
	}
	return imap.NewStandardClient()
}

func (r *Runner) provider(name string) (secrets.Provider, error) {
	if r.Provider != nil {
		return r.Provider(name)
	}
	return secrets.ForName(name)
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Run executes the triage pipeline for the requested windows: either
// days rolling windows ending today, or the single window for an
// explicit YYYY-MM-DD date.
func (r *Runner) Run(ctx context.Context, days int, date string) error {
	r.log = logging.Log.WithField("run_id", uuid.NewString())

	engine, err := rules.New(r.Config.Rules)
	if err != nil {
		return err
	}

	windows, err := timewindow.Compute(
		r.Config.Time.Timezone, r.Config.Time.WorkdayStart, days, date, r.now(),
	)
	if err != nil {
		return err
	}

	parsed, stats := r.fetchAll(ctx, windows[0].StartUTC)

	// A window that fails to commit is abandoned on its own; earlier
	// windows stay committed and later ones still run.
	var lastDone string
	var failedWindows []string
	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.processWindow(ctx, w, parsed, stats, engine); err != nil {
			r.log.WithFields(logrus.Fields{
				"window": w.Label,
				"error":  err,
			}).Error("Window failed, continuing with remaining windows")
			failedWindows = append(failedWindows, w.Label)
			continue
		}
		lastDone = w.Label
	}

	if lastDone != "" {
		if err := render.WriteLatest(r.Config.Output.Root, lastDone); err != nil {
			return err
		}
		if err := render.RebuildIndex(r.Config.Output.Root); err != nil {
			return err
		}
	}

	if len(failedWindows) > 0 {
		return fmt.Errorf("windows %v failed: %w", failedWindows, ErrPartial)
	}
	if stats.failedAccounts > 0 {
		return ErrPartial
	}
	return nil
}

// Watch ingests recent mail without writing artifacts, then evaluates
// the unreplied-thread rules and notifies.
func (r *Runner) Watch(ctx context.Context) error {
	r.log = logging.Log.WithField("run_id", uuid.NewString())

	now := r.now()
	cutoff := now.AddDate(0, 0, -r.Config.Watch.IngestLookbackDays)

	parsed, stats := r.fetchAll(ctx, cutoff)

	err := r.Store.WithinTx(ctx, func(tx *store.Tx) error {
		if err := r.ensureAccounts(tx); err != nil {
			return err
		}
		if err := tx.RecordMessages(parsed); err != nil {
			return err
		}
		_, _, err := rethread(tx, cutoff, now)
		return err
	})
	if err != nil {
		return err
	}

	checker := &watch.Checker{
		Store:    r.Store,
		Config:   r.Config.Watch.Unreplied,
		Notifier: r.Notifier,
		Now:      r.now,
	}
	notified, err := checker.Run()
	if err != nil {
		return err
	}
	r.log.WithField("notified_threads", notified).Info("Watch pass complete")

	if stats.failedAccounts > 0 {
		return ErrPartial
	}
	return nil
}

// fetchAll pulls and normalizes mail from every account, isolating
// failures: one broken account never blocks the others.
func (r *Runner) fetchAll(ctx context.Context, since time.Time) ([]models.Message, fetchStats) {
	var parsed []models.Message
	var stats fetchStats

	for _, account := range r.Config.Accounts {
		msgs, skipped, err := r.fetchAccount(ctx, account, since)
		stats.skippedParse += skipped
		if err != nil {
			r.log.WithFields(logrus.Fields{
				"account": account.ID,
				"error":   err,
			}).Error("Account fetch failed, continuing with remaining accounts")
			stats.failedAccounts++
			continue
		}
		parsed = append(parsed, msgs...)
	}
	return parsed, stats
}

func (r *Runner) fetchAccount(ctx context.Context, account models.AccountConfig, since time.Time) ([]models.Message, int, error) {
	provider, err := r.provider(account.Secrets.Provider)
	if err != nil {
		return nil, 0, err
	}
	creds, err := provider.Resolve(account.Secrets.Reference)
	if err != nil {
		return nil, 0, fmt.Errorf("resolving credentials: %w", err)
	}

	client := r.newClient()
	server := fmt.Sprintf("%s:%d", account.IMAP.Host, account.IMAP.Port)
	if err := client.Connect(server, account.IMAP.SSL); err != nil {
		return nil, 0, err
	}
	defer client.Close()

	if err := client.Login(creds.Username, creds.Password); err != nil {
		return nil, 0, fmt.Errorf("login failed: %w", err)
	}

	var parsed []models.Message
	skipped := 0
	for _, folder := range account.IMAP.Folders {
		if err := ctx.Err(); err != nil {
			return nil, skipped, err
		}
		msgs, broken, err := r.fetchFolder(client, account, folder, since)
		skipped += broken
		if err != nil {
			return nil, skipped, fmt.Errorf("folder %s: %w", folder, err)
		}
		parsed = append(parsed, msgs...)
	}
	return parsed, skipped, nil
}

func (r *Runner) fetchFolder(client imap.Client, account models.AccountConfig, folder string, since time.Time) ([]models.Message, int, error) {
	log := r.log.WithFields(logrus.Fields{"account": account.ID, "folder": folder})

	if err := client.SelectMailbox(folder); err != nil {
		return nil, 0, err
	}

	uids, err := client.ListUIDsSince(since)
	if err != nil {
		return nil, 0, err
	}
	if len(uids) == 0 {
		log.Debug("No messages in range")
		return nil, 0, nil
	}

	raw, err := client.FetchMessages(uids)
	if err != nil {
		return nil, 0, err
	}

	var parsed []models.Message
	skippedKnown, skippedBroken := 0, 0

	for _, msg := range raw {
		opts := mailparse.Options{
			AccountID: account.ID,
			Folder:    folder,
			UID:       msg.Uid,
			Identity:  account.Identity,
		}

		// The envelope is enough to compute the stable id; known
		// messages skip body parsing entirely.
		if msg.Envelope != nil {
			id := mailparse.ComputeMessageID(msg.Envelope.MessageId, opts)
			known, err := r.Store.IsKnown(id)
			if err != nil {
				return nil, skippedBroken, err
			}
			if known {
				skippedKnown++
				continue
			}
		}

		m, err := mailparse.Parse(msg, opts)
		if err != nil {
			log.WithFields(logrus.Fields{"uid": msg.Uid, "error": err}).Warn("Skipping unparseable message")
			skippedBroken++
			continue
		}
		parsed = append(parsed, *m)
	}

	log.WithFields(logrus.Fields{
		"fetched":        len(raw),
		"parsed":         len(parsed),
		"skipped_known":  skippedKnown,
		"skipped_broken": skippedBroken,
	}).Info("Folder ingested")

	return parsed, skippedBroken, nil
}

// processWindow runs the full per-window cycle inside one transaction:
// record new messages, rebuild threads over the window plus the stored
// history of every touched thread, classify and render.
func (r *Runner) processWindow(ctx context.Context, w timewindow.Window, parsed []models.Message, stats fetchStats, engine *rules.Engine) error {
	return r.Store.WithinTx(ctx, func(tx *store.Tx) error {
		if err := r.ensureAccounts(tx); err != nil {
			return err
		}

		var inWindow []models.Message
		for i := range parsed {
			if w.Contains(parsed[i].DateUTC) {
				inWindow = append(inWindow, parsed[i])
			}
		}
		if err := tx.RecordMessages(inWindow); err != nil {
			return err
		}

		threads, windowMsgs, err := rethread(tx, w.StartUTC, w.EndUTC)
		if err != nil {
			return err
		}

		entries, err := r.classify(tx, threads, windowMsgs, engine, w.Label)
		if err != nil {
			return err
		}

		rep := report.Assemble(w, entries)
		rep.Summary.SkippedParse = stats.skippedParse
		rep.Summary.FailedAccounts = stats.failedAccounts
		if err := render.WriteWindow(r.Config.Output.Root, rep); err != nil {
			return err
		}
		if err := tx.RecordRunWindow(w.StartUTC, w.EndUTC); err != nil {
			return err
		}

		r.log.WithFields(logrus.Fields{
			"window":   w.Label,
			"messages": rep.Summary.Messages,
			"threads":  rep.Summary.Threads,
		}).Info("Window processed")
		return nil
	})
}

// mergeLookbackDays bounds how far back stored mail is scanned when
// linking a window's messages to conversations from earlier windows.
const mergeLookbackDays = 30

// rethread rebuilds conversations over the union of the range's
// messages, prior stored mail they chain to (by reference tokens or the
// subject fallback) and the full stored history of every thread any of
// those belong to, so partial windows can only merge threads, never
// split them. It returns the threads and the subset of messages inside
// the range.
func rethread(tx *store.Tx, startUTC, endUTC time.Time) ([]models.Thread, map[string][]models.Message, error) {
	inRange, err := tx.MessagesInRange(startUTC, endUTC)
	if err != nil {
		return nil, nil, err
	}

	// Linkage keys of the range: every message id and every id its
	// reference chain mentions, plus the normalized subjects the
	// subject fallback could match on.
	ids := make(map[string]bool)
	allSubjects := make(map[string]bool)
	chainlessSubjects := make(map[string]bool)
	for i := range inRange {
		m := &inRange[i]
		ids[m.MessageID] = true
		for _, ref := range m.References {
			ids[ref] = true
		}
		if key := thread.NormalizeSubject(m.Subject); key != "" {
			allSubjects[key] = true
			if len(m.References) == 0 {
				chainlessSubjects[key] = true
			}
		}
	}

	seenThreads := make(map[string]bool)
	var threadIDs []string
	addThread := func(id string) {
		if id != "" && !seenThreads[id] {
			seenThreads[id] = true
			threadIDs = append(threadIDs, id)
		}
	}
	for i := range inRange {
		addThread(inRange[i].ThreadID)
	}

	// A reply arriving in a later window rarely carries its full
	// ancestry, so walk recent stored mail for rows the range chains to
	// or that the subject fallback would merge with. The threader still
	// decides the actual grouping; over-inclusion here is harmless.
	prior, err := tx.MessagesInRange(startUTC.AddDate(0, 0, -mergeLookbackDays), startUTC)
	if err != nil {
		return nil, nil, err
	}
	var linked []models.Message
	for i := range prior {
		p := &prior[i]
		join := ids[p.MessageID]
		for _, ref := range p.References {
			if join {
				break
			}
			join = ids[ref]
		}
		if !join {
			if key := thread.NormalizeSubject(p.Subject); key != "" {
				if len(p.References) == 0 {
					join = allSubjects[key]
				} else {
					join = chainlessSubjects[key]
				}
			}
		}
		if !join {
			continue
		}
		addThread(p.ThreadID)
		linked = append(linked, *p)
	}

	history, err := tx.MessagesForThreads(threadIDs)
	if err != nil {
		return nil, nil, err
	}

	byID := make(map[string]models.Message, len(inRange)+len(linked)+len(history))
	for _, m := range inRange {
		byID[m.MessageID] = m
	}
	for _, m := range linked {
		byID[m.MessageID] = m
	}
	for _, m := range history {
		byID[m.MessageID] = m
	}
	all := make([]models.Message, 0, len(byID))
	for _, m := range byID {
		all = append(all, m)
	}

	// Old assignments, so triage decisions can follow merged threads.
	oldIDs := make(map[string]string, len(all))
	for _, m := range all {
		oldIDs[m.MessageID] = m.ThreadID
	}

	threads := thread.Build(all)

	var assigned []models.Message
	for _, t := range threads {
		assigned = append(assigned, t.Messages...)
	}
	if err := migrateTriageStates(tx, threads, oldIDs); err != nil {
		return nil, nil, err
	}
	if err := tx.UpdateThreadAssignments(assigned); err != nil {
		return nil, nil, err
	}
	if err := tx.UpsertThreads(threads); err != nil {
		return nil, nil, err
	}

	// Window membership per thread, for classification and rendering.
	windowMsgs := make(map[string][]models.Message)
	for _, t := range threads {
		for _, m := range t.Messages {
			if !m.DateUTC.Before(startUTC) && m.DateUTC.Before(endUTC) {
				windowMsgs[t.ThreadID] = append(windowMsgs[t.ThreadID], m)
			}
		}
	}
	return threads, windowMsgs, nil
}

// migrateTriageStates carries user decisions over to threads whose id
// changed in a merge. When merged threads disagree, the state needing
// the most attention wins: open over done over ignored.
func migrateTriageStates(tx *store.Tx, threads []models.Thread, oldIDs map[string]string) error {
	rank := map[models.TriageStatus]int{
		models.TriageOpen:    2,
		models.TriageDone:    1,
		models.TriageIgnored: 0,
	}

	for i := range threads {
		t := &threads[i]

		existing, err := tx.GetTriageState(t.ThreadID, store.EntityTypeThread)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		var carried *models.TriageState
		seen := make(map[string]bool)
		for _, m := range t.Messages {
			old := oldIDs[m.MessageID]
			if old == "" || old == t.ThreadID || seen[old] {
				continue
			}
			seen[old] = true
			st, err := tx.GetTriageState(old, store.EntityTypeThread)
			if err != nil {
				return err
			}
			if st == nil {
				continue
			}
			if carried == nil || rank[st.Status] > rank[carried.Status] {
				carried = st
			}
		}
		if carried == nil {
			continue
		}
		// Keep the original decision time, otherwise the carried state
		// would look newer than the mail that triggered the merge.
		if err := tx.SetTriageStateAt(t.ThreadID, store.EntityTypeThread, carried.Status, carried.UpdatedAt); err != nil {
			return err
		}
	}
	return nil
}

// classify assigns a bucket to every thread with at least one message
// in the window, applying the triage transitions first: threads are
// opened on first sight, and a done thread is reopened when inbound
// mail newer than the done decision arrives unanswered. A thread
// marked done while still unreplied stays done until something new
// comes in.
func (r *Runner) classify(tx *store.Tx, threads []models.Thread, windowMsgs map[string][]models.Message, engine *rules.Engine, windowID string) ([]report.Entry, error) {
	var entries []report.Entry

	for i := range threads {
		t := &threads[i]
		msgs, ok := windowMsgs[t.ThreadID]
		if !ok {
			continue
		}

		state, err := tx.EnsureTriageState(t.ThreadID, store.EntityTypeThread)
		if err != nil {
			return nil, err
		}

		if state.Status == models.TriageDone && t.Unresolved() && t.LastInboundAt.After(state.UpdatedAt) {
			r.log.WithField("thread_id", t.ThreadID).Info("Reopening done thread after new inbound mail")
			if err := tx.SetTriageState(t.ThreadID, store.EntityTypeThread, models.TriageOpen); err != nil {
				return nil, err
			}
			state.Status = models.TriageOpen
		}

		res := engine.Classify(rules.Input{Thread: t, Messages: msgs, State: &state}, windowID)
		entries = append(entries, report.Entry{Thread: t, Result: res, WindowMessages: msgs})
	}
	return entries, nil
}

func (r *Runner) ensureAccounts(tx *store.Tx) error {
	for _, a := range r.Config.Accounts {
		if err := tx.EnsureAccount(a.ID, a.Identity.PrimaryAddress, a.Identity.Aliases); err != nil {
			return err
		}
	}
	return nil
}
