// Package store persists message identity and triage decisions in a
// single local SQLite file. Message rows exist for deduplication of
// ingestion; triage_state rows are user-owned and survive across runs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"mailtriage/internal/models"
)

// TimeFormat is the canonical stored timestamp form. Lexicographic
// order over these strings matches chronological order, which the
// range queries rely on.
const TimeFormat = "2006-01-02T15:04:05Z"

// EntityTypeThread and EntityTypeMessage scope triage_state rows.
// Watch rules use their own synthetic types for cooldown bookkeeping.
const (
	EntityTypeThread  = "thread"
	EntityTypeMessage = "message"
)

// SchemaError reports a database whose schema does not match this
// build. It is fatal; the run must not reinterpret unknown rows.
type SchemaError struct {
	Msg string
}

func (e *SchemaError) Error() string { return "store: " + e.Msg }

// IsSchemaError reports whether err is a schema compatibility failure.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// Store wraps the SQLite state database.
type Store struct {
	db *sqlx.DB

	// Clock overrides the timestamp source for written rows; nil means
	// time.Now. Tests inject a fixed clock.
	Clock func() time.Time
}

func (s *Store) nowUTC() string {
	now := time.Now
	if s.Clock != nil {
		now = s.Clock
	}
	return now().UTC().Format(TimeFormat)
}

// Open opens (or creates) the state database at path, applies the
// frozen schema when the file is new and verifies the recorded schema
// version and hash otherwise.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	for key, value := range map[string]string{
		"schema_version": schemaVersion,
		"schema_hash":    schemaHash(),
	} {
		if _, err := s.db.Exec(
			"INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", key, value,
		); err != nil {
			return fmt.Errorf("writing meta %s: %w", key, err)
		}
	}

	var version, hash string
	if err := s.db.Get(&version, "SELECT value FROM meta WHERE key='schema_version'"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version != schemaVersion {
		return &SchemaError{Msg: fmt.Sprintf(
			"database schema version %s, this build expects %s; refusing to run",
			version, schemaVersion,
		)}
	}
	if err := s.db.Get(&hash, "SELECT value FROM meta WHERE key='schema_hash'"); err != nil {
		return fmt.Errorf("reading schema hash: %w", err)
	}
	if hash != schemaHash() {
		return &SchemaError{Msg: "database schema hash mismatch; this build expects a different frozen schema"}
	}
	return nil
}

// Tx is one transaction scope. All of a window's reads and writes run
// inside a single Tx so a crash mid-run leaves either the pre-run or
// the fully-updated state.
type Tx struct {
	tx *sqlx.Tx
	st *Store
}

// WithinTx runs fn inside a transaction, committing on success and
// rolling back on error or panic.
func (s *Store) WithinTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx, st: s}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// EnsureAccount records account identity, satisfying the messages
// foreign key. Idempotent.
func (t *Tx) EnsureAccount(id, primaryAddress string, aliases []string) error {
	blob, err := json.Marshal(aliases)
	if err != nil {
		return fmt.Errorf("marshaling aliases: %w", err)
	}
	_, err = t.tx.Exec(`
		INSERT OR IGNORE INTO accounts (id, primary_address, aliases, created_at_utc)
		VALUES (?, ?, ?, ?)`,
		id, primaryAddress, string(blob), t.st.nowUTC(),
	)
	if err != nil {
		return fmt.Errorf("ensuring account %s: %w", id, err)
	}
	return nil
}

// IsKnown reports whether a message id has been ingested before, so
// callers can skip re-extracting a body they already processed.
func (t *Tx) IsKnown(messageID string) (bool, error) {
	var n int
	err := t.tx.Get(&n, "SELECT COUNT(*) FROM messages WHERE message_id = ?", messageID)
	if err != nil {
		return false, fmt.Errorf("checking message %s: %w", messageID, err)
	}
	return n > 0, nil
}

// RecordMessages upserts a batch of normalized messages. Re-inserting
// a known message id is a no-op; identity fields are never clobbered.
func (t *Tx) RecordMessages(msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	stmt, err := t.tx.Preparex(`
		INSERT OR IGNORE INTO messages (
			message_id, account_id, folder, date_utc,
			sender, recipients_to, recipients_cc, subject,
			inbound, outbound,
			extracted_new_text, has_attachments, attachment_names,
			reference_ids, thread_id, created_at_utc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing message insert: %w", err)
	}
	defer stmt.Close()

	for i := range msgs {
		m := &msgs[i]
		to, cc, refs, err := marshalLists(m)
		if err != nil {
			return err
		}
		var attachments interface{}
		if len(m.AttachmentNames) > 0 {
			blob, err := json.Marshal(m.AttachmentNames)
			if err != nil {
				return fmt.Errorf("marshaling attachment names: %w", err)
			}
			attachments = string(blob)
		}

		_, err = stmt.Exec(
			m.MessageID, m.AccountID, m.Folder, m.DateUTC.UTC().Format(TimeFormat),
			m.From, to, cc, m.Subject,
			boolToInt(m.Inbound), boolToInt(m.Outbound),
			m.ExtractedNewText, boolToInt(m.HasAttachments), attachments,
			refs, m.ThreadID, t.st.nowUTC(),
		)
		if err != nil {
			return fmt.Errorf("recording message %s: %w", m.MessageID, err)
		}
	}
	return nil
}

// UpdateThreadAssignments rewrites the cached thread id of existing
// rows after re-threading has merged conversations.
func (t *Tx) UpdateThreadAssignments(msgs []models.Message) error {
	stmt, err := t.tx.Preparex("UPDATE messages SET thread_id = ? WHERE message_id = ? AND thread_id <> ?")
	if err != nil {
		return fmt.Errorf("preparing thread assignment update: %w", err)
	}
	defer stmt.Close()

	for i := range msgs {
		m := &msgs[i]
		if _, err := stmt.Exec(m.ThreadID, m.MessageID, m.ThreadID); err != nil {
			return fmt.Errorf("updating thread for %s: %w", m.MessageID, err)
		}
	}
	return nil
}

// UpsertThreads replaces the cached classification inputs for the
// given threads and prunes thread rows no message references anymore.
func (t *Tx) UpsertThreads(threads []models.Thread) error {
	stmt, err := t.tx.Preparex(`
		INSERT INTO threads (thread_id, participants, last_inbound_at_utc, last_outbound_at_utc, created_at_utc)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			participants = excluded.participants,
			last_inbound_at_utc = excluded.last_inbound_at_utc,
			last_outbound_at_utc = excluded.last_outbound_at_utc`)
	if err != nil {
		return fmt.Errorf("preparing thread upsert: %w", err)
	}
	defer stmt.Close()

	for i := range threads {
		th := &threads[i]
		blob, err := json.Marshal(th.Participants)
		if err != nil {
			return fmt.Errorf("marshaling participants: %w", err)
		}
		_, err = stmt.Exec(
			th.ThreadID, string(blob),
			nullableTime(th.LastInboundAt), nullableTime(th.LastOutboundAt),
			t.st.nowUTC(),
		)
		if err != nil {
			return fmt.Errorf("upserting thread %s: %w", th.ThreadID, err)
		}
	}

	if _, err := t.tx.Exec(
		"DELETE FROM threads WHERE thread_id NOT IN (SELECT DISTINCT thread_id FROM messages)",
	); err != nil {
		return fmt.Errorf("pruning threads: %w", err)
	}
	return nil
}

// MessagesInRange returns stored messages whose date falls in the
// half-open UTC interval, in chronological order.
func (t *Tx) MessagesInRange(startUTC, endUTC time.Time) ([]models.Message, error) {
	rows, err := t.tx.Queryx(`
		SELECT * FROM messages
		WHERE date_utc >= ? AND date_utc < ?
		ORDER BY date_utc ASC, message_id ASC`,
		startUTC.UTC().Format(TimeFormat), endUTC.UTC().Format(TimeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages in range: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MessagesForThreads returns all stored messages belonging to the
// given cached thread ids.
func (t *Tx) MessagesForThreads(threadIDs []string) ([]models.Message, error) {
	if len(threadIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In("SELECT * FROM messages WHERE thread_id IN (?)", threadIDs)
	if err != nil {
		return nil, fmt.Errorf("building thread query: %w", err)
	}
	rows, err := t.tx.Queryx(t.tx.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying thread messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetTriageState returns the recorded state for an entity, or nil when
// the entity has never been triaged.
func (t *Tx) GetTriageState(entityID, entityType string) (*models.TriageState, error) {
	return getTriageState(t.tx, entityID, entityType)
}

// SetTriageState upserts a triage decision. Always allowed: used both
// by explicit user action and by the automated resolved-to-unresolved
// transition when new inbound mail reopens a thread.
func (t *Tx) SetTriageState(entityID, entityType string, status models.TriageStatus) error {
	return setTriageState(t.tx, entityID, entityType, status, t.st.nowUTC())
}

// SetTriageStateAt records a state with an explicit timestamp. Used
// when carrying a decision over to a new thread id, where the original
// decision time must survive.
func (t *Tx) SetTriageStateAt(entityID, entityType string, status models.TriageStatus, at time.Time) error {
	return setTriageState(t.tx, entityID, entityType, status, at.UTC().Format(TimeFormat))
}

// EnsureTriageState creates an open state on first classification and
// returns the current state either way. An existing done/ignored state
// is never reset here.
func (t *Tx) EnsureTriageState(entityID, entityType string) (models.TriageState, error) {
	_, err := t.tx.Exec(`
		INSERT OR IGNORE INTO triage_state (entity_id, entity_type, state, updated_at_utc)
		VALUES (?, ?, ?, ?)`,
		entityID, entityType, string(models.TriageOpen), t.st.nowUTC(),
	)
	if err != nil {
		return models.TriageState{}, fmt.Errorf("ensuring triage state for %s: %w", entityID, err)
	}
	st, err := t.GetTriageState(entityID, entityType)
	if err != nil {
		return models.TriageState{}, err
	}
	return *st, nil
}

// RecordRunWindow appends bookkeeping for a processed window.
func (t *Tx) RecordRunWindow(startUTC, endUTC time.Time) error {
	_, err := t.tx.Exec(
		"INSERT INTO run_log (window_start_utc, window_end_utc, recorded_at_utc) VALUES (?, ?, ?)",
		startUTC.UTC().Format(TimeFormat), endUTC.UTC().Format(TimeFormat), t.st.nowUTC(),
	)
	if err != nil {
		return fmt.Errorf("recording run window: %w", err)
	}
	return nil
}

// MessagesSince returns all stored messages dated at or after the
// cutoff, newest last. Used by the watch command outside any window
// transaction.
func (s *Store) MessagesSince(cutoff time.Time) ([]models.Message, error) {
	rows, err := s.db.Queryx(`
		SELECT * FROM messages
		WHERE date_utc >= ?
		ORDER BY date_utc ASC, message_id ASC`,
		cutoff.UTC().Format(TimeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages since cutoff: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// IsKnown is the non-transactional variant used during ingestion to
// skip body parsing for messages already in the store.
func (s *Store) IsKnown(messageID string) (bool, error) {
	var n int
	err := s.db.Get(&n, "SELECT COUNT(*) FROM messages WHERE message_id = ?", messageID)
	if err != nil {
		return false, fmt.Errorf("checking message %s: %w", messageID, err)
	}
	return n > 0, nil
}

// GetTriageState is the non-transactional variant used by watch.
func (s *Store) GetTriageState(entityID, entityType string) (*models.TriageState, error) {
	return getTriageState(s.db, entityID, entityType)
}

// SetTriageState is the non-transactional variant used by watch.
func (s *Store) SetTriageState(entityID, entityType string, status models.TriageStatus) error {
	return setTriageState(s.db, entityID, entityType, status, s.nowUTC())
}

type sqlxQueryer interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func getTriageState(q sqlxQueryer, entityID, entityType string) (*models.TriageState, error) {
	var row struct {
		State     string `db:"state"`
		UpdatedAt string `db:"updated_at_utc"`
	}
	err := q.Get(&row,
		"SELECT state, updated_at_utc FROM triage_state WHERE entity_id = ? AND entity_type = ?",
		entityID, entityType,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading triage state for %s: %w", entityID, err)
	}

	updated, err := time.Parse(TimeFormat, row.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing triage timestamp for %s: %w", entityID, err)
	}
	return &models.TriageState{
		EntityID:  entityID,
		Status:    models.TriageStatus(row.State),
		UpdatedAt: updated,
	}, nil
}

func setTriageState(q sqlxQueryer, entityID, entityType string, status models.TriageStatus, now string) error {
	_, err := q.Exec(`
		INSERT INTO triage_state (entity_id, entity_type, state, updated_at_utc)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_id, entity_type) DO UPDATE SET
			state = excluded.state,
			updated_at_utc = excluded.updated_at_utc`,
		entityID, entityType, string(status), now,
	)
	if err != nil {
		return fmt.Errorf("setting triage state for %s: %w", entityID, err)
	}
	return nil
}

// messageRow mirrors the messages table for sqlx scanning.
type messageRow struct {
	MessageID        string         `db:"message_id"`
	AccountID        string         `db:"account_id"`
	Folder           string         `db:"folder"`
	DateUTC          string         `db:"date_utc"`
	Sender           string         `db:"sender"`
	RecipientsTo     string         `db:"recipients_to"`
	RecipientsCc     string         `db:"recipients_cc"`
	Subject          string         `db:"subject"`
	Inbound          int            `db:"inbound"`
	Outbound         int            `db:"outbound"`
	ExtractedNewText string         `db:"extracted_new_text"`
	HasAttachments   int            `db:"has_attachments"`
	AttachmentNames  sql.NullString `db:"attachment_names"`
	ReferenceIDs     string         `db:"reference_ids"`
	ThreadID         string         `db:"thread_id"`
	CreatedAtUTC     string         `db:"created_at_utc"`
}

func scanMessages(rows *sqlx.Rows) ([]models.Message, error) {
	var out []models.Message
	for rows.Next() {
		var r messageRow
		if err := rows.StructScan(&r); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		m, err := r.toMessage()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *messageRow) toMessage() (models.Message, error) {
	date, err := time.Parse(TimeFormat, r.DateUTC)
	if err != nil {
		return models.Message{}, fmt.Errorf("parsing date for %s: %w", r.MessageID, err)
	}

	m := models.Message{
		MessageID:        r.MessageID,
		AccountID:        r.AccountID,
		Folder:           r.Folder,
		DateUTC:          date,
		From:             r.Sender,
		Subject:          r.Subject,
		Inbound:          r.Inbound != 0,
		Outbound:         r.Outbound != 0,
		ExtractedNewText: r.ExtractedNewText,
		HasAttachments:   r.HasAttachments != 0,
		ThreadID:         r.ThreadID,
	}

	for _, col := range []struct {
		blob string
		dest *[]string
	}{
		{r.RecipientsTo, &m.To},
		{r.RecipientsCc, &m.Cc},
		{r.ReferenceIDs, &m.References},
	} {
		if col.blob == "" {
			continue
		}
		if err := json.Unmarshal([]byte(col.blob), col.dest); err != nil {
			return models.Message{}, fmt.Errorf("unmarshaling list for %s: %w", r.MessageID, err)
		}
	}
	if r.AttachmentNames.Valid && r.AttachmentNames.String != "" {
		if err := json.Unmarshal([]byte(r.AttachmentNames.String), &m.AttachmentNames); err != nil {
			return models.Message{}, fmt.Errorf("unmarshaling attachments for %s: %w", r.MessageID, err)
		}
	}
	return m, nil
}

func marshalLists(m *models.Message) (to, cc, refs string, err error) {
	toB, err := json.Marshal(emptyIfNil(m.To))
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling recipients: %w", err)
	}
	ccB, err := json.Marshal(emptyIfNil(m.Cc))
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling cc recipients: %w", err)
	}
	refB, err := json.Marshal(emptyIfNil(m.References))
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling references: %w", err)
	}
	return string(toB), string(ccB), string(refB), nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(TimeFormat)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
