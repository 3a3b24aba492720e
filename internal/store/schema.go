package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// schemaSQL is the frozen v1 schema. There are no implicit migrations:
// a database whose recorded schema hash differs from this text is
// refused outright rather than silently reinterpreted.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id              TEXT PRIMARY KEY,
	primary_address TEXT NOT NULL,
	aliases         TEXT NOT NULL,
	created_at_utc  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	message_id         TEXT PRIMARY KEY,
	account_id         TEXT NOT NULL,
	folder             TEXT NOT NULL,
	date_utc           TEXT NOT NULL,
	sender             TEXT NOT NULL,
	recipients_to      TEXT NOT NULL,
	recipients_cc      TEXT NOT NULL,
	subject            TEXT NOT NULL,
	inbound            INTEGER NOT NULL,
	outbound           INTEGER NOT NULL,
	extracted_new_text TEXT NOT NULL DEFAULT '',
	has_attachments    INTEGER NOT NULL,
	attachment_names   TEXT,
	reference_ids      TEXT NOT NULL DEFAULT '[]',
	thread_id          TEXT NOT NULL,
	created_at_utc     TEXT NOT NULL,
	FOREIGN KEY (account_id) REFERENCES accounts(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
CREATE INDEX IF NOT EXISTS idx_messages_date ON messages(date_utc);
CREATE INDEX IF NOT EXISTS idx_messages_account ON messages(account_id);

CREATE TABLE IF NOT EXISTS threads (
	thread_id            TEXT PRIMARY KEY,
	participants         TEXT NOT NULL,
	last_inbound_at_utc  TEXT,
	last_outbound_at_utc TEXT,
	created_at_utc       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS triage_state (
	entity_id      TEXT NOT NULL,
	entity_type    TEXT NOT NULL,
	state          TEXT NOT NULL,
	updated_at_utc TEXT NOT NULL,
	PRIMARY KEY (entity_id, entity_type)
);

CREATE TABLE IF NOT EXISTS run_log (
	window_start_utc TEXT NOT NULL,
	window_end_utc   TEXT NOT NULL,
	recorded_at_utc  TEXT NOT NULL
);
`

const schemaVersion = "1"

// schemaHash fingerprints the frozen schema text.
func schemaHash() string {
	sum := sha256.Sum256([]byte(schemaSQL))
	return hex.EncodeToString(sum[:])
}
