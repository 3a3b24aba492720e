package models

import "time"

// TriageStatus is the user-owned decision on an entity.
type TriageStatus string

const (
	TriageOpen    TriageStatus = "open"
	TriageDone    TriageStatus = "done"
	TriageIgnored TriageStatus = "ignored"
)

// TriageState records a triage decision for a message or thread.
// Once a user sets done or ignored, re-ingestion never flips it back
// to open; only a newer inbound message arriving after resolution may
// reopen a thread.
type TriageState struct {
	EntityID  string
	Status    TriageStatus
	UpdatedAt time.Time
}

// Bucket is the final classification outcome for an entity. The set
// is closed so rule precedence stays exhaustive.
type Bucket string

const (
	BucketHighPriority Bucket = "high_priority"
	BucketArrivalOnly  Bucket = "arrival_only"
	BucketNormal       Bucket = "normal"
	BucketSuppressed   Bucket = "suppressed"
)

// RenderedBuckets is the fixed presentation order; suppressed entities
// are counted but never rendered.
var RenderedBuckets = []Bucket{BucketHighPriority, BucketArrivalOnly, BucketNormal}

// ClassificationResult is produced per run and never persisted.
type ClassificationResult struct {
	EntityID    string
	Bucket      Bucket
	MatchedRule string
	WindowID    string
}
