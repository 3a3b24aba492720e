package models

import "time"

// Message represents one physical email after normalization.
type Message struct {
	MessageID string
	AccountID string
	Folder    string
	DateUTC   time.Time

	From string
	To   []string
	Cc   []string

	Subject string

	// Inbound and Outbound are mutually exclusive; Outbound is set when
	// the sender matches the account's primary address or one of its
	// aliases.
	Inbound  bool
	Outbound bool

	ExtractedNewText string
	HasAttachments   bool
	AttachmentNames  []string

	// References holds the normalized message-id tokens from the
	// References and In-Reply-To headers, used by the threader.
	References []string

	// ThreadID is assigned by the threader; empty until then.
	ThreadID string
}

// Participants returns the lowercased set of all addresses on the
// message (sender plus recipients).
func (m *Message) Participants() map[string]struct{} {
	set := make(map[string]struct{}, 1+len(m.To)+len(m.Cc))
	if m.From != "" {
		set[m.From] = struct{}{}
	}
	for _, a := range m.To {
		set[a] = struct{}{}
	}
	for _, a := range m.Cc {
		set[a] = struct{}{}
	}
	return set
}

// Thread is a derived conversation grouping. Threads are recomputed
// from the message set on every run; the stored rows only cache
// classification inputs.
type Thread struct {
	ThreadID     string
	Participants []string // sorted

	// Zero time means "no such message yet" and compares as older
	// than any real timestamp.
	LastInboundAt  time.Time
	LastOutboundAt time.Time

	Messages []Message // chronological
}

// Unresolved reports whether the thread still awaits a reply: true
// unless the latest outbound message is strictly later than the latest
// inbound one.
func (t *Thread) Unresolved() bool {
	if t.LastOutboundAt.IsZero() {
		return true
	}
	return !t.LastOutboundAt.After(t.LastInboundAt)
}

// LastActivity returns the newer of the thread's inbound/outbound
// timestamps.
func (t *Thread) LastActivity() time.Time {
	if t.LastOutboundAt.After(t.LastInboundAt) {
		return t.LastOutboundAt
	}
	return t.LastInboundAt
}
