// Package thread groups normalized messages into conversations.
//
// Thread identity is a deterministic function of message linkage: a
// disjoint-set union over reference-chain tokens, with a normalized
// subject plus participant-overlap fallback for messages that carry no
// chain at all. Running the threader over a superset of messages never
// splits a grouping computed for any subset, which is what makes
// re-ingestion over overlapping windows idempotent.
package thread

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"mailtriage/internal/models"
)

// dsu is a disjoint-set forest keyed by string identifiers.
type dsu struct {
	parent map[string]string
}

func newDSU() *dsu {
	return &dsu{parent: make(map[string]string)}
}

func (d *dsu) find(x string) string {
	p, ok := d.parent[x]
	if !ok {
		d.parent[x] = x
		return x
	}
	if p == x {
		return x
	}
	root := d.find(p)
	d.parent[x] = root
	return root
}

// union merges two sets; the lexicographically smaller root wins so
// the result is independent of input order.
func (d *dsu) union(a, b string) {
	ra, rb := d.find(a), d.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	d.parent[rb] = ra
}

var subjectPrefixRE = regexp.MustCompile(`(?i)^\s*(re|fw|fwd)\s*:\s*`)

// NormalizeSubject strips reply/forward prefixes repeatedly, collapses
// whitespace and lowercases, yielding the subject key used by the
// no-chain fallback.
func NormalizeSubject(s string) string {
	for {
		ns := subjectPrefixRE.ReplaceAllString(s, "")
		if ns == s {
			break
		}
		s = ns
	}
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Build assigns every message a thread identifier and returns one
// Thread per conversation, messages in chronological order. The input
// slice is not modified; returned threads carry copies with ThreadID
// set.
func Build(messages []models.Message) []models.Thread {
	msgs := make([]models.Message, len(messages))
	copy(msgs, messages)

	// Deterministic processing order regardless of fetch order.
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].MessageID < msgs[j].MessageID })

	d := newDSU()

	// Reference-chain linkage: each message joins its own id with every
	// token it references. Messages that share any token end up in one
	// component.
	for i := range msgs {
		self := midKey(msgs[i].MessageID)
		d.find(self)
		for _, ref := range msgs[i].References {
			d.union(self, midKey(ref))
		}
	}

	// Subject fallback for messages without any chain: merge with any
	// message sharing the normalized subject when the participant sets
	// overlap. A message that has a reference chain never consults its
	// subject for its own placement; chain linkage always wins.
	bySubject := make(map[string][]int)
	for i := range msgs {
		key := NormalizeSubject(msgs[i].Subject)
		if key == "" {
			continue
		}
		bySubject[key] = append(bySubject[key], i)
	}
	for _, idxs := range bySubject {
		for _, i := range idxs {
			if len(msgs[i].References) > 0 {
				continue
			}
			for _, j := range idxs {
				if i == j {
					continue
				}
				if participantsOverlap(&msgs[i], &msgs[j]) {
					d.union(midKey(msgs[i].MessageID), midKey(msgs[j].MessageID))
				}
			}
		}
	}

	// Thread id: hash of the smallest key in the component, so it
	// depends only on linkage, never on message content.
	components := make(map[string][]int)
	smallest := make(map[string]string)
	for i := range msgs {
		root := d.find(midKey(msgs[i].MessageID))
		components[root] = append(components[root], i)
	}
	for key := range d.parent {
		root := d.find(key)
		if cur, ok := smallest[root]; !ok || key < cur {
			smallest[root] = key
		}
	}

	var threads []models.Thread
	for root, idxs := range components {
		tid := hashKey(smallest[root])

		t := models.Thread{ThreadID: tid}
		participants := make(map[string]struct{})

		for _, i := range idxs {
			msgs[i].ThreadID = tid
			m := msgs[i]

			for a := range m.Participants() {
				participants[a] = struct{}{}
			}
			if m.Inbound && m.DateUTC.After(t.LastInboundAt) {
				t.LastInboundAt = m.DateUTC
			}
			if m.Outbound && m.DateUTC.After(t.LastOutboundAt) {
				t.LastOutboundAt = m.DateUTC
			}
			t.Messages = append(t.Messages, m)
		}

		sort.Slice(t.Messages, func(a, b int) bool {
			if !t.Messages[a].DateUTC.Equal(t.Messages[b].DateUTC) {
				return t.Messages[a].DateUTC.Before(t.Messages[b].DateUTC)
			}
			return t.Messages[a].MessageID < t.Messages[b].MessageID
		})

		t.Participants = make([]string, 0, len(participants))
		for a := range participants {
			t.Participants = append(t.Participants, a)
		}
		sort.Strings(t.Participants)

		threads = append(threads, t)
	}

	sort.Slice(threads, func(i, j int) bool { return threads[i].ThreadID < threads[j].ThreadID })
	return threads
}

func midKey(messageID string) string {
	return "mid:" + strings.ToLower(messageID)
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func participantsOverlap(a, b *models.Message) bool {
	pa := a.Participants()
	for addr := range b.Participants() {
		if _, ok := pa[addr]; ok {
			return true
		}
	}
	return false
}
