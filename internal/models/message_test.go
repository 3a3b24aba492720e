package models

import (
	"testing"
	"time"
)

func TestThread_Unresolved(t *testing.T) {
	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		inbound  time.Time
		outbound time.Time
		want     bool
	}{
		{
			name:    "no reply yet",
			inbound: base,
			want:    true,
		},
		{
			name:     "replied after last inbound",
			inbound:  base,
			outbound: base.Add(time.Hour),
			want:     false,
		},
		{
			name:     "new inbound after reply reopens",
			inbound:  base.Add(2 * time.Hour),
			outbound: base.Add(time.Hour),
			want:     true,
		},
		{
			name:     "simultaneous counts as unresolved",
			inbound:  base,
			outbound: base,
			want:     true,
		},
		{
			name:     "outbound only",
			outbound: base,
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := Thread{LastInboundAt: tt.inbound, LastOutboundAt: tt.outbound}
			if got := th.Unresolved(); got != tt.want {
				t.Errorf("Expected Unresolved()=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestMessage_Participants(t *testing.T) {
	m := Message{
		From: "alice@x.com",
		To:   []string{"bob@x.com", "alice@x.com"},
		Cc:   []string{"carol@x.com"},
	}

	got := m.Participants()
	for _, addr := range []string{"alice@x.com", "bob@x.com", "carol@x.com"} {
		if _, ok := got[addr]; !ok {
			t.Errorf("Expected participant %s", addr)
		}
	}
	if len(got) != 3 {
		t.Errorf("Expected 3 unique participants, got %d", len(got))
	}
}
