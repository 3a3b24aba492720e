package rules

import (
	"testing"
	"time"

	"mailtriage/internal/models"
)

func boolp(b bool) *bool { return &b }

var when = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func inboundMsg(from, subject string) models.Message {
	return models.Message{
		MessageID: from + "/" + subject,
		DateUTC:   when,
		From:      from,
		Subject:   subject,
		Inbound:   true,
	}
}

func singleThread(msgs ...models.Message) Input {
	t := &models.Thread{ThreadID: "t1", Messages: msgs}
	for _, m := range msgs {
		if m.Inbound && m.DateUTC.After(t.LastInboundAt) {
			t.LastInboundAt = m.DateUTC
		}
		if m.Outbound && m.DateUTC.After(t.LastOutboundAt) {
			t.LastOutboundAt = m.DateUTC
		}
	}
	return Input{Thread: t, Messages: msgs}
}

func TestClassify_Precedence(t *testing.T) {
	cfg := models.RulesConfig{
		HighPrioritySenders: []string{"boss@example.com"},
		Suppress: models.PatternRules{
			Subjects: []string{"Automated Report"},
		},
		ArrivalOnly: models.PatternRules{
			Senders: []string{"newsletter@"},
		},
	}
	engine, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		in         Input
		wantBucket models.Bucket
		wantRule   string
	}{
		{
			name:       "suppress outranks high priority",
			in:         singleThread(inboundMsg("boss@example.com", "Automated Report")),
			wantBucket: models.BucketSuppressed,
			wantRule:   RuleSuppressSubject,
		},
		{
			name:       "arrival only outranks high priority",
			in:         singleThread(inboundMsg("newsletter@list.example.com", "From the boss"), inboundMsg("boss@example.com", "FYI")),
			wantBucket: models.BucketArrivalOnly,
			wantRule:   RuleArrivalSender,
		},
		{
			name:       "high priority sender",
			in:         singleThread(inboundMsg("boss@example.com", "Need this today")),
			wantBucket: models.BucketHighPriority,
			wantRule:   RuleHighPriority,
		},
		{
			name:       "automated sender collapsed",
			in:         singleThread(inboundMsg("noreply@service.example.com", "Your receipt")),
			wantBucket: models.BucketArrivalOnly,
			wantRule:   RuleCollapseAutomated,
		},
		{
			name:       "default",
			in:         singleThread(inboundMsg("colleague@example.com", "Lunch?")),
			wantBucket: models.BucketNormal,
			wantRule:   RuleDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := engine.Classify(tt.in, "2025-01-15")
			if res.Bucket != tt.wantBucket {
				t.Errorf("Expected bucket %s, got %s", tt.wantBucket, res.Bucket)
			}
			if res.MatchedRule != tt.wantRule {
				t.Errorf("Expected rule %s, got %s", tt.wantRule, res.MatchedRule)
			}
		})
	}
}

func TestClassify_SubstringMatch(t *testing.T) {
	engine, err := New(models.RulesConfig{
		Suppress: models.PatternRules{Subjects: []string{"Daily Dashboard"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	in := singleThread(inboundMsg("rt@example.com", "[RT] Daily Dashboard - Tickets Updated"))
	res := engine.Classify(in, "w")
	if res.Bucket != models.BucketSuppressed {
		t.Errorf("Expected substring pattern to match inside subject, got %s", res.Bucket)
	}
}

func TestClassify_RegexPattern(t *testing.T) {
	engine, err := New(models.RulesConfig{
		ArrivalOnly: models.PatternRules{Senders: []string{`/^builds?@/`}},
	})
	if err != nil {
		t.Fatal(err)
	}

	res := engine.Classify(singleThread(inboundMsg("build@ci.example.com", "Build #42")), "w")
	if res.Bucket != models.BucketArrivalOnly {
		t.Errorf("Expected regex sender match, got %s", res.Bucket)
	}

	res = engine.Classify(singleThread(inboundMsg("rebuild@ci.example.com", "Build #42")), "w")
	if res.Bucket == models.BucketArrivalOnly && res.MatchedRule == RuleArrivalSender {
		t.Error("Expected anchored regex not to match rebuild@")
	}
}

func TestNew_InvalidRegexIsConfigFailure(t *testing.T) {
	_, err := New(models.RulesConfig{
		Suppress: models.PatternRules{Senders: []string{`/[unclosed/`}},
	})
	if err == nil {
		t.Fatal("Expected invalid regex to fail engine construction")
	}
}

func TestClassify_TriageStates(t *testing.T) {
	engine, err := New(models.RulesConfig{
		HighPrioritySenders: []string{"boss@example.com"},
	})
	if err != nil {
		t.Fatal(err)
	}

	in := singleThread(inboundMsg("boss@example.com", "Urgent"))

	// Ignored always suppresses, even for high priority senders.
	in.State = &models.TriageState{EntityID: "t1", Status: models.TriageIgnored}
	res := engine.Classify(in, "w")
	if res.Bucket != models.BucketSuppressed || res.MatchedRule != RuleTriageIgnored {
		t.Errorf("Expected ignored thread suppressed, got %s via %s", res.Bucket, res.MatchedRule)
	}

	// Done suppresses only while the thread is resolved.
	resolved := singleThread(
		inboundMsg("boss@example.com", "Urgent"),
		models.Message{MessageID: "out", DateUTC: when.Add(time.Hour), From: "me@example.com", Outbound: true},
	)
	resolved.State = &models.TriageState{EntityID: "t1", Status: models.TriageDone}
	res = engine.Classify(resolved, "w")
	if res.Bucket != models.BucketSuppressed || res.MatchedRule != RuleTriageDone {
		t.Errorf("Expected resolved done thread suppressed, got %s via %s", res.Bucket, res.MatchedRule)
	}

	// Done with inbound mail newer than the decision falls through to
	// the rules.
	unresolved := singleThread(inboundMsg("boss@example.com", "Urgent"))
	unresolved.State = &models.TriageState{EntityID: "t1", Status: models.TriageDone, UpdatedAt: when.Add(-time.Hour)}
	res = engine.Classify(unresolved, "w")
	if res.Bucket != models.BucketHighPriority {
		t.Errorf("Expected unresolved done thread classified normally, got %s", res.Bucket)
	}

	// Done on an unreplied thread stays suppressed while nothing new
	// arrives; the user decided no reply was needed.
	stale := singleThread(inboundMsg("boss@example.com", "Urgent"))
	stale.State = &models.TriageState{EntityID: "t1", Status: models.TriageDone, UpdatedAt: when.Add(time.Hour)}
	res = engine.Classify(stale, "w")
	if res.Bucket != models.BucketSuppressed || res.MatchedRule != RuleTriageDone {
		t.Errorf("Expected done thread without new inbound suppressed, got %s via %s", res.Bucket, res.MatchedRule)
	}
}

func TestClassify_CollapseAutomatedDisabled(t *testing.T) {
	engine, err := New(models.RulesConfig{CollapseAutomated: boolp(false)})
	if err != nil {
		t.Fatal(err)
	}

	res := engine.Classify(singleThread(inboundMsg("noreply@service.example.com", "Receipt")), "w")
	if res.Bucket != models.BucketNormal {
		t.Errorf("Expected automated collapse disabled, got %s", res.Bucket)
	}
}

func TestClassify_MixedSendersNotCollapsed(t *testing.T) {
	engine, err := New(models.RulesConfig{})
	if err != nil {
		t.Fatal(err)
	}

	in := singleThread(
		inboundMsg("noreply@service.example.com", "Ticket update"),
		inboundMsg("human@example.com", "Re: Ticket update"),
	)
	res := engine.Classify(in, "w")
	if res.Bucket != models.BucketNormal {
		t.Errorf("Expected thread with a human sender kept normal, got %s", res.Bucket)
	}
}
