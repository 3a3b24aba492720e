// Package rules classifies threads into report buckets. Precedence is
// fixed and total: triage decisions first, then suppress, then
// arrival-only, then high-priority senders, then the automated-sender
// heuristic, then normal. Classification is recomputed every run and
// never persisted.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"mailtriage/internal/config"
	"mailtriage/internal/models"
)

// Matched-rule identifiers carried into report artifacts.
const (
	RuleTriageIgnored     = "triage.ignored"
	RuleTriageDone        = "triage.done"
	RuleSuppressSender    = "suppress.senders"
	RuleSuppressSubject   = "suppress.subjects"
	RuleArrivalSender     = "arrival_only.senders"
	RuleArrivalSubject    = "arrival_only.subjects"
	RuleHighPriority      = "high_priority_senders"
	RuleCollapseAutomated = "collapse_automated"
	RuleDefault           = "default"
)

// matcher tests one configured pattern against a candidate string.
type matcher struct {
	substring string         // lowercased, used when re is nil
	re        *regexp.Regexp // set for /.../ patterns
}

func (m *matcher) match(s string) bool {
	if m.re != nil {
		return m.re.MatchString(s)
	}
	return strings.Contains(strings.ToLower(s), m.substring)
}

// compile builds matchers for a pattern list. A pattern wrapped in
// slashes is a case-insensitive regular expression; anything else is a
// case-insensitive substring. An invalid regex is a configuration
// failure, not a skipped rule.
func compile(field string, patterns []string) ([]matcher, error) {
	out := make([]matcher, 0, len(patterns))
	for _, p := range patterns {
		if len(p) > 2 && strings.HasPrefix(p, "/") && strings.HasSuffix(p, "/") {
			re, err := regexp.Compile("(?i)" + p[1:len(p)-1])
			if err != nil {
				return nil, &config.Error{Field: field, Msg: fmt.Sprintf("invalid regex pattern %q: %v", p, err)}
			}
			out = append(out, matcher{re: re})
			continue
		}
		out = append(out, matcher{substring: strings.ToLower(p)})
	}
	return out, nil
}

// Engine holds the compiled rule set for one run.
type Engine struct {
	highPriority    []matcher
	suppressSender  []matcher
	suppressSubject []matcher
	arrivalSender   []matcher
	arrivalSubject  []matcher
	collapseAuto    bool
}

// New compiles the configured rules. Pattern errors are fatal so a
// typo never silently drops a suppression.
func New(cfg models.RulesConfig) (*Engine, error) {
	e := &Engine{collapseAuto: cfg.CollapseAutomatedEnabled()}

	var err error
	if e.highPriority, err = compile("rules.high_priority_senders", cfg.HighPrioritySenders); err != nil {
		return nil, err
	}
	if e.suppressSender, err = compile("rules.suppress.senders", cfg.Suppress.Senders); err != nil {
		return nil, err
	}
	if e.suppressSubject, err = compile("rules.suppress.subjects", cfg.Suppress.Subjects); err != nil {
		return nil, err
	}
	if e.arrivalSender, err = compile("rules.arrival_only.senders", cfg.ArrivalOnly.Senders); err != nil {
		return nil, err
	}
	if e.arrivalSubject, err = compile("rules.arrival_only.subjects", cfg.ArrivalOnly.Subjects); err != nil {
		return nil, err
	}
	return e, nil
}

// Input is one thread to classify: the thread, the subset of its
// messages inside the reporting window, and its triage state if any.
type Input struct {
	Thread   *models.Thread
	Messages []models.Message
	State    *models.TriageState
}

// Classify assigns a bucket to the thread. The first matching level
// in the precedence order wins; later levels are never consulted.
func (e *Engine) Classify(in Input, windowID string) models.ClassificationResult {
	res := models.ClassificationResult{
		EntityID: in.Thread.ThreadID,
		WindowID: windowID,
	}

	if in.State != nil {
		switch in.State.Status {
		case models.TriageIgnored:
			res.Bucket = models.BucketSuppressed
			res.MatchedRule = RuleTriageIgnored
			return res
		case models.TriageDone:
			// A done thread stays suppressed until inbound mail newer
			// than the decision arrives. The pipeline reopens such
			// threads before classification, so this branch normally
			// only sees threads with nothing new to say.
			if !in.Thread.Unresolved() || !in.Thread.LastInboundAt.After(in.State.UpdatedAt) {
				res.Bucket = models.BucketSuppressed
				res.MatchedRule = RuleTriageDone
				return res
			}
		}
	}

	if rule, ok := e.matchAny(in.Messages, e.suppressSender, e.suppressSubject, RuleSuppressSender, RuleSuppressSubject); ok {
		res.Bucket = models.BucketSuppressed
		res.MatchedRule = rule
		return res
	}
	if rule, ok := e.matchAny(in.Messages, e.arrivalSender, e.arrivalSubject, RuleArrivalSender, RuleArrivalSubject); ok {
		res.Bucket = models.BucketArrivalOnly
		res.MatchedRule = rule
		return res
	}
	for i := range in.Messages {
		m := &in.Messages[i]
		if !m.Inbound {
			continue
		}
		for _, mt := range e.highPriority {
			if mt.match(m.From) {
				res.Bucket = models.BucketHighPriority
				res.MatchedRule = RuleHighPriority
				return res
			}
		}
	}
	if e.collapseAuto && allAutomated(in.Messages) {
		res.Bucket = models.BucketArrivalOnly
		res.MatchedRule = RuleCollapseAutomated
		return res
	}

	res.Bucket = models.BucketNormal
	res.MatchedRule = RuleDefault
	return res
}

// matchAny checks sender patterns against inbound senders and subject
// patterns against every message subject.
func (e *Engine) matchAny(msgs []models.Message, senders, subjects []matcher, senderRule, subjectRule string) (string, bool) {
	for i := range msgs {
		m := &msgs[i]
		if m.Inbound {
			for _, mt := range senders {
				if mt.match(m.From) {
					return senderRule, true
				}
			}
		}
		for _, mt := range subjects {
			if mt.match(m.Subject) {
				return subjectRule, true
			}
		}
	}
	return "", false
}

var automatedLocalparts = []string{
	"no-reply", "noreply", "do-not-reply", "donotreply",
	"notification", "notifications", "mailer-daemon", "automated", "bounce",
}

// allAutomated reports whether every inbound sender in the window looks
// machine-generated. A single human sender keeps the thread out of the
// collapsed bucket.
func allAutomated(msgs []models.Message) bool {
	sawInbound := false
	for i := range msgs {
		m := &msgs[i]
		if !m.Inbound {
			continue
		}
		sawInbound = true
		if !isAutomatedSender(m.From) {
			return false
		}
	}
	return sawInbound
}

func isAutomatedSender(addr string) bool {
	local := strings.ToLower(addr)
	if at := strings.Index(local, "@"); at >= 0 {
		local = local[:at]
	}
	for _, marker := range automatedLocalparts {
		if strings.Contains(local, marker) {
			return true
		}
	}
	return false
}
