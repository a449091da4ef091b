package engine

import (
	"fmt"
	"sort"
	"strings"

	"static-probe-analyzer/internal/model"
)

// Rule is one vendor-neutral filtering rule. Nil predicates match any
// request.
type Rule struct {
	Ordinal int
	ID      string
	Text    string
	Enabled bool

	NegateSource      bool
	NegateDestination bool
	NegateService     bool

	Source      *Predicate
	Destination *Predicate
	Service     *Predicate

	Action          model.Action
	ImplicitDefault bool
}

// Match applies each predicate, negates it when asked, and conjoins the
// three verdicts.
func (r *Rule) Match(req *Request) model.MatchResult {
	if r.ImplicitDefault {
		return model.MatchAll
	}
	src := r.Source.MatchSource(req)
	if r.NegateSource {
		src = src.Negate()
	}
	if src == model.MatchNot {
		return model.MatchNot
	}
	dst := r.Destination.MatchDestination(req)
	if r.NegateDestination {
		dst = dst.Negate()
	}
	if dst == model.MatchNot {
		return model.MatchNot
	}
	svc := r.Service.MatchService(req)
	if r.NegateService {
		svc = svc.Negate()
	}
	return model.Conjoin(src, dst, svc)
}

func (r *Rule) String() string {
	if r.Text != "" {
		return r.Text
	}
	if r.ImplicitDefault {
		return "implicit " + r.Action.String()
	}
	return fmt.Sprintf("rule %s %s", r.ID, r.Action)
}

// RuleSet is an ordered rule list ending in an implicit default rule.
type RuleSet struct {
	Name    string
	Rules   []*Rule
	Default *Rule
}

// NewRuleSet orders rules by ordinal, keeping load order for ties.
func NewRuleSet(name string, rules []*Rule, defaultAction model.Action) *RuleSet {
	sorted := append([]*Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Ordinal < sorted[j].Ordinal
	})
	return &RuleSet{
		Name:  name,
		Rules: sorted,
		Default: &Rule{
			ID:              "default",
			Text:            "implicit " + defaultAction.String(),
			Enabled:         true,
			Action:          defaultAction,
			ImplicitDefault: true,
		},
	}
}

// TraceEntry is one rule that did not rule out the request.
type TraceEntry struct {
	Rule    *Rule
	Verdict model.MatchResult
}

func (e TraceEntry) Action() model.Action { return e.Rule.Action }

func (e TraceEntry) String() string {
	return fmt.Sprintf("%-7s %-6s %s", e.Verdict, strings.ToUpper(e.Rule.Action.String()), e.Rule)
}

// Trace is the audit record of one rule set evaluation.
type Trace struct {
	RuleSet string
	Entries []TraceEntry
}

// Evaluate runs every enabled rule of rs against req. The trace keeps every
// rule whose verdict is not NOT, in order, followed by the default rule.
// A nil rule set means the interface is not filtered.
func Evaluate(rs *RuleSet, req *Request) Trace {
	if rs == nil {
		return Trace{}
	}
	trace := Trace{RuleSet: rs.Name}
	for _, rule := range rs.Rules {
		if !rule.Enabled {
			continue
		}
		if v := rule.Match(req); v != model.MatchNot {
			trace.Entries = append(trace.Entries, TraceEntry{Rule: rule, Verdict: v})
		}
	}
	if rs.Default != nil {
		trace.Entries = append(trace.Entries, TraceEntry{Rule: rs.Default, Verdict: model.MatchAll})
	}
	return trace
}

// Active returns the first entry, the rule that decides the packet.
func (t Trace) Active() (TraceEntry, bool) {
	if len(t.Entries) == 0 {
		return TraceEntry{}, false
	}
	return t.Entries[0], true
}

// Filtered reports whether a rule set was applied.
func (t Trace) Filtered() bool { return t.RuleSet != "" || len(t.Entries) > 0 }

// Result is the decision of the active rule; an uncertain verdict adds
// MAY. An unfiltered trace accepts.
func (t Trace) Result() AclResult {
	active, ok := t.Active()
	if !ok {
		return AclAccept
	}
	var r AclResult
	switch active.Action() {
	case model.Accept:
		r = AclAccept
	case model.Deny, model.Reject:
		r = AclDeny
	case model.Auth:
		r = AclAccept | AclMay
	case model.LayerCall:
		r = AclMatch | AclMay
	}
	if active.Verdict != model.MatchAll {
		r |= AclMay
	}
	return r
}

// AclResult is a set of filtering outcomes.
type AclResult uint8

const (
	AclAccept AclResult = 1 << iota
	AclDeny
	AclMatch
	AclMay AclResult = 1 << 7
)

func (a AclResult) Has(flag AclResult) bool { return a&flag != 0 }

// Concat chains the results of two filters crossed in sequence.
func (a AclResult) Concat(b AclResult) AclResult {
	// certain deny
	if (a.Has(AclDeny) && !a.Has(AclMay)) || (b.Has(AclDeny) && !b.Has(AclMay)) {
		return AclDeny
	}
	if a.Has(AclDeny) || b.Has(AclDeny) {
		return AclMay | AclDeny
	}
	var r AclResult
	if a.Has(AclMay) || b.Has(AclMay) {
		r |= AclMay
	}
	if a.Has(AclAccept) && b.Has(AclAccept) {
		return r | AclAccept
	}
	if a.Has(AclMatch) || b.Has(AclMatch) {
		return r | AclMatch
	}
	return 0
}

func (a AclResult) String() string {
	var parts []string
	if a.Has(AclMay) {
		parts = append(parts, "MAY")
	}
	if a.Has(AclAccept) {
		parts = append(parts, "ACCEPT")
	}
	if a.Has(AclDeny) {
		parts = append(parts, "DENY")
	}
	if a.Has(AclMatch) {
		parts = append(parts, "MATCH")
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, " ")
}
