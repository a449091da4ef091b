package engine

import (
	"testing"

	"static-probe-analyzer/internal/model"
	"static-probe-analyzer/internal/netaddr"
	"static-probe-analyzer/internal/service"
)

func httpRequest(t *testing.T, src, dst string) *Request {
	t.Helper()
	protos := service.MustProtocolSet(service.ProtoTCP)
	dport := service.MustPortSpec(service.OpEQ, 80)
	return &Request{
		Source:      mustParse(t, src),
		Destination: mustParse(t, dst),
		Protocols:   &protos,
		DestPort:    &dport,
	}
}

func mustParse(t *testing.T, s string) netaddr.Range {
	t.Helper()
	r, err := netaddr.Parse(s)
	if err != nil {
		t.Fatalf("failed to parse %q: %v", s, err)
	}
	return r
}

func tcpService(name string, op service.PortOperator, ports ...int) *Predicate {
	protos := service.MustProtocolSet(service.ProtoTCP)
	dport := service.MustPortSpec(op, ports...)
	return NewService(name, ServiceMatch{Protocols: &protos, DestPort: &dport})
}

func TestEvaluateKeepsFullTraceAndFirstMatchWins(t *testing.T) {
	lan := NewAddress("lan", mustParse(t, "10.0.0.0/24"))
	web := NewAddress("web", mustParse(t, "192.168.1.0/24"))
	http := tcpService("http", service.OpEQ, 80)

	rules := []*Rule{
		{Ordinal: 200, ID: "200", Enabled: true, Source: lan, Destination: web, Service: http, Action: model.Accept},
		{Ordinal: 100, ID: "100", Enabled: true, Source: lan, Destination: web, Service: http, Action: model.Deny},
		{Ordinal: 150, ID: "150", Enabled: false, Action: model.Accept},
		{Ordinal: 160, ID: "160", Enabled: true, Destination: NewAddress("elsewhere", mustParse(t, "172.16.0.0/12")), Action: model.Accept},
	}
	rs := NewRuleSet("fw", rules, model.Deny)
	trace := Evaluate(rs, httpRequest(t, "10.0.0.10", "192.168.1.20"))

	if len(trace.Entries) != 3 {
		t.Fatalf("expected deny, accept and default entries, got %d: %v", len(trace.Entries), trace.Entries)
	}
	active, _ := trace.Active()
	if active.Rule.ID != "100" || active.Action() != model.Deny {
		t.Fatalf("expected rule 100 to be active, got %s", active.Rule.ID)
	}
	if trace.Entries[1].Rule.ID != "200" || trace.Entries[1].Verdict != model.MatchAll {
		t.Errorf("expected rule 200 to stay visible after the active rule")
	}
	if !trace.Entries[2].Rule.ImplicitDefault || trace.Entries[2].Verdict != model.MatchAll {
		t.Errorf("expected the implicit default last")
	}
	for _, e := range trace.Entries {
		if e.Rule.ID == "150" {
			t.Errorf("disabled rule must not appear in the trace")
		}
	}
	if trace.Result() != AclDeny {
		t.Errorf("expected DENY, got %s", trace.Result())
	}
}

func TestEvaluatePartialVerdictAddsMay(t *testing.T) {
	rules := []*Rule{{
		Ordinal: 1, Enabled: true,
		Source: NewAddress("half", mustParse(t, "10.0.0.0/25")),
		Action: model.Accept,
	}}
	trace := Evaluate(NewRuleSet("fw", rules, model.Deny), httpRequest(t, "10.0.0.0/24", "192.168.1.1"))
	active, _ := trace.Active()
	if active.Verdict != model.MatchSome {
		t.Fatalf("expected MATCH for a request broader than the rule, got %s", active.Verdict)
	}
	if got := trace.Result(); got != AclAccept|AclMay {
		t.Fatalf("expected MAY ACCEPT, got %s", got)
	}
}

func TestRuleNegationAppliesBeforeConjunction(t *testing.T) {
	lan := NewAddress("lan", mustParse(t, "10.0.0.0/24"))
	rule := &Rule{Enabled: true, Source: lan, NegateSource: true, Service: tcpService("http", service.OpEQ, 80), Action: model.Deny}

	if got := rule.Match(httpRequest(t, "10.0.0.1", "1.1.1.1")); got != model.MatchNot {
		t.Errorf("expected negated source to exclude lan hosts, got %s", got)
	}
	if got := rule.Match(httpRequest(t, "10.9.0.1", "1.1.1.1")); got != model.MatchAll {
		t.Errorf("expected negated source to select hosts outside lan, got %s", got)
	}
	if got := rule.Match(httpRequest(t, "10.0.0.0/23", "1.1.1.1")); got != model.MatchSome {
		t.Errorf("expected partial verdict to survive negation, got %s", got)
	}
}

func TestEvaluateNilRuleSetIsUnfiltered(t *testing.T) {
	trace := Evaluate(nil, httpRequest(t, "10.0.0.1", "10.0.0.2"))
	if trace.Filtered() || len(trace.Entries) != 0 {
		t.Fatalf("expected an empty trace, got %v", trace)
	}
	if trace.Result() != AclAccept {
		t.Fatalf("expected unfiltered traffic to be accepted, got %s", trace.Result())
	}
}

func TestAclResultConcat(t *testing.T) {
	cases := []struct {
		name string
		a, b AclResult
		want AclResult
	}{
		{"accept accept", AclAccept, AclAccept, AclAccept},
		{"certain deny wins", AclAccept | AclMay, AclDeny, AclDeny},
		{"uncertain deny", AclAccept, AclDeny | AclMay, AclDeny | AclMay},
		{"may propagates", AclAccept | AclMay, AclAccept, AclAccept | AclMay},
		{"match", AclAccept, AclMatch, AclMatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Concat(tc.b); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
	if s := (AclAccept | AclMay).String(); s != "MAY ACCEPT" {
		t.Errorf("unexpected string %q", s)
	}
}
