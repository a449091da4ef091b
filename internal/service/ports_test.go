package service

import (
	"errors"
	"reflect"
	"testing"

	"static-probe-analyzer/internal/model"
)

func TestNewPortSpecCompilesRanges(t *testing.T) {
	cases := []struct {
		name  string
		op    PortOperator
		ports []int
		want  []PortRange
	}{
		{"none", OpNone, nil, nil},
		{"any", OpAny, nil, []PortRange{{0, 65535}}},
		{"eq", OpEQ, []int{80}, []PortRange{{80, 80}}},
		{"neq", OpNEQ, []int{80}, []PortRange{{0, 79}, {81, 65535}}},
		{"neq zero", OpNEQ, []int{0}, []PortRange{{1, 65535}}},
		{"lt", OpLT, []int{1024}, []PortRange{{0, 1023}}},
		{"lt zero", OpLT, []int{0}, nil},
		{"lte", OpLTE, []int{1024}, []PortRange{{0, 1024}}},
		{"gt", OpGT, []int{1023}, []PortRange{{1024, 65535}}},
		{"gt max", OpGT, []int{65535}, nil},
		{"gte", OpGTE, []int{1024}, []PortRange{{1024, 65535}}},
		{"range", OpRange, []int{2000, 1000}, []PortRange{{1000, 2000}}},
		{"range exclusive", OpRangeExclusive, []int{1000, 2000}, []PortRange{{1001, 1999}}},
		{"range exclusive empty", OpRangeExclusive, []int{10, 11}, nil},
		{"exclude", OpExclude, []int{1000, 2000}, []PortRange{{0, 999}, {2001, 65535}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec, err := NewPortSpec(tc.op, tc.ports...)
			if err != nil {
				t.Fatalf("expected valid spec, got %v", err)
			}
			if got := spec.Ranges(); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestNewPortSpecRejectsBadInput(t *testing.T) {
	if _, err := NewPortSpec(OpEQ, 70000); !errors.Is(err, ErrInvalidPort) {
		t.Errorf("expected ErrInvalidPort, got %v", err)
	}
	if _, err := NewPortSpec(OpRange, 1); !errors.Is(err, ErrInvalidOperator) {
		t.Errorf("expected ErrInvalidOperator for missing operand, got %v", err)
	}
	if _, err := NewPortSpec(PortOperator(99), 1); !errors.Is(err, ErrInvalidOperator) {
		t.Errorf("expected ErrInvalidOperator for unknown operator, got %v", err)
	}
}

func TestPortSpecMatches(t *testing.T) {
	cases := []struct {
		name      string
		req, rule PortSpec
		want      model.MatchResult
	}{
		{"eq inside range", MustPortSpec(OpEQ, 80), MustPortSpec(OpRange, 1, 1024), model.MatchAll},
		{"eq outside range", MustPortSpec(OpEQ, 80), MustPortSpec(OpRange, 1, 79), model.MatchNot},
		{"partial overlap", MustPortSpec(OpRange, 70, 90), MustPortSpec(OpRange, 1, 79), model.MatchSome},
		{"none never matches", MustPortSpec(OpNone), MustPortSpec(OpAny), model.MatchNot},
		{"empty lt", MustPortSpec(OpLT, 0), MustPortSpec(OpAny), model.MatchNot},
		{"any against eq", MustPortSpec(OpAny), MustPortSpec(OpEQ, 22), model.MatchSome},
		{"neq covered by union", MustPortSpec(OpRange, 10, 20), MustPortSpec(OpNEQ, 80), model.MatchAll},
		{"range spanning hole", MustPortSpec(OpRange, 70, 90), MustPortSpec(OpNEQ, 80), model.MatchSome},
		{"eq against neq same port", MustPortSpec(OpEQ, 80), MustPortSpec(OpNEQ, 80), model.MatchNot},
		{"any against exclude", MustPortSpec(OpAny), MustPortSpec(OpExclude, 100, 200), model.MatchSome},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.req.Matches(tc.rule); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestParsePortSpec(t *testing.T) {
	cases := map[string][]PortRange{
		"80":        {{80, 80}},
		"1000-2000": {{1000, 2000}},
		"any":       {{0, 65535}},
		">1023":     {{1024, 65535}},
		"<=80":      {{0, 80}},
		"!22":       {{0, 21}, {23, 65535}},
		"ne 22":     {{0, 21}, {23, 65535}},
		"range 5 9": {{5, 9}},
	}
	for in, want := range cases {
		spec, err := ParsePortSpec(in)
		if err != nil {
			t.Errorf("ParsePortSpec(%q) failed: %v", in, err)
			continue
		}
		if got := spec.Ranges(); !reflect.DeepEqual(got, want) {
			t.Errorf("ParsePortSpec(%q) = %v, expected %v", in, got, want)
		}
	}
	if _, err := ParsePortSpec("http"); !errors.Is(err, ErrInvalidPort) {
		t.Errorf("expected ErrInvalidPort for a service name, got %v", err)
	}
}

func TestProtocolSetMatchesIsBinary(t *testing.T) {
	tcpUDP := MustProtocolSet(ProtoTCP, ProtoUDP, ProtoTCP)
	if tcpUDP.Len() != 2 {
		t.Fatalf("expected duplicates to collapse, got %v", tcpUDP)
	}
	if got := tcpUDP.Matches(MustProtocolSet(ProtoTCP)); got != model.MatchAll {
		t.Errorf("expected ALL on shared protocol, got %s", got)
	}
	if got := tcpUDP.Matches(MustProtocolSet(ProtoICMP)); got != model.MatchNot {
		t.Errorf("expected NOT on disjoint sets, got %s", got)
	}
	if _, err := NewProtocolSet(256); !errors.Is(err, ErrInvalidProtocol) {
		t.Errorf("expected ErrInvalidProtocol, got %v", err)
	}
}

func TestICMPSpecMatches(t *testing.T) {
	echo := ICMPSpec{Type: 8, Code: AnyCode}
	unreach := ICMPSpec{Type: 3, Code: 4}
	cases := []struct {
		name      string
		spec      ICMPSpec
		typ, code int
		want      model.MatchResult
	}{
		{"wildcard code", echo, 8, 0, model.MatchAll},
		{"type mismatch", echo, 0, 0, model.MatchNot},
		{"code equal", unreach, 3, 4, model.MatchAll},
		{"code differs", unreach, 3, 1, model.MatchNot},
		{"request without code", unreach, 3, AnyCode, model.MatchSome},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.spec.Matches(tc.typ, tc.code); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestTCPFlags(t *testing.T) {
	syn, err := ParseTCPFlags("S")
	if err != nil {
		t.Fatalf("expected flags to parse, got %v", err)
	}
	synAck, _ := ParseTCPFlags("SA")
	if synAck.String() != "AS" {
		t.Errorf("expected canonical order AS, got %s", synAck)
	}
	if !syn.TestAll("Sa") || synAck.TestAll("Sa") {
		t.Errorf("expected Sa to select only initial SYN packets")
	}
	if !synAck.TestAny("FA") || syn.TestAny("FA") {
		t.Errorf("unexpected TestAny result")
	}
	if _, err := ParseTCPFlags("SX"); !errors.Is(err, ErrInvalidFlag) {
		t.Errorf("expected ErrInvalidFlag, got %v", err)
	}

	established, _ := NewFlagsMatch("A", false)
	if got := established.Matches([]TCPFlags{syn, synAck}); got != model.MatchSome {
		t.Errorf("expected MATCH for mixed alternatives, got %s", got)
	}
	if got := established.Matches([]TCPFlags{synAck}); got != model.MatchAll {
		t.Errorf("expected ALL, got %s", got)
	}
	if got := established.Matches([]TCPFlags{syn}); got != model.MatchNot {
		t.Errorf("expected NOT, got %s", got)
	}
}
