package parser

import (
	"strings"
	"testing"

	"static-probe-analyzer/internal/engine"
	"static-probe-analyzer/internal/model"
	"static-probe-analyzer/pkg/wellknown"
)

func parseFortiGate(t *testing.T, lines ...string) *Config {
	t.Helper()
	cfg, err := NewFortiGateParser("fw.conf", strings.NewReader(strings.Join(lines, "\n")), wellknown.MustLoad()).Parse()
	if err != nil {
		t.Fatalf("expected parse to succeed, got %v", err)
	}
	return cfg
}

func hasWarning(warnings []engine.Warning, reason string) bool {
	for _, w := range warnings {
		if w.Reason == reason {
			return true
		}
	}
	return false
}

func TestFortiGateParserBuildsRuleSet(t *testing.T) {
	cfg := parseFortiGate(t,
		"config firewall address",
		"edit \"all\"",
		"next",
		"edit \"addr1\"",
		"set type ipmask",
		"set subnet 10.0.0.0 255.255.255.0",
		"next",
		"edit \"addr-range\"",
		"set type iprange",
		"set start-ip 192.168.1.10",
		"set end-ip 192.168.1.20",
		"next",
		"edit \"fqdn-obj\"",
		"set type fqdn",
		"set fqdn \"example.com\"",
		"next",
		"end",
		"config firewall addrgrp",
		"edit \"grp1\"",
		"set member \"addr1\" \"addr-range\"",
		"next",
		"end",
		"config firewall service custom",
		"edit \"svc1\"",
		"set tcp-portrange 80-81",
		"next",
		"edit \"svc-udp\"",
		"set udp-portrange 5000-5005",
		"next",
		"edit \"svc-eq\"",
		"set tcp-portrange=90",
		"next",
		"edit \"PING\"",
		"set protocol ICMP",
		"set icmptype 8",
		"next",
		"end",
		"config firewall service group",
		"edit \"svcgrp\"",
		"set member \"svc1\" \"DNS\" \"svc-udp\"",
		"next",
		"end",
		"config firewall policy",
		"edit 1",
		"set name \"policy one\"",
		"set srcaddr \"grp1\"",
		"set dstaddr \"all\"",
		"set service \"svcgrp\" \"svc-eq\" \"PING\"",
		"set action accept",
		"set status enable",
		"next",
		"edit 2",
		"set srcaddr \"all\"",
		"set dstaddr \"all\"",
		"set service \"ALL\"",
		"set action accept",
		"set status disable",
		"next",
		"edit 3",
		"set srcaddr \"fqdn-obj\"",
		"set dstaddr \"addr1\"",
		"set service \"ALL\"",
		"set action accept",
		"next",
		"end",
	)
	if len(cfg.Policies) != 3 {
		t.Fatalf("expected 3 policies, got %d", len(cfg.Policies))
	}
	if cfg.Policies[0].Name != "policy one" {
		t.Errorf("expected policy name to keep its blank, got %q", cfg.Policies[0].Name)
	}
	if !cfg.Policies[1].Disabled {
		t.Errorf("expected policy 2 to be disabled")
	}

	rs, err := cfg.RuleSet("fw", model.Deny)
	if err != nil {
		t.Fatalf("RuleSet: %v", err)
	}
	if !hasWarning(cfg.Warnings, "unsupported expression") {
		t.Errorf("expected a warning for the fqdn object, got %v", cfg.Warnings)
	}

	tests := []struct {
		name string
		req  *engine.Request
		want engine.AclResult
	}{
		{"custom tcp range", request(t, "10.0.0.5", "1.2.3.4", "tcp", "81"), engine.AclAccept},
		{"well-known dns", request(t, "10.0.0.5", "1.2.3.4", "udp", "53"), engine.AclAccept},
		{"custom udp range", request(t, "192.168.1.15", "1.2.3.4", "udp", "5002"), engine.AclAccept},
		{"port with equals sign", request(t, "192.168.1.20", "1.2.3.4", "tcp", "90"), engine.AclAccept},
		{"icmp type", request(t, "10.0.0.5", "1.2.3.4", "icmp", "echo-request"), engine.AclAccept},
		{"fqdn source is uncertain", request(t, "172.16.0.1", "10.0.0.9", "tcp", "80"), engine.AclAccept | engine.AclMay},
		{"disabled rule ignored", request(t, "172.16.0.1", "1.2.3.4", "tcp", "80"), engine.AclDeny},
		{"outside range", request(t, "192.168.1.21", "1.2.3.4", "tcp", "90"), engine.AclDeny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.Evaluate(rs, tt.req).Result(); got != tt.want {
				t.Fatalf("result = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFortiGateParserKeepsConfigOrder(t *testing.T) {
	cfg := parseFortiGate(t,
		"config firewall policy",
		"edit 20",
		"set action deny",
		"next",
		"edit 10",
		"set action accept",
		"next",
		"end",
	)
	rs, err := cfg.RuleSet("fw", model.Deny)
	if err != nil {
		t.Fatalf("RuleSet: %v", err)
	}
	active, ok := engine.Evaluate(rs, request(t, "10.0.0.1", "10.0.0.2", "tcp", "22")).Active()
	if !ok || active.Rule.ID != "20" {
		t.Fatalf("expected policy 20 to decide, got %v", active.Rule)
	}
}

func TestFortiGateParserNegation(t *testing.T) {
	cfg := parseFortiGate(t,
		"config firewall address",
		"edit \"lan\"",
		"set subnet 10.0.0.0/8",
		"next",
		"end",
		"config firewall policy",
		"edit 1",
		"set srcaddr \"lan\"",
		"set srcaddr-negate enable",
		"set action deny",
		"next",
		"edit 2",
		"set action accept",
		"next",
		"end",
	)
	rs, err := cfg.RuleSet("fw", model.Deny)
	if err != nil {
		t.Fatalf("RuleSet: %v", err)
	}
	if got := engine.Evaluate(rs, request(t, "10.1.2.3", "8.8.8.8", "", "")).Result(); got != engine.AclAccept {
		t.Errorf("inside lan: result = %v, want ACCEPT", got)
	}
	if got := engine.Evaluate(rs, request(t, "11.1.2.3", "8.8.8.8", "", "")).Result(); got != engine.AclDeny {
		t.Errorf("outside lan: result = %v, want DENY", got)
	}
}

func TestFortiGateParserWildcardAddress(t *testing.T) {
	cfg := parseFortiGate(t,
		"config firewall address",
		"edit \"gw-any-site\"",
		"set type wildcard",
		"set wildcard 10.0.0.1 255.0.255.255",
		"next",
		"end",
		"config firewall policy",
		"edit 1",
		"set dstaddr \"gw-any-site\"",
		"set action accept",
		"next",
		"end",
	)
	rs, err := cfg.RuleSet("fw", model.Deny)
	if err != nil {
		t.Fatalf("RuleSet: %v", err)
	}
	if got := engine.Evaluate(rs, request(t, "192.0.2.1", "10.77.0.1", "", "")).Result(); got != engine.AclAccept {
		t.Errorf("10.77.0.1: result = %v, want ACCEPT", got)
	}
	if got := engine.Evaluate(rs, request(t, "192.0.2.1", "10.77.0.2", "", "")).Result(); got != engine.AclDeny {
		t.Errorf("10.77.0.2: result = %v, want DENY", got)
	}
}

// This test checks that bad references degrade to warnings rather than
// failing the load.
func TestFortiGateParserReferenceWarnings(t *testing.T) {
	cfg := parseFortiGate(t,
		"config firewall addrgrp",
		"edit \"A\"",
		"set member \"B\"",
		"next",
		"edit \"B\"",
		"set member \"A\" \"ghost\"",
		"next",
		"end",
		"config firewall policy",
		"edit 1",
		"set srcaddr \"A\"",
		"set action accept",
		"next",
		"end",
	)
	rs, err := cfg.RuleSet("fw", model.Deny)
	if err != nil {
		t.Fatalf("RuleSet: %v", err)
	}
	if !hasWarning(cfg.Warnings, "cyclic reference") {
		t.Errorf("expected a cyclic reference warning, got %v", cfg.Warnings)
	}
	if !hasWarning(cfg.Warnings, "unresolved reference") {
		t.Errorf("expected an unresolved reference warning, got %v", cfg.Warnings)
	}
	// must terminate
	engine.Evaluate(rs, request(t, "10.0.0.1", "10.0.0.2", "", ""))

	if _, err := cfg.RuleSet("fw", model.Deny); err != ErrAlreadyBuilt {
		t.Errorf("second RuleSet: err = %v, want ErrAlreadyBuilt", err)
	}
}

func TestFortiGateParserErrors(t *testing.T) {
	configs := []string{
		"config firewall address\nedit addr1\nset type ipmask",
		"config firewall addrgrp\nedit grp1\nset member addr1",
		"config firewall service custom\nedit svc1\nset tcp-portrange 80",
		"config firewall service group\nedit svcgrp\nset member svc1",
		"config firewall policy\nedit 1\nset action accept",
		"config firewall address\nedit bad\nset subnet 10.0.0.300 255.255.255.0\nnext\nend",
		"config firewall service custom\nedit svc1\nset tcp-portrange 80-x\nnext\nend",
		"config firewall address\nedit a\nnext\nedit a\nnext\nend",
	}

	for _, cfg := range configs {
		_, err := NewFortiGateParser("fw.conf", strings.NewReader(cfg), wellknown.MustLoad()).Parse()
		if err == nil {
			t.Errorf("expected error for config: %s", cfg)
			continue
		}
		if !strings.HasPrefix(err.Error(), "fw.conf:") {
			t.Errorf("error lacks position: %v", err)
		}
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{`set member "a b" c`, []string{"set", "member", "a b", "c"}},
		{`set comments "say \"hi\""`, []string{"set", "comments", `say "hi"`}},
		{`edit ""`, []string{"edit", ""}},
		{"  next ", []string{"next"}},
	}
	for _, tt := range tests {
		got := tokenize(tt.line)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("tokenize(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}
