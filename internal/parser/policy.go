package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"static-probe-analyzer/internal/engine"
	"static-probe-analyzer/internal/model"
	"static-probe-analyzer/internal/netaddr"
	"static-probe-analyzer/internal/service"
	"static-probe-analyzer/pkg/wellknown"
)

// ErrAlreadyBuilt is returned when a Config is turned into a rule set twice.
var ErrAlreadyBuilt = errors.New("rule set already built from this configuration")

// Policy is a vendor-neutral rule row whose fields reference objects by
// name. The mapstructure tags let topology files declare rules inline.
type Policy struct {
	ID                string   `mapstructure:"id"`
	Ordinal           int      `mapstructure:"ordinal"`
	Name              string   `mapstructure:"name"`
	Source            []string `mapstructure:"source"`
	Destination       []string `mapstructure:"destination"`
	Service           []string `mapstructure:"service"`
	NegateSource      bool     `mapstructure:"negate_source"`
	NegateDestination bool     `mapstructure:"negate_destination"`
	NegateService     bool     `mapstructure:"negate_service"`
	Action            string   `mapstructure:"action"`
	Disabled          bool     `mapstructure:"disabled"`
}

func (p Policy) describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "policy %s", p.ID)
	if p.Name != "" {
		fmt.Fprintf(&b, " %q", p.Name)
	}
	field := func(label string, neg bool, names []string) {
		b.WriteString(" " + label + "=")
		if neg {
			b.WriteString("!")
		}
		if len(names) == 0 {
			b.WriteString("all")
			return
		}
		b.WriteString(strings.Join(names, ","))
	}
	field("src", p.NegateSource, p.Source)
	field("dst", p.NegateDestination, p.Destination)
	field("svc", p.NegateService, p.Service)
	b.WriteString(" " + strings.ToLower(p.Action))
	return b.String()
}

// Config is a loaded configuration: named address and service objects plus
// the policies that reference them. Addresses and services live in
// separate namespaces.
type Config struct {
	Addresses *engine.Objects
	Services  *engine.Objects
	Policies  []Policy
	Warnings  []engine.Warning

	tables  *wellknown.Tables
	builtin map[string]bool
	built   bool
}

// NewConfig returns an empty configuration holding the built-in objects
// every FortiGate knows.
func NewConfig(tables *wellknown.Tables) *Config {
	c := &Config{
		Addresses: engine.NewObjects(),
		Services:  engine.NewObjects(),
		tables:    tables,
		builtin:   map[string]bool{"all": true, "none": true, "ALL": true},
	}
	c.Addresses.Add(&engine.Predicate{Kind: engine.KindAny, Name: "all"})
	c.Addresses.Add(engine.NewAddress("none"))
	c.Services.Add(&engine.Predicate{Kind: engine.KindAny, Name: "ALL"})
	for name, proto := range map[string]int{
		"ALL_TCP":   service.ProtoTCP,
		"ALL_UDP":   service.ProtoUDP,
		"ALL_ICMP":  service.ProtoICMP,
		"ALL_ICMP6": service.ProtoICMPv6,
	} {
		set := service.MustProtocolSet(proto)
		c.builtin[name] = true
		c.Services.Add(engine.NewService(name, engine.ServiceMatch{Protocols: &set}))
	}
	return c
}

// RuleSet links the objects and compiles the policies in order. Problems
// with references are collected in Warnings. It may be called once.
func (c *Config) RuleSet(name string, defaultAction model.Action) (*engine.RuleSet, error) {
	if c.built {
		return nil, ErrAlreadyBuilt
	}
	c.built = true

	for _, g := range c.Addresses.All() {
		for i, m := range g.Members {
			g.Members[i] = c.implicitAddress(m)
		}
	}
	for _, g := range c.Services.All() {
		for i, m := range g.Members {
			g.Members[i] = c.implicitService(m)
		}
	}

	rules := make([]*engine.Rule, 0, len(c.Policies))
	for i, p := range c.Policies {
		action, err := model.ParseAction(p.Action)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.ID, err)
		}
		ordinal := p.Ordinal
		if ordinal == 0 {
			ordinal = i + 1
		}
		label := "policy " + p.ID
		rules = append(rules, &engine.Rule{
			Ordinal:           ordinal,
			ID:                p.ID,
			Text:              p.describe(),
			Enabled:           !p.Disabled,
			NegateSource:      p.NegateSource,
			NegateDestination: p.NegateDestination,
			NegateService:     p.NegateService,
			Source:            c.addressRef(label+" srcaddr", p.Source),
			Destination:       c.addressRef(label+" dstaddr", p.Destination),
			Service:           c.serviceRef(label+" service", p.Service),
			Action:            action,
		})
	}
	c.Warnings = append(c.Warnings, c.Addresses.Resolve()...)
	c.Warnings = append(c.Warnings, c.Services.Resolve()...)
	return engine.NewRuleSet(name, rules, defaultAction), nil
}

func (c *Config) addressRef(label string, names []string) *engine.Predicate {
	if len(names) == 0 {
		return nil
	}
	resolved := make([]string, len(names))
	for i, n := range names {
		resolved[i] = c.implicitAddress(n)
	}
	return c.Addresses.Reference(label, resolved...)
}

func (c *Config) serviceRef(label string, names []string) *engine.Predicate {
	if len(names) == 0 {
		return nil
	}
	resolved := make([]string, len(names))
	for i, n := range names {
		resolved[i] = c.implicitService(n)
	}
	return c.Services.Reference(label, resolved...)
}

// implicitAddress accepts literal networks where an object name is
// expected and returns the name to reference.
func (c *Config) implicitAddress(name string) string {
	if _, ok := c.Addresses.Lookup(name); ok {
		return name
	}
	if strings.EqualFold(name, "all") || strings.EqualFold(name, "any") {
		return "all"
	}
	if r, err := netaddr.Parse(name); err == nil {
		c.Addresses.Add(engine.NewAddress(name, r))
	}
	return name
}

var adhocService = regexp.MustCompile(`(?i)^(tcp|udp|sctp)[_/](\d+)(?:-(\d+))?$`)

// implicitService falls back to well-known names and to "tcp_8000-8080"
// style literals for services nobody defined.
func (c *Config) implicitService(name string) string {
	if _, ok := c.Services.Lookup(name); ok {
		return name
	}
	if strings.EqualFold(name, "all") || strings.EqualFold(name, "any") {
		return "ALL"
	}
	if c.tables != nil {
		if entries, ok := c.tables.Service(name); ok {
			matches := make([]engine.ServiceMatch, 0, len(entries))
			for _, e := range entries {
				protos := service.MustProtocolSet(e.Protocol)
				port := service.MustPortSpec(service.OpEQ, e.Port)
				matches = append(matches, engine.ServiceMatch{Protocols: &protos, DestPort: &port})
			}
			c.Services.Add(engine.NewService(name, matches...))
			return name
		}
	}
	if m := adhocService.FindStringSubmatch(name); m != nil {
		proto, _ := c.protocol(m[1])
		first, _ := strconv.Atoi(m[2])
		last := first
		if m[3] != "" {
			last, _ = strconv.Atoi(m[3])
		}
		if port, err := service.NewPortSpec(service.OpRange, first, last); err == nil {
			protos := service.MustProtocolSet(proto)
			c.Services.Add(engine.NewService(name, engine.ServiceMatch{Protocols: &protos, DestPort: &port}))
		}
	}
	return name
}

func (c *Config) protocol(name string) (int, bool) {
	if c.tables != nil {
		return c.tables.Protocol(name)
	}
	switch strings.ToLower(name) {
	case "tcp":
		return service.ProtoTCP, true
	case "udp":
		return service.ProtoUDP, true
	case "icmp":
		return service.ProtoICMP, true
	case "sctp":
		return 132, true
	}
	n, err := strconv.Atoi(name)
	return n, err == nil
}

// InlineConfig wraps policies declared directly in a topology file. Their
// fields may name well-known services and literal networks.
func InlineConfig(policies []Policy, tables *wellknown.Tables) *Config {
	c := NewConfig(tables)
	c.Policies = append(c.Policies, policies...)
	return c
}
