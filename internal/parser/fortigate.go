package parser

import (
	"bufio"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"

	"static-probe-analyzer/internal/engine"
	"static-probe-analyzer/internal/netaddr"
	"static-probe-analyzer/internal/service"
	"static-probe-analyzer/pkg/wellknown"
)

// FortiGateParser reads the firewall sections of a FortiGate CLI
// configuration: addresses, address groups, custom services, service
// groups and policies. Other sections are skipped.
type FortiGateParser struct {
	scanner *bufio.Scanner
	name    string
	line    int

	config *Config
}

func NewFortiGateParser(name string, reader io.Reader, tables *wellknown.Tables) *FortiGateParser {
	return &FortiGateParser{
		scanner: bufio.NewScanner(reader),
		name:    name,
		config:  NewConfig(tables),
	}
}

// LoadFortiGateFile parses the configuration stored at path.
func LoadFortiGateFile(path string, tables *wellknown.Tables) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewFortiGateParser(path, f, tables).Parse()
}

func (p *FortiGateParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%s:%d: %s", p.name, p.line, fmt.Sprintf(format, args...))
}

func (p *FortiGateParser) next() (string, bool) {
	if !p.scanner.Scan() {
		return "", false
	}
	p.line++
	return strings.TrimSpace(p.scanner.Text()), true
}

// Parse reads the whole configuration.
func (p *FortiGateParser) Parse() (*Config, error) {
	for {
		line, ok := p.next()
		if !ok {
			break
		}
		var err error
		switch line {
		case "config firewall address", "config firewall address6":
			err = p.parseAddressConfig()
		case "config firewall addrgrp", "config firewall addrgrp6":
			err = p.parseGroupConfig(p.config.Addresses)
		case "config firewall service custom":
			err = p.parseServiceCustomConfig()
		case "config firewall service group":
			err = p.parseGroupConfig(p.config.Services)
		case "config firewall policy", "config firewall policy6":
			err = p.parsePolicyConfig()
		}
		if err != nil {
			return nil, err
		}
	}
	if err := p.scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", p.name, err)
	}
	return p.config, nil
}

// section walks the edit/set/next blocks of a config section until its
// end. Nested config blocks are skipped.
func (p *FortiGateParser) section(edit func(name string) error, set func(key string, args []string) error, done func() error) error {
	editing := false
	depth := 0
	for {
		line, ok := p.next()
		if !ok {
			return p.errorf("unexpected end of file inside config section")
		}
		fields := tokenize(line)
		if len(fields) == 0 {
			continue
		}
		if depth > 0 {
			switch fields[0] {
			case "config":
				depth++
			case "end":
				depth--
			}
			continue
		}
		switch fields[0] {
		case "end":
			if editing {
				if err := done(); err != nil {
					return err
				}
			}
			return nil
		case "config":
			depth++
		case "edit":
			if len(fields) < 2 {
				return p.errorf("edit without a name")
			}
			if editing {
				if err := done(); err != nil {
					return err
				}
			}
			editing = true
			if err := edit(fields[1]); err != nil {
				return err
			}
		case "set":
			if !editing || len(fields) < 2 {
				continue
			}
			if err := set(fields[1], fields[2:]); err != nil {
				return err
			}
		case "next":
			if editing {
				if err := done(); err != nil {
					return err
				}
			}
			editing = false
		}
	}
}

type addressEntry struct {
	name     string
	kind     string
	subnet   []string
	start    string
	end      string
	wildcard []string
	text     string
}

func (p *FortiGateParser) parseAddressConfig() error {
	var cur addressEntry
	return p.section(
		func(name string) error {
			cur = addressEntry{name: name, kind: "ipmask"}
			return nil
		},
		func(key string, args []string) error {
			if len(args) == 0 {
				return nil
			}
			switch key {
			case "type":
				cur.kind = args[0]
			case "subnet", "ip6":
				cur.subnet = args
			case "start-ip":
				cur.start = args[0]
			case "end-ip":
				cur.end = args[0]
			case "wildcard":
				cur.wildcard = args
			case "fqdn", "country", "wildcard-fqdn":
				cur.text = key + " " + args[0]
			}
			return nil
		},
		func() error {
			pred, err := p.addressPredicate(cur)
			if err != nil {
				return err
			}
			return p.add(p.config.Addresses, pred)
		},
	)
}

func (p *FortiGateParser) addressPredicate(a addressEntry) (*engine.Predicate, error) {
	switch a.kind {
	case "ipmask", "interface-subnet", "ipprefix":
		if len(a.subnet) == 0 {
			return &engine.Predicate{Kind: engine.KindAny, Name: a.name}, nil
		}
		spec := a.subnet[0]
		if len(a.subnet) > 1 {
			spec += "/" + a.subnet[1]
		}
		r, err := netaddr.Parse(spec)
		if err != nil {
			return nil, p.errorf("address %q: %v", a.name, err)
		}
		return engine.NewAddress(a.name, r), nil
	case "iprange":
		first, err := netaddr.ParseAddress(a.start)
		if err != nil {
			return nil, p.errorf("address %q start-ip: %v", a.name, err)
		}
		last, err := netaddr.ParseAddress(a.end)
		if err != nil {
			return nil, p.errorf("address %q end-ip: %v", a.name, err)
		}
		ranges, err := netaddr.Summarize(first, last)
		if err != nil {
			return nil, p.errorf("address %q: %v", a.name, err)
		}
		return engine.NewAddress(a.name, ranges...), nil
	case "wildcard":
		if len(a.wildcard) != 2 {
			return nil, p.errorf("address %q: wildcard needs an address and a mask", a.name)
		}
		addr, err := netaddr.ParseAddress(a.wildcard[0])
		if err != nil {
			return nil, p.errorf("address %q: %v", a.name, err)
		}
		mask, err := netaddr.ParseAddress(a.wildcard[1])
		if err != nil {
			return nil, p.errorf("address %q: %v", a.name, err)
		}
		// FortiGate masks select the bits to compare
		ignored := new(big.Int).Xor(mask.Int(), new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(addr.Version().Bits())), big.NewInt(1)))
		return engine.NewWildcard(a.name, addr, ignored), nil
	default:
		text := a.text
		if text == "" {
			text = "type " + a.kind
		}
		return engine.NewExpression(a.name, text), nil
	}
}

// parseGroupConfig reads addrgrp and service group sections.
func (p *FortiGateParser) parseGroupConfig(objects *engine.Objects) error {
	var cur *engine.Predicate
	return p.section(
		func(name string) error {
			cur = &engine.Predicate{Kind: engine.KindGroup, Name: name}
			return nil
		},
		func(key string, args []string) error {
			if key == "member" {
				cur.Members = append(cur.Members, args...)
			}
			return nil
		},
		func() error { return p.add(objects, cur) },
	)
}

type serviceEntry struct {
	name     string
	protocol string
	number   int
	ranges   map[int][]string
	icmpType int
	icmpCode int
	hasICMP  bool
	hasCode  bool
}

func (p *FortiGateParser) parseServiceCustomConfig() error {
	var cur serviceEntry
	return p.section(
		func(name string) error {
			cur = serviceEntry{name: name, protocol: "TCP/UDP/SCTP", ranges: make(map[int][]string)}
			return nil
		},
		func(key string, args []string) error {
			// "set tcp-portrange=90" is accepted as well
			if k, v, ok := strings.Cut(key, "="); ok {
				key = k
				args = append([]string{v}, args...)
			}
			if len(args) == 0 {
				return nil
			}
			switch key {
			case "protocol":
				cur.protocol = strings.ToUpper(args[0])
			case "protocol-number":
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return p.errorf("service %q: bad protocol-number %q", cur.name, args[0])
				}
				cur.number = n
			case "tcp-portrange":
				cur.ranges[service.ProtoTCP] = append(cur.ranges[service.ProtoTCP], args...)
			case "udp-portrange":
				cur.ranges[service.ProtoUDP] = append(cur.ranges[service.ProtoUDP], args...)
			case "sctp-portrange":
				cur.ranges[132] = append(cur.ranges[132], args...)
			case "icmptype":
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return p.errorf("service %q: bad icmptype %q", cur.name, args[0])
				}
				cur.icmpType, cur.hasICMP = n, true
			case "icmpcode":
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return p.errorf("service %q: bad icmpcode %q", cur.name, args[0])
				}
				cur.icmpCode, cur.hasCode = n, true
			}
			return nil
		},
		func() error {
			pred, err := p.servicePredicate(cur)
			if err != nil {
				return err
			}
			return p.add(p.config.Services, pred)
		},
	)
}

func (p *FortiGateParser) servicePredicate(s serviceEntry) (*engine.Predicate, error) {
	switch s.protocol {
	case "ICMP", "ICMP6":
		proto := service.ProtoICMP
		if s.protocol == "ICMP6" {
			proto = service.ProtoICMPv6
		}
		protos := service.MustProtocolSet(proto)
		m := engine.ServiceMatch{Protocols: &protos}
		if s.hasICMP {
			code := service.AnyCode
			if s.hasCode {
				code = s.icmpCode
			}
			spec, err := service.NewICMPSpec(s.icmpType, code)
			if err != nil {
				return nil, p.errorf("service %q: %v", s.name, err)
			}
			m.ICMP = &spec
		}
		return engine.NewService(s.name, m), nil
	case "IP":
		if s.number == 0 {
			return &engine.Predicate{Kind: engine.KindAny, Name: s.name}, nil
		}
		protos, err := service.NewProtocolSet(s.number)
		if err != nil {
			return nil, p.errorf("service %q: %v", s.name, err)
		}
		return engine.NewService(s.name, engine.ServiceMatch{Protocols: &protos}), nil
	}

	var matches []engine.ServiceMatch
	for _, proto := range []int{service.ProtoTCP, service.ProtoUDP, 132} {
		for _, r := range s.ranges[proto] {
			m, err := portRangeMatch(proto, r)
			if err != nil {
				return nil, p.errorf("service %q: %v", s.name, err)
			}
			matches = append(matches, m)
		}
	}
	return engine.NewService(s.name, matches...), nil
}

// portRangeMatch compiles one FortiGate "dst[:src]" port range.
func portRangeMatch(proto int, spec string) (engine.ServiceMatch, error) {
	protos := service.MustProtocolSet(proto)
	m := engine.ServiceMatch{Protocols: &protos}
	dst, src, hasSrc := strings.Cut(spec, ":")
	d, err := fortiPorts(dst)
	if err != nil {
		return m, err
	}
	m.DestPort = &d
	if hasSrc {
		s, err := fortiPorts(src)
		if err != nil {
			return m, err
		}
		m.SourcePort = &s
	}
	return m, nil
}

func fortiPorts(s string) (service.PortSpec, error) {
	a, b, ok := strings.Cut(s, "-")
	if !ok {
		b = a
	}
	first, err := strconv.Atoi(a)
	if err != nil {
		return service.PortSpec{}, fmt.Errorf("%w: %q", service.ErrInvalidPort, s)
	}
	last, err := strconv.Atoi(b)
	if err != nil {
		return service.PortSpec{}, fmt.Errorf("%w: %q", service.ErrInvalidPort, s)
	}
	if first == last {
		return service.NewPortSpec(service.OpEQ, first)
	}
	return service.NewPortSpec(service.OpRange, first, last)
}

func (p *FortiGateParser) parsePolicyConfig() error {
	var cur *Policy
	return p.section(
		func(id string) error {
			cur = &Policy{ID: id, Ordinal: len(p.config.Policies) + 1}
			return nil
		},
		func(key string, args []string) error {
			switch key {
			case "name":
				cur.Name = strings.Join(args, " ")
			case "srcaddr", "srcaddr6":
				cur.Source = append(cur.Source, args...)
			case "dstaddr", "dstaddr6":
				cur.Destination = append(cur.Destination, args...)
			case "service":
				cur.Service = append(cur.Service, args...)
			case "action":
				if len(args) > 0 {
					cur.Action = args[0]
				}
			case "status":
				cur.Disabled = len(args) > 0 && args[0] == "disable"
			case "srcaddr-negate":
				cur.NegateSource = len(args) > 0 && args[0] == "enable"
			case "dstaddr-negate":
				cur.NegateDestination = len(args) > 0 && args[0] == "enable"
			case "service-negate":
				cur.NegateService = len(args) > 0 && args[0] == "enable"
			}
			return nil
		},
		func() error {
			// FortiGate's default action is deny
			if cur.Action == "" {
				cur.Action = "deny"
			}
			p.config.Policies = append(p.config.Policies, *cur)
			return nil
		},
	)
}

func (p *FortiGateParser) add(objects *engine.Objects, pred *engine.Predicate) error {
	if p.config.builtin[pred.Name] {
		return nil
	}
	if err := objects.Add(pred); err != nil {
		return p.errorf("%v", err)
	}
	return nil
}

// tokenize splits a CLI line on blanks, keeping double quoted words
// together.
func tokenize(line string) []string {
	var (
		fields []string
		cur    strings.Builder
		quoted bool
		have   bool
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && quoted && i+1 < len(line):
			i++
			cur.WriteByte(line[i])
		case c == '"':
			quoted = !quoted
			have = true
		case (c == ' ' || c == '\t') && !quoted:
			if have {
				fields = append(fields, cur.String())
				cur.Reset()
				have = false
			}
		default:
			cur.WriteByte(c)
			have = true
		}
	}
	if have {
		fields = append(fields, cur.String())
	}
	return fields
}
