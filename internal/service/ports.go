// Package service models port, protocol, ICMP and TCP flag predicates.
package service

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"static-probe-analyzer/internal/model"
)

const MaxPort = 65535

var (
	ErrInvalidPort     = errors.New("invalid port")
	ErrInvalidOperator = errors.New("invalid port operator")
	ErrInvalidProtocol = errors.New("invalid protocol")
	ErrInvalidFlag     = errors.New("invalid tcp flag")
)

// PortRange is an inclusive port interval.
type PortRange struct {
	First int
	Last  int
}

// NewPortRange validates both bounds and orders them.
func NewPortRange(first, last int) (PortRange, error) {
	if err := checkPort(first); err != nil {
		return PortRange{}, err
	}
	if err := checkPort(last); err != nil {
		return PortRange{}, err
	}
	if first > last {
		first, last = last, first
	}
	return PortRange{First: first, Last: last}, nil
}

func checkPort(p int) error {
	if p < 0 || p > MaxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, p)
	}
	return nil
}

func (r PortRange) Contains(o PortRange) bool {
	return o.First >= r.First && o.Last <= r.Last
}

func (r PortRange) Overlaps(o PortRange) bool {
	return r.First <= o.Last && o.First <= r.Last
}

func (r PortRange) String() string {
	if r.First == r.Last {
		return strconv.Itoa(r.First)
	}
	return fmt.Sprintf("%d-%d", r.First, r.Last)
}

type PortOperator int

const (
	OpNone PortOperator = iota
	OpAny
	OpEQ
	OpNEQ
	OpLT
	OpLTE
	OpGT
	OpGTE
	OpRange
	OpRangeExclusive
	OpExclude
)

var operatorNames = map[PortOperator]string{
	OpNone:           "none",
	OpAny:            "any",
	OpEQ:             "eq",
	OpNEQ:            "neq",
	OpLT:             "lt",
	OpLTE:            "le",
	OpGT:             "gt",
	OpGTE:            "ge",
	OpRange:          "range",
	OpRangeExclusive: "><",
	OpExclude:        "<>",
}

func (o PortOperator) String() string {
	if s, ok := operatorNames[o]; ok {
		return s
	}
	return fmt.Sprintf("PortOperator(%d)", int(o))
}

// arity is the number of ports an operator takes.
func (o PortOperator) arity() int {
	switch o {
	case OpNone, OpAny:
		return 0
	case OpRange, OpRangeExclusive, OpExclude:
		return 2
	default:
		return 1
	}
}

// ParsePortOperator accepts the keyword and symbolic spellings used by
// router and firewall configurations.
func ParsePortOperator(s string) (PortOperator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return OpNone, nil
	case "any":
		return OpAny, nil
	case "eq", "=", "==":
		return OpEQ, nil
	case "neq", "ne", "!=", "!":
		return OpNEQ, nil
	case "lt", "<":
		return OpLT, nil
	case "le", "lte", "<=":
		return OpLTE, nil
	case "gt", ">":
		return OpGT, nil
	case "ge", "gte", ">=":
		return OpGTE, nil
	case "range", ":", "-":
		return OpRange, nil
	case "><", "range-exclusive":
		return OpRangeExclusive, nil
	case "<>", "exclude":
		return OpExclude, nil
	default:
		return OpNone, fmt.Errorf("%w: %q", ErrInvalidOperator, s)
	}
}

// PortSpec is a port predicate compiled into disjoint ranges. It is
// immutable once built.
type PortSpec struct {
	op     PortOperator
	ports  []int
	ranges []PortRange
}

// NewPortSpec compiles an operator and its operands.
func NewPortSpec(op PortOperator, ports ...int) (PortSpec, error) {
	if _, ok := operatorNames[op]; !ok {
		return PortSpec{}, fmt.Errorf("%w: %d", ErrInvalidOperator, int(op))
	}
	if len(ports) != op.arity() {
		return PortSpec{}, fmt.Errorf("%w: %s takes %d port(s), got %d", ErrInvalidOperator, op, op.arity(), len(ports))
	}
	for _, p := range ports {
		if err := checkPort(p); err != nil {
			return PortSpec{}, err
		}
	}

	spec := PortSpec{op: op, ports: append([]int(nil), ports...)}
	add := func(first, last int) {
		if first <= last {
			spec.ranges = append(spec.ranges, PortRange{First: first, Last: last})
		}
	}
	switch op {
	case OpAny:
		add(0, MaxPort)
	case OpEQ:
		add(ports[0], ports[0])
	case OpNEQ:
		add(0, ports[0]-1)
		add(ports[0]+1, MaxPort)
	case OpLT:
		add(0, ports[0]-1)
	case OpLTE:
		add(0, ports[0])
	case OpGT:
		add(ports[0]+1, MaxPort)
	case OpGTE:
		add(ports[0], MaxPort)
	case OpRange:
		a, b := order(ports[0], ports[1])
		add(a, b)
	case OpRangeExclusive:
		a, b := order(ports[0], ports[1])
		add(a+1, b-1)
	case OpExclude:
		a, b := order(ports[0], ports[1])
		add(0, a-1)
		add(b+1, MaxPort)
	}
	return spec, nil
}

func order(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}

// MustPortSpec is NewPortSpec for literals known to be valid.
func MustPortSpec(op PortOperator, ports ...int) PortSpec {
	s, err := NewPortSpec(op, ports...)
	if err != nil {
		panic(err)
	}
	return s
}

// ParsePortSpec reads "80", "1000-2000", "any", "none", ">1023", "<=80",
// "!22" and "ne 22" style specifications.
func ParsePortSpec(s string) (PortSpec, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "any", "*":
		return NewPortSpec(OpAny)
	case "none":
		return NewPortSpec(OpNone)
	}
	if fields := strings.Fields(s); len(fields) > 1 {
		op, err := ParsePortOperator(fields[0])
		if err != nil {
			return PortSpec{}, err
		}
		ports, err := atois(fields[1:])
		if err != nil {
			return PortSpec{}, err
		}
		return NewPortSpec(op, ports...)
	}
	for _, prefix := range []string{"<=", ">=", "!=", "<", ">", "!", "="} {
		if strings.HasPrefix(s, prefix) {
			op, _ := ParsePortOperator(prefix)
			ports, err := atois([]string{s[len(prefix):]})
			if err != nil {
				return PortSpec{}, err
			}
			return NewPortSpec(op, ports...)
		}
	}
	if a, b, ok := strings.Cut(s, "-"); ok {
		ports, err := atois([]string{a, b})
		if err != nil {
			return PortSpec{}, err
		}
		return NewPortSpec(OpRange, ports...)
	}
	ports, err := atois([]string{s})
	if err != nil {
		return PortSpec{}, err
	}
	return NewPortSpec(OpEQ, ports...)
}

func atois(fields []string) ([]int, error) {
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPort, f)
		}
		out = append(out, n)
	}
	return out, nil
}

func (s PortSpec) Operator() PortOperator { return s.op }

// Ranges returns the compiled ranges in ascending order.
func (s PortSpec) Ranges() []PortRange {
	return append([]PortRange(nil), s.ranges...)
}

func (s PortSpec) IsEmpty() bool { return len(s.ranges) == 0 }

// Matches compares the request side s with the rule side other: ALL when
// other covers every port of s, MATCH when they share a port, NOT
// otherwise.
func (s PortSpec) Matches(other PortSpec) model.MatchResult {
	if s.IsEmpty() || other.IsEmpty() {
		return model.MatchNot
	}
	covered := merge(other.ranges)
	all := true
	for _, r := range s.ranges {
		in := false
		for _, c := range covered {
			if c.Contains(r) {
				in = true
				break
			}
		}
		if !in {
			all = false
			break
		}
	}
	if all {
		return model.MatchAll
	}
	for _, r := range s.ranges {
		for _, o := range other.ranges {
			if r.Overlaps(o) {
				return model.MatchSome
			}
		}
	}
	return model.MatchNot
}

// merge joins adjacent and overlapping ranges so coverage can be tested
// one interval at a time.
func merge(ranges []PortRange) []PortRange {
	sorted := append([]PortRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].First < sorted[j].First })
	var out []PortRange
	for _, r := range sorted {
		if n := len(out); n > 0 && r.First <= out[n-1].Last+1 {
			if r.Last > out[n-1].Last {
				out[n-1].Last = r.Last
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

func (s PortSpec) String() string {
	switch s.op {
	case OpNone, OpAny:
		return s.op.String()
	case OpEQ:
		return strconv.Itoa(s.ports[0])
	case OpRange:
		return s.ranges[0].String()
	}
	parts := []string{s.op.String()}
	for _, p := range s.ports {
		parts = append(parts, strconv.Itoa(p))
	}
	return strings.Join(parts, " ")
}
