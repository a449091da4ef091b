package engine

import (
	"math/big"

	"static-probe-analyzer/internal/model"
	"static-probe-analyzer/internal/netaddr"
	"static-probe-analyzer/internal/service"
)

type PredicateKind int

const (
	KindAny PredicateKind = iota
	KindAddress
	KindWildcard
	KindService
	KindGroup
	KindExpression
)

func (k PredicateKind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindAddress:
		return "address"
	case KindWildcard:
		return "wildcard"
	case KindService:
		return "service"
	case KindGroup:
		return "group"
	case KindExpression:
		return "expression"
	default:
		return "unknown"
	}
}

// maxGroupDepth bounds recursion through groups that were wired by hand
// rather than through Objects.Resolve.
const maxGroupDepth = 64

// Predicate is one rule condition. Kind selects which fields are used.
type Predicate struct {
	Kind PredicateKind
	Name string

	Ranges     []netaddr.Range // KindAddress
	Wildcard   Wildcard        // KindWildcard
	Services   []ServiceMatch  // KindService, any entry may match
	Members    []string        // KindGroup, resolved by Objects
	Expression string          // KindExpression

	members []*Predicate
}

// Wildcard is a Cisco style address and wildcard mask where set mask bits
// are ignored. Masks that are not contiguous cannot be expressed as a
// network.
type Wildcard struct {
	Address netaddr.Address
	Mask    *big.Int
}

// ServiceMatch is one protocol/port/icmp/flags combination. Nil fields
// match anything.
type ServiceMatch struct {
	Protocols  *service.ProtocolSet
	SourcePort *service.PortSpec
	DestPort   *service.PortSpec
	ICMP       *service.ICMPSpec
	Flags      *service.FlagsMatch
}

var anyPredicate = &Predicate{Kind: KindAny, Name: "any"}

// Any returns the predicate that matches every request.
func Any() *Predicate { return anyPredicate }

func NewAddress(name string, ranges ...netaddr.Range) *Predicate {
	return &Predicate{Kind: KindAddress, Name: name, Ranges: ranges}
}

// NewWildcard builds an address predicate from an address and wildcard
// mask, as a plain network when the mask is contiguous.
func NewWildcard(name string, addr netaddr.Address, mask *big.Int) *Predicate {
	bits := addr.Version().Bits()
	probe := new(big.Int).Add(mask, big.NewInt(1))
	if probe.And(probe, mask).Sign() == 0 && mask.BitLen() <= bits {
		r, err := netaddr.New(addr.Int(), addr.Version(), bits-mask.BitLen())
		if err == nil {
			return NewAddress(name, r)
		}
	}
	return &Predicate{Kind: KindWildcard, Name: name, Wildcard: Wildcard{Address: addr, Mask: new(big.Int).Set(mask)}}
}

func NewService(name string, matches ...ServiceMatch) *Predicate {
	return &Predicate{Kind: KindService, Name: name, Services: matches}
}

// NewGroup builds a group whose members are already known.
func NewGroup(name string, members ...*Predicate) *Predicate {
	p := &Predicate{Kind: KindGroup, Name: name, members: members}
	for _, m := range members {
		if m != nil {
			p.Members = append(p.Members, m.Name)
		}
	}
	return p
}

// NewExpression wraps rule content that has no modelled semantics.
func NewExpression(name, text string) *Predicate {
	return &Predicate{Kind: KindExpression, Name: name, Expression: text}
}

type slot int

const (
	slotSource slot = iota
	slotDestination
	slotService
)

// MatchSource evaluates p against the request source address.
func (p *Predicate) MatchSource(req *Request) model.MatchResult {
	return p.match(req, slotSource, 0)
}

// MatchDestination evaluates p against the request destination address.
func (p *Predicate) MatchDestination(req *Request) model.MatchResult {
	return p.match(req, slotDestination, 0)
}

// MatchService evaluates p against the request protocol, ports, icmp and
// flags.
func (p *Predicate) MatchService(req *Request) model.MatchResult {
	return p.match(req, slotService, 0)
}

func (p *Predicate) match(req *Request, s slot, depth int) model.MatchResult {
	if p == nil {
		return model.MatchAll
	}
	switch p.Kind {
	case KindAny:
		return model.MatchAll
	case KindAddress:
		if s == slotService {
			return model.MatchUnknown
		}
		addr := req.address(s)
		results := make([]model.MatchResult, 0, len(p.Ranges))
		for _, r := range p.Ranges {
			results = append(results, matchRange(r, addr))
		}
		return model.Disjoin(results...)
	case KindWildcard:
		if s == slotService {
			return model.MatchUnknown
		}
		return p.Wildcard.match(req.address(s))
	case KindService:
		if s != slotService {
			return model.MatchUnknown
		}
		results := make([]model.MatchResult, 0, len(p.Services))
		for _, m := range p.Services {
			results = append(results, m.Match(req))
		}
		return model.Disjoin(results...)
	case KindGroup:
		if depth >= maxGroupDepth {
			return model.MatchUnknown
		}
		results := make([]model.MatchResult, 0, len(p.members))
		for _, m := range p.members {
			if m == nil {
				results = append(results, model.MatchUnknown)
				continue
			}
			results = append(results, m.match(req, s, depth+1))
		}
		return model.Disjoin(results...)
	default:
		return model.MatchUnknown
	}
}

func (r *Request) address(s slot) netaddr.Range {
	if s == slotSource {
		return r.Source
	}
	return r.Destination
}

func matchRange(rule, addr netaddr.Range) model.MatchResult {
	if !addr.IsValid() {
		return model.MatchUnknown
	}
	if rule.Version() != addr.Version() {
		return model.MatchNot
	}
	if ok, _ := rule.Contains(addr); ok {
		return model.MatchAll
	}
	if ok, _ := rule.Overlaps(addr); ok {
		return model.MatchSome
	}
	return model.MatchNot
}

// match is exact for host requests. A network request against a
// non-contiguous mask is left undecided.
func (w Wildcard) match(addr netaddr.Range) model.MatchResult {
	if !addr.IsValid() || w.Mask == nil {
		return model.MatchUnknown
	}
	if addr.Version() != w.Address.Version() {
		return model.MatchNot
	}
	if !addr.IsHost() {
		return model.MatchUnknown
	}
	a := new(big.Int).AndNot(addr.Int(), w.Mask)
	b := new(big.Int).AndNot(w.Address.Int(), w.Mask)
	if a.Cmp(b) == 0 {
		return model.MatchAll
	}
	return model.MatchNot
}

// Match conjoins every field the rule and the request both specify.
func (m ServiceMatch) Match(req *Request) model.MatchResult {
	results := make([]model.MatchResult, 0, 5)
	if m.Protocols != nil && req.Protocols != nil {
		results = append(results, req.Protocols.Matches(*m.Protocols))
	}
	if m.SourcePort != nil && req.SourcePort != nil {
		results = append(results, req.SourcePort.Matches(*m.SourcePort))
	}
	if m.DestPort != nil && req.DestPort != nil {
		results = append(results, req.DestPort.Matches(*m.DestPort))
	}
	if m.ICMP != nil && req.ICMPType != nil {
		code := service.AnyCode
		if req.ICMPCode != nil {
			code = *req.ICMPCode
		}
		results = append(results, m.ICMP.Matches(*req.ICMPType, code))
	}
	if m.Flags != nil {
		results = append(results, m.Flags.Matches(req.TCPFlags))
	}
	return model.Conjoin(results...)
}
