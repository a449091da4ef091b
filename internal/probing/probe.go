// Package probing walks probes through a modelled topology and records
// what every crossed filter would decide.
package probing

import (
	"fmt"

	"static-probe-analyzer/internal/engine"
	"static-probe-analyzer/internal/model"
	"static-probe-analyzer/internal/netaddr"
)

type Status int

const (
	Alive Status = iota
	DestinationReached
	Killed
)

func (s Status) String() string {
	switch s {
	case Alive:
		return "ALIVE"
	case DestinationReached:
		return "REACHED"
	case Killed:
		return "KILLED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

type KillReason int

const (
	NotKilled KillReason = iota
	TTLExpired
	NoRoute
	Loop
)

func (r KillReason) String() string {
	switch r {
	case NotKilled:
		return ""
	case TTLExpired:
		return "TTL_EXPIRED"
	case NoRoute:
		return "NO_ROUTE"
	case Loop:
		return "LOOP"
	default:
		return fmt.Sprintf("KillReason(%d)", int(r))
	}
}

// Position is where a probe sits on one equipment.
type Position struct {
	Equipment Equipment
	Incoming  Link
	Outgoing  Link
	NextHop   netaddr.Range
}

func (p Position) String() string {
	name := "?"
	if p.Equipment != nil {
		name = p.Equipment.Name()
	}
	s := fmt.Sprintf("%s in=%s", name, linkName(p.Incoming))
	if p.Outgoing != nil {
		s += fmt.Sprintf(" out=%s via %s", linkName(p.Outgoing), p.NextHop)
	}
	return s
}

func linkName(l Link) string {
	if l == nil {
		return "-"
	}
	return l.String()
}

// Probe is a simulated packet at one hop. Forwarding creates a child for
// the next hop; several routes fork siblings that share the parent.
type Probe struct {
	id       int
	parent   *Probe
	children []*Probe
	ttl      int
	request  *engine.Request
	position Position
	in       engine.Trace
	out      engine.Trace
	status   Status
	reason   KillReason
	message  string
}

// NewProbe creates a root probe. The engine decrements ttl on every hop.
func NewProbe(req *engine.Request, ttl int) *Probe {
	return &Probe{request: req, ttl: ttl}
}

func (p *Probe) ID() int                  { return p.id }
func (p *Probe) Parent() *Probe           { return p.parent }
func (p *Probe) TTL() int                 { return p.ttl }
func (p *Probe) Request() *engine.Request { return p.request }
func (p *Probe) Position() Position       { return p.position }
func (p *Probe) Status() Status           { return p.status }
func (p *Probe) KillReason() KillReason   { return p.reason }
func (p *Probe) Message() string          { return p.message }

func (p *Probe) Source() netaddr.Range      { return p.request.Source }
func (p *Probe) Destination() netaddr.Range { return p.request.Destination }

// Children returns the probes this one handed over to the next hops.
func (p *Probe) Children() []*Probe {
	return append([]*Probe(nil), p.children...)
}

// ACLTrace returns the filter trace recorded at this hop.
func (p *Probe) ACLTrace(dir model.Direction) engine.Trace {
	if dir == model.Out {
		return p.out
	}
	return p.in
}

// Hops returns the lineage from the root probe to p.
func (p *Probe) Hops() []*Probe {
	var hops []*Probe
	for q := p; q != nil; q = q.parent {
		hops = append(hops, q)
	}
	for i, j := 0, len(hops)-1; i < j; i, j = i+1, j-1 {
		hops[i], hops[j] = hops[j], hops[i]
	}
	return hops
}

// Path returns the positions from the injection point to p.
func (p *Probe) Path() []Position {
	hops := p.Hops()
	path := make([]Position, len(hops))
	for i, h := range hops {
		path[i] = h.position
	}
	return path
}

// AclResult combines the ingress and egress decisions of this hop.
func (p *Probe) AclResult() engine.AclResult {
	return p.in.Result().Concat(p.out.Result())
}

// IsTerminal reports whether the probe stopped at this hop.
func (p *Probe) IsTerminal() bool { return p.status != Alive }

func (p *Probe) kill(reason KillReason, msg string) {
	p.status = Killed
	p.reason = reason
	p.message = msg
}

func (p *Probe) reach(msg string) {
	p.status = DestinationReached
	p.message = msg
}

// fork copies the probe for another route at the same hop. The ingress
// trace was recorded before the fork and is shared. Copies of the root
// have no parent either; Tracker.Roots lists them.
func (p *Probe) fork() *Probe {
	c := &Probe{
		parent:   p.parent,
		ttl:      p.ttl,
		request:  p.request.Clone(),
		position: Position{Equipment: p.position.Equipment, Incoming: p.position.Incoming},
		in:       p.in,
	}
	if p.parent != nil {
		p.parent.children = append(p.parent.children, c)
	}
	return c
}

// child creates the probe handed to the next hop.
func (p *Probe) child() *Probe {
	c := &Probe{parent: p, ttl: p.ttl, request: p.request}
	p.children = append(p.children, c)
	return c
}

// visited reports whether the lineage already entered eq through link.
func (p *Probe) visited(eq Equipment, link Link) bool {
	for q := p; q != nil; q = q.parent {
		if q.position.Equipment == eq && q.position.Incoming == link {
			return true
		}
	}
	return false
}

func (p *Probe) String() string {
	s := fmt.Sprintf("probe %d ttl=%d %s %s", p.id, p.ttl, p.status, p.position)
	if p.reason != NotKilled {
		s += " " + p.reason.String()
	}
	return s
}
