package probing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"static-probe-analyzer/internal/engine"
)

// Tracker holds every probe spawned by one simulation.
type Tracker struct {
	id     uuid.UUID
	root   *Probe
	probes []*Probe
	limit  int
}

func newTracker(root *Probe, limit int) *Tracker {
	t := &Tracker{id: uuid.New(), root: root, limit: limit}
	root.id = 0
	t.probes = append(t.probes, root)
	return t
}

func (t *Tracker) add(p *Probe) error {
	if t.limit > 0 && len(t.probes) >= t.limit {
		return fmt.Errorf("%w: %d probes", ErrResourceExhausted, t.limit)
	}
	p.id = len(t.probes)
	t.probes = append(t.probes, p)
	return nil
}

func (t *Tracker) ID() uuid.UUID { return t.id }
func (t *Tracker) Root() *Probe  { return t.root }

// Probes returns all probes in creation order.
func (t *Tracker) Probes() []*Probe {
	return append([]*Probe(nil), t.probes...)
}

// Reached returns the probes that arrived at the destination.
func (t *Tracker) Reached() []*Probe {
	return t.filter(func(p *Probe) bool { return p.status == DestinationReached })
}

// Killed returns the probes that died on the way. Probes stopped by a
// loop guard are reported by Looping instead.
func (t *Tracker) Killed() []*Probe {
	return t.filter(func(p *Probe) bool { return p.status == Killed && p.reason != Loop })
}

// Looping returns the probes stopped by a loop guard.
func (t *Tracker) Looping() []*Probe {
	return t.filter(func(p *Probe) bool { return p.status == Killed && p.reason == Loop })
}

// Roots returns the probe instances of the injection hop: the root and
// the copies forked from it when that hop fans out. They have no parent.
func (t *Tracker) Roots() []*Probe {
	return t.filter(func(p *Probe) bool { return p.parent == nil })
}

func (t *Tracker) filter(keep func(*Probe) bool) []*Probe {
	var out []*Probe
	for _, p := range t.probes {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// RoutingResult is the routing outcome of a simulation.
type RoutingResult int

const (
	RoutingUnknown RoutingResult = iota
	Routed
	NotRouted
)

func (r RoutingResult) String() string {
	switch r {
	case Routed:
		return "ROUTED"
	case NotRouted:
		return "NONE-ROUTED"
	default:
		return "UNKNOWN"
	}
}

// RoutingResult is ROUTED when some probe reached the destination and
// none was killed, NONE-ROUTED when none arrived and some were killed.
// Looping probes count for neither.
func (t *Tracker) RoutingResult() RoutingResult {
	reached, killed := len(t.Reached()), len(t.Killed())
	switch {
	case reached > 0 && killed == 0:
		return Routed
	case reached == 0 && killed > 0:
		return NotRouted
	default:
		return RoutingUnknown
	}
}

// AclResult summarizes the filtering along the path of every probe that
// reached the destination. An incomplete routing or an uncertain hop adds
// MAY to the decision taken from the hops.
func (t *Tracker) AclResult() engine.AclResult {
	var res engine.AclResult
	if t.RoutingResult() != Routed {
		res |= engine.AclMay
	}
	var accept, deny, match, may int
	for _, final := range t.Reached() {
		for _, hop := range final.Hops() {
			r := hop.AclResult()
			if r.Has(engine.AclAccept) {
				accept++
			}
			if r.Has(engine.AclDeny) {
				deny++
			}
			if r.Has(engine.AclMatch) {
				match++
			}
			if r.Has(engine.AclMay) {
				may++
			}
		}
	}
	if may > 0 {
		res |= engine.AclMay
	}
	if match == 0 && accept > 0 && deny == 0 {
		res |= engine.AclAccept
	}
	if match == 0 && deny > 0 {
		res |= engine.AclDeny
	}
	if match > 0 {
		res |= engine.AclMatch
	}
	return res
}

func (t *Tracker) Outcome() Outcome {
	return Outcome{Acl: t.AclResult(), Routing: t.RoutingResult()}
}

// Outcome is the verdict of one or more simulations.
type Outcome struct {
	Acl     engine.AclResult
	Routing RoutingResult
}

func (o Outcome) String() string {
	return fmt.Sprintf("%s %s", o.Acl, o.Routing)
}

// Combine merges the outcomes of simulations started from several
// injection points.
func Combine(outcomes ...Outcome) Outcome {
	if len(outcomes) == 0 {
		return Outcome{Routing: RoutingUnknown}
	}
	if len(outcomes) == 1 {
		return outcomes[0]
	}
	var accepted, denied, may, match int
	var routed, notRouted, unknown int
	for _, o := range outcomes {
		if o.Acl.Has(engine.AclAccept) && !o.Acl.Has(engine.AclMay) {
			accepted++
		}
		if o.Acl.Has(engine.AclDeny) && !o.Acl.Has(engine.AclMay) {
			denied++
		}
		if o.Acl.Has(engine.AclMay) {
			may++
		}
		if o.Acl.Has(engine.AclMatch) {
			match++
		}
		switch o.Routing {
		case Routed:
			routed++
		case NotRouted:
			notRouted++
		default:
			unknown++
		}
	}

	var res Outcome
	n := len(outcomes)
	switch {
	case may > 0 || match > 0:
		res.Acl = engine.AclMay
	case accepted > 0 && denied > 0:
		res.Acl = engine.AclMay
	case accepted == n:
		res.Acl = engine.AclAccept
	case denied == n:
		res.Acl = engine.AclDeny
	default:
		res.Acl = engine.AclMay
	}
	if match > 0 {
		res.Acl = engine.AclMatch
	}

	switch {
	case unknown > 0 || (routed > 0 && notRouted > 0):
		res.Routing = RoutingUnknown
	case routed == n:
		res.Routing = Routed
	default:
		res.Routing = NotRouted
	}
	return res
}

var ErrInvalidExpect = errors.New("invalid expect keyword")

// Expect checks the outcome against a keyword: ROUTED, NONE-ROUTED,
// UNKNOWN, ACCEPT, DENY, MAY or UNACCEPTED. A leading '!' negates it.
// An empty keyword never holds.
func (o Outcome) Expect(keyword string) (bool, error) {
	kw := strings.ToUpper(strings.TrimSpace(keyword))
	negate := strings.HasPrefix(kw, "!")
	if negate {
		kw = strings.TrimSpace(kw[1:])
	}

	var ok bool
	switch kw {
	case "":
		ok = false
	case "ROUTED":
		ok = o.Routing == Routed
	case "NONE-ROUTED":
		ok = o.Routing == NotRouted
	case "UNKNOWN":
		ok = o.Routing == RoutingUnknown
	case "UNACCEPTED":
		ok = o.Routing == NotRouted || (o.Acl.Has(engine.AclDeny) && !o.Acl.Has(engine.AclMay))
	case "ACCEPT":
		ok = o.Acl.Has(engine.AclAccept) && !o.Acl.Has(engine.AclMay)
	case "DENY":
		ok = o.Acl.Has(engine.AclDeny) && !o.Acl.Has(engine.AclMay)
	case "MAY":
		ok = o.Acl.Has(engine.AclMay)
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidExpect, keyword)
	}
	if negate {
		ok = !ok
	}
	return ok, nil
}
