package probing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"static-probe-analyzer/internal/engine"
	"static-probe-analyzer/internal/model"
	"static-probe-analyzer/internal/netaddr"
)

const (
	DefaultTTL       = 255
	DefaultMaxProbes = 10000
)

// ErrResourceExhausted is returned when a simulation spawns more probes
// than the engine allows.
var ErrResourceExhausted = errors.New("probe limit exceeded")

// Link is a network attachment between equipments. Implementations must be
// comparable; the engine compares links with ==.
type Link interface {
	String() string
}

// Route is one forwarding choice for a probe.
type Route struct {
	Prefix  netaddr.Range
	NextHop netaddr.Range
	Link    Link
	Metric  int
}

// RoutingEngine selects the routes a probe leaves by. Several routes mean
// the probe forks.
type RoutingEngine interface {
	Routes(p *Probe) []Route
}

// Equipment is a node that filters and forwards probes.
type Equipment interface {
	Name() string
	Owns(dst netaddr.Range) bool
	Rules(link Link, dir model.Direction) *engine.RuleSet
	RoutingEngine() RoutingEngine
}

// Delivery says where a probe sent on a link lands.
type Delivery struct {
	Equipment Equipment
	Ingress   Link
	Reached   bool
	Reason    string
}

// Registry resolves the equipment behind a next hop.
type Registry interface {
	Resolve(link Link, nextHop, dst netaddr.Range) Delivery
}

type Option func(*Engine)

// WithMaxProbes bounds the probes a single simulation may create. Zero
// removes the bound.
func WithMaxProbes(n int) Option {
	return func(e *Engine) { e.maxProbes = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine runs probe simulations over a registry of equipments.
type Engine struct {
	registry  Registry
	maxProbes int
	logger    *slog.Logger
}

func NewEngine(registry Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:  registry,
		maxProbes: DefaultMaxProbes,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type step struct {
	equipment Equipment
	ingress   Link
	probe     *Probe
}

// Enter injects probe on equipment eq through ingress and runs the
// simulation until every probe is terminal.
func (e *Engine) Enter(eq Equipment, ingress Link, probe *Probe) (*Tracker, error) {
	tr := newTracker(probe, e.maxProbes)
	log := e.logger.With("simulation", tr.ID().String())
	log.Debug("Starting simulation", "equipment", eq.Name(), "request", probe.request.String())

	work := []step{{equipment: eq, ingress: ingress, probe: probe}}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		next, err := e.hop(tr, cur, log)
		if err != nil {
			return tr, err
		}
		// reversed so the first route is processed first
		for i := len(next) - 1; i >= 0; i-- {
			work = append(work, next[i])
		}
	}
	if log.Enabled(context.Background(), slog.LevelDebug) {
		log.Debug("Simulation finished", "probes", len(tr.probes), "outcome", tr.Outcome().String())
	}
	return tr, nil
}

func (e *Engine) hop(tr *Tracker, cur step, log *slog.Logger) ([]step, error) {
	eq := cur.equipment
	p := cur.probe
	p.position = Position{Equipment: eq, Incoming: cur.ingress}

	p.ttl--
	if p.ttl < 1 {
		p.kill(TTLExpired, "TTL expired on "+eq.Name())
		log.Debug("Probe killed", "probe", p.id, "equipment", eq.Name(), "reason", p.reason.String())
		return nil, nil
	}

	p.in = engine.Evaluate(eq.Rules(cur.ingress, model.In), p.request)

	if eq.Owns(p.request.Destination) {
		p.reach("destination reached on " + eq.Name())
		log.Debug("Destination reached", "probe", p.id, "equipment", eq.Name())
		return nil, nil
	}

	routes := eq.RoutingEngine().Routes(p)
	if len(routes) == 0 {
		p.kill(NoRoute, fmt.Sprintf("no route to %s on %s", p.request.Destination, eq.Name()))
		log.Debug("Probe killed", "probe", p.id, "equipment", eq.Name(), "reason", p.reason.String())
		return nil, nil
	}

	instances := []*Probe{p}
	for range routes[1:] {
		c := p.fork()
		if err := tr.add(c); err != nil {
			return nil, err
		}
		instances = append(instances, c)
	}

	var next []step
	for i, r := range routes {
		q := instances[i]
		q.position.Outgoing = r.Link
		q.position.NextHop = r.NextHop
		q.out = engine.Evaluate(eq.Rules(r.Link, model.Out), q.request)

		if r.Link == cur.ingress {
			q.kill(Loop, fmt.Sprintf("%s routes back through incoming link %s", eq.Name(), linkName(r.Link)))
			log.Debug("Probe killed", "probe", q.id, "equipment", eq.Name(), "reason", q.reason.String())
			continue
		}
		d := e.registry.Resolve(r.Link, r.NextHop, q.request.Destination)
		switch {
		case d.Reached:
			q.reach(d.Reason)
			log.Debug("Destination reached", "probe", q.id, "equipment", eq.Name(), "link", linkName(r.Link))
		case d.Equipment == nil:
			msg := d.Reason
			if msg == "" {
				msg = fmt.Sprintf("next hop %s not found on %s", r.NextHop, linkName(r.Link))
			}
			q.kill(NoRoute, msg)
			log.Debug("Probe killed", "probe", q.id, "equipment", eq.Name(), "reason", q.reason.String())
		case q.visited(d.Equipment, d.Ingress):
			q.kill(Loop, fmt.Sprintf("loop: %s already entered through %s", d.Equipment.Name(), linkName(d.Ingress)))
			log.Debug("Probe killed", "probe", q.id, "equipment", eq.Name(), "reason", q.reason.String())
		default:
			c := q.child()
			if err := tr.add(c); err != nil {
				return nil, err
			}
			next = append(next, step{equipment: d.Equipment, ingress: d.Ingress, probe: c})
		}
	}
	return next, nil
}
