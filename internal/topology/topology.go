// Package topology is a static model of networks and equipments. It
// provides the routing and next hop resolution the probe engine walks.
package topology

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"static-probe-analyzer/internal/engine"
	"static-probe-analyzer/internal/model"
	"static-probe-analyzer/internal/netaddr"
	"static-probe-analyzer/internal/probing"
)

var (
	ErrUnknownEquipment = errors.New("unknown equipment")
	ErrUnknownInterface = errors.New("unknown interface")
	ErrUnknownNetwork   = errors.New("unknown network")
	ErrDuplicate        = errors.New("duplicate name")
	ErrNoInjectionPoint = errors.New("no injection point")
)

// Network is a segment equipments attach to. Traffic sent to a border
// network leaves the modelled topology and counts as delivered.
type Network struct {
	Name   string
	Prefix netaddr.Range
	Border bool

	interfaces []*Interface
}

// Interface attaches an equipment to a network. It is the link probes
// cross.
type Interface struct {
	Equipment *Equipment
	Name      string
	Address   netaddr.Range
	Network   *Network

	in, out *engine.RuleSet
}

func (i *Interface) String() string {
	return i.Equipment.name + "/" + i.Name
}

// Equipment is a router or firewall: interfaces, per interface rule sets
// and routing tables.
type Equipment struct {
	name         string
	interfaces   []*Interface
	routes       *RoutingTable
	sourceRoutes *RoutingTable
}

func (e *Equipment) Name() string { return e.name }

func (e *Equipment) Interfaces() []*Interface {
	return append([]*Interface(nil), e.interfaces...)
}

func (e *Equipment) Interface(name string) (*Interface, bool) {
	for _, i := range e.interfaces {
		if i.Name == name {
			return i, true
		}
	}
	return nil, false
}

// AddInterface attaches the equipment to nw with address, a host address
// with the network prefix length. The connected route is installed.
func (e *Equipment) AddInterface(name string, address netaddr.Range, nw *Network) (*Interface, error) {
	if _, ok := e.Interface(name); ok {
		return nil, fmt.Errorf("%w: interface %s/%s", ErrDuplicate, e.name, name)
	}
	if ok, err := nw.Prefix.Contains(address.Host()); err != nil || !ok {
		return nil, fmt.Errorf("interface %s/%s: address %s is not on network %s", e.name, name, address.Host(), nw.Name)
	}
	iface := &Interface{Equipment: e, Name: name, Address: address.Host(), Network: nw}
	e.interfaces = append(e.interfaces, iface)
	nw.interfaces = append(nw.interfaces, iface)
	err := e.routes.Add(Route{Prefix: nw.Prefix.Network(), NextHop: iface.Address, Interface: iface, Connected: true})
	return iface, err
}

// AddRoute installs a destination route. An empty interface name means the
// next hop is resolved through the table.
func (e *Equipment) AddRoute(r Route) error {
	return e.routes.Add(r)
}

// AddSourceRoute installs a route selected by the probe source. Source
// routes take precedence over destination routes.
func (e *Equipment) AddSourceRoute(r Route) error {
	return e.sourceRoutes.Add(r)
}

// SetRules binds a rule set to an interface direction. Nil removes
// filtering.
func (e *Equipment) SetRules(iface string, dir model.Direction, rs *engine.RuleSet) error {
	i, ok := e.Interface(iface)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownInterface, e.name, iface)
	}
	if dir == model.In {
		i.in = rs
	} else {
		i.out = rs
	}
	return nil
}

// Owns reports whether dst is one of the equipment's addresses.
func (e *Equipment) Owns(dst netaddr.Range) bool {
	for _, i := range e.interfaces {
		if ok, err := i.Address.Contains(dst); err == nil && ok {
			return true
		}
	}
	return false
}

func (e *Equipment) Rules(link probing.Link, dir model.Direction) *engine.RuleSet {
	i, ok := link.(*Interface)
	if !ok || i.Equipment != e {
		return nil
	}
	if dir == model.In {
		return i.in
	}
	return i.out
}

func (e *Equipment) RoutingEngine() probing.RoutingEngine { return e }

// Routes consults the source routes first, then the destination routes.
// Connected routes hand the probe straight to its destination.
func (e *Equipment) Routes(p *probing.Probe) []probing.Route {
	routes := e.sourceRoutes.Lookup(p.Source())
	if len(routes) == 0 {
		routes = e.routes.Lookup(p.Destination())
	}
	out := make([]probing.Route, 0, len(routes))
	for _, r := range routes {
		nextHop := r.NextHop
		if r.Connected {
			nextHop = p.Destination()
		}
		out = append(out, probing.Route{Prefix: r.Prefix, NextHop: nextHop, Link: r.Interface, Metric: r.Metric})
	}
	return out
}

// WriteRoutes prints the routing tables.
func (e *Equipment) WriteRoutes(w io.Writer) {
	e.sourceRoutes.write(w, "source-routes")
	e.routes.write(w, "routes")
}

// Topology holds every network and equipment and resolves next hops.
type Topology struct {
	networks   map[string]*Network
	equipments map[string]*Equipment
	order      []*Equipment
}

func New() *Topology {
	return &Topology{
		networks:   make(map[string]*Network),
		equipments: make(map[string]*Equipment),
	}
}

func (t *Topology) AddNetwork(name string, prefix netaddr.Range, border bool) (*Network, error) {
	if _, ok := t.networks[name]; ok {
		return nil, fmt.Errorf("%w: network %s", ErrDuplicate, name)
	}
	nw := &Network{Name: name, Prefix: prefix.Network(), Border: border}
	t.networks[name] = nw
	return nw, nil
}

func (t *Topology) Network(name string) (*Network, bool) {
	nw, ok := t.networks[name]
	return nw, ok
}

func (t *Topology) AddEquipment(name string) (*Equipment, error) {
	if _, ok := t.equipments[name]; ok {
		return nil, fmt.Errorf("%w: equipment %s", ErrDuplicate, name)
	}
	e := &Equipment{name: name, routes: NewRoutingTable(), sourceRoutes: NewRoutingTable()}
	t.equipments[name] = e
	t.order = append(t.order, e)
	return e, nil
}

func (t *Topology) Equipment(name string) (*Equipment, bool) {
	e, ok := t.equipments[name]
	return e, ok
}

// Equipments returns the equipments in declaration order.
func (t *Topology) Equipments() []*Equipment {
	return append([]*Equipment(nil), t.order...)
}

// Resolve finds where a probe sent on link towards nextHop arrives.
func (t *Topology) Resolve(link probing.Link, nextHop, dst netaddr.Range) probing.Delivery {
	from, ok := link.(*Interface)
	if !ok {
		return probing.Delivery{Reason: fmt.Sprintf("unknown link %s", link)}
	}
	nw := from.Network
	for _, i := range nw.interfaces {
		if i == from {
			continue
		}
		if ok, err := i.Address.Contains(nextHop); err == nil && ok {
			return probing.Delivery{Equipment: i.Equipment, Ingress: i}
		}
	}
	if ok, err := nw.Prefix.Contains(dst); err == nil && ok && nextHop.Equal(dst) {
		return probing.Delivery{Reached: true, Reason: fmt.Sprintf("destination reached on network %s", nw.Name)}
	}
	if nw.Border {
		return probing.Delivery{Reached: true, Reason: fmt.Sprintf("left through border network %s", nw.Name)}
	}
	return probing.Delivery{Reason: fmt.Sprintf("host %s not found on network %s", nextHop, nw.Name)}
}

// InjectionPoint is where a probe enters the topology.
type InjectionPoint struct {
	Equipment *Equipment
	Interface *Interface
}

func (p InjectionPoint) String() string { return p.Interface.String() }

// Locate chooses the injection points for traffic from src. on is
// "equipment" or "equipment/interface"; when empty every interface whose
// network holds src is returned, falling back to border networks.
func (t *Topology) Locate(on string, src netaddr.Range) ([]InjectionPoint, error) {
	if on != "" {
		eqName, ifName, hasIf := strings.Cut(on, "/")
		eq, ok := t.equipments[eqName]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEquipment, eqName)
		}
		if hasIf {
			i, ok := eq.Interface(ifName)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownInterface, on)
			}
			return []InjectionPoint{{Equipment: eq, Interface: i}}, nil
		}
		for _, i := range eq.interfaces {
			if ok, err := i.Network.Prefix.Contains(src); err == nil && ok {
				return []InjectionPoint{{Equipment: eq, Interface: i}}, nil
			}
		}
		// the interface the equipment would answer src through
		for _, r := range eq.routes.Lookup(src) {
			if r.Interface != nil {
				return []InjectionPoint{{Equipment: eq, Interface: r.Interface}}, nil
			}
		}
		return nil, fmt.Errorf("%w: %s has no interface towards %s", ErrNoInjectionPoint, eqName, src)
	}

	var points, border []InjectionPoint
	for _, eq := range t.order {
		for _, i := range eq.interfaces {
			if ok, err := i.Network.Prefix.Contains(src); err == nil && ok {
				points = append(points, InjectionPoint{Equipment: eq, Interface: i})
			} else if i.Network.Border && i.Network.Prefix.Version() == src.Version() {
				border = append(border, InjectionPoint{Equipment: eq, Interface: i})
			}
		}
	}
	if len(points) == 0 {
		points = border
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no network holds %s", ErrNoInjectionPoint, src)
	}
	return points, nil
}
