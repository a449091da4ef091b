package topology

import (
	"fmt"
	"io"
	"net"
	"sort"

	"github.com/yl2chen/cidranger"

	"static-probe-analyzer/internal/netaddr"
)

// maxRecursion bounds next hop resolution of routes without an interface.
const maxRecursion = 8

// Route is one routing table entry. A route without an interface is
// resolved through the route to its next hop. A null route discards.
type Route struct {
	Prefix    netaddr.Range
	NextHop   netaddr.Range
	Interface *Interface
	Metric    int
	Null      bool
	Connected bool
}

func (r Route) String() string {
	if r.Null {
		return r.Prefix.CIDR() + " null-route"
	}
	link := "-"
	if r.Interface != nil {
		link = r.Interface.String()
	}
	if r.Connected {
		return fmt.Sprintf("%s connected link = %s", r.Prefix.CIDR(), link)
	}
	return fmt.Sprintf("%s %s %d link = %s", r.Prefix.CIDR(), r.NextHop, r.Metric, link)
}

type tableEntry struct {
	network net.IPNet
	prefix  netaddr.Range
	routes  []Route
}

func (e *tableEntry) Network() net.IPNet { return e.network }

// RoutingTable maps prefixes to routes with longest prefix lookup. Routes
// sharing a prefix are all returned so the probe forks across them.
type RoutingTable struct {
	ranger  cidranger.Ranger
	entries map[string]*tableEntry
}

func NewRoutingTable() *RoutingTable {
	return &RoutingTable{
		ranger:  cidranger.NewPCTrieRanger(),
		entries: make(map[string]*tableEntry),
	}
}

func (t *RoutingTable) Add(r Route) error {
	key := r.Prefix.Network().CIDR()
	e, ok := t.entries[key]
	if !ok {
		e = &tableEntry{network: *r.Prefix.IPNet(), prefix: r.Prefix.Network()}
		if err := t.ranger.Insert(e); err != nil {
			return fmt.Errorf("route %s: %w", key, err)
		}
		t.entries[key] = e
	}
	e.routes = append(e.routes, r)
	return nil
}

func (t *RoutingTable) Len() int { return len(t.entries) }

// Lookup returns the routes of the longest prefix covering dst. Null
// routes are dropped, recursive routes resolved and duplicate next hops
// removed.
func (t *RoutingTable) Lookup(dst netaddr.Range) []Route {
	return t.lookup(dst, 0)
}

func (t *RoutingTable) lookup(dst netaddr.Range, depth int) []Route {
	if !dst.IsValid() {
		return nil
	}
	found, err := t.ranger.ContainingNetworks(dst.First().IP())
	if err != nil {
		return nil
	}
	var best *tableEntry
	for _, f := range found {
		e := f.(*tableEntry)
		if e.prefix.Version() != dst.Version() || e.prefix.Prefix() > dst.Prefix() {
			continue
		}
		if best == nil || e.prefix.Prefix() > best.prefix.Prefix() {
			best = e
		}
	}
	if best == nil {
		return nil
	}

	var routes []Route
	for _, r := range best.routes {
		switch {
		case r.Null:
		case r.Interface != nil:
			routes = append(routes, r)
		case depth < maxRecursion:
			for _, via := range t.lookup(r.NextHop, depth+1) {
				resolved := via
				resolved.Prefix = r.Prefix
				resolved.Metric = r.Metric
				if via.Connected {
					resolved.NextHop = r.NextHop
					resolved.Connected = false
				}
				routes = append(routes, resolved)
			}
		}
	}
	return dedupe(routes)
}

func dedupe(routes []Route) []Route {
	out := routes[:0]
	for _, r := range routes {
		dup := false
		for _, o := range out {
			if o.Interface == r.Interface && o.Connected == r.Connected && o.NextHop.Equal(r.NextHop) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, r)
		}
	}
	return out
}

// Routes returns every entry ordered by prefix.
func (t *RoutingTable) Routes() []Route {
	entries := make([]*tableEntry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].prefix, entries[j].prefix
		if a.Version() != b.Version() {
			return a.Version() < b.Version()
		}
		c, _ := a.Compare(b)
		if c != 0 {
			return c < 0
		}
		return a.Prefix() < b.Prefix()
	})
	var routes []Route
	for _, e := range entries {
		routes = append(routes, e.routes...)
	}
	return routes
}

func (t *RoutingTable) write(w io.Writer, title string) {
	routes := t.Routes()
	if len(routes) == 0 {
		return
	}
	fmt.Fprintln(w, title)
	for _, r := range routes {
		fmt.Fprintln(w, r)
	}
	fmt.Fprintln(w)
}
