package engine

import (
	"errors"
	"fmt"
)

var ErrDuplicateObject = errors.New("duplicate object")

// Warning reports a configuration problem that degrades a predicate to
// UNKNOWN instead of failing the load.
type Warning struct {
	Object    string
	Reference string
	Reason    string
}

func (w Warning) String() string {
	if w.Reference == "" {
		return fmt.Sprintf("%s: %s", w.Object, w.Reason)
	}
	return fmt.Sprintf("%s: %s %q", w.Object, w.Reason, w.Reference)
}

// Objects is the arena of named predicates of one configuration. Loaders
// add every object first, with group members given by name, then call
// Resolve once to link them.
type Objects struct {
	items []*Predicate
	index map[string]int
	refs  []*Predicate
}

func NewObjects() *Objects {
	return &Objects{index: make(map[string]int)}
}

func (o *Objects) Add(p *Predicate) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("object without a name")
	}
	if _, ok := o.index[p.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateObject, p.Name)
	}
	o.index[p.Name] = len(o.items)
	o.items = append(o.items, p)
	return nil
}

func (o *Objects) Lookup(name string) (*Predicate, bool) {
	i, ok := o.index[name]
	if !ok {
		return nil, false
	}
	return o.items[i], true
}

func (o *Objects) Len() int { return len(o.items) }

// All returns the named objects in insertion order.
func (o *Objects) All() []*Predicate {
	return append([]*Predicate(nil), o.items...)
}

// Reference returns an anonymous group over the named objects, used for
// rule fields that list several names. It is linked by Resolve like any
// other group.
func (o *Objects) Reference(label string, names ...string) *Predicate {
	p := &Predicate{Kind: KindGroup, Name: label, Members: append([]string(nil), names...)}
	o.refs = append(o.refs, p)
	return p
}

// Resolve links group members, reports unknown names, unsupported
// expressions and cycles. Cyclic edges are cut so matching terminates.
func (o *Objects) Resolve() []Warning {
	var warnings []Warning
	link := func(p *Predicate) {
		p.members = make([]*Predicate, len(p.Members))
		for i, name := range p.Members {
			idx, ok := o.index[name]
			if !ok {
				warnings = append(warnings, Warning{Object: p.Name, Reference: name, Reason: "unresolved reference"})
				continue
			}
			p.members[i] = o.items[idx]
		}
	}
	for _, p := range o.items {
		switch p.Kind {
		case KindGroup:
			link(p)
		case KindExpression:
			warnings = append(warnings, Warning{Object: p.Name, Reference: p.Expression, Reason: "unsupported expression"})
		}
	}
	for _, p := range o.refs {
		link(p)
	}

	const (
		white = iota
		grey
		black
	)
	color := make(map[*Predicate]int)
	var visit func(p *Predicate)
	visit = func(p *Predicate) {
		color[p] = grey
		for i, m := range p.members {
			if m == nil || m.Kind != KindGroup {
				continue
			}
			switch color[m] {
			case grey:
				warnings = append(warnings, Warning{Object: p.Name, Reference: m.Name, Reason: "cyclic reference"})
				p.members[i] = nil
			case white:
				visit(m)
			}
		}
		color[p] = black
	}
	for _, p := range o.items {
		if p.Kind == KindGroup && color[p] == white {
			visit(p)
		}
	}
	for _, p := range o.refs {
		if color[p] == white {
			visit(p)
		}
	}
	return warnings
}
