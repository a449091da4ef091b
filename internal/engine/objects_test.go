package engine

import (
	"errors"
	"testing"

	"static-probe-analyzer/internal/model"
)

func TestResolveReportsUnresolvedMembersAsUnknown(t *testing.T) {
	objs := NewObjects()
	if err := objs.Add(NewAddress("lan", mustParse(t, "10.0.0.0/24"))); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	objs.Add(&Predicate{Kind: KindGroup, Name: "grp", Members: []string{"lan", "ghost"}})

	warnings := objs.Resolve()
	if len(warnings) != 1 || warnings[0].Reference != "ghost" || warnings[0].Reason != "unresolved reference" {
		t.Fatalf("expected one unresolved reference warning, got %v", warnings)
	}

	grp, _ := objs.Lookup("grp")
	inside := &Request{Source: mustParse(t, "10.0.0.1"), Destination: mustParse(t, "1.1.1.1")}
	outside := &Request{Source: mustParse(t, "10.1.0.1"), Destination: mustParse(t, "1.1.1.1")}
	if got := grp.MatchSource(inside); got != model.MatchAll {
		t.Errorf("expected resolved member to decide, got %s", got)
	}
	if got := grp.MatchSource(outside); got != model.MatchUnknown {
		t.Errorf("expected unresolved member to degrade to UNKNOWN, got %s", got)
	}
}

func TestResolveBreaksCycles(t *testing.T) {
	objs := NewObjects()
	objs.Add(NewAddress("lan", mustParse(t, "10.0.0.0/24")))
	objs.Add(&Predicate{Kind: KindGroup, Name: "a", Members: []string{"b", "lan"}})
	objs.Add(&Predicate{Kind: KindGroup, Name: "b", Members: []string{"c"}})
	objs.Add(&Predicate{Kind: KindGroup, Name: "c", Members: []string{"a"}})
	objs.Add(&Predicate{Kind: KindGroup, Name: "self", Members: []string{"self"}})

	warnings := objs.Resolve()
	cycles := 0
	for _, w := range warnings {
		if w.Reason == "cyclic reference" {
			cycles++
		}
	}
	if cycles != 2 {
		t.Fatalf("expected two cycle warnings, got %v", warnings)
	}

	a, _ := objs.Lookup("a")
	req := &Request{Source: mustParse(t, "192.168.0.1"), Destination: mustParse(t, "1.1.1.1")}
	if got := a.MatchSource(req); got != model.MatchUnknown {
		t.Errorf("expected the cut edge to contribute UNKNOWN, got %s", got)
	}
	req.Source = mustParse(t, "10.0.0.9")
	if got := a.MatchSource(req); got != model.MatchAll {
		t.Errorf("expected lan member to match, got %s", got)
	}
}

func TestReferenceGroupsAreResolved(t *testing.T) {
	objs := NewObjects()
	objs.Add(NewAddress("lan", mustParse(t, "10.0.0.0/24")))
	objs.Add(NewExpression("geo", "geography FR"))
	ref := objs.Reference("policy 7 srcaddr", "lan", "geo")

	warnings := objs.Resolve()
	if len(warnings) != 1 || warnings[0].Reason != "unsupported expression" {
		t.Fatalf("expected an unsupported expression warning, got %v", warnings)
	}
	req := &Request{Source: mustParse(t, "10.0.0.1"), Destination: mustParse(t, "1.1.1.1")}
	if got := ref.MatchSource(req); got != model.MatchAll {
		t.Fatalf("expected ALL, got %s", got)
	}
}

func TestAddRejectsDuplicates(t *testing.T) {
	objs := NewObjects()
	objs.Add(NewAddress("lan", mustParse(t, "10.0.0.0/24")))
	if err := objs.Add(NewAddress("lan", mustParse(t, "10.0.1.0/24"))); !errors.Is(err, ErrDuplicateObject) {
		t.Fatalf("expected ErrDuplicateObject, got %v", err)
	}
}
