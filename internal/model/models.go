package model

import (
	"fmt"
	"strings"
)

// MatchResult is the verdict of a predicate against a request.
type MatchResult int

const (
	// MatchNot: the predicate holds for no packet of the request.
	MatchNot MatchResult = iota
	// MatchAll: the predicate holds for every packet of the request.
	MatchAll
	// MatchSome: the predicate holds for part of the request.
	MatchSome
	// MatchUnknown: the predicate cannot be decided.
	MatchUnknown
)

func (m MatchResult) String() string {
	switch m {
	case MatchNot:
		return "NOT"
	case MatchAll:
		return "ALL"
	case MatchSome:
		return "MATCH"
	case MatchUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("MatchResult(%d)", int(m))
	}
}

// Negate swaps ALL and NOT. Partial and unknown verdicts stay as they are.
func (m MatchResult) Negate() MatchResult {
	switch m {
	case MatchAll:
		return MatchNot
	case MatchNot:
		return MatchAll
	default:
		return m
	}
}

// Conjoin combines the verdicts of independent predicates that must all
// hold.
func Conjoin(results ...MatchResult) MatchResult {
	all, unknown := true, false
	for _, r := range results {
		switch r {
		case MatchNot:
			return MatchNot
		case MatchUnknown:
			unknown = true
			all = false
		case MatchSome:
			all = false
		}
	}
	switch {
	case all:
		return MatchAll
	case unknown:
		return MatchUnknown
	default:
		return MatchSome
	}
}

// Disjoin combines the verdicts of alternatives, such as group members.
// An empty list is NOT.
func Disjoin(results ...MatchResult) MatchResult {
	best := MatchNot
	for _, r := range results {
		switch r {
		case MatchAll:
			return MatchAll
		case MatchSome:
			best = MatchSome
		case MatchUnknown:
			if best == MatchNot {
				best = MatchUnknown
			}
		}
	}
	return best
}

type Action int

const (
	Accept Action = iota
	Deny
	Reject
	Auth
	LayerCall
)

func (a Action) String() string {
	switch a {
	case Accept:
		return "accept"
	case Deny:
		return "deny"
	case Reject:
		return "reject"
	case Auth:
		return "auth"
	case LayerCall:
		return "layer-call"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// ParseAction accepts the usual vendor spellings of a rule action.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accept", "permit", "allow", "pass":
		return Accept, nil
	case "deny", "drop", "block":
		return Deny, nil
	case "reject":
		return Reject, nil
	case "auth", "authenticate", "ipsec":
		return Auth, nil
	case "layer", "layer-call", "apply-layer", "inline-layer":
		return LayerCall, nil
	default:
		return Accept, fmt.Errorf("unknown action %q", s)
	}
}

type Direction int

const (
	In Direction = iota
	Out
)

func (d Direction) String() string {
	if d == Out {
		return "OUT"
	}
	return "IN"
}
