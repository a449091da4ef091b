package service

import (
	"fmt"

	"static-probe-analyzer/internal/model"
)

// AnyCode marks an ICMP predicate without a code.
const AnyCode = -1

// ICMPSpec is the rule side of an ICMP predicate.
type ICMPSpec struct {
	Type int
	Code int
}

func NewICMPSpec(icmpType, code int) (ICMPSpec, error) {
	if icmpType < 0 || icmpType > 255 {
		return ICMPSpec{}, fmt.Errorf("%w: icmp type %d", ErrInvalidProtocol, icmpType)
	}
	if code < AnyCode || code > 255 {
		return ICMPSpec{}, fmt.Errorf("%w: icmp code %d", ErrInvalidProtocol, code)
	}
	return ICMPSpec{Type: icmpType, Code: code}, nil
}

// Matches checks a request type and code (AnyCode when the request does
// not name one). A request without a code against a rule with a code is
// only a partial match.
func (s ICMPSpec) Matches(reqType, reqCode int) model.MatchResult {
	if s.Type != reqType {
		return model.MatchNot
	}
	switch {
	case s.Code == AnyCode:
		return model.MatchAll
	case reqCode == AnyCode:
		return model.MatchSome
	case s.Code == reqCode:
		return model.MatchAll
	default:
		return model.MatchNot
	}
}

func (s ICMPSpec) String() string {
	if s.Code == AnyCode {
		return fmt.Sprintf("type %d", s.Type)
	}
	return fmt.Sprintf("type %d code %d", s.Type, s.Code)
}
