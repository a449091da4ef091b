package service

import (
	"fmt"
	"strings"

	"static-probe-analyzer/internal/model"
)

// TCPFlags is a set of TCP header flags.
type TCPFlags uint8

const (
	FlagCWR TCPFlags = 1 << iota
	FlagECE
	FlagURG
	FlagACK
	FlagPSH
	FlagRST
	FlagSYN
	FlagFIN
)

const flagLetters = "WEUAPRSF"

func flagByLetter(c byte) (TCPFlags, bool) {
	i := strings.IndexByte(flagLetters, upper(c))
	if i < 0 {
		return 0, false
	}
	return TCPFlags(1 << i), true
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

// ParseTCPFlags reads the flags set in a packet, one upper case letter
// per flag ("S", "SA", "FA").
func ParseTCPFlags(s string) (TCPFlags, error) {
	var f TCPFlags
	for i := 0; i < len(s); i++ {
		bit, ok := flagByLetter(s[i])
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrInvalidFlag, s[i])
		}
		if s[i] >= 'a' && s[i] <= 'z' {
			f &^= bit
			continue
		}
		f |= bit
	}
	return f, nil
}

func (f TCPFlags) Has(bit TCPFlags) bool { return f&bit != 0 }

// test checks one letter: upper case must be set, lower case must be
// clear.
func (f TCPFlags) test(c byte) bool {
	bit, _ := flagByLetter(c)
	if c >= 'a' && c <= 'z' {
		return !f.Has(bit)
	}
	return f.Has(bit)
}

// TestAll reports whether every letter of spec holds.
func (f TCPFlags) TestAll(spec string) bool {
	for i := 0; i < len(spec); i++ {
		if !f.test(spec[i]) {
			return false
		}
	}
	return true
}

// TestAny reports whether at least one letter of spec holds. An empty
// spec always holds.
func (f TCPFlags) TestAny(spec string) bool {
	if spec == "" {
		return true
	}
	for i := 0; i < len(spec); i++ {
		if f.test(spec[i]) {
			return true
		}
	}
	return false
}

func (f TCPFlags) String() string {
	var b strings.Builder
	for i := 0; i < len(flagLetters); i++ {
		if f.Has(TCPFlags(1 << i)) {
			b.WriteByte(flagLetters[i])
		}
	}
	return b.String()
}

// FlagsMatch is the rule side of a TCP flags predicate.
type FlagsMatch struct {
	Spec string
	Any  bool
}

func NewFlagsMatch(spec string, matchAny bool) (FlagsMatch, error) {
	for i := 0; i < len(spec); i++ {
		if _, ok := flagByLetter(spec[i]); !ok {
			return FlagsMatch{}, fmt.Errorf("%w: %q", ErrInvalidFlag, spec[i])
		}
	}
	return FlagsMatch{Spec: spec, Any: matchAny}, nil
}

// Matches checks every flag combination the request allows.
func (m FlagsMatch) Matches(alternatives []TCPFlags) model.MatchResult {
	if len(alternatives) == 0 {
		return model.MatchAll
	}
	hits := 0
	for _, f := range alternatives {
		ok := f.TestAll(m.Spec)
		if m.Any {
			ok = f.TestAny(m.Spec)
		}
		if ok {
			hits++
		}
	}
	switch hits {
	case 0:
		return model.MatchNot
	case len(alternatives):
		return model.MatchAll
	default:
		return model.MatchSome
	}
}
