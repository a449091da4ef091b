package service

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"static-probe-analyzer/internal/model"
)

const (
	ProtoICMP   = 1
	ProtoTCP    = 6
	ProtoUDP    = 17
	ProtoICMPv6 = 58
)

// ProtocolSet is an immutable set of IP protocol numbers.
type ProtocolSet struct {
	protos []int
}

func NewProtocolSet(protos ...int) (ProtocolSet, error) {
	seen := make(map[int]bool, len(protos))
	out := make([]int, 0, len(protos))
	for _, p := range protos {
		if p < 0 || p > 255 {
			return ProtocolSet{}, fmt.Errorf("%w: %d", ErrInvalidProtocol, p)
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Ints(out)
	return ProtocolSet{protos: out}, nil
}

// MustProtocolSet is NewProtocolSet for literals known to be valid.
func MustProtocolSet(protos ...int) ProtocolSet {
	s, err := NewProtocolSet(protos...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s ProtocolSet) Contains(p int) bool {
	i := sort.SearchInts(s.protos, p)
	return i < len(s.protos) && s.protos[i] == p
}

// Protocols returns the members in ascending order.
func (s ProtocolSet) Protocols() []int {
	return append([]int(nil), s.protos...)
}

func (s ProtocolSet) Len() int { return len(s.protos) }

// Matches is ALL when the sets share a protocol and NOT otherwise.
// Protocol numbers are atomic so there is no partial verdict.
func (s ProtocolSet) Matches(other ProtocolSet) model.MatchResult {
	for _, p := range s.protos {
		if other.Contains(p) {
			return model.MatchAll
		}
	}
	return model.MatchNot
}

func (s ProtocolSet) String() string {
	parts := make([]string, len(s.protos))
	for i, p := range s.protos {
		parts[i] = strconv.Itoa(p)
	}
	return "{" + strings.Join(parts, ",") + "}"
}
