package engine

import (
	"fmt"
	"strconv"
	"strings"

	"static-probe-analyzer/internal/netaddr"
	"static-probe-analyzer/internal/service"
)

// Request describes the packets a probe stands for. Nil fields are
// unspecified and skipped by service predicates.
type Request struct {
	Source      netaddr.Range
	Destination netaddr.Range
	Protocols   *service.ProtocolSet
	SourcePort  *service.PortSpec
	DestPort    *service.PortSpec
	ICMPType    *int
	ICMPCode    *int
	TCPFlags    []service.TCPFlags
}

// Clone returns a copy that shares only immutable values.
func (r *Request) Clone() *Request {
	c := *r
	c.TCPFlags = append([]service.TCPFlags(nil), r.TCPFlags...)
	if r.ICMPType != nil {
		v := *r.ICMPType
		c.ICMPType = &v
	}
	if r.ICMPCode != nil {
		v := *r.ICMPCode
		c.ICMPCode = &v
	}
	return &c
}

func (r *Request) String() string {
	parts := []string{r.Source.String() + " -> " + r.Destination.String()}
	if r.Protocols != nil {
		parts = append(parts, "proto "+r.Protocols.String())
	}
	if r.SourcePort != nil {
		parts = append(parts, "sport "+r.SourcePort.String())
	}
	if r.DestPort != nil {
		parts = append(parts, "dport "+r.DestPort.String())
	}
	if r.ICMPType != nil {
		s := "icmp " + strconv.Itoa(*r.ICMPType)
		if r.ICMPCode != nil {
			s += "/" + strconv.Itoa(*r.ICMPCode)
		}
		parts = append(parts, s)
	}
	if len(r.TCPFlags) > 0 {
		flags := make([]string, len(r.TCPFlags))
		for i, f := range r.TCPFlags {
			flags[i] = f.String()
		}
		parts = append(parts, fmt.Sprintf("flags %s", strings.Join(flags, "|")))
	}
	return strings.Join(parts, " ")
}
