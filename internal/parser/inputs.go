package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"static-probe-analyzer/internal/engine"
	"static-probe-analyzer/internal/netaddr"
	"static-probe-analyzer/internal/service"
	"static-probe-analyzer/pkg/wellknown"
)

var ErrInvalidRequest = errors.New("invalid probe request")

// RequestSpec is the textual form of a probe request as typed on the
// command line or read from a batch file. Empty fields are unspecified.
type RequestSpec struct {
	Source      string
	Destination string
	Protocol    string
	SourcePort  string
	DestPort    string
	Flags       string
}

// Request resolves names through tables and builds the engine request.
// For ICMP the destination port field holds the message type, either a
// name or "type[/code]".
func (s RequestSpec) Request(tables *wellknown.Tables) (*engine.Request, error) {
	src, err := netaddr.Parse(s.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: source: %v", ErrInvalidRequest, err)
	}
	dst, err := netaddr.Parse(s.Destination)
	if err != nil {
		return nil, fmt.Errorf("%w: destination: %v", ErrInvalidRequest, err)
	}
	if src.Version() != dst.Version() {
		return nil, fmt.Errorf("%w: source and destination address families differ", ErrInvalidRequest)
	}
	req := &engine.Request{Source: src, Destination: dst}

	var protos []int
	if p := strings.TrimSpace(s.Protocol); p != "" {
		for _, name := range strings.Split(p, ",") {
			n, ok := tables.Protocol(name)
			if !ok {
				return nil, fmt.Errorf("%w: unknown protocol %q", ErrInvalidRequest, name)
			}
			protos = append(protos, n)
		}
		set, err := service.NewProtocolSet(protos...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		req.Protocols = &set
	}

	if len(protos) == 1 && (protos[0] == service.ProtoICMP || protos[0] == service.ProtoICMPv6) {
		if err := s.icmp(req, tables, protos[0] == service.ProtoICMPv6); err != nil {
			return nil, err
		}
		return req, nil
	}

	portProto := service.ProtoTCP
	if len(protos) > 0 {
		portProto = protos[0]
	}
	if req.SourcePort, err = portSpec(s.SourcePort, portProto, tables); err != nil {
		return nil, fmt.Errorf("%w: source port: %v", ErrInvalidRequest, err)
	}
	if req.DestPort, err = portSpec(s.DestPort, portProto, tables); err != nil {
		return nil, fmt.Errorf("%w: destination port: %v", ErrInvalidRequest, err)
	}

	if f := strings.TrimSpace(s.Flags); f != "" {
		for _, alt := range strings.Split(f, "|") {
			flags, err := service.ParseTCPFlags(alt)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
			}
			req.TCPFlags = append(req.TCPFlags, flags)
		}
	}
	return req, nil
}

func (s RequestSpec) icmp(req *engine.Request, tables *wellknown.Tables, v6 bool) error {
	text := strings.TrimSpace(s.DestPort)
	if text == "" {
		return nil
	}
	if t, ok := tables.ICMP(text, v6); ok {
		req.ICMPType = &t.Type
		if t.Code != service.AnyCode {
			req.ICMPCode = &t.Code
		}
		return nil
	}
	typ, code, hasCode := strings.Cut(text, "/")
	n, err := strconv.Atoi(typ)
	if err != nil || n < 0 || n > 255 {
		return fmt.Errorf("%w: unknown icmp type %q", ErrInvalidRequest, text)
	}
	req.ICMPType = &n
	if hasCode {
		c, err := strconv.Atoi(code)
		if err != nil || c < 0 || c > 255 {
			return fmt.Errorf("%w: bad icmp code %q", ErrInvalidRequest, code)
		}
		req.ICMPCode = &c
	}
	return nil
}

// portSpec accepts a service name as well as anything ParsePortSpec reads.
func portSpec(text string, proto int, tables *wellknown.Tables) (*service.PortSpec, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if n, ok := tables.Port(text, proto); ok {
		spec, err := service.NewPortSpec(service.OpEQ, n)
		return &spec, err
	}
	spec, err := service.ParsePortSpec(text)
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

// ProbeSpec is one line of a batch file.
type ProbeSpec struct {
	Line int
	On   string
	RequestSpec
	Expect string
}

var probeColumns = []string{"on", "source", "destination", "protocol", "source_port", "dest_port", "flags", "expect"}

// ParseProbes reads a batch CSV file. The header names the columns;
// source and destination are required, the others optional.
func ParseProbes(r io.Reader) ([]ProbeSpec, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("could not read header: %w", err)
	}
	col := make(map[string]int)
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"source", "destination"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("could not find %q column in probe file", required)
		}
	}

	var probes []ProbeSpec
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)
		values := make(map[string]string, len(probeColumns))
		for _, name := range probeColumns {
			if i, ok := col[name]; ok && i < len(record) {
				values[name] = strings.TrimSpace(record[i])
			}
		}
		if values["source"] == "" && values["destination"] == "" {
			continue
		}
		probes = append(probes, ProbeSpec{
			Line: line,
			On:   values["on"],
			RequestSpec: RequestSpec{
				Source:      values["source"],
				Destination: values["destination"],
				Protocol:    values["protocol"],
				SourcePort:  values["source_port"],
				DestPort:    values["dest_port"],
				Flags:       values["flags"],
			},
			Expect: values["expect"],
		})
	}
	return probes, nil
}
