// Package wellknown holds the protocol, service and ICMP name tables used
// to resolve symbolic names found in configurations and probe requests.
package wellknown

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	_ "embed"

	"static-probe-analyzer/internal/service"
)

//go:embed well_known_ports.csv
var wellKnownPortsData string

//go:embed protocols.csv
var protocolsData string

//go:embed icmp_types.csv
var icmpTypesData string

type ServiceEntry struct {
	Protocol int
	Port     int
}

type ICMPType struct {
	Type int
	Code int // service.AnyCode when the name covers every code
}

// Tables is an immutable set of lookup tables. Build it once with Load and
// pass it to whatever needs name resolution.
type Tables struct {
	protocols     map[string]int
	protocolNames map[int]string
	services      map[string][]ServiceEntry
	icmp4         map[string]ICMPType
	icmp6         map[string]ICMPType
}

// Load parses the embedded tables.
func Load() (*Tables, error) {
	t := &Tables{
		protocols:     make(map[string]int),
		protocolNames: make(map[int]string),
		services:      make(map[string][]ServiceEntry),
		icmp4:         make(map[string]ICMPType),
		icmp6:         make(map[string]ICMPType),
	}
	if err := t.loadProtocols(protocolsData); err != nil {
		return nil, fmt.Errorf("protocols.csv: %w", err)
	}
	if err := t.loadServices(wellKnownPortsData); err != nil {
		return nil, fmt.Errorf("well_known_ports.csv: %w", err)
	}
	if err := t.loadICMP(icmpTypesData); err != nil {
		return nil, fmt.Errorf("icmp_types.csv: %w", err)
	}
	return t, nil
}

// MustLoad is Load for program start up and tests.
func MustLoad() *Tables {
	t, err := Load()
	if err != nil {
		panic(err)
	}
	return t
}

func readRecords(data string, fields int, fn func(record []string) error) error {
	reader := csv.NewReader(bytes.NewBufferString(data))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = fields
	// Skip header
	if _, err := reader.Read(); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(record); err != nil {
			return err
		}
	}
}

func (t *Tables) loadProtocols(data string) error {
	return readRecords(data, 3, func(record []string) error {
		n, err := strconv.Atoi(record[0])
		if err != nil || n < 0 || n > 255 {
			return fmt.Errorf("bad protocol number %q", record[0])
		}
		name := strings.ToUpper(strings.TrimSpace(record[1]))
		t.protocols[name] = n
		t.protocolNames[n] = strings.ToLower(name)
		for _, alias := range strings.Fields(record[2]) {
			t.protocols[strings.ToUpper(alias)] = n
		}
		return nil
	})
}

func (t *Tables) loadServices(data string) error {
	return readRecords(data, 3, func(record []string) error {
		port, err := strconv.Atoi(record[0])
		if err != nil {
			return nil // Skip if port is not a valid number
		}
		for i, proto := range []int{service.ProtoTCP, service.ProtoUDP} {
			name := strings.TrimSpace(record[i+1])
			if name == "" || name == "N/A" {
				continue
			}
			entry := ServiceEntry{Protocol: proto, Port: port}
			key := strings.ToUpper(name)
			t.services[key] = append(t.services[key], entry)
			// Add common alias for DNS
			if name == "domain" {
				t.services["DNS"] = append(t.services["DNS"], entry)
			}
		}
		return nil
	})
}

func (t *Tables) loadICMP(data string) error {
	return readRecords(data, 4, func(record []string) error {
		typ, err := strconv.Atoi(record[2])
		if err != nil {
			return fmt.Errorf("bad icmp type %q", record[2])
		}
		code := service.AnyCode
		if record[3] != "" {
			if code, err = strconv.Atoi(record[3]); err != nil {
				return fmt.Errorf("bad icmp code %q", record[3])
			}
		}
		entry := ICMPType{Type: typ, Code: code}
		switch record[0] {
		case "4":
			t.icmp4[strings.ToUpper(record[1])] = entry
		case "6":
			t.icmp6[strings.ToUpper(record[1])] = entry
		default:
			return fmt.Errorf("bad icmp family %q", record[0])
		}
		return nil
	})
}

// Protocol resolves a protocol name or number.
func (t *Tables) Protocol(name string) (int, bool) {
	name = strings.TrimSpace(name)
	if n, err := strconv.Atoi(name); err == nil {
		return n, n >= 0 && n <= 255
	}
	n, ok := t.protocols[strings.ToUpper(name)]
	return n, ok
}

// ProtocolName returns the table name of a protocol or its number.
func (t *Tables) ProtocolName(n int) string {
	if name, ok := t.protocolNames[n]; ok {
		return name
	}
	return strconv.Itoa(n)
}

// Service returns the port and protocol entries for a well-known service
// name.
func (t *Tables) Service(name string) ([]ServiceEntry, bool) {
	entries, ok := t.services[strings.ToUpper(strings.TrimSpace(name))]
	return entries, ok
}

// Port resolves a port number or a service name bound to proto.
func (t *Tables) Port(name string, proto int) (int, bool) {
	if n, err := strconv.Atoi(strings.TrimSpace(name)); err == nil {
		return n, n >= 0 && n <= service.MaxPort
	}
	entries, _ := t.Service(name)
	for _, e := range entries {
		if e.Protocol == proto {
			return e.Port, true
		}
	}
	return 0, false
}

// ICMP resolves an ICMP or ICMPv6 message name.
func (t *Tables) ICMP(name string, v6 bool) (ICMPType, bool) {
	table := t.icmp4
	if v6 {
		table = t.icmp6
	}
	e, ok := table[strings.ToUpper(strings.TrimSpace(name))]
	return e, ok
}
