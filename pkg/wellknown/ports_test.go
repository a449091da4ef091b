package wellknown

import (
	"testing"

	"static-probe-analyzer/internal/service"
)

func TestServiceReturnsDNSAliases(t *testing.T) {
	// This test ensures DNS aliases map to the expected port/protocol entries.
	tables := MustLoad()
	entries, ok := tables.Service("dns")
	if !ok {
		t.Fatalf("expected dns to be present in well-known service table")
	}
	if !containsPort(entries, 53, service.ProtoTCP) || !containsPort(entries, 53, service.ProtoUDP) {
		t.Fatalf("expected DNS to include port 53 over tcp and udp, got %#v", entries)
	}
}

func TestServiceReturnsFalseForUnknown(t *testing.T) {
	// This test validates the table returns false for unknown services.
	if _, ok := MustLoad().Service("definitely-not-a-service"); ok {
		t.Fatalf("expected unknown service to return ok=false")
	}
}

func TestProtocolLookup(t *testing.T) {
	tables := MustLoad()
	cases := map[string]int{"tcp": 6, "UDP": 17, "icmpv6": 58, "ipsec-esp": 50, "47": 47}
	for name, want := range cases {
		got, ok := tables.Protocol(name)
		if !ok || got != want {
			t.Errorf("Protocol(%q) = %d, %v; expected %d", name, got, ok, want)
		}
	}
	if _, ok := tables.Protocol("300"); ok {
		t.Errorf("expected protocol 300 to be rejected")
	}
	if name := tables.ProtocolName(6); name != "tcp" {
		t.Errorf("expected tcp, got %s", name)
	}
	if name := tables.ProtocolName(253); name != "253" {
		t.Errorf("expected numeric fallback, got %s", name)
	}
}

func TestPortLookupHonoursProtocol(t *testing.T) {
	tables := MustLoad()
	if p, ok := tables.Port("https", service.ProtoTCP); !ok || p != 443 {
		t.Errorf("expected https/tcp to be 443, got %d %v", p, ok)
	}
	if _, ok := tables.Port("http", service.ProtoUDP); ok {
		t.Errorf("expected http to have no udp port")
	}
	if p, ok := tables.Port("8080", service.ProtoUDP); !ok || p != 8080 {
		t.Errorf("expected numeric port to pass through, got %d %v", p, ok)
	}
}

func TestICMPLookupPerFamily(t *testing.T) {
	tables := MustLoad()
	echo, ok := tables.ICMP("echo", false)
	if !ok || echo.Type != 8 || echo.Code != service.AnyCode {
		t.Errorf("unexpected icmp echo entry %#v", echo)
	}
	echo6, ok := tables.ICMP("echo-request", true)
	if !ok || echo6.Type != 128 {
		t.Errorf("unexpected icmpv6 echo entry %#v", echo6)
	}
	if e, _ := tables.ICMP("port-unreachable", false); e.Type != 3 || e.Code != 3 {
		t.Errorf("unexpected port-unreachable entry %#v", e)
	}
}

func containsPort(entries []ServiceEntry, port, protocol int) bool {
	for _, entry := range entries {
		if entry.Port == port && entry.Protocol == protocol {
			return true
		}
	}
	return false
}
