package topology

import (
	"testing"

	"static-probe-analyzer/internal/netaddr"
)

func TestRoutingTableLookup(t *testing.T) {
	a := &Interface{Name: "a", Equipment: &Equipment{name: "r"}}
	b := &Interface{Name: "b", Equipment: a.Equipment}
	mp := netaddr.MustParse

	table := NewRoutingTable()
	for _, r := range []Route{
		{Prefix: mp("0.0.0.0/0"), NextHop: mp("10.0.0.1"), Interface: a},
		{Prefix: mp("0.0.0.0/0"), NextHop: mp("10.0.1.1"), Interface: b},
		{Prefix: mp("0.0.0.0/0"), NextHop: mp("10.0.1.1"), Interface: b},
		{Prefix: mp("172.16.0.0/16"), NextHop: mp("10.0.0.1"), Interface: a},
		{Prefix: mp("172.16.5.0/24"), Null: true},
		{Prefix: mp("10.0.0.0/24"), NextHop: mp("10.0.0.254"), Interface: a, Connected: true},
		{Prefix: mp("192.168.0.0/16"), NextHop: mp("10.0.0.9")},
		{Prefix: mp("2001:db8::/32"), NextHop: mp("fe80::1"), Interface: b},
	} {
		if err := table.Add(r); err != nil {
			t.Fatalf("Add(%s): %v", r, err)
		}
	}

	tests := []struct {
		name     string
		dst      string
		count    int
		nextHops []string
	}{
		{"same prefix fans out", "8.8.8.8", 2, []string{"10.0.0.1", "10.0.1.1"}},
		{"longest prefix", "172.16.9.9", 1, []string{"10.0.0.1"}},
		{"null route", "172.16.5.5", 0, nil},
		{"range wider than specific entry", "172.16.0.0/12", 2, []string{"10.0.0.1", "10.0.1.1"}},
		{"recursive next hop", "192.168.3.3", 1, []string{"10.0.0.9"}},
		{"ipv6", "2001:db8::42", 1, []string{"fe80::1"}},
		{"ipv6 without route", "2001:db9::1", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			routes := table.Lookup(mp(tt.dst))
			if len(routes) != tt.count {
				t.Fatalf("Lookup(%s) = %v, want %d routes", tt.dst, routes, tt.count)
			}
			for i, r := range routes {
				if got := r.NextHop.String(); got != tt.nextHops[i] {
					t.Errorf("route %d next hop = %s, want %s", i, got, tt.nextHops[i])
				}
			}
		})
	}
}
