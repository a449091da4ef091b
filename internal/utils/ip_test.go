package utils

import (
	"math/big"
	"net"
	"testing"
)

func TestIncIncrementsIPv4Address(t *testing.T) {
	// This test validates incrementing an IPv4 address across a byte boundary.
	ip := net.ParseIP("192.168.1.255").To4()
	if ip == nil {
		t.Fatalf("expected valid IP")
	}
	Inc(ip)
	if ip.String() != "192.168.2.0" {
		t.Fatalf("expected incremented IP to be 192.168.2.0, got %s", ip.String())
	}
}

func TestIPToIntAndBack(t *testing.T) {
	cases := []struct {
		in   string
		v4   bool
		want string
	}{
		{"10.0.0.1", true, "167772161"},
		{"255.255.255.255", true, "4294967295"},
		{"2001:db8::1", false, "42540766411282592856903984951653826561"},
		{"::ffff:1.2.3.4", true, "16909060"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			v, v4 := IPToInt(net.ParseIP(tc.in))
			if v4 != tc.v4 {
				t.Fatalf("expected v4=%v, got %v", tc.v4, v4)
			}
			if v.String() != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, v.String())
			}
			back := IntToIP(v, v4)
			if !back.Equal(net.ParseIP(tc.in)) {
				t.Fatalf("expected round trip to %s, got %s", tc.in, back)
			}
		})
	}
}

func TestCIDRSizeCalculatesCorrectly(t *testing.T) {
	// This test checks CIDR size for IPv4 and IPv6 boundaries to avoid off-by-one errors.
	if size := CIDRSize(24, 32); size.Cmp(big.NewInt(256)) != 0 {
		t.Fatalf("expected /24 to have size 256, got %s", size)
	}
	if size := CIDRSize(128, 128); size.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("expected /128 to have size 1, got %s", size)
	}
	want := new(big.Int).Lsh(big.NewInt(1), 64)
	if size := CIDRSize(64, 128); size.Cmp(want) != 0 {
		t.Fatalf("expected /64 to have size 2^64, got %s", size)
	}
}

func TestMask(t *testing.T) {
	if m := Mask(24, 32); m.Cmp(big.NewInt(0xffffff00)) != 0 {
		t.Fatalf("expected 0xffffff00, got %x", m)
	}
	if m := Mask(0, 32); m.Sign() != 0 {
		t.Fatalf("expected empty mask, got %x", m)
	}
	if m := Mask(32, 32); m.Cmp(big.NewInt(0xffffffff)) != 0 {
		t.Fatalf("expected full mask, got %x", m)
	}
}
