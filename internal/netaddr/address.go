// Package netaddr implements dual-stack IP addresses and networks on
// arbitrary precision integers.
package netaddr

import (
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"static-probe-analyzer/internal/utils"
)

var (
	ErrInvalidAddress       = errors.New("invalid address")
	ErrInvalidNetmask       = errors.New("invalid netmask")
	ErrNotOnNetworkBoundary = errors.New("not on network boundary")
	ErrVersionMismatch      = errors.New("address version mismatch")
)

type Version int

const (
	V4 Version = 4
	V6 Version = 6
)

// Bits returns the address width of the family.
func (v Version) Bits() int {
	if v == V6 {
		return 128
	}
	return 32
}

func (v Version) String() string {
	switch v {
	case V4:
		return "IPv4"
	case V6:
		return "IPv6"
	default:
		return "Version(" + strconv.Itoa(int(v)) + ")"
	}
}

func (v Version) valid() bool {
	return v == V4 || v == V6
}

var (
	maxV4 = new(big.Int).SetUint64(0xffffffff)
	maxV6 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

func (v Version) max() *big.Int {
	if v == V6 {
		return maxV6
	}
	return maxV4
}

// Address is a single IPv4 or IPv6 address. The zero value is not a valid
// address.
type Address struct {
	value   *big.Int
	version Version
}

func NewAddress(v *big.Int, version Version) (Address, error) {
	if !version.valid() {
		return Address{}, fmt.Errorf("%w: unknown version %d", ErrInvalidAddress, version)
	}
	if v == nil || v.Sign() < 0 || v.Cmp(version.max()) > 0 {
		return Address{}, fmt.Errorf("%w: magnitude out of range for %s", ErrInvalidAddress, version)
	}
	return Address{value: new(big.Int).Set(v), version: version}, nil
}

// AddressFromIP converts a net.IP. IPv4-mapped addresses become IPv4.
func AddressFromIP(ip net.IP) (Address, error) {
	if ip == nil {
		return Address{}, fmt.Errorf("%w: nil IP", ErrInvalidAddress)
	}
	v, v4 := utils.IPToInt(ip)
	if v4 {
		return Address{value: v, version: V4}, nil
	}
	return Address{value: v, version: V6}, nil
}

// ParseAddress parses a single address without prefix or range suffix.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, fmt.Errorf("%w: empty string", ErrInvalidAddress)
	}
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "0x"):
		return parseMagnitude(s, lower[2:], 16)
	case strings.Contains(s, ":"):
		v, err := parseIPv6(s)
		if err != nil {
			return Address{}, err
		}
		return Address{value: v, version: V6}, nil
	case strings.Contains(s, "."):
		v, err := parseIPv4(s, false)
		if err != nil {
			return Address{}, err
		}
		return Address{value: v, version: V4}, nil
	}
	// A short number below 256 is the leading octet of an abbreviated
	// dotted address ("10" is 10.0.0.0), anything else is a magnitude.
	if n, err := strconv.Atoi(s); err == nil && len(s) < 4 && n >= 0 && n < 256 {
		v, err := parseIPv4(s, false)
		if err != nil {
			return Address{}, err
		}
		return Address{value: v, version: V4}, nil
	}
	return parseMagnitude(s, s, 10)
}

func parseMagnitude(orig, digits string, base int) (Address, error) {
	if digits == "" {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, orig)
	}
	v, ok := new(big.Int).SetString(digits, base)
	if !ok || v.Sign() < 0 {
		return Address{}, fmt.Errorf("%w: %q is not a number", ErrInvalidAddress, orig)
	}
	if v.Cmp(maxV6) > 0 {
		return Address{}, fmt.Errorf("%w: %q exceeds 128 bits", ErrInvalidAddress, orig)
	}
	if v.Cmp(maxV4) <= 0 {
		return Address{value: v, version: V4}, nil
	}
	return Address{value: v, version: V6}, nil
}

// parseIPv4 parses dotted notation. Unless strict, fewer than four octets
// are accepted and the missing trailing octets are zero.
func parseIPv4(s string, strict bool) (*big.Int, error) {
	parts := strings.Split(s, ".")
	if len(parts) > 4 || (strict && len(parts) != 4) {
		return nil, fmt.Errorf("%w: %q has %d octets", ErrInvalidAddress, s, len(parts))
	}
	var v uint64
	for i := 0; i < 4; i++ {
		var octet uint64
		if i < len(parts) {
			p := parts[i]
			if p == "" || len(p) > 3 || strings.Trim(p, "0123456789") != "" {
				return nil, fmt.Errorf("%w: %q has a malformed octet", ErrInvalidAddress, s)
			}
			octet, _ = strconv.ParseUint(p, 10, 16)
			if octet > 255 {
				return nil, fmt.Errorf("%w: %q octet %d out of range", ErrInvalidAddress, s, octet)
			}
		}
		v = v<<8 | octet
	}
	return new(big.Int).SetUint64(v), nil
}

func parseIPv6(s string) (*big.Int, error) {
	if strings.Count(s, "::") > 1 {
		return nil, fmt.Errorf("%w: %q has more than one '::'", ErrInvalidAddress, s)
	}
	left, right, compressed := strings.Cut(s, "::")
	lg, err := hextets(s, left, !compressed)
	if err != nil {
		return nil, err
	}
	rg, err := hextets(s, right, compressed)
	if err != nil {
		return nil, err
	}
	total := len(lg) + len(rg)
	if compressed && total > 7 {
		return nil, fmt.Errorf("%w: %q has too many groups", ErrInvalidAddress, s)
	}
	if !compressed && total != 8 {
		return nil, fmt.Errorf("%w: %q needs 8 groups, has %d", ErrInvalidAddress, s, total)
	}
	groups := make([]uint16, 0, 8)
	groups = append(groups, lg...)
	for i := total; i < 8; i++ {
		groups = append(groups, 0)
	}
	groups = append(groups, rg...)

	v := new(big.Int)
	for _, g := range groups {
		v.Lsh(v, 16)
		v.Or(v, big.NewInt(int64(g)))
	}
	return v, nil
}

// hextets splits a colon separated half of an IPv6 address. tail allows
// the last group to be a dotted IPv4 address.
func hextets(orig, s string, tail bool) ([]uint16, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ":")
	groups := make([]uint16, 0, len(parts)+1)
	for i, p := range parts {
		if tail && i == len(parts)-1 && strings.Contains(p, ".") {
			v4, err := parseIPv4(p, true)
			if err != nil {
				return nil, fmt.Errorf("%w: %q has a malformed IPv4 tail", ErrInvalidAddress, orig)
			}
			n := v4.Uint64()
			groups = append(groups, uint16(n>>16), uint16(n))
			continue
		}
		if p == "" || len(p) > 4 {
			return nil, fmt.Errorf("%w: %q has a malformed group", ErrInvalidAddress, orig)
		}
		g, err := strconv.ParseUint(p, 16, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: %q has a malformed group", ErrInvalidAddress, orig)
		}
		groups = append(groups, uint16(g))
	}
	return groups, nil
}

// Int returns a copy of the address magnitude.
func (a Address) Int() *big.Int {
	if a.value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.value)
}

func (a Address) Version() Version { return a.version }

// IsValid reports whether a was produced by a constructor.
func (a Address) IsValid() bool { return a.value != nil }

func (a Address) Cmp(b Address) (int, error) {
	if a.version != b.version {
		return 0, fmt.Errorf("%w: %s and %s", ErrVersionMismatch, a.version, b.version)
	}
	return a.value.Cmp(b.value), nil
}

func (a Address) Equal(b Address) bool {
	if a.value == nil || b.value == nil {
		return a.value == nil && b.value == nil
	}
	return a.version == b.version && a.value.Cmp(b.value) == 0
}

func (a Address) IP() net.IP {
	return utils.IntToIP(a.Int(), a.version == V4)
}

// Range returns the host network holding only a.
func (a Address) Range() Range {
	return Range{value: a.Int(), version: a.version, prefix: a.version.Bits()}
}

func (a Address) String() string {
	if a.value == nil {
		return "invalid"
	}
	return formatValue(a.value, a.version)
}

func formatValue(v *big.Int, version Version) string {
	if version == V4 {
		n := v.Uint64()
		return fmt.Sprintf("%d.%d.%d.%d", byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
	var b [16]byte
	v.FillBytes(b[:])
	return netip.AddrFrom16(b).String()
}
