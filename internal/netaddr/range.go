package netaddr

import (
	"fmt"
	"math/big"
	"net"
	"strconv"
	"strings"

	"static-probe-analyzer/internal/utils"
)

// Range is an address with a prefix length. The address keeps its host
// bits; Network returns the masked form.
type Range struct {
	value   *big.Int
	version Version
	prefix  int
}

func New(v *big.Int, version Version, prefix int) (Range, error) {
	a, err := NewAddress(v, version)
	if err != nil {
		return Range{}, err
	}
	if prefix < 0 || prefix > version.Bits() {
		return Range{}, fmt.Errorf("%w: prefix /%d out of range for %s", ErrInvalidNetmask, prefix, version)
	}
	return Range{value: a.value, version: version, prefix: prefix}, nil
}

// Parse reads an address, a network ("10.0.0.0/8", "10.0.0.0/255.0.0.0",
// "2001:db8::/32") or an aligned range ("10.0.0.0-10.0.0.255").
func Parse(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if first, last, ok := strings.Cut(s, "-"); ok {
		a, err := ParseAddress(first)
		if err != nil {
			return Range{}, err
		}
		b, err := ParseAddress(last)
		if err != nil {
			return Range{}, err
		}
		return FromEndpoints(a, b)
	}

	addrPart, maskPart, hasMask := strings.Cut(s, "/")
	addr, err := ParseAddress(addrPart)
	if err != nil {
		return Range{}, err
	}
	prefix := addr.version.Bits()
	if hasMask {
		if prefix, err = parsePrefix(maskPart, addr.version); err != nil {
			return Range{}, fmt.Errorf("%q: %w", s, err)
		}
	}
	return Range{value: addr.value, version: addr.version, prefix: prefix}, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Range {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return r
}

func parsePrefix(s string, version Version) (int, error) {
	if strings.Contains(s, ".") {
		if version != V4 {
			return 0, fmt.Errorf("%w: dotted netmask %q on %s address", ErrInvalidNetmask, s, version)
		}
		m, err := parseIPv4(s, true)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidNetmask, s)
		}
		host := new(big.Int).Xor(m, maxV4)
		probe := new(big.Int).Add(host, big.NewInt(1))
		if probe.And(probe, host).Sign() != 0 {
			return 0, fmt.Errorf("%w: %q is not contiguous", ErrInvalidNetmask, s)
		}
		return 32 - host.BitLen(), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > version.Bits() {
		return 0, fmt.Errorf("%w: prefix %q", ErrInvalidNetmask, s)
	}
	return n, nil
}

// FromEndpoints builds the network spanning exactly [first, last].
func FromEndpoints(first, last Address) (Range, error) {
	c, err := first.Cmp(last)
	if err != nil {
		return Range{}, err
	}
	if c > 0 {
		return Range{}, fmt.Errorf("%w: %s is above %s", ErrInvalidAddress, first, last)
	}
	size := new(big.Int).Sub(last.value, first.value)
	size.Add(size, big.NewInt(1))
	low := new(big.Int).Sub(size, big.NewInt(1))
	if new(big.Int).And(size, low).Sign() != 0 || new(big.Int).And(first.value, low).Sign() != 0 {
		return Range{}, fmt.Errorf("%w: %s-%s", ErrNotOnNetworkBoundary, first, last)
	}
	prefix := first.version.Bits() - (size.BitLen() - 1)
	return Range{value: first.Int(), version: first.version, prefix: prefix}, nil
}

// Summarize splits [first, last] into the fewest aligned networks.
func Summarize(first, last Address) ([]Range, error) {
	c, err := first.Cmp(last)
	if err != nil {
		return nil, err
	}
	if c > 0 {
		return nil, fmt.Errorf("%w: %s is above %s", ErrInvalidAddress, first, last)
	}
	bits := first.version.Bits()
	one := big.NewInt(1)
	cur := first.Int()
	var out []Range
	for cur.Cmp(last.value) <= 0 {
		// largest block aligned on cur
		host := bits
		if cur.Sign() != 0 {
			host = int(cur.TrailingZeroBits())
			if host > bits {
				host = bits
			}
		}
		for host > 0 {
			end := new(big.Int).Add(cur, utils.CIDRSize(bits-host, bits))
			end.Sub(end, one)
			if end.Cmp(last.value) <= 0 {
				break
			}
			host--
		}
		out = append(out, Range{value: new(big.Int).Set(cur), version: first.version, prefix: bits - host})
		cur.Add(cur, utils.CIDRSize(bits-host, bits))
		if cur.Cmp(first.version.max()) > 0 {
			break
		}
	}
	return out, nil
}

func (r Range) Version() Version { return r.version }

func (r Range) Prefix() int { return r.prefix }

// Address returns the address part including host bits.
func (r Range) Address() Address {
	return Address{value: r.Int(), version: r.version}
}

func (r Range) Int() *big.Int {
	if r.value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(r.value)
}

func (r Range) IsValid() bool { return r.value != nil }

func (r Range) IsHost() bool { return r.prefix == r.version.Bits() }

// Size returns the number of addresses covered.
func (r Range) Size() *big.Int {
	return utils.CIDRSize(r.prefix, r.version.Bits())
}

func (r Range) first() *big.Int {
	return new(big.Int).And(r.value, utils.Mask(r.prefix, r.version.Bits()))
}

func (r Range) last() *big.Int {
	l := new(big.Int).Add(r.first(), r.Size())
	return l.Sub(l, big.NewInt(1))
}

// First returns the lowest address of the network.
func (r Range) First() Address {
	return Address{value: r.first(), version: r.version}
}

// Last returns the highest address of the network.
func (r Range) Last() Address {
	return Address{value: r.last(), version: r.version}
}

// Network returns the masked network keeping the prefix.
func (r Range) Network() Range {
	return Range{value: r.first(), version: r.version, prefix: r.prefix}
}

// LastAddress returns the last address of the network keeping the prefix,
// the broadcast address for IPv4.
func (r Range) LastAddress() Range {
	return Range{value: r.last(), version: r.version, prefix: r.prefix}
}

// Host returns the address with a full length prefix.
func (r Range) Host() Range {
	return Range{value: r.Int(), version: r.version, prefix: r.version.Bits()}
}

func (r Range) sameVersion(o Range) error {
	if r.version != o.version {
		return fmt.Errorf("%w: %s and %s", ErrVersionMismatch, r, o)
	}
	return nil
}

// Contains reports whether every address of o is in r.
func (r Range) Contains(o Range) (bool, error) {
	if err := r.sameVersion(o); err != nil {
		return false, err
	}
	return o.first().Cmp(r.first()) >= 0 && o.last().Cmp(r.last()) <= 0, nil
}

// Overlaps reports whether r and o share at least one address.
func (r Range) Overlaps(o Range) (bool, error) {
	if err := r.sameVersion(o); err != nil {
		return false, err
	}
	return r.first().Cmp(o.last()) <= 0 && o.first().Cmp(r.last()) <= 0, nil
}

// Compare orders by first address, then by last address.
func (r Range) Compare(o Range) (int, error) {
	if err := r.sameVersion(o); err != nil {
		return 0, err
	}
	if c := r.first().Cmp(o.first()); c != 0 {
		return c, nil
	}
	return r.last().Cmp(o.last()), nil
}

func (r Range) Equal(o Range) bool {
	if r.value == nil || o.value == nil {
		return r.value == nil && o.value == nil
	}
	return r.version == o.version && r.prefix == o.prefix && r.value.Cmp(o.value) == 0
}

// IPNet returns the masked network as a *net.IPNet.
func (r Range) IPNet() *net.IPNet {
	bits := r.version.Bits()
	return &net.IPNet{
		IP:   utils.IntToIP(r.first(), r.version == V4),
		Mask: net.CIDRMask(r.prefix, bits),
	}
}

// String returns the canonical text; the prefix is omitted for hosts.
func (r Range) String() string {
	if r.value == nil {
		return "invalid"
	}
	if r.IsHost() {
		return formatValue(r.value, r.version)
	}
	return r.CIDR()
}

// CIDR always includes the prefix length.
func (r Range) CIDR() string {
	if r.value == nil {
		return "invalid"
	}
	return formatValue(r.value, r.version) + "/" + strconv.Itoa(r.prefix)
}
