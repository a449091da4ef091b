package utils

import (
	"math/big"
	"net"
)

// Inc increments an IP address in place.
func Inc(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}

// IPToInt returns the magnitude of ip and whether it is an IPv4 address.
// IPv4-mapped IPv6 addresses are reported as IPv4.
func IPToInt(ip net.IP) (*big.Int, bool) {
	if v4 := ip.To4(); v4 != nil {
		return new(big.Int).SetBytes(v4), true
	}
	return new(big.Int).SetBytes(ip.To16()), false
}

// IntToIP renders a magnitude as a 4 or 16 byte address. Bits above the
// address width are discarded.
func IntToIP(v *big.Int, v4 bool) net.IP {
	size := net.IPv6len
	if v4 {
		size = net.IPv4len
	}
	buf := make([]byte, size)
	b := v.Bytes()
	if len(b) > size {
		b = b[len(b)-size:]
	}
	copy(buf[size-len(b):], b)
	return net.IP(buf)
}

// CIDRSize returns the number of addresses in a network of the given
// prefix length for an address family of bits width.
func CIDRSize(prefix, bits int) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), uint(bits-prefix))
}

// Mask returns a mask of prefix leading one bits within bits width.
func Mask(prefix, bits int) *big.Int {
	all := new(big.Int).Sub(CIDRSize(0, bits), big.NewInt(1))
	host := new(big.Int).Sub(CIDRSize(prefix, bits), big.NewInt(1))
	return all.Xor(all, host)
}
