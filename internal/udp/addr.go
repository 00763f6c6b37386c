package udp

import (
	"fmt"
	"net/netip"
)

// ParseIPv4 parses a dotted-quad IPv4 address. IPv6 and IPv4-mapped IPv6
// forms are rejected; there is no fallback to the unspecified address.
func ParseIPv4(addr string) (netip.Addr, error) {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	if !ip.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %q is not IPv4", ErrInvalidAddress, addr)
	}
	return ip, nil
}

// ParseEndpoint parses an IPv4 "address:port" string.
func ParseEndpoint(endpoint string) (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(endpoint)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: %q", ErrInvalidAddress, endpoint)
	}
	if !ap.Addr().Is4() {
		return netip.AddrPort{}, fmt.Errorf("%w: %q is not IPv4", ErrInvalidAddress, endpoint)
	}
	return ap, nil
}

func unmap(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
