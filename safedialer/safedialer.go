// Package safedialer provides a net.Dialer that rejects attempts to dial
// internal/private networks. Image hrefs come from untrusted documents, so
// any resolver exposed to third-party SVGs should dial through it.
//
// This code was lightly adapted from Andrew Ayer's excellent "Preventing
// Server Side Request Forgery in Golang" blog post:
// https://www.agwa.name/blog/post/preventing_server_side_request_forgery_in_golangs
package safedialer

/*
 * Written in 2019 by Andrew Ayer
 *
 * To the extent possible under law, the author(s) have dedicated all
 * copyright and related and neighboring rights to this software to the
 * public domain worldwide. This software is distributed without any
 * warranty.
 *
 * You should have received a copy of the CC0 Public
 * Domain Dedication along with this software. If not, see
 * <https://creativecommons.org/publicdomain/zero/1.0/>.
 */

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Errors returned when a connection is refused. All of them wrap ErrUnsafe.
var (
	ErrUnsafe        = errors.New("unsafe destination")
	ErrUnsafeNetwork = fmt.Errorf("%w: network type", ErrUnsafe)
	ErrUnsafePort    = fmt.Errorf("%w: port", ErrUnsafe)
	ErrUnsafeIP      = fmt.Errorf("%w: ip address", ErrUnsafe)
)

// Special-purpose ranges that net.IP's predicates do not cover.
var reservedNetworks = mustParseCIDRs(
	"0.0.0.0/8",       // "this" network
	"100.64.0.0/10",   // carrier-grade NAT
	"192.0.0.0/24",    // IETF protocol assignments
	"192.0.2.0/24",    // TEST-NET-1
	"198.18.0.0/15",   // benchmarking
	"198.51.100.0/24", // TEST-NET-2
	"203.0.113.0/24",  // TEST-NET-3
	"240.0.0.0/4",     // reserved
	"64:ff9b::/96",    // NAT64, may map onto private v4 space
	"2001:db8::/32",   // documentation
)

// New returns a copy of d configured to reject attempts to dial
// internal/private network addresses.
func New(d net.Dialer) *net.Dialer {
	d.Control = Control
	return &d
}

// Control is a net.Dialer Control hook that only permits TCP connections to
// public IP addresses on ports 80 and 443.
func Control(network string, address string, conn syscall.RawConn) error {
	if !(network == "tcp4" || network == "tcp6") {
		return fmt.Errorf("%w: %s", ErrUnsafeNetwork, network)
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%s is not a valid host/port pair: %s", address, err)
	}

	if !(port == "80" || port == "443") {
		return fmt.Errorf("%w: %s", ErrUnsafePort, port)
	}

	ipaddress := net.ParseIP(host)
	if ipaddress == nil {
		return fmt.Errorf("%s is not a valid IP address", host)
	}

	if !isPublicIPAddress(ipaddress) {
		return fmt.Errorf("%w: %s", ErrUnsafeIP, ipaddress)
	}

	return nil
}

func isPublicIPAddress(ip net.IP) bool {
	if ip.IsUnspecified() ||
		ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast() {
		return false
	}
	for _, n := range reservedNetworks {
		if n.Contains(ip) {
			return false
		}
	}
	return true
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}
