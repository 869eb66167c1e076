// Package socket holds the network-identity primitives shared by the TCP
// tracker, the application assemblers, and the aggregate context: IP/port
// tuples and the canonical keying scheme used to fold both directions of a
// connection into a single entry.
package socket

import (
	"fmt"
	"net"
)

// Endpoint identifies one side of a network flow by host and port.
type Endpoint struct {
	Host string
	Port uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Tuple is the four-tuple identifying a network flow in one direction.
type Tuple struct {
	Src Endpoint
	Dst Endpoint
}

// Mirror returns the tuple for the opposite direction of the same flow.
func (t Tuple) Mirror() Tuple {
	return Tuple{Src: t.Dst, Dst: t.Src}
}

func (t Tuple) String() string {
	return fmt.Sprintf("%s > %s", t.Src, t.Dst)
}

// CanonicalKey folds a tuple into the key used to index connections and
// conversations, along with whether this tuple's source was the
// lexicographically greater endpoint (and is therefore stored as the
// connection's "forward" endpoint):
//
//	A = "src_ip:src_port", B = "dst_ip:dst_port"
//	key = max(A,B) + "-" + min(A,B)
//	reversed = A > B
func (t Tuple) CanonicalKey() (key string, reversed bool) {
	a, b := t.Src.String(), t.Dst.String()
	if a > b {
		return a + "-" + b, true
	}
	return b + "-" + a, false
}

// ClassifyIP buckets an address into the ranges the aggregate's statistics
// report on.
type IPClass string

const (
	IPClassPrivate    IPClass = "private"
	IPClassDocs       IPClass = "documentation"
	IPClassLinkLocal  IPClass = "link_local"
	IPClassLoopback   IPClass = "loopback"
	IPClassMulticast  IPClass = "multicast"
	IPClassPublic     IPClass = "public"
)

var documentationRanges = []string{
	"192.0.2.0/24", "198.51.100.0/24", "203.0.113.0/24",
	"2001:db8::/32",
}

func ClassifyIP(ip net.IP) IPClass {
	if ip == nil {
		return IPClassPublic
	}
	if ip.IsLoopback() {
		return IPClassLoopback
	}
	if ip.IsLinkLocalUnicast() {
		return IPClassLinkLocal
	}
	if ip.IsMulticast() {
		return IPClassMulticast
	}
	if ip.IsPrivate() {
		return IPClassPrivate
	}
	for _, cidr := range documentationRanges {
		_, network, err := net.ParseCIDR(cidr)
		if err == nil && network.Contains(ip) {
			return IPClassDocs
		}
	}
	return IPClassPublic
}
