package proto

import (
	"github.com/mel2oo/netshark/aggregate"
	"github.com/mel2oo/netshark/tcpconn"
)

// Engine is the protocol registry's runtime: the aggregate context layers
// record statistics and DNS/HTTP/TLS state into, and the TCP tracker that
// the TCP decoder hands segments to. It is distinct from package engine's
// command-channel Instance, which owns one of these per open capture plus
// the outer capture envelope.
type Engine struct {
	Agg *aggregate.Context
	TCP *tcpconn.Tracker
}

// NewEngine wires a fresh dispatch runtime around agg.
func NewEngine(agg *aggregate.Context) *Engine {
	return &Engine{Agg: agg, TCP: tcpconn.NewTracker(agg)}
}

func (e *Engine) IncProtocol(name string) { e.Agg.IncProtocol(name) }

var decoders = map[Protocol]Decoder{
	Ethernet:     ethernetDecoder{},
	PPPoESession: pppoesDecoder{},
	ARP:          arpDecoder{},
	IPv4:         ipv4Decoder{},
	IPv6:         ipv6Decoder{},
	ICMP:         icmpDecoder{},
	ICMP6:        icmp6Decoder{},
	TCP:          tcpDecoder{},
	UDP:          udpDecoder{},
	DNS:          dnsDecoder{},
	DHCP:         dhcpDecoder{},
	HTTP:         httpTagDecoder{},
	TLS:          tlsTagDecoder{},
}

// linkTypeEntry maps a PCAP/PCAPNG link-type number to the first protocol
// dispatch should run.
var linkTypeEntry = map[int]Protocol{
	1:   Ethernet, // LINKTYPE_ETHERNET
	101: IPv4,     // LINKTYPE_RAW
	105: Error,    // LINKTYPE_IEEE802_11 - no 802.11 decoder registered
	127: Error,    // LINKTYPE_IEEE802_11_RADIOTAP - no Radiotap decoder registered
}

// EntryForLinkType resolves a capture's declared link type to the
// dispatch-loop entry point, defaulting to Ethernet (the overwhelming
// majority of captures) when the link type is unrecognized. Link types this
// module knows it can't decode (wireless capture framing) map explicitly to
// Error instead of silently falling through to the Ethernet dispatcher and
// misinterpreting the bytes.
func EntryForLinkType(linkType int) Protocol {
	if p, ok := linkTypeEntry[linkType]; ok {
		return p
	}
	return Ethernet
}

// RunFrame walks fr.Data starting at entry, appending one LayerRecord per
// protocol decoded, until a decoder reports None or the data runs out. It
// is a closed-enumeration walk with a single registry lookup per step and
// no recursion into application-layer
// reassembly (that happens out-of-band via the TCP tracker once the TCP
// decoder hands it a segment).
func (e *Engine) RunFrame(fr *Frame, entry Protocol) {
	current := entry
	data := fr.Data
	var carry Carry

	for current != None && len(data) > 0 {
		dec, ok := decoders[current]
		if !ok {
			fr.AddLayer(LayerRecord{Protocol: Error, Summary: "unsupported protocol: " + current.String()})
			fr.Error = "no decoder registered for " + current.String()
			return
		}
		e.IncProtocol(current.String())

		rec, next, rest, nextCarry := dec.Decode(e, fr, data, carry)
		fr.AddLayer(rec)

		current, data, carry = next, rest, nextCarry
	}
}
