package proto

import (
	"fmt"

	"github.com/google/gopacket/layers"

	"github.com/mel2oo/netshark/cursor"
	"github.com/mel2oo/netshark/field"
)

type ethernetDecoder struct{}

// etherTypeNext maps the handful of EtherTypes this registry understands to
// their dispatch entry, reusing gopacket/layers' EthernetType constants as
// the name table rather than hand-copying the IANA assignments.
var etherTypeNext = map[layers.EthernetType]Protocol{
	layers.EthernetTypeIPv4:            IPv4,
	layers.EthernetTypeIPv6:            IPv6,
	layers.EthernetTypeARP:             ARP,
	layers.EthernetTypePPPoESession:    PPPoESession,
	layers.EthernetTypePPPoEDiscovery:  None,
}

func (ethernetDecoder) Decode(e *Engine, fr *Frame, data []byte, in Carry) (LayerRecord, Protocol, []byte, Carry) {
	cur := cursor.New(data)
	b := field.NewBuilder()

	dst, err := cur.ReadMAC()
	if err != nil {
		return LayerRecord{Protocol: Ethernet, Summary: "Ethernet (truncated)"}, None, nil, in
	}
	src, err := cur.ReadMAC()
	if err != nil {
		return LayerRecord{Protocol: Ethernet, Summary: "Ethernet (truncated)"}, None, nil, in
	}
	etherType, err := cur.ReadUint16BE()
	if err != nil {
		return LayerRecord{Protocol: Ethernet, Summary: "Ethernet (truncated)"}, None, nil, in
	}

	b.Literal(0, 6, "Destination: "+dst.String())
	b.Literal(6, 6, "Source: "+src.String())
	b.Literal(12, 2, fmt.Sprintf("Type: 0x%04x (%s)", etherType, layers.EthernetType(etherType)))

	summary := fmt.Sprintf("Ethernet, Src: %s, Dst: %s", src, dst)
	rec := LayerRecord{Protocol: Ethernet, Fields: b.Build(0, 14, summary), Props: b.Props(), Summary: summary}

	next, ok := etherTypeNext[layers.EthernetType(etherType)]
	if !ok {
		next = None
	}
	return rec, next, data[14:], in
}
