package proto

import (
	"fmt"

	"github.com/google/gopacket/layers"

	"github.com/mel2oo/netshark/cursor"
	"github.com/mel2oo/netshark/field"
	"github.com/mel2oo/netshark/socket"
)

// ipProtoNext maps an IP protocol number to its dispatch entry, reusing
// gopacket/layers.IPProtocol as the name table.
var ipProtoNext = map[layers.IPProtocol]Protocol{
	layers.IPProtocolTCP:    TCP,
	layers.IPProtocolUDP:    UDP,
	layers.IPProtocolICMPv4: ICMP,
	layers.IPProtocolICMPv6: ICMP6,
}

type ipv4Decoder struct{}

func (ipv4Decoder) Decode(e *Engine, fr *Frame, data []byte, in Carry) (LayerRecord, Protocol, []byte, Carry) {
	cur := cursor.New(data)
	b := field.NewBuilder()

	verIHL, err := cur.ReadUint8()
	if err != nil {
		return truncated(IPv4), None, nil, in
	}
	ihl := int(verIHL&0x0f) * 4
	b.Literal(0, 1, fmt.Sprintf("Version: %d, Header Length: %d", verIHL>>4, ihl))

	cur.Advance(1) // DSCP/ECN
	totalLen, _ := cur.ReadUint16BE()
	b.Literal(2, 2, fmt.Sprintf("Total Length: %d", totalLen))
	cur.Advance(2) // identification
	flagsFrag, _ := cur.ReadUint16BE()
	b.Literal(6, 2, fmt.Sprintf("Flags/Fragment Offset: 0x%04x", flagsFrag))
	cur.Advance(1) // TTL
	protoNum, err := cur.ReadUint8()
	if err != nil {
		return truncated(IPv4), None, nil, in
	}
	cur.Advance(2) // checksum

	srcIP, err := cur.ReadIPv4()
	if err != nil {
		return truncated(IPv4), None, nil, in
	}
	dstIP, err := cur.ReadIPv4()
	if err != nil {
		return truncated(IPv4), None, nil, in
	}
	b.Literal(12, 4, "Source: "+srcIP.String())
	b.Literal(16, 4, "Destination: "+dstIP.String())

	e.Agg.IncIPClass(socket.ClassifyIP(srcIP))
	e.Agg.IncIPClass(socket.ClassifyIP(dstIP))
	e.Agg.IncHost(srcIP.String())
	e.Agg.IncHost(dstIP.String())

	if ihl > cur.Pos() {
		optLen := ihl - cur.Pos()
		b.Literal(cur.Pos(), optLen, "Options")
		cur.Advance(optLen)
	}

	summary := fmt.Sprintf("IPv4, Src: %s, Dst: %s", srcIP, dstIP)
	rec := LayerRecord{Protocol: IPv4, Fields: b.Build(0, ihl, summary), Props: b.Props(), Summary: summary}

	next := ipProtoNext[layers.IPProtocol(protoNum)]
	out := Carry{SrcIP: srcIP.String(), DstIP: dstIP.String()}

	if ihl < 20 || ihl > len(data) {
		// Header-length field is garbage; nothing trustworthy follows.
		return rec, None, nil, out
	}
	payloadEnd := int(totalLen)
	if payloadEnd > len(data) || payloadEnd < ihl {
		payloadEnd = len(data)
	}
	return rec, next, data[ihl:payloadEnd], out
}

type ipv6Decoder struct{}

func (ipv6Decoder) Decode(e *Engine, fr *Frame, data []byte, in Carry) (LayerRecord, Protocol, []byte, Carry) {
	const headerLen = 40
	cur := cursor.New(data)
	b := field.NewBuilder()

	verClassFlow, err := cur.ReadUint32BE()
	if err != nil {
		return truncated(IPv6), None, nil, in
	}
	b.Literal(0, 4, fmt.Sprintf("Version: %d", verClassFlow>>28))

	payloadLen, _ := cur.ReadUint16BE()
	nextHeader, err := cur.ReadUint8()
	if err != nil {
		return truncated(IPv6), None, nil, in
	}
	cur.Advance(1) // hop limit

	srcIP, err := cur.ReadIPv6()
	if err != nil {
		return truncated(IPv6), None, nil, in
	}
	dstIP, err := cur.ReadIPv6()
	if err != nil {
		return truncated(IPv6), None, nil, in
	}
	b.Literal(8, 16, "Source: "+srcIP.String())
	b.Literal(24, 16, "Destination: "+dstIP.String())

	e.Agg.IncIPClass(socket.ClassifyIP(srcIP))
	e.Agg.IncIPClass(socket.ClassifyIP(dstIP))
	e.Agg.IncHost(srcIP.String())
	e.Agg.IncHost(dstIP.String())

	summary := fmt.Sprintf("IPv6, Src: %s, Dst: %s", srcIP, dstIP)
	rec := LayerRecord{Protocol: IPv6, Fields: b.Build(0, headerLen, summary), Props: b.Props(), Summary: summary}

	next := ipProtoNext[layers.IPProtocol(nextHeader)]
	out := Carry{SrcIP: srcIP.String(), DstIP: dstIP.String()}

	payloadEnd := headerLen + int(payloadLen)
	if payloadEnd > len(data) {
		payloadEnd = len(data)
	}
	return rec, next, data[headerLen:payloadEnd], out
}

func truncated(p Protocol) LayerRecord {
	return LayerRecord{Protocol: p, Summary: p.String() + " (truncated)"}
}
