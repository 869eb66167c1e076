package proto

import (
	"fmt"

	"github.com/mel2oo/netshark/cursor"
	"github.com/mel2oo/netshark/field"
)

// ARP, ICMP and ICMPv6 are terminal layers for this registry: each gets a
// minimal, self-contained field tree, and none feeds an application-layer
// reassembler.

type arpDecoder struct{}

func (arpDecoder) Decode(e *Engine, fr *Frame, data []byte, in Carry) (LayerRecord, Protocol, []byte, Carry) {
	cur := cursor.New(data)
	b := field.NewBuilder()

	htype, _ := cur.ReadUint16BE()
	ptype, _ := cur.ReadUint16BE()
	hlen, err1 := cur.ReadUint8()
	plen, err2 := cur.ReadUint8()
	op, err3 := cur.ReadUint16BE()
	if err1 != nil || err2 != nil || err3 != nil {
		return truncated(ARP), None, nil, in
	}
	b.Literal(0, 2, fmt.Sprintf("Hardware Type: %d", htype))
	b.Literal(2, 2, fmt.Sprintf("Protocol Type: 0x%04x", ptype))
	b.Literal(6, 2, fmt.Sprintf("Opcode: %d", op))

	senderHW, _ := cur.Peek(int(hlen))
	cur.Advance(int(hlen))
	senderPA, _ := cur.Peek(int(plen))
	cur.Advance(int(plen))
	targetHW, _ := cur.Peek(int(hlen))
	cur.Advance(int(hlen))
	targetPA, _ := cur.Peek(int(plen))
	cur.Advance(int(plen))

	b.Literal(8, int(hlen), fmt.Sprintf("Sender MAC: % x", senderHW))
	b.Literal(8+int(hlen), int(plen), fmt.Sprintf("Sender IP: % x", senderPA))
	b.Literal(8+int(hlen)+int(plen), int(hlen), fmt.Sprintf("Target MAC: % x", targetHW))
	b.Literal(8+2*int(hlen)+int(plen), int(plen), fmt.Sprintf("Target IP: % x", targetPA))

	summary := fmt.Sprintf("ARP, Opcode: %d", op)
	return LayerRecord{Protocol: ARP, Fields: b.Build(0, cur.Pos(), summary), Props: b.Props(), Summary: summary}, None, nil, in
}

type icmpDecoder struct{}

func (icmpDecoder) Decode(e *Engine, fr *Frame, data []byte, in Carry) (LayerRecord, Protocol, []byte, Carry) {
	cur := cursor.New(data)
	b := field.NewBuilder()
	icmpType, err1 := cur.ReadUint8()
	code, err2 := cur.ReadUint8()
	if err1 != nil || err2 != nil {
		return truncated(ICMP), None, nil, in
	}
	cur.Advance(2) // checksum
	b.Literal(0, 1, fmt.Sprintf("Type: %d", icmpType))
	b.Literal(1, 1, fmt.Sprintf("Code: %d", code))
	summary := fmt.Sprintf("ICMP, Type: %d, Code: %d", icmpType, code)
	return LayerRecord{Protocol: ICMP, Fields: b.Build(0, len(data), summary), Props: b.Props(), Summary: summary}, None, nil, in
}

type icmp6Decoder struct{}

func (icmp6Decoder) Decode(e *Engine, fr *Frame, data []byte, in Carry) (LayerRecord, Protocol, []byte, Carry) {
	cur := cursor.New(data)
	b := field.NewBuilder()
	icmpType, err1 := cur.ReadUint8()
	code, err2 := cur.ReadUint8()
	if err1 != nil || err2 != nil {
		return truncated(ICMP6), None, nil, in
	}
	cur.Advance(2) // checksum
	b.Literal(0, 1, fmt.Sprintf("Type: %d", icmpType))
	b.Literal(1, 1, fmt.Sprintf("Code: %d", code))
	summary := fmt.Sprintf("ICMPv6, Type: %d, Code: %d", icmpType, code)
	return LayerRecord{Protocol: ICMP6, Fields: b.Build(0, len(data), summary), Summary: summary}, None, nil, in
}

// pppoesDecoder decodes a minimal PPPoE session header (version/type/code,
// session id, length, and the inner PPP protocol field) then hands off to
// IPv4/IPv6, the common case.
type pppoesDecoder struct{}

func (pppoesDecoder) Decode(e *Engine, fr *Frame, data []byte, in Carry) (LayerRecord, Protocol, []byte, Carry) {
	cur := cursor.New(data)
	b := field.NewBuilder()
	verType, err := cur.ReadUint8()
	if err != nil {
		return truncated(PPPoESession), None, nil, in
	}
	code, _ := cur.ReadUint8()
	sessionID, _ := cur.ReadUint16BE()
	length, err := cur.ReadUint16BE()
	if err != nil {
		return truncated(PPPoESession), None, nil, in
	}
	b.Literal(0, 1, fmt.Sprintf("Version/Type: 0x%02x", verType))
	b.Literal(1, 1, fmt.Sprintf("Code: 0x%02x", code))
	b.Literal(2, 2, fmt.Sprintf("Session ID: 0x%04x", sessionID))
	b.Literal(4, 2, fmt.Sprintf("Length: %d", length))

	next := None
	payload := data[6:]
	if len(payload) >= 2 {
		pppProto := uint16(payload[0])<<8 | uint16(payload[1])
		payload = payload[2:]
		switch pppProto {
		case 0x0021:
			next = IPv4
		case 0x0057:
			next = IPv6
		}
	}

	summary := "PPPoE Session"
	return LayerRecord{Protocol: PPPoESession, Fields: b.Build(0, 6, summary), Props: b.Props(), Summary: summary}, next, payload, in
}
