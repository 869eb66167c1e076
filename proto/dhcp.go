package proto

import (
	"fmt"

	"github.com/mel2oo/netshark/cursor"
	"github.com/mel2oo/netshark/field"
)

type dhcpDecoder struct{}

var dhcpOpNames = map[uint8]string{
	1: "Boot Request",
	2: "Boot Reply",
}

// Option 53 message types.
var dhcpMessageTypes = map[uint8]string{
	1: "Discover",
	2: "Offer",
	3: "Request",
	4: "Decline",
	5: "ACK",
	6: "NAK",
	7: "Release",
	8: "Inform",
}

func (dhcpDecoder) Decode(e *Engine, fr *Frame, data []byte, in Carry) (LayerRecord, Protocol, []byte, Carry) {
	cur := cursor.New(data)
	b := field.NewBuilder()

	op, err := cur.ReadUint8()
	if err != nil {
		return truncated(DHCP), None, nil, in
	}
	htype, _ := cur.ReadUint8()
	hlen, _ := cur.ReadUint8()
	cur.Advance(1) // hops
	xid, err := cur.ReadUint32BE()
	if err != nil {
		return truncated(DHCP), None, nil, in
	}
	cur.Advance(2) // secs
	cur.Advance(2) // flags

	clientIP, err := cur.ReadIPv4()
	if err != nil {
		return truncated(DHCP), None, nil, in
	}
	yourIP, _ := cur.ReadIPv4()
	serverIP, _ := cur.ReadIPv4()
	cur.Advance(4) // gateway

	chaddr, err := cur.Peek(16)
	if err != nil {
		return truncated(DHCP), None, nil, in
	}
	cur.Advance(16)

	opName := dhcpOpNames[op]
	if opName == "" {
		opName = fmt.Sprintf("Op %d", op)
	}
	b.Literal(0, 1, fmt.Sprintf("Message Type: %s", opName))
	b.Literal(1, 2, fmt.Sprintf("Hardware Type: %d, Address Length: %d", htype, hlen))
	b.Literal(4, 4, fmt.Sprintf("Transaction ID: 0x%08x", xid))
	b.Literal(12, 4, "Client IP: "+clientIP.String())
	if yourIP != nil {
		b.Literal(16, 4, "Your IP: "+yourIP.String())
	}
	if serverIP != nil {
		b.Literal(20, 4, "Server IP: "+serverIP.String())
	}
	if int(hlen) <= len(chaddr) {
		b.Literal(28, int(hlen), fmt.Sprintf("Client Hardware Address: % x", chaddr[:hlen]))
	}

	// server name (64) + boot file (128) + magic cookie (4), then options.
	cur.Advance(64 + 128)
	msgType := ""
	if cookie, err := cur.ReadUint32BE(); err == nil && cookie == 0x63825363 {
		msgType = walkDHCPOptions(cur, b)
	}

	summary := fmt.Sprintf("DHCP %s", opName)
	if msgType != "" {
		summary = fmt.Sprintf("DHCP %s (xid 0x%08x)", msgType, xid)
	}
	return LayerRecord{Protocol: DHCP, Fields: b.Build(0, cur.Pos(), summary), Props: b.Props(), Summary: summary}, None, nil, in
}

// walkDHCPOptions scans the TLV option list for display, returning the
// option-53 message type name when present.
func walkDHCPOptions(cur *cursor.Cursor, b *field.Builder) string {
	msgType := ""
	for {
		start := cur.Pos()
		code, err := cur.ReadUint8()
		if err != nil || code == 255 {
			break
		}
		if code == 0 {
			continue // pad
		}
		length, err := cur.ReadUint8()
		if err != nil {
			break
		}
		value, err := cur.Peek(int(length))
		if err != nil {
			break
		}
		cur.Advance(int(length))

		if code == 53 && length == 1 {
			msgType = dhcpMessageTypes[value[0]]
			b.Literal(start, cur.Pos()-start, fmt.Sprintf("Option 53 (DHCP Message Type): %s", msgType))
			continue
		}
		b.Literal(start, cur.Pos()-start, fmt.Sprintf("Option %d, length %d", code, length))
	}
	return msgType
}
