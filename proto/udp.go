package proto

import (
	"fmt"

	"github.com/mel2oo/netshark/cursor"
	"github.com/mel2oo/netshark/field"
	"github.com/mel2oo/netshark/socket"
)

type udpDecoder struct{}

func (udpDecoder) Decode(e *Engine, fr *Frame, data []byte, in Carry) (LayerRecord, Protocol, []byte, Carry) {
	cur := cursor.New(data)
	b := field.NewBuilder()

	srcPort, err := cur.ReadUint16BE()
	if err != nil {
		return truncated(UDP), None, nil, in
	}
	dstPort, err := cur.ReadUint16BE()
	if err != nil {
		return truncated(UDP), None, nil, in
	}
	length, err := cur.ReadUint16BE()
	if err != nil {
		return truncated(UDP), None, nil, in
	}
	checksum, err := cur.ReadUint16BE()
	if err != nil {
		return truncated(UDP), None, nil, in
	}

	b.Format("udp.src.port", "Source Port", 0, 2, intString(srcPort))
	b.Format("udp.dst.port", "Destination Port", 2, 2, intString(dstPort))
	b.Literal(4, 2, fmt.Sprintf("Length: %d", length))
	b.Literal(6, 2, fmt.Sprintf("Checksum: 0x%04x", checksum))

	tuple := socket.Tuple{
		Src: socket.Endpoint{Host: in.SrcIP, Port: srcPort},
		Dst: socket.Endpoint{Host: in.DstIP, Port: dstPort},
	}
	e.Agg.GetOrCreateUDPFlow(tuple, fr.Index, len(data)-8)

	payload := data[8:]
	if int(length) >= 8 && int(length) <= len(data) {
		payload = data[8:length]
	}

	summary := fmt.Sprintf("UDP %d -> %d Len=%d", srcPort, dstPort, length)
	rec := LayerRecord{Protocol: UDP, Fields: b.Build(0, 8, summary), Props: b.Props(), Summary: summary}

	next := None
	switch {
	case srcPort == 53 || dstPort == 53:
		next = DNS
	case srcPort == 67 || dstPort == 67 || srcPort == 68 || dstPort == 68:
		next = DHCP
	}
	return rec, next, payload, in
}
