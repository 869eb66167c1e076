package proto

import (
	"fmt"
	"strings"

	"github.com/mel2oo/netshark/cursor"
	"github.com/mel2oo/netshark/field"
	"github.com/mel2oo/netshark/socket"
	"github.com/mel2oo/netshark/tcpconn"
)

type tcpDecoder struct{}

func (tcpDecoder) Decode(e *Engine, fr *Frame, data []byte, in Carry) (LayerRecord, Protocol, []byte, Carry) {
	cur := cursor.New(data)
	b := field.NewBuilder()

	srcPort, err := cur.ReadUint16BE()
	if err != nil {
		return truncated(TCP), None, nil, in
	}
	dstPort, err := cur.ReadUint16BE()
	if err != nil {
		return truncated(TCP), None, nil, in
	}
	seq, err := cur.ReadUint32BE()
	if err != nil {
		return truncated(TCP), None, nil, in
	}
	ack, err := cur.ReadUint32BE()
	if err != nil {
		return truncated(TCP), None, nil, in
	}
	offsetFlags, err := cur.ReadUint16BE()
	if err != nil {
		return truncated(TCP), None, nil, in
	}
	dataOffset := int(offsetFlags>>12) * 4
	flags := tcpconn.Flags{
		URG: offsetFlags&0x0020 != 0,
		ACK: offsetFlags&0x0010 != 0,
		PSH: offsetFlags&0x0008 != 0,
		RST: offsetFlags&0x0004 != 0,
		FIN: offsetFlags&0x0001 != 0,
		SYN: offsetFlags&0x0002 != 0,
	}
	window, _ := cur.ReadUint16BE()
	checksum, err := cur.ReadUint16BE()
	if err != nil {
		return truncated(TCP), None, nil, in
	}
	cur.Advance(2) // urgent pointer

	b.Format("tcp.src.port", "Source Port", 0, 2, intString(srcPort))
	b.Format("tcp.dst.port", "Destination Port", 2, 2, intString(dstPort))
	b.Literal(4, 4, fmt.Sprintf("Sequence Number: %d", seq))
	b.Literal(8, 4, fmt.Sprintf("Acknowledgment Number: %d", ack))
	b.Literal(12, 2, fmt.Sprintf("Data Offset: %d, Flags: %s", dataOffset, flagsString(flags)))
	b.Literal(14, 2, fmt.Sprintf("Window: %d", window))
	b.Literal(16, 2, fmt.Sprintf("Checksum: 0x%04x", checksum))

	if dataOffset > cur.Pos() && dataOffset <= len(data) {
		b.Literal(cur.Pos(), dataOffset-cur.Pos(), "Options")
	}
	if dataOffset < 20 || dataOffset > len(data) {
		dataOffset = len(data)
	}
	payload := data[dataOffset:]

	tuple := socket.Tuple{
		Src: socket.Endpoint{Host: in.SrcIP, Port: srcPort},
		Dst: socket.Endpoint{Host: in.DstIP, Port: dstPort},
	}
	obs := e.TCP.Observe(tuple, fr.Index, fr.CapturedAt, tcpconn.Segment{
		Seq:      seq,
		Ack:      ack,
		Flags:    flags,
		Checksum: checksum,
		Payload:  payload,
	})
	b.Set("tcp.classification", obs.Class.String())
	b.Set("tcp.stream", obs.ConnKey)

	summary := fmt.Sprintf("TCP %d -> %d [%s] Seq=%d Ack=%d [%s]", srcPort, dstPort, flagsString(flags), obs.RelSeq, obs.RelAck, obs.Class)
	rec := LayerRecord{Protocol: TCP, Fields: b.Build(0, dataOffset, summary), Props: b.Props(), Summary: summary}

	// Frames whose payload begins a TLS record or HTTP start line carry a
	// matching application tag layer, so filters and statistics can find
	// application traffic without waiting for reassembly.
	next := None
	if obs.Class == tcpconn.ClassNext && len(payload) > 0 {
		next = appTag(payload)
	}
	if next != None {
		return rec, next, payload, in
	}
	return rec, None, nil, in
}

func flagsString(f tcpconn.Flags) string {
	var list []string
	add := func(set bool, name string) {
		if set {
			list = append(list, name)
		}
	}
	add(f.ACK, "ACK")
	add(f.PSH, "PUSH")
	add(f.RST, "RESET")
	add(f.SYN, "SYN")
	add(f.FIN, "FIN")
	return strings.Join(list, ",")
}

type intString uint16

func (i intString) String() string { return fmt.Sprintf("%d", i) }
