package proto

import (
	"fmt"
	"net"

	"github.com/mel2oo/netshark/cursor"
	"github.com/mel2oo/netshark/field"
)

type dnsDecoder struct{}

var dnsTypeNames = map[uint16]string{
	1:  "A",
	2:  "NS",
	5:  "CNAME",
	6:  "SOA",
	12: "PTR",
	15: "MX",
	16: "TXT",
	28: "AAAA",
}

func dnsTypeName(t uint16) string {
	if name, ok := dnsTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TYPE%d", t)
}

func (dnsDecoder) Decode(e *Engine, fr *Frame, data []byte, in Carry) (LayerRecord, Protocol, []byte, Carry) {
	cur := cursor.New(data)
	b := field.NewBuilder()

	id, err := cur.ReadUint16BE()
	if err != nil {
		return truncated(DNS), None, nil, in
	}
	flags, _ := cur.ReadUint16BE()
	qdCount, _ := cur.ReadUint16BE()
	anCount, _ := cur.ReadUint16BE()
	nsCount, _ := cur.ReadUint16BE()
	arCount, _ := cur.ReadUint16BE()

	isResponse := flags&0x8000 != 0
	b.Literal(0, 2, fmt.Sprintf("Transaction ID: 0x%04x", id))
	b.Literal(2, 2, fmt.Sprintf("Flags: 0x%04x (%s)", flags, dnsQRName(isResponse)))
	b.Literal(4, 2, fmt.Sprintf("Questions: %d", qdCount))
	b.Literal(6, 2, fmt.Sprintf("Answer RRs: %d", anCount))

	var lastQuestionName string
	for i := 0; i < int(qdCount); i++ {
		start := cur.Pos()
		name, err := cur.ReadDNSName(0)
		if err != nil {
			break
		}
		lastQuestionName = name
		qtype, _ := cur.ReadUint16BE()
		cur.Advance(2) // qclass
		b.Literal(start, cur.Pos()-start, fmt.Sprintf("Query: %s %s", name, dnsTypeName(qtype)))
	}

	for i := 0; i < int(anCount)+int(nsCount)+int(arCount); i++ {
		start := cur.Pos()
		name, err := cur.ReadDNSName(0)
		if err != nil {
			break
		}
		rtype, err1 := cur.ReadUint16BE()
		cur.Advance(2) // class
		ttl, err2 := cur.ReadUint32BE()
		rdLen, err3 := cur.ReadUint16BE()
		if err1 != nil || err2 != nil || err3 != nil {
			break
		}
		rdata, err := cur.Peek(int(rdLen))
		if err != nil {
			break
		}
		cur.Advance(int(rdLen))

		value := renderRData(data, cur.Pos()-int(rdLen), rtype, rdata)
		b.Literal(start, cur.Pos()-start, fmt.Sprintf("%s %s TTL=%d %s", name, dnsTypeName(rtype), ttl, value))
		if isResponse {
			e.Agg.RegisterDNSAnswer(fr.Index, name, dnsTypeName(rtype), value, ttl)
		}
	}

	summary := "DNS query"
	if isResponse {
		summary = fmt.Sprintf("DNS response for %s", lastQuestionName)
	} else {
		summary = fmt.Sprintf("DNS query for %s", lastQuestionName)
	}
	return LayerRecord{Protocol: DNS, Fields: b.Build(0, cur.Pos(), summary), Props: b.Props(), Summary: summary}, None, nil, in
}

func dnsQRName(isResponse bool) string {
	if isResponse {
		return "response"
	}
	return "query"
}

// renderRData decodes the handful of resource record types the aggregate
// cares about (A/AAAA/CNAME et al.); anything else renders as a hex blob.
func renderRData(msg []byte, rdataOffset int, rtype uint16, rdata []byte) string {
	switch rtype {
	case 1: // A
		if len(rdata) == 4 {
			return net.IP(rdata).String()
		}
	case 28: // AAAA
		if len(rdata) == 16 {
			return net.IP(rdata).String()
		}
	case 5, 2, 12: // CNAME, NS, PTR
		sub := cursor.New(msg)
		sub.SetPos(rdataOffset)
		if name, err := sub.ReadDNSName(0); err == nil {
			return name
		}
	}
	return fmt.Sprintf("% x", rdata)
}
