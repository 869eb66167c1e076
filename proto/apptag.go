package proto

import (
	"fmt"

	"github.com/mel2oo/netshark/field"
	"github.com/mel2oo/netshark/httpmsg"
	"github.com/mel2oo/netshark/tlsmsg"
)

// The TLS and HTTP decoders registered here do not reassemble anything -
// that happens out-of-band in the connection tracker, which sees ordered
// bytes. They exist so that a frame whose TCP payload begins a TLS record
// or an HTTP start line carries a matching layer tag, which the protocol
// filter and the per-protocol statistics key on. A payload that merely
// continues an earlier message is tagged by its first frame only.

type tlsTagDecoder struct{}

func (tlsTagDecoder) Decode(e *Engine, fr *Frame, data []byte, in Carry) (LayerRecord, Protocol, []byte, Carry) {
	b := field.NewBuilder()
	summary := "TLS"
	if len(data) >= 5 {
		needed, _ := tlsmsg.DetectRecord(data)
		b.Literal(0, 1, "Content Type: "+tlsContentName(data[0]))
		b.Literal(1, 2, tlsVersionName(data[1], data[2]))
		b.Literal(3, 2, fmt.Sprintf("Length: %d", needed-5))
		summary = fmt.Sprintf("TLS %s, %s", tlsVersionName(data[1], data[2]), tlsContentName(data[0]))
	}
	return LayerRecord{Protocol: TLS, Fields: b.Build(0, len(data), summary), Props: b.Props(), Summary: summary}, None, nil, in
}

func tlsContentName(ct byte) string {
	switch ct {
	case tlsmsg.ContentChangeCipherSpec:
		return "Change Cipher Spec"
	case tlsmsg.ContentAlert:
		return "Alert"
	case tlsmsg.ContentHandshake:
		return "Handshake"
	case tlsmsg.ContentApplicationData:
		return "Application Data"
	case tlsmsg.ContentHeartbeat:
		return "Heartbeat"
	}
	return "Unknown"
}

func tlsVersionName(major, minor byte) string {
	switch {
	case major == 3 && minor == 1:
		return "TLS 1.0"
	case major == 3 && minor == 2:
		return "TLS 1.1"
	case major == 3 && minor == 3:
		return "TLS 1.2"
	case major == 3 && minor == 4:
		return "TLS 1.3"
	}
	return "TLS"
}

type httpTagDecoder struct{}

func (httpTagDecoder) Decode(e *Engine, fr *Frame, data []byte, in Carry) (LayerRecord, Protocol, []byte, Carry) {
	b := field.NewBuilder()
	summary := "HTTP"
	if line, ok := firstLine(data); ok {
		b.Literal(0, len(line), line)
		summary = "HTTP " + line
	}
	return LayerRecord{Protocol: HTTP, Fields: b.Build(0, len(data), summary), Props: b.Props(), Summary: summary}, None, nil, in
}

func firstLine(data []byte) (string, bool) {
	limit := len(data)
	if limit > 200 {
		limit = 200
	}
	for i := 0; i+1 < limit; i++ {
		if data[i] == '\r' && data[i+1] == '\n' {
			return string(data[:i]), true
		}
	}
	return "", false
}

// appTag inspects a NEXT-classified TCP segment's payload and reports
// which application tag decoder, if any, should label this frame.
func appTag(payload []byte) Protocol {
	if _, ok := tlsmsg.DetectRecord(payload); ok {
		return TLS
	}
	if _, ok := httpmsg.LooksLikeStart(payload); ok {
		return HTTP
	}
	return None
}
