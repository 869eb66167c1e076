// Package tlsmsg implements the TLS record framer and handshake decoder.
// It is fed ordered bytes one TCP direction at a time by
// the connection tracker (package tcpconn); it never touches network state
// itself.
package tlsmsg

import (
	"github.com/mel2oo/netshark/cursor"
	"github.com/mel2oo/netshark/field"
)

// Content types that appear in a TLS record header.
const (
	ContentChangeCipherSpec = 20
	ContentAlert            = 21
	ContentHandshake        = 22
	ContentApplicationData  = 23
	ContentHeartbeat        = 24
)

const recordHeaderLen = 5

// DetectRecord reports whether buf begins with a plausible TLS record
// header: content_type in [20,24], major
// version 3, minor version < 5. On success it returns the total number of
// bytes the record needs (header + declared payload length).
func DetectRecord(buf []byte) (needed int, ok bool) {
	if len(buf) < recordHeaderLen {
		return 0, false
	}
	contentType := buf[0]
	if contentType < 20 || contentType > 24 {
		return 0, false
	}
	if buf[1] != 3 || buf[2] >= 5 {
		return 0, false
	}
	recordLen := int(buf[3])<<8 | int(buf[4])
	return recordHeaderLen + recordLen, true
}

// Record is one fully-framed TLS record.
type Record struct {
	ContentType    byte
	VersionMajor   byte
	VersionMinor   byte
	Fields         *field.Field
	ClientHello    *ClientHelloInfo
	ServerHello    *ServerHelloInfo
	Certificates   []CertSummary
}

// ParseRecord decodes a single complete TLS record (exactly the bytes
// DetectRecord said were needed). It never returns an error for unknown
// handshake types or malformed certificate extensions; those surface as raw
// fields instead.
func ParseRecord(buf []byte) *Record {
	b := field.NewBuilder()
	rec := &Record{
		ContentType:  buf[0],
		VersionMajor: buf[1],
		VersionMinor: buf[2],
	}
	b.Format("tls.record.content_type", "Content Type", 0, 1, contentTypeName(rec.ContentType))
	b.Literal(1, 2, versionName(rec.VersionMajor, rec.VersionMinor))
	recordLen := int(buf[3])<<8 | int(buf[4])
	b.Literal(3, 2, "Length")

	payload := buf[recordHeaderLen:]
	if rec.ContentType == ContentHandshake {
		parseHandshakeMessages(b, payload, recordHeaderLen, rec)
	} else {
		b.Literal(recordHeaderLen, len(payload), "Opaque payload")
	}

	rec.Fields = b.Build(0, recordHeaderLen+recordLen, contentTypeName(rec.ContentType).String())
	return rec
}

type stringer string

func (s stringer) String() string { return string(s) }

func contentTypeName(ct byte) stringer {
	switch ct {
	case ContentChangeCipherSpec:
		return "Change Cipher Spec"
	case ContentAlert:
		return "Alert"
	case ContentHandshake:
		return "Handshake"
	case ContentApplicationData:
		return "Application Data"
	case ContentHeartbeat:
		return "Heartbeat"
	default:
		return "Unknown"
	}
}

func versionName(major, minor byte) string {
	names := map[[2]byte]string{
		{3, 1}: "TLS 1.0",
		{3, 2}: "TLS 1.1",
		{3, 3}: "TLS 1.2",
		{3, 4}: "TLS 1.3",
	}
	if name, ok := names[[2]byte{major, minor}]; ok {
		return name
	}
	return "Unknown TLS version"
}

// Handshake message types decoded in full; everything else is surfaced as
// "Encrypted Handshake".
const (
	handshakeClientHello = 1
	handshakeServerHello = 2
	handshakeCertificate = 11
)

// parseHandshakeMessages walks the concatenation of handshake messages that
// make up a content_type==22 record's payload.
func parseHandshakeMessages(b *field.Builder, payload []byte, baseOffset int, rec *Record) {
	cur := cursor.New(payload)
	for cur.Remaining() > 0 {
		start := cur.Pos()
		msgType, err := cur.ReadUint8()
		if err != nil {
			break
		}
		msgLen, err := cur.ReadUint24BE()
		if err != nil {
			break
		}
		body, err := cur.Peek(int(msgLen))
		if err != nil {
			// Declared length runs past what we have; surface the remainder
			// raw and stop.
			b.Literal(baseOffset+start, cur.Remaining()+4, "Truncated handshake message")
			break
		}
		cur.Advance(int(msgLen))

		total := 4 + int(msgLen)
		switch msgType {
		case handshakeClientHello:
			info, fields := parseClientHello(body)
			rec.ClientHello = info
			b.Child(baseOffset+start, total, "Client Hello", fields)
		case handshakeServerHello:
			info, fields := parseServerHello(body)
			rec.ServerHello = info
			b.Child(baseOffset+start, total, "Server Hello", fields)
		case handshakeCertificate:
			certs, fields := parseCertificateMessage(body)
			rec.Certificates = certs
			b.Child(baseOffset+start, total, "Certificate", fields)
		default:
			b.Literal(baseOffset+start, total, "Encrypted Handshake")
		}
	}
}
