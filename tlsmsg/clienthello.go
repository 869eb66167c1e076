package tlsmsg

import (
	"fmt"

	"github.com/mel2oo/netshark/cursor"
	"github.com/mel2oo/netshark/field"
)

// ClientHelloInfo is the subset of a ClientHello the aggregate context keeps
// around for pairing with its ServerHello and for TlsHandshakeInfo.
type ClientHelloInfo struct {
	ServerName string
	Ciphers    []uint16
	Versions   []uint16
	ALPN       []string
}

const (
	extServerName      = 0x0000
	extSupportedGroups = 0x000a
	extALPN            = 0x0010
	extSupportedVers   = 0x002b
)

// parseClientHello walks a ClientHello body in wire order (legacy
// version, random, session id, cipher suites, compression methods,
// extensions), emitting a Field tree and tolerating any extension it does
// not recognize.
func parseClientHello(body []byte) (*ClientHelloInfo, *field.Field) {
	b := field.NewBuilder()
	info := &ClientHelloInfo{}
	cur := cursor.New(body)

	major, _ := cur.ReadUint8()
	minor, _ := cur.ReadUint8()
	info.Versions = append(info.Versions, uint16(major)<<8|uint16(minor))
	b.Literal(0, 2, "Legacy Version")

	randStart := cur.Pos()
	cur.Advance(32)
	b.Literal(randStart, 32, "Random")

	sessStart := cur.Pos()
	sessLen, err := cur.ReadUint8()
	if err == nil {
		cur.Advance(int(sessLen))
		b.Literal(sessStart, 1+int(sessLen), "Session ID")
	}

	ciphersStart := cur.Pos()
	ciphersLen, err := cur.ReadUint16BE()
	if err == nil {
		n := int(ciphersLen) / 2
		for i := 0; i < n; i++ {
			v, err := cur.ReadUint16BE()
			if err != nil {
				break
			}
			info.Ciphers = append(info.Ciphers, v)
		}
		b.Literal(ciphersStart, 2+int(ciphersLen), fmt.Sprintf("Cipher Suites (%d)", n))
	}

	compStart := cur.Pos()
	compLen, err := cur.ReadUint8()
	if err == nil {
		cur.Advance(int(compLen))
		b.Literal(compStart, 1+int(compLen), "Compression Methods")
	}

	if cur.Remaining() >= 2 {
		extStart := cur.Pos()
		extTotal, _ := cur.ReadUint16BE()
		end := cur.Pos() + int(extTotal)
		for cur.Pos() < end && cur.Remaining() >= 4 {
			parseClientExtension(&b2wrap{b}, cur, info)
		}
		b.Literal(extStart, 2+int(extTotal), "Extensions")
	}

	return info, b.Build(0, len(body), "Client Hello")
}

// b2wrap lets parseClientExtension emit nested fields without importing a
// second builder type; extensions are typically small enough that a
// literal covering the whole extension is clearer than a line-by-line
// breakdown.
type b2wrap struct{ b *field.Builder }

func parseClientExtension(w *b2wrap, cur *cursor.Cursor, info *ClientHelloInfo) {
	start := cur.Pos()
	extType, err := cur.ReadUint16BE()
	if err != nil {
		cur.SetPos(cur.Len())
		return
	}
	extLen, err := cur.ReadUint16BE()
	if err != nil {
		cur.SetPos(cur.Len())
		return
	}
	body, err := cur.Peek(int(extLen))
	if err != nil {
		cur.SetPos(cur.Len())
		return
	}
	cur.Advance(int(extLen))

	label := fmt.Sprintf("Extension 0x%04x", extType)
	switch extType {
	case extServerName:
		if name, ok := parseSNI(body); ok {
			info.ServerName = name
			label = "Server Name: " + name
		}
	case extALPN:
		info.ALPN = parseALPN(body)
		label = fmt.Sprintf("ALPN: %v", info.ALPN)
	case extSupportedVers:
		info.Versions = append(info.Versions, parseSupportedVersions(body)...)
		label = "Supported Versions"
	case extSupportedGroups:
		label = "Supported Groups"
	}
	w.b.Literal(start, 4+int(extLen), label)
}

func parseSNI(body []byte) (string, bool) {
	cur := cursor.New(body)
	listLen, err := cur.ReadUint16BE()
	if err != nil || int(listLen) > cur.Remaining() {
		return "", false
	}
	nameType, err := cur.ReadUint8()
	if err != nil || nameType != 0 {
		return "", false
	}
	nameLen, err := cur.ReadUint16BE()
	if err != nil {
		return "", false
	}
	name, err := cur.ReadString(int(nameLen))
	if err != nil {
		return "", false
	}
	return name, true
}

func parseALPN(body []byte) []string {
	cur := cursor.New(body)
	listLen, err := cur.ReadUint16BE()
	if err != nil {
		return nil
	}
	end := cur.Pos() + int(listLen)
	var protos []string
	for cur.Pos() < end && cur.Remaining() > 0 {
		l, err := cur.ReadUint8()
		if err != nil {
			break
		}
		p, err := cur.ReadString(int(l))
		if err != nil {
			break
		}
		protos = append(protos, p)
	}
	return protos
}

func parseSupportedVersions(body []byte) []uint16 {
	cur := cursor.New(body)
	n, err := cur.ReadUint8()
	if err != nil {
		return nil
	}
	var out []uint16
	for i := 0; i < int(n)/2; i++ {
		v, err := cur.ReadUint16BE()
		if err != nil {
			break
		}
		out = append(out, v)
	}
	return out
}
