package tlsmsg

import (
	"fmt"

	"github.com/mel2oo/netshark/cursor"
	"github.com/mel2oo/netshark/field"
)

// ServerHelloInfo is the negotiated-parameter summary the aggregate keeps
// for TlsHandshakeInfo pairing.
type ServerHelloInfo struct {
	Version uint16
	Cipher  uint16
	ALPN    string
}

// parseServerHello walks the hello body in wire order (legacy version,
// random, session id echo, single cipher suite, compression, extensions)
// without delegating to crypto/x509 for anything downstream.
func parseServerHello(body []byte) (*ServerHelloInfo, *field.Field) {
	b := field.NewBuilder()
	info := &ServerHelloInfo{}
	cur := cursor.New(body)

	major, _ := cur.ReadUint8()
	minor, _ := cur.ReadUint8()
	info.Version = uint16(major)<<8 | uint16(minor)
	b.Literal(0, 2, versionName(major, minor))

	randStart := cur.Pos()
	cur.Advance(32)
	b.Literal(randStart, 32, "Random")

	sessStart := cur.Pos()
	sessLen, err := cur.ReadUint8()
	if err == nil {
		cur.Advance(int(sessLen))
		b.Literal(sessStart, 1+int(sessLen), "Session ID")
	}

	cipherStart := cur.Pos()
	cipher, err := cur.ReadUint16BE()
	if err == nil {
		info.Cipher = cipher
		b.Literal(cipherStart, 2, fmt.Sprintf("Cipher Suite: 0x%04x", cipher))
	}

	compStart := cur.Pos()
	if _, err := cur.ReadUint8(); err == nil {
		b.Literal(compStart, 1, "Compression Method")
	}

	if cur.Remaining() >= 2 {
		extStart := cur.Pos()
		extTotal, _ := cur.ReadUint16BE()
		end := cur.Pos() + int(extTotal)
		for cur.Pos() < end && cur.Remaining() >= 4 {
			parseServerExtension(b, cur, info)
		}
		b.Literal(extStart, 2+int(extTotal), "Extensions")
	}

	return info, b.Build(0, len(body), fmt.Sprintf("Server Hello (cipher 0x%04x)", info.Cipher))
}

func parseServerExtension(b *field.Builder, cur *cursor.Cursor, info *ServerHelloInfo) {
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
	case extALPN:
		if protos := parseALPN(body); len(protos) > 0 {
			info.ALPN = protos[0]
			label = "ALPN: " + info.ALPN
		}
	case extSupportedVers:
		if len(body) >= 2 {
			info.Version = uint16(body[0])<<8 | uint16(body[1])
			label = "Selected Version"
		}
	}
	b.Literal(start, 4+int(extLen), label)
}
