package tlsmsg

import (
	"fmt"
	"time"

	"github.com/mel2oo/netshark/cursor"
	"github.com/mel2oo/netshark/field"
)

// CertSummary is the handful of X.509 fields the aggregate keeps per
// certificate, extracted by walking the DER TLV structure directly
// rather than handing the bytes to crypto/x509 (which would give us a typed
// certificate but no byte-accurate field tree to render).
type CertSummary struct {
	Subject      string
	Issuer       string
	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time
}

// parseCertificateMessage walks a TLS Certificate handshake message's
// certificate_list, one DER certificate at a time.
func parseCertificateMessage(body []byte) ([]CertSummary, *field.Field) {
	b := field.NewBuilder()
	cur := cursor.New(body)

	var certs []CertSummary
	start := cur.Pos()
	listLen, err := cur.ReadUint24BE()
	if err != nil {
		return nil, b.Build(0, len(body), "Certificate List")
	}
	end := cur.Pos() + int(listLen)
	i := 0
	for cur.Pos() < end && cur.Remaining() >= 3 {
		certStart := cur.Pos()
		certLen, err := cur.ReadUint24BE()
		if err != nil {
			break
		}
		der, err := cur.Peek(int(certLen))
		if err != nil {
			break
		}
		cur.Advance(int(certLen))

		summary, tree := parseDERCertificate(der)
		certs = append(certs, summary)
		b.Child(certStart, 3+int(certLen), fmt.Sprintf("Certificate[%d]: %s", i, summary.Subject), tree)
		i++
	}
	_ = start
	return certs, b.Build(0, len(body), fmt.Sprintf("Certificate List (%d)", len(certs)))
}

// ASN.1 tag numbers used while walking the certificate TBS structure.
const (
	tagBoolean    = 0x01
	tagInteger    = 0x02
	tagBitString  = 0x03
	tagOctetStr   = 0x04
	tagNull       = 0x05
	tagOID        = 0x06
	tagUTF8String = 0x0c
	tagSequence   = 0x10
	tagSet        = 0x11
	tagPrintable  = 0x13
	tagIA5String  = 0x16
	tagUTCTime    = 0x17
	tagGenTime    = 0x18
)

// tlv is one decoded ASN.1 BER/DER tag-length-value node.
type tlv struct {
	class        byte
	constructed  bool
	tag          byte
	headerLen    int
	contentStart int
	contentLen   int
}

// readTLV decodes one BER/DER header at buf[pos:], tolerating any tag it
// does not specifically understand (unknown tags become raw Field leaves,
// so one odd extension never aborts the chain).
func readTLV(buf []byte, pos int) (tlv, error) {
	if pos >= len(buf) {
		return tlv{}, errTruncated
	}
	first := buf[pos]
	t := tlv{
		class:       first >> 6,
		constructed: first&0x20 != 0,
		tag:         first & 0x1f,
	}
	i := pos + 1
	if t.tag == 0x1f {
		// High-tag-number form; unusual in X.509, walk the multi-byte tag and
		// discard the precise value since we only branch on low tags below.
		for i < len(buf) && buf[i]&0x80 != 0 {
			i++
		}
		i++
	}
	if i >= len(buf) {
		return tlv{}, errTruncated
	}
	lenByte := buf[i]
	i++
	var length int
	if lenByte&0x80 == 0 {
		length = int(lenByte)
	} else {
		n := int(lenByte & 0x7f)
		if n == 0 || i+n > len(buf) {
			return tlv{}, errTruncated
		}
		for j := 0; j < n; j++ {
			length = length<<8 | int(buf[i+j])
		}
		i += n
	}
	if i+length > len(buf) {
		return tlv{}, errTruncated
	}
	t.headerLen = i - pos
	t.contentStart = i
	t.contentLen = length
	return t, nil
}

var errTruncated = fmt.Errorf("tlsmsg: truncated ASN.1 TLV")

// parseDERCertificate renders a best-effort Field tree for one DER
// certificate and pulls out the subject/issuer/serial/validity fields the
// aggregate stores, skipping anything it cannot confidently identify.
func parseDERCertificate(der []byte) (CertSummary, *field.Field) {
	var summary CertSummary
	b := field.NewBuilder()

	cert, err := readTLV(der, 0)
	if err != nil || cert.tag != tagSequence {
		return summary, b.Build(0, len(der), "Certificate (unparsed)")
	}
	tbs, err := readTLV(der, cert.contentStart)
	if err != nil || tbs.tag != tagSequence {
		return summary, b.Build(0, len(der), "Certificate (malformed TBS)")
	}
	b.Literal(cert.contentStart, tbs.headerLen+tbs.contentLen, "TBS Certificate")

	pos := tbs.contentStart
	tbsEnd := tbs.contentStart + tbs.contentLen

	// version [0] EXPLICIT is optional and context-tagged; skip over it if
	// present so pos lands on serialNumber either way.
	if pos < tbsEnd && der[pos]&0xc0 == 0x80 {
		ver, err := readTLV(der, pos)
		if err == nil {
			b.Literal(pos, ver.headerLen+ver.contentLen, "Version")
			pos = ver.contentStart + ver.contentLen
		}
	}

	if serial, err := readTLV(der, pos); err == nil && serial.tag == tagInteger {
		summary.SerialNumber = fmt.Sprintf("%x", der[serial.contentStart:serial.contentStart+serial.contentLen])
		b.Literal(pos, serial.headerLen+serial.contentLen, "Serial Number: "+summary.SerialNumber)
		pos = serial.contentStart + serial.contentLen
	}

	if sig, err := readTLV(der, pos); err == nil {
		b.Literal(pos, sig.headerLen+sig.contentLen, "Signature Algorithm")
		pos = sig.contentStart + sig.contentLen
	}

	if issuer, err := readTLV(der, pos); err == nil && issuer.tag == tagSequence {
		summary.Issuer = renderRDNSequence(der, issuer)
		b.Literal(pos, issuer.headerLen+issuer.contentLen, "Issuer: "+summary.Issuer)
		pos = issuer.contentStart + issuer.contentLen
	}

	if validity, err := readTLV(der, pos); err == nil && validity.tag == tagSequence {
		notBefore, notAfter := renderValidity(der, validity)
		summary.NotBefore = notBefore
		summary.NotAfter = notAfter
		b.Literal(pos, validity.headerLen+validity.contentLen, "Validity")
		pos = validity.contentStart + validity.contentLen
	}

	if subject, err := readTLV(der, pos); err == nil && subject.tag == tagSequence {
		summary.Subject = renderRDNSequence(der, subject)
		b.Literal(pos, subject.headerLen+subject.contentLen, "Subject: "+summary.Subject)
		pos = subject.contentStart + subject.contentLen
	}

	if pos < tbsEnd {
		b.Literal(pos, tbsEnd-pos, "SubjectPublicKeyInfo + extensions")
	}

	return summary, b.Build(0, len(der), "Certificate: "+summary.Subject)
}

// renderRDNSequence walks a Name (SEQUENCE OF RelativeDistinguishedName)
// and renders it as a comma-joined "key=value" string. Keys come from
// oidShortName (CN, C, O, OU, or the raw OID in hex for anything else); a
// Name with no readable attribute renders as "(unknown)".
func renderRDNSequence(der []byte, seq tlv) string {
	pos := seq.contentStart
	end := seq.contentStart + seq.contentLen
	var parts []string
	for pos < end {
		rdn, err := readTLV(der, pos)
		if err != nil || rdn.tag != tagSet {
			break
		}
		attr, err := readTLV(der, rdn.contentStart)
		if err == nil && attr.tag == tagSequence {
			if oid, err := readTLV(der, attr.contentStart); err == nil && oid.tag == tagOID {
				valuePos := oid.contentStart + oid.contentLen
				if value, err := readTLV(der, valuePos); err == nil {
					name := oidShortName(der[oid.contentStart : oid.contentStart+oid.contentLen])
					text := string(der[value.contentStart : value.contentStart+value.contentLen])
					parts = append(parts, name+"="+text)
				}
			}
		}
		pos = rdn.contentStart + rdn.contentLen
	}
	if len(parts) == 0 {
		return "(unknown)"
	}
	return joinComma(parts)
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// oidShortName recognizes the handful of Name attribute OIDs that matter for
// a one-line certificate summary; anything else renders as the raw OID
// bytes so the field tree stays informative without a full OID table.
func oidShortName(oid []byte) string {
	known := map[string]string{
		"\x55\x04\x03": "CN",
		"\x55\x04\x06": "C",
		"\x55\x04\x0a": "O",
		"\x55\x04\x0b": "OU",
	}
	if name, ok := known[string(oid)]; ok {
		return name
	}
	return fmt.Sprintf("%x", oid)
}

// renderValidity decodes the UTCTime/GeneralizedTime pair inside a Validity
// SEQUENCE. Parse failures leave the zero time.Time rather than aborting the
// certificate walk.
func renderValidity(der []byte, seq tlv) (time.Time, time.Time) {
	pos := seq.contentStart
	notBefore := parseASN1Time(der, pos)
	nb, err := readTLV(der, pos)
	if err != nil {
		return time.Time{}, time.Time{}
	}
	pos = nb.contentStart + nb.contentLen
	notAfter := parseASN1Time(der, pos)
	return notBefore, notAfter
}

func parseASN1Time(der []byte, pos int) time.Time {
	t, err := readTLV(der, pos)
	if err != nil {
		return time.Time{}
	}
	raw := string(der[t.contentStart : t.contentStart+t.contentLen])
	layouts := []string{"060102150405Z0700", "20060102150405Z0700"}
	layout := layouts[0]
	if t.tag == tagGenTime {
		layout = layouts[1]
	}
	parsed, err := time.Parse(layout, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
