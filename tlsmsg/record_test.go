package tlsmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectRecord(t *testing.T) {
	cases := []struct {
		name   string
		in     []byte
		needed int
		ok     bool
	}{
		{"handshake", []byte{0x16, 0x03, 0x01, 0x00, 0x50}, 85, true},
		{"app data", []byte{0x17, 0x03, 0x03, 0x01, 0x00}, 261, true},
		{"change cipher spec", []byte{0x14, 0x03, 0x03, 0x00, 0x01}, 6, true},
		{"bad content type", []byte{0x19, 0x03, 0x01, 0x00, 0x10}, 0, false},
		{"bad major version", []byte{0x16, 0x02, 0x01, 0x00, 0x10}, 0, false},
		{"bad minor version", []byte{0x16, 0x03, 0x05, 0x00, 0x10}, 0, false},
		{"too short", []byte{0x16, 0x03, 0x01}, 0, false},
		{"http start", []byte("GET /"), 0, false},
	}
	for _, tc := range cases {
		needed, ok := DetectRecord(tc.in)
		assert.Equal(t, tc.ok, ok, tc.name)
		if ok {
			assert.Equal(t, tc.needed, needed, tc.name)
		}
	}
}

// buildHandshakeRecord wraps msgs into one handshake-content record.
func buildHandshakeRecord(msgs ...[]byte) []byte {
	var payload []byte
	for _, m := range msgs {
		payload = append(payload, m...)
	}
	rec := []byte{0x16, 0x03, 0x03, byte(len(payload) >> 8), byte(len(payload))}
	return append(rec, payload...)
}

func buildClientHelloMsg(sni string) []byte {
	name := []byte(sni)
	sniBody := []byte{0x00, byte(3 + len(name)), 0x00, 0x00, byte(len(name))}
	sniBody = append(sniBody, name...)
	ext := []byte{0x00, 0x00, 0x00, byte(len(sniBody))}
	ext = append(ext, sniBody...)

	var body []byte
	body = append(body, 0x03, 0x03)
	body = append(body, make([]byte, 32)...)
	body = append(body, 0x00)
	body = append(body, 0x00, 0x04, 0x13, 0x01, 0x13, 0x02)
	body = append(body, 0x01, 0x00)
	body = append(body, 0x00, byte(len(ext)))
	body = append(body, ext...)

	msg := []byte{0x01, 0x00, 0x00, byte(len(body))}
	return append(msg, body...)
}

func buildServerHelloMsg(cipher uint16) []byte {
	var body []byte
	body = append(body, 0x03, 0x03)
	body = append(body, make([]byte, 32)...)
	body = append(body, 0x00)
	body = append(body, byte(cipher>>8), byte(cipher))
	body = append(body, 0x00)       // compression: null
	body = append(body, 0x00, 0x00) // no extensions

	msg := []byte{0x02, 0x00, 0x00, byte(len(body))}
	return append(msg, body...)
}

func TestParseClientHelloRecord(t *testing.T) {
	record := buildHandshakeRecord(buildClientHelloMsg("api.example.org"))
	rec := ParseRecord(record)

	assert.Equal(t, byte(ContentHandshake), rec.ContentType)
	if assert.NotNil(t, rec.ClientHello) {
		assert.Equal(t, "api.example.org", rec.ClientHello.ServerName)
		assert.Equal(t, []uint16{0x1301, 0x1302}, rec.ClientHello.Ciphers)
	}
	assert.Nil(t, rec.ServerHello)
	assert.NotNil(t, rec.Fields)
}

func TestParseServerHelloRecord(t *testing.T) {
	record := buildHandshakeRecord(buildServerHelloMsg(0xc02f))
	rec := ParseRecord(record)

	if assert.NotNil(t, rec.ServerHello) {
		assert.Equal(t, uint16(0xc02f), rec.ServerHello.Cipher)
		assert.Equal(t, uint16(0x0303), rec.ServerHello.Version)
	}
}

func TestTwoHandshakesInOneRecord(t *testing.T) {
	// A record payload is a concatenation of handshake messages.
	record := buildHandshakeRecord(buildServerHelloMsg(0x1302), []byte{0x0e, 0x00, 0x00, 0x00})
	rec := ParseRecord(record)
	assert.NotNil(t, rec.ServerHello)
}

func TestUnknownHandshakeTypeIsTolerated(t *testing.T) {
	// Finished/encrypted messages surface as opaque fields, never an error.
	record := buildHandshakeRecord([]byte{0x63, 0x00, 0x00, 0x02, 0xAA, 0xBB})
	rec := ParseRecord(record)
	assert.Nil(t, rec.ClientHello)
	assert.Nil(t, rec.ServerHello)
	assert.NotNil(t, rec.Fields)
}

func TestApplicationDataRecord(t *testing.T) {
	record := []byte{0x17, 0x03, 0x03, 0x00, 0x04, 0xDE, 0xAD, 0xBE, 0xEF}
	rec := ParseRecord(record)
	assert.Equal(t, byte(ContentApplicationData), rec.ContentType)
	assert.Nil(t, rec.ClientHello)
}

func TestTruncatedHandshakeLengthIsTolerated(t *testing.T) {
	// Declared message length exceeds the record payload; the parser must
	// surface the remainder raw rather than abort.
	record := buildHandshakeRecord([]byte{0x01, 0x00, 0x10, 0x00, 0xAA})
	rec := ParseRecord(record)
	assert.Nil(t, rec.ClientHello)
	assert.NotNil(t, rec.Fields)
}
