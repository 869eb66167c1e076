package tcpconn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mel2oo/netshark/aggregate"
	"github.com/mel2oo/netshark/socket"
)

var (
	clientTuple = socket.Tuple{
		Src: socket.Endpoint{Host: "10.0.0.2", Port: 51000},
		Dst: socket.Endpoint{Host: "93.184.216.34", Port: 443},
	}
	baseTime = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
)

// buildClientHelloRecord returns a complete TLS handshake record carrying a
// ClientHello with the given SNI, zero-padded to payloadLen.
func buildClientHelloRecord(sni string, payloadLen int) []byte {
	name := []byte(sni)

	sniBody := []byte{0x00, byte(1 + 2 + len(name))} // server name list length
	sniBody = append(sniBody, 0x00)                  // name type: host_name
	sniBody = append(sniBody, 0x00, byte(len(name)))
	sniBody = append(sniBody, name...)

	ext := []byte{0x00, 0x00, 0x00, byte(len(sniBody))}
	ext = append(ext, sniBody...)

	var body []byte
	body = append(body, 0x03, 0x03)            // legacy version
	body = append(body, make([]byte, 32)...)   // random
	body = append(body, 0x00)                  // session id length
	body = append(body, 0x00, 0x02, 0x13, 0x01) // cipher suites
	body = append(body, 0x01, 0x00)            // compression methods
	body = append(body, 0x00, byte(len(ext)))  // extensions length
	body = append(body, ext...)

	msg := []byte{0x01, 0x00, 0x00, byte(len(body))}
	msg = append(msg, body...)

	payload := make([]byte, payloadLen)
	copy(payload, msg)

	record := []byte{0x16, 0x03, 0x01, byte(payloadLen >> 8), byte(payloadLen & 0xFF)}
	return append(record, payload...)
}

func TestTLSRecordAcrossTwoSegments(t *testing.T) {
	// A 200-byte record split 120/80; the first segment parks
	// the direction in the waiting state, the second completes the record.
	agg := aggregate.NewContext()
	tr := NewTracker(agg)

	record := buildClientHelloRecord("example.com", 195)
	assert.Len(t, record, 200)

	obs := tr.Observe(clientTuple, 0, baseTime, Segment{
		Seq: 1000, Flags: Flags{ACK: true}, Payload: record[:120],
	})
	assert.Equal(t, ClassNext, obs.Class)

	_, sender, _, _ := agg.GetOrCreateConnection(clientTuple, 0, baseTime)
	assert.Equal(t, aggregate.AppTLSWaiting, sender.App.Kind)
	assert.Equal(t, 200, sender.App.TLSNeeded)
	assert.Empty(t, agg.TLSHandshakes)

	obs = tr.Observe(clientTuple, 1, baseTime, Segment{
		Seq: 1120, Flags: Flags{ACK: true}, Payload: record[120:],
	})
	assert.Equal(t, ClassNext, obs.Class)

	if assert.Len(t, agg.TLSHandshakes, 1) {
		hs := agg.TLSHandshakes[0]
		assert.Equal(t, "example.com", hs.ServerName)
		assert.Equal(t, []aggregate.Fragment{
			{FrameIndex: 0, Size: 120},
			{FrameIndex: 1, Size: 80},
		}, hs.Fragments)
	}

	// The record was fully consumed; the buffer and its provenance list
	// must both be empty.
	assert.Empty(t, sender.ReassemblyBuffer)
	assert.Empty(t, sender.PendingSegments)
	assert.Equal(t, aggregate.AppNone, sender.App.Kind)
}

func TestChunkedResponseSplitMidChunkSize(t *testing.T) {
	// Request on one direction, chunked response split so the
	// first body segment ends with "4\r" and the second starts with "\n".
	agg := aggregate.NewContext()
	tr := NewTracker(agg)

	request := []byte("GET /index.html HTTP/1.1\r\nHost: example.com\r\n\r\n")
	tr.Observe(clientTuple, 0, baseTime, Segment{
		Seq: 100, Flags: Flags{ACK: true}, Payload: request,
	})

	serverTuple := clientTuple.Mirror()
	header := []byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n")
	seg1 := append(append([]byte{}, header...), []byte("4\r")...)
	seg2 := []byte("\n1234\r\n0\r\n\r\n")

	tr.Observe(serverTuple, 1, baseTime.Add(2*time.Millisecond), Segment{
		Seq: 500, Flags: Flags{ACK: true}, Payload: seg1,
	})
	assert.Empty(t, agg.HTTPExchanges)

	tr.Observe(serverTuple, 2, baseTime.Add(3*time.Millisecond), Segment{
		Seq: 500 + uint32(len(seg1)), Flags: Flags{ACK: true}, Payload: seg2,
	})

	if assert.Len(t, agg.HTTPExchanges, 1) {
		ex := agg.HTTPExchanges[0]
		assert.Equal(t, "GET", ex.Method)
		assert.Equal(t, "/index.html", ex.Path)
		assert.Equal(t, "example.com", ex.Hostname)
		assert.Equal(t, 200, ex.StatusCode)
		assert.Equal(t, []byte("1234"), ex.ResponseBody)
		assert.Equal(t, uint32(0), ex.RequestFrame)
		assert.Equal(t, uint32(2), ex.ResponseFrame)
		assert.Equal(t, 3*time.Millisecond, ex.Latency)

		// Response fragments span both frames that carried it.
		assert.Equal(t, []aggregate.Fragment{
			{FrameIndex: 1, Size: len(seg1)},
			{FrameIndex: 2, Size: len(seg2)},
		}, ex.ResponseFragments)
	}
}

func TestRetransmissionLeavesBufferIntact(t *testing.T) {
	// At the tracker level the duplicate increments only the
	// retransmission counter and adds nothing to the reassembly buffer.
	agg := aggregate.NewContext()
	tr := NewTracker(agg)

	payload := []byte("partial TLS bytes")
	tr.Observe(clientTuple, 0, baseTime, Segment{Seq: 1000, Flags: Flags{ACK: true}, Payload: payload})

	_, sender, _, _ := agg.GetOrCreateConnection(clientTuple, 0, baseTime)
	bufBefore := append([]byte{}, sender.ReassemblyBuffer...)
	segsBefore := len(sender.PendingSegments)

	obs := tr.Observe(clientTuple, 1, baseTime, Segment{Seq: 1000, Flags: Flags{ACK: true}, Payload: payload})
	assert.Equal(t, ClassRetransmission, obs.Class)
	assert.Equal(t, bufBefore, sender.ReassemblyBuffer)
	assert.Equal(t, segsBefore, len(sender.PendingSegments))
	assert.Equal(t, uint64(1), sender.Retransmissions)
}

func TestGapDropsBufferedBytes(t *testing.T) {
	// Open question resolution: NO_PREV_CAPTURE flushes partial records.
	agg := aggregate.NewContext()
	tr := NewTracker(agg)

	record := buildClientHelloRecord("example.com", 195)
	tr.Observe(clientTuple, 0, baseTime, Segment{Seq: 1000, Flags: Flags{ACK: true}, Payload: record[:120]})

	_, sender, _, _ := agg.GetOrCreateConnection(clientTuple, 0, baseTime)
	assert.Equal(t, aggregate.AppTLSWaiting, sender.App.Kind)

	obs := tr.Observe(clientTuple, 1, baseTime, Segment{Seq: 5000, Flags: Flags{ACK: true}, Payload: []byte("after the gap")})
	assert.Equal(t, ClassNoPrevCapture, obs.Class)
	assert.Empty(t, sender.ReassemblyBuffer)
	assert.Equal(t, aggregate.AppNone, sender.App.Kind)
}

func TestShiftBufferPartialSegment(t *testing.T) {
	// A partially consumed segment keeps its remainder at the front.
	ep := &aggregate.Endpoint{
		ReassemblyBuffer: []byte("aaaaabbbbb"),
		PendingSegments: []aggregate.PendingSegment{
			{FrameIndex: 7, Size: 5},
			{FrameIndex: 8, Size: 5},
		},
	}
	frags := shiftBuffer(ep, 7)
	assert.Equal(t, []aggregate.Fragment{
		{FrameIndex: 7, Size: 5},
		{FrameIndex: 8, Size: 2},
	}, frags)
	assert.Equal(t, []byte("bbb"), ep.ReassemblyBuffer)
	assert.Equal(t, []aggregate.PendingSegment{{FrameIndex: 8, Size: 3}}, ep.PendingSegments)

	total := 0
	for _, s := range ep.PendingSegments {
		total += s.Size
	}
	assert.Equal(t, len(ep.ReassemblyBuffer), total)
}
