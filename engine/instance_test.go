package engine

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/mel2oo/netshark/capture"
	"github.com/mel2oo/netshark/config"
)

func pcapHeader() []byte {
	return []byte{
		0xd4, 0xc3, 0xb2, 0xa1,
		0x02, 0x00, 0x04, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0xff, 0xff, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00,
	}
}

// tcpPacket builds an Ethernet/IPv4/TCP frame with the given payload.
func tcpPacket(srcIP, dstIP [4]byte, srcPort, dstPort uint16, seq uint32, flags uint16, payload []byte) []byte {
	eth := make([]byte, 14)
	copy(eth[0:6], []byte{0xaa, 0, 0, 0, 0, 1})
	copy(eth[6:12], []byte{0xaa, 0, 0, 0, 0, 2})
	binary.BigEndian.PutUint16(eth[12:14], 0x0800)

	ip := make([]byte, 20)
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], uint16(20+20+len(payload)))
	ip[8] = 64
	ip[9] = 6
	copy(ip[12:16], srcIP[:])
	copy(ip[16:20], dstIP[:])

	tcp := make([]byte, 20)
	binary.BigEndian.PutUint16(tcp[0:2], srcPort)
	binary.BigEndian.PutUint16(tcp[2:4], dstPort)
	binary.BigEndian.PutUint32(tcp[4:8], seq)
	binary.BigEndian.PutUint16(tcp[12:14], 0x5000|flags) // offset 5 words
	binary.BigEndian.PutUint16(tcp[14:16], 64240)

	out := append(append(eth, ip...), tcp...)
	return append(out, payload...)
}

func record(ts uint32, data []byte) []byte {
	hdr := make([]byte, 16)
	binary.LittleEndian.PutUint32(hdr[0:4], ts)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(data)))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(data)))
	return append(hdr, data...)
}

const (
	flagSYN = 0x0002
	flagACK = 0x0010
)

// httpCapture builds a capture with a SYN, a GET request, and a response.
func httpCapture() []byte {
	client := [4]byte{10, 0, 0, 2}
	server := [4]byte{10, 0, 0, 1}

	request := []byte("GET /api HTTP/1.1\r\nHost: example.com\r\n\r\n")
	response := []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nContent-Type: text/plain\r\n\r\nok")

	out := pcapHeader()
	out = append(out, record(1, tcpPacket(client, server, 50000, 80, 100, flagSYN, nil))...)
	out = append(out, record(2, tcpPacket(client, server, 50000, 80, 101, flagACK, request))...)
	out = append(out, record(3, tcpPacket(server, client, 80, 50000, 900, flagACK, response))...)
	return out
}

func newTestInstance(t *testing.T) *Instance {
	t.Helper()
	inst := New(config.DefaultOptions().Engine)
	t.Cleanup(inst.Shutdown)
	return inst
}

func TestQueriesBeforeOpen(t *testing.T) {
	inst := newTestInstance(t)
	_, err := inst.Frames(0, 10, "")
	assert.Equal(t, ErrNoCapture, err)
}

func TestOpenFileAndFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "http.pcap")
	assert.NoError(t, os.WriteFile(path, httpCapture(), 0o644))

	inst := newTestInstance(t)
	info, err := inst.OpenFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "pcap", info.Format)
	assert.Equal(t, 1, info.LinkType)
	assert.Equal(t, 3, info.Frames)

	page, err := inst.Frames(0, 10, "")
	assert.NoError(t, err)
	assert.Equal(t, 3, page.Total)

	// AND-joined filter: only the request/response frames carry http.
	page, err = inst.Frames(0, 10, "tcp http")
	assert.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = inst.Frames(0, 10, "udp")
	assert.NoError(t, err)
	assert.Equal(t, 0, page.Total)
}

func TestFrameDetail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "http.pcap")
	assert.NoError(t, os.WriteFile(path, httpCapture(), 0o644))

	inst := newTestInstance(t)
	_, err := inst.OpenFile(path)
	assert.NoError(t, err)

	detail, err := inst.FrameDetail(0)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0), detail.Index)
	assert.NotEmpty(t, detail.Raw)
	assert.Equal(t, len(detail.Raw), detail.Size)
	var names []string
	for _, l := range detail.Layers {
		names = append(names, l.Protocol)
	}
	assert.Equal(t, []string{"ethernet", "ipv4", "tcp"}, names)

	_, err = inst.FrameDetail(99)
	assert.Error(t, err)
}

func TestHTTPViews(t *testing.T) {
	path := filepath.Join(t.TempDir(), "http.pcap")
	assert.NoError(t, os.WriteFile(path, httpCapture(), 0o644))

	inst := newTestInstance(t)
	_, err := inst.OpenFile(path)
	assert.NoError(t, err)

	page, err := inst.HttpConnections("example", true, 0, 10)
	assert.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	details, err := inst.HttpDetail(0)
	assert.NoError(t, err)
	if assert.Len(t, details, 2) {
		assert.True(t, details[0].IsRequest)
		assert.False(t, details[1].IsRequest)
		assert.Equal(t, []byte("ok"), details[1].Body)
	}
}

func TestStatJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "http.pcap")
	assert.NoError(t, os.WriteFile(path, httpCapture(), 0o644))

	inst := newTestInstance(t)
	_, err := inst.OpenFile(path)
	assert.NoError(t, err)

	raw, err := inst.Stat(StatProtocol)
	assert.NoError(t, err)
	var counts map[string]uint64
	assert.NoError(t, json.Unmarshal(raw, &counts))
	assert.Equal(t, uint64(3), counts["tcp"])

	raw, err = inst.Stat(StatHTTP)
	assert.NoError(t, err)
	var http map[string]map[string]uint64
	assert.NoError(t, json.Unmarshal(raw, &http))
	assert.Equal(t, uint64(1), http["methods"]["GET"])
}

// TestDeterministicReplay: the same capture bytes fed whole or split
// into arbitrary chunks produce identical frames and aggregate views.
func TestDeterministicReplay(t *testing.T) {
	raw := httpCapture()

	parse := func(chunks [][]byte) *capture.Session {
		sess := capture.NewSession()
		for _, c := range chunks {
			assert.NoError(t, sess.Append(c))
		}
		return sess
	}

	whole := parse([][]byte{raw})

	var split [][]byte
	for i := 0; i < len(raw); i += 7 {
		end := i + 7
		if end > len(raw) {
			end = len(raw)
		}
		split = append(split, raw[i:end])
	}
	chunked := parse(split)

	assert.Equal(t, len(whole.Frames), len(chunked.Frames))
	for i := range whole.Frames {
		a, b := whole.Frames[i], chunked.Frames[i]
		assert.Equal(t, a.Summary, b.Summary, "frame %d", i)
		assert.Equal(t, a.Data, b.Data, "frame %d", i)
		if !cmp.Equal(a.Layers, b.Layers) {
			t.Errorf("frame %d layers differ: %s", i, cmp.Diff(a.Layers, b.Layers))
		}
	}

	// Derived views match too: exchanges, conversations, statistics.
	assert.Equal(t, len(whole.Agg.HTTPExchanges), len(chunked.Agg.HTTPExchanges))
	for i := range whole.Agg.HTTPExchanges {
		a, b := whole.Agg.HTTPExchanges[i], chunked.Agg.HTTPExchanges[i]
		assert.Equal(t, a.Method, b.Method)
		assert.Equal(t, a.StatusCode, b.StatusCode)
		assert.Equal(t, a.RequestBody, b.RequestBody)
		assert.Equal(t, a.ResponseBody, b.ResponseBody)
		assert.Equal(t, a.RequestFragments, b.RequestFragments)
		assert.Equal(t, a.ResponseFragments, b.ResponseFragments)
	}

	wc := whole.Agg.OrderedConversations()
	cc := chunked.Agg.OrderedConversations()
	assert.Equal(t, len(wc), len(cc))
	for i := range wc {
		assert.Equal(t, wc[i].Key, cc[i].Key)
		assert.Equal(t, wc[i].Forward.Count, cc[i].Forward.Count)
		assert.Equal(t, wc[i].Reverse.Count, cc[i].Reverse.Count)
	}
	assert.Equal(t, whole.Agg.Stats.ProtocolCount, chunked.Agg.Stats.ProtocolCount)
}

func TestExportHAR(t *testing.T) {
	path := filepath.Join(t.TempDir(), "http.pcap")
	assert.NoError(t, os.WriteFile(path, httpCapture(), 0o644))

	inst := newTestInstance(t)
	_, err := inst.OpenFile(path)
	assert.NoError(t, err)

	harBytes, err := inst.ExportHAR()
	assert.NoError(t, err)

	var doc struct {
		Log struct {
			Creator struct {
				Name string `json:"name"`
			} `json:"creator"`
			Entries []struct {
				Request struct {
					Method string `json:"method"`
					URL    string `json:"url"`
				} `json:"request"`
				Response struct {
					Status int `json:"status"`
				} `json:"response"`
			} `json:"entries"`
		} `json:"log"`
	}
	assert.NoError(t, json.Unmarshal(harBytes, &doc))
	assert.Equal(t, "netshark", doc.Log.Creator.Name)
	if assert.Len(t, doc.Log.Entries, 1) {
		assert.Equal(t, "GET", doc.Log.Entries[0].Request.Method)
		assert.Contains(t, doc.Log.Entries[0].Request.URL, "example.com")
		assert.Equal(t, 200, doc.Log.Entries[0].Response.Status)
	}
}

func TestAppendBytesPath(t *testing.T) {
	inst := newTestInstance(t)
	raw := httpCapture()

	assert.NoError(t, inst.AppendBytes(raw[:40]))
	assert.NoError(t, inst.AppendBytes(raw[40:]))

	p, err := inst.Progress()
	assert.NoError(t, err)
	assert.Equal(t, 3, p.FramesParsed)
	assert.Equal(t, int64(len(raw)), p.TotalBytes)

	assert.NoError(t, inst.CloseFile())
	_, err = inst.Frames(0, 10, "")
	assert.Equal(t, ErrNoCapture, err)
}
