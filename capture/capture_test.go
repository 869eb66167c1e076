package capture

import (
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/mel2oo/netshark/field"
	"github.com/mel2oo/netshark/proto"
)

// pcapFileHeader is the classic little-endian global header with link type 1.
func pcapFileHeader() []byte {
	return []byte{
		0xd4, 0xc3, 0xb2, 0xa1, // magic
		0x02, 0x00, 0x04, 0x00, // version 2.4
		0x00, 0x00, 0x00, 0x00, // thiszone
		0x00, 0x00, 0x00, 0x00, // sigfigs
		0xff, 0xff, 0x00, 0x00, // snaplen
		0x01, 0x00, 0x00, 0x00, // network: Ethernet
	}
}

// tcpSynPacket builds a 74-byte Ethernet/IPv4/TCP SYN frame.
func tcpSynPacket() []byte {
	eth := make([]byte, 14)
	copy(eth[0:6], []byte{0xaa, 0xbb, 0xcc, 0x00, 0x00, 0x01})
	copy(eth[6:12], []byte{0xaa, 0xbb, 0xcc, 0x00, 0x00, 0x02})
	binary.BigEndian.PutUint16(eth[12:14], 0x0800)

	ip := make([]byte, 20)
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], 60) // 20 IP + 40 TCP
	ip[8] = 64                              // TTL
	ip[9] = 6                               // TCP
	copy(ip[12:16], []byte{10, 0, 0, 1})
	copy(ip[16:20], []byte{10, 0, 0, 2})

	tcp := make([]byte, 40)
	binary.BigEndian.PutUint16(tcp[0:2], 51000)
	binary.BigEndian.PutUint16(tcp[2:4], 80)
	binary.BigEndian.PutUint32(tcp[4:8], 0x1000)
	binary.BigEndian.PutUint16(tcp[12:14], 0xA002) // offset 10 words, SYN
	binary.BigEndian.PutUint16(tcp[14:16], 64240)

	out := append(append(eth, ip...), tcp...)
	return out
}

func pcapRecord(ts uint32, data []byte) []byte {
	hdr := make([]byte, 16)
	binary.LittleEndian.PutUint32(hdr[0:4], ts)
	binary.LittleEndian.PutUint32(hdr[4:8], 0)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(data)))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(data)))
	return append(hdr, data...)
}

func TestPCAPMinimum(t *testing.T) {
	// The smallest useful capture: one Ethernet/IPv4/TCP SYN frame.
	pkt := tcpSynPacket()
	assert.Len(t, pkt, 74)

	sess := NewSession()
	err := sess.Append(append(pcapFileHeader(), pcapRecord(1000, pkt)...))
	assert.NoError(t, err)

	assert.Equal(t, FormatPCAP, sess.Format)
	assert.Equal(t, 1, sess.LinkType)
	if assert.Len(t, sess.Frames, 1) {
		fr := sess.Frames[0]
		assert.Equal(t, uint32(0), fr.Index)

		var protos []proto.Protocol
		for _, l := range fr.Layers {
			protos = append(protos, l.Protocol)
		}
		assert.Equal(t, []proto.Protocol{proto.Ethernet, proto.IPv4, proto.TCP}, protos)
		assert.Contains(t, fr.Layers[2].Summary, "[SYN]")
	}
	assert.Equal(t, uint64(1), sess.Agg.Stats.ProtocolCount["tcp"])
}

// checkFieldRanges walks a field tree asserting every child inside its
// parent, every range inside the frame.
func checkFieldRanges(t *testing.T, f *field.Field, frameLen int) {
	t.Helper()
	assert.LessOrEqual(t, f.End(), frameLen)
	for _, c := range f.Children {
		assert.GreaterOrEqual(t, c.Start, f.Start)
		assert.LessOrEqual(t, c.End(), f.End())
		checkFieldRanges(t, c, frameLen)
	}
}

func TestFieldRangeClosure(t *testing.T) {
	// Range closure over a real decoded frame. Field offsets are layer-relative,
	// so each tree is checked against the whole frame length, which bounds
	// every layer.
	sess := NewSession()
	err := sess.Append(append(pcapFileHeader(), pcapRecord(1000, tcpSynPacket())...))
	assert.NoError(t, err)

	fr := sess.Frames[0]
	for _, layer := range fr.Layers {
		if layer.Fields == nil {
			continue
		}
		checkFieldRanges(t, layer.Fields, len(fr.Data))
	}
}

func TestUnsupportedFileType(t *testing.T) {
	sess := NewSession()
	err := sess.Append([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05})
	assert.Equal(t, ErrUnsupportedFileType, errors.Cause(err))
}

func TestPCAPIncompleteRecordResumes(t *testing.T) {
	pkt := tcpSynPacket()
	full := append(pcapFileHeader(), pcapRecord(1000, pkt)...)

	sess := NewSession()
	// Split mid-record: header + first 30 bytes of the record.
	cut := len(pcapFileHeader()) + 30
	assert.NoError(t, sess.Append(full[:cut]))
	assert.Empty(t, sess.Frames)

	p := sess.Progress()
	assert.Equal(t, int64(cut), p.TotalBytes)
	assert.Equal(t, 30, p.BytesLeftUnparsed)

	assert.NoError(t, sess.Append(full[cut:]))
	assert.Len(t, sess.Frames, 1)

	p = sess.Progress()
	assert.Equal(t, int64(len(full)), p.TotalBytes)
	assert.Equal(t, p.TotalBytes, p.CursorBytes)
	assert.Equal(t, 0, p.BytesLeftUnparsed)
	assert.Equal(t, 1, p.FramesParsed)
}

// --- PCAPNG ---

func ngSectionHeader() []byte {
	b := make([]byte, 28)
	binary.LittleEndian.PutUint32(b[0:4], ngBlockSectionHeader)
	binary.LittleEndian.PutUint32(b[4:8], 28)
	copy(b[8:12], bomLittleEndian[:])
	binary.LittleEndian.PutUint16(b[12:14], 1) // major
	binary.LittleEndian.PutUint16(b[14:16], 0) // minor
	binary.LittleEndian.PutUint64(b[16:24], 0xFFFFFFFFFFFFFFFF)
	binary.LittleEndian.PutUint32(b[24:28], 28)
	return b
}

func ngInterfaceDesc(linkType uint16) []byte {
	b := make([]byte, 20)
	binary.LittleEndian.PutUint32(b[0:4], ngBlockInterfaceDesc)
	binary.LittleEndian.PutUint32(b[4:8], 20)
	binary.LittleEndian.PutUint16(b[8:10], linkType)
	binary.LittleEndian.PutUint32(b[12:16], 0xFFFF) // snaplen
	binary.LittleEndian.PutUint32(b[16:20], 20)
	return b
}

func ngEnhancedPacket(data []byte) []byte {
	padded := len(data)
	if rem := padded % 4; rem != 0 {
		padded += 4 - rem
	}
	total := 12 + 20 + padded
	b := make([]byte, total)
	binary.LittleEndian.PutUint32(b[0:4], ngBlockEnhancedPacket)
	binary.LittleEndian.PutUint32(b[4:8], uint32(total))
	binary.LittleEndian.PutUint32(b[8:12], 0)  // interface id
	binary.LittleEndian.PutUint32(b[12:16], 0) // ts high
	binary.LittleEndian.PutUint32(b[16:20], 1000000) // ts low
	binary.LittleEndian.PutUint32(b[20:24], uint32(len(data)))
	binary.LittleEndian.PutUint32(b[24:28], uint32(len(data)))
	copy(b[28:], data)
	binary.LittleEndian.PutUint32(b[total-4:], uint32(total))
	return b
}

func TestPCAPNGIncrementalAppend(t *testing.T) {
	// SHB+IDB first, then the EPB in two halves; no frame may
	// appear until the trailing length arrives.
	sess := NewSession()
	assert.NoError(t, sess.Append(ngSectionHeader()))
	assert.NoError(t, sess.Append(ngInterfaceDesc(1)))
	assert.Empty(t, sess.Frames)
	assert.Equal(t, FormatPCAPNG, sess.Format)

	epb := ngEnhancedPacket(tcpSynPacket())
	half := len(epb) / 2
	assert.NoError(t, sess.Append(epb[:half]))
	assert.Empty(t, sess.Frames)

	assert.NoError(t, sess.Append(epb[half:]))
	if assert.Len(t, sess.Frames, 1) {
		assert.Equal(t, uint32(0), sess.Frames[0].Index)
		assert.True(t, sess.Frames[0].HasProtocol(proto.TCP))
	}
}

func TestPCAPNGBadTrailingLength(t *testing.T) {
	sess := NewSession()
	assert.NoError(t, sess.Append(ngSectionHeader()))

	idb := ngInterfaceDesc(1)
	binary.LittleEndian.PutUint32(idb[16:20], 999) // corrupt trailer
	err := sess.Append(idb)
	assert.Equal(t, ErrFormatMismatch, errors.Cause(err))
}

func TestPCAPNGUnknownBlockSkipped(t *testing.T) {
	sess := NewSession()
	assert.NoError(t, sess.Append(ngSectionHeader()))

	// A vendor block type the session has never heard of.
	blk := make([]byte, 16)
	binary.LittleEndian.PutUint32(blk[0:4], 0x0BAD0BAD)
	binary.LittleEndian.PutUint32(blk[4:8], 16)
	binary.LittleEndian.PutUint32(blk[12:16], 16)
	assert.NoError(t, sess.Append(blk))

	assert.NoError(t, sess.Append(ngInterfaceDesc(1)))
	assert.NoError(t, sess.Append(ngEnhancedPacket(tcpSynPacket())))
	assert.Len(t, sess.Frames, 1)
}
