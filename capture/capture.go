// Package capture implements the outer capture-file envelope: PCAP and
// PCAPNG auto-detection, incremental/resumable parsing that
// rewinds to the last fully-parsed frame boundary on a truncated trailing
// block, and the per-frame pipeline that runs the protocol dispatch loop
// and folds results into the aggregate context. The envelope never blocks
// waiting for more input: the engine drives Append itself and a truncated
// trailing block simply waits for the next chunk.
package capture

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/mel2oo/netshark/aggregate"
	"github.com/mel2oo/netshark/proto"
)

// Format identifies which outer envelope a capture byte stream uses.
type Format int

const (
	FormatUnknown Format = iota
	FormatPCAP
	FormatPCAPNG
)

var (
	magicPCAPLE  = [4]byte{0xd4, 0xc3, 0xb2, 0xa1}
	magicPCAPBE  = [4]byte{0xa1, 0xb2, 0xc3, 0xd4}
	magicPCAPNS  = [4]byte{0xa1, 0xb2, 0x3c, 0x4d} // nanosecond-resolution variant
	magicPCAPNG  = [4]byte{0x0a, 0x0d, 0x0d, 0x0a}
)

var (
	// ErrNeedMoreData is returned by Append's internal parse step when the
	// trailing bytes of buf don't yet form a complete block; the caller
	// should retain the unconsumed suffix and retry once more bytes arrive.
	ErrNeedMoreData = errors.New("capture: incomplete trailing block")

	// ErrUnsupportedFileType is returned when the first four bytes match
	// neither the PCAP nor the PCAPNG magic.
	ErrUnsupportedFileType = errors.New("capture: unsupported file type")

	// ErrFormatMismatch is the root cause wrapped by every outer-envelope
	// invariant violation: bad block lengths, bad byte-order magic,
	// mismatched trailing lengths. Parsing of the file stops when one
	// surfaces.
	ErrFormatMismatch = errors.New("capture: format mismatch")
)

// DetectFormat inspects the first bytes of a capture stream and reports
// which envelope it uses.
func DetectFormat(buf []byte) Format {
	if len(buf) < 4 {
		return FormatUnknown
	}
	var magic [4]byte
	copy(magic[:], buf[:4])
	switch magic {
	case magicPCAPLE, magicPCAPBE, magicPCAPNS:
		return FormatPCAP
	case magicPCAPNG:
		return FormatPCAPNG
	}
	return FormatUnknown
}

// Session is an incrementally-parsed capture: it owns the running byte
// buffer of not-yet-fully-parsed trailing bytes, the resolved link type,
// and the Frame/aggregate state produced so far. The engine package Appends
// bytes to it as a file is read (from disk wholesale, or from a live
// stream), and it is safe to Append zero or more times before Frames
// becomes non-empty.
type Session struct {
	Format   Format
	LinkType int
	littleEn bool
	nanoSec  bool

	pending       []byte // bytes not yet resolved into a complete frame/block
	headerParsed  bool
	totalAppended int64

	Frames []*proto.Frame
	Agg    *aggregate.Context
	Engine *proto.Engine

	ngInterfaces []ngInterface

	frameBuf *frameStaging
}

// NewSession returns an empty session backed by a fresh aggregate context.
func NewSession() *Session {
	agg := aggregate.NewContext()
	return &Session{Agg: agg, Engine: proto.NewEngine(agg), frameBuf: newFrameStaging()}
}

// Append feeds newly-available bytes to the session. It parses as many
// complete frames as the combined (pending + chunk) buffer allows,
// publishing each into Frames and through the dispatch loop, and retains
// any trailing incomplete block in pending for the next call, so a
// truncated block simply waits at the last fully parsed boundary.
func (s *Session) Append(chunk []byte) error {
	s.pending = append(s.pending, chunk...)
	s.totalAppended += int64(len(chunk))

	if !s.headerParsed {
		format := DetectFormat(s.pending)
		if format == FormatUnknown {
			if len(s.pending) < 4 {
				return nil // still waiting for enough bytes to even detect format
			}
			return ErrUnsupportedFileType
		}
		s.Format = format
		switch format {
		case FormatPCAP:
			if len(s.pending) < 24 {
				return nil
			}
			if err := s.parsePCAPGlobalHeader(); err != nil {
				return err
			}
		case FormatPCAPNG:
			consumed, err := s.tryParsePCAPNGSectionHeader(s.pending)
			if err == ErrNeedMoreData {
				return nil
			}
			if err != nil {
				return err
			}
			s.pending = s.pending[consumed:]
		}
		s.headerParsed = true
	}

	for {
		var consumed int
		var frame *proto.Frame
		var linkType int
		var err error
		switch s.Format {
		case FormatPCAP:
			consumed, frame, err = s.tryParsePCAPRecord(s.pending)
			linkType = s.LinkType
		case FormatPCAPNG:
			consumed, frame, linkType, err = s.tryParsePCAPNGBlock(s.pending)
		}
		if err == ErrNeedMoreData {
			return nil
		}
		if err != nil {
			return err
		}
		s.pending = s.pending[consumed:]
		if frame != nil {
			s.publishFrame(frame, linkType)
		}
		if consumed == 0 {
			return nil
		}
	}
}

// Progress reports how far through the appended byte
// stream parsing has advanced and how many bytes are waiting for the next
// Append to complete a block.
type Progress struct {
	TotalBytes        int64 `json:"total_bytes"`
	CursorBytes       int64 `json:"cursor_bytes"`
	FramesParsed      int   `json:"frames_parsed"`
	BytesLeftUnparsed int   `json:"bytes_left_unparsed"`
}

// Progress reports the session's current parse position.
func (s *Session) Progress() Progress {
	return Progress{
		TotalBytes:        s.totalAppended,
		CursorBytes:       s.totalAppended - int64(len(s.pending)),
		FramesParsed:      len(s.Frames),
		BytesLeftUnparsed: len(s.pending),
	}
}

func (s *Session) publishFrame(fr *proto.Frame, linkType int) {
	fr.Index = uint32(len(s.Frames))
	s.Frames = append(s.Frames, fr)
	s.Agg.ObserveFrame(fr.OriginalLen)
	entry := proto.EntryForLinkType(linkType)
	s.Engine.RunFrame(fr, entry)
}

func (s *Session) parsePCAPGlobalHeader() error {
	buf := s.pending
	var magic [4]byte
	copy(magic[:], buf[:4])
	switch magic {
	case magicPCAPLE:
		s.littleEn = true
	case magicPCAPBE:
		s.littleEn = false
	case magicPCAPNS:
		s.littleEn = false
		s.nanoSec = true
	default:
		return errors.WithMessage(ErrFormatMismatch, "bad pcap magic")
	}
	order := s.byteOrder()
	s.LinkType = int(order.Uint32(buf[20:24]))
	s.pending = s.pending[24:]
	return nil
}

func (s *Session) byteOrder() binary.ByteOrder {
	if s.littleEn {
		return binary.LittleEndian
	}
	return binary.BigEndian
}
