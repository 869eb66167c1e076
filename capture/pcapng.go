package capture

import (
	"time"

	"github.com/pkg/errors"

	"github.com/mel2oo/netshark/proto"
)

// ngInterface is what an Interface Description Block contributes to a
// session: later Enhanced/Simple Packet Blocks reference an interface by
// index to learn which link-type dispatcher should run on their payload.
type ngInterface struct {
	LinkType int
}

const (
	ngBlockSectionHeader  = 0x0A0D0D0A
	ngBlockInterfaceDesc  = 0x00000001
	ngBlockSimplePacket   = 0x00000003
	ngBlockNameResolution = 0x00000004
	ngBlockInterfaceStats = 0x00000005
	ngBlockEnhancedPacket = 0x00000006

	ngBlockMinLen = 12 // type(4) + total_len(4) + trailing total_len(4)
)

var (
	bomBigEndian    = [4]byte{0x1a, 0x2b, 0x3c, 0x4d}
	bomLittleEndian = [4]byte{0x4d, 0x3c, 0x2b, 0x1a}
)

// tryParsePCAPNGSectionHeader consumes the leading Section Header Block of a
// PCAPNG stream. It is special-cased out of tryParsePCAPNGBlock because the
// byte order used for every other field in the file - including this
// block's own total_len - isn't known until the byte-order-magic field at
// body offset 0 is read.
func (s *Session) tryParsePCAPNGSectionHeader(buf []byte) (consumed int, err error) {
	if len(buf) < ngBlockMinLen+4 {
		return 0, ErrNeedMoreData
	}

	var bom [4]byte
	copy(bom[:], buf[8:12])
	switch bom {
	case bomBigEndian:
		s.littleEn = false
	case bomLittleEndian:
		s.littleEn = true
	default:
		return 0, errors.WithMessage(ErrFormatMismatch, "bad pcapng byte-order magic")
	}

	order := s.byteOrder()
	totalLen := order.Uint32(buf[4:8])
	if totalLen < ngBlockMinLen || totalLen%4 != 0 {
		return 0, errors.WithMessage(ErrFormatMismatch, "corrupt pcapng section header length")
	}
	if len(buf) < int(totalLen) {
		return 0, ErrNeedMoreData
	}
	trailing := order.Uint32(buf[totalLen-4 : totalLen])
	if trailing != totalLen {
		return 0, errors.WithMessage(ErrFormatMismatch, "pcapng section header length mismatch")
	}

	return int(totalLen), nil
}

// tryParsePCAPNGBlock decodes one block following the section header:
// Interface Description, Enhanced Packet, Simple Packet, Name Resolution,
// Interface Statistics, or a nested Section Header. It returns the link
// type to dispatch the produced frame's bytes with, since different
// interfaces in the same capture may carry different link types.
func (s *Session) tryParsePCAPNGBlock(buf []byte) (consumed int, frame *proto.Frame, linkType int, err error) {
	if len(buf) < ngBlockMinLen {
		return 0, nil, 0, ErrNeedMoreData
	}
	order := s.byteOrder()
	blockType := order.Uint32(buf[0:4])
	totalLen := order.Uint32(buf[4:8])
	if totalLen < ngBlockMinLen || totalLen%4 != 0 {
		return 0, nil, 0, errors.WithMessage(ErrFormatMismatch, "corrupt pcapng block length")
	}
	if len(buf) < int(totalLen) {
		return 0, nil, 0, ErrNeedMoreData
	}
	trailing := order.Uint32(buf[totalLen-4 : totalLen])
	if trailing != totalLen {
		return 0, nil, 0, errors.WithMessage(ErrFormatMismatch, "pcapng block length mismatch")
	}

	body := buf[8 : totalLen-4]

	switch blockType {
	case ngBlockSectionHeader:
		// A new section in a multi-section file. We don't re-derive byte
		// order here (sections may not change it in practice); just consume
		// the block as structural overhead.
		return int(totalLen), nil, 0, nil

	case ngBlockInterfaceDesc:
		if len(body) < 8 {
			return 0, nil, 0, errors.WithMessage(ErrFormatMismatch, "truncated interface description block")
		}
		lt := int(order.Uint16(body[0:2]))
		s.ngInterfaces = append(s.ngInterfaces, ngInterface{LinkType: lt})
		return int(totalLen), nil, 0, nil

	case ngBlockEnhancedPacket:
		if len(body) < 20 {
			return 0, nil, 0, errors.WithMessage(ErrFormatMismatch, "truncated enhanced packet block")
		}
		ifaceID := order.Uint32(body[0:4])
		tsHigh := order.Uint32(body[4:8])
		tsLow := order.Uint32(body[8:12])
		capturedLen := order.Uint32(body[12:16])
		packetLen := order.Uint32(body[16:20])
		if int(20+capturedLen) > len(body) {
			return 0, nil, 0, errors.WithMessage(ErrFormatMismatch, "enhanced packet block payload overruns block")
		}
		data := s.frameBuf.stage(body[20 : 20+capturedLen])

		fr := &proto.Frame{
			CapturedAt:  ngTimestamp(tsHigh, tsLow),
			OriginalLen: int(packetLen),
			Data:        data,
		}
		return int(totalLen), fr, s.linkTypeForInterface(int(ifaceID)), nil

	case ngBlockSimplePacket:
		if len(body) < 4 {
			return 0, nil, 0, errors.WithMessage(ErrFormatMismatch, "truncated simple packet block")
		}
		packetLen := order.Uint32(body[0:4])
		capturedLen := packetLen
		if int(4+capturedLen) > len(body) {
			capturedLen = uint32(len(body) - 4)
		}
		data := s.frameBuf.stage(body[4 : 4+capturedLen])

		fr := &proto.Frame{
			OriginalLen: int(packetLen),
			Data:        data,
		}
		// Simple Packet Blocks carry no interface id; they only appear in
		// single-interface sections, so interface 0 applies.
		return int(totalLen), fr, s.linkTypeForInterface(0), nil

	case ngBlockNameResolution, ngBlockInterfaceStats:
		// Neither produces a dissectable frame; consumed for cursor
		// advancement only.
		return int(totalLen), nil, 0, nil

	default:
		// Unknown/vendor block: skip it rather than fail the whole capture.
		return int(totalLen), nil, 0, nil
	}
}

func (s *Session) linkTypeForInterface(idx int) int {
	if idx >= 0 && idx < len(s.ngInterfaces) {
		return s.ngInterfaces[idx].LinkType
	}
	return 1 // default to Ethernet, matching proto.EntryForLinkType's own fallback
}

// ngTimestamp converts an Enhanced Packet Block's split 64-bit timestamp
// into a time.Time, assuming the default microsecond resolution (no
// if_tsresol option support, since nothing in this module consumes
// sub-microsecond precision).
func ngTimestamp(high, low uint32) time.Time {
	units := uint64(high)<<32 | uint64(low)
	return time.Unix(0, 0).Add(time.Duration(units) * time.Microsecond)
}
