package capture

import (
	"time"

	"github.com/mel2oo/netshark/proto"
)

const pcapRecordHeaderLen = 16

// tryParsePCAPRecord decodes one classic-pcap packet record from the front
// of buf. It returns ErrNeedMoreData (consuming nothing) rather than an
// error when buf doesn't yet hold a complete record, so Append can simply
// wait for the next chunk.
func (s *Session) tryParsePCAPRecord(buf []byte) (consumed int, frame *proto.Frame, err error) {
	if len(buf) < pcapRecordHeaderLen {
		return 0, nil, ErrNeedMoreData
	}
	order := s.byteOrder()
	tsSec := order.Uint32(buf[0:4])
	tsSub := order.Uint32(buf[4:8])
	inclLen := order.Uint32(buf[8:12])
	origLen := order.Uint32(buf[12:16])

	total := pcapRecordHeaderLen + int(inclLen)
	if len(buf) < total {
		return 0, nil, ErrNeedMoreData
	}

	ts := time.Unix(int64(tsSec), 0)
	if s.nanoSec {
		ts = ts.Add(time.Duration(tsSub))
	} else {
		ts = ts.Add(time.Duration(tsSub) * time.Microsecond)
	}

	data := s.frameBuf.stage(buf[pcapRecordHeaderLen:total])

	fr := &proto.Frame{
		CapturedAt:  ts,
		OriginalLen: int(origLen),
		Data:        data,
	}
	return total, fr, nil
}
