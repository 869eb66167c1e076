package tcpconn

import (
	"time"

	"github.com/mel2oo/netshark/aggregate"
	"github.com/mel2oo/netshark/socket"
)

// Tracker is the single stateful object the frame pipeline hands every TCP
// segment to; it owns no state of its own beyond a reference to the
// aggregate context that actually stores connections.
type Tracker struct {
	agg *aggregate.Context
}

// NewTracker returns a tracker that records into agg.
func NewTracker(agg *aggregate.Context) *Tracker {
	return &Tracker{agg: agg}
}

// Observation carries Observe's result: the classification, the
// connection's canonical key, and seq/ack rendered relative to each
// direction's initial sequence number, for display purposes only -
// RelSeq/RelAck fall back to the raw value when the relevant direction's
// initial sequence number isn't known yet.
type Observation struct {
	Class   Classification
	ConnKey string
	RelSeq  uint32
	RelAck  uint32
}

// Observe processes one TCP segment: it classifies it, updates the sender
// endpoint's sequence state and statistics, drives the reassembly buffer,
// and (for NEXT segments) runs the application dispatcher. It
// returns the classification and the connection's canonical key, both of
// which the frame pipeline attaches to the frame's TCP layer field tree.
func (t *Tracker) Observe(tuple socket.Tuple, frameIndex uint32, at time.Time, seg Segment) Observation {
	conn, sender, receiver, _ := t.agg.GetOrCreateConnection(tuple, frameIndex, at)
	ConfirmAck(receiver, seg.Ack)

	class := Classify(sender, seg)

	sender.Count++
	sender.Bytes += uint64(len(seg.Payload))
	switch class {
	case ClassRetransmission:
		sender.Retransmissions++
	case ClassDump, ClassNoPrevCapture:
		sender.Invalid++
	}

	switch class {
	case ClassReset, ClassNoPrevCapture:
		ResetBuffers(sender)
	case ClassNext:
		if len(seg.Payload) > 0 {
			sender.ReassemblyBuffer = append(sender.ReassemblyBuffer, seg.Payload...)
			sender.PendingSegments = append(sender.PendingSegments, aggregate.PendingSegment{
				FrameIndex: frameIndex,
				Size:       len(seg.Payload),
			})
		}
		advanceApplication(t.agg, conn.Key, sender, frameIndex, at)
	case ClassKeepAlive:
		// No bytes to add; nothing for the dispatcher to do either.
	}

	obs := Observation{Class: class, ConnKey: conn.Key, RelSeq: seg.Seq, RelAck: seg.Ack}
	if sender.HaveNextSeq {
		obs.RelSeq = seg.Seq - sender.InitialSeq
	}
	if receiver.HaveNextSeq {
		obs.RelAck = seg.Ack - receiver.InitialSeq
	}
	return obs
}
