// Package tcpconn implements TCP sequence tracking, per-segment
// classification, and the per-direction application dispatcher that feeds
// reassembled bytes to the TLS and HTTP framers. It operates directly on the Connection/Endpoint types owned by
// package aggregate rather than defining its own parallel state, so the
// aggregate context and the tracker never disagree about what a connection
// looks like.
package tcpconn

import "github.com/mel2oo/netshark/aggregate"

// Classification is the per-segment verdict produced by Classify.
type Classification int

const (
	ClassNext Classification = iota
	ClassKeepAlive
	ClassRetransmission
	ClassDump
	ClassNoPrevCapture
	ClassReset
)

func (c Classification) String() string {
	switch c {
	case ClassNext:
		return "NEXT"
	case ClassKeepAlive:
		return "KEEPALIVE"
	case ClassRetransmission:
		return "RETRANSMISSION"
	case ClassDump:
		return "DUMP"
	case ClassNoPrevCapture:
		return "NO_PREV_CAPTURE"
	case ClassReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// Flags is the subset of TCP header flags the classifier inspects.
type Flags struct {
	SYN, ACK, FIN, RST, PSH, URG bool
}

// Segment is one incoming TCP segment, already demultiplexed to a single
// canonical connection and direction by the caller.
type Segment struct {
	Seq, Ack uint32
	Flags    Flags
	Checksum uint16
	Payload  []byte
}

// effectiveLen is how far a segment advances the sequence space: SYN and
// FIN each occupy one sequence number regardless of any (unusual) payload
// carried alongside them.
func effectiveLen(seg Segment) int {
	if seg.Flags.SYN || seg.Flags.FIN {
		return 1
	}
	return len(seg.Payload)
}

// Classify runs the per-segment state machine for a single direction.
// It both classifies the segment and advances S's sequence bookkeeping;
// buffer management (what happens to the payload bytes) is the caller's
// responsibility, driven by the returned Classification.
func Classify(s *aggregate.Endpoint, seg Segment) Classification {
	// A zero-payload segment sitting exactly at next_seq is a pure ack
	// echo: nothing to buffer, nothing advances. This outranks the RST
	// check so an in-sequence ACK-then-RST pair carrying no new bytes
	// does not wipe reassembly state that was never invalidated.
	if s.HaveNextSeq && seg.Seq == s.NextSeq && len(seg.Payload) == 0 {
		return ClassNext
	}

	if seg.Flags.RST {
		return ClassReset
	}

	eLen := effectiveLen(seg)

	if !s.HaveNextSeq {
		s.HaveNextSeq = true
		s.InitialSeq = seg.Seq
		s.NextSeq = seg.Seq + uint32(eLen)
		s.LastAcceptedSeq = s.NextSeq
		s.LastChecksum = seg.Checksum
		return ClassNext
	}

	if seg.Seq == s.NextSeq {
		s.NextSeq += uint32(eLen)
		s.LastAcceptedSeq = s.NextSeq
		s.LastChecksum = seg.Checksum
		return ClassNext
	}

	if seq32After(seg.Seq, s.NextSeq) {
		// Capture gap. LastAcceptedSeq deliberately keeps its pre-gap value
		// so a late retransmission of the last accepted segment is still
		// recognized as one.
		s.NextSeq = seg.Seq + uint32(eLen)
		return ClassNoPrevCapture
	}

	// seg.Seq is at or before s.NextSeq-1: either a keepalive probe, a
	// retransmission of already-accepted bytes, or unexplained trailing
	// noise.
	if seg.Seq == s.NextSeq-1 && (eLen == 0 || eLen == 1) && seg.Flags.ACK {
		return ClassKeepAlive
	}
	if seg.Seq+uint32(eLen) == s.LastAcceptedSeq {
		return ClassRetransmission
	}
	return ClassDump
}

// seq32After reports whether a comes strictly after b in TCP's 32-bit
// wraparound sequence space (modular arithmetic, not a plain >).
func seq32After(a, b uint32) bool {
	return int32(a-b) > 0
}

// ResetBuffers clears an endpoint's reassembly state, used on RST and on
// NO_PREV_CAPTURE (a capture gap invalidates whatever was pending,
// since there is no way to know what, if anything, was missed inside it).
func ResetBuffers(s *aggregate.Endpoint) {
	s.ReassemblyBuffer = nil
	s.PendingSegments = nil
	s.App = aggregate.AppState{}
}

// ConfirmAck records the first
// observed ack as R's initial_ack and keeps last_ack current thereafter.
func ConfirmAck(r *aggregate.Endpoint, ack uint32) {
	if !r.HaveInitialAck {
		r.HaveInitialAck = true
		r.InitialAck = ack
	}
	r.LastAck = ack
}
