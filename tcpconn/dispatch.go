package tcpconn

import (
	"time"

	"github.com/mel2oo/netshark/aggregate"
	"github.com/mel2oo/netshark/httpmsg"
	"github.com/mel2oo/netshark/tlsmsg"
)

// advanceApplication consumes as much of sender's
// reassembly buffer as the current application state allows, pairing TLS
// handshakes and HTTP exchanges into connKey's aggregate entries as
// messages complete. It is a loop rather than a single dispatch because one
// Feed of new bytes can complete several queued messages (e.g. several
// buffered chunked responses) at once.
func advanceApplication(agg *aggregate.Context, connKey string, sender *aggregate.Endpoint, frameIndex uint32, at time.Time) {
	for {
		switch sender.App.Kind {
		case aggregate.AppNone:
			if needed, ok := tlsmsg.DetectRecord(sender.ReassemblyBuffer); ok {
				sender.App = aggregate.AppState{Kind: aggregate.AppTLSWaiting, TLSNeeded: needed}
				continue
			}
			if _, ok := httpmsg.LooksLikeStart(sender.ReassemblyBuffer); ok {
				sender.App = aggregate.AppState{Kind: aggregate.AppHTTP, HTTPState: httpmsg.NewState()}
				continue
			}
			return

		case aggregate.AppTLSWaiting:
			if len(sender.ReassemblyBuffer) < sender.App.TLSNeeded {
				return
			}
			record := tlsmsg.ParseRecord(sender.ReassemblyBuffer[:sender.App.TLSNeeded])
			frags := shiftBuffer(sender, sender.App.TLSNeeded)
			handleTLSRecord(agg, connKey, sender, record, frags)
			sender.App = aggregate.AppState{}

		case aggregate.AppHTTP:
			consumed, msg, err := sender.App.HTTPState.Feed(sender.ReassemblyBuffer)
			if consumed > 0 {
				frags := shiftBuffer(sender, consumed)
				sender.App.Fragments = appendFragments(sender.App.Fragments, frags)
			}
			if err != nil {
				// Malformed framing; drop whatever is left and stop treating
				// this direction as HTTP rather than looping forever.
				sender.App = aggregate.AppState{}
				return
			}
			if msg == nil {
				return
			}
			handleHTTPMessage(agg, connKey, frameIndex, at, msg, sender.App.Fragments)
			sender.App.Fragments = nil
			if consumed == 0 {
				return
			}
		}
	}
}

// shiftBuffer drops the first n bytes of sender's reassembly buffer and the
// matching prefix of its pending_segments provenance list, returning which
// frames the dropped bytes came from.
func shiftBuffer(sender *aggregate.Endpoint, n int) []aggregate.Fragment {
	sender.ReassemblyBuffer = sender.ReassemblyBuffer[n:]
	var frags []aggregate.Fragment
	remaining := n
	i := 0
	for i < len(sender.PendingSegments) && remaining > 0 {
		seg := sender.PendingSegments[i]
		if seg.Size <= remaining {
			frags = append(frags, aggregate.Fragment{FrameIndex: seg.FrameIndex, Size: seg.Size})
			remaining -= seg.Size
			i++
			continue
		}
		frags = append(frags, aggregate.Fragment{FrameIndex: seg.FrameIndex, Size: remaining})
		sender.PendingSegments[i].Size -= remaining
		remaining = 0
	}
	sender.PendingSegments = sender.PendingSegments[i:]
	return frags
}

// appendFragments merges frags onto acc, coalescing when the same frame
// contributed two adjacent runs (one message consumed in several Feed
// calls out of a single segment's bytes).
func appendFragments(acc, frags []aggregate.Fragment) []aggregate.Fragment {
	for _, f := range frags {
		if n := len(acc); n > 0 && acc[n-1].FrameIndex == f.FrameIndex {
			acc[n-1].Size += f.Size
			continue
		}
		acc = append(acc, f)
	}
	return acc
}

func handleTLSRecord(agg *aggregate.Context, connKey string, sender *aggregate.Endpoint, record *tlsmsg.Record, frags []aggregate.Fragment) {
	if record.ClientHello != nil {
		sender.ClientHello = record.ClientHello
	}
	if record.ServerHello != nil {
		sender.ServerHello = record.ServerHello
	}
	if record.ClientHello != nil || record.ServerHello != nil || len(record.Certificates) > 0 {
		agg.RegisterTLSHandshake(connKey, sender.ClientHello, sender.ServerHello, record.Certificates, frags)
	}
}

func handleHTTPMessage(agg *aggregate.Context, connKey string, frameIndex uint32, at time.Time, msg *httpmsg.Message, frags []aggregate.Fragment) {
	if msg.IsRequest {
		agg.RegisterHTTPRequest(connKey, frameIndex, msg, at, frags)
		return
	}
	agg.RegisterHTTPResponse(connKey, frameIndex, msg, at, frags)
}
