// Package proto implements the protocol registry and dispatch loop:
// a closed enumeration of link/network/transport/application
// protocols, one Decoder per protocol, and the loop that walks a frame's
// bytes down the stack it declares. Ethernet/IPv4/IPv6's protocol-number
// registries reuse gopacket/layers' constants purely as a name table; the
// byte-level decoding here is hand-rolled so every layer can emit a
// byte-accurate Field tree.
package proto

import (
	"time"

	"github.com/mel2oo/netshark/field"
)

// LayerRecord is one decoded protocol layer within a Frame: which protocol
// it was, the Field tree produced for it, and the summary text contributed
// to the frame's one-line rendering.
type LayerRecord struct {
	Protocol Protocol
	Fields   *field.Field
	Summary  string
	Props    map[string]string
}

// Frame is one capture record: the raw bytes captured off the wire, the
// layers dispatch decoded from them in order, and the bookkeeping the outer
// capture envelope's frame pipeline needs.
type Frame struct {
	Index       uint32
	CapturedAt  time.Time
	OriginalLen int
	Data        []byte
	Layers      []LayerRecord
	Summary     string
	Error       string
}

// AddLayer appends a decoded layer and keeps Summary as the one-line text
// of the last layer that had a non-empty one, so a frame's overall summary
// reflects its highest decoded protocol.
func (f *Frame) AddLayer(rec LayerRecord) {
	f.Layers = append(f.Layers, rec)
	if rec.Summary != "" {
		f.Summary = rec.Summary
	}
}

// HasProtocol reports whether any decoded layer matches p, used by the
// frames-by-protocol-filter query.
func (f *Frame) HasProtocol(p Protocol) bool {
	for _, l := range f.Layers {
		if l.Protocol == p {
			return true
		}
	}
	return false
}
