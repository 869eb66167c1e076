package engine

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mel2oo/netshark/aggregate"
	"github.com/mel2oo/netshark/capture"
	"github.com/mel2oo/netshark/field"
	"github.com/mel2oo/netshark/proto"
	"github.com/mel2oo/netshark/sets"
)

// FileInfo summarizes an opened capture for the presentation layer.
type FileInfo struct {
	Path     string `json:"path"`
	Format   string `json:"format"`
	LinkType int    `json:"link_type"`
	Frames   int    `json:"frames"`
}

func fileInfo(path string, sess *capture.Session) FileInfo {
	format := "pcap"
	if sess.Format == capture.FormatPCAPNG {
		format = "pcapng"
	}
	return FileInfo{Path: path, Format: format, LinkType: sess.LinkType, Frames: len(sess.Frames)}
}

// FrameInfo is one row of the frame list view.
type FrameInfo struct {
	Index       uint32    `json:"index"`
	CapturedAt  time.Time `json:"captured_at"`
	CapturedLen int       `json:"captured_len"`
	OriginalLen int       `json:"original_len"`
	Protocols   []string  `json:"protocols"`
	Summary     string    `json:"summary"`
}

// FrameDetail is the full per-frame drill-down: every layer's field tree,
// the raw bytes, and the byte range the frame occupies.
type FrameDetail struct {
	Index  uint32      `json:"index"`
	Layers []LayerView `json:"layers"`
	Raw    []byte      `json:"raw"`
	Start  int         `json:"start"`
	Size   int         `json:"size"`

	// Extra carries reassembled application bytes associated with this
	// frame (HTTP bodies whose fragments include it), which the raw frame
	// bytes alone cannot show.
	Extra []byte `json:"extra,omitempty"`
}

// LayerView is one decoded layer in a FrameDetail.
type LayerView struct {
	Protocol string            `json:"protocol"`
	Summary  string            `json:"summary"`
	Fields   *field.Field      `json:"fields,omitempty"`
	Props    map[string]string `json:"props,omitempty"`
}

// ConnectionView is one endpoint's stats row in the Connections command.
type ConnectionView struct {
	Host            string `json:"host"`
	Port            uint16 `json:"port"`
	Packets         uint64 `json:"packets"`
	Bytes           uint64 `json:"bytes"`
	Retransmissions uint64 `json:"retransmissions"`
	Invalid         uint64 `json:"invalid"`
	BufferedBytes   int    `json:"buffered_bytes"`
}

// HttpMessageDetail is one half of an exchange in the HttpDetail command.
type HttpMessageDetail struct {
	IsRequest bool                 `json:"is_request"`
	Headers   map[string][]string  `json:"headers"`
	Body      []byte               `json:"body"`
	Fragments []aggregate.Fragment `json:"fragments,omitempty"`
}

// parseFilter lowercases and splits an AND-joined protocol filter into a
// token set; duplicate tokens collapse.
func parseFilter(filter string) sets.Set[string] {
	return sets.NewSet(strings.Fields(strings.ToLower(filter))...)
}

// frameMatches reports whether every filter token names a layer the frame
// decoded.
func frameMatches(fr *proto.Frame, tokens sets.Set[string]) bool {
	if tokens.IsEmpty() {
		return true
	}
	decoded := sets.NewSet[string]()
	for _, l := range fr.Layers {
		decoded.Insert(l.Protocol.String())
	}
	for tok := range tokens {
		if !decoded.Contains(tok) {
			return false
		}
	}
	return true
}

func frameInfo(fr *proto.Frame) FrameInfo {
	protocols := make([]string, 0, len(fr.Layers))
	for _, l := range fr.Layers {
		protocols = append(protocols, l.Protocol.String())
	}
	return FrameInfo{
		Index:       fr.Index,
		CapturedAt:  fr.CapturedAt,
		CapturedLen: len(fr.Data),
		OriginalLen: fr.OriginalLen,
		Protocols:   protocols,
		Summary:     fr.Summary,
	}
}

// Frames lists parsed frames, paged, with an AND-joined protocol filter
// ("tcp tls" keeps only frames carrying both layers).
func (i *Instance) Frames(start, size int, filter string) (aggregate.Page, error) {
	var page aggregate.Page
	err := i.query(func(sess *capture.Session) {
		tokens := parseFilter(filter)
		var matched []FrameInfo
		for _, fr := range sess.Frames {
			if frameMatches(fr, tokens) {
				matched = append(matched, frameInfo(fr))
			}
		}
		page = pageOf(len(matched), start, size, func(s, e int) interface{} { return matched[s:e] })
	})
	return page, err
}

// FrameDetail returns the full decode of one frame.
func (i *Instance) FrameDetail(index uint32) (FrameDetail, error) {
	var detail FrameDetail
	var found bool
	err := i.query(func(sess *capture.Session) {
		if int(index) >= len(sess.Frames) {
			return
		}
		fr := sess.Frames[int(index)]
		found = true
		detail = FrameDetail{Index: fr.Index, Raw: fr.Data, Start: 0, Size: len(fr.Data)}
		for _, l := range fr.Layers {
			detail.Layers = append(detail.Layers, LayerView{
				Protocol: l.Protocol.String(),
				Summary:  l.Summary,
				Fields:   l.Fields,
				Props:    l.Props,
			})
		}
		detail.Extra = extraDecodedBytes(sess.Agg, fr.Index)
	})
	if err != nil {
		return FrameDetail{}, err
	}
	if !found {
		return FrameDetail{}, errors.Errorf("engine: no frame %d", index)
	}
	return detail, nil
}

// extraDecodedBytes gathers reassembled HTTP body bytes from exchanges
// whose fragments include this frame.
func extraDecodedBytes(agg *aggregate.Context, frameIndex uint32) []byte {
	var extra []byte
	for _, ex := range agg.HTTPExchanges {
		for _, f := range ex.RequestFragments {
			if f.FrameIndex == frameIndex {
				extra = append(extra, ex.RequestBody...)
				break
			}
		}
		for _, f := range ex.ResponseFragments {
			if f.FrameIndex == frameIndex {
				extra = append(extra, ex.ResponseBody...)
				break
			}
		}
	}
	return extra
}

// Conversations lists TCP conversations matching an IP substring filter.
func (i *Instance) Conversations(filter string, start, size int) (aggregate.Page, error) {
	var page aggregate.Page
	err := i.query(func(sess *capture.Session) {
		page = sess.Agg.Connections(filter, start, size)
	})
	return page, err
}

// Connections returns both endpoints' stats for the conversation at
// conversationIndex (first-seen order).
func (i *Instance) Connections(conversationIndex, start, size int) (aggregate.Page, error) {
	var page aggregate.Page
	var qErr error
	err := i.query(func(sess *capture.Session) {
		conns := sess.Agg.OrderedConversations()
		if conversationIndex < 0 || conversationIndex >= len(conns) {
			qErr = errors.Errorf("engine: no conversation %d", conversationIndex)
			return
		}
		conn := conns[conversationIndex]
		views := []ConnectionView{endpointView(conn.Forward), endpointView(conn.Reverse)}
		page = pageOf(len(views), start, size, func(s, e int) interface{} { return views[s:e] })
	})
	if err != nil {
		return aggregate.Page{}, err
	}
	return page, qErr
}

func endpointView(ep *aggregate.Endpoint) ConnectionView {
	return ConnectionView{
		Host:            ep.Host,
		Port:            ep.Port,
		Packets:         ep.Count,
		Bytes:           ep.Bytes,
		Retransmissions: ep.Retransmissions,
		Invalid:         ep.Invalid,
		BufferedBytes:   len(ep.ReassemblyBuffer),
	}
}

// UdpConversations lists UDP flows.
func (i *Instance) UdpConversations(filter string, asc bool, start, size int) (aggregate.Page, error) {
	var page aggregate.Page
	err := i.query(func(sess *capture.Session) {
		page = sess.Agg.UDPConversations(filter, asc, start, size)
	})
	return page, err
}

// TlsConversations lists the conversations that produced TLS handshakes.
func (i *Instance) TlsConversations(start, size int) (aggregate.Page, error) {
	var page aggregate.Page
	err := i.query(func(sess *capture.Session) {
		seen := make(map[string]bool)
		var keys []string
		for _, hs := range sess.Agg.TLSHandshakes {
			if !seen[hs.ConnectionKey] {
				seen[hs.ConnectionKey] = true
				keys = append(keys, hs.ConnectionKey)
			}
		}
		page = pageOf(len(keys), start, size, func(s, e int) interface{} { return keys[s:e] })
	})
	return page, err
}

// TlsItems lists the handshake items recorded for the TLS conversation at
// index (ordering matches TlsConversations).
func (i *Instance) TlsItems(index, start, size int) (aggregate.Page, error) {
	var page aggregate.Page
	var qErr error
	err := i.query(func(sess *capture.Session) {
		seen := make(map[string]bool)
		var keys []string
		for _, hs := range sess.Agg.TLSHandshakes {
			if !seen[hs.ConnectionKey] {
				seen[hs.ConnectionKey] = true
				keys = append(keys, hs.ConnectionKey)
			}
		}
		if index < 0 || index >= len(keys) {
			qErr = errors.Errorf("engine: no TLS conversation %d", index)
			return
		}
		key := keys[index]
		var items []aggregate.TlsHandshakeInfo
		for _, hs := range sess.Agg.TLSHandshakes {
			if hs.ConnectionKey == key {
				items = append(items, hs)
			}
		}
		page = pageOf(len(items), start, size, func(s, e int) interface{} { return items[s:e] })
	})
	if err != nil {
		return aggregate.Page{}, err
	}
	return page, qErr
}

// HttpConnections lists completed HTTP exchanges filtered by hostname.
func (i *Instance) HttpConnections(filter string, asc bool, start, size int) (aggregate.Page, error) {
	var page aggregate.Page
	err := i.query(func(sess *capture.Session) {
		page = sess.Agg.HTTPExchangesByHostname(filter, asc, start, size)
	})
	return page, err
}

// HttpDetail returns both halves of the exchange at index.
func (i *Instance) HttpDetail(index int) ([]HttpMessageDetail, error) {
	var details []HttpMessageDetail
	var qErr error
	err := i.query(func(sess *capture.Session) {
		if index < 0 || index >= len(sess.Agg.HTTPExchanges) {
			qErr = errors.Errorf("engine: no HTTP exchange %d", index)
			return
		}
		ex := sess.Agg.HTTPExchanges[index]
		details = []HttpMessageDetail{
			{IsRequest: true, Headers: ex.RequestHeaders, Body: ex.RequestBody, Fragments: ex.RequestFragments},
			{IsRequest: false, Headers: ex.ResponseHeaders, Body: ex.ResponseBody, Fragments: ex.ResponseFragments},
		}
	})
	if err != nil {
		return nil, err
	}
	return details, qErr
}

// DnsRecords lists DNS answers in capture (or reverse) order.
func (i *Instance) DnsRecords(asc bool, start, size int) (aggregate.Page, error) {
	var page aggregate.Page
	err := i.query(func(sess *capture.Session) {
		page = sess.Agg.DNSRecordsList(asc, start, size)
	})
	return page, err
}

// DnsRecord returns a single DNS answer by index.
func (i *Instance) DnsRecord(index int) (aggregate.DNSRecord, error) {
	var rec aggregate.DNSRecord
	var qErr error
	err := i.query(func(sess *capture.Session) {
		var ok bool
		rec, ok = sess.Agg.DNSRecordAt(index).Get()
		if !ok {
			qErr = errors.Errorf("engine: no DNS record %d", index)
		}
	})
	if err != nil {
		return aggregate.DNSRecord{}, err
	}
	return rec, qErr
}

// Stat kinds accepted by the Stat command.
const (
	StatProtocol = "protocol"
	StatIPClass  = "ip_class"
	StatHTTP     = "http"
	StatHost     = "host"
)

// Stat renders one counter bundle as JSON.
func (i *Instance) Stat(kind string) (json.RawMessage, error) {
	var raw json.RawMessage
	var qErr error
	err := i.query(func(sess *capture.Session) {
		stats := sess.Agg.Stats
		var v interface{}
		switch kind {
		case StatProtocol:
			v = stats.ProtocolCount
		case StatIPClass:
			v = stats.IPClassCount
		case StatHTTP:
			v = map[string]interface{}{
				"methods":       stats.HTTPMethods,
				"status":        stats.HTTPStatus,
				"content_types": stats.HTTPContentTypes,
			}
		case StatHost:
			v = stats.HostPackets
		default:
			v = map[string]interface{}{
				"frames": stats.Frames,
				"bytes":  stats.Bytes,
			}
		}
		raw, qErr = json.Marshal(v)
	})
	if err != nil {
		return nil, err
	}
	return raw, qErr
}

// pageOf clamps a range and slices through the given cut function, the
// same {start, total, items} shape package aggregate's own queries use.
func pageOf(total, start, size int, cut func(s, e int) interface{}) aggregate.Page {
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + size
	if size <= 0 || end > total {
		end = total
	}
	return aggregate.Page{Start: start, Total: total, Items: cut(start, end)}
}
