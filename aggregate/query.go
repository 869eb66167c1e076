package aggregate

import (
	"sort"
	"strings"

	"github.com/mel2oo/netshark/optionals"
	"github.com/mel2oo/netshark/slices"
)

// Page is the {start, total, items} ranged result shape every list query
// returns.
type Page struct {
	Start int         `json:"start"`
	Total int         `json:"total"`
	Items interface{} `json:"items"`
}

func clampRange(total, start, limit int) (int, int) {
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + limit
	if limit <= 0 || end > total {
		end = total
	}
	return start, end
}

// OrderedConversations returns every tracked TCP conversation in
// first-seen order. Map iteration order would make paging and replay
// nondeterministic, so every consumer goes through this.
func (c *Context) OrderedConversations() []*Connection {
	conns := make([]*Connection, 0, len(c.Conversations))
	for _, conn := range c.Conversations {
		conns = append(conns, conn)
	}
	sort.Slice(conns, func(i, j int) bool {
		if conns[i].FirstFrame != conns[j].FirstFrame {
			return conns[i].FirstFrame < conns[j].FirstFrame
		}
		return conns[i].Key < conns[j].Key
	})
	return conns
}

// Connections lists tracked TCP conversations whose forward or reverse host
// contains substr (case-sensitive).
func (c *Context) Connections(substr string, start, limit int) Page {
	var matched []*Connection
	for _, conn := range c.OrderedConversations() {
		if substr == "" || strings.Contains(conn.Forward.Host, substr) || strings.Contains(conn.Reverse.Host, substr) {
			matched = append(matched, conn)
		}
	}
	s, e := clampRange(len(matched), start, limit)
	return Page{Start: s, Total: len(matched), Items: matched[s:e]}
}

// UDPConversations lists tracked UDP flows, filtered by a substring match
// against either endpoint and ordered by first-seen frame.
func (c *Context) UDPConversations(filter string, asc bool, start, limit int) Page {
	flows := make([]*UDPFlow, 0, len(c.UDPFlows))
	for _, f := range c.UDPFlows {
		if filter == "" || strings.Contains(f.Src.String(), filter) || strings.Contains(f.Dst.String(), filter) {
			flows = append(flows, f)
		}
	}
	sort.Slice(flows, func(i, j int) bool {
		if flows[i].FirstFrame != flows[j].FirstFrame {
			return flows[i].FirstFrame < flows[j].FirstFrame
		}
		return flows[i].Key < flows[j].Key
	})
	if !asc {
		flows = slices.Reverse(flows)
	}
	s, e := clampRange(len(flows), start, limit)
	return Page{Start: s, Total: len(flows), Items: flows[s:e]}
}

// HTTPExchangesByHostname lists completed HTTP exchanges whose Host header
// contains hostname, ordered by completion order.
func (c *Context) HTTPExchangesByHostname(hostname string, asc bool, start, limit int) Page {
	var matched []HttpExchange
	for _, ex := range c.HTTPExchanges {
		if hostname == "" || strings.Contains(ex.Hostname, hostname) {
			matched = append(matched, ex)
		}
	}
	if !asc {
		matched = slices.Reverse(matched)
	}
	s, e := clampRange(len(matched), start, limit)
	return Page{Start: s, Total: len(matched), Items: matched[s:e]}
}

// TLSItems lists recorded TLS handshakes.
func (c *Context) TLSItems(start, limit int) Page {
	s, e := clampRange(len(c.TLSHandshakes), start, limit)
	return Page{Start: s, Total: len(c.TLSHandshakes), Items: c.TLSHandshakes[s:e]}
}

// DNSRecordsList lists every DNS answer record observed, in capture order or
// reversed.
func (c *Context) DNSRecordsList(asc bool, start, limit int) Page {
	records := c.DNSRecords
	if !asc {
		records = slices.Reverse(records)
	}
	s, e := clampRange(len(records), start, limit)
	return Page{Start: s, Total: len(records), Items: records[s:e]}
}

// DNSRecordAt looks up a single answer record by its index in DNSRecords,
// as used by the single-record command view.
func (c *Context) DNSRecordAt(index int) optionals.Optional[DNSRecord] {
	if index < 0 || index >= len(c.DNSRecords) {
		return optionals.None[DNSRecord]()
	}
	return optionals.Some(c.DNSRecords[index])
}
