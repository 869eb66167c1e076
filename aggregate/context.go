// Package aggregate owns the engine's cross-frame derived state:
// the DNS name map, TCP/UDP conversation tables, HTTP exchanges, TLS
// handshakes and running statistics. Everything derived across frames
// lives here; per-frame state stays on the Frame itself.
package aggregate

import (
	"time"

	"github.com/mel2oo/netshark/gid"
	"github.com/mel2oo/netshark/httpmsg"
	"github.com/mel2oo/netshark/socket"
	"github.com/mel2oo/netshark/tlsmsg"
)

// PendingSegment records which frame contributed which byte range of a
// connection's reassembly buffer, so a caller can map a reassembled
// message's byte offset back to the frame that carried it.
type PendingSegment struct {
	FrameIndex uint32
	Size       int
}

// Fragment is one frame's contribution to a reassembled application
// message, recorded when the application dispatcher consumes bytes off the
// front of a reassembly buffer; concatenating every fragment's bytes
// reproduces the message.
type Fragment struct {
	FrameIndex uint32 `json:"frame_index"`
	Size       int    `json:"size"`
}

// AppKind says which application protocol, if any, a direction's ordered
// bytes are being fed to.
type AppKind int

const (
	AppNone AppKind = iota
	AppTLSWaiting
	AppHTTP
)

// AppState is the resumable state advance_application carries between
// segments for one direction of a connection.
type AppState struct {
	Kind       AppKind
	TLSNeeded  int
	HTTPState  *httpmsg.State
	PendingReq *httpmsg.Message

	// Fragments accumulates the per-frame provenance of bytes consumed for
	// the in-progress message across multiple segments/Feed calls.
	Fragments []Fragment
}

// Endpoint is one direction of a TCP connection: its sequence-number
// bookkeeping, its reassembly buffer and the frames that fed it, and
// whatever application-layer state is resuming across segments.
type Endpoint struct {
	Host string
	Port uint16

	HaveNextSeq     bool
	NextSeq         uint32
	LastAcceptedSeq uint32
	LastChecksum    uint16

	// InitialSeq is the raw sequence number of the first segment this
	// endpoint sent, valid whenever HaveNextSeq is true. Used to render
	// seq/ack numbers relative to stream start.
	InitialSeq uint32

	HaveInitialAck bool
	InitialAck     uint32
	LastAck        uint32

	Count           uint64
	Bytes           uint64
	Retransmissions uint64
	Invalid         uint64

	ReassemblyBuffer []byte
	PendingSegments  []PendingSegment

	App AppState

	ClientHello *tlsmsg.ClientHelloInfo
	ServerHello *tlsmsg.ServerHelloInfo
}

// Connection is a tracked TCP flow, keyed by socket.Tuple.CanonicalKey.
// Forward always holds the endpoint whose own address string sorts
// greater.
type Connection struct {
	ID      gid.ConnectionID
	Key     string
	Forward *Endpoint
	Reverse *Endpoint

	FirstFrame uint32
	LastFrame  uint32
	FirstSeen  time.Time
	LastSeen   time.Time
}

// UDPFlow groups UDP datagrams by direction without TCP's canonicalization:
// flows are keyed by the literal "(src)-(dst)" pairing observed.
type UDPFlow struct {
	Key        string
	Src, Dst   socket.Endpoint
	Packets    uint64
	Bytes      uint64
	FirstFrame uint32
	LastFrame  uint32
}

// DNSRecord is one answer resource record seen in a DNS response.
type DNSRecord struct {
	ID         gid.DNSRecordID
	FrameIndex uint32
	Name       string
	Type       string
	TTL        uint32
	Value      string
}

// HttpExchange pairs a request with its response on the same connection.
type HttpExchange struct {
	ID              gid.MessageID
	ConnectionKey   string
	RequestFrame    uint32
	ResponseFrame   uint32
	Method          string
	Path            string
	Hostname        string
	StatusCode      int
	ContentType     string
	RequestHeaders  map[string][]string
	ResponseHeaders map[string][]string
	RequestBody     []byte
	ResponseBody    []byte
	Latency         time.Duration

	RequestFragments  []Fragment
	ResponseFragments []Fragment
}

// TlsHandshakeInfo is the paired client/server view of a TLS handshake kept
// for the TLS conversation views.
type TlsHandshakeInfo struct {
	ID               gid.HandshakeID
	ConnectionKey    string
	ServerName       string
	NegotiatedCipher uint16
	NegotiatedALPN   string
	Versions         []uint16
	Certificates     []tlsmsg.CertSummary
	Fragments        []Fragment
}

// Statistics is the running per-capture counter set exposed through the
// Stat command.
type Statistics struct {
	Frames           uint64
	Bytes            uint64
	ProtocolCount    map[string]uint64
	IPClassCount     map[socket.IPClass]uint64
	HTTPMethods      map[string]uint64
	HTTPStatus       map[int]uint64
	HTTPContentTypes map[string]uint64
	HostPackets      map[string]uint64
}

func newStatistics() Statistics {
	return Statistics{
		ProtocolCount:    make(map[string]uint64),
		IPClassCount:     make(map[socket.IPClass]uint64),
		HTTPMethods:      make(map[string]uint64),
		HTTPStatus:       make(map[int]uint64),
		HTTPContentTypes: make(map[string]uint64),
		HostPackets:      make(map[string]uint64),
	}
}

// Context is the single aggregate instance an engine.Instance owns for the
// lifetime of one opened capture.
type Context struct {
	Conversations map[string]*Connection
	UDPFlows      map[string]*UDPFlow
	DNSRecords    []DNSRecord
	DNSMap        map[string]string
	HTTPExchanges []HttpExchange
	TLSHandshakes []TlsHandshakeInfo
	Stats         Statistics

	pendingRequests map[string]*pendingHTTP
}

type pendingHTTP struct {
	frame uint32
	msg   *httpmsg.Message
	at    time.Time
	frags []Fragment
}

// NewContext returns an empty aggregate ready to receive frames.
func NewContext() *Context {
	return &Context{
		Conversations:   make(map[string]*Connection),
		UDPFlows:        make(map[string]*UDPFlow),
		DNSMap:          make(map[string]string),
		Stats:           newStatistics(),
		pendingRequests: make(map[string]*pendingHTTP),
	}
}

// IncProtocol records one frame's worth of statistics for a protocol layer
// name, as the dispatch loop in package proto walks down the stack.
func (c *Context) IncProtocol(name string) {
	c.Stats.ProtocolCount[name]++
}

// IncIPClass records one address sighting in its class counter.
func (c *Context) IncIPClass(class socket.IPClass) {
	c.Stats.IPClassCount[class]++
}

// IncHost records one packet against a host's counter, translating an IP
// into its DNS name when an earlier answer resolved it.
func (c *Context) IncHost(host string) {
	if name, ok := c.DNSMap[host]; ok {
		host = name
	}
	c.Stats.HostPackets[host]++
}

// ObserveFrame updates the capture-wide frame/byte counters.
func (c *Context) ObserveFrame(size int) {
	c.Stats.Frames++
	c.Stats.Bytes += uint64(size)
}

// GetOrCreateConnection returns the Connection for tuple, creating it (with
// its two endpoints ordered by their address strings) on first sight, along with the
// sender/receiver endpoints for this particular segment and whether this
// tuple's source was the connection's forward endpoint.
func (c *Context) GetOrCreateConnection(tuple socket.Tuple, frameIndex uint32, at time.Time) (conn *Connection, sender, receiver *Endpoint, reversed bool) {
	key, reversed := tuple.CanonicalKey()
	conn, ok := c.Conversations[key]
	if !ok {
		var fwdHost string
		var fwdPort uint16
		var revHost string
		var revPort uint16
		if reversed {
			fwdHost, fwdPort = tuple.Src.Host, tuple.Src.Port
			revHost, revPort = tuple.Dst.Host, tuple.Dst.Port
		} else {
			fwdHost, fwdPort = tuple.Dst.Host, tuple.Dst.Port
			revHost, revPort = tuple.Src.Host, tuple.Src.Port
		}
		conn = &Connection{
			ID:         gid.GenerateConnectionID(),
			Key:        key,
			Forward:    &Endpoint{Host: fwdHost, Port: fwdPort},
			Reverse:    &Endpoint{Host: revHost, Port: revPort},
			FirstFrame: frameIndex,
			FirstSeen:  at,
		}
		c.Conversations[key] = conn
	}
	conn.LastFrame = frameIndex
	conn.LastSeen = at

	if reversed {
		sender, receiver = conn.Forward, conn.Reverse
	} else {
		sender, receiver = conn.Reverse, conn.Forward
	}
	return conn, sender, receiver, reversed
}

// GetOrCreateUDPFlow groups a UDP datagram into its flow by the literal
// (non-canonicalized) src-dst pairing.
func (c *Context) GetOrCreateUDPFlow(tuple socket.Tuple, frameIndex uint32, size int) *UDPFlow {
	key := tuple.Src.String() + "-" + tuple.Dst.String()
	flow, ok := c.UDPFlows[key]
	if !ok {
		flow = &UDPFlow{Key: key, Src: tuple.Src, Dst: tuple.Dst, FirstFrame: frameIndex}
		c.UDPFlows[key] = flow
	}
	flow.Packets++
	flow.Bytes += uint64(size)
	flow.LastFrame = frameIndex
	return flow
}

// RegisterDNSAnswer appends one answer record and refreshes the name map
// used to label later IPs in conversation summaries.
func (c *Context) RegisterDNSAnswer(frameIndex uint32, name, rtype, value string, ttl uint32) {
	c.DNSRecords = append(c.DNSRecords, DNSRecord{
		ID:         gid.GenerateDNSRecordID(),
		FrameIndex: frameIndex,
		Name:       name,
		Type:       rtype,
		TTL:        ttl,
		Value:      value,
	})
	if rtype == "A" || rtype == "AAAA" {
		c.DNSMap[value] = name
	}
}

// RegisterHTTPRequest stashes an in-flight request until its response
// arrives on the same connection, keyed the same way TCP connections are.
func (c *Context) RegisterHTTPRequest(connKey string, frameIndex uint32, msg *httpmsg.Message, at time.Time, frags []Fragment) {
	c.pendingRequests[connKey] = &pendingHTTP{frame: frameIndex, msg: msg, at: at, frags: frags}
}

// RegisterHTTPResponse pairs msg with whatever request is pending on
// connKey (at most one is in flight; pipelined requests replace it)
// and appends the completed exchange.
func (c *Context) RegisterHTTPResponse(connKey string, frameIndex uint32, msg *httpmsg.Message, at time.Time, frags []Fragment) {
	pending, ok := c.pendingRequests[connKey]
	exchange := HttpExchange{
		ID:                gid.GenerateMessageID(),
		ConnectionKey:     connKey,
		ResponseFrame:     frameIndex,
		StatusCode:        msg.StatusCode,
		ContentType:       msg.ContentType,
		ResponseHeaders:   msg.Headers,
		ResponseBody:      msg.Body,
		ResponseFragments: frags,
	}
	if ok {
		exchange.RequestFrame = pending.frame
		exchange.Method = pending.msg.Method
		exchange.Path = pending.msg.Path
		exchange.Hostname = pending.msg.Hostname
		exchange.RequestHeaders = pending.msg.Headers
		exchange.RequestBody = pending.msg.Body
		exchange.RequestFragments = pending.frags
		exchange.Latency = at.Sub(pending.at)
		delete(c.pendingRequests, connKey)
	}
	c.HTTPExchanges = append(c.HTTPExchanges, exchange)
	c.Stats.HTTPMethods[exchange.Method]++
	c.Stats.HTTPStatus[exchange.StatusCode]++
	if exchange.ContentType != "" {
		c.Stats.HTTPContentTypes[exchange.ContentType]++
	}
	if exchange.Hostname != "" {
		c.Stats.HostPackets[exchange.Hostname]++
	}
}

// RegisterTLSHandshake records a paired (or partial) handshake view once an
// Endpoint has seen enough of the exchange to be worth reporting.
func (c *Context) RegisterTLSHandshake(connKey string, client *tlsmsg.ClientHelloInfo, server *tlsmsg.ServerHelloInfo, certs []tlsmsg.CertSummary, frags []Fragment) {
	info := TlsHandshakeInfo{ID: gid.GenerateHandshakeID(), ConnectionKey: connKey, Certificates: certs, Fragments: frags}
	if client != nil {
		info.ServerName = client.ServerName
		info.Versions = client.Versions
	}
	if server != nil {
		info.NegotiatedCipher = server.Cipher
		info.NegotiatedALPN = server.ALPN
	}
	c.TLSHandshakes = append(c.TLSHandshakes, info)
}
