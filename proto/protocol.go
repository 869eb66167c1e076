package proto

// Protocol is the closed enumeration of layers the dispatch loop knows how
// to decode.
type Protocol int

const (
	None Protocol = iota
	Ethernet
	PPPoESession
	ARP
	IPv4
	IPv6
	ICMP
	ICMP6
	TCP
	UDP
	DNS
	DHCP
	HTTP
	TLS
	Error
)

func (p Protocol) String() string {
	switch p {
	case Ethernet:
		return "ethernet"
	case PPPoESession:
		return "pppoes"
	case ARP:
		return "arp"
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	case ICMP:
		return "icmp"
	case ICMP6:
		return "icmpv6"
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	case DNS:
		return "dns"
	case DHCP:
		return "dhcp"
	case HTTP:
		return "http"
	case TLS:
		return "tls"
	case Error:
		return "error"
	default:
		return "none"
	}
}

// Carry is the handful of fields one layer's decode needs to hand the next
// (addresses for IPv4/IPv6 to build a socket.Tuple at the transport layer).
// SrcPort/DstPort are never filled in: the TCP and UDP decoders read ports
// from their own headers and pass the incoming Carry on unchanged. The
// dispatch loop threads it through RunFrame explicitly rather than stashing
// it in side maps.
type Carry struct {
	SrcIP, DstIP     string
	SrcPort, DstPort uint16
}

// Decoder is implemented by every protocol registered in decoders. It
// consumes exactly the bytes belonging to its own layer from data, emits a
// LayerRecord, and reports which protocol should decode whatever bytes
// remain (None when this layer is terminal) along with an updated Carry.
type Decoder interface {
	Decode(e *Engine, fr *Frame, data []byte, in Carry) (rec LayerRecord, next Protocol, rest []byte, out Carry)
}
