package gid

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Tag prefixes for the stable, externally-visible IDs this module hands out
// to command-interface callers: a Connection, an HttpExchange, a
// TlsHandshakeInfo, and a DNSRecord all need an identity that survives
// re-paging a list view, which a bare slice index does not.
const (
	ConnectionTag = "cxn"
	MessageTag    = "msg"
	HandshakeTag  = "tls"
	DNSRecordTag  = "dns"
)

type tagToIDConstructor func(uuid.UUID) ID

var idConstructorMap = map[string]tagToIDConstructor{
	ConnectionTag: func(id uuid.UUID) ID { return NewConnectionID(id) },
	MessageTag:    func(id uuid.UUID) ID { return NewMessageID(id) },
	HandshakeTag:  func(id uuid.UUID) ID { return NewHandshakeID(id) },
	DNSRecordTag:  func(id uuid.UUID) ID { return NewDNSRecordID(id) },
}

func parseIDParts(str string) (string, uuid.UUID, error) {
	parts := strings.Split(str, "_")
	if len(parts) != 2 {
		return "", uuid.Nil, errors.New("invalid GID structure")
	}
	idPart, err := decodeUUID(parts[1])
	if err != nil {
		return "", uuid.Nil, errors.Wrap(err, "invalid unique id part of GID")
	}
	return parts[0], idPart, nil
}

// ParseID recovers a typed ID from its "tag_base62" text form.
func ParseID(str string) (ID, error) {
	tagName, uniquePart, err := parseIDParts(str)
	if err != nil {
		return nil, err
	}

	constructor := idConstructorMap[tagName]
	if constructor == nil {
		return nil, errors.Errorf("no known gid for tag %s", tagName)
	}

	return constructor(uniquePart), nil
}

// ParseIDAs parses str and assigns it into destID, which must be a pointer to
// the concrete ID type its tag implies.
func ParseIDAs(str string, destID interface{}) error {
	id, err := ParseID(str)
	if err != nil {
		return errors.Wrapf(err, "parse ID failed: %s", str)
	}
	return assignTo(id, destID)
}

// ConnectionID identifies one tracked TCP conversation,
// stable across the lifetime of an open capture regardless of how its
// position in a paged Connections() result shifts.
type ConnectionID struct {
	baseID
}

func (ConnectionID) GetType() string { return ConnectionTag }
func (id ConnectionID) String() string { return String(id) }
func NewConnectionID(id uuid.UUID) ConnectionID { return ConnectionID{baseID(id)} }
func GenerateConnectionID() ConnectionID { return NewConnectionID(uuid.New()) }
func (id ConnectionID) MarshalText() ([]byte, error) { return toText(id) }
func (id *ConnectionID) UnmarshalText(data []byte) error { return fromText(id, data) }

// MessageID identifies one paired HttpExchange.
type MessageID struct {
	baseID
}

func (MessageID) GetType() string { return MessageTag }
func (id MessageID) String() string { return String(id) }
func NewMessageID(id uuid.UUID) MessageID { return MessageID{baseID(id)} }
func GenerateMessageID() MessageID { return NewMessageID(uuid.New()) }
func (id MessageID) MarshalText() ([]byte, error) { return toText(id) }
func (id *MessageID) UnmarshalText(data []byte) error { return fromText(id, data) }

// HandshakeID identifies one recorded TlsHandshakeInfo.
type HandshakeID struct {
	baseID
}

func (HandshakeID) GetType() string { return HandshakeTag }
func (id HandshakeID) String() string { return String(id) }
func NewHandshakeID(id uuid.UUID) HandshakeID { return HandshakeID{baseID(id)} }
func GenerateHandshakeID() HandshakeID { return NewHandshakeID(uuid.New()) }
func (id HandshakeID) MarshalText() ([]byte, error) { return toText(id) }
func (id *HandshakeID) UnmarshalText(data []byte) error { return fromText(id, data) }

// DNSRecordID identifies one answer resource record in the aggregate's
// append-only DNS record list.
type DNSRecordID struct {
	baseID
}

func (DNSRecordID) GetType() string { return DNSRecordTag }
func (id DNSRecordID) String() string { return String(id) }
func NewDNSRecordID(id uuid.UUID) DNSRecordID { return DNSRecordID{baseID(id)} }
func GenerateDNSRecordID() DNSRecordID { return NewDNSRecordID(uuid.New()) }
func (id DNSRecordID) MarshalText() ([]byte, error) { return toText(id) }
func (id *DNSRecordID) UnmarshalText(data []byte) error { return fromText(id, data) }
