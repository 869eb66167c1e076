package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mel2oo/netshark/socket"
)

func tupleFor(srcHost string, srcPort uint16, dstHost string, dstPort uint16) socket.Tuple {
	return socket.Tuple{
		Src: socket.Endpoint{Host: srcHost, Port: srcPort},
		Dst: socket.Endpoint{Host: dstHost, Port: dstPort},
	}
}

func TestGetOrCreateConnectionFoldsDirections(t *testing.T) {
	c := NewContext()
	at := time.Now()

	tup := tupleFor("10.0.0.2", 50000, "10.0.0.1", 443)
	conn1, sender1, receiver1, _ := c.GetOrCreateConnection(tup, 0, at)
	conn2, sender2, receiver2, _ := c.GetOrCreateConnection(tup.Mirror(), 1, at)

	assert.Same(t, conn1, conn2)
	assert.Same(t, sender1, receiver2)
	assert.Same(t, receiver1, sender2)
	assert.Len(t, c.Conversations, 1)

	// Forward is always the lexicographically greater endpoint.
	assert.Equal(t, "10.0.0.2", conn1.Forward.Host)
	assert.Equal(t, uint16(50000), conn1.Forward.Port)
}

func TestOrderedConversationsStable(t *testing.T) {
	c := NewContext()
	at := time.Now()
	c.GetOrCreateConnection(tupleFor("10.0.0.9", 1, "10.0.0.1", 80), 5, at)
	c.GetOrCreateConnection(tupleFor("10.0.0.8", 1, "10.0.0.1", 80), 2, at)
	c.GetOrCreateConnection(tupleFor("10.0.0.7", 1, "10.0.0.1", 80), 9, at)

	conns := c.OrderedConversations()
	assert.Equal(t, uint32(2), conns[0].FirstFrame)
	assert.Equal(t, uint32(5), conns[1].FirstFrame)
	assert.Equal(t, uint32(9), conns[2].FirstFrame)
}

func TestConnectionsFilterAndPaging(t *testing.T) {
	c := NewContext()
	at := time.Now()
	c.GetOrCreateConnection(tupleFor("10.0.0.2", 1, "192.168.5.5", 80), 0, at)
	c.GetOrCreateConnection(tupleFor("10.0.0.3", 1, "172.16.0.9", 80), 1, at)

	page := c.Connections("192.168", 0, 10)
	assert.Equal(t, 1, page.Total)

	page = c.Connections("", 1, 10)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.Start)
	assert.Len(t, page.Items.([]*Connection), 1)

	// Out-of-range start clamps to an empty tail, not a panic.
	page = c.Connections("", 99, 10)
	assert.Len(t, page.Items.([]*Connection), 0)
}

func TestDNSRecordsListOrdering(t *testing.T) {
	c := NewContext()
	c.RegisterDNSAnswer(0, "a.example.com", "A", "1.1.1.1", 60)
	c.RegisterDNSAnswer(1, "b.example.com", "A", "2.2.2.2", 60)

	asc := c.DNSRecordsList(true, 0, 10).Items.([]DNSRecord)
	assert.Equal(t, "a.example.com", asc[0].Name)

	desc := c.DNSRecordsList(false, 0, 10).Items.([]DNSRecord)
	assert.Equal(t, "b.example.com", desc[0].Name)

	// The name map only tracks address records.
	assert.Equal(t, "a.example.com", c.DNSMap["1.1.1.1"])
	c.RegisterDNSAnswer(2, "c.example.com", "CNAME", "target.example.com", 60)
	_, ok := c.DNSMap["target.example.com"]
	assert.False(t, ok)
}

func TestIncHostResolvesThroughDNSMap(t *testing.T) {
	c := NewContext()
	c.RegisterDNSAnswer(0, "www.example.com", "A", "93.184.216.34", 300)

	c.IncHost("93.184.216.34")
	c.IncHost("8.8.8.8")
	assert.Equal(t, uint64(1), c.Stats.HostPackets["www.example.com"])
	assert.Equal(t, uint64(1), c.Stats.HostPackets["8.8.8.8"])
}

func TestUDPFlowGrouping(t *testing.T) {
	c := NewContext()
	tup := tupleFor("10.0.0.2", 5353, "224.0.0.251", 5353)
	c.GetOrCreateUDPFlow(tup, 0, 100)
	c.GetOrCreateUDPFlow(tup, 1, 50)
	// UDP flows are direction-literal: the mirror is a separate flow.
	c.GetOrCreateUDPFlow(tup.Mirror(), 2, 10)

	assert.Len(t, c.UDPFlows, 2)
	flow := c.UDPFlows["10.0.0.2:5353-224.0.0.251:5353"]
	if assert.NotNil(t, flow) {
		assert.Equal(t, uint64(2), flow.Packets)
		assert.Equal(t, uint64(150), flow.Bytes)
	}
}
