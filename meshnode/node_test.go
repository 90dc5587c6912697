package meshnode

import (
	"testing"

	"github.com/MythicalCow/lifelink/meshtypes"
	"github.com/stretchr/testify/assert"
)

func TestAnchorHasFullConfidence(t *testing.T) {
	n := NewNode(1, 10, 20, "anchor", true, 0)
	assert.Equal(t, 1.0, n.PosConfidence)
}

func TestDedupDropsReplayedPacket(t *testing.T) {
	n := NewNode(2, 0, 0, "", false, 0)
	pkt := Packet{Id: 99, Kind: meshtypes.PacketData, SourceId: 5, DestId: meshtypes.BroadcastId, NextHop: meshtypes.BroadcastId, Ttl: 1, Payload: "x"}

	r1 := n.Receive(pkt, -50, 1)
	_ = r1
	queueLenAfterFirst := len(n.TxQueue)

	r2 := n.Receive(pkt, -50, 2)
	assert.Nil(t, r2.Emit)
	assert.Equal(t, queueLenAfterFirst, len(n.TxQueue))
}

func TestDedupBounded(t *testing.T) {
	n := NewNode(2, 0, 0, "", false, 0)
	for i := 0; i < meshtypes.DedupBufferSize+20; i++ {
		pkt := Packet{Id: i, Kind: meshtypes.PacketData, SourceId: 5, DestId: meshtypes.BroadcastId, NextHop: meshtypes.BroadcastId, Ttl: 0, Payload: "m"}
		n.Receive(pkt, -50, 1)
	}
	assert.LessOrEqual(t, len(n.dedup), meshtypes.DedupBufferSize)
}

func TestHeartbeatAckCreditsBandit(t *testing.T) {
	a := NewNode(1, 0, 0, "A", false, 0)
	b := NewNode(2, 0, 0.001, "B", false, 0)

	a.enqueueHeartbeat(1)
	assert.Len(t, a.TxQueue, 1)
	heartbeat := a.TxQueue[0]

	result := b.Receive(heartbeat, -40, 1)
	assert.NotNil(t, result.Emit)
	assert.Equal(t, meshtypes.PacketAck, result.Emit.Kind)

	a.handleAck(*result.Emit)
	score := a.Bandit.ThompsonScore(meshtypes.FrequencyDirect, 2)
	assert.True(t, score > 0.5)
}

func TestGossipMergeUpdatesNeighborTable(t *testing.T) {
	receiver := NewNode(1, 0, 0, "", false, 0)
	entries := []GossipEntry{
		{NodeId: 2, SequenceNum: 1, HopsAway: 0, Lat: 1, Lng: 1, PosConfidence: 1, Label: "B"},
		{NodeId: 3, SequenceNum: 1, HopsAway: 1, Lat: 2, Lng: 2, PosConfidence: 0.8, Label: "C"},
	}
	payloadJSON := mustMarshalEntries(entries)
	pkt := Packet{
		Id: 10, Kind: meshtypes.PacketData, SourceId: 2, DestId: meshtypes.BroadcastId,
		NextHop: meshtypes.BroadcastId, Ttl: 1,
		Payload:   meshtypes.GossipPayloadPrefix + payloadJSON,
		OriginLat: 1, OriginLng: 1,
	}
	receiver.Receive(pkt, -50, 5)

	assert.Contains(t, receiver.neighborTable, meshtypes.NodeId(2))
	assert.Equal(t, 1, receiver.neighborTable[2].HopsAway)
	assert.Contains(t, receiver.neighborTable, meshtypes.NodeId(3))
	assert.Equal(t, 2, receiver.neighborTable[3].HopsAway) // relayed hopsAway+1
}

func TestTrackingTagRoundTrip(t *testing.T) {
	payload := TagTrackingId("xyz", "hi")
	assert.Equal(t, "[trk:xyz]hi", payload)
	tag, ok := ExtractTrackingTag(payload)
	assert.True(t, ok)
	assert.Equal(t, "xyz", tag)
}

func TestReceiveToSelfStripsTrackingTag(t *testing.T) {
	n := NewNode(2, 0, 0, "", false, 0)
	pkt := Packet{
		Id: 1, Kind: meshtypes.PacketData, SourceId: 1, DestId: 2,
		NextHop: meshtypes.BroadcastId, Ttl: 5,
		Payload: TagTrackingId("xyz", "hi"),
	}
	result := n.Receive(pkt, -50, 1)
	assert.NotNil(t, result.Emit)
	assert.Equal(t, meshtypes.PacketAck, result.Emit.Kind)
	assert.Len(t, n.ReceivedMessages, 1)
	assert.Equal(t, "hi", n.ReceivedMessages[0].Text)
}

func TestTrustGatingRestrictsRouting(t *testing.T) {
	n := NewNode(1, 0, 0, "", false, 0)
	n.TrustedOnlyRouting = true
	n.neighborTable[2] = &NeighborEntry{NodeId: 2, HopsAway: 1, PosConfidence: 0.9, Lat: 0, Lng: 0.001}
	n.TrustPeer(2, "pk-2")

	// 3 is a known but untrusted direct neighbor; the only trusted
	// candidate is 2. Trust gating must never return the untrusted 3 as
	// a hop, even as a last resort.
	n.neighborTable[3] = &NeighborEntry{NodeId: 3, HopsAway: 1, PosConfidence: 0.9, Lat: 5, Lng: 5}

	hop, ok := n.getNextHop(2)
	assert.True(t, ok)
	assert.Equal(t, meshtypes.NodeId(2), hop)

	// Whatever getNextHop returns under trust gating must itself be a
	// trusted peer.
	if hop2, ok2 := n.getNextHop(3); ok2 {
		_, trusted := n.trustedPeers[hop2]
		assert.True(t, trusted)
	}
}

func TestBlackholeFiltersRelayedPackets(t *testing.T) {
	n := NewNode(1, 0, 0, "[MAL] blackhole", false, 0)
	m := NewMalicious(n, meshtypes.StrategyBlackhole, 1.0, nil)

	n.TxQueue = append(n.TxQueue,
		Packet{Id: 1, SourceId: 1, HopCount: 0},
		Packet{Id: 2, SourceId: 9, HopCount: 3},
	)
	m.attackBlackhole()

	assert.Len(t, n.TxQueue, 1)
	assert.Equal(t, 1, n.TxQueue[0].Id)
}

func TestSelectiveDropTargetsSpecificSources(t *testing.T) {
	n := NewNode(1, 0, 0, "", false, 0)
	m := NewMalicious(n, meshtypes.StrategySelective, 1.0, []meshtypes.NodeId{9})
	m.DropProb = 1.0 // deterministic for the test

	n.TxQueue = append(n.TxQueue,
		Packet{Id: 1, SourceId: 9},
		Packet{Id: 2, SourceId: 5},
	)
	m.attackSelective()

	assert.Len(t, n.TxQueue, 1)
	assert.Equal(t, meshtypes.NodeId(5), n.TxQueue[0].SourceId)
}

func TestPendingMessageTimeoutPenalizesBandit(t *testing.T) {
	n := NewNode(1, 0, 0, "", false, 0)
	n.EnqueueUserData(2, "hi", 0)
	assert.Len(t, n.pendingMessages, 1)
	pktId := n.TxQueue[0].Id

	// Loop also enqueues a heartbeat at this tick, which registers its own
	// pending entry, so only the timed-out user packet is checked here.
	n.Loop(meshtypes.PendingMessageTTL + 1)
	assert.NotContains(t, n.pendingMessages, pktId)
	assert.Equal(t, 1, n.Bandit.Snapshot()["2:BROADCAST"].FailureCount)
}
