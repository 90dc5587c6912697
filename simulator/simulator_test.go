package simulator

import (
	"encoding/json"
	"testing"

	"github.com/MythicalCow/lifelink/geo"
	"github.com/MythicalCow/lifelink/meshnode"
	"github.com/MythicalCow/lifelink/meshtypes"
	"github.com/stretchr/testify/assert"
)

func twoClose() []SensorDef {
	return []SensorDef{
		{Id: 1, Lat: 0, Lng: 0, Label: "A"},
		{Id: 2, Lat: 0, Lng: 0.0005, Label: "B"},
	}
}

func TestTrackingIdDeliveredWithinFewTicks(t *testing.T) {
	s := New()
	s.Construct(twoClose())

	s.SendMessage(1, 2, "hello", "track-1")
	snap := s.Step()

	assert.Contains(t, snap.DeliveredTrackingIds, "track-1")
	assert.Equal(t, 1, snap.Stats.TotalDelivered)

	// and the text itself arrived at node 2 stripped of its tracking tag.
	node2 := snap.NodeStates[1]
	assert.Len(t, node2.ReceivedMessages, 1)
	assert.Equal(t, "hello", node2.ReceivedMessages[0].Text)
}

func TestSendMessageUnknownSenderIgnored(t *testing.T) {
	s := New()
	s.Construct(twoClose())
	s.SendMessage(99, 2, "hi", "")
	snap := s.Step()
	assert.Equal(t, 0, snap.Stats.TotalSent)
}

func TestCaptureEffectCountsCollision(t *testing.T) {
	s := New()
	s.Construct([]SensorDef{
		{Id: 1, Lat: 0, Lng: 0, Label: "near"},
		{Id: 2, Lat: 0, Lng: 0.0020, Label: "far"},
		{Id: 3, Lat: 0, Lng: 0, Label: "receiver"},
	})

	near := s.nodes[1]
	far := s.nodes[2]
	near.TxQueue = append(near.TxQueue, meshnode.Packet{
		Id: 100, Kind: meshtypes.PacketData, SourceId: 1, DestId: 3,
		NextHop: meshtypes.BroadcastId, Ttl: 1, Payload: "x",
	})
	far.TxQueue = append(far.TxQueue, meshnode.Packet{
		Id: 101, Kind: meshtypes.PacketData, SourceId: 2, DestId: 3,
		NextHop: meshtypes.BroadcastId, Ttl: 1, Payload: "y",
	})

	snap := s.Step()
	assert.GreaterOrEqual(t, snap.Stats.TotalCollisions, 1)
}

// Line topology A - M - B: A and B are out of direct radio range of each
// other and can only reach one another by relaying through M. Only A<->M
// is trusted, and trustedOnlyRouting is on for every node, so a message
// from A to B must never arrive even though a trusted first hop exists.
func TestTrustedOnlyIsolationLineTopology(t *testing.T) {
	s := New()
	s.Construct([]SensorDef{
		{Id: 1, Lat: 0, Lng: 0, Label: "A"},
		{Id: 2, Lat: 0, Lng: 0.0020, Label: "M", IsAnchor: true},
		{Id: 3, Lat: 0, Lng: 0.0050, Label: "B", IsAnchor: true},
	})

	for i := 0; i < 200; i++ {
		s.Step()
	}

	s.EstablishTrust(1, 2)
	s.SetTrustedOnlyRouting(true)

	s.SendMessage(1, 3, "secret", "iso-1")
	for i := 0; i < 10; i++ {
		snap := s.Step()
		assert.NotContains(t, snap.DeliveredTrackingIds, "iso-1")
	}
}

// Three anchors surround a roaming node well inside FTM range; each anchor's
// heartbeat is delivered directly to the roamer's Receive (rather than waiting
// out the real beacon schedule) so the trilateration solve has all three
// anchor positions before the first Step.
func TestThreeAnchorTrilaterationAccuracy(t *testing.T) {
	s := New()
	s.Construct([]SensorDef{
		{Id: 1, Lat: 0, Lng: 0, Label: "anchor-1", IsAnchor: true},
		{Id: 2, Lat: 0, Lng: 0.001, Label: "anchor-2", IsAnchor: true},
		{Id: 3, Lat: 0.001, Lng: 0, Label: "anchor-3", IsAnchor: true},
		{Id: 4, Lat: 0.0005, Lng: 0.0005, Label: "roamer"},
	})

	roamer := s.nodes[4]
	for _, anchorId := range []meshtypes.NodeId{1, 2, 3} {
		anchor := s.nodes[anchorId]
		entries := []meshnode.GossipEntry{{
			NodeId:        anchorId,
			SequenceNum:   1,
			HopsAway:      0,
			Lat:           anchor.TrueLat,
			Lng:           anchor.TrueLng,
			PosConfidence: 1,
		}}
		payload, err := json.Marshal(entries)
		assert.NoError(t, err)
		pkt := meshnode.Packet{
			Id:        1000 + int(anchorId),
			Kind:      meshtypes.PacketData,
			SourceId:  anchorId,
			DestId:    meshtypes.BroadcastId,
			NextHop:   meshtypes.BroadcastId,
			Ttl:       1,
			Payload:   meshtypes.GossipPayloadPrefix + string(payload),
			OriginLat: anchor.TrueLat,
			OriginLng: anchor.TrueLng,
			Radio:     meshtypes.RadioLoRa,
		}
		roamer.Receive(pkt, -50, 0)
	}

	var snap SimState
	for i := 0; i < 3; i++ {
		snap = s.Step()
	}

	var roamState NodeState
	for _, ns := range snap.NodeStates {
		if ns.Id == 4 {
			roamState = ns
		}
	}

	dist := geo.Haversine(geo.LatLon{Lat: roamState.EstLat, Lon: roamState.EstLng}, geo.LatLon{Lat: 0.0005, Lon: 0.0005})
	assert.LessOrEqual(t, dist, 3.0)
	assert.GreaterOrEqual(t, roamState.PosConfidence, 0.8)
}

// A - M - B line topology, same as the trust-isolation test, but M is a
// blackhole: it is the only node in range of both A and B, so every packet
// A routes toward B must pass through it, and a blackhole silently drops any
// packet it didn't originate itself.
func TestBlackholeCausesAckTimeoutAndBanditFailure(t *testing.T) {
	s := New()
	s.Construct([]SensorDef{
		{Id: 1, Lat: 0, Lng: 0, Label: "A"},
		{Id: 2, Lat: 0, Lng: 0.0020, Label: "[MAL] blackhole", IsAnchor: true},
		{Id: 3, Lat: 0, Lng: 0.0050, Label: "B", IsAnchor: true},
	})

	for i := 0; i < 200; i++ {
		s.Step()
	}

	s.SendMessage(1, 3, "secret", "bh-1")

	var snap SimState
	for i := 0; i < 105; i++ {
		snap = s.Step()
		assert.NotContains(t, snap.DeliveredTrackingIds, "bh-1")
	}

	// TotalDelivered also counts heartbeat ACKs, so delivery of the user
	// message is checked at B itself.
	var nodeA, nodeB NodeState
	for _, ns := range snap.NodeStates {
		switch ns.Id {
		case 1:
			nodeA = ns
		case 3:
			nodeB = ns
		}
	}
	assert.Empty(t, nodeB.ReceivedMessages)
	stats, ok := nodeA.BanditStats["1:2"]
	assert.True(t, ok, "expected a recorded bandit attempt for (freq=1, recipient=2)")
	assert.GreaterOrEqual(t, stats.FailureCount, 1)
}

func TestResetDropsAllPriorState(t *testing.T) {
	s := New()
	s.Construct(twoClose())
	s.SendMessage(1, 2, "hello", "track-1")
	s.Step()
	s.AddJammer(0, 0, 100, 30, []int{0})

	s.Reset(twoClose())
	snap := s.GetState()

	assert.Equal(t, 0, snap.Tick)
	assert.Equal(t, 0, snap.Stats.TotalSent)
	assert.Equal(t, 0, snap.Stats.TotalDelivered)
	assert.Empty(t, snap.DeliveredTrackingIds)
	assert.Empty(t, snap.Transmissions)
}

func TestEstablishTrustUnknownIdsIgnored(t *testing.T) {
	s := New()
	s.Construct(twoClose())
	s.EstablishTrust(1, 404) // must not panic or mutate node 1
	node1 := s.nodes[1]
	assert.Empty(t, node1.TrustedPeerIds())
}

func TestSetTrustGraphFromMapDedupesUnorderedPairs(t *testing.T) {
	s := New()
	s.Construct([]SensorDef{
		{Id: 1, Lat: 0, Lng: 0},
		{Id: 2, Lat: 0, Lng: 0.0005},
		{Id: 3, Lat: 0, Lng: 0.0010},
	})
	s.SetTrustGraphFromMap(map[meshtypes.NodeId][]meshtypes.NodeId{
		1: {2},
		2: {1, 3},
	})

	assert.Contains(t, s.nodes[1].TrustedPeerIds(), meshtypes.NodeId(2))
	assert.Contains(t, s.nodes[2].TrustedPeerIds(), meshtypes.NodeId(1))
	assert.Contains(t, s.nodes[2].TrustedPeerIds(), meshtypes.NodeId(3))
	assert.Contains(t, s.nodes[3].TrustedPeerIds(), meshtypes.NodeId(2))
}

func TestGetNodeHandleConfiguresAttack(t *testing.T) {
	s := New()
	s.Construct([]SensorDef{
		{Id: 1, Lat: 0, Lng: 0, Label: "[MAL] selective"},
	})

	h, ok := s.GetNode(1)
	assert.True(t, ok)
	assert.True(t, h.IsMalicious())

	h.SetDropProbability(0.9)
	h.SetTargetNodeIds([]meshtypes.NodeId{5})

	_, ok = s.GetNode(404)
	assert.False(t, ok)
}

func TestJammerBlocksTransmitThroughSimulator(t *testing.T) {
	s := New()
	s.Construct(twoClose())
	s.AddJammer(0, 0, 1000, 60, []int{0})

	near := s.nodes[1]
	near.TxQueue = append(near.TxQueue, meshnode.Packet{
		Id: 1, Kind: meshtypes.PacketData, SourceId: 1, DestId: 2,
		NextHop: meshtypes.BroadcastId, Ttl: 1, Payload: "x",
	})

	snap := s.Step()
	assert.Equal(t, 1, snap.Stats.TotalSent)
	assert.Equal(t, 1, snap.Stats.TotalDropped)
}
