package meshnode

import "github.com/MythicalCow/lifelink/meshtypes"

// Packet is one unit of radio traffic: a gossip heartbeat, a user data
// message, a forwarded relay, or an ACK.
type Packet struct {
	Id        int
	Kind      meshtypes.PacketKind
	SourceId  meshtypes.NodeId
	DestId    meshtypes.NodeId
	NextHop   meshtypes.NodeId
	Ttl       int
	HopCount  int
	Payload   string
	OriginLat float64
	OriginLng float64
	Radio     meshtypes.RadioKind
}

// GossipEntry is one node's self-report (or relayed report) carried inside
// a heartbeat payload.
type GossipEntry struct {
	NodeId        meshtypes.NodeId `json:"nodeId"`
	SequenceNum   int              `json:"sequenceNum"`
	HopsAway      int              `json:"hopsAway"`
	Lat           float64          `json:"lat"`
	Lng           float64          `json:"lng"`
	PosConfidence float64          `json:"posConfidence"`
	Label         string           `json:"label"`
}

// NeighborEntry is the locally-held belief about another node, refreshed by
// gossip heartbeats and expired after meshtypes.NeighborExpiry ticks of
// silence.
type NeighborEntry struct {
	NodeId        meshtypes.NodeId
	SequenceNum   int
	HopsAway      int
	LastSeenTick  int
	Rssi          float64
	Lat           float64
	Lng           float64
	PosConfidence float64
	ViaNode       meshtypes.NodeId
	Label         string
}

// ftmReading is one ranging sample to a peer, timestamped for expiry.
type ftmReading struct {
	Distance float64
	Tick     int
}

// pendingMessage tracks a packet this node is waiting on an ACK for, so the
// bandit can be credited (or, on timeout, penalized).
type pendingMessage struct {
	DestId      meshtypes.NodeId
	RecipientId meshtypes.NodeId
	SentTick    int
	Frequency   meshtypes.Frequency
}

// ReceivedMessage is a display record of a user data packet delivered to
// this node.
type ReceivedMessage struct {
	FromNodeId meshtypes.NodeId
	Text       string
	HopCount   int
	Tick       int
}

// SentMessage is a display record of a user data packet this node
// originated.
type SentMessage struct {
	ToNodeId meshtypes.NodeId
	Text     string
	Status   string
	Tick     int
}
