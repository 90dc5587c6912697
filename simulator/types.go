package simulator

import (
	"strings"

	"github.com/MythicalCow/lifelink/meshtypes"
)

// SensorDef describes one node to construct: its identity, true position,
// and optional anchor/malicious configuration. A label prefixed with
// meshtypes.MalLabelPrefix ("[MAL] ") names an attack strategy, e.g.
// "[MAL] jammer".
type SensorDef struct {
	Id          meshtypes.NodeId `yaml:"id" json:"id"`
	Lat         float64          `yaml:"lat" json:"lat"`
	Lng         float64          `yaml:"lng" json:"lng"`
	Label       string           `yaml:"label" json:"label"`
	IsAnchor    bool             `yaml:"isAnchor" json:"isAnchor"`
	LoraChannel int              `yaml:"loraChannel" json:"loraChannel"`
	Intensity   float64          `yaml:"intensity" json:"intensity"`
}

// maliciousStrategyFromLabel extracts a strategy tag from a "[MAL] <name>"
// label, returning StrategyNone if the label carries no such prefix.
func maliciousStrategyFromLabel(label string) meshtypes.MaliciousStrategy {
	if !strings.HasPrefix(label, meshtypes.MalLabelPrefix) {
		return meshtypes.StrategyNone
	}
	name := strings.TrimSpace(strings.TrimPrefix(label, meshtypes.MalLabelPrefix))
	switch meshtypes.MaliciousStrategy(name) {
	case meshtypes.StrategyJammer, meshtypes.StrategyLiar, meshtypes.StrategySybil,
		meshtypes.StrategyBlackhole, meshtypes.StrategySelective:
		return meshtypes.MaliciousStrategy(name)
	default:
		return meshtypes.StrategyNone
	}
}

// Transmission is a value-copy record of one delivered/failed radio
// transmission, retained in the snapshot for meshtypes.TxVisualDuration
// ticks.
type Transmission struct {
	FromLat, FromLng float64
	ToLat, ToLng     float64
	PacketType       meshtypes.PacketKind
	Status           meshtypes.TxStatus
	CreatedTick      int
	Channel          int
	IsMalicious      bool
	Radio            meshtypes.RadioKind
}

// Event is one entry in the bounded narrative log.
type Event struct {
	Tick    int
	Message string
	Level   meshtypes.EventLevel
}

// Stats is the aggregate counters block of a snapshot.
type Stats struct {
	Tick                int
	TotalSent           int
	TotalDelivered      int
	TotalDropped        int
	TotalCollisions     int
	AvgHops             float64
	MembershipCoverage  float64
}

// BanditArmStats mirrors bandit.ArmStats for the snapshot surface.
type BanditArmStats struct {
	SuccessCount  int
	FailureCount  int
	TotalAttempts int
	SuccessRate   float64
}

// NodeState is a value-copy snapshot of one node's externally-visible state.
type NodeState struct {
	Id                meshtypes.NodeId
	TrueLat, TrueLng  float64
	EstLat, EstLng    float64
	PosConfidence     float64
	State             meshtypes.RadioState
	NeighborCount     int
	KnownNodes        int
	Label             string
	TrustedPeers      []meshtypes.NodeId
	DiscoveredLabels  map[meshtypes.NodeId]string
	ReceivedMessages  []MessageView
	BanditStats       map[string]BanditArmStats
}

// MessageView is the snapshot projection of a meshnode.ReceivedMessage.
type MessageView struct {
	FromNodeId meshtypes.NodeId
	Text       string
	HopCount   int
}

// SimState is the full immutable snapshot returned by Step/GetState.
type SimState struct {
	Tick                  int
	Running               bool
	Speed                 float64
	NodeStates            []NodeState
	Transmissions         []Transmission
	Events                []Event
	Stats                 Stats
	DeliveredTrackingIds  []string
}
