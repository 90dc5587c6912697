package meshnode

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/MythicalCow/lifelink/meshtypes"
	"github.com/MythicalCow/lifelink/prng"
)

// Malicious wraps a Node with an attack strategy. It runs the shared
// Node.Loop first, then dispatches on its strategy tag, mirroring the
// teacher's pattern of special-casing a variant flag inside an otherwise
// shared per-tick path rather than a parallel type hierarchy.
type Malicious struct {
	*Node
	Strategy      meshtypes.MaliciousStrategy
	Intensity     float64
	TargetNodeIds map[meshtypes.NodeId]struct{}
	DropProb      float64

	sybilInitialized bool
	sybilIds         []meshtypes.NodeId
	rng              *prng.Xorshift32
}

const defaultSelectiveDropProbability = 0.8

// NewMalicious wraps an already-constructed Node with an attack strategy.
func NewMalicious(n *Node, strategy meshtypes.MaliciousStrategy, intensity float64, targets []meshtypes.NodeId) *Malicious {
	targetSet := make(map[meshtypes.NodeId]struct{}, len(targets))
	for _, t := range targets {
		targetSet[t] = struct{}{}
	}
	return &Malicious{
		Node:          n,
		Strategy:      strategy,
		Intensity:     intensity,
		TargetNodeIds: targetSet,
		DropProb:      defaultSelectiveDropProbability,
		rng:           prng.NewXorshift32(prng.NodeSeed(int(n.Id)) ^ 0xABCDEF),
	}
}

// Step runs the shared protocol loop, then performs this tick's attack.
func (m *Malicious) Step(tick int) {
	m.Node.Loop(tick)

	switch m.Strategy {
	case meshtypes.StrategyJammer:
		m.attackJammer()
	case meshtypes.StrategyLiar:
		m.attackLiar(tick)
	case meshtypes.StrategySybil:
		m.attackSybil(tick)
	case meshtypes.StrategyBlackhole:
		m.attackBlackhole()
	case meshtypes.StrategySelective:
		m.attackSelective()
	}
}

func (m *Malicious) attackJammer() {
	count := int(math.Floor(m.Intensity * 10))
	for i := 0; i < count; i++ {
		m.Node.TxQueue = append(m.Node.TxQueue, Packet{
			Id:       m.Node.nextPacketId(),
			Kind:     meshtypes.PacketData,
			SourceId: m.Node.Id,
			DestId:   meshtypes.BroadcastId,
			NextHop:  meshtypes.BroadcastId,
			Ttl:      1,
			Payload:  "JAMMING",
			Radio:    meshtypes.RadioLoRa,
		})
	}
}

func (m *Malicious) attackLiar(tick int) {
	if m.rng.Float64() >= m.Intensity*0.1 {
		return
	}
	jitter := func(v float64) float64 { return v + (m.rng.Float64()-0.5)*0.01 }
	entries := []GossipEntry{{
		NodeId:        m.Node.Id,
		SequenceNum:   m.Node.seqNum + 1,
		HopsAway:      0,
		Lat:           jitter(m.Node.EstLat),
		Lng:           jitter(m.Node.EstLng),
		PosConfidence: 1.0,
		Label:         m.Node.Label,
	}}
	payload := meshtypes.GossipPayloadPrefix + mustMarshalEntries(entries)
	m.Node.TxQueue = append(m.Node.TxQueue, Packet{
		Id:        m.Node.nextPacketId(),
		Kind:      meshtypes.PacketData,
		SourceId:  m.Node.Id,
		DestId:    meshtypes.BroadcastId,
		NextHop:   meshtypes.BroadcastId,
		Ttl:       1,
		Payload:   payload,
		OriginLat: jitter(m.Node.EstLat),
		OriginLng: jitter(m.Node.EstLng),
		Radio:     meshtypes.RadioLoRa,
	})
}

func (m *Malicious) attackSybil(tick int) {
	if !m.sybilInitialized {
		count := int(math.Floor(m.Intensity*5)) + 1
		for i := 0; i < count; i++ {
			m.sybilIds = append(m.sybilIds, meshtypes.NodeId(10000+int(m.Node.Id)*100+i))
		}
		m.sybilInitialized = true
	}

	for _, fakeId := range m.sybilIds {
		if m.rng.Float64() >= 0.1 {
			continue
		}
		jitter := func(v float64) float64 { return v + (m.rng.Float64()-0.5)*0.01 }
		lat, lng := jitter(m.Node.TrueLat), jitter(m.Node.TrueLng)
		entries := []GossipEntry{{
			NodeId:        fakeId,
			SequenceNum:   tick,
			HopsAway:      0,
			Lat:           lat,
			Lng:           lng,
			PosConfidence: 0.9,
			Label:         fmt.Sprintf("sybil-%d", fakeId),
		}}
		payload := meshtypes.GossipPayloadPrefix + mustMarshalEntries(entries)
		m.Node.TxQueue = append(m.Node.TxQueue, Packet{
			Id:        m.Node.nextPacketId(),
			Kind:      meshtypes.PacketData,
			SourceId:  m.Node.Id,
			DestId:    meshtypes.BroadcastId,
			NextHop:   meshtypes.BroadcastId,
			Ttl:       1,
			Payload:   payload,
			OriginLat: lat,
			OriginLng: lng,
			Radio:     meshtypes.RadioLoRa,
		})
	}
}

func (m *Malicious) attackBlackhole() {
	kept := m.Node.TxQueue[:0]
	for _, p := range m.Node.TxQueue {
		if p.SourceId == m.Node.Id || p.HopCount == 0 {
			kept = append(kept, p)
		}
	}
	m.Node.TxQueue = kept
}

func (m *Malicious) attackSelective() {
	kept := m.Node.TxQueue[:0]
	for _, p := range m.Node.TxQueue {
		if _, targeted := m.TargetNodeIds[p.SourceId]; targeted && m.rng.Float64() < m.DropProb {
			continue
		}
		kept = append(kept, p)
	}
	m.Node.TxQueue = kept
}

func mustMarshalEntries(entries []GossipEntry) string {
	b, err := json.Marshal(entries)
	if err != nil {
		return "[]"
	}
	return string(b)
}
