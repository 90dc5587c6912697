package simulator

import (
	"github.com/MythicalCow/lifelink/bandit"
	"github.com/MythicalCow/lifelink/meshnode"
)

// GetState returns the current immutable snapshot without advancing the
// tick, for a consumer polling between Step calls.
func (s *Simulator) GetState() SimState {
	return s.snapshot()
}

func (s *Simulator) snapshot() SimState {
	nodeStates := make([]NodeState, 0, len(s.order))
	for _, id := range s.order {
		n := s.nodes[id]
		nodeStates = append(nodeStates, NodeState{
			Id:               n.Id,
			TrueLat:          n.TrueLat,
			TrueLng:          n.TrueLng,
			EstLat:           n.EstLat,
			EstLng:           n.EstLng,
			PosConfidence:    n.PosConfidence,
			State:            n.State,
			NeighborCount:    n.NeighborCount(),
			KnownNodes:       len(n.KnownNodeIds()),
			Label:            n.Label,
			TrustedPeers:     n.TrustedPeerIds(),
			DiscoveredLabels: n.DiscoveredLabels(),
			ReceivedMessages: messageViews(n.ReceivedMessages),
			BanditStats:      banditStatsView(n.Bandit.Snapshot()),
		})
	}

	transmissions := make([]Transmission, len(s.transmissions))
	copy(transmissions, s.transmissions)

	events := make([]Event, len(s.events))
	copy(events, s.events)

	trackingIds := make([]string, len(s.deliveredTrackingIds))
	copy(trackingIds, s.deliveredTrackingIds)

	avgHops := 0.0
	if s.deliveryCount > 0 {
		avgHops = float64(s.hopAccumulator) / float64(s.deliveryCount)
	}

	n := len(s.order)
	coverage := 0.0
	if n > 1 {
		var sumKnown int
		for _, ns := range nodeStates {
			sumKnown += ns.KnownNodes
		}
		coverage = float64(sumKnown) / float64(n*(n-1))
		if coverage > 1 {
			coverage = 1
		} else if coverage < 0 {
			coverage = 0
		}
	}

	return SimState{
		Tick:       s.tick,
		Running:    s.running,
		Speed:      s.speed,
		NodeStates: nodeStates,
		Transmissions: transmissions,
		Events:        events,
		Stats: Stats{
			Tick:               s.tick,
			TotalSent:          s.totalSent,
			TotalDelivered:     s.totalDelivered,
			TotalDropped:       s.totalDropped,
			TotalCollisions:    s.totalCollisions,
			AvgHops:            avgHops,
			MembershipCoverage: coverage,
		},
		DeliveredTrackingIds: trackingIds,
	}
}

func messageViews(msgs []meshnode.ReceivedMessage) []MessageView {
	out := make([]MessageView, len(msgs))
	for i, m := range msgs {
		out[i] = MessageView{FromNodeId: m.FromNodeId, Text: m.Text, HopCount: m.HopCount}
	}
	return out
}

func banditStatsView(in map[string]bandit.ArmStats) map[string]BanditArmStats {
	out := make(map[string]BanditArmStats, len(in))
	for k, v := range in {
		out[k] = BanditArmStats{
			SuccessCount:  v.SuccessCount,
			FailureCount:  v.FailureCount,
			TotalAttempts: v.TotalAttempts,
			SuccessRate:   v.SuccessRate,
		}
	}
	return out
}
