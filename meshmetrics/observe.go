package meshmetrics

import (
	"strconv"

	"github.com/MythicalCow/lifelink/simulator"
)

// Observe pushes one simulation snapshot's stats into the registered
// gauges. Call once per tick from the CLI runner.
func Observe(snap simulator.SimState) {
	TotalSent.Set(float64(snap.Stats.TotalSent))
	TotalDelivered.Set(float64(snap.Stats.TotalDelivered))
	TotalDropped.Set(float64(snap.Stats.TotalDropped))
	TotalCollisions.Set(float64(snap.Stats.TotalCollisions))
	AvgHops.Set(snap.Stats.AvgHops)
	MembershipCoverage.Set(snap.Stats.MembershipCoverage)
	Tick.Set(float64(snap.Tick))

	for _, n := range snap.NodeStates {
		idStr := strconv.Itoa(int(n.Id))
		NodePosConfidence.WithLabelValues(idStr).Set(n.PosConfidence)
		NodeNeighborCount.WithLabelValues(idStr).Set(float64(n.NeighborCount))
		for arm, stats := range n.BanditStats {
			NodeArmSuccessRate.WithLabelValues(idStr, arm).Set(stats.SuccessRate)
		}
	}
}
