// Package simulator orchestrates the per-tick mesh simulation: propagation,
// contention resolution, per-node protocol stepping, trust graph
// management and the external snapshot interface. It is grounded on the
// teacher's dispatcher.Dispatcher tick loop (Run/goUntilPauseTime phase
// structure) and simulation.Simulation's construct/reset/node-table
// ownership.
package simulator

import (
	"fmt"

	"github.com/MythicalCow/lifelink/environment"
	"github.com/MythicalCow/lifelink/geo"
	"github.com/MythicalCow/lifelink/logger"
	"github.com/MythicalCow/lifelink/meshnode"
	"github.com/MythicalCow/lifelink/meshtypes"
	"github.com/MythicalCow/lifelink/prng"
)

// Simulator owns every Node and the shared Environment; it is not
// reentrant and exposes no way for an external consumer to reach node
// internals outside of a value-copy snapshot.
type Simulator struct {
	tick    int
	running bool
	speed   float64

	env *environment.Environment

	order     []meshtypes.NodeId
	nodes     map[meshtypes.NodeId]*meshnode.Node
	malicious map[meshtypes.NodeId]*meshnode.Malicious

	transmissions []Transmission
	events        []Event

	totalSent       int
	totalDelivered  int
	totalDropped    int
	totalCollisions int
	hopAccumulator  int
	deliveryCount   int

	deliveredTrackingIds []string

	rng *prng.Xorshift32

	metricsEnabled bool
	metricsObserve func(SimState)
}

// New constructs an empty simulator; call Construct to populate it.
func New() *Simulator {
	return &Simulator{
		speed: 1.0,
		rng:   prng.NewXorshift32(12345),
	}
}

// EnableMetrics registers a callback invoked with the snapshot at the end
// of every Step, used by cmd/meshsim to feed meshmetrics without this
// package importing it directly (meshmetrics imports simulator for the
// SimState type, so a direct import here would be a cycle).
func (s *Simulator) EnableMetrics(observe func(SimState)) {
	s.metricsEnabled = true
	s.metricsObserve = observe
}

// Construct builds a fresh node population from sensor definitions.
func (s *Simulator) Construct(sensors []SensorDef) {
	s.reset(sensors)
}

// Reset rebuilds the simulator from scratch, dropping all packets, air
// signals and bandit state; it never carries over prior-run data.
func (s *Simulator) Reset(sensors []SensorDef) {
	s.reset(sensors)
}

func (s *Simulator) reset(sensors []SensorDef) {
	s.tick = 0
	s.env = environment.New()
	s.order = make([]meshtypes.NodeId, 0, len(sensors))
	s.nodes = make(map[meshtypes.NodeId]*meshnode.Node, len(sensors))
	s.malicious = make(map[meshtypes.NodeId]*meshnode.Malicious)
	s.transmissions = nil
	s.events = nil
	s.totalSent = 0
	s.totalDelivered = 0
	s.totalDropped = 0
	s.totalCollisions = 0
	s.hopAccumulator = 0
	s.deliveryCount = 0
	s.deliveredTrackingIds = nil

	for _, def := range sensors {
		n := meshnode.NewNode(def.Id, def.Lat, def.Lng, def.Label, def.IsAnchor, def.LoraChannel)
		s.order = append(s.order, def.Id)
		s.nodes[def.Id] = n

		strategy := maliciousStrategyFromLabel(def.Label)
		if strategy != meshtypes.StrategyNone {
			s.malicious[def.Id] = meshnode.NewMalicious(n, strategy, def.Intensity, nil)
		}
	}
	logger.Infof("simulator reset with %d nodes", len(sensors))
}

func (s *Simulator) logEvent(level meshtypes.EventLevel, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.events = append(s.events, Event{Tick: s.tick, Message: msg, Level: level})
	switch level {
	case meshtypes.EventWarn:
		logger.Warnf("%s", msg)
	default:
		logger.Infof("%s", msg)
	}
}

// trueDistance returns the great-circle distance between two nodes' ground
// truth positions.
func (s *Simulator) trueDistance(a, b *meshnode.Node) float64 {
	return geo.Haversine(geo.LatLon{Lat: a.TrueLat, Lon: a.TrueLng}, geo.LatLon{Lat: b.TrueLat, Lon: b.TrueLng})
}

type inFlight struct {
	senderId    meshtypes.NodeId
	packet      meshnode.Packet
	channel     int
	isMalicious bool
	reached     bool
}

// Step advances the simulation by exactly one tick and returns the
// resulting snapshot.
func (s *Simulator) Step() SimState {
	s.tick++
	s.env.StartTick()
	for _, id := range s.order {
		s.nodes[id].State = meshtypes.RadioIdle
	}

	s.ftmPhase()
	s.loopPhase()

	flights := s.txPullPhase()
	s.propagateAndResolve(flights)
	s.pruneAndLog()

	snap := s.snapshot()
	if s.metricsEnabled && s.metricsObserve != nil {
		s.metricsObserve(snap)
	}
	return snap
}

func (s *Simulator) ftmPhase() {
	for _, aId := range s.order {
		a := s.nodes[aId]
		if a.IsAnchor {
			continue
		}
		for _, bId := range s.order {
			if aId == bId {
				continue
			}
			b := s.nodes[bId]
			d := s.trueDistance(a, b)
			if d > meshtypes.FTMRangeM {
				continue
			}
			a.PerformFtmRanging(bId, d, s.tick)
		}
	}
}

func (s *Simulator) loopPhase() {
	for _, id := range s.order {
		if m, ok := s.malicious[id]; ok {
			m.Step(s.tick)
		} else {
			s.nodes[id].Loop(s.tick)
		}
	}
}

func (s *Simulator) txPullPhase() []inFlight {
	var flights []inFlight
	for _, id := range s.order {
		n := s.nodes[id]
		if len(n.TxQueue) == 0 {
			continue
		}
		pkt := n.TxQueue[0]
		n.TxQueue = n.TxQueue[1:]
		n.State = meshtypes.RadioTx
		s.totalSent++

		_, isMal := s.malicious[id]
		channel := n.LoraChannel
		flights = append(flights, inFlight{senderId: id, packet: pkt, channel: channel, isMalicious: isMal})
		s.logEvent(meshtypes.EventInfo, "node %d sent packet %d (%s)", int(id), pkt.Id, pkt.Kind)
	}
	return flights
}

func (s *Simulator) propagateAndResolve(flights []inFlight) {
	if len(flights) == 0 {
		return
	}

	byId := make(map[int]*inFlight, len(flights))
	for i := range flights {
		f := &flights[i]
		byId[f.packet.Id] = f
		sender := s.nodes[f.senderId]
		ok := s.env.Transmit(f.packet.Id, f.senderId, sender.TrueLat, sender.TrueLng, f.channel, meshtypes.DefaultTxPowerDbm)
		if !ok {
			s.logEvent(meshtypes.EventWarn, "node %d transmission jammed at source", int(f.senderId))
		}
	}

	for _, receiverId := range s.order {
		receiver := s.nodes[receiverId]
		if receiver.State == meshtypes.RadioTx {
			continue
		}
		candidates := s.env.Receive(receiverId, receiver.TrueLat, receiver.TrueLng, receiver.LoraChannel)
		if len(candidates) == 0 {
			continue
		}
		if len(candidates) >= 2 {
			s.totalCollisions++
		}
		for _, cand := range candidates {
			f, ok := byId[cand.Signal.PacketId]
			if !ok {
				continue
			}
			f.reached = true
			s.deliverCandidate(f, receiverId, receiver, cand)
		}
	}

	for i := range flights {
		f := &flights[i]
		if !f.reached {
			s.totalDropped++
		}
	}
}

func (s *Simulator) deliverCandidate(f *inFlight, receiverId meshtypes.NodeId, receiver *meshnode.Node, cand environment.CandidateRx) {
	receiver.State = meshtypes.RadioRx
	sender := s.nodes[f.senderId]

	s.transmissions = append(s.transmissions, Transmission{
		FromLat:     sender.TrueLat,
		FromLng:     sender.TrueLng,
		ToLat:       receiver.TrueLat,
		ToLng:       receiver.TrueLng,
		PacketType:  f.packet.Kind,
		Status:      cand.Status,
		CreatedTick: s.tick,
		Channel:     f.channel,
		IsMalicious: f.isMalicious,
		Radio:       f.packet.Radio,
	})

	sender.RecordTransmissionResult(f.packet.Id, cand.Status)

	if cand.Status == meshtypes.StatusCollision {
		return
	}
	if cand.Status == meshtypes.StatusJammed {
		return
	}

	result := receiver.Receive(f.packet, cand.Rssi, s.tick)
	if result.Emit == nil {
		return
	}
	receiver.TxQueue = append(receiver.TxQueue, *result.Emit)

	if result.Emit.Kind == meshtypes.PacketAck {
		s.totalDelivered++
		s.hopAccumulator += f.packet.HopCount
		s.deliveryCount++
		if tag, ok := meshnode.ExtractTrackingTag(f.packet.Payload); ok {
			s.deliveredTrackingIds = append(s.deliveredTrackingIds, tag)
		}
		s.logEvent(meshtypes.EventSuccess, "node %d acked packet %d from node %d", int(receiverId), f.packet.Id, int(f.senderId))
	}
}

func (s *Simulator) pruneAndLog() {
	kept := s.transmissions[:0]
	for _, t := range s.transmissions {
		if s.tick-t.CreatedTick <= meshtypes.TxVisualDuration {
			kept = append(kept, t)
		}
	}
	s.transmissions = kept

	if len(s.events) > meshtypes.MaxLogEvents {
		s.events = s.events[len(s.events)-meshtypes.MaxLogEvents:]
	}
}

// SendMessage enqueues a user DATA packet from `from` to `to`, carrying an
// optional tracking id. Unknown source ids are ignored with no side
// effect.
func (s *Simulator) SendMessage(from, to meshtypes.NodeId, payload, trackingId string) {
	src, ok := s.nodes[from]
	if !ok {
		return
	}
	full := meshnode.TagTrackingId(trackingId, payload)
	src.EnqueueUserData(to, full, s.tick)
}

// AddJammer is a pass-through to the Environment with a log event.
func (s *Simulator) AddJammer(lat, lng, radiusM, powerDbm float64, channels []int) {
	s.env.AddJammer(lat, lng, radiusM, powerDbm, channels)
	s.logEvent(meshtypes.EventWarn, "jammer added at (%.5f,%.5f) radius %.0fm", lat, lng, radiusM)
}

// ClearJammers removes every jammer from the Environment.
func (s *Simulator) ClearJammers() {
	s.env.ClearJammers()
	s.logEvent(meshtypes.EventInfo, "jammers cleared")
}

// SetTrustedOnlyRouting toggles the trust-gated-routing filter on every
// node.
func (s *Simulator) SetTrustedOnlyRouting(flag bool) {
	for _, n := range s.nodes {
		n.TrustedOnlyRouting = flag
	}
}

func pubKeyFor(id meshtypes.NodeId) string {
	return fmt.Sprintf("pk-%d", int(id))
}

// EstablishTrust installs each node's public key into the other's trusted
// peer set. Unknown ids are ignored with no side effect.
func (s *Simulator) EstablishTrust(a, b meshtypes.NodeId) {
	na, ok1 := s.nodes[a]
	nb, ok2 := s.nodes[b]
	if !ok1 || !ok2 {
		return
	}
	na.TrustPeer(b, pubKeyFor(b))
	nb.TrustPeer(a, pubKeyFor(a))
}

// ConfigureTrustGraph clears trust for the given node ids, then
// establishes a bidirectional trust edge for each unordered pair with
// independent probability density.
func (s *Simulator) ConfigureTrustGraph(nodeIds []meshtypes.NodeId, density float64) {
	for _, id := range nodeIds {
		if n, ok := s.nodes[id]; ok {
			n.ClearTrustedPeers()
		}
	}
	for i := 0; i < len(nodeIds); i++ {
		for j := i + 1; j < len(nodeIds); j++ {
			if s.rng.Float64() < density {
				s.EstablishTrust(nodeIds[i], nodeIds[j])
			}
		}
	}
}

// SetTrustGraphFromMap clears trust for every node mentioned, then
// establishes exactly the edges present in the map (deduplicated on the
// unordered pair).
func (s *Simulator) SetTrustGraphFromMap(edges map[meshtypes.NodeId][]meshtypes.NodeId) {
	touched := make(map[meshtypes.NodeId]struct{})
	for k, peers := range edges {
		touched[k] = struct{}{}
		for _, p := range peers {
			touched[p] = struct{}{}
		}
	}
	for id := range touched {
		if n, ok := s.nodes[id]; ok {
			n.ClearTrustedPeers()
		}
	}

	seen := make(map[[2]meshtypes.NodeId]struct{})
	for a, peers := range edges {
		for _, b := range peers {
			key := [2]meshtypes.NodeId{a, b}
			if a > b {
				key = [2]meshtypes.NodeId{b, a}
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			s.EstablishTrust(a, b)
		}
	}
}

// GetNode returns a handle to one node's attack configuration, ok=false if
// the id is unknown.
func (s *Simulator) GetNode(id meshtypes.NodeId) (*NodeHandle, bool) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, false
	}
	return &NodeHandle{node: n, malicious: s.malicious[id]}, true
}

// Tick returns the current tick count.
func (s *Simulator) Tick() int { return s.tick }
