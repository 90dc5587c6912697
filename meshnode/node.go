// Package meshnode implements the per-node mesh protocol state machine:
// epidemic gossip membership, FTM-based trilateration, geographic routing,
// trust-gated forwarding, and bandit feedback. It is grounded on the
// teacher's dispatcher.Node — a lightweight, simulator-owned record
// addressed only by id, never holding direct pointers to other nodes.
package meshnode

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/MythicalCow/lifelink/bandit"
	"github.com/MythicalCow/lifelink/geo"
	"github.com/MythicalCow/lifelink/meshtypes"
	"github.com/MythicalCow/lifelink/prng"
)

// Node is one mesh participant's full protocol state. The Simulator owns
// the collection of Nodes; a Node never stores a pointer to another Node,
// only ids plus the neighbor table.
type Node struct {
	Id    meshtypes.NodeId
	Label string

	TrueLat, TrueLng float64
	EstLat, EstLng   float64
	PosConfidence    float64
	IsAnchor         bool

	LoraChannel int
	BleEnabled  bool
	State       meshtypes.RadioState

	neighborTable map[meshtypes.NodeId]*NeighborEntry
	ftmReadings   map[meshtypes.NodeId]ftmReading
	dedup         []int
	dedupSet      map[int]struct{}

	TxQueue []Packet

	trustedPeers     map[meshtypes.NodeId]string
	reputationScores map[meshtypes.NodeId]float64

	pendingMessages map[int]pendingMessage

	ReceivedMessages []ReceivedMessage
	SentMessages     []SentMessage

	Bandit             *bandit.Tracker
	TrustedOnlyRouting bool

	rng *prng.Xorshift32

	currentTick   int
	seqNum        int
	nextBeaconTick int
	nextPacketSeq  int
}

// NewNode constructs a node in its initial (unbonded) state.
func NewNode(id meshtypes.NodeId, lat, lng float64, label string, isAnchor bool, loraChannel int) *Node {
	n := &Node{
		Id:               id,
		Label:            label,
		TrueLat:          lat,
		TrueLng:          lng,
		IsAnchor:         isAnchor,
		LoraChannel:      loraChannel,
		BleEnabled:       true,
		neighborTable:    make(map[meshtypes.NodeId]*NeighborEntry),
		ftmReadings:      make(map[meshtypes.NodeId]ftmReading),
		dedupSet:         make(map[int]struct{}),
		trustedPeers:     make(map[meshtypes.NodeId]string),
		reputationScores: make(map[meshtypes.NodeId]float64),
		pendingMessages:  make(map[int]pendingMessage),
		Bandit:           bandit.NewTracker(),
		rng:              prng.NewXorshift32(prng.NodeSeed(int(id))),
	}
	if isAnchor {
		n.EstLat, n.EstLng = lat, lng
		n.PosConfidence = 1
	}
	n.nextBeaconTick = meshtypes.BeaconInterval + n.rng.Intn(meshtypes.BeaconJitter)
	return n
}

func (n *Node) nextPacketId() int {
	n.nextPacketSeq++
	return int(n.Id)<<24 | n.nextPacketSeq
}

// PerformFtmRanging records a noisy ranging sample to a peer for this tick,
// driven by the node's own seeded stream so two nodes' readings of the same
// true distance need not agree.
func (n *Node) PerformFtmRanging(peerId meshtypes.NodeId, trueDistance float64, tick int) {
	d := geo.FTMMeasure(trueDistance, n.rng)
	n.ftmReadings[peerId] = ftmReading{Distance: d, Tick: tick}
}

// Loop advances this node's protocol state machine by one tick, per the
// order mandated by spec: expire stale state, attempt trilateration, beacon
// if due, decay reputation.
func (n *Node) Loop(tick int) {
	n.currentTick = tick
	n.expireStaleState(tick)
	n.timeoutPendingMessages(tick)

	if !n.IsAnchor {
		n.attemptTrilateration()
	}

	if tick >= n.nextBeaconTick {
		n.enqueueHeartbeat(tick)
		n.nextBeaconTick = tick + meshtypes.BeaconInterval + n.rng.Intn(meshtypes.BeaconJitter)
	}

	n.decayReputation()
}

func (n *Node) expireStaleState(tick int) {
	for id, entry := range n.neighborTable {
		if tick-entry.LastSeenTick > meshtypes.NeighborExpiry {
			delete(n.neighborTable, id)
		}
	}
	for id, r := range n.ftmReadings {
		if tick-r.Tick > meshtypes.NeighborExpiry {
			delete(n.ftmReadings, id)
		}
	}
}

func (n *Node) timeoutPendingMessages(tick int) {
	for id, pm := range n.pendingMessages {
		if tick-pm.SentTick > meshtypes.PendingMessageTTL {
			n.Bandit.RecordAttempt(pm.Frequency, pm.RecipientId, false)
			delete(n.pendingMessages, id)
		}
	}
}

func (n *Node) decayReputation() {
	for id, score := range n.reputationScores {
		ns := score*0.99 + 0.005
		if ns > 1 {
			ns = 1
		} else if ns < 0 {
			ns = 0
		}
		n.reputationScores[id] = ns
	}
}

// attemptTrilateration estimates position from neighbors this node has both
// an FTM reading for and a known position for (from gossip). Lat/Lng are
// treated as locally-planar coordinates for the least-squares solve, valid
// at the scale this engine simulates.
func (n *Node) attemptTrilateration() {
	var anchors []geo.Anchor
	anchorsUsed := 0
	for peerId, reading := range n.ftmReadings {
		entry, ok := n.neighborTable[peerId]
		if !ok || entry.PosConfidence <= 0 {
			continue
		}
		anchors = append(anchors, geo.Anchor{X: entry.Lat, Y: entry.Lng, Distance: metersToDegrees(reading.Distance)})
		if entry.PosConfidence >= 1 {
			anchorsUsed++
		}
	}
	if len(anchors) < 3 {
		return
	}
	x, y, ok := geo.Trilaterate(anchors)
	if !ok {
		return
	}
	residual := geo.ResidualError(x, y, anchors)
	if residual > metersToDegrees(100) {
		return
	}
	n.EstLat, n.EstLng = x, y
	conf := 0.5 + 0.1*float64(anchorsUsed)
	if conf > 0.95 {
		conf = 0.95
	}
	n.PosConfidence = conf
}

// metersToDegrees is a small-angle approximation (1 degree latitude is
// roughly 111,320 m) used only to keep the haversine-based geo package and
// the locally-planar trilateration solve in compatible units.
func metersToDegrees(m float64) float64 {
	return m / 111320.0
}

func (n *Node) enqueueHeartbeat(tick int) {
	n.seqNum++
	entries := n.buildGossipEntries()
	payloadJSON, err := json.Marshal(entries)
	if err != nil {
		payloadJSON = []byte("[]")
	}
	payload := meshtypes.GossipPayloadPrefix + string(payloadJSON)

	pkt := Packet{
		Id:        n.nextPacketId(),
		Kind:      meshtypes.PacketData,
		SourceId:  n.Id,
		DestId:    meshtypes.BroadcastId,
		NextHop:   meshtypes.BroadcastId,
		Ttl:       1,
		HopCount:  0,
		Payload:   payload,
		OriginLat: n.EstLat,
		OriginLng: n.EstLng,
		Radio:     meshtypes.RadioLoRa,
	}
	n.TxQueue = append(n.TxQueue, pkt)
	n.pendingMessages[pkt.Id] = pendingMessage{
		DestId:      meshtypes.BroadcastId,
		RecipientId: meshtypes.BroadcastId,
		SentTick:    tick,
		Frequency:   meshtypes.FrequencyDirect,
	}
}

func (n *Node) buildGossipEntries() []GossipEntry {
	self := GossipEntry{
		NodeId:        n.Id,
		SequenceNum:   n.seqNum,
		HopsAway:      0,
		Lat:           n.EstLat,
		Lng:           n.EstLng,
		PosConfidence: n.PosConfidence,
		Label:         n.Label,
	}
	entries := []GossipEntry{self}

	type scored struct {
		entry *NeighborEntry
	}
	var others []scored
	for _, e := range n.neighborTable {
		others = append(others, scored{e})
	}
	sort.Slice(others, func(i, j int) bool {
		return others[i].entry.LastSeenTick > others[j].entry.LastSeenTick
	})

	max := meshtypes.MaxGossipEntries - 1
	for i, o := range others {
		if i >= max {
			break
		}
		entries = append(entries, GossipEntry{
			NodeId:        o.entry.NodeId,
			SequenceNum:   o.entry.SequenceNum,
			HopsAway:      o.entry.HopsAway,
			Lat:           o.entry.Lat,
			Lng:           o.entry.Lng,
			PosConfidence: o.entry.PosConfidence,
			Label:         o.entry.Label,
		})
	}
	return entries
}

// ReceiveResult is what Node.Receive hands back to the simulator: an
// optional packet to enqueue for transmission on a later tick.
type ReceiveResult struct {
	Emit *Packet
}

// Receive processes one delivered packet per the dedup/drop/ACK/gossip/data
// dispatch rules.
func (n *Node) Receive(pkt Packet, rssi float64, tick int) ReceiveResult {
	if _, seen := n.dedupSet[pkt.Id]; seen {
		return ReceiveResult{}
	}
	n.rememberDedup(pkt.Id)

	if pkt.SourceId == n.Id {
		return ReceiveResult{}
	}
	if pkt.NextHop != meshtypes.BroadcastId && pkt.NextHop != n.Id {
		return ReceiveResult{}
	}

	if pkt.Kind == meshtypes.PacketAck {
		n.handleAck(pkt)
		return ReceiveResult{}
	}

	if strings.HasPrefix(pkt.Payload, meshtypes.GossipPayloadPrefix) {
		n.handleGossip(pkt, rssi, tick)
		return ReceiveResult{Emit: n.buildAck(pkt)}
	}

	if pkt.DestId == n.Id {
		text := stripTrackingTag(pkt.Payload)
		n.ReceivedMessages = append(n.ReceivedMessages, ReceivedMessage{
			FromNodeId: pkt.SourceId,
			Text:       text,
			HopCount:   pkt.HopCount,
			Tick:       tick,
		})
		return ReceiveResult{Emit: n.buildAck(pkt)}
	}

	if pkt.Ttl == 0 {
		return ReceiveResult{}
	}
	nextHop, ok := n.getNextHop(pkt.DestId)
	if !ok && n.TrustedOnlyRouting {
		// Broadcasting here would route around the trust gate entirely;
		// under trustedOnlyRouting a node with no trusted path simply
		// does not relay.
		return ReceiveResult{}
	}
	fwd := pkt
	fwd.Ttl--
	fwd.HopCount++
	if ok {
		fwd.NextHop = nextHop
	} else {
		fwd.NextHop = meshtypes.BroadcastId
	}
	return ReceiveResult{Emit: &fwd}
}

func (n *Node) rememberDedup(id int) {
	n.dedupSet[id] = struct{}{}
	n.dedup = append(n.dedup, id)
	if len(n.dedup) > meshtypes.DedupBufferSize {
		old := n.dedup[0]
		n.dedup = n.dedup[1:]
		delete(n.dedupSet, old)
	}
}

func (n *Node) buildAck(pkt Packet) *Packet {
	return &Packet{
		Id:       n.nextPacketId(),
		Kind:     meshtypes.PacketAck,
		SourceId: n.Id,
		DestId:   pkt.SourceId,
		NextHop:  meshtypes.BroadcastId,
		Ttl:      meshtypes.MaxTTL,
		Payload:  meshtypes.AckPayloadPrefix + strconv.Itoa(pkt.Id),
		Radio:    pkt.Radio,
	}
}

func (n *Node) handleAck(pkt Packet) {
	idStr := strings.TrimPrefix(pkt.Payload, meshtypes.AckPayloadPrefix)
	origId, err := strconv.Atoi(idStr)
	if err != nil {
		return
	}
	pm, ok := n.pendingMessages[origId]
	if !ok {
		return
	}
	recipient := pm.RecipientId
	if recipient == meshtypes.BroadcastId {
		recipient = pkt.SourceId
	}
	n.Bandit.RecordAttempt(pm.Frequency, recipient, true)
	delete(n.pendingMessages, origId)
}

func (n *Node) handleGossip(pkt Packet, rssi float64, tick int) {
	body := strings.TrimPrefix(pkt.Payload, meshtypes.GossipPayloadPrefix)
	var entries []GossipEntry
	if err := json.Unmarshal([]byte(body), &entries); err != nil {
		entries = nil
	}

	selfEntry := entryFor(entries, pkt.SourceId)
	n.upsertNeighbor(&NeighborEntry{
		NodeId:        pkt.SourceId,
		SequenceNum:   selfEntry.SequenceNum,
		HopsAway:      1,
		LastSeenTick:  tick,
		Rssi:          rssi,
		Lat:           pkt.OriginLat,
		Lng:           pkt.OriginLng,
		PosConfidence: selfEntry.PosConfidence,
		ViaNode:       pkt.SourceId,
	})

	for _, e := range entries {
		if e.NodeId == n.Id || e.NodeId == pkt.SourceId {
			continue
		}
		n.upsertNeighbor(&NeighborEntry{
			NodeId:        e.NodeId,
			SequenceNum:   e.SequenceNum,
			HopsAway:      e.HopsAway + 1,
			LastSeenTick:  tick,
			Rssi:          rssi,
			Lat:           e.Lat,
			Lng:           e.Lng,
			PosConfidence: e.PosConfidence * 0.9,
			ViaNode:       pkt.SourceId,
			Label:         e.Label,
		})
	}
}

// entryFor returns the gossip entry a node submitted for itself, or the
// zero value (PosConfidence 0, SequenceNum 0) if it is absent from a
// malformed or truncated payload.
func entryFor(entries []GossipEntry, nodeId meshtypes.NodeId) GossipEntry {
	for _, e := range entries {
		if e.NodeId == nodeId {
			return e
		}
	}
	return GossipEntry{}
}

func (n *Node) upsertNeighbor(update *NeighborEntry) {
	existing, ok := n.neighborTable[update.NodeId]
	if !ok {
		n.neighborTable[update.NodeId] = update
		return
	}
	if existing.SequenceNum < update.SequenceNum ||
		(existing.SequenceNum == update.SequenceNum && update.HopsAway < existing.HopsAway) {
		n.neighborTable[update.NodeId] = update
	} else {
		// Refresh liveness even when the payload itself is stale.
		existing.LastSeenTick = update.LastSeenTick
	}
}

func stripTrackingTag(payload string) string {
	if !strings.HasPrefix(payload, meshtypes.TrackingTagPrefix) {
		return payload
	}
	rest := payload[len(meshtypes.TrackingTagPrefix):]
	end := strings.Index(rest, "]")
	if end == -1 {
		return payload
	}
	return rest[end+1:]
}

// getNextHop implements the greedy-forwarding + gradient-fallback routing
// rule against the (optionally trust-filtered) candidate neighbor set.
func (n *Node) getNextHop(destId meshtypes.NodeId) (meshtypes.NodeId, bool) {
	candidates := n.routingCandidates()
	if len(candidates) == 0 {
		return meshtypes.InvalidNodeId, false
	}

	if direct, ok := candidates[destId]; ok && direct.HopsAway == 1 {
		return destId, true
	}

	destEntry, haveDest := n.neighborTable[destId]

	if haveDest && destEntry.PosConfidence > 0.3 {
		myDist := planarDistance(n.EstLat, n.EstLng, destEntry.Lat, destEntry.Lng)
		best := meshtypes.InvalidNodeId
		bestDist := myDist
		for id, c := range candidates {
			if c.HopsAway != 1 || c.PosConfidence <= 0.3 {
				continue
			}
			d := planarDistance(c.Lat, c.Lng, destEntry.Lat, destEntry.Lng)
			if d >= myDist {
				continue // must strictly reduce distance to dest
			}
			if best == meshtypes.InvalidNodeId || d < bestDist || (d == bestDist && id < best) {
				bestDist = d
				best = id
			}
		}
		if best != meshtypes.InvalidNodeId {
			return best, true
		}

		if destEntry.ViaNode != meshtypes.InvalidNodeId {
			if via, ok := candidates[destEntry.ViaNode]; ok && via.HopsAway == 1 {
				return destEntry.ViaNode, true
			}
		}

		minId := meshtypes.InvalidNodeId
		minDist := -1.0
		for id, c := range candidates {
			if c.HopsAway != 1 {
				continue
			}
			d := planarDistance(c.Lat, c.Lng, destEntry.Lat, destEntry.Lng)
			if minDist < 0 || d < minDist || (d == minDist && id < minId) {
				minDist = d
				minId = id
			}
		}
		if minId != meshtypes.InvalidNodeId {
			return minId, true
		}
	}

	return meshtypes.InvalidNodeId, false
}

func planarDistance(lat1, lng1, lat2, lng2 float64) float64 {
	return geo.Haversine(geo.LatLon{Lat: lat1, Lon: lng1}, geo.LatLon{Lat: lat2, Lon: lng2})
}

func (n *Node) routingCandidates() map[meshtypes.NodeId]*NeighborEntry {
	if !n.TrustedOnlyRouting {
		return n.neighborTable
	}
	out := make(map[meshtypes.NodeId]*NeighborEntry)
	for id, e := range n.neighborTable {
		if _, trusted := n.trustedPeers[id]; trusted {
			out[id] = e
		}
	}
	return out
}

// EnqueueUserData queues a user data packet toward destId. Under
// trustedOnlyRouting, a destination with no trusted path is dropped rather
// than flooded as a broadcast, which would bypass the trust gate.
func (n *Node) EnqueueUserData(destId meshtypes.NodeId, payload string, tick int) {
	nextHop, ok := n.getNextHop(destId)
	if !ok {
		if n.TrustedOnlyRouting {
			return
		}
		nextHop = meshtypes.BroadcastId
	}

	radio := meshtypes.RadioLoRa
	freq := meshtypes.FrequencyRouted
	if ok {
		if entry, hasEntry := n.neighborTable[nextHop]; hasEntry && entry.HopsAway == 1 {
			freq = meshtypes.FrequencyDirect
			d := planarDistance(n.EstLat, n.EstLng, entry.Lat, entry.Lng)
			if d <= meshtypes.BLERangeM {
				radio = meshtypes.RadioBLE
			}
		}
	}

	pkt := Packet{
		Id:       n.nextPacketId(),
		Kind:     meshtypes.PacketData,
		SourceId: n.Id,
		DestId:   destId,
		NextHop:  nextHop,
		Ttl:      meshtypes.MaxTTL,
		HopCount: 0,
		Payload:  payload,
		Radio:    radio,
	}
	n.TxQueue = append(n.TxQueue, pkt)
	n.pendingMessages[pkt.Id] = pendingMessage{
		DestId:      destId,
		RecipientId: nextHop,
		SentTick:    tick,
		Frequency:   freq,
	}
	n.SentMessages = append(n.SentMessages, SentMessage{
		ToNodeId: destId,
		Text:     payload,
		Status:   "sent",
		Tick:     tick,
	})
}

// TrustPeer installs a peer's public key and seeds its reputation.
func (n *Node) TrustPeer(peerId meshtypes.NodeId, publicKey string) {
	n.trustedPeers[peerId] = publicKey
	if _, ok := n.reputationScores[peerId]; !ok {
		n.reputationScores[peerId] = 0.5
	}
}

// UntrustPeer removes a single trust relationship.
func (n *Node) UntrustPeer(peerId meshtypes.NodeId) {
	delete(n.trustedPeers, peerId)
}

// ClearTrustedPeers removes every trust relationship.
func (n *Node) ClearTrustedPeers() {
	n.trustedPeers = make(map[meshtypes.NodeId]string)
}

// TrustedPeerIds returns the current trusted-peer id set.
func (n *Node) TrustedPeerIds() []meshtypes.NodeId {
	ids := make([]meshtypes.NodeId, 0, len(n.trustedPeers))
	for id := range n.trustedPeers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// VerifyMessage is a placeholder signature check: accept iff the signature
// suffix is non-empty and the peer is trusted.
func (n *Node) VerifyMessage(peerId meshtypes.NodeId, signatureSuffix string) bool {
	if signatureSuffix == "" {
		return false
	}
	_, trusted := n.trustedPeers[peerId]
	return trusted
}

// RecordTransmissionResult penalizes the bandit arm for a still-pending
// packet whose delivery at one receiver ended in collision or jamming.
// Other outcomes are ignored here; successes are credited when the ACK
// arrives (handleAck).
func (n *Node) RecordTransmissionResult(packetId int, status meshtypes.TxStatus) {
	if status != meshtypes.StatusCollision && status != meshtypes.StatusJammed {
		return
	}
	pm, ok := n.pendingMessages[packetId]
	if !ok {
		return
	}
	n.Bandit.RecordAttempt(pm.Frequency, pm.RecipientId, false)
}

// NeighborCount returns the size of the live neighbor table.
func (n *Node) NeighborCount() int { return len(n.neighborTable) }

// KnownNodeIds returns every node id this node currently has a neighbor
// entry for.
func (n *Node) KnownNodeIds() []meshtypes.NodeId {
	ids := make([]meshtypes.NodeId, 0, len(n.neighborTable))
	for id := range n.neighborTable {
		ids = append(ids, id)
	}
	return ids
}

// DiscoveredLabels returns the label last seen for every known neighbor.
func (n *Node) DiscoveredLabels() map[meshtypes.NodeId]string {
	out := make(map[meshtypes.NodeId]string, len(n.neighborTable))
	for id, e := range n.neighborTable {
		if e.Label != "" {
			out[id] = e.Label
		}
	}
	return out
}
