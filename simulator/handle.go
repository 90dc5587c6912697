package simulator

import (
	"github.com/MythicalCow/lifelink/meshnode"
	"github.com/MythicalCow/lifelink/meshtypes"
)

// NodeHandle is a narrow external view onto one node, exposing the
// attack-configuration setters spec.md's getNode() surface calls for. It
// is only valid until the next Reset/Construct rebuilds the node table.
type NodeHandle struct {
	node      *meshnode.Node
	malicious *meshnode.Malicious
}

// IsMalicious reports whether this node runs an attack strategy.
func (h *NodeHandle) IsMalicious() bool { return h.malicious != nil }

// SetIntensity configures the attack intensity parameter (jammer/liar/
// sybil strength). A no-op on a non-malicious node.
func (h *NodeHandle) SetIntensity(intensity float64) {
	if h.malicious != nil {
		h.malicious.Intensity = intensity
	}
}

// SetDropProbability configures the selective-drop probability. A no-op
// on a non-malicious/non-selective node.
func (h *NodeHandle) SetDropProbability(p float64) {
	if h.malicious != nil {
		h.malicious.DropProb = p
	}
}

// SetTargetNodeIds configures which source ids a selective-drop node
// targets.
func (h *NodeHandle) SetTargetNodeIds(ids []meshtypes.NodeId) {
	if h.malicious == nil {
		return
	}
	targets := make(map[meshtypes.NodeId]struct{}, len(ids))
	for _, id := range ids {
		targets[id] = struct{}{}
	}
	h.malicious.TargetNodeIds = targets
}
