// Package bandit implements the per-(frequency,recipient) Beta-Binomial
// arm tracker the routing layer uses to prefer peers/paths that have
// historically delivered.
package bandit

import (
	"fmt"

	"github.com/MythicalCow/lifelink/meshtypes"
)

const maxHistory = 100

// armKey identifies one bandit arm: a (routing frequency, recipient) pair.
type armKey struct {
	freq      meshtypes.Frequency
	recipient meshtypes.NodeId
}

// arm holds the Beta-Binomial counts and bounded attempt history for one
// (frequency, recipient) pair.
type arm struct {
	successes int
	failures  int
	history   []bool // true = success, bounded to maxHistory, oldest dropped first
}

func (a *arm) totalAttempts() int { return a.successes + a.failures }

func (a *arm) successRate() float64 {
	total := a.totalAttempts()
	if total == 0 {
		return 0
	}
	return float64(a.successes) / float64(total)
}

// Tracker scores and records forwarding attempts per (frequency, recipient)
// arm, following the same bounded-history-then-truncate idiom the teacher
// uses for per-node result buffers: append, then drop the oldest entry once
// the cap is exceeded rather than ever resetting the whole slice.
type Tracker struct {
	arms map[armKey]*arm
}

// NewTracker builds an empty bandit tracker.
func NewTracker() *Tracker {
	return &Tracker{arms: make(map[armKey]*arm)}
}

func (t *Tracker) get(freq meshtypes.Frequency, recipient meshtypes.NodeId) *arm {
	return t.arms[armKey{freq, recipient}]
}

func (t *Tracker) getOrCreate(freq meshtypes.Frequency, recipient meshtypes.NodeId) *arm {
	k := armKey{freq, recipient}
	a, ok := t.arms[k]
	if !ok {
		a = &arm{}
		t.arms[k] = a
	}
	return a
}

// RecordAttempt logs one forwarding attempt's outcome for an arm.
func (t *Tracker) RecordAttempt(freq meshtypes.Frequency, recipient meshtypes.NodeId, success bool) {
	a := t.getOrCreate(freq, recipient)
	if success {
		a.successes++
	} else {
		a.failures++
	}
	a.history = append(a.history, success)
	if len(a.history) > maxHistory {
		a.history = a.history[1:]
	}
}

func freqMultiplier(freq meshtypes.Frequency) float64 {
	if freq == meshtypes.FrequencyDirect {
		return 1.0
	}
	m := 1.0 - 0.2*float64(freq-1)
	if m < 0.5 {
		m = 0.5
	}
	return m
}

// ThompsonScore returns (successes+1)/(successes+failures+2) * freqMultiplier.
// An arm with no recorded attempts scores the neutral 0.5 * freqMultiplier.
func (t *Tracker) ThompsonScore(freq meshtypes.Frequency, recipient meshtypes.NodeId) float64 {
	a := t.get(freq, recipient)
	var alpha, beta float64 = 1, 1
	if a != nil {
		alpha = float64(a.successes) + 1
		beta = float64(a.failures) + 1
	}
	return (alpha / (alpha + beta)) * freqMultiplier(freq)
}

// FrequencyWeightedScore is ThompsonScore further scaled by min(1,
// attempts/5), a sample-size confidence factor so arms with little history
// don't outrank well-evidenced ones on a lucky streak.
func (t *Tracker) FrequencyWeightedScore(freq meshtypes.Frequency, recipient meshtypes.NodeId) float64 {
	score := t.ThompsonScore(freq, recipient)
	a := t.get(freq, recipient)
	attempts := 0
	if a != nil {
		attempts = a.totalAttempts()
	}
	confidence := float64(attempts) / 5.0
	if confidence > 1 {
		confidence = 1
	}
	return score * confidence
}

// BestArm returns the recipient with the highest frequency-weighted score
// among the given candidates for freq, or ok=false if candidates is empty.
func (t *Tracker) BestArm(freq meshtypes.Frequency, candidates []meshtypes.NodeId) (best meshtypes.NodeId, ok bool) {
	if len(candidates) == 0 {
		return meshtypes.InvalidNodeId, false
	}
	bestScore := -1.0
	for _, c := range candidates {
		s := t.FrequencyWeightedScore(freq, c)
		if s > bestScore {
			bestScore = s
			best = c
		}
	}
	return best, true
}

// Reset clears all arm state, e.g. on simulator Reset.
func (t *Tracker) Reset() {
	t.arms = make(map[armKey]*arm)
}

// ArmStats is a value-copy snapshot of one arm's counters, for SimState.
type ArmStats struct {
	SuccessCount  int
	FailureCount  int
	TotalAttempts int
	SuccessRate   float64
}

// Snapshot returns a value-copy stats map keyed "freq:recipient", matching
// the snapshot shape spec.md §6 requires for banditStats.
func (t *Tracker) Snapshot() map[string]ArmStats {
	out := make(map[string]ArmStats, len(t.arms))
	for k, a := range t.arms {
		key := keyString(k)
		out[key] = ArmStats{
			SuccessCount:  a.successes,
			FailureCount:  a.failures,
			TotalAttempts: a.totalAttempts(),
			SuccessRate:   a.successRate(),
		}
	}
	return out
}

func keyString(k armKey) string {
	return fmt.Sprintf("%d:%s", int(k.freq), k.recipient.String())
}
