package bandit

import (
	"testing"

	"github.com/MythicalCow/lifelink/meshtypes"
	"github.com/stretchr/testify/assert"
)

func TestNoDataScoresNeutral(t *testing.T) {
	tr := NewTracker()
	assert.InDelta(t, 0.5, tr.ThompsonScore(meshtypes.FrequencyDirect, 1), 1e-9)
}

func TestRoutedFrequencyPenalized(t *testing.T) {
	tr := NewTracker()
	direct := tr.ThompsonScore(meshtypes.FrequencyDirect, 1)
	routed := tr.ThompsonScore(meshtypes.FrequencyRouted, 1)
	assert.True(t, routed < direct)
}

func TestRecordAttemptMovesSuccessRate(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 20; i++ {
		tr.RecordAttempt(meshtypes.FrequencyDirect, 5, true)
	}
	stats := tr.Snapshot()
	s, ok := stats["1:5"]
	assert.True(t, ok)
	assert.Equal(t, 20, s.SuccessCount)
	assert.Equal(t, 0, s.FailureCount)
	assert.InDelta(t, 1.0, s.SuccessRate, 1e-9)
}

func TestHistoryBounded(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < maxHistory+50; i++ {
		tr.RecordAttempt(meshtypes.FrequencyDirect, 1, i%2 == 0)
	}
	a := tr.arms[armKey{meshtypes.FrequencyDirect, 1}]
	assert.Equal(t, maxHistory, len(a.history))
}

func TestBestArmPrefersHigherSuccessRate(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 10; i++ {
		tr.RecordAttempt(meshtypes.FrequencyDirect, 1, true)
		tr.RecordAttempt(meshtypes.FrequencyDirect, 2, false)
	}
	best, ok := tr.BestArm(meshtypes.FrequencyDirect, []meshtypes.NodeId{1, 2})
	assert.True(t, ok)
	assert.Equal(t, meshtypes.NodeId(1), best)
}

func TestResetClearsArms(t *testing.T) {
	tr := NewTracker()
	tr.RecordAttempt(meshtypes.FrequencyDirect, 1, true)
	tr.Reset()
	assert.Empty(t, tr.Snapshot())
}
