package fit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvergenceTracker_BasicConvergence(t *testing.T) {
	tracker := NewConvergenceTracker(ConvergenceConfig{
		Enabled:   true,
		Patience:  3,
		Threshold: 0.01,
	})

	assert.Equal(t, math.Inf(1), tracker.BestCost())

	assert.False(t, tracker.Update(1.0), "should not stop after the first start")
	assert.False(t, tracker.Update(0.8), "should not stop after an improving start") // 20% better
	assert.Equal(t, 0, tracker.StaleCount())

	assert.False(t, tracker.Update(0.795), "should not stop yet (1/3)") // 0.625% better than 0.8
	assert.False(t, tracker.Update(0.9), "should not stop yet (2/3)")   // worse start, best unchanged
	assert.Equal(t, 2, tracker.StaleCount())

	assert.True(t, tracker.Update(0.797), "should stop once patience is exhausted (3/3)")
	assert.Equal(t, 0.795, tracker.BestCost())
}

func TestConvergenceTracker_ImprovementResetsStaleCount(t *testing.T) {
	tracker := NewConvergenceTracker(ConvergenceConfig{
		Enabled:   true,
		Patience:  2,
		Threshold: 0.05,
	})

	tracker.Update(1.0)
	tracker.Update(0.99)
	assert.Equal(t, 1, tracker.StaleCount())

	tracker.Update(0.94) // 6% better than the last significant best
	assert.Equal(t, 0, tracker.StaleCount())
}

func TestConvergenceTracker_Disabled(t *testing.T) {
	tracker := NewConvergenceTracker(DisabledConvergenceConfig())

	for _, cost := range []float64{1, 1, 1, 1, 1, 1} {
		assert.False(t, tracker.Update(cost), "disabled tracker must never stop")
	}
	assert.Len(t, tracker.History(), 6)
}

func TestConvergenceTracker_ZeroCost(t *testing.T) {
	tracker := NewConvergenceTracker(ConvergenceConfig{Enabled: true, Patience: 1, Threshold: 0.01})

	tracker.Update(0)
	assert.True(t, tracker.Update(0), "a perfect fit cannot improve, the next start should stop the search")
}

func TestConvergenceTracker_Reset(t *testing.T) {
	tracker := NewConvergenceTracker(DefaultConvergenceConfig())
	tracker.Update(1.0)
	tracker.Update(0.999)
	tracker.Reset()

	assert.Equal(t, math.Inf(1), tracker.BestCost())
	assert.Equal(t, 0, tracker.StaleCount())
	assert.Empty(t, tracker.History())
}
