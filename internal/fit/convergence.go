package fit

import (
	"log/slog"
	"math"
)

// ConvergenceConfig decides when a multi-start search stops issuing new
// starts because recent starts no longer improve on the best result.
type ConvergenceConfig struct {
	// Enabled controls whether early stopping is active
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Patience is the number of consecutive starts without significant
	// improvement tolerated before stopping
	Patience int `json:"patience" yaml:"patience" validate:"gte=0"`

	// Threshold is the minimum relative improvement of the best cost that
	// counts as progress, e.g. 0.01 = 1%
	Threshold float64 `json:"threshold" yaml:"threshold" validate:"gte=0"`
}

// DefaultConvergenceConfig stops after three starts that improve the best
// cost by less than 1%.
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:   true,
		Patience:  3,
		Threshold: 0.01,
	}
}

// DisabledConvergenceConfig runs every configured start.
func DisabledConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{Enabled: false}
}

// ConvergenceTracker follows the best final cost across starts.
type ConvergenceTracker struct {
	config          ConvergenceConfig
	history         []float64
	best            float64
	lastSignificant float64
	stale           int
}

// NewConvergenceTracker creates a tracker with the given config.
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{
		config:          config,
		best:            math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

// Update records the final cost of one start and reports whether the
// search should stop.
func (c *ConvergenceTracker) Update(cost float64) bool {
	c.history = append(c.history, cost)
	if cost < c.best {
		c.best = cost
	}
	if !c.config.Enabled {
		return false
	}

	if len(c.history) == 1 {
		c.lastSignificant = c.best
		return false
	}

	improvement := relativeImprovement(c.lastSignificant, c.best)
	if improvement >= c.config.Threshold && improvement > 0 {
		c.lastSignificant = c.best
		c.stale = 0
		slog.Debug("Start improved best cost",
			"best_cost", c.best,
			"relative_improvement", improvement,
		)
		return false
	}

	c.stale++
	slog.Debug("Start did not improve best cost",
		"cost", cost,
		"best_cost", c.best,
		"stale", c.stale,
		"patience", c.config.Patience,
	)
	if c.stale >= c.config.Patience {
		slog.Info("Multi-start converged, stopping early",
			"starts", len(c.history),
			"best_cost", c.best,
		)
		return true
	}
	return false
}

func relativeImprovement(old, cur float64) float64 {
	if old == 0 {
		return 0
	}
	return (old - cur) / math.Abs(old)
}

// BestCost returns the lowest cost seen so far.
func (c *ConvergenceTracker) BestCost() float64 {
	return c.best
}

// History returns a copy of every recorded cost.
func (c *ConvergenceTracker) History() []float64 {
	return append([]float64{}, c.history...)
}

// StaleCount returns the number of consecutive non-improving starts.
func (c *ConvergenceTracker) StaleCount() int {
	return c.stale
}

// Reset clears the tracker's state.
func (c *ConvergenceTracker) Reset() {
	c.history = nil
	c.best = math.Inf(1)
	c.lastSignificant = math.Inf(1)
	c.stale = 0
}
