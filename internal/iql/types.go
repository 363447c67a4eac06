package iql

import (
	"errors"
	"fmt"

	"github.com/yooozz3/target-assign-rl/internal/alloc"
)

// #region errors

// ErrEmptyBatch is returned by Update when given no transitions.
var ErrEmptyBatch = errors.New("empty training batch")

// ErrNoEligibleAction aliases the shared alloc sentinel.
var ErrNoEligibleAction = alloc.ErrNoEligibleAction

// #endregion errors

// #region config

// Config holds network sizes and learning parameters for the agent.
type Config struct {
	ActionDim       int     // number of threats N; the state is 3N long
	Hidden          []int   // hidden layer widths (default 256, 256)
	LearningRate    float64 // Adam step size (default 1e-5)
	Gamma           float64 // discount factor (default 0.99)
	EpsilonStart    float64 // initial exploration rate (default 1.0)
	EpsilonEnd      float64 // exploration floor (default 0.01)
	EpsilonDecay    float64 // multiplicative decay per UpdateEpsilon (default 0.995)
	RedundancyLimit int     // max units per threat within a cycle (default 3, 0 = disabled)
	Seed            uint64  // RNG seed for init and exploration (0 = random)
}

// DefaultConfig returns the standard agent setup for n threats.
func DefaultConfig(n int) Config {
	return Config{
		ActionDim:       n,
		Hidden:          []int{256, 256},
		LearningRate:    1e-5,
		Gamma:           0.99,
		EpsilonStart:    1.0,
		EpsilonEnd:      0.01,
		EpsilonDecay:    0.995,
		RedundancyLimit: 3,
	}
}

// StateDim is the flat state length: threats, pre-allocation, allocation.
func (c Config) StateDim() int { return 3 * c.ActionDim }

// Validate checks dimensions and parameter ranges.
func (c Config) Validate() error {
	if c.ActionDim <= 0 {
		return fmt.Errorf("action dim must be positive, got %d", c.ActionDim)
	}
	for _, h := range c.Hidden {
		if h <= 0 {
			return fmt.Errorf("hidden widths must be positive, got %v", c.Hidden)
		}
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %g", c.LearningRate)
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("gamma must be in [0, 1], got %g", c.Gamma)
	}
	if c.EpsilonEnd < 0 || c.EpsilonEnd > c.EpsilonStart || c.EpsilonStart > 1 {
		return fmt.Errorf("epsilon range invalid: start %g end %g", c.EpsilonStart, c.EpsilonEnd)
	}
	if c.EpsilonDecay <= 0 || c.EpsilonDecay > 1 {
		return fmt.Errorf("epsilon decay must be in (0, 1], got %g", c.EpsilonDecay)
	}
	if c.RedundancyLimit < 0 {
		return fmt.Errorf("redundancy limit must be >= 0, got %d", c.RedundancyLimit)
	}
	return nil
}

// #endregion config
