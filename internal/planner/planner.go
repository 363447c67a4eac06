package planner

import (
	"errors"
	"fmt"

	"github.com/yooozz3/target-assign-rl/internal/alloc"
)

// ErrPlanExhausted means every threat already holds its planned units.
// Callers should not request another action until the next reset.
var ErrPlanExhausted = errors.New("allocation plan exhausted")

// #region config

// Config sizes the planner.
type Config struct {
	NumThreats int // threat entries read from the state prefix (default 20)
	NumDrones  int // total unit budget per episode (default 20)
}

// DefaultConfig returns the standard 20-threat, 20-drone setup.
func DefaultConfig() Config {
	return Config{
		NumThreats: 20,
		NumDrones:  20,
	}
}

// #endregion config

// #region pre-allocate

// PreAllocate computes the target distribution of budget units over threats.
// Phase 1 gives each positive threat one unit in index order. Phase 2 sweeps
// the positive threats round-robin until the budget is spent. Threats with
// level <= 0 never receive units, and budget left over when no threat is
// positive stays unspent.
func PreAllocate(threats []float64, budget int) []int {
	plan := make([]int, len(threats))
	remaining := budget

	positive := 0
	for i, level := range threats {
		if level > 0 {
			positive++
			if remaining > 0 {
				plan[i]++
				remaining--
			}
		}
	}
	if positive == 0 {
		return plan
	}

	for remaining > 0 {
		for i, level := range threats {
			if level > 0 {
				plan[i]++
				remaining--
			}
			if remaining == 0 {
				break
			}
		}
	}
	return plan
}

// #endregion pre-allocate

// #region planner

// Planner dispatches one unit per call so that the running allocation
// converges on the episode's pre-allocation plan.
type Planner struct {
	config  Config
	plan    []int
	current []int
	cursor  int
}

// New creates a planner. A non-positive NumThreats or negative NumDrones
// falls back to the DefaultConfig value.
func New(config Config) *Planner {
	def := DefaultConfig()
	if config.NumThreats <= 0 {
		config.NumThreats = def.NumThreats
	}
	if config.NumDrones < 0 {
		config.NumDrones = def.NumDrones
	}
	return &Planner{
		config:  config,
		current: make([]int, config.NumThreats),
	}
}

// Predict returns the next threat index to receive a unit. The mask is
// accepted for interface parity; the plan already excludes inactive threats.
func (p *Planner) Predict(state []float64, _ []bool) (int, error) {
	n := p.config.NumThreats
	if len(state) < n {
		return 0, fmt.Errorf("%w: planner needs %d threat entries, got %d", alloc.ErrStateShape, n, len(state))
	}

	if p.plan == nil {
		p.plan = PreAllocate(state[:n], p.config.NumDrones)
	}

	// Plan fully realized: start the next cycle from zero.
	if alloc.Equal(p.current, p.plan) {
		p.restart()
	}

	for p.cursor < n {
		if p.current[p.cursor] < p.plan[p.cursor] {
			p.current[p.cursor]++
			return p.cursor, nil
		}
		p.cursor++
	}
	return 0, ErrPlanExhausted
}

// Reset discards the plan so the next Predict recomputes it from the state.
func (p *Planner) Reset() {
	p.plan = nil
	p.restart()
}

// Plan returns a copy of the current pre-allocation, or nil before the first call.
func (p *Planner) Plan() []int {
	if p.plan == nil {
		return nil
	}
	return append([]int(nil), p.plan...)
}

// Allocation returns a copy of the units dispatched so far in this cycle.
func (p *Planner) Allocation() []int {
	return append([]int(nil), p.current...)
}

func (p *Planner) restart() {
	p.current = make([]int, p.config.NumThreats)
	p.cursor = 0
}

// #endregion planner
