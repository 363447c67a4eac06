package env

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/yooozz3/target-assign-rl/internal/alloc"
	"github.com/yooozz3/target-assign-rl/internal/planner"
)

// #region errors

// ErrEpisodeDone is returned by Step after the unit budget is spent.
var ErrEpisodeDone = errors.New("episode already done")

// ErrInvalidAction is returned by Step for an out-of-range threat index.
var ErrInvalidAction = errors.New("invalid action")

// #endregion errors

// #region config

// Config shapes the generated episodes.
type Config struct {
	NumThreats int     // threats per episode (default 20)
	NumDrones  int     // unit budget per episode (default 20)
	ActiveProb float64 // chance each threat is active (default 0.5)
	MaxLevel   int     // active threat levels are drawn from [1, MaxLevel] (default 5)
	Seed       uint64  // 0 = random
}

// DefaultConfig returns the standard episode generator settings.
func DefaultConfig() Config {
	return Config{
		NumThreats: 20,
		NumDrones:  20,
		ActiveProb: 0.5,
		MaxLevel:   5,
	}
}

// Validate checks generator settings.
func (c Config) Validate() error {
	if c.NumThreats <= 0 {
		return fmt.Errorf("num threats must be positive, got %d", c.NumThreats)
	}
	if c.NumDrones < 0 {
		return fmt.Errorf("num drones must be >= 0, got %d", c.NumDrones)
	}
	if c.ActiveProb <= 0 || c.ActiveProb > 1 {
		return fmt.Errorf("active prob must be in (0, 1], got %g", c.ActiveProb)
	}
	if c.MaxLevel < 1 {
		return fmt.Errorf("max level must be >= 1, got %d", c.MaxLevel)
	}
	return nil
}

// #endregion config

// #region env

// Env is a single-owner allocation episode. Each step commits one unit to a
// threat; the episode ends once the planned number of units is spent.
type Env struct {
	config  Config
	rng     *rand.Rand
	threats []float64
	plan    []int
	current []int
	spent   int
	budget  int
}

// New creates an environment. Call Reset or ResetWith before Step.
func New(config Config) (*Env, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("env config: %w", err)
	}
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Env{
		config: config,
		rng:    rand.New(rand.NewPCG(seed, ^seed)),
	}, nil
}

// Config returns the generator settings.
func (e *Env) Config() Config { return e.config }

// Reset draws a fresh threat vector and returns the initial state. At least
// one threat is always active.
func (e *Env) Reset() []float64 {
	n := e.config.NumThreats
	threats := make([]float64, n)
	active := 0
	for i := range threats {
		if e.rng.Float64() < e.config.ActiveProb {
			threats[i] = float64(1 + e.rng.IntN(e.config.MaxLevel))
			active++
		}
	}
	if active == 0 {
		threats[e.rng.IntN(n)] = float64(1 + e.rng.IntN(e.config.MaxLevel))
	}
	e.start(threats)
	return e.State()
}

// ResetWith starts an episode from a fixed threat vector.
func (e *Env) ResetWith(threats []float64) ([]float64, error) {
	if len(threats) != e.config.NumThreats {
		return nil, fmt.Errorf("%w: got %d threats, want %d", alloc.ErrStateShape, len(threats), e.config.NumThreats)
	}
	e.start(append([]float64(nil), threats...))
	return e.State(), nil
}

func (e *Env) start(threats []float64) {
	e.threats = threats
	e.plan = planner.PreAllocate(threats, e.config.NumDrones)
	e.current = make([]int, len(threats))
	e.spent = 0
	e.budget = alloc.Sum(e.plan)
}

// State is threats, plan and current allocation concatenated.
func (e *Env) State() []float64 {
	return alloc.BuildState(e.threats, e.plan, e.current)
}

// Mask marks active threats as eligible.
func (e *Env) Mask() []bool {
	mask := make([]bool, len(e.threats))
	for i, level := range e.threats {
		mask[i] = level > 0
	}
	return mask
}

// Step commits one unit to action. The reward is +1 while the threat stays
// within its planned units and -1 once it exceeds them.
func (e *Env) Step(action int) (next []float64, reward float64, done bool, err error) {
	if e.threats == nil || e.Done() {
		return nil, 0, true, ErrEpisodeDone
	}
	if action < 0 || action >= len(e.threats) {
		return nil, 0, false, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidAction, action, len(e.threats))
	}
	e.current[action]++
	e.spent++
	reward = -1
	if e.current[action] <= e.plan[action] {
		reward = 1
	}
	return e.State(), reward, e.Done(), nil
}

// Done reports whether the planned number of units has been spent.
func (e *Env) Done() bool { return e.spent >= e.budget }

// Matched reports whether the allocation equals the plan exactly.
func (e *Env) Matched() bool { return alloc.Equal(e.current, e.plan) }

// Threats returns a copy of the episode's threat levels.
func (e *Env) Threats() []float64 { return append([]float64(nil), e.threats...) }

// Plan returns a copy of the episode's pre-allocation.
func (e *Env) Plan() []int { return append([]int(nil), e.plan...) }

// Allocation returns a copy of the units committed so far.
func (e *Env) Allocation() []int { return append([]int(nil), e.current...) }

// #endregion env
