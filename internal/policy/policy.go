package policy

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/yooozz3/target-assign-rl/internal/alloc"
	"github.com/yooozz3/target-assign-rl/internal/planner"
	"github.com/yooozz3/target-assign-rl/internal/remote"
)

// #region errors

// ErrUnknownStrategy is returned when a policy name has no registered constructor.
var ErrUnknownStrategy = errors.New("unknown policy strategy")

// ErrCapabilityUnavailable is returned when a policy was compiled out of this build.
var ErrCapabilityUnavailable = errors.New("policy capability unavailable in this build")

// #endregion errors

// #region interface

// Policy picks the next threat index for one unit.
type Policy interface {
	Predict(state []float64, mask []bool) (int, error)
	Reset()
}

// #endregion interface

// #region options

// Options carries the settings every constructor may draw from.
type Options struct {
	NumThreats      int
	NumDrones       int
	Seed            uint64        // 0 = random
	Hidden          []int         // iql hidden widths, nil = agent default
	RedundancyLimit int           // iql per-threat unit cap, 0 = disabled
	Checkpoint      string        // iql checkpoint to restore, empty = fresh weights
	RemoteAddr      string        // remote policy service address
	RemoteTimeout   time.Duration // per-call remote timeout (0 = remote.DefaultTimeout)
}

// DefaultOptions returns the 20-threat, 20-drone setup with the standard
// redundancy limit of 3.
func DefaultOptions() Options {
	cfg := planner.DefaultConfig()
	return Options{NumThreats: cfg.NumThreats, NumDrones: cfg.NumDrones, RedundancyLimit: 3}
}

// #endregion options

// #region registry

// Constructor builds a policy from options.
type Constructor func(Options) (Policy, error)

// Registry maps strategy names to constructors.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: map[string]Constructor{}}
}

// DefaultRegistry returns a registry holding the built-in strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("greedy", newGreedy)
	r.Register("random", newRandom)
	r.Register("iql", newIQL)
	r.Register("remote", newRemote)
	return r
}

// Register binds name to c, replacing any previous binding.
func (r *Registry) Register(name string, c Constructor) {
	r.constructors[name] = c
}

// Names lists registered strategies in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named policy. Unset dimensions take DefaultOptions values.
func (r *Registry) New(name string, opts Options) (Policy, error) {
	c, ok := r.constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownStrategy, name, r.Names())
	}
	def := DefaultOptions()
	if opts.NumThreats <= 0 {
		opts.NumThreats = def.NumThreats
	}
	if opts.NumDrones < 0 {
		opts.NumDrones = def.NumDrones
	}
	p, err := c(opts)
	if err != nil {
		return nil, fmt.Errorf("build %s policy: %w", name, err)
	}
	return p, nil
}

// #endregion registry

// #region builtins

func newGreedy(opts Options) (Policy, error) {
	return planner.New(planner.Config{NumThreats: opts.NumThreats, NumDrones: opts.NumDrones}), nil
}

func newRandom(opts Options) (Policy, error) {
	return NewRandom(opts.NumThreats, opts.Seed), nil
}

func newRemote(opts Options) (Policy, error) {
	if opts.RemoteAddr == "" {
		return nil, fmt.Errorf("remote policy needs an address")
	}
	c, err := remote.NewClient(opts.RemoteAddr, opts.RemoteTimeout)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// #endregion builtins

// #region random

// Random picks uniformly among eligible threats.
type Random struct {
	n   int
	rng *rand.Rand
}

// NewRandom creates a random policy over n threats. A zero seed draws a random one.
func NewRandom(n int, seed uint64) *Random {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Random{n: n, rng: rand.New(rand.NewPCG(seed, seed>>1|1))}
}

// Predict ignores the state beyond its shape. A nil mask makes every threat eligible.
func (r *Random) Predict(_ []float64, mask []bool) (int, error) {
	if err := alloc.CheckMask(mask, r.n); err != nil {
		return 0, err
	}
	eligible := alloc.Eligible(mask, r.n)
	if len(eligible) == 0 {
		return 0, fmt.Errorf("random policy: %w", alloc.ErrNoEligibleAction)
	}
	return eligible[r.rng.IntN(len(eligible))], nil
}

// Reset is a no-op; Random keeps no episode state.
func (r *Random) Reset() {}

// #endregion random
