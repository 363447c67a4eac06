package iql

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/yooozz3/target-assign-rl/internal/alloc"
	"github.com/yooozz3/target-assign-rl/internal/qnet"
	"github.com/yooozz3/target-assign-rl/internal/replay"
)

// #region agent

// Agent is an independent Q-learner with an online network, a target
// network synced by hard copy, and epsilon-greedy exploration.
type Agent struct {
	config  Config
	online  *qnet.Network
	target  *qnet.Network
	opt     *qnet.Adam
	epsilon float64
	local   []int // units this agent dispatched in the current cycle
	rng     *rand.Rand
}

// New builds an agent with freshly initialized networks. The target network
// starts as an exact copy of the online network.
func New(config Config) (*Agent, error) {
	if config.Hidden == nil {
		config.Hidden = DefaultConfig(config.ActionDim).Hidden
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("iql config: %w", err)
	}

	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	sizes := append([]int{config.StateDim()}, config.Hidden...)
	sizes = append(sizes, config.ActionDim)
	online, err := qnet.NewNetwork(sizes, rng)
	if err != nil {
		return nil, fmt.Errorf("online network: %w", err)
	}
	target, err := qnet.NewNetwork(sizes, rng)
	if err != nil {
		return nil, fmt.Errorf("target network: %w", err)
	}
	if err := target.CopyFrom(online); err != nil {
		return nil, fmt.Errorf("sync target: %w", err)
	}

	adam := qnet.DefaultAdamConfig()
	adam.LearningRate = config.LearningRate

	return &Agent{
		config:  config,
		online:  online,
		target:  target,
		opt:     qnet.NewAdam(adam, online.Params()),
		epsilon: config.EpsilonStart,
		local:   make([]int, config.ActionDim),
		rng:     rng,
	}, nil
}

// Config returns the agent configuration.
func (a *Agent) Config() Config { return a.config }

// Epsilon returns the current exploration rate.
func (a *Agent) Epsilon() float64 { return a.epsilon }

// Allocation returns a copy of the units dispatched in the current cycle.
func (a *Agent) Allocation() []int { return append([]int(nil), a.local...) }

// #endregion agent

// #region predict

// Predict picks the greedy action under the external mask and the redundancy
// limit. It updates the local allocation counter and nothing else.
func (a *Agent) Predict(state []float64, mask []bool) (int, error) {
	n := a.config.ActionDim
	_, pre, _, err := alloc.SplitState(state, n)
	if err != nil {
		return 0, err
	}
	if err := alloc.CheckMask(mask, n); err != nil {
		return 0, err
	}

	// A new cycle starts once the plan read from the state is fully dispatched.
	if float64(alloc.Sum(a.local)) == alloc.SumFloat(pre) {
		a.Reset()
	}

	var redundant alloc.Mask
	if limit := a.config.RedundancyLimit; limit > 0 {
		redundant = make(alloc.Mask, n)
		for i, c := range a.local {
			redundant[i] = c < limit
		}
	}
	effective := alloc.CombineMasks(n, mask, redundant)

	q, err := a.online.Forward(state)
	if err != nil {
		return 0, fmt.Errorf("online forward: %w", err)
	}

	best, bestVal := -1, math.Inf(-1)
	for i, v := range q {
		if !effective[i] {
			continue
		}
		if best == -1 || v > bestVal {
			best, bestVal = i, v
		}
	}
	if best == -1 {
		return 0, ErrNoEligibleAction
	}

	a.local[best]++
	return best, nil
}

// SelectAction explores with probability epsilon, choosing uniformly among
// externally eligible actions; otherwise it defers to Predict.
func (a *Agent) SelectAction(state []float64, mask []bool) (int, error) {
	if a.rng.Float64() > a.epsilon {
		return a.Predict(state, mask)
	}

	n := a.config.ActionDim
	if len(state) != a.config.StateDim() {
		return 0, fmt.Errorf("%w: got %d entries, want %d", alloc.ErrStateShape, len(state), a.config.StateDim())
	}
	if err := alloc.CheckMask(mask, n); err != nil {
		return 0, err
	}
	valid := alloc.Eligible(mask, n)
	if len(valid) == 0 {
		return 0, ErrNoEligibleAction
	}
	return valid[a.rng.IntN(len(valid))], nil
}

// Reset clears the local allocation counter.
func (a *Agent) Reset() {
	for i := range a.local {
		a.local[i] = 0
	}
}

// Q returns the online network's action values for state.
func (a *Agent) Q(state []float64) ([]float64, error) { return a.online.Forward(state) }

// TargetQ returns the target network's action values for state.
func (a *Agent) TargetQ(state []float64) ([]float64, error) { return a.target.Forward(state) }

// #endregion predict

// #region update

// Update performs one TD(0) step on the online network and returns the MSE loss.
// The target network is only read.
func (a *Agent) Update(batch []replay.Transition) (float64, error) {
	if len(batch) == 0 {
		return 0, ErrEmptyBatch
	}

	dim, n := a.config.StateDim(), a.config.ActionDim
	B := len(batch)
	states := mat.NewDense(B, dim, nil)
	next := mat.NewDense(B, dim, nil)
	for i, tr := range batch {
		if len(tr.State) != dim || len(tr.NextState) != dim {
			return 0, fmt.Errorf("%w: transition %d has state %d / next %d entries, want %d",
				alloc.ErrStateShape, i, len(tr.State), len(tr.NextState), dim)
		}
		if tr.Action < 0 || tr.Action >= n {
			return 0, fmt.Errorf("transition %d: action %d out of range [0, %d)", i, tr.Action, n)
		}
		states.SetRow(i, tr.State)
		next.SetRow(i, tr.NextState)
	}

	current, err := a.online.ForwardBatch(states)
	if err != nil {
		return 0, fmt.Errorf("online forward: %w", err)
	}
	future, err := a.target.ForwardBatch(next)
	if err != nil {
		return 0, fmt.Errorf("target forward: %w", err)
	}

	dOut := mat.NewDense(B, n, nil)
	var loss float64
	for i, tr := range batch {
		maxNext := math.Inf(-1)
		for _, v := range future.Out.RawRowView(i) {
			if v > maxNext {
				maxNext = v
			}
		}
		notDone := 1.0
		if tr.Done {
			notDone = 0
		}
		y := tr.Reward + notDone*a.config.Gamma*maxNext
		diff := current.Out.At(i, tr.Action) - y
		loss += diff * diff
		dOut.Set(i, tr.Action, 2*diff/float64(B))
	}
	loss /= float64(B)

	grads, err := a.online.Backward(current, dOut)
	if err != nil {
		return 0, fmt.Errorf("backward: %w", err)
	}
	if err := a.opt.Step(a.online.Params(), grads); err != nil {
		return 0, fmt.Errorf("optimizer step: %w", err)
	}
	return loss, nil
}

// UpdateTargetNetwork copies the online parameters into the target network.
func (a *Agent) UpdateTargetNetwork() {
	if err := a.target.CopyFrom(a.online); err != nil {
		// Both networks are built from the same sizes.
		panic(fmt.Sprintf("iql: target sync: %v", err))
	}
}

// UpdateEpsilon decays epsilon toward its floor.
func (a *Agent) UpdateEpsilon() {
	a.epsilon = math.Max(a.config.EpsilonEnd, a.epsilon*a.config.EpsilonDecay)
}

// #endregion update
