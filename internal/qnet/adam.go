package qnet

import (
	"fmt"
	"math"
)

// #region adam-config

// AdamConfig holds optimizer hyperparameters.
type AdamConfig struct {
	LearningRate float64 // step size (default 1e-5)
	Beta1        float64 // first-moment decay (default 0.9)
	Beta2        float64 // second-moment decay (default 0.999)
	Epsilon      float64 // denominator floor (default 1e-8)
}

// DefaultAdamConfig returns the standard Adam settings at the agent's learning rate.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 1e-5,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// #endregion adam-config

// #region adam

// Adam keeps first and second moment estimates for a fixed parameter layout.
type Adam struct {
	config AdamConfig
	step   int
	m      [][]float64
	v      [][]float64
}

// AdamState is the serializable optimizer state.
type AdamState struct {
	Config AdamConfig  `json:"config"`
	Step   int         `json:"step"`
	M      [][]float64 `json:"m"`
	V      [][]float64 `json:"v"`
}

// NewAdam creates an optimizer for parameters shaped like params.
func NewAdam(config AdamConfig, params [][]float64) *Adam {
	a := &Adam{config: config}
	for _, p := range params {
		a.m = append(a.m, make([]float64, len(p)))
		a.v = append(a.v, make([]float64, len(p)))
	}
	return a
}

// Step applies one bias-corrected Adam update to params in place.
func (a *Adam) Step(params, grads [][]float64) error {
	if err := a.checkLayout(params); err != nil {
		return err
	}
	if err := a.checkLayout(grads); err != nil {
		return err
	}

	a.step++
	c := a.config
	correct1 := 1 - math.Pow(c.Beta1, float64(a.step))
	correct2 := 1 - math.Pow(c.Beta2, float64(a.step))
	for k, p := range params {
		g := grads[k]
		m, v := a.m[k], a.v[k]
		for i := range p {
			m[i] = c.Beta1*m[i] + (1-c.Beta1)*g[i]
			v[i] = c.Beta2*v[i] + (1-c.Beta2)*g[i]*g[i]
			mHat := m[i] / correct1
			vHat := v[i] / correct2
			p[i] -= c.LearningRate * mHat / (math.Sqrt(vHat) + c.Epsilon)
		}
	}
	return nil
}

// Steps returns how many updates have been applied.
func (a *Adam) Steps() int { return a.step }

// State returns a deep copy of the optimizer state.
func (a *Adam) State() AdamState {
	return AdamState{
		Config: a.config,
		Step:   a.step,
		M:      cloneRows(a.m),
		V:      cloneRows(a.v),
	}
}

// SetState restores optimizer state saved by State.
func (a *Adam) SetState(s AdamState) error {
	if err := a.checkLayout(s.M); err != nil {
		return fmt.Errorf("first moments: %w", err)
	}
	if err := a.checkLayout(s.V); err != nil {
		return fmt.Errorf("second moments: %w", err)
	}
	a.config = s.Config
	a.step = s.Step
	a.m = cloneRows(s.M)
	a.v = cloneRows(s.V)
	return nil
}

func (a *Adam) checkLayout(rows [][]float64) error {
	if len(rows) != len(a.m) {
		return fmt.Errorf("%w: %d parameter groups, want %d", ErrShape, len(rows), len(a.m))
	}
	for k := range rows {
		if len(rows[k]) != len(a.m[k]) {
			return fmt.Errorf("%w: group %d has %d values, want %d", ErrShape, k, len(rows[k]), len(a.m[k]))
		}
	}
	return nil
}

func cloneRows(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = append([]float64(nil), r...)
	}
	return out
}

// #endregion adam
