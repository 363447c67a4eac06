package alloc

import (
	"errors"
	"fmt"
)

// #region errors

// ErrStateShape is returned when a state vector does not have the expected length.
var ErrStateShape = errors.New("malformed state shape")

// ErrMaskShape is returned when an action mask length does not match the action count.
var ErrMaskShape = errors.New("malformed action mask")

// ErrNoEligibleAction is returned when the effective mask excludes every action.
var ErrNoEligibleAction = errors.New("no eligible action")

// #endregion errors

// #region types

// ThreatVector holds one non-negative threat level per threat index.
type ThreatVector []float64

// AllocationVector holds the number of units committed to each threat.
type AllocationVector []int

// Mask marks eligible action indices. A nil Mask means every index is eligible.
type Mask []bool

// #endregion types

// #region state-layout

// SplitState slices a flat 3N state into its threat, pre-allocation and
// current-allocation segments. The returned slices alias the input.
func SplitState(state []float64, n int) (threats, pre, current []float64, err error) {
	if n <= 0 || len(state) != 3*n {
		return nil, nil, nil, fmt.Errorf("%w: got %d entries, want %d", ErrStateShape, len(state), 3*n)
	}
	return state[:n], state[n : 2*n], state[2*n:], nil
}

// BuildState concatenates the three segments into a fresh state vector.
func BuildState(threats []float64, pre, current []int) []float64 {
	state := make([]float64, 0, len(threats)+len(pre)+len(current))
	state = append(state, threats...)
	for _, v := range pre {
		state = append(state, float64(v))
	}
	for _, v := range current {
		state = append(state, float64(v))
	}
	return state
}

// #endregion state-layout

// #region masks

// CheckMask validates that a non-nil mask covers exactly n actions.
func CheckMask(mask Mask, n int) error {
	if mask != nil && len(mask) != n {
		return fmt.Errorf("%w: got %d entries, want %d", ErrMaskShape, len(mask), n)
	}
	return nil
}

// CombineMasks returns the element-wise AND of two masks of length n.
// A nil input counts as all-true.
func CombineMasks(n int, masks ...Mask) Mask {
	out := make(Mask, n)
	for i := range out {
		out[i] = true
	}
	for _, m := range masks {
		if m == nil {
			continue
		}
		for i := 0; i < n && i < len(m); i++ {
			out[i] = out[i] && m[i]
		}
	}
	return out
}

// Eligible lists the indices where the mask is true.
func Eligible(mask Mask, n int) []int {
	idx := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if mask == nil || mask[i] {
			idx = append(idx, i)
		}
	}
	return idx
}

// #endregion masks

// #region helpers

// Sum returns the total number of units in an allocation.
func Sum(a AllocationVector) int {
	total := 0
	for _, v := range a {
		total += v
	}
	return total
}

// SumFloat returns the sum of a float segment.
func SumFloat(v []float64) float64 {
	var total float64
	for _, x := range v {
		total += x
	}
	return total
}

// Equal reports whether two allocations hold the same counts.
func Equal(a, b AllocationVector) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// #endregion helpers
