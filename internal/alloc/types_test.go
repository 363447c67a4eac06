package alloc

import (
	"errors"
	"testing"
)

func TestSplitState(t *testing.T) {
	state := []float64{5, 0, 3, 1, 0, 1, 0, 0, 0}
	threats, pre, current, err := SplitState(state, 3)
	if err != nil {
		t.Fatalf("SplitState: %v", err)
	}
	if threats[0] != 5 || threats[2] != 3 {
		t.Fatalf("unexpected threats %v", threats)
	}
	if pre[0] != 1 || pre[2] != 1 {
		t.Fatalf("unexpected pre-allocation %v", pre)
	}
	if len(current) != 3 {
		t.Fatalf("expected 3 current entries, got %d", len(current))
	}
}

func TestSplitStateWrongLength(t *testing.T) {
	_, _, _, err := SplitState(make([]float64, 8), 3)
	if !errors.Is(err, ErrStateShape) {
		t.Fatalf("expected ErrStateShape, got %v", err)
	}
}

func TestBuildStateLayout(t *testing.T) {
	state := BuildState([]float64{2, 0}, []int{1, 0}, []int{0, 0})
	want := []float64{2, 0, 1, 0, 0, 0}
	if len(state) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(state))
	}
	for i := range want {
		if state[i] != want[i] {
			t.Fatalf("index %d: expected %f, got %f", i, want[i], state[i])
		}
	}
}

func TestCombineMasks(t *testing.T) {
	got := CombineMasks(4, Mask{true, true, false, true}, nil, Mask{true, false, true, true})
	want := Mask{true, false, false, true}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestCheckMask(t *testing.T) {
	if err := CheckMask(nil, 3); err != nil {
		t.Fatalf("nil mask should be valid: %v", err)
	}
	if err := CheckMask(Mask{true}, 3); !errors.Is(err, ErrMaskShape) {
		t.Fatalf("expected ErrMaskShape, got %v", err)
	}
}

func TestEligible(t *testing.T) {
	idx := Eligible(Mask{false, true, false, true}, 4)
	if len(idx) != 2 || idx[0] != 1 || idx[1] != 3 {
		t.Fatalf("unexpected eligible indices %v", idx)
	}
	if all := Eligible(nil, 3); len(all) != 3 {
		t.Fatalf("nil mask should make all indices eligible, got %v", all)
	}
}

func TestEqualAndSum(t *testing.T) {
	a := AllocationVector{3, 0, 2, 0}
	if Sum(a) != 5 {
		t.Fatalf("expected sum 5, got %d", Sum(a))
	}
	if !Equal(a, AllocationVector{3, 0, 2, 0}) {
		t.Fatal("expected equal allocations")
	}
	if Equal(a, AllocationVector{3, 0, 2}) {
		t.Fatal("different lengths must not be equal")
	}
}
