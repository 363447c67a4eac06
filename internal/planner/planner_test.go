package planner

import (
	"errors"
	"testing"

	"github.com/yooozz3/target-assign-rl/internal/alloc"
)

func TestPreAllocateScenario(t *testing.T) {
	plan := PreAllocate([]float64{5, 0, 3, 0}, 5)
	want := []int{3, 0, 2, 0}
	for i := range want {
		if plan[i] != want[i] {
			t.Fatalf("index %d: expected %d, got %d (plan %v)", i, want[i], plan[i], plan)
		}
	}
}

func TestPreAllocatePhaseOneOnly(t *testing.T) {
	// Budget smaller than the number of positive threats: earliest indices win.
	plan := PreAllocate([]float64{1, 2, 3, 4}, 2)
	want := []int{1, 1, 0, 0}
	for i := range want {
		if plan[i] != want[i] {
			t.Fatalf("index %d: expected %d, got %d", i, want[i], plan[i])
		}
	}
}

func TestPreAllocateProperties(t *testing.T) {
	threats := []float64{0, 7, 0, 1, 4, -2, 9}
	for budget := 4; budget <= 30; budget++ {
		plan := PreAllocate(threats, budget)
		if alloc.Sum(plan) != budget {
			t.Fatalf("budget %d: plan sums to %d", budget, alloc.Sum(plan))
		}
		lo, hi := budget, 0
		for i, level := range threats {
			if level <= 0 {
				if plan[i] != 0 {
					t.Fatalf("budget %d: inactive threat %d got %d units", budget, i, plan[i])
				}
				continue
			}
			if plan[i] < 1 {
				t.Fatalf("budget %d: positive threat %d got no unit", budget, i)
			}
			if plan[i] < lo {
				lo = plan[i]
			}
			if plan[i] > hi {
				hi = plan[i]
			}
		}
		// Round-robin keeps positive threats within one unit of each other.
		if hi-lo > 1 {
			t.Fatalf("budget %d: uneven round-robin %v", budget, plan)
		}
	}
}

func TestPreAllocateNoPositiveThreats(t *testing.T) {
	plan := PreAllocate([]float64{0, 0, -1}, 10)
	if alloc.Sum(plan) != 0 {
		t.Fatalf("expected unspent budget, got %v", plan)
	}
}

func TestPlannerReconstructsPlan(t *testing.T) {
	p := New(Config{NumThreats: 4, NumDrones: 5})
	state := []float64{5, 0, 3, 0}

	replayed := make([]int, 4)
	for step := 0; step < 5; step++ {
		action, err := p.Predict(state, nil)
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		replayed[action]++
		plan := p.Plan()
		cur := p.Allocation()
		for i := range plan {
			if cur[i] > plan[i] {
				t.Fatalf("step %d: allocation %v exceeds plan %v", step, cur, plan)
			}
		}
	}

	want := []int{3, 0, 2, 0}
	for i := range want {
		if replayed[i] != want[i] {
			t.Fatalf("replayed actions %v do not reconstruct plan %v", replayed, want)
		}
	}
}

func TestPlannerActionOrder(t *testing.T) {
	p := New(Config{NumThreats: 4, NumDrones: 5})
	state := []float64{5, 0, 3, 0}
	want := []int{0, 0, 0, 2, 2}
	for i, w := range want {
		got, err := p.Predict(state, nil)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if got != w {
			t.Fatalf("call %d: expected action %d, got %d", i, w, got)
		}
	}
}

func TestPlannerRestartsAfterFullCycle(t *testing.T) {
	p := New(Config{NumThreats: 2, NumDrones: 2})
	state := []float64{1, 1}
	for i := 0; i < 2; i++ {
		if _, err := p.Predict(state, nil); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	// Plan realized: next call starts a new cycle at index 0.
	action, err := p.Predict(state, nil)
	if err != nil {
		t.Fatalf("restart call: %v", err)
	}
	if action != 0 {
		t.Fatalf("expected restart at index 0, got %d", action)
	}
	if cur := p.Allocation(); cur[0] != 1 || cur[1] != 0 {
		t.Fatalf("expected fresh allocation [1 0], got %v", cur)
	}
}

func TestPlannerKeepsPlanAcrossCycles(t *testing.T) {
	p := New(Config{NumThreats: 2, NumDrones: 2})
	if _, err := p.Predict([]float64{1, 1}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Predict([]float64{1, 1}, nil); err != nil {
		t.Fatal(err)
	}
	// New threat prefix is ignored until Reset clears the plan.
	if _, err := p.Predict([]float64{0, 5}, nil); err != nil {
		t.Fatal(err)
	}
	if plan := p.Plan(); plan[0] != 1 || plan[1] != 1 {
		t.Fatalf("expected original plan, got %v", plan)
	}

	p.Reset()
	if p.Plan() != nil {
		t.Fatal("expected plan cleared after Reset")
	}
	action, err := p.Predict([]float64{0, 5}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if action != 1 {
		t.Fatalf("expected recomputed plan to target index 1, got %d", action)
	}
}

func TestPlannerExhaustedWithoutActiveThreats(t *testing.T) {
	p := New(Config{NumThreats: 3, NumDrones: 4})
	_, err := p.Predict([]float64{0, 0, 0}, nil)
	if !errors.Is(err, ErrPlanExhausted) {
		t.Fatalf("expected ErrPlanExhausted, got %v", err)
	}
}

func TestPlannerShortState(t *testing.T) {
	p := New(DefaultConfig())
	_, err := p.Predict(make([]float64, 5), nil)
	if !errors.Is(err, alloc.ErrStateShape) {
		t.Fatalf("expected ErrStateShape, got %v", err)
	}
}

func TestPlannerAcceptsFullState(t *testing.T) {
	p := New(Config{NumThreats: 2, NumDrones: 3})
	state := alloc.BuildState([]float64{2, 1}, []int{2, 1}, []int{0, 0})
	action, err := p.Predict(state, []bool{true, true})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if action != 0 {
		t.Fatalf("expected action 0, got %d", action)
	}
	if plan := p.Plan(); plan[0] != 2 || plan[1] != 1 {
		t.Fatalf("expected plan [2 1], got %v", plan)
	}
}
