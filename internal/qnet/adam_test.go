package qnet

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestAdamFirstStepIsSignScaled(t *testing.T) {
	params := [][]float64{{1.0, -1.0}}
	cfg := DefaultAdamConfig()
	cfg.LearningRate = 0.1
	opt := NewAdam(cfg, params)

	if err := opt.Step(params, [][]float64{{2.0, -0.5}}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	// Bias correction makes the first step lr * sign(g).
	if math.Abs(params[0][0]-0.9) > 1e-6 {
		t.Fatalf("expected 0.9, got %f", params[0][0])
	}
	if math.Abs(params[0][1]+0.9) > 1e-6 {
		t.Fatalf("expected -0.9, got %f", params[0][1])
	}
	if opt.Steps() != 1 {
		t.Fatalf("expected 1 step, got %d", opt.Steps())
	}
}

func TestAdamLayoutMismatch(t *testing.T) {
	opt := NewAdam(DefaultAdamConfig(), [][]float64{{0, 0}})
	err := opt.Step([][]float64{{0, 0}}, [][]float64{{1}})
	if !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}

func TestAdamStateRoundTrip(t *testing.T) {
	params := [][]float64{{0.5}, {1, 2}}
	opt := NewAdam(DefaultAdamConfig(), params)
	_ = opt.Step(params, [][]float64{{1}, {0.5, -0.5}})

	saved := opt.State()
	restored := NewAdam(DefaultAdamConfig(), params)
	if err := restored.SetState(saved); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if restored.Steps() != 1 {
		t.Fatalf("expected step 1, got %d", restored.Steps())
	}

	// Same state + same gradient = same update.
	p1 := [][]float64{{0.5}, {1, 2}}
	p2 := [][]float64{{0.5}, {1, 2}}
	g := [][]float64{{0.2}, {-1, 1}}
	_ = opt.Step(p1, g)
	_ = restored.Step(p2, g)
	for k := range p1 {
		for i := range p1[k] {
			if p1[k][i] != p2[k][i] {
				t.Fatalf("group %d index %d diverged: %v vs %v", k, i, p1[k][i], p2[k][i])
			}
		}
	}

	// State is a deep copy.
	saved.M[0][0] = 42
	if opt.State().M[0][0] == 42 {
		t.Fatal("State should not alias optimizer moments")
	}
}

func TestAdamFitsLinearTarget(t *testing.T) {
	n := mustNetwork(t, 2, 1)
	cfg := DefaultAdamConfig()
	cfg.LearningRate = 0.02
	opt := NewAdam(cfg, n.Params())

	X := mat.NewDense(4, 2, []float64{0, 0, 1, 0, 0, 1, 1, 1})
	y := []float64{1, 3, -1, 1} // 1 + 2a - 2b

	mse := func() float64 {
		tr, _ := n.ForwardBatch(X)
		var s float64
		for i, target := range y {
			d := tr.Out.At(i, 0) - target
			s += d * d
		}
		return s / float64(len(y))
	}

	before := mse()
	for it := 0; it < 3000; it++ {
		tr, _ := n.ForwardBatch(X)
		dOut := mat.NewDense(4, 1, nil)
		for i, target := range y {
			dOut.Set(i, 0, 2*(tr.Out.At(i, 0)-target)/float64(len(y)))
		}
		grads, err := n.Backward(tr, dOut)
		if err != nil {
			t.Fatal(err)
		}
		if err := opt.Step(n.Params(), grads); err != nil {
			t.Fatal(err)
		}
	}
	after := mse()
	if after >= before || after > 1e-2 {
		t.Fatalf("expected loss to shrink to ~0, before %f after %f", before, after)
	}
}
