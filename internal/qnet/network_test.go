package qnet

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func testRNG() *rand.Rand { return rand.New(rand.NewPCG(11, 29)) }

func mustNetwork(t *testing.T, sizes ...int) *Network {
	t.Helper()
	n, err := NewNetwork(sizes, testRNG())
	if err != nil {
		t.Fatalf("NewNetwork: %v", err)
	}
	return n
}

func TestNewNetworkInvalidSizes(t *testing.T) {
	if _, err := NewNetwork([]int{4}, nil); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for single layer, got %v", err)
	}
	if _, err := NewNetwork([]int{4, 0, 2}, nil); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for zero width, got %v", err)
	}
}

func TestForwardDims(t *testing.T) {
	n := mustNetwork(t, 6, 8, 8, 2)
	out, err := n.Forward([]float64{1, 0, 2, 1, 0, 0})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(out))
	}
	if _, err := n.Forward([]float64{1, 2}); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for short input, got %v", err)
	}
}

func TestForwardBatchMatchesSingle(t *testing.T) {
	n := mustNetwork(t, 3, 5, 2)
	rows := [][]float64{{1, 2, 3}, {-1, 0.5, 0}}
	X := mat.NewDense(2, 3, append(append([]float64(nil), rows[0]...), rows[1]...))
	tr, err := n.ForwardBatch(X)
	if err != nil {
		t.Fatalf("ForwardBatch: %v", err)
	}
	for i, r := range rows {
		single, err := n.Forward(r)
		if err != nil {
			t.Fatalf("Forward: %v", err)
		}
		for j := range single {
			if math.Abs(single[j]-tr.Out.At(i, j)) > 1e-12 {
				t.Fatalf("row %d col %d: batch %f single %f", i, j, tr.Out.At(i, j), single[j])
			}
		}
	}
}

func TestCopyFromIsExact(t *testing.T) {
	online := mustNetwork(t, 4, 6, 3)
	target, err := NewNetwork([]int{4, 6, 3}, rand.New(rand.NewPCG(7, 7)))
	if err != nil {
		t.Fatal(err)
	}
	state := []float64{0.3, 1, 0, 2}
	a, _ := online.Forward(state)
	b, _ := target.Forward(state)
	if a[0] == b[0] && a[1] == b[1] && a[2] == b[2] {
		t.Fatal("independently initialized networks should differ")
	}

	if err := target.CopyFrom(online); err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}
	b, _ = target.Forward(state)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("output %d differs after copy: %v vs %v", i, a[i], b[i])
		}
	}

	// Copies are independent: mutating the source leaves the target alone.
	online.Params()[0][0] += 1
	c, _ := target.Forward(state)
	for i := range b {
		if b[i] != c[i] {
			t.Fatal("target changed after mutating online parameters")
		}
	}
}

func TestCopyFromShapeMismatch(t *testing.T) {
	a := mustNetwork(t, 4, 6, 3)
	b := mustNetwork(t, 4, 5, 3)
	if err := a.CopyFrom(b); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}

func TestWeightsRoundTrip(t *testing.T) {
	src := mustNetwork(t, 3, 4, 2)
	dst, _ := NewNetwork([]int{3, 4, 2}, rand.New(rand.NewPCG(5, 6)))

	w := src.Weights()
	if _, ok := w["fc1.weight"]; !ok {
		t.Fatal("expected fc1.weight key")
	}
	if r, c := w["fc2.bias"].Dims(); r != 1 || c != 2 {
		t.Fatalf("expected fc2.bias 1x2, got %dx%d", r, c)
	}
	if err := dst.SetWeights(w); err != nil {
		t.Fatalf("SetWeights: %v", err)
	}
	x := []float64{1, -1, 0.5}
	a, _ := src.Forward(x)
	b, _ := dst.Forward(x)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("output %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestSetWeightsRejectsMissingKey(t *testing.T) {
	n := mustNetwork(t, 3, 4, 2)
	w := n.Weights()
	delete(w, "fc2.weight")
	if err := n.SetWeights(w); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}

func TestBackwardMatchesFiniteDifference(t *testing.T) {
	n := mustNetwork(t, 3, 4, 2)
	X := mat.NewDense(2, 3, []float64{0.5, -1.2, 2.0, 1.5, 0.3, -0.7})
	coef := mat.NewDense(2, 2, []float64{1, -2, 0.5, 3})

	loss := func() float64 {
		tr, err := n.ForwardBatch(X)
		if err != nil {
			t.Fatal(err)
		}
		var sum float64
		for i := 0; i < 2; i++ {
			for j := 0; j < 2; j++ {
				sum += coef.At(i, j) * tr.Out.At(i, j)
			}
		}
		return sum
	}

	tr, err := n.ForwardBatch(X)
	if err != nil {
		t.Fatal(err)
	}
	grads, err := n.Backward(tr, coef)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}

	const h = 1e-6
	for k, p := range n.Params() {
		for i := range p {
			orig := p[i]
			p[i] = orig + h
			up := loss()
			p[i] = orig - h
			down := loss()
			p[i] = orig

			numeric := (up - down) / (2 * h)
			if math.Abs(numeric-grads[k][i]) > 1e-5+1e-4*math.Abs(numeric) {
				t.Fatalf("param group %d index %d: analytic %g numeric %g", k, i, grads[k][i], numeric)
			}
		}
	}
}

func TestBackwardShapeMismatch(t *testing.T) {
	n := mustNetwork(t, 3, 2)
	tr, _ := n.ForwardBatch(mat.NewDense(1, 3, []float64{1, 2, 3}))
	if _, err := n.Backward(tr, mat.NewDense(2, 2, nil)); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}

func TestBackwardLeavesParametersUntouched(t *testing.T) {
	n := mustNetwork(t, 3, 4, 2)
	before := n.Weights()
	X := mat.NewDense(1, 3, []float64{1, -2, 0.5})
	tr, err := n.ForwardBatch(X)
	if err != nil {
		t.Fatal(err)
	}
	grads, err := n.Backward(tr, mat.NewDense(1, 2, []float64{1, 0}))
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	if len(grads) != 4 || len(grads[0]) != 12 || len(grads[3]) != 2 {
		t.Fatalf("unexpected gradient layout: %d groups", len(grads))
	}
	// Only the first output is weighted, so the second output bias gets no gradient.
	if grads[3][0] != 1 || grads[3][1] != 0 {
		t.Fatalf("expected output bias gradient [1 0], got %v", grads[3])
	}
	for k, w := range n.Weights() {
		if !mat.Equal(w, before[k]) {
			t.Fatalf("%s changed during Backward", k)
		}
	}
}
