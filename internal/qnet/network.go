package qnet

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ErrShape is returned when inputs or weights do not match the network layout.
var ErrShape = errors.New("network shape mismatch")

// #region network

type layer struct {
	w *mat.Dense    // out x in
	b *mat.VecDense // out
}

// Network is a fully connected ReLU network mapping a state vector to one
// value per action. The last layer is linear.
type Network struct {
	sizes  []int
	layers []layer
}

// NewNetwork builds a network with the given layer widths, input first and
// output last. Weights and biases are drawn uniformly from ±1/sqrt(fan_in).
func NewNetwork(sizes []int, rng *rand.Rand) (*Network, error) {
	if len(sizes) < 2 {
		return nil, fmt.Errorf("%w: need at least input and output sizes, got %v", ErrShape, sizes)
	}
	for _, s := range sizes {
		if s <= 0 {
			return nil, fmt.Errorf("%w: layer sizes must be positive, got %v", ErrShape, sizes)
		}
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	n := &Network{sizes: append([]int(nil), sizes...)}
	for l := 0; l < len(sizes)-1; l++ {
		in, out := sizes[l], sizes[l+1]
		bound := 1 / math.Sqrt(float64(in))

		wData := make([]float64, out*in)
		for i := range wData {
			wData[i] = (rng.Float64()*2 - 1) * bound
		}
		bData := make([]float64, out)
		for i := range bData {
			bData[i] = (rng.Float64()*2 - 1) * bound
		}
		n.layers = append(n.layers, layer{
			w: mat.NewDense(out, in, wData),
			b: mat.NewVecDense(out, bData),
		})
	}
	return n, nil
}

// Sizes returns the layer widths.
func (n *Network) Sizes() []int { return append([]int(nil), n.sizes...) }

// InputDim returns the expected state length.
func (n *Network) InputDim() int { return n.sizes[0] }

// OutputDim returns the number of action values produced.
func (n *Network) OutputDim() int { return n.sizes[len(n.sizes)-1] }

// #endregion network

// #region forward

// Trace keeps the batch input and output of a forward pass for Backward.
type Trace struct {
	x   *mat.Dense // batch x inputDim
	Out *mat.Dense // batch x outputDim
}

// Forward evaluates a single state.
func (n *Network) Forward(x []float64) ([]float64, error) {
	if len(x) != n.InputDim() {
		return nil, fmt.Errorf("%w: input has %d entries, want %d", ErrShape, len(x), n.InputDim())
	}
	X := mat.NewDense(1, len(x), append([]float64(nil), x...))
	tr, err := n.ForwardBatch(X)
	if err != nil {
		return nil, err
	}
	return mat.Row(nil, 0, tr.Out), nil
}

// ForwardBatch evaluates a batch of states stored one per row.
func (n *Network) ForwardBatch(X *mat.Dense) (*Trace, error) {
	rows, cols := X.Dims()
	if cols != n.InputDim() {
		return nil, fmt.Errorf("%w: batch has %d columns, want %d", ErrShape, cols, n.InputDim())
	}

	a := X
	last := len(n.layers) - 1
	for l, ly := range n.layers {
		var z mat.Dense
		z.Mul(a, ly.w.T())
		for i := 0; i < rows; i++ {
			row := z.RawRowView(i)
			for j := range row {
				row[j] += ly.b.AtVec(j)
			}
		}
		if l == last {
			a = &z
			break
		}
		var act mat.Dense
		act.Apply(func(_, _ int, v float64) float64 {
			if v > 0 {
				return v
			}
			return 0
		}, &z)
		a = &act
	}
	return &Trace{x: mat.DenseCopyOf(X), Out: a}, nil
}

// #endregion forward

// #region backward

// Backward returns the gradients of sum(dOut * Out) with respect to every
// parameter, in Params order, for the batch recorded in tr. The network is
// rebuilt as a gorgonia graph and differentiated symbolically.
func (n *Network) Backward(tr *Trace, dOut *mat.Dense) ([][]float64, error) {
	r, c := dOut.Dims()
	outR, outC := tr.Out.Dims()
	if r != outR || c != outC {
		return nil, fmt.Errorf("%w: gradient is %dx%d, output is %dx%d", ErrShape, r, c, outR, outC)
	}
	rows, cols := tr.x.Dims()

	g := gorgonia.NewGraph()
	a := constMatrix(g, "x", rows, cols, tr.x.RawMatrix().Data)
	ones := make([]float64, rows)
	for i := range ones {
		ones[i] = 1
	}
	broadcast := constMatrix(g, "ones", rows, 1, ones)

	learnables := make(gorgonia.Nodes, 0, 2*len(n.layers))
	last := len(n.layers) - 1
	for l, ly := range n.layers {
		out, in := ly.w.Dims()
		w := constMatrix(g, weightKey(l), out, in, ly.w.RawMatrix().Data)
		b := constMatrix(g, biasKey(l), 1, out, ly.b.RawVector().Data)
		learnables = append(learnables, w, b)

		wT, err := gorgonia.Transpose(w)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", l, err)
		}
		z, err := gorgonia.Mul(a, wT)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", l, err)
		}
		bias, err := gorgonia.Mul(broadcast, b)
		if err != nil {
			return nil, fmt.Errorf("layer %d bias: %w", l, err)
		}
		if z, err = gorgonia.Add(z, bias); err != nil {
			return nil, fmt.Errorf("layer %d bias: %w", l, err)
		}
		if l == last {
			a = z
			break
		}
		if a, err = gorgonia.Rectify(z); err != nil {
			return nil, fmt.Errorf("layer %d relu: %w", l, err)
		}
	}

	coef := constMatrix(g, "coef", r, c, mat.DenseCopyOf(dOut).RawMatrix().Data)
	weighted, err := gorgonia.HadamardProd(a, coef)
	if err != nil {
		return nil, fmt.Errorf("weight output: %w", err)
	}
	cost, err := gorgonia.Sum(weighted)
	if err != nil {
		return nil, fmt.Errorf("sum output: %w", err)
	}
	if _, err := gorgonia.Grad(cost, learnables...); err != nil {
		return nil, fmt.Errorf("symbolic gradient: %w", err)
	}

	vm := gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(learnables...))
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, fmt.Errorf("run graph: %w", err)
	}

	grads := make([][]float64, len(learnables))
	for i, node := range learnables {
		gv, err := node.Grad()
		if err != nil {
			return nil, fmt.Errorf("gradient of %s: %w", node.Name(), err)
		}
		data, ok := gv.Data().([]float64)
		if !ok {
			return nil, fmt.Errorf("gradient of %s: unexpected %T", node.Name(), gv.Data())
		}
		grads[i] = append([]float64(nil), data...)
	}
	return grads, nil
}

// constMatrix adds a rows x cols float64 matrix node holding a copy of data.
func constMatrix(g *gorgonia.ExprGraph, name string, rows, cols int, data []float64) *gorgonia.Node {
	backing := append([]float64(nil), data...)
	return gorgonia.NewMatrix(g, tensor.Float64,
		gorgonia.WithShape(rows, cols),
		gorgonia.WithName(name),
		gorgonia.WithValue(tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(backing))),
	)
}

// Params returns the live parameter slices in a fixed order:
// weight and bias of each layer. Optimizers update them in place.
func (n *Network) Params() [][]float64 {
	params := make([][]float64, 0, 2*len(n.layers))
	for _, ly := range n.layers {
		params = append(params, ly.w.RawMatrix().Data, ly.b.RawVector().Data)
	}
	return params
}

// #endregion backward

// #region weights

// CopyFrom overwrites every parameter with the values of src.
func (n *Network) CopyFrom(src *Network) error {
	if !sameSizes(n.sizes, src.sizes) {
		return fmt.Errorf("%w: copy from %v into %v", ErrShape, src.sizes, n.sizes)
	}
	for l := range n.layers {
		n.layers[l].w.Copy(src.layers[l].w)
		n.layers[l].b.CopyVec(src.layers[l].b)
	}
	return nil
}

// Weights returns copies of all parameters keyed "fcN.weight" and "fcN.bias".
// Biases are 1 x out matrices.
func (n *Network) Weights() map[string]*mat.Dense {
	w := make(map[string]*mat.Dense, 2*len(n.layers))
	for l, ly := range n.layers {
		w[weightKey(l)] = mat.DenseCopyOf(ly.w)
		bias := append([]float64(nil), ly.b.RawVector().Data...)
		w[biasKey(l)] = mat.NewDense(1, len(bias), bias)
	}
	return w
}

// SetWeights loads parameters produced by Weights. Every key must be present
// with matching dimensions; nothing is modified on error.
func (n *Network) SetWeights(w map[string]*mat.Dense) error {
	for l, ly := range n.layers {
		wm, ok := w[weightKey(l)]
		if !ok {
			return fmt.Errorf("%w: missing %s", ErrShape, weightKey(l))
		}
		wr, wc := wm.Dims()
		er, ec := ly.w.Dims()
		if wr != er || wc != ec {
			return fmt.Errorf("%w: %s is %dx%d, want %dx%d", ErrShape, weightKey(l), wr, wc, er, ec)
		}
		bm, ok := w[biasKey(l)]
		if !ok {
			return fmt.Errorf("%w: missing %s", ErrShape, biasKey(l))
		}
		br, bc := bm.Dims()
		if br != 1 || bc != ly.b.Len() {
			return fmt.Errorf("%w: %s is %dx%d, want 1x%d", ErrShape, biasKey(l), br, bc, ly.b.Len())
		}
	}
	for l, ly := range n.layers {
		ly.w.Copy(w[weightKey(l)])
		ly.b.CopyVec(w[biasKey(l)].RowView(0))
	}
	return nil
}

func weightKey(l int) string { return fmt.Sprintf("fc%d.weight", l+1) }
func biasKey(l int) string   { return fmt.Sprintf("fc%d.bias", l+1) }

func sameSizes(a, b []int) bool {
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

// #endregion weights
