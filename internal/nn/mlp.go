package nn

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"coach/internal/model"
)

const (
	BackendMLP = "mlp"

	defaultLearningRate = 0.05
)

type MLPConfig struct {
	// Sizes lists layer widths from input to output, e.g. [15, 32, 4].
	Sizes            []int
	HiddenActivation string
	OutputActivation string
	LearningRate     float64
	Rand             *rand.Rand
}

type denseLayer struct {
	w          *mat.Dense // rows=out, cols=in
	b          []float64
	activation Activation
}

// MLP is a fully connected network trained with mini-batch gradient descent
// on mean squared error. Fit trains a private copy of the weights and swaps
// it in when done, so Predict is never held up by training.
type MLP struct {
	mu           sync.RWMutex
	layers       []denseLayer
	learningRate float64
}

func NewMLP(cfg MLPConfig) (*MLP, error) {
	if len(cfg.Sizes) < 2 {
		return nil, errors.New("mlp needs at least input and output sizes")
	}
	for i, size := range cfg.Sizes {
		if size <= 0 {
			return nil, fmt.Errorf("layer %d size must be > 0", i)
		}
	}
	hidden := cfg.HiddenActivation
	if hidden == "" {
		hidden = "tanh"
	}
	output := cfg.OutputActivation
	if output == "" {
		output = "tanh"
	}
	hiddenAct, err := GetActivation(hidden)
	if err != nil {
		return nil, err
	}
	outputAct, err := GetActivation(output)
	if err != nil {
		return nil, err
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	lr := cfg.LearningRate
	if lr <= 0 {
		lr = defaultLearningRate
	}

	layers := make([]denseLayer, 0, len(cfg.Sizes)-1)
	for i := 1; i < len(cfg.Sizes); i++ {
		in, out := cfg.Sizes[i-1], cfg.Sizes[i]
		limit := math.Sqrt(6.0 / float64(in+out))
		data := make([]float64, in*out)
		for j := range data {
			data[j] = (rng.Float64()*2 - 1) * limit
		}
		act := hiddenAct
		if i == len(cfg.Sizes)-1 {
			act = outputAct
		}
		layers = append(layers, denseLayer{
			w:          mat.NewDense(out, in, data),
			b:          make([]float64, out),
			activation: act,
		})
	}
	return &MLP{layers: layers, learningRate: lr}, nil
}

func (m *MLP) InputDim() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, c := m.layers[0].w.Dims()
	return c
}

func (m *MLP) OutputDim() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, _ := m.layers[len(m.layers)-1].w.Dims()
	return r
}

func (m *MLP) Predict(input []float64) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, c := m.layers[0].w.Dims(); len(input) != c {
		return nil, fmt.Errorf("%w: input got=%d want=%d", ErrDimension, len(input), c)
	}
	a := mat.NewVecDense(len(input), append([]float64(nil), input...))
	for _, l := range m.layers {
		rows, _ := l.w.Dims()
		z := mat.NewVecDense(rows, nil)
		z.MulVec(l.w, a)
		for i := 0; i < rows; i++ {
			z.SetVec(i, l.activation.Func(z.AtVec(i)+l.b[i]))
		}
		a = z
	}
	out := make([]float64, a.Len())
	for i := range out {
		out[i] = a.AtVec(i)
	}
	return out, nil
}

// Fit runs cfg.Epochs passes over the batch and returns the loss measured on
// the last pass before its update.
func (m *MLP) Fit(ctx context.Context, inputs, outputs [][]float64, cfg FitConfig) (float64, error) {
	m.mu.RLock()
	layers := cloneLayers(m.layers)
	defaultLR := m.learningRate
	m.mu.RUnlock()

	_, inDim := layers[0].w.Dims()
	outDim, _ := layers[len(layers)-1].w.Dims()
	if err := validateBatch(inputs, outputs, inDim, outDim); err != nil {
		return 0, err
	}
	epochs := cfg.Epochs
	if epochs <= 0 {
		epochs = 1
	}
	lr := cfg.LearningRate
	if lr <= 0 {
		lr = defaultLR
	}

	x := mat.NewDense(len(inputs), inDim, flatten(inputs))
	y := mat.NewDense(len(outputs), outDim, flatten(outputs))

	var loss float64
	for e := 0; e < epochs; e++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		loss = gradientStep(layers, x, y, lr)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, fmt.Errorf("fit diverged: loss=%v", loss)
	}
	// an expired fit must not install its weights over a newer one
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.layers = layers
	m.mu.Unlock()
	return loss, nil
}

func gradientStep(layers []denseLayer, x, y *mat.Dense, lr float64) float64 {
	acts := make([]*mat.Dense, 0, len(layers)+1)
	zs := make([]*mat.Dense, 0, len(layers))
	acts = append(acts, x)
	for _, l := range layers {
		z := new(mat.Dense)
		z.Mul(acts[len(acts)-1], l.w.T())
		b := l.b
		z.Apply(func(_, j int, v float64) float64 { return v + b[j] }, z)
		a := new(mat.Dense)
		fn := l.activation.Func
		a.Apply(func(_, _ int, v float64) float64 { return fn(v) }, z)
		zs = append(zs, z)
		acts = append(acts, a)
	}

	n, outDim := y.Dims()
	diff := new(mat.Dense)
	diff.Sub(acts[len(acts)-1], y)
	loss := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < outDim; j++ {
			d := diff.At(i, j)
			loss += d * d
		}
	}
	count := float64(n * outDim)
	loss /= count

	delta := new(mat.Dense)
	lastDeriv := layers[len(layers)-1].activation.Derivative
	lastZ := zs[len(zs)-1]
	delta.Apply(func(i, j int, v float64) float64 {
		return 2 * v / count * lastDeriv(lastZ.At(i, j))
	}, diff)

	for li := len(layers) - 1; li >= 0; li-- {
		l := &layers[li]
		gradW := new(mat.Dense)
		gradW.Mul(delta.T(), acts[li])

		rows, _ := l.w.Dims()
		gradB := make([]float64, rows)
		for j := 0; j < rows; j++ {
			for i := 0; i < n; i++ {
				gradB[j] += delta.At(i, j)
			}
		}

		if li > 0 {
			prev := new(mat.Dense)
			prev.Mul(delta, l.w)
			deriv := layers[li-1].activation.Derivative
			z := zs[li-1]
			prev.Apply(func(i, j int, v float64) float64 { return v * deriv(z.At(i, j)) }, prev)
			delta = prev
		}

		gradW.Scale(lr, gradW)
		l.w.Sub(l.w, gradW)
		for j := range l.b {
			l.b[j] -= lr * gradB[j]
		}
	}
	return loss
}

func (m *MLP) Snapshot() (model.ModelCheckpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	layers := make([]model.LayerWeights, 0, len(m.layers))
	for _, l := range m.layers {
		rows, cols := l.w.Dims()
		weights := make([]float64, 0, rows*cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				weights = append(weights, l.w.At(i, j))
			}
		}
		layers = append(layers, model.LayerWeights{
			Activation: l.activation.Name,
			Rows:       rows,
			Cols:       cols,
			Weights:    weights,
			Bias:       append([]float64(nil), l.b...),
		})
	}
	return model.ModelCheckpoint{Backend: BackendMLP, Layers: layers}, nil
}

func (m *MLP) Restore(checkpoint model.ModelCheckpoint) error {
	if checkpoint.Backend != BackendMLP {
		return fmt.Errorf("checkpoint backend %q is not %q", checkpoint.Backend, BackendMLP)
	}
	if len(checkpoint.Layers) == 0 {
		return errors.New("checkpoint has no layers")
	}
	layers := make([]denseLayer, 0, len(checkpoint.Layers))
	for i, lw := range checkpoint.Layers {
		if lw.Rows <= 0 || lw.Cols <= 0 || len(lw.Weights) != lw.Rows*lw.Cols || len(lw.Bias) != lw.Rows {
			return fmt.Errorf("checkpoint layer %d has inconsistent shape", i)
		}
		if i > 0 && lw.Cols != checkpoint.Layers[i-1].Rows {
			return fmt.Errorf("checkpoint layer %d does not chain: cols=%d prev rows=%d", i, lw.Cols, checkpoint.Layers[i-1].Rows)
		}
		act, err := GetActivation(lw.Activation)
		if err != nil {
			return fmt.Errorf("checkpoint layer %d: %w", i, err)
		}
		layers = append(layers, denseLayer{
			w:          mat.NewDense(lw.Rows, lw.Cols, append([]float64(nil), lw.Weights...)),
			b:          append([]float64(nil), lw.Bias...),
			activation: act,
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	_, wantIn := m.layers[0].w.Dims()
	wantOut, _ := m.layers[len(m.layers)-1].w.Dims()
	_, gotIn := layers[0].w.Dims()
	gotOut, _ := layers[len(layers)-1].w.Dims()
	if gotIn != wantIn || gotOut != wantOut {
		return fmt.Errorf("%w: checkpoint %dx%d, model %dx%d", ErrDimension, gotIn, gotOut, wantIn, wantOut)
	}
	m.layers = layers
	return nil
}

func cloneLayers(layers []denseLayer) []denseLayer {
	out := make([]denseLayer, len(layers))
	for i, l := range layers {
		out[i] = denseLayer{
			w:          mat.DenseCopyOf(l.w),
			b:          append([]float64(nil), l.b...),
			activation: l.activation,
		}
	}
	return out
}

func flatten(rows [][]float64) []float64 {
	if len(rows) == 0 {
		return nil
	}
	out := make([]float64, 0, len(rows)*len(rows[0]))
	for _, row := range rows {
		out = append(out, row...)
	}
	return out
}
