// Package loomnet adapts a github.com/openfluke/loom dense network to the
// trainer's Model contract.
package loomnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	loom "github.com/openfluke/loom/nn"

	"coach/internal/model"
	"coach/internal/nn"
)

const (
	Backend = "loom"

	networkID = "coach_policy"
)

type Config struct {
	InputDim     int
	OutputDim    int
	Hidden       []int
	Activation   string
	LearningRate float64
	GradientClip float64
}

type layerSpec struct {
	Type         string `json:"type"`
	Activation   string `json:"activation"`
	InputHeight  int    `json:"input_height"`
	OutputHeight int    `json:"output_height"`
}

type networkSpec struct {
	ID            string      `json:"id"`
	BatchSize     int         `json:"batch_size"`
	GridRows      int         `json:"grid_rows"`
	GridCols      int         `json:"grid_cols"`
	LayersPerCell int         `json:"layers_per_cell"`
	Layers        []layerSpec `json:"layers"`
}

// Network trains a serialized copy of the live loom network and swaps it in
// once Train returns, so forward passes never wait on training.
type Network struct {
	mu        sync.RWMutex
	net       *loom.Network
	inputDim  int
	outputDim int
	lr        float64
	clip      float64
}

func New(cfg Config) (*Network, error) {
	if cfg.InputDim <= 0 || cfg.OutputDim <= 0 {
		return nil, errors.New("input and output dims must be > 0")
	}
	activation := cfg.Activation
	if activation == "" {
		activation = "tanh"
	}
	hidden := cfg.Hidden
	if len(hidden) == 0 {
		hidden = []int{32}
	}

	spec := networkSpec{ID: networkID, BatchSize: 1, GridRows: 1, GridCols: 1}
	prev := cfg.InputDim
	for _, width := range hidden {
		if width <= 0 {
			return nil, fmt.Errorf("hidden width must be > 0, got %d", width)
		}
		spec.Layers = append(spec.Layers, layerSpec{Type: "dense", Activation: activation, InputHeight: prev, OutputHeight: width})
		prev = width
	}
	spec.Layers = append(spec.Layers, layerSpec{Type: "dense", Activation: "tanh", InputHeight: prev, OutputHeight: cfg.OutputDim})
	spec.LayersPerCell = len(spec.Layers)

	raw, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}
	network, err := loom.BuildNetworkFromJSON(string(raw))
	if err != nil {
		return nil, fmt.Errorf("build loom network: %w", err)
	}
	network.InitializeWeights()

	lr := cfg.LearningRate
	if lr <= 0 {
		lr = 0.01
	}
	return &Network{
		net:       network,
		inputDim:  cfg.InputDim,
		outputDim: cfg.OutputDim,
		lr:        lr,
		clip:      cfg.GradientClip,
	}, nil
}

func (n *Network) Predict(input []float64) ([]float64, error) {
	if len(input) != n.inputDim {
		return nil, fmt.Errorf("%w: input got=%d want=%d", nn.ErrDimension, len(input), n.inputDim)
	}
	n.mu.RLock()
	defer n.mu.RUnlock()

	out, _ := n.net.ForwardCPU(toFloat32(input))
	if len(out) != n.outputDim {
		return nil, fmt.Errorf("%w: output got=%d want=%d", nn.ErrDimension, len(out), n.outputDim)
	}
	return toFloat64(out), nil
}

func (n *Network) Fit(ctx context.Context, inputs, outputs [][]float64, cfg nn.FitConfig) (float64, error) {
	if len(inputs) == 0 || len(inputs) != len(outputs) {
		return 0, errors.New("batch inputs and outputs must be non-empty and equal length")
	}
	batches := make([]loom.TrainingBatch, len(inputs))
	for i := range inputs {
		if len(inputs[i]) != n.inputDim || len(outputs[i]) != n.outputDim {
			return 0, nn.ErrDimension
		}
		batches[i] = loom.TrainingBatch{Input: toFloat32(inputs[i]), Target: toFloat32(outputs[i])}
	}

	n.mu.RLock()
	serialized, err := n.net.SaveModelToString(networkID)
	n.mu.RUnlock()
	if err != nil {
		return 0, fmt.Errorf("serialize loom network: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	candidate, err := loom.LoadModelFromString(serialized, networkID)
	if err != nil {
		return 0, fmt.Errorf("clone loom network: %w", err)
	}

	epochs := cfg.Epochs
	if epochs <= 0 {
		epochs = 1
	}
	lr := cfg.LearningRate
	if lr <= 0 {
		lr = n.lr
	}
	result, err := candidate.Train(batches, &loom.TrainingConfig{
		Epochs:       epochs,
		LearningRate: float32(lr),
		GradientClip: float32(n.clip),
		LossType:     "mse",
	})
	if err != nil {
		return 0, fmt.Errorf("loom train: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n.mu.Lock()
	n.net = candidate
	n.mu.Unlock()
	return float64(result.FinalLoss), nil
}

func (n *Network) Snapshot() (model.ModelCheckpoint, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	blob, err := n.net.SaveModelToString(networkID)
	if err != nil {
		return model.ModelCheckpoint{}, err
	}
	return model.ModelCheckpoint{Backend: Backend, Blob: blob}, nil
}

func (n *Network) Restore(checkpoint model.ModelCheckpoint) error {
	if checkpoint.Backend != Backend {
		return fmt.Errorf("checkpoint backend %q is not %q", checkpoint.Backend, Backend)
	}
	restored, err := loom.LoadModelFromString(checkpoint.Blob, networkID)
	if err != nil {
		return fmt.Errorf("load loom checkpoint: %w", err)
	}
	n.mu.Lock()
	n.net = restored
	n.mu.Unlock()
	return nil
}

func toFloat32(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}

func toFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}
