package nn

import (
	"context"
	"errors"

	"golang.org/x/exp/constraints"

	"coach/internal/model"
)

var ErrDimension = errors.New("vector dimension mismatch")

type FitConfig struct {
	BatchSize    int
	Epochs       int
	LearningRate float64
}

// Model is the function approximator driven by the trainer. Predict must stay
// usable while a Fit is running on another goroutine.
type Model interface {
	Predict(input []float64) ([]float64, error)
	Fit(ctx context.Context, inputs, outputs [][]float64, cfg FitConfig) (float64, error)
}

// Snapshotter is an optional Model capability used for checkpointing.
type Snapshotter interface {
	Snapshot() (model.ModelCheckpoint, error)
	Restore(checkpoint model.ModelCheckpoint) error
}

func Clamp[T constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampVector clamps every component into [lo, hi] in place and returns values.
func ClampVector[T constraints.Float](values []T, lo, hi T) []T {
	for i, v := range values {
		values[i] = Clamp(v, lo, hi)
	}
	return values
}

func validateBatch(inputs, outputs [][]float64, inputDim, outputDim int) error {
	if len(inputs) == 0 {
		return errors.New("batch is empty")
	}
	if len(inputs) != len(outputs) {
		return errors.New("batch inputs and outputs differ in length")
	}
	for i := range inputs {
		if len(inputs[i]) != inputDim || len(outputs[i]) != outputDim {
			return ErrDimension
		}
	}
	return nil
}
