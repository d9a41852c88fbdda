package loomnet

import (
	"context"
	"errors"
	"testing"

	"coach/internal/nn"
)

func TestNetworkPredictAndFit(t *testing.T) {
	net, err := New(Config{InputDim: 3, OutputDim: 2, Hidden: []int{8}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, err := net.Predict([]float64{0.1, 0.2, 0.3})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("unexpected output width: %d", len(out))
	}
	if _, err := net.Predict([]float64{1}); !errors.Is(err, nn.ErrDimension) {
		t.Fatalf("expected ErrDimension, got %v", err)
	}

	inputs := [][]float64{{0, 0, 1}, {1, 0, 0}}
	outputs := [][]float64{{0.5, -0.5}, {-0.5, 0.5}}
	loss, err := net.Fit(context.Background(), inputs, outputs, nn.FitConfig{BatchSize: 2, Epochs: 3})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if loss < 0 {
		t.Fatalf("negative loss: %f", loss)
	}
}

func TestNetworkSnapshotRestore(t *testing.T) {
	net, err := New(Config{InputDim: 2, OutputDim: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	snap, err := net.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Backend != Backend || snap.Blob == "" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if err := net.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	snap.Backend = nn.BackendMLP
	if err := net.Restore(snap); err == nil {
		t.Fatal("expected backend mismatch error")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{InputDim: 0, OutputDim: 1}); err == nil {
		t.Fatal("expected dimension validation error")
	}
	if _, err := New(Config{InputDim: 1, OutputDim: 1, Hidden: []int{0}}); err == nil {
		t.Fatal("expected hidden width validation error")
	}
}
