package credit

import (
	"errors"
	"math"
	"math/rand"

	"coach/internal/model"
)

// Window spreads each feedback delta over the most recent LookBackFrames
// samples with a linear ramp: the newest sample gets the full delta, the
// oldest of k pending samples gets delta/k.
type Window struct {
	lookBack     int
	minValuation float64
	keepFraction float64
	rng          *rand.Rand
	pending      []model.Sample
}

func NewWindow(cfg Config) (*Window, error) {
	if cfg.LookBackFrames <= 0 {
		return nil, errors.New("look back frames must be > 0")
	}
	if cfg.MinValuation < 0 {
		return nil, errors.New("min valuation must be >= 0")
	}
	if cfg.KeepFraction < 0 || cfg.KeepFraction > 1 {
		return nil, errors.New("keep fraction must be within [0, 1]")
	}
	if cfg.Rand == nil {
		return nil, errors.New("random source is required")
	}
	return &Window{
		lookBack:     cfg.LookBackFrames,
		minValuation: cfg.MinValuation,
		keepFraction: cfg.KeepFraction,
		rng:          cfg.Rand,
		pending:      make([]model.Sample, 0, cfg.LookBackFrames+1),
	}, nil
}

// RecordFrame records the pair regardless of exploration state and trims the
// oldest sample once the window is over capacity.
func (w *Window) RecordFrame(input, output []float64, _ bool) []model.Sample {
	w.pending = append(w.pending, model.Sample{
		Input:  append([]float64(nil), input...),
		Output: append([]float64(nil), output...),
	})

	var retained []model.Sample
	for len(w.pending) > w.lookBack {
		oldest := w.pending[0]
		w.pending[0] = model.Sample{}
		w.pending = w.pending[1:]
		if w.qualifies(oldest) {
			retained = append(retained, oldest.Clone())
		}
	}
	return retained
}

func (w *Window) ApplyFeedback(delta float64) []model.Sample {
	k := len(w.pending)
	if k > w.lookBack {
		k = w.lookBack
	}
	if k == 0 {
		return nil
	}
	start := len(w.pending) - k
	for i := 0; i < k; i++ {
		w.pending[start+i].Valuation += delta * Decay(i, k)
	}
	return nil
}

func (w *Window) Flush() []model.Sample {
	var retained []model.Sample
	for _, s := range w.pending {
		if w.qualifies(s) {
			retained = append(retained, s.Clone())
		}
	}
	w.pending = w.pending[:0]
	return retained
}

func (w *Window) Pending() int {
	return len(w.pending)
}

// Valuations returns the pending valuations from oldest to newest.
func (w *Window) Valuations() []float64 {
	out := make([]float64, len(w.pending))
	for i, s := range w.pending {
		out[i] = s.Valuation
	}
	return out
}

func (w *Window) qualifies(s model.Sample) bool {
	if math.Abs(s.Valuation) <= w.minValuation {
		return false
	}
	return w.rng.Float64() < w.keepFraction
}

// Decay is the credit weight for position i (0 = oldest) among k samples.
func Decay(i, k int) float64 {
	if k <= 0 {
		return 0
	}
	return float64(i+1) / float64(k)
}
