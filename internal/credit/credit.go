// Package credit turns sparse operator feedback into valuated samples.
package credit

import (
	"fmt"
	"math/rand"
	"strings"

	"coach/internal/model"
)

const (
	StrategyDecayed    = "decayed"
	StrategySinceProbe = "since_probe"
)

// Assigner holds recent frames and decides which of them become training
// samples. RecordFrame and ApplyFeedback return the samples to retain; they
// are deep copies owned by the caller.
type Assigner interface {
	RecordFrame(input, output []float64, exploring bool) []model.Sample
	ApplyFeedback(delta float64) []model.Sample
	// Flush evaluates everything still pending and empties the buffer.
	Flush() []model.Sample
	Pending() int
}

type Config struct {
	Strategy       string
	LookBackFrames int
	MinValuation   float64
	KeepFraction   float64
	// MaxPending bounds the since_probe buffer; defaults to LookBackFrames.
	MaxPending int
	Rand       *rand.Rand
}

func New(cfg Config) (Assigner, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Strategy)) {
	case "", StrategyDecayed:
		return NewWindow(cfg)
	case StrategySinceProbe:
		return NewSinceProbe(cfg)
	default:
		return nil, fmt.Errorf("unsupported credit strategy: %s", cfg.Strategy)
	}
}
