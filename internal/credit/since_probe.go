package credit

import (
	"errors"

	"coach/internal/model"
)

// SinceProbe keeps only frames recorded while exploring. An approval retains
// all of them at valuation +1; a disapproval leaves them in place.
type SinceProbe struct {
	maxPending int
	pending    []model.Sample
}

func NewSinceProbe(cfg Config) (*SinceProbe, error) {
	limit := cfg.MaxPending
	if limit <= 0 {
		limit = cfg.LookBackFrames
	}
	if limit <= 0 {
		return nil, errors.New("max pending or look back frames must be > 0")
	}
	return &SinceProbe{maxPending: limit}, nil
}

func (s *SinceProbe) RecordFrame(input, output []float64, exploring bool) []model.Sample {
	if !exploring {
		return nil
	}
	s.pending = append(s.pending, model.Sample{
		Input:  append([]float64(nil), input...),
		Output: append([]float64(nil), output...),
	})
	if over := len(s.pending) - s.maxPending; over > 0 {
		s.pending = append(s.pending[:0], s.pending[over:]...)
	}
	return nil
}

func (s *SinceProbe) ApplyFeedback(delta float64) []model.Sample {
	if delta <= 0 || len(s.pending) == 0 {
		return nil
	}
	out := make([]model.Sample, len(s.pending))
	for i, sample := range s.pending {
		out[i] = sample.Clone()
		out[i].Valuation = 1
	}
	s.pending = s.pending[:0]
	return out
}

// Flush drops unapproved frames; nothing is retained without an approval.
func (s *SinceProbe) Flush() []model.Sample {
	s.pending = s.pending[:0]
	return nil
}

func (s *SinceProbe) Pending() int {
	return len(s.pending)
}
