package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"coach/internal/events"
	"coach/internal/model"
	"coach/internal/nn"
)

const (
	DefaultLossAverageSpeed = 0.05
	DefaultFitTimeout       = 30 * time.Second
)

// Source is the replay data the scheduler draws from.
type Source interface {
	Size() int
	SampleBatch(n int) ([]model.Sample, error)
}

type Config struct {
	AgentID    string
	BatchSize  int
	MinSamples int
	// MaxEpochs stops training once the current data has been revisited this
	// many times without new feedback.
	MaxEpochs float64
	// MinEpochs must elapse before a rising loss average stops training.
	MinEpochs        float64
	LossAverageSpeed float64
	WeightTargets    bool
	FitEpochs        int
	LearningRate     float64
	// FitTimeout bounds a single fit; zero disables the deadline.
	FitTimeout time.Duration
	Events     events.Sink
	Logger     *slog.Logger
	Now        func() time.Time
}

type fitResult struct {
	loss float64
	err  error
}

type flight struct {
	done     chan fitResult
	cancel   context.CancelFunc
	deadline time.Time
	batch    int
}

// Scheduler fits the model on replay batches, one fit at a time. Fits run on
// their own goroutine and are collected by a later Tick. A Scheduler is not
// safe for concurrent use; its owner serializes calls.
type Scheduler struct {
	cfg    Config
	model  nn.Model
	source Source
	sink   events.Sink
	logger *slog.Logger
	now    func() time.Time

	inflight       *flight
	stopped        bool
	lossAverage    float64
	lastLoss       float64
	samplesTrained int
	fits           int
	failures       int
	timeouts       int
}

func NewScheduler(cfg Config, m nn.Model, source Source) (*Scheduler, error) {
	if m == nil {
		return nil, errors.New("model is required")
	}
	if source == nil {
		return nil, errors.New("sample source is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("batch size must be > 0")
	}
	if cfg.MinSamples < 0 {
		return nil, errors.New("min samples must be >= 0")
	}
	if cfg.MaxEpochs <= 0 {
		return nil, errors.New("max epochs must be > 0")
	}
	if cfg.MinEpochs < 0 || cfg.MinEpochs > cfg.MaxEpochs {
		return nil, errors.New("min epochs must be within [0, max epochs]")
	}
	if cfg.LossAverageSpeed == 0 {
		cfg.LossAverageSpeed = DefaultLossAverageSpeed
	}
	if cfg.LossAverageSpeed < 0 || cfg.LossAverageSpeed > 1 {
		return nil, errors.New("loss average speed must be within (0, 1]")
	}
	if cfg.FitTimeout < 0 {
		return nil, errors.New("fit timeout must be >= 0")
	}
	sink := cfg.Events
	if sink == nil {
		sink = events.Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		cfg:         cfg,
		model:       m,
		source:      source,
		sink:        sink,
		logger:      logger.With(slog.String("component", "training"), slog.String("agent", cfg.AgentID)),
		now:         now,
		lossAverage: 1,
	}, nil
}

// Tick collects a finished fit, expires an overdue one, and starts a new fit
// when the replay data allows it.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.inflight != nil {
		select {
		case res := <-s.inflight.done:
			s.complete(res)
		default:
			if !s.inflight.deadline.IsZero() && s.now().After(s.inflight.deadline) {
				s.expire()
			}
		}
	}
	if s.inflight != nil || s.stopped {
		return
	}

	size := s.source.Size()
	if size < s.cfg.MinSamples || size < s.cfg.BatchSize {
		return
	}
	batch, err := s.source.SampleBatch(s.cfg.BatchSize)
	if err != nil {
		return
	}
	s.start(ctx, batch)
}

// Await blocks until the in-flight fit reports or ctx ends, then applies the
// result. It returns immediately when nothing is in flight.
func (s *Scheduler) Await(ctx context.Context) error {
	if s.inflight == nil {
		return nil
	}
	select {
	case res := <-s.inflight.done:
		s.complete(res)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifyNewData resumes training after fresh samples were retained.
func (s *Scheduler) NotifyNewData() {
	s.samplesTrained = 0
	s.stopped = false
	s.lossAverage = 1
}

func (s *Scheduler) Locked() bool {
	return s.inflight != nil
}

func (s *Scheduler) Status() model.TrainingStatus {
	return model.TrainingStatus{
		Locked:                     s.inflight != nil,
		Stopped:                    s.stopped,
		LossMovingAverage:          s.lossAverage,
		LastLoss:                   s.lastLoss,
		SamplesTrainedSinceNewData: s.samplesTrained,
		Fits:                       s.fits,
		FitFailures:                s.failures,
		FitTimeouts:                s.timeouts,
	}
}

func (s *Scheduler) start(parent context.Context, batch []model.Sample) {
	inputs := make([][]float64, len(batch))
	outputs := make([][]float64, len(batch))
	for i, sample := range batch {
		inputs[i] = sample.Input
		target := append([]float64(nil), sample.Output...)
		switch {
		case s.cfg.WeightTargets:
			for j := range target {
				target[j] = nn.Clamp(target[j]*sample.Valuation, -1, 1)
			}
		case sample.Valuation < 0:
			// a disapproved action is fitted away from, never toward
			for j := range target {
				target[j] = -target[j]
			}
		}
		outputs[i] = target
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
		f      = &flight{done: make(chan fitResult, 1), batch: len(batch)}
	)
	if s.cfg.FitTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, s.cfg.FitTimeout)
		f.deadline = s.now().Add(s.cfg.FitTimeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	f.cancel = cancel
	s.inflight = f

	fitCfg := nn.FitConfig{BatchSize: len(batch), Epochs: s.cfg.FitEpochs, LearningRate: s.cfg.LearningRate}
	go func(m nn.Model, done chan<- fitResult) {
		defer func() {
			if r := recover(); r != nil {
				done <- fitResult{err: fmt.Errorf("fit panicked: %v", r)}
			}
		}()
		loss, err := m.Fit(ctx, inputs, outputs, fitCfg)
		done <- fitResult{loss: loss, err: err}
	}(s.model, f.done)

	s.sink.Publish(events.WithValue(events.Training, s.cfg.AgentID, s.lossAverage))
}

func (s *Scheduler) complete(res fitResult) {
	f := s.inflight
	s.inflight = nil
	f.cancel()

	if res.err != nil {
		s.failures++
		s.logger.Warn("fit failed", slog.Any("err", res.err))
		return
	}

	s.fits++
	s.lastLoss = res.loss
	previous := s.lossAverage
	alpha := s.cfg.LossAverageSpeed
	s.lossAverage = (1-alpha)*s.lossAverage + alpha*math.Min(1, res.loss)
	s.samplesTrained += f.batch

	size := s.source.Size()
	if size == 0 {
		return
	}
	epochs := float64(s.samplesTrained) / float64(size)
	overTrained := epochs > s.cfg.MaxEpochs
	plateaued := s.lossAverage > previous && epochs >= s.cfg.MinEpochs
	if overTrained || plateaued {
		s.stopped = true
		s.logger.Info("training stopped",
			slog.Float64("epochs", epochs),
			slog.Float64("loss_average", s.lossAverage),
			slog.Bool("plateaued", plateaued),
		)
		s.sink.Publish(events.WithValue(events.StopTraining, s.cfg.AgentID, s.lossAverage))
	}
}

func (s *Scheduler) expire() {
	f := s.inflight
	s.inflight = nil
	f.cancel()
	s.timeouts++
	s.logger.Warn("fit timed out, releasing lock", slog.Duration("timeout", s.cfg.FitTimeout))
}
