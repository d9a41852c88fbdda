package training

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"coach/internal/events"
	"coach/internal/model"
	"coach/internal/nn"
	"coach/internal/replay"
)

type scriptedModel struct {
	mu      sync.Mutex
	losses  []float64
	calls   int
	outputs [][][]float64
	err     error
}

func (m *scriptedModel) Predict(input []float64) ([]float64, error) {
	return input, nil
}

func (m *scriptedModel) Fit(_ context.Context, _, outputs [][]float64, _ nn.FitConfig) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.outputs = append(m.outputs, outputs)
	if m.err != nil {
		return 0, m.err
	}
	if len(m.losses) == 0 {
		return 0.1, nil
	}
	loss := m.losses[0]
	if len(m.losses) > 1 {
		m.losses = m.losses[1:]
	}
	return loss, nil
}

func (m *scriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// hangingModel never returns from Fit until release is closed, ignoring ctx.
type hangingModel struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func newHangingModel(t *testing.T) *hangingModel {
	m := &hangingModel{started: make(chan struct{}, 16), release: make(chan struct{})}
	t.Cleanup(func() { close(m.release) })
	return m
}

func (m *hangingModel) Predict(input []float64) ([]float64, error) { return input, nil }

func (m *hangingModel) Fit(context.Context, [][]float64, [][]float64, nn.FitConfig) (float64, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	m.started <- struct{}{}
	<-m.release
	return 0, nil
}

func (m *hangingModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func fillStore(t *testing.T, n int) *replay.Store {
	t.Helper()
	store, err := replay.NewStore(100, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for i := 0; i < n; i++ {
		store.Retain(model.Sample{Input: []float64{float64(i)}, Output: []float64{0.5, -1}, Valuation: 1})
	}
	return store
}

func newScheduler(t *testing.T, cfg Config, m nn.Model, src Source) *Scheduler {
	t.Helper()
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 4
	}
	if cfg.MaxEpochs == 0 {
		cfg.MaxEpochs = 100
	}
	s, err := NewScheduler(cfg, m, src)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func await(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Await(ctx); err != nil {
		t.Fatalf("await: %v", err)
	}
}

func TestTickRespectsMinimumSamples(t *testing.T) {
	store := fillStore(t, 9)
	m := &scriptedModel{}
	s := newScheduler(t, Config{MinSamples: 10}, m, store)

	s.Tick(context.Background())
	if s.Locked() {
		t.Fatal("fit must not start with 9 samples and minimum 10")
	}

	store.Retain(model.Sample{Input: []float64{9}, Output: []float64{0, 0}, Valuation: 1})
	s.Tick(context.Background())
	if !s.Locked() {
		t.Fatal("fit must start with 10 samples")
	}
	await(t, s)
	if m.Calls() != 1 {
		t.Fatalf("expected exactly one fit, got %d", m.Calls())
	}
}

func TestTickRequiresBatchSize(t *testing.T) {
	store := fillStore(t, 3)
	s := newScheduler(t, Config{BatchSize: 4}, &scriptedModel{}, store)
	s.Tick(context.Background())
	if s.Locked() {
		t.Fatal("fit must not start when the store is smaller than a batch")
	}
}

func TestSingleFlightWithHangingFit(t *testing.T) {
	store := fillStore(t, 10)
	m := newHangingModel(t)
	s := newScheduler(t, Config{}, m, store)

	s.Tick(context.Background())
	<-m.started
	for i := 0; i < 1000; i++ {
		s.Tick(context.Background())
	}
	time.Sleep(10 * time.Millisecond)
	if got := m.Calls(); got != 1 {
		t.Fatalf("expected a single in-flight fit, got %d calls", got)
	}
	if !s.Status().Locked {
		t.Fatal("expected lock to remain held")
	}
}

func TestFitTimeoutReleasesLock(t *testing.T) {
	store := fillStore(t, 10)
	m := newHangingModel(t)
	now := time.Unix(1000, 0)
	s := newScheduler(t, Config{FitTimeout: time.Second, Now: func() time.Time { return now }}, m, store)

	s.Tick(context.Background())
	<-m.started
	now = now.Add(500 * time.Millisecond)
	s.Tick(context.Background())
	if s.Status().FitTimeouts != 0 {
		t.Fatal("fit expired before its deadline")
	}

	now = now.Add(2 * time.Second)
	s.Tick(context.Background())
	<-m.started
	status := s.Status()
	if status.FitTimeouts != 1 {
		t.Fatalf("expected one timeout, got %d", status.FitTimeouts)
	}
	if !status.Locked || m.Calls() != 2 {
		t.Fatalf("expected a fresh fit after expiry: locked=%v calls=%d", status.Locked, m.Calls())
	}
}

func TestFitFailureReleasesLock(t *testing.T) {
	store := fillStore(t, 10)
	m := &scriptedModel{err: errors.New("boom")}
	s := newScheduler(t, Config{}, m, store)

	s.Tick(context.Background())
	await(t, s)
	status := s.Status()
	if status.Locked || status.FitFailures != 1 || status.Fits != 0 {
		t.Fatalf("unexpected status after failure: %+v", status)
	}
	s.Tick(context.Background())
	if !s.Locked() {
		t.Fatal("training must continue after a failed fit")
	}
	await(t, s)
}

func TestLossMovingAverage(t *testing.T) {
	store := fillStore(t, 10)
	m := &scriptedModel{losses: []float64{0.5, 3}}
	s := newScheduler(t, Config{LossAverageSpeed: 0.5}, m, store)

	s.Tick(context.Background())
	await(t, s)
	if got := s.Status().LossMovingAverage; math.Abs(got-0.75) > 1e-12 {
		t.Fatalf("expected 0.75, got %f", got)
	}
	s.Tick(context.Background())
	await(t, s)
	// the second loss is clamped to 1
	if got := s.Status().LossMovingAverage; math.Abs(got-0.875) > 1e-12 {
		t.Fatalf("expected 0.875, got %f", got)
	}
	if got := s.Status().SamplesTrainedSinceNewData; got != 8 {
		t.Fatalf("expected 8 samples trained, got %d", got)
	}
}

func TestStopsAfterMaxEpochsAndResumesOnNewData(t *testing.T) {
	store := fillStore(t, 4)
	rec := &events.Recorder{}
	m := &scriptedModel{losses: []float64{0.9, 0.8, 0.7, 0.6}}
	s := newScheduler(t, Config{BatchSize: 4, MaxEpochs: 2, MinEpochs: 2, Events: rec}, m, store)

	for i := 0; i < 3; i++ {
		s.Tick(context.Background())
		await(t, s)
	}
	if !s.Status().Stopped {
		t.Fatalf("expected stop after 3 epochs over max 2: %+v", s.Status())
	}
	s.Tick(context.Background())
	if s.Locked() {
		t.Fatal("stopped scheduler must not start a fit")
	}
	if rec.Count(events.StopTraining) != 1 || rec.Count(events.Training) != 3 {
		t.Fatalf("unexpected events: %+v", rec.Events())
	}

	s.NotifyNewData()
	status := s.Status()
	if status.Stopped || status.SamplesTrainedSinceNewData != 0 || status.LossMovingAverage != 1 {
		t.Fatalf("expected reset after new data: %+v", status)
	}
	s.Tick(context.Background())
	if !s.Locked() {
		t.Fatal("expected training to resume after new data")
	}
	await(t, s)
}

func TestStopsOnLossPlateau(t *testing.T) {
	store := fillStore(t, 10)
	m := &scriptedModel{losses: []float64{0.2, 0.9}}
	s := newScheduler(t, Config{LossAverageSpeed: 0.5, MinEpochs: 0}, m, store)

	s.Tick(context.Background())
	await(t, s)
	if s.Status().Stopped {
		t.Fatal("falling loss must not stop training")
	}
	s.Tick(context.Background())
	await(t, s)
	if !s.Status().Stopped {
		t.Fatalf("rising loss average must stop training: %+v", s.Status())
	}
}

func TestPlateauWaitsForMinEpochs(t *testing.T) {
	store := fillStore(t, 10)
	m := &scriptedModel{losses: []float64{0.2, 0.9}}
	s := newScheduler(t, Config{LossAverageSpeed: 0.5, MinEpochs: 5, MaxEpochs: 10}, m, store)

	for i := 0; i < 2; i++ {
		s.Tick(context.Background())
		await(t, s)
	}
	if s.Status().Stopped {
		t.Fatal("plateau before min epochs must not stop training")
	}
}

func TestWeightedTargets(t *testing.T) {
	store, err := replay.NewStore(4, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	store.Retain(model.Sample{Input: []float64{1}, Output: []float64{0.5, -1}, Valuation: -3})
	m := &scriptedModel{}
	s := newScheduler(t, Config{BatchSize: 1, WeightTargets: true}, m, store)

	s.Tick(context.Background())
	await(t, s)
	got := m.outputs[0][0]
	if got[0] != -1 || got[1] != 1 {
		t.Fatalf("expected clamped weighted target [-1 1], got %v", got)
	}

	plain := &scriptedModel{}
	s = newScheduler(t, Config{BatchSize: 1}, plain, store)
	s.Tick(context.Background())
	await(t, s)
	if got := plain.outputs[0][0]; got[0] != -0.5 || got[1] != 1 {
		t.Fatalf("expected negated target for a disapproved sample, got %v", got)
	}
}

func TestUnweightedTargetsKeepApprovedOutputs(t *testing.T) {
	m := &scriptedModel{}
	s := newScheduler(t, Config{BatchSize: 4}, m, fillStore(t, 4))
	s.Tick(context.Background())
	await(t, s)
	for _, got := range m.outputs[0] {
		if got[0] != 0.5 || got[1] != -1 {
			t.Fatalf("expected approved output as target, got %v", got)
		}
	}
}

func TestNewSchedulerValidation(t *testing.T) {
	store := fillStore(t, 1)
	m := &scriptedModel{}
	cases := []Config{
		{BatchSize: 0, MaxEpochs: 1},
		{BatchSize: 1, MaxEpochs: 0},
		{BatchSize: 1, MaxEpochs: 1, MinEpochs: 2},
		{BatchSize: 1, MaxEpochs: 1, LossAverageSpeed: 2},
		{BatchSize: 1, MaxEpochs: 1, MinSamples: -1},
		{BatchSize: 1, MaxEpochs: 1, FitTimeout: -time.Second},
	}
	for i, cfg := range cases {
		if _, err := NewScheduler(cfg, m, store); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	if _, err := NewScheduler(Config{BatchSize: 1, MaxEpochs: 1}, nil, store); err == nil {
		t.Fatal("expected model validation error")
	}
	if _, err := NewScheduler(Config{BatchSize: 1, MaxEpochs: 1}, m, nil); err == nil {
		t.Fatal("expected source validation error")
	}
}
