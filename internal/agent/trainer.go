package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"coach/internal/credit"
	"coach/internal/explore"
	coachio "coach/internal/io"
	"coach/internal/model"
	"coach/internal/nn"
	"coach/internal/replay"
	"coach/internal/training"
)

const (
	DefaultApproveValuation    = 1.0
	DefaultDisapproveValuation = 1.0
)

var ErrNoSnapshot = errors.New("model does not support snapshots")

type Config struct {
	AgentID   string
	InputDim  int
	ActionDim int
	// ApproveValuation and DisapproveValuation are the magnitudes handed to
	// the credit buffer; disapproval is applied negated.
	ApproveValuation    float64
	DisapproveValuation float64
	Logger              *slog.Logger
}

// Components are the per-agent collaborators a Trainer drives. Sensor and
// Actuator are optional; without them the owner calls SetInput and Output.
type Components struct {
	Model     nn.Model
	Explorer  *explore.Controller
	Credit    credit.Assigner
	Store     *replay.Store
	Scheduler *training.Scheduler
	Sensor    coachio.Sensor
	Actuator  coachio.Actuator
}

// Trainer couples one agent's observation stream, model, exploration and
// feedback. Update runs on the session goroutine while Approve and Disapprove
// may arrive from any goroutine; a single mutex serializes them.
type Trainer struct {
	mu     sync.Mutex
	cfg    Config
	c      Components
	logger *slog.Logger

	input        []float64
	output       []float64
	frames       int64
	approvals    int
	disapprovals int
	retained     int

	predictFailures int
}

func NewTrainer(cfg Config, c Components) (*Trainer, error) {
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	if cfg.InputDim <= 0 {
		return nil, fmt.Errorf("input dim must be > 0")
	}
	if cfg.ActionDim <= 0 {
		return nil, fmt.Errorf("action dim must be > 0")
	}
	if c.Model == nil || c.Explorer == nil || c.Credit == nil || c.Store == nil || c.Scheduler == nil {
		return nil, fmt.Errorf("agent %s: model, explorer, credit, store and scheduler are required", cfg.AgentID)
	}
	if cfg.ApproveValuation == 0 {
		cfg.ApproveValuation = DefaultApproveValuation
	}
	if cfg.DisapproveValuation == 0 {
		cfg.DisapproveValuation = DefaultDisapproveValuation
	}
	if cfg.ApproveValuation < 0 || cfg.DisapproveValuation < 0 {
		return nil, fmt.Errorf("feedback valuations must be positive magnitudes")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{
		cfg:    cfg,
		c:      c,
		logger: logger.With(slog.String("component", "agent"), slog.String("agent", cfg.AgentID)),
	}, nil
}

func (t *Trainer) ID() string {
	return t.cfg.AgentID
}

// SetInput stores the latest observation. Vectors of the wrong width are
// dropped.
func (t *Trainer) SetInput(observation []float64) {
	if len(observation) != t.cfg.InputDim {
		t.logger.Debug("dropping observation", slog.Int("got", len(observation)), slog.Int("want", t.cfg.InputDim))
		return
	}
	t.mu.Lock()
	t.input = append(t.input[:0], observation...)
	t.mu.Unlock()
}

// Output returns a copy of the most recent action, or nil before the first
// one was produced.
func (t *Trainer) Output() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.output == nil {
		return nil
	}
	return append([]float64(nil), t.output...)
}

// Update advances the agent by one frame.
func (t *Trainer) Update(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.frames++
	exploring := t.c.Explorer.ShouldExplore()
	var out []float64
	switch {
	case exploring:
		out = t.c.Explorer.CurrentProbe()
	case t.input != nil:
		predicted, err := t.c.Model.Predict(t.input)
		if err != nil {
			t.predictFailures++
			t.logger.Warn("predict failed, skipping frame", slog.Int64("frame", t.frames), slog.Any("err", err))
		} else {
			out = nn.ClampVector(predicted, -1, 1)
		}
	}

	if out != nil && t.input != nil {
		t.retain(t.c.Credit.RecordFrame(t.input, out, exploring))
	}
	t.c.Scheduler.Tick(ctx)
	if out != nil {
		t.output = out
	}
	t.c.Explorer.Tick()
	return nil
}

// Tick reads the sensor, updates and writes the action to the actuator. It is
// the sensor to actuator path used when the trainer owns its IO.
func (t *Trainer) Tick(ctx context.Context) ([]float64, error) {
	if t.c.Sensor != nil {
		values, err := t.c.Sensor.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("agent %s sensor %s: %w", t.cfg.AgentID, t.c.Sensor.Name(), err)
		}
		if values != nil {
			t.SetInput(values)
		}
	}
	if err := t.Update(ctx); err != nil {
		return nil, err
	}
	out := t.Output()
	if t.c.Actuator != nil && out != nil {
		if err := t.c.Actuator.Write(ctx, out); err != nil {
			return nil, fmt.Errorf("agent %s actuator %s: %w", t.cfg.AgentID, t.c.Actuator.Name(), err)
		}
	}
	return out, nil
}

func (t *Trainer) Approve() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.approvals++
	t.retain(t.c.Credit.ApplyFeedback(t.cfg.ApproveValuation))
	t.c.Explorer.OnApprove()
}

func (t *Trainer) Disapprove() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disapprovals++
	t.retain(t.c.Credit.ApplyFeedback(-t.cfg.DisapproveValuation))
	t.c.Explorer.OnDisapprove()
}

// Flush moves every qualifying pending frame into the replay store.
func (t *Trainer) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retain(t.c.Credit.Flush())
}

// Await waits for an in-flight fit to report.
func (t *Trainer) Await(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c.Scheduler.Await(ctx)
}

func (t *Trainer) retain(samples []model.Sample) {
	if len(samples) == 0 {
		return
	}
	for _, s := range samples {
		t.c.Store.Retain(s)
	}
	t.retained += len(samples)
	t.c.Scheduler.NotifyNewData()
}

func (t *Trainer) TrainingStatus() model.TrainingStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c.Scheduler.Status()
}

func (t *Trainer) Summary() model.AgentSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	status := t.c.Scheduler.Status()
	return model.AgentSummary{
		AgentID:           t.cfg.AgentID,
		Exploring:         t.c.Explorer.ShouldExplore(),
		Approvals:         t.approvals,
		Disapprovals:      t.disapprovals,
		Retained:          t.retained,
		ReplaySize:        t.c.Store.Size(),
		Fits:              status.Fits,
		FitFailures:       status.FitFailures,
		PredictFailures:   t.predictFailures,
		LossMovingAverage: status.LossMovingAverage,
		Training:          status.Locked,
		Stopped:           status.Stopped,
	}
}

// Checkpoint captures the model weights for sessionID.
func (t *Trainer) Checkpoint(sessionID string) (model.ModelCheckpoint, error) {
	snap, ok := t.c.Model.(nn.Snapshotter)
	if !ok {
		return model.ModelCheckpoint{}, ErrNoSnapshot
	}
	cp, err := snap.Snapshot()
	if err != nil {
		return model.ModelCheckpoint{}, fmt.Errorf("agent %s snapshot: %w", t.cfg.AgentID, err)
	}
	cp.ID = uuid.NewString()
	cp.SessionID = sessionID
	cp.AgentID = t.cfg.AgentID
	cp.CreatedAt = time.Now().UTC()
	return cp, nil
}

func (t *Trainer) Restore(cp model.ModelCheckpoint) error {
	snap, ok := t.c.Model.(nn.Snapshotter)
	if !ok {
		return ErrNoSnapshot
	}
	if err := snap.Restore(cp); err != nil {
		return fmt.Errorf("agent %s restore: %w", t.cfg.AgentID, err)
	}
	return nil
}

func (t *Trainer) ReplaySnapshot(sessionID string) model.ReplaySnapshot {
	return model.ReplaySnapshot{
		SessionID: sessionID,
		AgentID:   t.cfg.AgentID,
		Samples:   t.c.Store.Snapshot(),
	}
}

// RestoreReplay loads snap into the replay store and lets training resume on
// it.
func (t *Trainer) RestoreReplay(snap model.ReplaySnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.c.Store.Restore(snap.Samples)
	t.c.Scheduler.NotifyNewData()
}
