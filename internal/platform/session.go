package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"coach/internal/agent"
	"coach/internal/events"
	coachio "coach/internal/io"
	"coach/internal/model"
	"coach/internal/scape"
	"coach/internal/storage"
)

const (
	DefaultFrameRate = 60.0
	DefaultPlayer1   = "player1"
	DefaultPlayer2   = "player2"
)

var (
	ErrUnknownAgent   = errors.New("unknown agent")
	ErrUnknownSession = errors.New("unknown session")
	ErrRunning        = errors.New("session is already running")
)

type Config struct {
	// ID names the session; a uuid is generated when empty. ResumeFrom
	// overrides it.
	ID          string
	Environment string
	Agents      []string
	FrameRate   float64
	// CheckpointEvery saves a checkpoint every n frames; 0 only checkpoints
	// on stop.
	CheckpointEvery int64
	Settings        agent.Settings
	Seed            int64
	Store           storage.Store
	Events          events.Sink
	Logger          *slog.Logger
	// ResumeFrom restores the latest checkpoint and replay of every agent of
	// a stored session and continues it.
	ResumeFrom   string
	SensorName   string
	ActuatorName string
	Now          func() time.Time
}

// Session hosts one environment and the trainers of its agents and drives
// them at a fixed frame rate.
type Session struct {
	id        string
	cfg       Config
	env       scape.Environment
	store     storage.Store
	logger    *slog.Logger
	now       func() time.Time
	startedAt time.Time

	order    []string
	trainers map[string]*agent.Trainer

	frames      atomic.Int64
	checkpoints atomic.Int64
	running     atomic.Bool
	cpMu        sync.Mutex
}

func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Environment == "" {
		cfg.Environment = scape.WalkerName
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = []string{DefaultPlayer1, DefaultPlayer2}
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if cfg.CheckpointEvery < 0 {
		return nil, fmt.Errorf("checkpoint interval must be >= 0, got %d", cfg.CheckpointEvery)
	}
	if cfg.Settings.Backend == "" && cfg.Settings.ProbeFrames == 0 {
		cfg.Settings = agent.DefaultSettings()
	}
	if cfg.SensorName == "" {
		cfg.SensorName = coachio.ObservationSensorName
	}
	if cfg.ActuatorName == "" {
		cfg.ActuatorName = coachio.ActionActuatorName
	}
	if cfg.Store == nil {
		cfg.Store = storage.NewMemoryStore()
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	id := cfg.ID
	if cfg.ResumeFrom != "" {
		id = cfg.ResumeFrom
	}
	if id == "" {
		id = uuid.NewString()
	}

	env, err := scape.New(cfg.Environment, cfg.Agents)
	if err != nil {
		return nil, err
	}
	if err := cfg.Store.Init(ctx); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	s := &Session{
		id:        id,
		cfg:       cfg,
		env:       env,
		store:     cfg.Store,
		logger:    cfg.Logger.With(slog.String("component", "session"), slog.String("session", id)),
		now:       cfg.Now,
		startedAt: cfg.Now().UTC(),
		order:     append([]string(nil), cfg.Agents...),
		trainers:  make(map[string]*agent.Trainer, len(cfg.Agents)),
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	for _, agentID := range s.order {
		binding := coachio.Binding{AgentID: agentID, Source: env, Sink: env}
		binding.Dim = env.InputDim()
		sensor, err := coachio.ResolveSensor(cfg.SensorName, binding)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", agentID, err)
		}
		binding.Dim = env.ActionDim()
		actuator, err := coachio.ResolveActuator(cfg.ActuatorName, binding)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", agentID, err)
		}
		tr, err := agent.Build(agentID, env.InputDim(), env.ActionDim(), cfg.Settings, agent.Deps{
			Rand:     rand.New(rand.NewSource(rng.Int63())),
			Events:   cfg.Events,
			Logger:   cfg.Logger.With(slog.String("agent", agentID)),
			Sensor:   sensor,
			Actuator: actuator,
		})
		if err != nil {
			return nil, err
		}
		s.trainers[agentID] = tr
	}

	if cfg.ResumeFrom != "" {
		if err := s.resume(ctx); err != nil {
			return nil, err
		}
	}
	s.logger.Info("session ready",
		slog.String("environment", env.Name()),
		slog.Any("agents", s.order),
		slog.Float64("frame_rate", cfg.FrameRate),
	)
	return s, nil
}

func (s *Session) resume(ctx context.Context) error {
	prev, ok, err := s.store.GetSession(ctx, s.id)
	if err != nil {
		return fmt.Errorf("load session %s: %w", s.id, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, s.id)
	}
	s.startedAt = prev.StartedAt
	s.frames.Store(prev.Frames)

	for _, agentID := range s.order {
		tr := s.trainers[agentID]
		cp, ok, err := s.store.LatestCheckpoint(ctx, s.id, agentID)
		if err != nil {
			return fmt.Errorf("load checkpoint %s: %w", agentID, err)
		}
		if ok {
			if err := tr.Restore(cp); err != nil && !errors.Is(err, agent.ErrNoSnapshot) {
				return err
			}
		}
		snap, ok, err := s.store.GetReplay(ctx, s.id, agentID)
		if err != nil {
			return fmt.Errorf("load replay %s: %w", agentID, err)
		}
		if ok {
			tr.RestoreReplay(snap)
		}
	}
	s.logger.Info("session resumed", slog.Int64("frames", prev.Frames))
	return nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Environment() scape.Environment { return s.env }

func (s *Session) Agents() []string { return append([]string(nil), s.order...) }

func (s *Session) Frames() int64 { return s.frames.Load() }

func (s *Session) FrameRate() float64 { return s.cfg.FrameRate }

func (s *Session) trainer(agentID string) (*agent.Trainer, error) {
	tr, ok := s.trainers[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	return tr, nil
}

// Step advances every agent and the environment by one frame.
func (s *Session) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, agentID := range s.order {
		if _, err := s.trainers[agentID].Tick(ctx); err != nil {
			return err
		}
	}
	s.env.Step(1 / s.cfg.FrameRate)
	frames := s.frames.Add(1)
	if s.cfg.CheckpointEvery > 0 && frames%s.cfg.CheckpointEvery == 0 {
		if err := s.Checkpoint(ctx); err != nil {
			s.logger.Warn("periodic checkpoint failed", slog.Int64("frame", frames), slog.Any("err", err))
		}
	}
	return nil
}

// Run steps the session at its frame rate until ctx ends, then flushes
// pending feedback and saves a final checkpoint.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer s.running.Store(false)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.cfg.FrameRate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return s.Close(context.WithoutCancel(ctx))
		case <-ticker.C:
			if err := s.Step(ctx); err != nil {
				if ctx.Err() != nil {
					return s.Close(context.WithoutCancel(ctx))
				}
				return err
			}
		}
	}
}

func (s *Session) Running() bool { return s.running.Load() }

func (s *Session) Approve(agentID string) error {
	tr, err := s.trainer(agentID)
	if err != nil {
		return err
	}
	tr.Approve()
	s.logger.Debug("approve", slog.String("agent", agentID))
	return nil
}

func (s *Session) Disapprove(agentID string) error {
	tr, err := s.trainer(agentID)
	if err != nil {
		return err
	}
	tr.Disapprove()
	s.logger.Debug("disapprove", slog.String("agent", agentID))
	return nil
}

// Output is the most recent action of agentID.
func (s *Session) Output(agentID string) ([]float64, error) {
	tr, err := s.trainer(agentID)
	if err != nil {
		return nil, err
	}
	return tr.Output(), nil
}

func (s *Session) Status(agentID string) (model.AgentSummary, error) {
	tr, err := s.trainer(agentID)
	if err != nil {
		return model.AgentSummary{}, err
	}
	return tr.Summary(), nil
}

func (s *Session) TrainingStatus(agentID string) (model.TrainingStatus, error) {
	tr, err := s.trainer(agentID)
	if err != nil {
		return model.TrainingStatus{}, err
	}
	return tr.TrainingStatus(), nil
}

func (s *Session) Summary() model.SessionSummary {
	agents := make([]model.AgentSummary, 0, len(s.order))
	for _, agentID := range s.order {
		agents = append(agents, s.trainers[agentID].Summary())
	}
	return model.SessionSummary{
		ID:        s.id,
		StartedAt: s.startedAt,
		UpdatedAt: s.now().UTC(),
		Frames:    s.frames.Load(),
		Agents:    agents,
	}
}

// Checkpoints is the number of checkpoints saved by this process.
func (s *Session) Checkpoints() int64 { return s.checkpoints.Load() }

// Checkpoint saves model weights and replay of every agent plus the session
// summary. Agents whose model cannot be snapshotted keep only their replay.
func (s *Session) Checkpoint(ctx context.Context) error {
	s.cpMu.Lock()
	defer s.cpMu.Unlock()

	version := storage.CurrentVersion()
	for _, agentID := range s.order {
		tr := s.trainers[agentID]
		cp, err := tr.Checkpoint(s.id)
		switch {
		case errors.Is(err, agent.ErrNoSnapshot):
		case err != nil:
			return err
		default:
			cp.VersionedRecord = version
			if err := s.store.SaveCheckpoint(ctx, cp); err != nil {
				return fmt.Errorf("save checkpoint %s: %w", agentID, err)
			}
		}
		snap := tr.ReplaySnapshot(s.id)
		snap.VersionedRecord = version
		if err := s.store.SaveReplay(ctx, snap); err != nil {
			return fmt.Errorf("save replay %s: %w", agentID, err)
		}
	}
	summary := s.Summary()
	summary.VersionedRecord = version
	if err := s.store.SaveSession(ctx, summary); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	n := s.checkpoints.Add(1)
	s.logger.Debug("checkpoint saved", slog.Int64("frame", summary.Frames), slog.Int64("checkpoints", n))
	return nil
}

// Await waits for the in-flight fits of every agent.
func (s *Session) Await(ctx context.Context) error {
	for _, agentID := range s.order {
		if err := s.trainers[agentID].Await(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes pending feedback into the replay stores and saves a final
// checkpoint. It does not close the store.
func (s *Session) Close(ctx context.Context) error {
	for _, agentID := range s.order {
		s.trainers[agentID].Flush()
	}
	if err := s.Checkpoint(ctx); err != nil {
		return err
	}
	s.logger.Info("session stopped", slog.Int64("frames", s.frames.Load()))
	return nil
}
