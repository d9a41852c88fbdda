package agent

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"coach/internal/credit"
	"coach/internal/events"
	"coach/internal/explore"
	coachio "coach/internal/io"
	"coach/internal/nn"
	"coach/internal/nn/loomnet"
	"coach/internal/replay"
	"coach/internal/training"
)

// Settings are the per-agent hyperparameters shared by every player of a
// session.
type Settings struct {
	Backend      string        `json:"backend"`
	Hidden       []int         `json:"hidden"`
	Activation   string        `json:"activation"`
	LearningRate float64       `json:"learning_rate"`
	GradientClip float64       `json:"gradient_clip"`
	Credit       string        `json:"credit"`
	LookBack     int           `json:"look_back_frames"`
	MinValuation float64       `json:"min_valuation"`
	KeepFraction float64       `json:"keep_fraction"`
	MaxSamples   int           `json:"max_samples"`
	BatchSize    int           `json:"batch_size"`
	MinSamples   int           `json:"min_samples"`
	MaxEpochs    float64       `json:"max_epochs"`
	MinEpochs    float64       `json:"min_epochs"`
	LossSpeed    float64       `json:"loss_average_speed"`
	WeightTarget bool          `json:"weight_targets"`
	FitEpochs    int           `json:"fit_epochs"`
	FitTimeout   time.Duration `json:"fit_timeout"`
	ProbeFrames  int           `json:"probe_frames"`
	BaselineRate float64       `json:"baseline_rate"`
	SharedProbe  bool          `json:"shared_probe"`
	Approve      float64       `json:"approve_valuation"`
	Disapprove   float64       `json:"disapprove_valuation"`
}

func DefaultSettings() Settings {
	return Settings{
		Backend:      nn.BackendMLP,
		Hidden:       []int{32},
		Activation:   "tanh",
		LearningRate: 0.05,
		Credit:       credit.StrategyDecayed,
		LookBack:     30,
		MinValuation: 0.1,
		KeepFraction: 1,
		MaxSamples:   5000,
		BatchSize:    32,
		MinSamples:   32,
		MaxEpochs:    10,
		MinEpochs:    1,
		LossSpeed:    training.DefaultLossAverageSpeed,
		FitEpochs:    1,
		FitTimeout:   training.DefaultFitTimeout,
		ProbeFrames:  60,
		BaselineRate: explore.DefaultBaselineRate,
		Approve:      DefaultApproveValuation,
		Disapprove:   DefaultDisapproveValuation,
	}
}

// Deps are the per-agent runtime collaborators handed to Build.
type Deps struct {
	Rand     *rand.Rand
	Events   events.Sink
	Logger   *slog.Logger
	Sensor   coachio.Sensor
	Actuator coachio.Actuator
}

// NewModel builds the function approximator named by s.Backend.
func NewModel(s Settings, inputDim, actionDim int, rng *rand.Rand) (nn.Model, error) {
	switch strings.ToLower(strings.TrimSpace(s.Backend)) {
	case "", nn.BackendMLP:
		sizes := append([]int{inputDim}, s.Hidden...)
		sizes = append(sizes, actionDim)
		return nn.NewMLP(nn.MLPConfig{
			Sizes:            sizes,
			HiddenActivation: s.Activation,
			LearningRate:     s.LearningRate,
			Rand:             rng,
		})
	case loomnet.Backend:
		return loomnet.New(loomnet.Config{
			InputDim:     inputDim,
			OutputDim:    actionDim,
			Hidden:       s.Hidden,
			Activation:   s.Activation,
			LearningRate: s.LearningRate,
			GradientClip: s.GradientClip,
		})
	default:
		return nil, fmt.Errorf("unsupported model backend: %s", s.Backend)
	}
}

// Build wires a Trainer and all of its components for one agent.
func Build(agentID string, inputDim, actionDim int, s Settings, deps Deps) (*Trainer, error) {
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	// components draw from their own streams so one agent's exploration does
	// not shift its replay sampling
	child := func() *rand.Rand { return rand.New(rand.NewSource(rng.Int63())) }

	m, err := NewModel(s, inputDim, actionDim, child())
	if err != nil {
		return nil, fmt.Errorf("agent %s model: %w", agentID, err)
	}
	explorer, err := explore.NewController(explore.Config{
		AgentID:      agentID,
		ActionDim:    actionDim,
		ProbeFrames:  s.ProbeFrames,
		BaselineRate: s.BaselineRate,
		SharedScalar: s.SharedProbe,
		Rand:         child(),
		Events:       deps.Events,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s explorer: %w", agentID, err)
	}
	assigner, err := credit.New(credit.Config{
		Strategy:       s.Credit,
		LookBackFrames: s.LookBack,
		MinValuation:   s.MinValuation,
		KeepFraction:   s.KeepFraction,
		MaxPending:     s.LookBack,
		Rand:           child(),
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s credit: %w", agentID, err)
	}
	store, err := replay.NewStore(s.MaxSamples, child())
	if err != nil {
		return nil, fmt.Errorf("agent %s replay: %w", agentID, err)
	}
	scheduler, err := training.NewScheduler(training.Config{
		AgentID:          agentID,
		BatchSize:        s.BatchSize,
		MinSamples:       s.MinSamples,
		MaxEpochs:        s.MaxEpochs,
		MinEpochs:        s.MinEpochs,
		LossAverageSpeed: s.LossSpeed,
		WeightTargets:    s.WeightTarget,
		FitEpochs:        s.FitEpochs,
		LearningRate:     s.LearningRate,
		FitTimeout:       s.FitTimeout,
		Events:           deps.Events,
		Logger:           deps.Logger,
	}, m, store)
	if err != nil {
		return nil, fmt.Errorf("agent %s scheduler: %w", agentID, err)
	}
	return NewTrainer(Config{
		AgentID:             agentID,
		InputDim:            inputDim,
		ActionDim:           actionDim,
		ApproveValuation:    s.Approve,
		DisapproveValuation: s.Disapprove,
		Logger:              deps.Logger,
	}, Components{
		Model:     m,
		Explorer:  explorer,
		Credit:    assigner,
		Store:     store,
		Scheduler: scheduler,
		Sensor:    deps.Sensor,
		Actuator:  deps.Actuator,
	})
}
