package explore

import (
	"errors"
	"math/rand"

	"coach/internal/events"
)

const DefaultBaselineRate = 0.01

type Config struct {
	AgentID   string
	ActionDim int
	// ProbeFrames is how many frames a probe stays active after a disapproval.
	ProbeFrames int
	// BaselineRate is the per-frame chance of a single-frame random action
	// while no probe is active.
	BaselineRate float64
	// SharedScalar broadcasts one random scalar to every action component.
	SharedScalar bool
	Rand         *rand.Rand
	Events       events.Sink
}

// Controller decides when the agent acts on a held random probe instead of
// the model's prediction. It is driven from one goroutine.
type Controller struct {
	agentID      string
	actionDim    int
	probeFrames  int
	baselineRate float64
	shared       bool
	rng          *rand.Rand
	sink         events.Sink

	probe     []float64
	remaining int
	oneShot   []float64
}

func NewController(cfg Config) (*Controller, error) {
	if cfg.ActionDim <= 0 {
		return nil, errors.New("action dim must be > 0")
	}
	if cfg.ProbeFrames <= 0 {
		return nil, errors.New("probe frames must be > 0")
	}
	if cfg.BaselineRate < 0 || cfg.BaselineRate > 1 {
		return nil, errors.New("baseline rate must be within [0, 1]")
	}
	if cfg.Rand == nil {
		return nil, errors.New("random source is required")
	}
	sink := cfg.Events
	if sink == nil {
		sink = events.Discard
	}
	return &Controller{
		agentID:      cfg.AgentID,
		actionDim:    cfg.ActionDim,
		probeFrames:  cfg.ProbeFrames,
		baselineRate: cfg.BaselineRate,
		shared:       cfg.SharedScalar,
		rng:          cfg.Rand,
		sink:         sink,
	}, nil
}

func (c *Controller) ShouldExplore() bool {
	return c.remaining > 0 || c.oneShot != nil
}

// Probing reports whether a disapproval-triggered probe is active, as opposed
// to a baseline single-frame action.
func (c *Controller) Probing() bool {
	return c.remaining > 0
}

func (c *Controller) RemainingFrames() int {
	return c.remaining
}

// CurrentProbe returns a copy of the action to emit this frame, or nil when
// not exploring.
func (c *Controller) CurrentProbe() []float64 {
	switch {
	case c.remaining > 0:
		return append([]float64(nil), c.probe...)
	case c.oneShot != nil:
		return append([]float64(nil), c.oneShot...)
	default:
		return nil
	}
}

func (c *Controller) OnDisapprove() {
	c.probe = c.randomAction()
	c.remaining = c.probeFrames
	c.oneShot = nil
	c.sink.Publish(events.WithValue(events.RandomSampleOn, c.agentID, float64(c.probeFrames)))
}

// OnApprove ends an active probe early: the operator endorsed what the probe
// produced.
func (c *Controller) OnApprove() {
	if c.remaining == 0 {
		return
	}
	c.end()
}

// Tick closes the current frame: it counts down an active probe and rolls the
// baseline exploration chance for the next frame.
func (c *Controller) Tick() {
	c.oneShot = nil
	if c.remaining > 0 {
		c.remaining--
		if c.remaining == 0 {
			c.end()
		}
		return
	}
	if c.baselineRate > 0 && c.rng.Float64() < c.baselineRate {
		c.oneShot = c.randomAction()
	}
}

func (c *Controller) end() {
	c.remaining = 0
	c.probe = nil
	c.sink.Publish(events.New(events.RandomSampleOff, c.agentID))
}

func (c *Controller) randomAction() []float64 {
	out := make([]float64, c.actionDim)
	if c.shared {
		v := c.rng.Float64()*2 - 1
		for i := range out {
			out[i] = v
		}
		return out
	}
	for i := range out {
		out[i] = c.rng.Float64()*2 - 1
	}
	return out
}
