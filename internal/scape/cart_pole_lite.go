package scape

import (
	"math"
	"sync"
)

const CartPoleLiteName = "cart-pole-lite"

// CartPoleLite is a simplified 1D balancing task per agent: observation
// [x, v], action [force].
type CartPoleLite struct {
	mu     sync.RWMutex
	ids    []string
	state  map[string]*cartState
	starts []float64
}

type cartState struct {
	x, v, force float64
	reward      float64
}

func NewCartPoleLite(agentIDs []string) *CartPoleLite {
	c := &CartPoleLite{
		ids:    append([]string(nil), agentIDs...),
		state:  make(map[string]*cartState, len(agentIDs)),
		starts: []float64{-0.8, -0.4, 0.0, 0.4, 0.8},
	}
	for i, id := range agentIDs {
		c.state[id] = &cartState{x: c.starts[i%len(c.starts)]}
	}
	return c
}

func (*CartPoleLite) Name() string { return CartPoleLiteName }

func (c *CartPoleLite) Agents() []string { return append([]string(nil), c.ids...) }

func (*CartPoleLite) InputDim() int { return 2 }

func (*CartPoleLite) ActionDim() int { return 1 }

func (c *CartPoleLite) Observation(agentID string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.state[agentID]
	if !ok {
		return nil
	}
	return []float64{s.x, s.v}
}

func (c *CartPoleLite) SetAction(agentID string, action []float64) {
	if len(action) != 1 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.state[agentID]; ok {
		s.force = action[0]
	}
}

// Step advances every cart by dt seconds; a cart leaving [-2, 2] is reset to
// the origin.
func (c *CartPoleLite) Step(dt float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.state {
		s.x, s.v, s.reward = cartPoleLiteStep(s.x, s.v, s.force, dt)
		if math.Abs(s.x) > 2.0 {
			s.x, s.v = 0, 0
		}
	}
}

// Reward returns the agent's most recent per-step reward in [0, 1].
func (c *CartPoleLite) Reward(agentID string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.state[agentID]; ok {
		return s.reward
	}
	return 0
}

func cartPoleLiteStep(x, v, force, dt float64) (nextX, nextV, reward float64) {
	const (
		kPos     = 0.45
		kVel     = 0.15
		forceK   = 1.25
		maxForce = 1.0
	)
	force = math.Max(-maxForce, math.Min(maxForce, force))

	acc := forceK*force - kPos*x - kVel*v
	v = v + acc*dt
	x = x + v*dt
	reward = 1.0 - math.Min(1.0, math.Abs(x)/2.0)
	return x, v, reward
}
