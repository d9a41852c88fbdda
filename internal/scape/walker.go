package scape

import (
	"math"
	"sync"
)

const WalkerName = "walker"

const (
	walkerJoints    = 4
	walkerLegLength = 1.0
	walkerMotorGain = 8.0
	walkerDamping   = 4.0
	walkerMaxOmega  = 6.0
	walkerFriction  = 0.6
	walkerSpacing   = 3.0
)

// joint order: left hip, right hip, left shoulder, right shoulder
var walkerLimits = [walkerJoints]float64{math.Pi / 2, math.Pi / 2, math.Pi, math.Pi}

// Walker is a planar articulated body per agent: a torso with two legs and two
// arms driven by velocity motors. Observation is the normalized joint angles
// and velocities followed by torso height, tilt and forward velocity; the
// action is one motor command per joint in [-1, 1].
type Walker struct {
	mu     sync.RWMutex
	ids    []string
	bodies map[string]*walkerBody
}

type walkerBody struct {
	angle  [walkerJoints]float64
	omega  [walkerJoints]float64
	motor  [walkerJoints]float64
	x      float64
	vx     float64
	height float64
	tilt   float64
}

func NewWalker(agentIDs []string) *Walker {
	w := &Walker{
		ids:    append([]string(nil), agentIDs...),
		bodies: make(map[string]*walkerBody, len(agentIDs)),
	}
	for i, id := range agentIDs {
		w.bodies[id] = &walkerBody{x: float64(i) * walkerSpacing, height: walkerLegLength}
	}
	return w
}

func (*Walker) Name() string { return WalkerName }

func (w *Walker) Agents() []string { return append([]string(nil), w.ids...) }

func (*Walker) InputDim() int { return 2*walkerJoints + 3 }

func (*Walker) ActionDim() int { return walkerJoints }

func (w *Walker) Observation(agentID string) []float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	b, ok := w.bodies[agentID]
	if !ok {
		return nil
	}
	obs := make([]float64, 0, 2*walkerJoints+3)
	for j := 0; j < walkerJoints; j++ {
		obs = append(obs, b.angle[j]/walkerLimits[j])
	}
	for j := 0; j < walkerJoints; j++ {
		obs = append(obs, b.omega[j]/walkerMaxOmega)
	}
	return append(obs, b.height/walkerLegLength, b.tilt, math.Tanh(b.vx))
}

func (w *Walker) SetAction(agentID string, action []float64) {
	if len(action) != walkerJoints {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.bodies[agentID]
	if !ok {
		return
	}
	for j, a := range action {
		if math.IsNaN(a) {
			a = 0
		}
		b.motor[j] = math.Max(-1, math.Min(1, a))
	}
}

func (w *Walker) Step(dt float64) {
	if dt <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range w.bodies {
		b.step(dt)
	}
}

// Position returns the agent's horizontal torso position.
func (w *Walker) Position(agentID string) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if b, ok := w.bodies[agentID]; ok {
		return b.x
	}
	return 0
}

func (b *walkerBody) step(dt float64) {
	for j := 0; j < walkerJoints; j++ {
		acc := walkerMotorGain*b.motor[j] - walkerDamping*b.omega[j]
		b.omega[j] = math.Max(-walkerMaxOmega, math.Min(walkerMaxOmega, b.omega[j]+acc*dt))
		b.angle[j] += b.omega[j] * dt
		if limit := walkerLimits[j]; math.Abs(b.angle[j]) > limit {
			b.angle[j] = math.Copysign(limit, b.angle[j])
			b.omega[j] = 0
		}
	}

	// the more vertical leg carries the torso and pushes it along
	stance := 0
	if math.Cos(b.angle[1]) > math.Cos(b.angle[0]) {
		stance = 1
	}
	b.height = walkerLegLength * math.Cos(b.angle[stance])
	push := -walkerLegLength * b.omega[stance] * math.Cos(b.angle[stance])
	b.vx += (push - b.vx) * math.Min(1, walkerFriction*dt*10)
	b.x += b.vx * dt

	armBalance := 0.1 * (b.angle[2] - b.angle[3]) / math.Pi
	target := 0.5*(b.angle[0]+b.angle[1])/(math.Pi/2) + armBalance
	b.tilt += (target - b.tilt) * math.Min(1, 5*dt)
	b.tilt = math.Max(-1, math.Min(1, b.tilt))
}
