package io

import "context"

type Sensor interface {
	Name() string
	Read(ctx context.Context) ([]float64, error)
}

type Actuator interface {
	Name() string
	Write(ctx context.Context, values []float64) error
}

// SnapshotActuator is an optional actuator capability for inspecting the most
// recent action.
type SnapshotActuator interface {
	Last() []float64
}

// ObservationSource yields per-agent observation vectors. Environments satisfy it.
type ObservationSource interface {
	Observation(agentID string) []float64
}

// ActionSink accepts per-agent action vectors. Environments satisfy it.
type ActionSink interface {
	SetAction(agentID string, action []float64)
}

// Binding is what a factory needs to wire a component to one agent.
type Binding struct {
	AgentID string
	Dim     int
	Source  ObservationSource
	Sink    ActionSink
}
