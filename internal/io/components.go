package io

import (
	"context"
	"errors"
	"sync"
)

const (
	ObservationSensorName = "observation"
	ActionActuatorName    = "action"
	RecordingActuatorName = "recording"
	ScalarInputSensorName = "scalar_input"
)

// FilterDim returns values when it has exactly dim components, nil otherwise.
func FilterDim(values []float64, dim int) []float64 {
	if len(values) != dim {
		return nil
	}
	return values
}

// ObservationSensor reads one agent's observation from a source. Vectors of
// the wrong width read as nil.
type ObservationSensor struct {
	agentID string
	dim     int
	source  ObservationSource
}

func NewObservationSensor(agentID string, dim int, source ObservationSource) (*ObservationSensor, error) {
	if source == nil {
		return nil, errors.New("observation source is required")
	}
	return &ObservationSensor{agentID: agentID, dim: dim, source: source}, nil
}

func (s *ObservationSensor) Name() string {
	return ObservationSensorName
}

func (s *ObservationSensor) Read(ctx context.Context) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	obs := FilterDim(s.source.Observation(s.agentID), s.dim)
	if obs == nil {
		return nil, nil
	}
	return append([]float64(nil), obs...), nil
}

// ActionActuator forwards one agent's action into a sink, ignoring vectors of
// the wrong width.
type ActionActuator struct {
	agentID string
	dim     int
	sink    ActionSink
}

func NewActionActuator(agentID string, dim int, sink ActionSink) (*ActionActuator, error) {
	if sink == nil {
		return nil, errors.New("action sink is required")
	}
	return &ActionActuator{agentID: agentID, dim: dim, sink: sink}, nil
}

func (a *ActionActuator) Name() string {
	return ActionActuatorName
}

func (a *ActionActuator) Write(ctx context.Context, values []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if FilterDim(values, a.dim) == nil {
		return nil
	}
	a.sink.SetAction(a.agentID, append([]float64(nil), values...))
	return nil
}

// RecordingActuator keeps the last action written to it.
type RecordingActuator struct {
	mu   sync.RWMutex
	dim  int
	last []float64
}

func NewRecordingActuator(dim int) *RecordingActuator {
	return &RecordingActuator{dim: dim}
}

func (a *RecordingActuator) Name() string {
	return RecordingActuatorName
}

func (a *RecordingActuator) Write(_ context.Context, values []float64) error {
	if a.dim > 0 && FilterDim(values, a.dim) == nil {
		return nil
	}
	a.mu.Lock()
	a.last = append([]float64(nil), values...)
	a.mu.Unlock()
	return nil
}

func (a *RecordingActuator) Last() []float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]float64(nil), a.last...)
}

// ScalarInputSensor broadcasts a settable scalar across dim components.
type ScalarInputSensor struct {
	mu    sync.RWMutex
	dim   int
	value float64
}

func NewScalarInputSensor(dim int, initial float64) *ScalarInputSensor {
	return &ScalarInputSensor{dim: dim, value: initial}
}

func (s *ScalarInputSensor) Name() string {
	return ScalarInputSensorName
}

func (s *ScalarInputSensor) Read(_ context.Context) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]float64, s.dim)
	for i := range out {
		out[i] = s.value
	}
	return out, nil
}

func (s *ScalarInputSensor) Set(value float64) {
	s.mu.Lock()
	s.value = value
	s.mu.Unlock()
}

func init() {
	initializeDefaultComponents()
}

func initializeDefaultComponents() {
	mustRegisterSensor(ObservationSensorName, func(b Binding) (Sensor, error) {
		return NewObservationSensor(b.AgentID, b.Dim, b.Source)
	})
	mustRegisterSensor(ScalarInputSensorName, func(b Binding) (Sensor, error) {
		return NewScalarInputSensor(b.Dim, 0), nil
	})
	mustRegisterActuator(ActionActuatorName, func(b Binding) (Actuator, error) {
		return NewActionActuator(b.AgentID, b.Dim, b.Sink)
	})
	mustRegisterActuator(RecordingActuatorName, func(b Binding) (Actuator, error) {
		return NewRecordingActuator(b.Dim), nil
	})
}

func mustRegisterSensor(name string, factory SensorFactory) {
	if err := RegisterSensor(name, factory); err != nil {
		panic(err)
	}
}

func mustRegisterActuator(name string, factory ActuatorFactory) {
	if err := RegisterActuator(name, factory); err != nil {
		panic(err)
	}
}
