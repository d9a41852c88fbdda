package io

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrSensorExists     = errors.New("sensor already registered")
	ErrSensorNotFound   = errors.New("sensor not found")
	ErrActuatorExists   = errors.New("actuator already registered")
	ErrActuatorNotFound = errors.New("actuator not found")
)

type SensorFactory func(b Binding) (Sensor, error)

type ActuatorFactory func(b Binding) (Actuator, error)

var sensorRegistry = struct {
	mu sync.RWMutex
	m  map[string]SensorFactory
}{
	m: make(map[string]SensorFactory),
}

var actuatorRegistry = struct {
	mu sync.RWMutex
	m  map[string]ActuatorFactory
}{
	m: make(map[string]ActuatorFactory),
}

func RegisterSensor(name string, factory SensorFactory) error {
	name = normalizeName(name)
	if name == "" {
		return errors.New("sensor name is required")
	}
	if factory == nil {
		return errors.New("sensor factory is required")
	}

	sensorRegistry.mu.Lock()
	defer sensorRegistry.mu.Unlock()

	if _, exists := sensorRegistry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrSensorExists, name)
	}
	sensorRegistry.m[name] = factory
	return nil
}

// ResolveSensor builds the named sensor bound to b.
func ResolveSensor(name string, b Binding) (Sensor, error) {
	sensorRegistry.mu.RLock()
	factory, ok := sensorRegistry.m[normalizeName(name)]
	sensorRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSensorNotFound, name)
	}
	if err := validateBinding(b); err != nil {
		return nil, fmt.Errorf("sensor %s: %w", name, err)
	}
	return factory(b)
}

func ListSensors() []string {
	sensorRegistry.mu.RLock()
	defer sensorRegistry.mu.RUnlock()

	names := make([]string, 0, len(sensorRegistry.m))
	for n := range sensorRegistry.m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func RegisterActuator(name string, factory ActuatorFactory) error {
	name = normalizeName(name)
	if name == "" {
		return errors.New("actuator name is required")
	}
	if factory == nil {
		return errors.New("actuator factory is required")
	}

	actuatorRegistry.mu.Lock()
	defer actuatorRegistry.mu.Unlock()

	if _, exists := actuatorRegistry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrActuatorExists, name)
	}
	actuatorRegistry.m[name] = factory
	return nil
}

// ResolveActuator builds the named actuator bound to b.
func ResolveActuator(name string, b Binding) (Actuator, error) {
	actuatorRegistry.mu.RLock()
	factory, ok := actuatorRegistry.m[normalizeName(name)]
	actuatorRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActuatorNotFound, name)
	}
	if err := validateBinding(b); err != nil {
		return nil, fmt.Errorf("actuator %s: %w", name, err)
	}
	return factory(b)
}

func ListActuators() []string {
	actuatorRegistry.mu.RLock()
	defer actuatorRegistry.mu.RUnlock()

	names := make([]string, 0, len(actuatorRegistry.m))
	for n := range actuatorRegistry.m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func validateBinding(b Binding) error {
	if b.AgentID == "" {
		return errors.New("agent id is required")
	}
	if b.Dim <= 0 {
		return errors.New("dim must be > 0")
	}
	return nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func resetRegistriesForTests() {
	sensorRegistry.mu.Lock()
	sensorRegistry.m = make(map[string]SensorFactory)
	sensorRegistry.mu.Unlock()

	actuatorRegistry.mu.Lock()
	actuatorRegistry.m = make(map[string]ActuatorFactory)
	actuatorRegistry.mu.Unlock()

	initializeDefaultComponents()
}
