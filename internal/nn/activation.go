package nn

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	ErrActivationExists   = errors.New("activation already registered")
	ErrActivationNotFound = errors.New("activation not found")
)

type ActivationFunc func(x float64) float64

// Activation pairs a transfer function with its derivative with respect to the
// pre-activation input.
type Activation struct {
	Name       string
	Func       ActivationFunc
	Derivative ActivationFunc
}

var activationRegistry = struct {
	mu sync.RWMutex
	m  map[string]Activation
}{
	m: make(map[string]Activation),
}

func init() {
	registerBuiltInActivations()
}

func registerBuiltInActivations() {
	MustRegisterActivation(Activation{
		Name:       "identity",
		Func:       func(x float64) float64 { return x },
		Derivative: func(float64) float64 { return 1 },
	})
	MustRegisterActivation(Activation{
		Name: "relu",
		Func: func(x float64) float64 {
			if x < 0 {
				return 0
			}
			return x
		},
		Derivative: func(x float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		},
	})
	MustRegisterActivation(Activation{
		Name: "tanh",
		Func: math.Tanh,
		Derivative: func(x float64) float64 {
			y := math.Tanh(x)
			return 1 - y*y
		},
	})
	MustRegisterActivation(Activation{
		Name: "sigmoid",
		Func: sigmoid,
		Derivative: func(x float64) float64 {
			s := sigmoid(x)
			return s * (1 - s)
		},
	})
	MustRegisterActivation(Activation{
		Name:       "softsign",
		Func:       func(x float64) float64 { return x / (1 + math.Abs(x)) },
		Derivative: func(x float64) float64 { d := 1 + math.Abs(x); return 1 / (d * d) },
	})
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func RegisterActivation(a Activation) error {
	if a.Name == "" {
		return errors.New("activation name is required")
	}
	if a.Func == nil || a.Derivative == nil {
		return errors.New("activation function and derivative are required")
	}

	activationRegistry.mu.Lock()
	defer activationRegistry.mu.Unlock()

	if _, exists := activationRegistry.m[a.Name]; exists {
		return fmt.Errorf("%w: %s", ErrActivationExists, a.Name)
	}
	activationRegistry.m[a.Name] = a
	return nil
}

func MustRegisterActivation(a Activation) {
	if err := RegisterActivation(a); err != nil {
		panic(err)
	}
}

func GetActivation(name string) (Activation, error) {
	activationRegistry.mu.RLock()
	a, ok := activationRegistry.m[name]
	activationRegistry.mu.RUnlock()
	if !ok {
		return Activation{}, fmt.Errorf("%w: %s", ErrActivationNotFound, name)
	}
	return a, nil
}

func ListActivations() []string {
	activationRegistry.mu.RLock()
	defer activationRegistry.mu.RUnlock()

	names := make([]string, 0, len(activationRegistry.m))
	for name := range activationRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetActivationRegistryForTests() {
	activationRegistry.mu.Lock()
	activationRegistry.m = make(map[string]Activation)
	activationRegistry.mu.Unlock()
	registerBuiltInActivations()
}
