package scape

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type Agent interface {
	ID() string
}

type TickAgent interface {
	Agent
	Tick(ctx context.Context) ([]float64, error)
}

// Environment is a simulation hosting several agents. Observation and
// SetAction are keyed by agent id; actions of the wrong width are ignored.
// Implementations are safe for concurrent use.
type Environment interface {
	Name() string
	Agents() []string
	InputDim() int
	ActionDim() int
	Observation(agentID string) []float64
	SetAction(agentID string, action []float64)
	Step(dt float64)
}

var (
	ErrEnvironmentExists   = errors.New("environment already registered")
	ErrEnvironmentNotFound = errors.New("environment not found")
)

type Factory func(agentIDs []string) (Environment, error)

var registry = struct {
	mu sync.RWMutex
	m  map[string]Factory
}{
	m: make(map[string]Factory),
}

func Register(name string, factory Factory) error {
	name = normalize(name)
	if name == "" {
		return errors.New("environment name is required")
	}
	if factory == nil {
		return errors.New("environment factory is required")
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.m[name]; ok {
		return fmt.Errorf("%w: %s", ErrEnvironmentExists, name)
	}
	registry.m[name] = factory
	return nil
}

// New builds the named environment hosting agentIDs.
func New(name string, agentIDs []string) (Environment, error) {
	registry.mu.RLock()
	factory, ok := registry.m[normalize(name)]
	registry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEnvironmentNotFound, name)
	}
	if len(agentIDs) == 0 {
		return nil, errors.New("at least one agent is required")
	}
	seen := make(map[string]struct{}, len(agentIDs))
	for _, id := range agentIDs {
		if id == "" {
			return nil, errors.New("agent id is required")
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate agent id: %s", id)
		}
		seen[id] = struct{}{}
	}
	return factory(append([]string(nil), agentIDs...))
}

func List() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	names := make([]string, 0, len(registry.m))
	for n := range registry.m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func init() {
	if err := Register(WalkerName, func(ids []string) (Environment, error) { return NewWalker(ids), nil }); err != nil {
		panic(err)
	}
	if err := Register(CartPoleLiteName, func(ids []string) (Environment, error) { return NewCartPoleLite(ids), nil }); err != nil {
		panic(err)
	}
}
