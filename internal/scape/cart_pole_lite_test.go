package scape

import (
	"errors"
	"math"
	"testing"
)

func TestCartPoleLiteBalancingControllerStaysNearOrigin(t *testing.T) {
	env := NewCartPoleLite([]string{"p1"})
	for step := 0; step < 200; step++ {
		obs := env.Observation("p1")
		env.SetAction("p1", []float64{-1.2*obs[0] - 0.6*obs[1]})
		env.Step(0.1)
	}
	obs := env.Observation("p1")
	if math.Abs(obs[0]) > 0.2 {
		t.Fatalf("expected controller to settle near origin, x=%f", obs[0])
	}
	if r := env.Reward("p1"); r < 0.9 {
		t.Fatalf("expected high reward, got %f", r)
	}
}

func TestCartPoleLiteIgnoresWrongWidthAndUnknownAgents(t *testing.T) {
	env := NewCartPoleLite([]string{"p1"})
	env.SetAction("p1", []float64{1, 1})
	env.SetAction("ghost", []float64{1})
	env.Step(0.1)
	if env.Observation("ghost") != nil {
		t.Fatal("unknown agent must have no observation")
	}
	before := env.Observation("p1")
	env.SetAction("p1", []float64{1})
	env.Step(0.1)
	after := env.Observation("p1")
	if after[1] <= before[1] {
		t.Fatalf("positive force must accelerate the cart: %v -> %v", before, after)
	}
}

func TestCartPoleLiteResetsOutOfBounds(t *testing.T) {
	env := NewCartPoleLite([]string{"p1"})
	env.SetAction("p1", []float64{1})
	for i := 0; i < 1000; i++ {
		env.Step(0.5)
		if x := env.Observation("p1")[0]; math.Abs(x) > 2 {
			t.Fatalf("cart left bounds: %f", x)
		}
	}
}

func TestRegistryBuildsEnvironments(t *testing.T) {
	for _, name := range []string{WalkerName, CartPoleLiteName} {
		env, err := New(name, []string{"p1", "p2"})
		if err != nil {
			t.Fatalf("new %s: %v", name, err)
		}
		if env.Name() != name || len(env.Agents()) != 2 {
			t.Fatalf("unexpected environment %s agents=%v", env.Name(), env.Agents())
		}
		if got := len(env.Observation("p2")); got != env.InputDim() {
			t.Fatalf("%s: observation width %d != input dim %d", name, got, env.InputDim())
		}
	}
	if _, err := New("missing", []string{"p1"}); !errors.Is(err, ErrEnvironmentNotFound) {
		t.Fatalf("expected ErrEnvironmentNotFound, got %v", err)
	}
	if _, err := New(WalkerName, nil); err == nil {
		t.Fatal("expected agent validation error")
	}
	if _, err := New(WalkerName, []string{"p1", "p1"}); err == nil {
		t.Fatal("expected duplicate agent error")
	}
	if err := Register(WalkerName, func([]string) (Environment, error) { return nil, nil }); !errors.Is(err, ErrEnvironmentExists) {
		t.Fatalf("expected ErrEnvironmentExists, got %v", err)
	}
}
