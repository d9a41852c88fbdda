package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"coach/internal/model"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	first := model.ModelCheckpoint{
		VersionedRecord: CurrentVersion(),
		ID:              "cp-1",
		SessionID:       "s1",
		AgentID:         "player1",
		Backend:         "mlp",
		Layers:          []model.LayerWeights{{Activation: "tanh", Rows: 1, Cols: 1, Weights: []float64{0.5}, Bias: []float64{0}}},
		CreatedAt:       base,
	}
	second := first
	second.ID = "cp-2"
	second.Layers = []model.LayerWeights{{Activation: "tanh", Rows: 1, Cols: 1, Weights: []float64{0.75}, Bias: []float64{0}}}
	second.CreatedAt = base.Add(time.Minute)
	for _, cp := range []model.ModelCheckpoint{first, second} {
		if err := store.SaveCheckpoint(ctx, cp); err != nil {
			t.Fatalf("save checkpoint %s: %v", cp.ID, err)
		}
	}

	loaded, ok, err := store.GetCheckpoint(ctx, "cp-1")
	if err != nil || !ok {
		t.Fatalf("get checkpoint: ok=%v err=%v", ok, err)
	}
	if loaded.Layers[0].Weights[0] != 0.5 {
		t.Fatalf("unexpected checkpoint weights: %+v", loaded.Layers)
	}
	latest, ok, err := store.LatestCheckpoint(ctx, "s1", "player1")
	if err != nil || !ok {
		t.Fatalf("latest checkpoint: ok=%v err=%v", ok, err)
	}
	if latest.ID != "cp-2" {
		t.Fatalf("expected latest cp-2, got %s", latest.ID)
	}
	if _, ok, err := store.LatestCheckpoint(ctx, "s1", "player2"); ok || err != nil {
		t.Fatalf("expected no checkpoint for player2: ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.GetCheckpoint(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected missing checkpoint: ok=%v err=%v", ok, err)
	}

	snap := model.ReplaySnapshot{
		VersionedRecord: CurrentVersion(),
		SessionID:       "s1",
		AgentID:         "player1",
		Samples:         []model.Sample{{Input: []float64{1}, Output: []float64{0.2}, Valuation: 0.5}},
	}
	if err := store.SaveReplay(ctx, snap); err != nil {
		t.Fatalf("save replay: %v", err)
	}
	snap.Samples = append(snap.Samples, model.Sample{Input: []float64{2}, Output: []float64{0.4}, Valuation: 1})
	if err := store.SaveReplay(ctx, snap); err != nil {
		t.Fatalf("overwrite replay: %v", err)
	}
	gotReplay, ok, err := store.GetReplay(ctx, "s1", "player1")
	if err != nil || !ok {
		t.Fatalf("get replay: ok=%v err=%v", ok, err)
	}
	if len(gotReplay.Samples) != 2 || gotReplay.Samples[1].Valuation != 1 {
		t.Fatalf("unexpected replay: %+v", gotReplay)
	}

	later := model.SessionSummary{VersionedRecord: CurrentVersion(), ID: "b", StartedAt: base.Add(time.Hour), Frames: 10}
	earlier := model.SessionSummary{
		VersionedRecord: CurrentVersion(),
		ID:              "a",
		StartedAt:       base,
		Frames:          600,
		Agents:          []model.AgentSummary{{AgentID: "player1", Approvals: 3}},
	}
	for _, s := range []model.SessionSummary{later, earlier} {
		if err := store.SaveSession(ctx, s); err != nil {
			t.Fatalf("save session %s: %v", s.ID, err)
		}
	}
	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "a" || sessions[1].ID != "b" {
		t.Fatalf("unexpected session order: %+v", sessions)
	}
	got, ok, err := store.GetSession(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("get session: ok=%v err=%v", ok, err)
	}
	if got.Frames != 600 || len(got.Agents) != 1 || got.Agents[0].Approvals != 3 {
		t.Fatalf("unexpected session: %+v", got)
	}

	unversioned := model.SessionSummary{ID: "c"}
	if err := store.SaveSession(ctx, unversioned); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
	if err := store.SaveCheckpoint(ctx, model.ModelCheckpoint{VersionedRecord: CurrentVersion()}); err == nil {
		t.Fatal("expected checkpoint id error")
	}

	// a second Init from another session on the same store keeps saved data
	if err := store.Init(ctx); err != nil {
		t.Fatalf("second init: %v", err)
	}
	if _, ok, err := store.GetSession(ctx, "a"); err != nil || !ok {
		t.Fatalf("session lost after second init: ok=%v err=%v", ok, err)
	}
	if latest, ok, err := store.LatestCheckpoint(ctx, "s1", "player1"); err != nil || !ok || latest.ID != "cp-2" {
		t.Fatalf("checkpoint lost after second init: ok=%v err=%v id=%s", ok, err, latest.ID)
	}
}
