//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"coach/internal/model"
)

func TestSQLiteStoreConformance(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "coach.db"))
	t.Cleanup(func() {
		_ = store.Close()
	})
	exerciseStore(t, store)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "coach.db")

	store := NewSQLiteStore(path)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	summary := model.SessionSummary{VersionedRecord: CurrentVersion(), ID: "s1", Frames: 42}
	if err := store.SaveSession(ctx, summary); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := NewSQLiteStore(path)
	if err := reopened.Init(ctx); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() {
		_ = reopened.Close()
	})
	got, ok, err := reopened.GetSession(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("get session: ok=%v err=%v", ok, err)
	}
	if got.Frames != 42 {
		t.Fatalf("unexpected frames: %d", got.Frames)
	}
}

func TestSQLiteStoreRequiresPath(t *testing.T) {
	if err := NewSQLiteStore("").Init(context.Background()); err == nil {
		t.Fatal("expected path validation error")
	}
}
