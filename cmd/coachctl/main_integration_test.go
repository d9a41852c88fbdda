//go:build sqlite

package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	coachapi "coach/pkg/coach"
)

func TestSQLiteRunThenInspect(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "coach.db")
	base := []string{"--store", "sqlite", "--db-path", dbPath, "--log-level", "error"}

	out := captureStdout(t)
	args := append([]string{"run"}, base...)
	args = append(args, "--session-id", "persisted", "--frames", "20", "--seed", "8", "--hidden", "4",
		"--feedback", "3:player2:approve")
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("run: %v", err)
	}

	out.Reset()
	if err := run(context.Background(), append([]string{"sessions", "--json"}, base...)); err != nil {
		t.Fatalf("sessions: %v", err)
	}
	var sessions []coachapi.SessionSummary
	if err := json.Unmarshal(out.Bytes(), &sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "persisted" || sessions[0].Frames != 20 {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}

	out.Reset()
	if err := run(context.Background(), append([]string{"checkpoint", "--session", "persisted", "--agent", "player2"}, base...)); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if !strings.Contains(out.String(), "backend=mlp") || !strings.Contains(out.String(), "agent=player2") {
		t.Fatalf("unexpected checkpoint output: %s", out.String())
	}

	out.Reset()
	exportDir := t.TempDir()
	if err := run(context.Background(), append([]string{"export", "--session", "persisted", "--out", exportDir}, base...)); err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := os.Stat(filepath.Join(exportDir, "persisted", "agents.csv")); err != nil {
		t.Fatalf("expected exported agents.csv: %v", err)
	}

	out.Reset()
	args = append([]string{"run"}, base...)
	args = append(args, "--resume", "persisted", "--frames", "5", "--hidden", "4", "--json")
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("resume: %v", err)
	}
	var resumed coachapi.SessionSummary
	if err := json.Unmarshal(out.Bytes(), &resumed); err != nil {
		t.Fatalf("decode resumed: %v", err)
	}
	if resumed.Frames != 25 {
		t.Fatalf("expected 25 frames after resume, got %d", resumed.Frames)
	}
}
