package stats

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"coach/internal/model"
)

// SessionExport is everything written for one session: the summary plus the
// latest checkpoint and replay of each agent that has them.
type SessionExport struct {
	Summary     model.SessionSummary
	Checkpoints []model.ModelCheckpoint
	Replays     []model.ReplaySnapshot
}

var agentColumns = []string{
	"agent_id", "approvals", "disapprovals", "retained", "replay_size",
	"fits", "fit_failures", "loss_moving_average", "stopped",
}

// WriteSessionExport writes exp under baseDir/<session id> and returns that
// directory. Layout:
//
//	session.json
//	agents.csv
//	checkpoints/<agent>.json
//	replays/<agent>.json
func WriteSessionExport(baseDir string, exp SessionExport) (string, error) {
	if exp.Summary.ID == "" {
		return "", errors.New("session id is required")
	}
	dir := filepath.Join(baseDir, exp.Summary.ID)
	for _, sub := range []string{"checkpoints", "replays"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return "", err
		}
	}

	if err := writeJSON(filepath.Join(dir, "session.json"), exp.Summary); err != nil {
		return "", err
	}
	if err := writeAgentsCSV(filepath.Join(dir, "agents.csv"), exp.Summary.Agents); err != nil {
		return "", err
	}
	for _, cp := range exp.Checkpoints {
		if err := writeJSON(filepath.Join(dir, "checkpoints", fileName(cp.AgentID)), cp); err != nil {
			return "", err
		}
	}
	for _, snap := range exp.Replays {
		if err := writeJSON(filepath.Join(dir, "replays", fileName(snap.AgentID)), snap); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// ReadSessionSummary loads session.json from an export directory.
func ReadSessionSummary(dir string) (model.SessionSummary, error) {
	data, err := os.ReadFile(filepath.Join(dir, "session.json"))
	if err != nil {
		return model.SessionSummary{}, err
	}
	var s model.SessionSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return model.SessionSummary{}, fmt.Errorf("decode session export: %w", err)
	}
	return s, nil
}

func writeAgentsCSV(path string, agents []model.AgentSummary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(agentColumns); err != nil {
		return err
	}
	for _, a := range agents {
		row := []string{
			a.AgentID,
			strconv.Itoa(a.Approvals),
			strconv.Itoa(a.Disapprovals),
			strconv.Itoa(a.Retained),
			strconv.Itoa(a.ReplaySize),
			strconv.Itoa(a.Fits),
			strconv.Itoa(a.FitFailures),
			strconv.FormatFloat(a.LossMovingAverage, 'g', -1, 64),
			strconv.FormatBool(a.Stopped),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func fileName(agentID string) string {
	return filepath.Base(filepath.Clean("/"+agentID)) + ".json"
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
