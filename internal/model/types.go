package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Sample is one observation/action pair together with the valuation it has
// accumulated from operator feedback.
type Sample struct {
	Input     []float64 `json:"input"`
	Output    []float64 `json:"output"`
	Valuation float64   `json:"valuation"`
}

// Clone returns a deep copy so window mutation never reaches retained data.
func (s Sample) Clone() Sample {
	return Sample{
		Input:     append([]float64(nil), s.Input...),
		Output:    append([]float64(nil), s.Output...),
		Valuation: s.Valuation,
	}
}

type LayerWeights struct {
	Activation string    `json:"activation"`
	Rows       int       `json:"rows"`
	Cols       int       `json:"cols"`
	Weights    []float64 `json:"weights"`
	Bias       []float64 `json:"bias"`
}

type ModelCheckpoint struct {
	VersionedRecord
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	AgentID   string         `json:"agent_id"`
	Backend   string         `json:"backend"`
	Layers    []LayerWeights `json:"layers,omitempty"`
	Blob      string         `json:"blob,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type ReplaySnapshot struct {
	VersionedRecord
	SessionID string   `json:"session_id"`
	AgentID   string   `json:"agent_id"`
	Samples   []Sample `json:"samples"`
}

type TrainingStatus struct {
	Locked                     bool    `json:"locked"`
	Stopped                    bool    `json:"stopped"`
	LossMovingAverage          float64 `json:"loss_moving_average"`
	LastLoss                   float64 `json:"last_loss"`
	SamplesTrainedSinceNewData int     `json:"samples_trained_since_new_data"`
	Fits                       int     `json:"fits"`
	FitFailures                int     `json:"fit_failures"`
	FitTimeouts                int     `json:"fit_timeouts"`
}

type AgentSummary struct {
	AgentID           string  `json:"agent_id"`
	Exploring         bool    `json:"exploring"`
	Approvals         int     `json:"approvals"`
	Disapprovals      int     `json:"disapprovals"`
	Retained          int     `json:"retained"`
	ReplaySize        int     `json:"replay_size"`
	Fits              int     `json:"fits"`
	FitFailures       int     `json:"fit_failures"`
	PredictFailures   int     `json:"predict_failures,omitempty"`
	LossMovingAverage float64 `json:"loss_moving_average"`
	Training          bool    `json:"training"`
	Stopped           bool    `json:"stopped"`
}

type SessionSummary struct {
	VersionedRecord
	ID        string         `json:"id"`
	StartedAt time.Time      `json:"started_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Frames    int64          `json:"frames"`
	Agents    []AgentSummary `json:"agents"`
}
