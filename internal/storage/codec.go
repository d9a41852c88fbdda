package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"coach/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion is the version stamp new records are saved with.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeCheckpoint(cp model.ModelCheckpoint) ([]byte, error) {
	if err := checkVersion(cp.VersionedRecord); err != nil {
		return nil, err
	}
	return json.Marshal(cp)
}

func DecodeCheckpoint(data []byte) (model.ModelCheckpoint, error) {
	var cp model.ModelCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return model.ModelCheckpoint{}, err
	}
	if err := checkVersion(cp.VersionedRecord); err != nil {
		return model.ModelCheckpoint{}, err
	}
	return cp, nil
}

func EncodeReplay(snap model.ReplaySnapshot) ([]byte, error) {
	if err := checkVersion(snap.VersionedRecord); err != nil {
		return nil, err
	}
	return json.Marshal(snap)
}

func DecodeReplay(data []byte) (model.ReplaySnapshot, error) {
	var snap model.ReplaySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.ReplaySnapshot{}, err
	}
	if err := checkVersion(snap.VersionedRecord); err != nil {
		return model.ReplaySnapshot{}, err
	}
	return snap, nil
}

func EncodeSession(s model.SessionSummary) ([]byte, error) {
	if err := checkVersion(s.VersionedRecord); err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

func DecodeSession(data []byte) (model.SessionSummary, error) {
	var s model.SessionSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return model.SessionSummary{}, err
	}
	if err := checkVersion(s.VersionedRecord); err != nil {
		return model.SessionSummary{}, err
	}
	return s, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}

func cloneCheckpoint(cp model.ModelCheckpoint) model.ModelCheckpoint {
	out := cp
	if cp.Layers != nil {
		out.Layers = make([]model.LayerWeights, len(cp.Layers))
		for i, l := range cp.Layers {
			out.Layers[i] = l
			out.Layers[i].Weights = append([]float64(nil), l.Weights...)
			out.Layers[i].Bias = append([]float64(nil), l.Bias...)
		}
	}
	return out
}

func cloneReplay(snap model.ReplaySnapshot) model.ReplaySnapshot {
	out := snap
	out.Samples = make([]model.Sample, len(snap.Samples))
	for i, s := range snap.Samples {
		out.Samples[i] = s.Clone()
	}
	return out
}

func cloneSession(s model.SessionSummary) model.SessionSummary {
	out := s
	out.Agents = append([]model.AgentSummary(nil), s.Agents...)
	return out
}
