package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"coach/internal/model"
)

type replayKey struct {
	sessionID string
	agentID   string
}

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	checkpoints map[string]model.ModelCheckpoint
	latest      map[replayKey]string
	replays     map[replayKey]model.ReplaySnapshot
	sessions    map[string]model.SessionSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.checkpoints = make(map[string]model.ModelCheckpoint)
	s.latest = make(map[replayKey]string)
	s.replays = make(map[replayKey]model.ReplaySnapshot)
	s.sessions = make(map[string]model.SessionSummary)
	return nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, cp model.ModelCheckpoint) error {
	if cp.ID == "" {
		return errors.New("checkpoint id is required")
	}
	if err := checkVersion(cp.VersionedRecord); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	s.checkpoints[cp.ID] = cloneCheckpoint(cp)
	key := replayKey{cp.SessionID, cp.AgentID}
	if prev, ok := s.checkpoints[s.latest[key]]; !ok || !cp.CreatedAt.Before(prev.CreatedAt) {
		s.latest[key] = cp.ID
	}
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, id string) (model.ModelCheckpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[id]
	if !ok {
		return model.ModelCheckpoint{}, false, nil
	}
	return cloneCheckpoint(cp), true, nil
}

func (s *MemoryStore) LatestCheckpoint(_ context.Context, sessionID, agentID string) (model.ModelCheckpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[s.latest[replayKey{sessionID, agentID}]]
	if !ok {
		return model.ModelCheckpoint{}, false, nil
	}
	return cloneCheckpoint(cp), true, nil
}

func (s *MemoryStore) SaveReplay(_ context.Context, snap model.ReplaySnapshot) error {
	if err := checkVersion(snap.VersionedRecord); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	s.replays[replayKey{snap.SessionID, snap.AgentID}] = cloneReplay(snap)
	return nil
}

func (s *MemoryStore) GetReplay(_ context.Context, sessionID, agentID string) (model.ReplaySnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.replays[replayKey{sessionID, agentID}]
	if !ok {
		return model.ReplaySnapshot{}, false, nil
	}
	return cloneReplay(snap), true, nil
}

func (s *MemoryStore) SaveSession(_ context.Context, summary model.SessionSummary) error {
	if summary.ID == "" {
		return errors.New("session id is required")
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	s.sessions[summary.ID] = cloneSession(summary)
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (model.SessionSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.sessions[id]
	if !ok {
		return model.SessionSummary{}, false, nil
	}
	return cloneSession(summary), true, nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]model.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.SessionSummary, 0, len(s.sessions))
	for _, summary := range s.sessions {
		out = append(out, cloneSession(summary))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

var errNotInitialized = errors.New("store is not initialized")
