package storage

import (
	"context"

	"coach/internal/model"
)

const DefaultStoreKind = "memory"

// Store defines persistence operations for training sessions: model
// checkpoints, replay snapshots and session summaries.
type Store interface {
	Init(ctx context.Context) error
	SaveCheckpoint(ctx context.Context, checkpoint model.ModelCheckpoint) error
	GetCheckpoint(ctx context.Context, id string) (model.ModelCheckpoint, bool, error)
	// LatestCheckpoint returns the most recent checkpoint saved for an agent
	// of a session.
	LatestCheckpoint(ctx context.Context, sessionID, agentID string) (model.ModelCheckpoint, bool, error)
	SaveReplay(ctx context.Context, snapshot model.ReplaySnapshot) error
	GetReplay(ctx context.Context, sessionID, agentID string) (model.ReplaySnapshot, bool, error)
	SaveSession(ctx context.Context, summary model.SessionSummary) error
	GetSession(ctx context.Context, id string) (model.SessionSummary, bool, error)
	// ListSessions returns every stored session, oldest first.
	ListSessions(ctx context.Context) ([]model.SessionSummary, error)
}
