//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"coach/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp model.ModelCheckpoint) error {
	if cp.ID == "" {
		return errors.New("checkpoint id is required")
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeCheckpoint(cp)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, session_id, agent_id, created_at, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			agent_id = excluded.agent_id,
			created_at = excluded.created_at,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, cp.ID, cp.SessionID, cp.AgentID, cp.CreatedAt.UnixNano(), cp.SchemaVersion, cp.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, id string) (model.ModelCheckpoint, bool, error) {
	return s.queryCheckpoint(ctx, id, `SELECT payload FROM checkpoints WHERE id = ?`, id)
}

func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, sessionID, agentID string) (model.ModelCheckpoint, bool, error) {
	return s.queryCheckpoint(ctx, sessionID+"/"+agentID, `
		SELECT payload FROM checkpoints
		WHERE session_id = ? AND agent_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, sessionID, agentID)
}

func (s *SQLiteStore) queryCheckpoint(ctx context.Context, label, query string, args ...any) (model.ModelCheckpoint, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.ModelCheckpoint{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ModelCheckpoint{}, false, nil
		}
		return model.ModelCheckpoint{}, false, err
	}

	cp, err := DecodeCheckpoint(payload)
	if err != nil {
		return model.ModelCheckpoint{}, false, fmt.Errorf("decode checkpoint %s: %w", label, err)
	}
	return cp, true, nil
}

func (s *SQLiteStore) SaveReplay(ctx context.Context, snap model.ReplaySnapshot) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeReplay(snap)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO replays (session_id, agent_id, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id, agent_id) DO UPDATE SET
			payload = excluded.payload
	`, snap.SessionID, snap.AgentID, payload)
	return err
}

func (s *SQLiteStore) GetReplay(ctx context.Context, sessionID, agentID string) (model.ReplaySnapshot, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.ReplaySnapshot{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM replays WHERE session_id = ? AND agent_id = ?`, sessionID, agentID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ReplaySnapshot{}, false, nil
		}
		return model.ReplaySnapshot{}, false, err
	}

	snap, err := DecodeReplay(payload)
	if err != nil {
		return model.ReplaySnapshot{}, false, fmt.Errorf("decode replay %s/%s: %w", sessionID, agentID, err)
	}
	return snap, true, nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, summary model.SessionSummary) error {
	if summary.ID == "" {
		return errors.New("session id is required")
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeSession(summary)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			started_at = excluded.started_at,
			payload = excluded.payload
	`, summary.ID, summary.StartedAt.UnixNano(), payload)
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (model.SessionSummary, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.SessionSummary{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM sessions WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SessionSummary{}, false, nil
		}
		return model.SessionSummary{}, false, err
	}

	summary, err := DecodeSession(payload)
	if err != nil {
		return model.SessionSummary{}, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	return summary, true, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]model.SessionSummary, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, payload FROM sessions ORDER BY started_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SessionSummary
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		summary, err := DecodeSession(payload)
		if err != nil {
			return nil, fmt.Errorf("decode session %s: %w", id, err)
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS checkpoints_by_agent ON checkpoints (session_id, agent_id, created_at);
		CREATE TABLE IF NOT EXISTS replays (
			session_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (session_id, agent_id)
		);
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
