package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"coach/internal/agent"
	"coach/internal/events"
	"coach/internal/feedback"
	coachio "coach/internal/io"
	"coach/internal/model"
	"coach/internal/platform"
	"coach/internal/scape"
	"coach/internal/stats"
	"coach/internal/storage"
	"coach/internal/tui"
)

const defaultDBPath = "coach.db"

type (
	Settings        = agent.Settings
	SessionSummary  = model.SessionSummary
	AgentSummary    = model.AgentSummary
	ModelCheckpoint = model.ModelCheckpoint
	ReplaySnapshot  = model.ReplaySnapshot
	KeyMap          = feedback.KeyMap
	Verdict         = feedback.Verdict
)

func DefaultSettings() Settings { return agent.DefaultSettings() }

type Options struct {
	StoreKind string
	DBPath    string
	Events    events.Sink
	Logger    *slog.Logger
}

// Client is the embedding surface of the trainer: it owns the store and
// starts sessions against it.
type Client struct {
	store  storage.Store
	events events.Sink
	logger *slog.Logger
}

type SessionRequest struct {
	ID              string
	ResumeFrom      string
	Environment     string
	Agents          []string
	FrameRate       float64
	CheckpointEvery int64
	Seed            int64
	Settings        agent.Settings
	SensorName      string
	ActuatorName    string
}

func DefaultSessionRequest() SessionRequest {
	return SessionRequest{
		Environment: scape.WalkerName,
		Agents:      []string{platform.DefaultPlayer1, platform.DefaultPlayer2},
		FrameRate:   platform.DefaultFrameRate,
		Settings:    agent.DefaultSettings(),
	}
}

// FeedbackEvent is operator feedback scheduled for a frame of a headless run.
type FeedbackEvent struct {
	Frame   int64
	AgentID string
	Verdict feedback.Verdict
}

type TrainRequest struct {
	Session  SessionRequest
	Frames   int64
	Feedback []FeedbackEvent
}

type ServeRequest struct {
	Session SessionRequest
	Addr    string
}

type ConsoleRequest struct {
	Session SessionRequest
	Keys    feedback.KeyMap
	// Addr also serves the HTTP feedback routes when set.
	Addr string
}

func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.StoreKind == "" {
		opts.StoreKind = storage.DefaultStoreKind
	}
	if opts.DBPath == "" {
		opts.DBPath = defaultDBPath
	}
	if opts.Events == nil {
		opts.Events = events.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	store, err := storage.NewStore(opts.StoreKind, opts.DBPath)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, err
	}
	return &Client{store: store, events: opts.Events, logger: opts.Logger}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// NewSession builds a session on the client's store without starting it.
func (c *Client) NewSession(ctx context.Context, req SessionRequest) (*platform.Session, error) {
	return platform.NewSession(ctx, platform.Config{
		ID:              req.ID,
		ResumeFrom:      req.ResumeFrom,
		Environment:     req.Environment,
		Agents:          req.Agents,
		FrameRate:       req.FrameRate,
		CheckpointEvery: req.CheckpointEvery,
		Seed:            req.Seed,
		Settings:        req.Settings,
		SensorName:      req.SensorName,
		ActuatorName:    req.ActuatorName,
		Store:           c.store,
		Events:          c.events,
		Logger:          c.logger,
	})
}

// Train runs a session headless for req.Frames frames as fast as the agents
// allow, applying scripted feedback, and returns the final summary.
func (c *Client) Train(ctx context.Context, req TrainRequest) (model.SessionSummary, error) {
	if req.Frames <= 0 {
		return model.SessionSummary{}, errors.New("frames must be > 0")
	}
	session, err := c.NewSession(ctx, req.Session)
	if err != nil {
		return model.SessionSummary{}, err
	}
	script := append([]FeedbackEvent(nil), req.Feedback...)
	sort.SliceStable(script, func(i, j int) bool { return script[i].Frame < script[j].Frame })

	start := session.Frames()
	next := 0
	for session.Frames()-start < req.Frames {
		frame := session.Frames() - start
		for next < len(script) && script[next].Frame <= frame {
			ev := script[next]
			next++
			if err := feedback.Send(session, feedback.Binding{AgentID: ev.AgentID, Verdict: ev.Verdict}); err != nil {
				return model.SessionSummary{}, fmt.Errorf("feedback at frame %d: %w", ev.Frame, err)
			}
		}
		if err := session.Step(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			return model.SessionSummary{}, err
		}
	}

	closeCtx := context.WithoutCancel(ctx)
	if err := session.Await(closeCtx); err != nil {
		return model.SessionSummary{}, err
	}
	if err := session.Close(closeCtx); err != nil {
		return model.SessionSummary{}, err
	}
	return session.Summary(), nil
}

// Serve runs a session in real time with the HTTP feedback server until ctx
// ends.
func (c *Client) Serve(ctx context.Context, req ServeRequest) error {
	session, err := c.NewSession(ctx, req.Session)
	if err != nil {
		return err
	}
	srv, err := feedback.NewServer(session, feedback.ServerConfig{Addr: req.Addr, Logger: c.logger})
	if err != nil {
		return err
	}
	supervisor := c.supervisor()
	defer supervisor.StopAll()
	if err := supervisor.Start(ctx, "session", platform.RestartTransient, session.Run); err != nil {
		return err
	}
	if err := supervisor.Start(ctx, "feedback-http", platform.RestartPermanent, srv.Run); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// Console runs a session in real time behind the terminal console and
// returns when the operator quits.
func (c *Client) Console(ctx context.Context, req ConsoleRequest) error {
	session, err := c.NewSession(ctx, req.Session)
	if err != nil {
		return err
	}
	keys := req.Keys
	if keys == nil {
		keys = feedback.DefaultKeyMap(session.Agents())
	}
	if err := keys.Validate(session.Agents()); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	supervisor := c.supervisor()
	defer supervisor.StopAll()
	if err := supervisor.Start(runCtx, "session", platform.RestartTransient, session.Run); err != nil {
		return err
	}
	if req.Addr != "" {
		srv, err := feedback.NewServer(session, feedback.ServerConfig{Addr: req.Addr, Logger: c.logger})
		if err != nil {
			return err
		}
		if err := supervisor.Start(runCtx, "feedback-http", platform.RestartPermanent, srv.Run); err != nil {
			return err
		}
	}
	return tui.Run(runCtx, session, tui.Options{Keys: keys, Title: "coach " + session.Environment().Name()})
}

func (c *Client) supervisor() *platform.Supervisor {
	return platform.NewSupervisor(platform.SupervisorPolicy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2,
		MaxRestarts:    10,
		Logger:         c.logger,
	})
}

func (c *Client) Sessions(ctx context.Context) ([]model.SessionSummary, error) {
	return c.store.ListSessions(ctx)
}

func (c *Client) Session(ctx context.Context, id string) (model.SessionSummary, bool, error) {
	return c.store.GetSession(ctx, id)
}

func (c *Client) LatestCheckpoint(ctx context.Context, sessionID, agentID string) (model.ModelCheckpoint, bool, error) {
	return c.store.LatestCheckpoint(ctx, sessionID, agentID)
}

func (c *Client) Replay(ctx context.Context, sessionID, agentID string) (model.ReplaySnapshot, bool, error) {
	return c.store.GetReplay(ctx, sessionID, agentID)
}

// Export writes the stored summary, checkpoints and replays of a session under
// dir and returns the session's export directory.
func (c *Client) Export(ctx context.Context, sessionID, dir string) (string, error) {
	summary, ok, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", platform.ErrUnknownSession, sessionID)
	}
	exp := stats.SessionExport{Summary: summary}
	for _, a := range summary.Agents {
		cp, ok, err := c.store.LatestCheckpoint(ctx, sessionID, a.AgentID)
		if err != nil {
			return "", err
		}
		if ok {
			exp.Checkpoints = append(exp.Checkpoints, cp)
		}
		snap, ok, err := c.store.GetReplay(ctx, sessionID, a.AgentID)
		if err != nil {
			return "", err
		}
		if ok {
			exp.Replays = append(exp.Replays, snap)
		}
	}
	return stats.WriteSessionExport(dir, exp)
}

func Environments() []string { return scape.List() }

func Sensors() []string { return coachio.ListSensors() }

func Actuators() []string { return coachio.ListActuators() }

// ParseFeedbackScript reads "frame:agent:verdict" entries separated by
// commas, for example "120:player1:disapprove,180:player1:approve".
func ParseFeedbackScript(raw string) ([]FeedbackEvent, error) {
	var out []FeedbackEvent
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("invalid feedback entry %q", part)
		}
		frame, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
		if err != nil || frame < 0 {
			return nil, fmt.Errorf("invalid feedback frame %q", fields[0])
		}
		verdict := feedback.Verdict(strings.ToLower(strings.TrimSpace(fields[2])))
		if verdict != feedback.Approve && verdict != feedback.Disapprove {
			return nil, fmt.Errorf("unsupported verdict %q", fields[2])
		}
		agentID := strings.TrimSpace(fields[1])
		if agentID == "" {
			return nil, fmt.Errorf("invalid feedback entry %q", part)
		}
		out = append(out, FeedbackEvent{Frame: frame, AgentID: agentID, Verdict: verdict})
	}
	return out, nil
}
