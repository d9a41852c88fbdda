package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"coach/internal/feedback"
	"coach/internal/storage"
	coachapi "coach/pkg/coach"
)

var stdout io.Writer = os.Stdout

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "run":
		return runRun(ctx, args[1:])
	case "serve":
		return runServe(ctx, args[1:])
	case "tui":
		return runTUI(ctx, args[1:])
	case "sessions":
		return runSessions(ctx, args[1:])
	case "checkpoint":
		return runCheckpoint(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "envs":
		return runEnvs(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: coachctl <run|serve|tui|sessions|checkpoint|export|envs> [flags]", msg)
}

// commonFlags are the store, logging and event flags every command shares.
type commonFlags struct {
	storeKind    *string
	dbPath       *string
	logLevel     *string
	logFile      *string
	redisAddr    *string
	redisChannel *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		storeKind:    fs.String("store", storage.DefaultStoreKind, "store backend: memory|sqlite"),
		dbPath:       fs.String("db-path", "coach.db", "sqlite database path"),
		logLevel:     fs.String("log-level", "info", "log level: debug|info|warn|error"),
		logFile:      fs.String("log-file", "", "write logs to this file instead of stderr"),
		redisAddr:    fs.String("redis-addr", "", "publish visual feedback events to this redis server"),
		redisChannel: fs.String("redis-channel", "", "redis channel for events"),
	}
}

func (c commonFlags) client(ctx context.Context, quiet bool) (*coachapi.Client, func(), error) {
	logger, closeLog, err := newLogger(*c.logLevel, *c.logFile, quiet)
	if err != nil {
		return nil, nil, err
	}
	sink, closeSink, err := newEventSink(*c.redisAddr, *c.redisChannel, logger)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	client, err := coachapi.NewClient(ctx, coachapi.Options{
		StoreKind: *c.storeKind,
		DBPath:    *c.dbPath,
		Events:    sink,
		Logger:    logger,
	})
	if err != nil {
		closeSink()
		closeLog()
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
		closeSink()
		closeLog()
	}
	return client, cleanup, nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	common := addCommonFlags(fs)
	sf := addSessionFlags(fs)
	frames := fs.Int64("frames", 600, "frames to simulate")
	script := fs.String("feedback", "", "scripted feedback: frame:agent:approve|disapprove, comma separated")
	jsonOut := fs.Bool("json", false, "emit the final summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := sf.request(fs)
	if err != nil {
		return err
	}
	events, err := coachapi.ParseFeedbackScript(*script)
	if err != nil {
		return err
	}

	client, cleanup, err := common.client(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := client.Train(ctx, coachapi.TrainRequest{Session: req, Frames: *frames, Feedback: events})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(summary)
	}
	printSummary(summary)
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	common := addCommonFlags(fs)
	sf := addSessionFlags(fs)
	addr := fs.String("addr", ":8080", "HTTP feedback listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := sf.request(fs)
	if err != nil {
		return err
	}
	client, cleanup, err := common.client(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()
	return client.Serve(ctx, coachapi.ServeRequest{Session: req, Addr: *addr})
}

func runTUI(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tui", flag.ContinueOnError)
	common := addCommonFlags(fs)
	sf := addSessionFlags(fs)
	keys := fs.String("keys", "", "key bindings: key=agent:approve|disapprove, comma separated")
	addr := fs.String("addr", "", "also serve HTTP feedback on this address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return errors.New("tui requires a terminal; use run or serve instead")
	}
	req, err := sf.request(fs)
	if err != nil {
		return err
	}
	var km feedback.KeyMap
	if *keys != "" {
		if km, err = feedback.ParseKeyMap(*keys); err != nil {
			return err
		}
	}
	client, cleanup, err := common.client(ctx, true)
	if err != nil {
		return err
	}
	defer cleanup()
	return client.Console(ctx, coachapi.ConsoleRequest{Session: req, Keys: km, Addr: *addr})
}

func runSessions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	common := addCommonFlags(fs)
	limit := fs.Int("limit", 20, "max sessions to list, newest first")
	jsonOut := fs.Bool("json", false, "emit sessions as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}
	client, cleanup, err := common.client(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()

	sessions, err := client.Sessions(ctx)
	if err != nil {
		return err
	}
	// newest first
	for i, j := 0, len(sessions)-1; i < j; i, j = i+1, j-1 {
		sessions[i], sessions[j] = sessions[j], sessions[i]
	}
	if len(sessions) > *limit {
		sessions = sessions[:*limit]
	}
	if *jsonOut {
		return writeJSON(sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(stdout, "no sessions found")
		return nil
	}
	for _, s := range sessions {
		approvals, disapprovals, replay := 0, 0, 0
		for _, a := range s.Agents {
			approvals += a.Approvals
			disapprovals += a.Disapprovals
			replay += a.ReplaySize
		}
		fmt.Fprintf(stdout, "session=%s started=%s updated=%s frames=%s agents=%d feedback=+%d/-%d replay=%s\n",
			s.ID,
			s.StartedAt.Format(time.RFC3339),
			humanize.Time(s.UpdatedAt),
			humanize.Comma(s.Frames),
			len(s.Agents),
			approvals,
			disapprovals,
			humanize.Comma(int64(replay)),
		)
	}
	return nil
}

func runCheckpoint(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("checkpoint", flag.ContinueOnError)
	common := addCommonFlags(fs)
	sessionID := fs.String("session", "", "session id")
	agentID := fs.String("agent", "", "agent id")
	jsonOut := fs.Bool("json", false, "emit the full checkpoint as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == "" || *agentID == "" {
		return errors.New("checkpoint requires --session and --agent")
	}
	client, cleanup, err := common.client(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()

	cp, ok, err := client.LatestCheckpoint(ctx, *sessionID, *agentID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no checkpoint for session %s agent %s", *sessionID, *agentID)
	}
	if *jsonOut {
		return writeJSON(cp)
	}
	params := 0
	shape := make([]string, 0, len(cp.Layers))
	for _, l := range cp.Layers {
		params += len(l.Weights) + len(l.Bias)
		shape = append(shape, fmt.Sprintf("%dx%d:%s", l.Rows, l.Cols, l.Activation))
	}
	replay := 0
	if snap, ok, err := client.Replay(ctx, *sessionID, *agentID); err == nil && ok {
		replay = len(snap.Samples)
	}
	fmt.Fprintf(stdout, "checkpoint=%s session=%s agent=%s backend=%s created=%s layers=[%s] params=%s replay=%s\n",
		cp.ID,
		cp.SessionID,
		cp.AgentID,
		cp.Backend,
		cp.CreatedAt.Format(time.RFC3339),
		strings.Join(shape, " "),
		humanize.Comma(int64(params)),
		humanize.Comma(int64(replay)),
	)
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := addCommonFlags(fs)
	sessionID := fs.String("session", "", "session id")
	outDir := fs.String("out", "exports", "export base directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == "" {
		return errors.New("export requires --session")
	}
	client, cleanup, err := common.client(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()

	dir, err := client.Export(ctx, *sessionID, *outDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "exported session=%s dir=%s\n", *sessionID, dir)
	return nil
}

func runEnvs(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("envs", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "environments=%s\n", strings.Join(coachapi.Environments(), ","))
	fmt.Fprintf(stdout, "sensors=%s\n", strings.Join(coachapi.Sensors(), ","))
	fmt.Fprintf(stdout, "actuators=%s\n", strings.Join(coachapi.Actuators(), ","))
	return nil
}

func printSummary(s coachapi.SessionSummary) {
	fmt.Fprintf(stdout, "session=%s frames=%s\n", s.ID, humanize.Comma(s.Frames))
	for _, a := range s.Agents {
		fmt.Fprintf(stdout, "  agent=%s approvals=%d disapprovals=%d replay=%s fits=%d loss=%.6f stopped=%t\n",
			a.AgentID,
			a.Approvals,
			a.Disapprovals,
			humanize.Comma(int64(a.ReplaySize)),
			a.Fits,
			a.LossMovingAverage,
			a.Stopped,
		)
	}
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
