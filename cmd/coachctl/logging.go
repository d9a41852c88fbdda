package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/redis/go-redis/v9"

	"coach/internal/events"
)

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level: %s", raw)
	}
}

// newLogger builds the process logger: text on a terminal, JSON otherwise.
// quiet discards logs unless a file is given, so they cannot tear the
// console.
func newLogger(level, path string, quiet bool) (*slog.Logger, func(), error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	var (
		w       io.Writer = os.Stderr
		closeFn           = func() {}
		tty               = isatty.IsTerminal(os.Stderr.Fd())
	)
	switch {
	case path != "":
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w, tty = f, false
		closeFn = func() { _ = f.Close() }
	case quiet:
		w = io.Discard
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if tty {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

// newEventSink logs visual feedback events and, with a redis address, also
// publishes them on a channel.
func newEventSink(addr, channel string, logger *slog.Logger) (events.Sink, func(), error) {
	logSink := events.LogSink{Logger: logger.With(slog.String("component", "events"))}
	if addr == "" {
		return logSink, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	redisSink, err := events.NewRedisSink(client, channel, 0)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := redisSink.Close(ctx); err != nil {
			logger.Warn("close redis sink", slog.Any("err", err))
		}
	}
	return events.Multi{logSink, redisSink}, closeFn, nil
}
