package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type RestartPolicy string

const (
	// RestartPermanent restarts a task whenever it returns.
	RestartPermanent RestartPolicy = "permanent"
	// RestartTransient restarts a task only when it returns an error.
	RestartTransient RestartPolicy = "transient"
	// RestartTemporary never restarts.
	RestartTemporary RestartPolicy = "temporary"
)

type SupervisorPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	// MaxRestarts gives up on a task after this many restarts; 0 is unlimited.
	MaxRestarts int
	Logger      *slog.Logger
}

type TaskStatus struct {
	Name         string        `json:"name"`
	Restart      RestartPolicy `json:"restart"`
	Running      bool          `json:"running"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
	GaveUp       bool          `json:"gave_up"`
}

// Supervisor runs the long-lived services of a process (the session loop,
// the feedback server, event forwarding) and restarts them with exponential
// backoff according to their policy.
type Supervisor struct {
	policy SupervisorPolicy
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]*task
}

type task struct {
	name    string
	restart RestartPolicy
	cancel  context.CancelFunc
	done    chan struct{}

	running  bool
	restarts int
	lastErr  error
	gaveUp   bool
}

func NewSupervisor(policy SupervisorPolicy) *Supervisor {
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = 10 * time.Millisecond
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = 200 * time.Millisecond
		if policy.MaxBackoff < policy.InitialBackoff {
			policy.MaxBackoff = policy.InitialBackoff
		}
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = 2
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		policy: policy,
		logger: logger.With(slog.String("component", "supervisor")),
		tasks:  make(map[string]*task),
	}
}

// Start launches run under name with the given restart policy. The task's
// context is derived from parent.
func (s *Supervisor) Start(parent context.Context, name string, restart RestartPolicy, run func(ctx context.Context) error) error {
	if name == "" {
		return errors.New("task name is required")
	}
	if run == nil {
		return errors.New("task runner is required")
	}
	switch restart {
	case RestartPermanent, RestartTransient, RestartTemporary:
	case "":
		restart = RestartPermanent
	default:
		return fmt.Errorf("unsupported restart policy: %s", restart)
	}

	s.mu.Lock()
	if t, exists := s.tasks[name]; exists && t.running {
		s.mu.Unlock()
		return fmt.Errorf("task already running: %s", name)
	}
	ctx, cancel := context.WithCancel(parent)
	t := &task{name: name, restart: restart, cancel: cancel, done: make(chan struct{}), running: true}
	s.tasks[name] = t
	s.mu.Unlock()

	go s.supervise(ctx, t, run)
	return nil
}

func (s *Supervisor) supervise(ctx context.Context, t *task, run func(ctx context.Context) error) {
	defer func() {
		s.mu.Lock()
		t.running = false
		s.mu.Unlock()
		close(t.done)
	}()

	backoff := s.policy.InitialBackoff
	for {
		err := run(ctx)
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		t.lastErr = err
		s.mu.Unlock()
		if !shouldRestart(t.restart, err) {
			return
		}
		if s.policy.MaxRestarts > 0 && t.restarts >= s.policy.MaxRestarts {
			s.mu.Lock()
			t.gaveUp = true
			s.mu.Unlock()
			s.logger.Error("task failed permanently", slog.String("task", t.name), slog.Any("err", err))
			return
		}
		s.mu.Lock()
		t.restarts++
		restarts := t.restarts
		s.mu.Unlock()
		s.logger.Warn("restarting task",
			slog.String("task", t.name),
			slog.Int("restarts", restarts),
			slog.Duration("backoff", backoff),
			slog.Any("err", err),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = time.Duration(float64(backoff) * s.policy.BackoffFactor)
		if backoff > s.policy.MaxBackoff {
			backoff = s.policy.MaxBackoff
		}
	}
}

func shouldRestart(policy RestartPolicy, err error) bool {
	switch policy {
	case RestartTransient:
		return err != nil
	case RestartTemporary:
		return false
	default:
		return true
	}
}

// Stop cancels the named task and waits for it to return.
func (s *Supervisor) Stop(name string) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	delete(s.tasks, name)
	s.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	<-t.done
}

func (s *Supervisor) StopAll() {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.tasks = make(map[string]*task)
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		<-t.done
	}
}

// Wait blocks until every task has returned or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := make([]chan struct{}, 0, len(s.tasks))
	for _, t := range s.tasks {
		done = append(done, t.done)
	}
	s.mu.Unlock()
	for _, d := range done {
		select {
		case <-d:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Running lists the names of tasks still running.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name, t := range s.tasks {
		if t.running {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (s *Supervisor) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		status := TaskStatus{
			Name:         t.name,
			Restart:      t.restart,
			Running:      t.running,
			RestartCount: t.restarts,
			GaveUp:       t.gaveUp,
		}
		if t.lastErr != nil {
			status.LastError = t.lastErr.Error()
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
