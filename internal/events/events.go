// Package events carries the outbound visual-feedback notifications a
// renderer can subscribe to. Nothing in the training loop consumes them.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Kind string

const (
	RandomSampleOn  Kind = "RANDOM_SAMPLE_ON"
	RandomSampleOff Kind = "RANDOM_SAMPLE_OFF"
	Training        Kind = "TRAINING"
	StopTraining    Kind = "STOP_TRAINING"
)

type Event struct {
	Kind    Kind      `json:"event"`
	AgentID string    `json:"agent_id"`
	Value   *float64  `json:"value,omitempty"`
	At      time.Time `json:"at"`
}

func New(kind Kind, agentID string) Event {
	return Event{Kind: kind, AgentID: agentID, At: time.Now()}
}

func WithValue(kind Kind, agentID string, value float64) Event {
	e := New(kind, agentID)
	e.Value = &value
	return e
}

// Sink receives events. Publish must not block the caller's frame.
type Sink interface {
	Publish(e Event)
}

type discard struct{}

func (discard) Publish(Event) {}

var Discard Sink = discard{}

type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Publish(e Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{slog.String("event", string(e.Kind)), slog.String("agent", e.AgentID)}
	if e.Value != nil {
		attrs = append(attrs, slog.Float64("value", *e.Value))
	}
	logger.Debug("visual feedback", attrs...)
}

// ChanSink forwards events to a buffered channel and drops them when the
// reader falls behind.
type ChanSink struct {
	C       chan Event
	mu      sync.Mutex
	dropped int
}

func NewChanSink(buffer int) *ChanSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChanSink{C: make(chan Event, buffer)}
}

func (s *ChanSink) Publish(e Event) {
	select {
	case s.C <- e:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

func (s *ChanSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

type Multi []Sink

func (m Multi) Publish(e Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Publish(e)
		}
	}
}

// Recorder keeps every published event; handy for tests and replays.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Closer is implemented by sinks that hold external resources.
type Closer interface {
	Close(ctx context.Context) error
}
