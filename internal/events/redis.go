package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisChannel = "coach:events"

// RedisSink publishes events as JSON on a redis pub/sub channel. Publishing
// happens on a background goroutine fed by a bounded queue.
type RedisSink struct {
	client  *redis.Client
	channel string
	queue   chan Event
	done    chan struct{}
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewRedisSink(client *redis.Client, channel string, buffer int) (*RedisSink, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if buffer <= 0 {
		buffer = 256
	}
	s := &RedisSink{
		client:  client,
		channel: channel,
		queue:   make(chan Event, buffer),
		done:    make(chan struct{}),
		logger:  slog.Default().With(slog.String("component", "events.redis")),
	}
	go s.loop()
	return s, nil
}

// Publish queues e. Events published after Close are dropped.
func (s *RedisSink) Publish(e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- e:
	default:
		s.logger.Warn("event queue full, dropping", slog.String("event", string(e.Kind)))
	}
}

func (s *RedisSink) loop() {
	defer close(s.done)
	for e := range s.queue {
		payload, err := Encode(e)
		if err != nil {
			s.logger.Error("encode event", slog.Any("err", err))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
			s.logger.Warn("publish event", slog.Any("err", err))
		}
		cancel()
	}
}

// Close drains the queue and closes the client.
func (s *RedisSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.client.Close()
}

func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}
