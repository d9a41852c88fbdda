package events

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestChanSinkDropsWhenFull(t *testing.T) {
	sink := NewChanSink(1)
	sink.Publish(New(Training, "p1"))
	sink.Publish(New(StopTraining, "p1"))

	if got := sink.Dropped(); got != 1 {
		t.Fatalf("expected one dropped event, got %d", got)
	}
	e := <-sink.C
	if e.Kind != Training || e.AgentID != "p1" {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestMultiFansOut(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	Multi{a, nil, b, Discard}.Publish(WithValue(RandomSampleOn, "p2", 0.5))

	for _, r := range []*Recorder{a, b} {
		events := r.Events()
		if len(events) != 1 || events[0].Value == nil || *events[0].Value != 0.5 {
			t.Fatalf("unexpected recorded events: %+v", events)
		}
	}
	if a.Count(RandomSampleOn) != 1 || a.Count(RandomSampleOff) != 0 {
		t.Fatal("unexpected kind counts")
	}
}

func TestEventCodec(t *testing.T) {
	in := WithValue(StopTraining, "p1", 0.25)
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Kind != in.Kind || out.AgentID != in.AgentID || out.Value == nil || *out.Value != 0.25 {
		t.Fatalf("unexpected decoded event: %+v", out)
	}
	if _, err := Decode([]byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNewRedisSinkRequiresClient(t *testing.T) {
	if _, err := NewRedisSink(nil, "", 0); err == nil {
		t.Fatal("expected missing client error")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	sink, err := NewRedisSink(client, "", 0)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if sink.channel != DefaultRedisChannel {
		t.Fatalf("unexpected default channel: %s", sink.channel)
	}
}

func TestRedisSinkDropsEventsAfterClose(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	sink, err := NewRedisSink(client, "", 4)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	sink.Publish(New(RandomSampleOn, "player1"))
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
