package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"mcpcms/pkg/stream"

	"github.com/segmentio/kafka-go"
)

func TestNewKafkaPublisherValidation(t *testing.T) {
	t.Parallel()

	_, err := NewKafkaPublisher(KafkaConfig{Topic: "cms.events"})
	if err == nil {
		t.Fatal("expected error when brokers are missing")
	}

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"127.0.0.1:9092"}})
	if err == nil {
		t.Fatal("expected error when topic is missing")
	}

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{" ", "\t"}, Topic: "cms.events"})
	if err == nil {
		t.Fatal("expected error when every broker is blank")
	}
}

func TestNewKafkaPublisherTrimsBrokerList(t *testing.T) {
	t.Parallel()

	pub, err := NewKafkaPublisher(KafkaConfig{
		Brokers: []string{" ", "127.0.0.1:9092", "\t"},
		Topic:   "cms.events",
	})
	if err != nil {
		t.Fatalf("expected valid publisher config, got error: %v", err)
	}
	if pub == nil {
		t.Fatal("expected publisher")
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestKafkaPublisherNilGuards(t *testing.T) {
	t.Parallel()

	var nilPub *KafkaPublisher
	if err := nilPub.Close(); err != nil {
		t.Fatalf("expected nil close to be no-op, got: %v", err)
	}
	if err := nilPub.Publish(context.Background(), stream.Event{Type: "page.created"}); err == nil {
		t.Fatal("expected publish error for nil publisher")
	}

	pub := &KafkaPublisher{}
	if err := pub.Publish(context.Background(), stream.Event{Type: "page.created"}); err == nil {
		t.Fatal("expected publish error for uninitialized writer")
	}
}

type fakeKafkaWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (f *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error { return nil }

func (f *fakeKafkaWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestKafkaPublisherPublish(t *testing.T) {
	t.Run("writer_error", func(t *testing.T) {
		pub := &KafkaPublisher{writer: &fakeKafkaWriter{err: errors.New("broker down")}}
		if err := pub.Publish(context.Background(), stream.Event{Type: "page.created"}); err == nil {
			t.Fatal("expected writer error")
		}
	})

	t.Run("writer_success", func(t *testing.T) {
		writer := &fakeKafkaWriter{}
		pub := &KafkaPublisher{writer: writer}
		evt := stream.NewEvent(stream.EventPageCreated, map[string]any{"page_id": "p-1"})
		if err := pub.Publish(context.Background(), evt); err != nil {
			t.Fatalf("unexpected publish error: %v", err)
		}
		if len(writer.msgs) != 1 {
			t.Fatalf("expected one message, got %d", len(writer.msgs))
		}
		if string(writer.msgs[0].Key) != "page.created" {
			t.Fatalf("unexpected message key: %s", string(writer.msgs[0].Key))
		}
		var decoded stream.Event
		if err := json.Unmarshal(writer.msgs[0].Value, &decoded); err != nil {
			t.Fatalf("message value is not JSON: %v", err)
		}
		if decoded.Type != "page.created" {
			t.Fatalf("unexpected decoded type: %s", decoded.Type)
		}
	})
}

func TestForwardDrainsHubIntoPublisher(t *testing.T) {
	hub := stream.NewHub()
	writer := &fakeKafkaWriter{}
	pub := &KafkaPublisher{writer: writer}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Forward(ctx, hub, pub)
		close(done)
	}()

	// Give Forward a moment to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	hub.Publish(stream.NewEvent(stream.EventToolDispatched, map[string]any{"tool": "createPage"}))

	deadline := time.After(2 * time.Second)
	for writer.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("event never reached the kafka writer")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Forward did not stop on context cancel")
	}
}
