package chat

import (
	"context"
	"testing"
	"time"

	"github.com/AvinashSuthar/chat-backend/internal/models"
	"github.com/AvinashSuthar/chat-backend/internal/testsupport/redisstub"
)

func startRedisQueue(t *testing.T, opts redisstub.Options, cfg RedisQueueConfig) Queue {
	t.Helper()
	stub, err := redisstub.Start(opts)
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = stub.Close() })

	cfg.Addr = stub.Addr()
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 200 * time.Millisecond
	}
	queue, err := NewRedisQueue(cfg)
	if err != nil {
		t.Fatalf("NewRedisQueue: %v", err)
	}
	t.Cleanup(func() {
		if closer, ok := queue.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	})
	return queue
}

func TestRedisQueueDeliversPublishedEvents(t *testing.T) {
	queue := startRedisQueue(t, redisstub.Options{}, RedisQueueConfig{
		Stream: "chattest:events",
		Group:  "feed-test",
	})

	sub := queue.Subscribe()
	defer sub.Close()

	event := NewMessageEvent(models.Message{
		ID:             "m-42",
		ConversationID: "ch:general",
		Seq:            42,
		SenderID:       "alice",
		Type:           models.MessageTypeText,
		Content:        "hello",
	})
	if err := queue.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case received, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed before delivering the event")
		}
		if received.Type != EventTypeMessage || received.Message == nil {
			t.Fatalf("unexpected event: %+v", received)
		}
		if received.Message.ID != "m-42" || received.Message.Seq != 42 {
			t.Fatalf("unexpected message payload: %+v", received.Message)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the feed event")
	}
}

func TestRedisQueueAuthenticatedPublish(t *testing.T) {
	queue := startRedisQueue(t, redisstub.Options{Password: "hunter22"}, RedisQueueConfig{
		Password: "hunter22",
		Stream:   "chattest:secure",
		Group:    "feed-test",
	})

	if err := queue.Publish(context.Background(), NewPresenceEvent("alice", "conn-1", true)); err != nil {
		t.Fatalf("Publish with auth: %v", err)
	}
}

func TestRedisQueueRejectsUntypedEvents(t *testing.T) {
	queue := startRedisQueue(t, redisstub.Options{}, RedisQueueConfig{
		Stream: "chattest:invalid",
		Group:  "feed-test",
	})

	if err := queue.Publish(context.Background(), Event{}); err == nil {
		t.Fatal("expected an error for an event without a type")
	}
}
