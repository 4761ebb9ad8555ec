package chat

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/AvinashSuthar/chat-backend/internal/models"
	"github.com/AvinashSuthar/chat-backend/internal/storage"
)

func receiveEvent(t *testing.T, sub Subscription) Event {
	t.Helper()
	select {
	case event, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestMemoryQueueFanout(t *testing.T) {
	queue := NewMemoryQueue(8)
	first := queue.Subscribe()
	second := queue.Subscribe()
	defer first.Close()
	defer second.Close()

	event := NewPresenceEvent("user-a", "conn-1", true)
	if err := queue.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, sub := range []Subscription{first, second} {
		got := receiveEvent(t, sub)
		if got.Type != EventTypePresence || got.Presence == nil || got.Presence.UserID != "user-a" {
			t.Fatalf("unexpected event: %+v", got)
		}
	}
}

func TestMemoryQueueRejectsUntypedEvent(t *testing.T) {
	queue := NewMemoryQueue(8)
	if err := queue.Publish(context.Background(), Event{}); err == nil {
		t.Fatal("expected untyped event to be rejected")
	}
}

func TestMemoryQueueClosedSubscriptionStopsReceiving(t *testing.T) {
	queue := NewMemoryQueue(8)
	sub := queue.Subscribe()
	sub.Close()
	sub.Close()

	if err := queue.Publish(context.Background(), NewPresenceEvent("user-a", "conn-1", true)); err != nil {
		t.Fatalf("Publish after close: %v", err)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("closed subscription must not deliver events")
	}
}

func TestMemoryQueueDropsWhenSubscriberLagsBehind(t *testing.T) {
	queue := NewMemoryQueue(1)
	sub := queue.Subscribe()
	defer sub.Close()

	done := make(chan error, 1)
	go func() {
		var err error
		for i := 0; i < 10 && err == nil; i++ {
			err = queue.Publish(context.Background(), NewPresenceEvent(fmt.Sprintf("user-%d", i), "conn-1", true))
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("publish must never block on a lagging subscriber")
	}
}

func TestRouterPublishesCommittedMessages(t *testing.T) {
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "chat.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	sender, err := store.CreateUser(storage.CreateUserParams{Email: "sender@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	recipient, err := store.CreateUser(storage.CreateUserParams{Email: "recipient@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	queue := NewMemoryQueue(8)
	sub := queue.Subscribe()
	defer sub.Close()

	router := NewRouter(RouterConfig{
		Store:    store,
		Presence: NewRegistry(nil),
		Feed:     queue,
	})

	ack, err := router.SendDirect(context.Background(), sender.ID, recipient.ID, Draft{Type: models.MessageTypeText, Content: "hello"})
	if err != nil {
		t.Fatalf("SendDirect: %v", err)
	}

	event := receiveEvent(t, sub)
	if event.Type != EventTypeMessage || event.Message == nil {
		t.Fatalf("expected message event, got %+v", event)
	}
	if event.Message.ID != ack.ID || event.Message.Seq != ack.Seq {
		t.Fatalf("feed event %+v does not match committed message %+v", event.Message, ack)
	}
}
