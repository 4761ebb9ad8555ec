package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/AvinashSuthar/chat-backend/internal/chat"
)

// startFeedLogWorker drains a feed subscription and writes one log line per
// event. It gives operators a tail of committed messages and presence
// transitions without attaching a client, and keeps a consumer on the stream
// so Redis-backed deployments ack events even when no other worker runs.
func startFeedLogWorker(ctx context.Context, logger *slog.Logger, feed chat.Queue) func() {
	if feed == nil || logger == nil {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	sub := feed.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-workerCtx.Done():
				return
			case event, ok := <-sub.Events():
				if !ok {
					return
				}
				logFeedEvent(logger, event)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			sub.Close()
			<-done
		})
	}
}

func logFeedEvent(logger *slog.Logger, event chat.Event) {
	switch event.Type {
	case chat.EventTypeMessage:
		if event.Message == nil {
			return
		}
		logger.Info("message committed",
			"message_id", event.Message.ID,
			"conversation_id", event.Message.ConversationID,
			"seq", event.Message.Seq,
			"sender_id", event.Message.SenderID)
	case chat.EventTypePresence:
		if event.Presence == nil {
			return
		}
		logger.Info("presence changed",
			"user_id", event.Presence.UserID,
			"connection_id", event.Presence.ConnectionID,
			"online", event.Presence.Online)
	default:
		logger.Warn("unrecognised feed event", "type", string(event.Type))
	}
}
