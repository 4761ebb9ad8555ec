package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AvinashSuthar/chat-backend/internal/models"
	"github.com/AvinashSuthar/chat-backend/internal/observability/metrics"
	"github.com/AvinashSuthar/chat-backend/internal/storage"
)

const defaultAppendTimeout = 5 * time.Second

// MessageStore is the durable log the router appends to. Appends are
// serialized by the store; history order equals commit order.
type MessageStore interface {
	AppendMessage(params storage.AppendMessageParams) (models.Message, error)
}

// Deliverer pushes a committed message to a single live connection. The push
// must not block: a connection that cannot accept the message returns an
// error, which the router records as a delivery warning.
type Deliverer interface {
	Deliver(connectionID string, message models.Message) error
}

// Draft is an unvalidated message submitted by a sender.
type Draft struct {
	Type    models.MessageType
	Content string
	FileURL string
}

// RouterConfig configures a message Router.
type RouterConfig struct {
	Store      MessageStore
	Membership *MembershipCache
	Presence   *Registry
	Deliverer  Deliverer
	Feed       Queue
	Logger     *slog.Logger
	// AppendTimeout bounds how long a single durable append may take before
	// the router gives up and reports a persistence failure.
	AppendTimeout time.Duration
}

// Router authorizes message sends, commits them to the durable store, and
// fans them out to live connections. The append always completes before any
// fan-out delivery is attempted; fan-out failures after the commit are
// warnings, never errors.
type Router struct {
	store         MessageStore
	membership    *MembershipCache
	presence      *Registry
	deliverer     Deliverer
	feed          Queue
	logger        *slog.Logger
	appendTimeout time.Duration
}

// NewRouter initialises a router using the provided configuration.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.AppendTimeout
	if timeout <= 0 {
		timeout = defaultAppendTimeout
	}
	return &Router{
		store:         cfg.Store,
		membership:    cfg.Membership,
		presence:      cfg.Presence,
		deliverer:     cfg.Deliverer,
		feed:          cfg.Feed,
		logger:        logger,
		appendTimeout: timeout,
	}
}

// BindDeliverer attaches the live-connection sink after construction. The
// router and the gateway reference each other, so one of them has to be wired
// late; call this once during startup, before the router serves traffic.
func (r *Router) BindDeliverer(d Deliverer) {
	r.deliverer = d
}

// SendDirect commits a direct message and pushes it to the recipient's live
// connections. An offline recipient is not an error: the message commits and
// the fan-out set is simply empty. The committed message is returned to the
// sender as the acknowledgement.
func (r *Router) SendDirect(ctx context.Context, senderID, recipientID string, draft Draft) (models.Message, error) {
	message, err := r.append(ctx, storage.AppendMessageParams{
		SenderID:    senderID,
		RecipientID: recipientID,
		Type:        draft.Type,
		Content:     draft.Content,
		FileURL:     draft.FileURL,
	})
	if err != nil {
		return models.Message{}, err
	}
	metrics.ObserveChatEvent("direct")
	r.fanOut(message, []string{recipientID}, senderID)
	r.publish(ctx, NewMessageEvent(message))
	return message, nil
}

// SendToChannel authorizes the sender against the membership cache, commits
// the message, and fans it out to every member's live connections except the
// sender's own (the sender receives the committed message synchronously).
func (r *Router) SendToChannel(ctx context.Context, senderID, channelID string, draft Draft) (models.Message, error) {
	isMember, err := r.membership.IsMember(channelID, senderID)
	if err != nil {
		r.logger.Warn("membership lookup failed, failing closed", "channelId", channelID, "userId", senderID, "error", err)
		return models.Message{}, fmt.Errorf("membership lookup: %w", ErrUnauthorized)
	}
	if !isMember {
		return models.Message{}, ErrUnauthorized
	}

	message, err := r.append(ctx, storage.AppendMessageParams{
		SenderID:  senderID,
		ChannelID: channelID,
		Type:      draft.Type,
		Content:   draft.Content,
		FileURL:   draft.FileURL,
	})
	if err != nil {
		return models.Message{}, err
	}
	metrics.ObserveChatEvent("channel")

	members, err := r.membership.Members(channelID)
	if err != nil {
		// The message is already committed; a failed member snapshot only
		// degrades fan-out, so it is reported like any delivery failure.
		r.logger.Warn("member snapshot failed after commit", "channelId", channelID, "error", err)
		metrics.ObserveDeliveryWarning()
		members = nil
	}
	r.fanOut(message, members, senderID)
	r.publish(ctx, NewMessageEvent(message))
	return message, nil
}

// append runs the durable append bounded by the router timeout. The store
// call itself is synchronous, so a timed-out append may still commit; the
// sender gets a retryable persistence error either way and the sequence
// numbers stay consistent because the store serializes appends.
func (r *Router) append(ctx context.Context, params storage.AppendMessageParams) (models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, r.appendTimeout)
	defer cancel()

	type appendResult struct {
		message models.Message
		err     error
	}
	done := make(chan appendResult, 1)
	go func() {
		message, err := r.store.AppendMessage(params)
		done <- appendResult{message: message, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return models.Message{}, classifyAppendError(res.err)
		}
		return res.message, nil
	case <-ctx.Done():
		return models.Message{}, &PersistenceError{Err: ctx.Err()}
	}
}

func classifyAppendError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotChannelMember):
		return ErrUnauthorized
	case errors.Is(err, storage.ErrInvalidMessage),
		errors.Is(err, storage.ErrUserNotFound),
		errors.Is(err, storage.ErrChannelNotFound):
		return err
	default:
		return &PersistenceError{Err: err}
	}
}

// fanOut pushes the committed message to every live connection of the target
// users, excluding all of the sender's connections.
func (r *Router) fanOut(message models.Message, userIDs []string, senderID string) {
	if r.deliverer == nil {
		return
	}
	for _, userID := range userIDs {
		if userID == senderID {
			continue
		}
		for _, connectionID := range r.presence.Connections(userID) {
			if err := r.deliverer.Deliver(connectionID, message); err != nil {
				r.logger.Warn("delivery failed after commit",
					"messageId", message.ID,
					"userId", userID,
					"connectionId", connectionID,
					"error", err)
				metrics.ObserveDeliveryWarning()
			}
		}
	}
}

func (r *Router) publish(ctx context.Context, event Event) {
	if r.feed == nil {
		return
	}
	if err := r.feed.Publish(ctx, event); err != nil {
		r.logger.Warn("failed to publish chat event", "error", err)
	}
}
