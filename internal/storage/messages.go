package storage

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/AvinashSuthar/chat-backend/internal/models"
)

// AppendMessageParams describes a message draft to commit. Exactly one of
// RecipientID and ChannelID must be set.
type AppendMessageParams struct {
	SenderID    string
	RecipientID string
	ChannelID   string
	Type        models.MessageType
	Content     string
	FileURL     string
}

// AppendMessage validates the draft, assigns the next sequence number in the
// target conversation, and commits the message. Appends are serialized under
// the store lock, so sequence numbers are strictly increasing and history
// order equals commit order.
func (s *Storage) AppendMessage(params AppendMessageParams) (models.Message, error) {
	messageType := params.Type
	if messageType == "" {
		messageType = models.MessageTypeText
	}

	content := params.Content
	switch messageType {
	case models.MessageTypeText:
		content = strings.TrimSpace(content)
		if content == "" {
			return models.Message{}, fmt.Errorf("%w: content is required", ErrInvalidMessage)
		}
		if utf8.RuneCountInString(content) > MaxMessageLength {
			return models.Message{}, fmt.Errorf("%w: content exceeds %d characters", ErrInvalidMessage, MaxMessageLength)
		}
	case models.MessageTypeFile:
		if strings.TrimSpace(params.FileURL) == "" {
			return models.Message{}, fmt.Errorf("%w: file url is required", ErrInvalidMessage)
		}
	default:
		return models.Message{}, fmt.Errorf("%w: unsupported type %q", ErrInvalidMessage, messageType)
	}

	if (params.RecipientID == "") == (params.ChannelID == "") {
		return models.Message{}, fmt.Errorf("%w: exactly one of recipient or channel is required", ErrInvalidMessage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[params.SenderID]; !ok {
		return models.Message{}, fmt.Errorf("sender %s: %w", params.SenderID, ErrUserNotFound)
	}

	var conversationID string
	var channel models.Channel
	if params.ChannelID != "" {
		existing, ok := s.data.Channels[params.ChannelID]
		if !ok {
			return models.Message{}, ErrChannelNotFound
		}
		if !existing.HasMember(params.SenderID) {
			return models.Message{}, ErrNotChannelMember
		}
		channel = existing
		conversationID = models.ChannelConversationID(params.ChannelID)
	} else {
		if _, ok := s.data.Users[params.RecipientID]; !ok {
			return models.Message{}, fmt.Errorf("recipient %s: %w", params.RecipientID, ErrUserNotFound)
		}
		conversationID = models.DirectConversationID(params.SenderID, params.RecipientID)
	}

	prevSeq := s.data.Sequences[conversationID]
	message := models.Message{
		ID:             generateID(),
		ConversationID: conversationID,
		Seq:            prevSeq + 1,
		SenderID:       params.SenderID,
		RecipientID:    params.RecipientID,
		ChannelID:      params.ChannelID,
		Type:           messageType,
		Content:        content,
		FileURL:        params.FileURL,
		CreatedAt:      s.now(),
	}

	s.data.Messages[message.ID] = message
	s.data.Sequences[conversationID] = message.Seq
	prevChannel := channel
	if params.ChannelID != "" {
		channel.UpdatedAt = message.CreatedAt
		s.data.Channels[params.ChannelID] = channel
	}

	if err := s.persist(); err != nil {
		delete(s.data.Messages, message.ID)
		if prevSeq == 0 {
			delete(s.data.Sequences, conversationID)
		} else {
			s.data.Sequences[conversationID] = prevSeq
		}
		if params.ChannelID != "" {
			s.data.Channels[params.ChannelID] = prevChannel
		}
		return models.Message{}, err
	}

	return message, nil
}

// ListChannelMessages returns the channel history in sequence order. A
// positive limit keeps only the most recent messages.
func (s *Storage) ListChannelMessages(channelID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.data.Channels[channelID]; !ok {
		return nil, ErrChannelNotFound
	}
	return s.conversationMessagesLocked(models.ChannelConversationID(channelID), limit), nil
}

// ListDirectMessages returns the conversation between two users in sequence
// order. A positive limit keeps only the most recent messages.
func (s *Storage) ListDirectMessages(userA, userB string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.data.Users[userA]; !ok {
		return nil, fmt.Errorf("user %s: %w", userA, ErrUserNotFound)
	}
	if _, ok := s.data.Users[userB]; !ok {
		return nil, fmt.Errorf("user %s: %w", userB, ErrUserNotFound)
	}
	return s.conversationMessagesLocked(models.DirectConversationID(userA, userB), limit), nil
}

func (s *Storage) conversationMessagesLocked(conversationID string, limit int) []models.Message {
	var messages []models.Message
	for _, message := range s.data.Messages {
		if message.ConversationID == conversationID {
			messages = append(messages, message)
		}
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Seq < messages[j].Seq
	})
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages
}

// ListContacts returns the user's direct-message peers ordered by the most
// recent exchange.
func (s *Storage) ListContacts(userID string) ([]models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.data.Users[userID]; !ok {
		return nil, fmt.Errorf("user %s: %w", userID, ErrUserNotFound)
	}

	latest := make(map[string]models.Message)
	for _, message := range s.data.Messages {
		if message.RecipientID == "" {
			continue
		}
		var peerID string
		switch userID {
		case message.SenderID:
			peerID = message.RecipientID
		case message.RecipientID:
			peerID = message.SenderID
		default:
			continue
		}
		if current, ok := latest[peerID]; !ok || message.CreatedAt.After(current.CreatedAt) {
			latest[peerID] = message
		}
	}

	contacts := make([]models.Contact, 0, len(latest))
	for peerID, message := range latest {
		peer, ok := s.data.Users[peerID]
		if !ok {
			continue
		}
		contacts = append(contacts, models.Contact{User: peer, LastMessageAt: message.CreatedAt})
	}
	sort.Slice(contacts, func(i, j int) bool {
		return contacts[i].LastMessageAt.After(contacts[j].LastMessageAt)
	})
	return contacts, nil
}
