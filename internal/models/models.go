package models

import (
	"sort"
	"strings"
	"time"
)

// MessageType discriminates the payload carried by a Message.
type MessageType string

const (
	// MessageTypeText is a plain text message.
	MessageTypeText MessageType = "text"
	// MessageTypeFile references an uploaded file.
	MessageTypeFile MessageType = "file"
)

// User is an account that can authenticate and exchange messages.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"firstName,omitempty"`
	LastName     string    `json:"lastName,omitempty"`
	ImageURL     string    `json:"imageUrl,omitempty"`
	Color        int       `json:"color"`
	ProfileSetup bool      `json:"profileSetup"`
	Roles        []string  `json:"roles,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HasRole reports whether the user carries the given role.
func (u User) HasRole(role string) bool {
	normalized := strings.ToLower(strings.TrimSpace(role))
	for _, candidate := range u.Roles {
		if candidate == normalized {
			return true
		}
	}
	return false
}

// DisplayName returns the best human-readable name for the user.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	return u.Email
}

// Channel is a named group conversation with a single admin and a fixed
// member list. The admin is always counted as a member.
type Channel struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AdminID   string    `json:"adminId"`
	MemberIDs []string  `json:"memberIds"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasMember reports whether the user belongs to the channel. The admin is
// implicitly a member.
func (c Channel) HasMember(userID string) bool {
	if userID == "" {
		return false
	}
	if c.AdminID == userID {
		return true
	}
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Message is a committed chat message. ConversationID identifies either a
// channel or a direct-message pair; Seq is the strictly increasing position
// within that conversation assigned at append time.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Seq            uint64      `json:"seq"`
	SenderID       string      `json:"senderId"`
	RecipientID    string      `json:"recipientId,omitempty"`
	ChannelID      string      `json:"channelId,omitempty"`
	Type           MessageType `json:"type"`
	Content        string      `json:"content,omitempty"`
	FileURL        string      `json:"fileUrl,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// Contact is a direct-message peer together with the time of the most recent
// exchanged message, used to order the contact list.
type Contact struct {
	User          User      `json:"user"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

// DirectConversationID derives the canonical conversation identifier for a
// pair of users. The pair is unordered, so both participants resolve to the
// same conversation.
func DirectConversationID(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return "dm:" + pair[0] + ":" + pair[1]
}

// ChannelConversationID derives the conversation identifier for a channel.
func ChannelConversationID(channelID string) string {
	return "ch:" + channelID
}
