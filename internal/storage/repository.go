package storage

import (
	"context"

	"github.com/AvinashSuthar/chat-backend/internal/models"
)

// Repository exposes the datastore operations required by API handlers and
// the realtime message router.
type Repository interface {
	Ping(ctx context.Context) error

	CreateUser(params CreateUserParams) (models.User, error)
	AuthenticateUser(email, password string) (models.User, error)
	GetUser(id string) (models.User, bool)
	FindUserByEmail(email string) (models.User, bool)
	ListUsers() []models.User
	SearchUsers(query, excludeUserID string) []models.User
	UpdateProfile(id string, update ProfileUpdate) (models.User, error)
	SetUserPassword(id, password string) (models.User, error)
	SetUserRoles(id string, roles []string) (models.User, error)
	SetProfileImage(id, imageURL string) (models.User, error)
	RemoveProfileImage(id string) (models.User, error)

	CreateChannel(adminID, name string, memberIDs []string) (models.Channel, error)
	GetChannel(id string) (models.Channel, bool)
	ListChannelsForUser(userID string) []models.Channel
	ChannelMembers(channelID string) ([]string, error)
	IsChannelMember(channelID, userID string) (bool, error)
	IsChannelAdmin(channelID, userID string) (bool, error)
	SetChannelImage(channelID, imageURL string) (models.Channel, error)

	AppendMessage(params AppendMessageParams) (models.Message, error)
	ListChannelMessages(channelID string, limit int) ([]models.Message, error)
	ListDirectMessages(userA, userB string, limit int) ([]models.Message, error)
	ListContacts(userID string) ([]models.Contact, error)
}

var _ Repository = (*Storage)(nil)

// NewJSONRepository opens the JSON-file-backed repository at path.
func NewJSONRepository(path string, opts ...Option) (Repository, error) {
	return NewStorage(path, opts...)
}
