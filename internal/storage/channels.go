package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AvinashSuthar/chat-backend/internal/models"
)

// CreateChannel creates a group conversation. The admin is implicitly a
// member; every listed member must be an existing account.
func (s *Storage) CreateChannel(adminID, name string, memberIDs []string) (models.Channel, error) {
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return models.Channel{}, errors.New("channel name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[adminID]; !ok {
		return models.Channel{}, fmt.Errorf("admin %s: %w", adminID, ErrUserNotFound)
	}

	seen := map[string]struct{}{adminID: {}}
	members := make([]string, 0, len(memberIDs))
	for _, memberID := range memberIDs {
		if _, dup := seen[memberID]; dup {
			continue
		}
		if _, ok := s.data.Users[memberID]; !ok {
			return models.Channel{}, fmt.Errorf("member %s: %w", memberID, ErrUserNotFound)
		}
		seen[memberID] = struct{}{}
		members = append(members, memberID)
	}
	if len(members) == 0 {
		return models.Channel{}, errors.New("at least one member is required")
	}

	now := s.now()
	channel := models.Channel{
		ID:        generateID(),
		Name:      trimmedName,
		AdminID:   adminID,
		MemberIDs: members,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.data.Channels[channel.ID] = channel
	if err := s.persist(); err != nil {
		delete(s.data.Channels, channel.ID)
		return models.Channel{}, err
	}

	return channel, nil
}

// GetChannel returns the channel with the given ID.
func (s *Storage) GetChannel(id string) (models.Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channel, ok := s.data.Channels[id]
	return channel, ok
}

// ListChannelsForUser returns every channel the user belongs to, most
// recently active first.
func (s *Storage) ListChannelsForUser(userID string) []models.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var channels []models.Channel
	for _, channel := range s.data.Channels {
		if channel.HasMember(userID) {
			channels = append(channels, channel)
		}
	}
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].UpdatedAt.After(channels[j].UpdatedAt)
	})
	return channels
}

// ChannelMembers returns the full member list of a channel, admin included.
func (s *Storage) ChannelMembers(channelID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channel, ok := s.data.Channels[channelID]
	if !ok {
		return nil, ErrChannelNotFound
	}
	members := make([]string, 0, len(channel.MemberIDs)+1)
	members = append(members, channel.AdminID)
	for _, id := range channel.MemberIDs {
		if id != channel.AdminID {
			members = append(members, id)
		}
	}
	return members, nil
}

// IsChannelMember reports whether the user belongs to the channel. Unknown
// channels return ErrChannelNotFound so callers can fail closed.
func (s *Storage) IsChannelMember(channelID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channel, ok := s.data.Channels[channelID]
	if !ok {
		return false, ErrChannelNotFound
	}
	return channel.HasMember(userID), nil
}

// IsChannelAdmin reports whether the user administers the channel.
func (s *Storage) IsChannelAdmin(channelID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channel, ok := s.data.Channels[channelID]
	if !ok {
		return false, ErrChannelNotFound
	}
	return channel.AdminID == userID, nil
}

// SetChannelImage records the stored location of the channel image.
func (s *Storage) SetChannelImage(channelID, imageURL string) (models.Channel, error) {
	if strings.TrimSpace(imageURL) == "" {
		return models.Channel{}, errors.New("image url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	channel, ok := updatedData.Channels[channelID]
	if !ok {
		return models.Channel{}, ErrChannelNotFound
	}
	channel.ImageURL = imageURL
	channel.UpdatedAt = s.now()
	updatedData.Channels[channelID] = channel

	if err := s.persistDataset(updatedData); err != nil {
		return models.Channel{}, err
	}
	s.data = updatedData

	return channel, nil
}
