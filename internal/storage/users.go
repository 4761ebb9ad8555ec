package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AvinashSuthar/chat-backend/internal/models"
)

// CreateUserParams carries the fields accepted when registering an account.
type CreateUserParams struct {
	Email    string
	Password string
	Roles    []string
}

// ProfileUpdate describes a partial profile edit. Nil fields are left
// untouched.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Color     *int
}

func normalizeRoles(input []string) []string {
	if len(input) == 0 {
		return nil
	}
	roles := make([]string, 0, len(input))
	seen := make(map[string]struct{})
	for _, role := range input {
		trimmed := strings.TrimSpace(role)
		if trimmed == "" {
			continue
		}
		normalized := strings.ToLower(trimmed)
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		roles = append(roles, normalized)
	}
	if len(roles) == 0 {
		return nil
	}
	sort.Strings(roles)
	return roles
}

// CreateUser registers a new account with a hashed password.
func (s *Storage) CreateUser(params CreateUserParams) (models.User, error) {
	normalizedEmail := strings.TrimSpace(strings.ToLower(params.Email))
	if normalizedEmail == "" {
		return models.User{}, errors.New("email is required")
	}
	if !strings.Contains(normalizedEmail, "@") {
		return models.User{}, errors.New("email is invalid")
	}
	if len(params.Password) < 8 {
		return models.User{}, errors.New("password must be at least 8 characters")
	}

	hashed, err := hashPassword(params.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.data.Users {
		if user.Email == normalizedEmail {
			return models.User{}, fmt.Errorf("email %s already in use", params.Email)
		}
	}

	user := models.User{
		ID:           generateID(),
		Email:        normalizedEmail,
		Roles:        normalizeRoles(params.Roles),
		PasswordHash: hashed,
		CreatedAt:    s.now(),
	}

	s.data.Users[user.ID] = user
	if err := s.persist(); err != nil {
		delete(s.data.Users, user.ID)
		return models.User{}, err
	}

	return user, nil
}

// GetUser returns the user with the given ID.
func (s *Storage) GetUser(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	return user, ok
}

// FindUserByEmail returns the user registered under the given address.
func (s *Storage) FindUserByEmail(email string) (models.User, bool) {
	normalized := strings.TrimSpace(strings.ToLower(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.data.Users {
		if user.Email == normalized {
			return user, true
		}
	}
	return models.User{}, false
}

// ListUsers returns all accounts ordered by creation time.
func (s *Storage) ListUsers() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.data.Users))
	for _, user := range s.data.Users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users
}

// SearchUsers matches accounts whose email or name contains the query,
// excluding the requesting user. An empty query matches nothing.
func (s *Storage) SearchUsers(query, excludeUserID string) []models.User {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []models.User
	for _, user := range s.data.Users {
		if user.ID == excludeUserID {
			continue
		}
		haystack := strings.ToLower(user.Email + " " + user.FirstName + " " + user.LastName)
		if strings.Contains(haystack, needle) {
			matches = append(matches, user)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Email < matches[j].Email
	})
	return matches
}

// UpdateProfile applies a partial profile edit and marks the profile as set
// up once both name fields are present.
func (s *Storage) UpdateProfile(id string, update ProfileUpdate) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	user, ok := updatedData.Users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}

	if update.FirstName != nil {
		user.FirstName = strings.TrimSpace(*update.FirstName)
	}
	if update.LastName != nil {
		user.LastName = strings.TrimSpace(*update.LastName)
	}
	if update.Color != nil {
		if *update.Color < 0 {
			return models.User{}, errors.New("color must not be negative")
		}
		user.Color = *update.Color
	}
	if user.FirstName != "" && user.LastName != "" {
		user.ProfileSetup = true
	}

	updatedData.Users[id] = user
	if err := s.persistDataset(updatedData); err != nil {
		return models.User{}, err
	}
	s.data = updatedData

	return user, nil
}

// SetUserRoles replaces the user's role set. Roles are normalized to
// lowercase and deduplicated.
func (s *Storage) SetUserRoles(id string, roles []string) (models.User, error) {
	normalized := normalizeRoles(roles)
	return s.updateUserLocked(id, func(user *models.User) {
		user.Roles = normalized
	})
}

// SetProfileImage records the stored location of the user's avatar.
func (s *Storage) SetProfileImage(id, imageURL string) (models.User, error) {
	if strings.TrimSpace(imageURL) == "" {
		return models.User{}, errors.New("image url is required")
	}
	return s.updateUserLocked(id, func(user *models.User) {
		user.ImageURL = imageURL
	})
}

// RemoveProfileImage clears the user's avatar.
func (s *Storage) RemoveProfileImage(id string) (models.User, error) {
	return s.updateUserLocked(id, func(user *models.User) {
		user.ImageURL = ""
	})
}

func (s *Storage) updateUserLocked(id string, apply func(*models.User)) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	user, ok := updatedData.Users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	apply(&user)
	updatedData.Users[id] = user

	if err := s.persistDataset(updatedData); err != nil {
		return models.User{}, err
	}
	s.data = updatedData

	return user, nil
}
