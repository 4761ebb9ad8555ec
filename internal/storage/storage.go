package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AvinashSuthar/chat-backend/internal/models"
)

const (
	passwordHashSaltLength = 16
	passwordHashKeyLength  = 32
	passwordHashIterations = 120000

	// MaxMessageLength defines the maximum number of characters allowed for a
	// text message.
	MaxMessageLength = 2000
)

var (
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrPasswordLoginUnsupported = errors.New("account does not support password login")

	// ErrUserNotFound reports a lookup against an unknown user ID.
	ErrUserNotFound = errors.New("user not found")
	// ErrChannelNotFound reports a lookup against an unknown channel ID.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrNotChannelMember reports an operation attempted by a user outside the
	// channel member list.
	ErrNotChannelMember = errors.New("user is not a channel member")
	// ErrInvalidMessage wraps message drafts rejected during validation,
	// before anything touches the log.
	ErrInvalidMessage = errors.New("invalid message")
)

type dataset struct {
	Users     map[string]models.User    `json:"users"`
	Channels  map[string]models.Channel `json:"channels"`
	Messages  map[string]models.Message `json:"messages"`
	Sequences map[string]uint64         `json:"sequences"`
}

// Storage is a JSON-file-backed datastore. Every mutation clones the dataset,
// applies the change, and persists atomically before swapping it in, so a
// failed write leaves the in-memory state untouched.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
	now             func() time.Time
}

// Option mutates storage configuration.
type Option func(*Storage)

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		if now != nil {
			s.now = now
		}
	}
}

func newDataset() dataset {
	return dataset{
		Users:     make(map[string]models.User),
		Channels:  make(map[string]models.Channel),
		Messages:  make(map[string]models.Message),
		Sequences: make(map[string]uint64),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Users == nil {
		s.data.Users = make(map[string]models.User)
	}
	if s.data.Channels == nil {
		s.data.Channels = make(map[string]models.Channel)
	}
	if s.data.Messages == nil {
		s.data.Messages = make(map[string]models.Message)
	}
	if s.data.Sequences == nil {
		s.data.Sequences = make(map[string]uint64)
	}
}

// NewStorage opens (or creates) the store file at path.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	s.ensureDatasetInitializedLocked()

	return nil
}

func (s *Storage) persist() error {
	return s.persistDataset(s.data)
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := newDataset()

	for id, user := range src.Users {
		cloned := user
		if user.Roles != nil {
			cloned.Roles = append([]string(nil), user.Roles...)
		}
		clone.Users[id] = cloned
	}

	for id, channel := range src.Channels {
		cloned := channel
		if channel.MemberIDs != nil {
			cloned.MemberIDs = append([]string(nil), channel.MemberIDs...)
		}
		clone.Channels[id] = cloned
	}

	for id, message := range src.Messages {
		clone.Messages[id] = message
	}

	for conversationID, seq := range src.Sequences {
		clone.Sequences[conversationID] = seq
	}

	return clone
}

// Ping reports whether the backing file is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := os.Stat(filepath.Dir(s.filePath)); err != nil {
		return fmt.Errorf("stat data dir: %w", err)
	}
	return nil
}
