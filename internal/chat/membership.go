package chat

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Directory answers channel membership questions from the durable store.
type Directory interface {
	IsChannelMember(channelID, userID string) (bool, error)
	IsChannelAdmin(channelID, userID string) (bool, error)
	ChannelMembers(channelID string) ([]string, error)
}

// MembershipCache is a read-through cache over a Directory with a bounded
// staleness window. A zero TTL disables caching entirely, so every lookup
// hits the directory. Lookups that fail resolve to "not a member": callers
// authorize against the cache and must fail closed.
type MembershipCache struct {
	directory Directory
	ttl       time.Duration
	now       func() time.Time
	group     singleflight.Group

	mu      sync.RWMutex
	entries map[string]membershipEntry
}

type membershipEntry struct {
	members   map[string]struct{}
	ordered   []string
	fetchedAt time.Time
}

// NewMembershipCache wraps the directory with a TTL cache.
func NewMembershipCache(directory Directory, ttl time.Duration) *MembershipCache {
	return &MembershipCache{
		directory: directory,
		ttl:       ttl,
		now:       func() time.Time { return time.Now().UTC() },
		entries:   make(map[string]membershipEntry),
	}
}

// IsMember reports whether the user belongs to the channel. The admin counts
// as a member. Directory failures surface as (false, err).
func (c *MembershipCache) IsMember(channelID, userID string) (bool, error) {
	entry, err := c.lookup(channelID)
	if err != nil {
		return false, err
	}
	_, ok := entry.members[userID]
	return ok, nil
}

// IsAdmin reports whether the user administers the channel. Admin checks
// always consult the directory; they guard rare mutations, not the send path.
func (c *MembershipCache) IsAdmin(channelID, userID string) (bool, error) {
	return c.directory.IsChannelAdmin(channelID, userID)
}

// Members returns the channel member list, admin included.
func (c *MembershipCache) Members(channelID string) ([]string, error) {
	entry, err := c.lookup(channelID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), entry.ordered...), nil
}

// Invalidate drops the cached entry for a channel after a membership change.
func (c *MembershipCache) Invalidate(channelID string) {
	c.mu.Lock()
	delete(c.entries, channelID)
	c.mu.Unlock()
}

func (c *MembershipCache) lookup(channelID string) (membershipEntry, error) {
	if c.ttl > 0 {
		c.mu.RLock()
		entry, ok := c.entries[channelID]
		c.mu.RUnlock()
		if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
			return entry, nil
		}
	}

	// Concurrent misses for the same channel collapse into one directory
	// fetch.
	result, err, _ := c.group.Do(channelID, func() (interface{}, error) {
		members, err := c.directory.ChannelMembers(channelID)
		if err != nil {
			return membershipEntry{}, err
		}
		entry := membershipEntry{
			members:   make(map[string]struct{}, len(members)),
			ordered:   members,
			fetchedAt: c.now(),
		}
		for _, id := range members {
			entry.members[id] = struct{}{}
		}
		if c.ttl > 0 {
			c.mu.Lock()
			c.entries[channelID] = entry
			c.mu.Unlock()
		}
		return entry, nil
	})
	if err != nil {
		return membershipEntry{}, err
	}
	return result.(membershipEntry), nil
}
