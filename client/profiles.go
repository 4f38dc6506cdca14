package client

import (
	"context"
	"sync"
)

// Profile is the displayable identity of a conversation participant.
type Profile struct {
	ID        int64
	Username  string
	AvatarURL string
}

// ProfileFetcher loads a profile from the backend.
type ProfileFetcher func(ctx context.Context, userID int64) (Profile, error)

// ProfileCache memoizes profile lookups so rendering a conversation does not
// refetch the same participants on every message.
type ProfileCache struct {
	mu    sync.Mutex
	fetch ProfileFetcher
	byID  map[int64]Profile
}

// NewProfileCache creates a ProfileCache backed by the given fetcher.
func NewProfileCache(fetch ProfileFetcher) *ProfileCache {
	return &ProfileCache{
		fetch: fetch,
		byID:  make(map[int64]Profile),
	}
}

// Profile returns the cached profile for userID, fetching it on a miss.
// Failed fetches are not cached, so a later call retries.
func (c *ProfileCache) Profile(ctx context.Context, userID int64) (Profile, error) {
	c.mu.Lock()
	if p, ok := c.byID[userID]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	p, err := c.fetch(ctx, userID)
	if err != nil {
		return Profile{}, err
	}

	c.mu.Lock()
	c.byID[userID] = p
	c.mu.Unlock()
	return p, nil
}
