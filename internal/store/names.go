package store

import (
	"context"
	"sync"

	"github.com/saravenpi/unimatch/internal/models"
)

type profileGetter interface {
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
}

// NameCache resolves display names for user ids, remembering every hit.
type NameCache struct {
	profiles profileGetter

	mu    sync.RWMutex
	names map[string]string
}

func NewNameCache(profiles profileGetter) *NameCache {
	return &NameCache{profiles: profiles, names: make(map[string]string)}
}

// Name returns the cached display name or fetches it. Lookups that fail fall back to the id
// and are not cached, so a later call can retry.
func (c *NameCache) Name(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}

	c.mu.RLock()
	if name, ok := c.names[userID]; ok {
		c.mu.RUnlock()
		return name
	}
	c.mu.RUnlock()

	p, err := c.profiles.GetProfile(ctx, userID)
	if err != nil {
		return userID
	}

	name := p.DisplayName()
	c.mu.Lock()
	c.names[userID] = name
	c.mu.Unlock()
	return name
}

// Forget drops a cached name, e.g. after the profile was renamed.
func (c *NameCache) Forget(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.names, userID)
}
