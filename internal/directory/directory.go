// Package directory resolves user ids to display identities. The cache is
// the only broadly shared mutable resource in the pipeline: it is refreshed
// wholesale on a timer by its own routine and read-only to everything else.
package directory

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/iwasamnot/campuschat/internal/models"
)

// DefaultRefreshInterval is how often the cache re-fetches the directory.
const DefaultRefreshInterval = 60 * time.Second

// DefaultListLimit bounds a bulk directory fetch.
const DefaultListLimit = 500

// User is a raw record from the directory service.
type User struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Email             string     `json:"email"`
	ProfilePictureURL string     `json:"profile_picture_url"`
	IsOnline          bool       `json:"is_online"`
	LastSeen          *time.Time `json:"last_seen"`
}

// Service is the external user-directory lookup.
type Service interface {
	List(ctx context.Context, limit int) ([]User, error)
}

// DisplayName resolves a user's display name through the fallback chain:
// name, then the local part of the email, then a fragment of the id.
func DisplayName(u User) string {
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	if at := strings.Index(u.Email, "@"); at > 0 {
		return u.Email[:at]
	}
	if len(u.ID) > 6 {
		return u.ID[:6]
	}
	return u.ID
}

// Cache holds the resolved directory. Lookups read an immutable snapshot;
// Refresh swaps the whole snapshot rather than patching entries, so readers
// never observe a partial update.
type Cache struct {
	svc      Service
	interval time.Duration
	limit    int

	mu      sync.RWMutex
	entries map[string]models.DirectoryEntry
	byName  map[string]string // lowercased display name → id, "" when ambiguous
}

// NewCache creates a Cache over the given service.
func NewCache(svc Service, interval time.Duration, limit int) *Cache {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return &Cache{
		svc:      svc,
		interval: interval,
		limit:    limit,
		entries:  make(map[string]models.DirectoryEntry),
		byName:   make(map[string]string),
	}
}

// Refresh fetches the directory and swaps in the new snapshot. On failure
// the previous snapshot keeps serving; a stale directory beats an empty one.
func (c *Cache) Refresh(ctx context.Context) error {
	users, err := c.svc.List(ctx, c.limit)
	if err != nil {
		slog.Warn("directory refresh failed, keeping previous snapshot", "error", err)
		return err
	}

	entries := make(map[string]models.DirectoryEntry, len(users))
	byName := make(map[string]string, len(users))
	for _, u := range users {
		name := DisplayName(u)
		entries[u.ID] = models.DirectoryEntry{
			ID:                u.ID,
			DisplayName:       name,
			Email:             u.Email,
			ProfilePictureURL: u.ProfilePictureURL,
			Online:            u.IsOnline,
			LastSeen:          u.LastSeen,
		}
		key := strings.ToLower(name)
		if _, dup := byName[key]; dup {
			byName[key] = "" // ambiguous: mention resolution must skip it
		} else {
			byName[key] = u.ID
		}
	}

	c.mu.Lock()
	c.entries = entries
	c.byName = byName
	c.mu.Unlock()
	return nil
}

// Run refreshes immediately and then on the configured interval until ctx
// is canceled.
func (c *Cache) Run(ctx context.Context) {
	_ = c.Refresh(ctx)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Refresh(ctx)
		}
	}
}

// Get returns the entry for a user id.
func (c *Cache) Get(id string) (models.DirectoryEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

// LookupName finds a user by display name, case-insensitively. Ambiguous
// names (shared by multiple users) resolve to nothing.
func (c *Cache) LookupName(name string) (models.DirectoryEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byName[strings.ToLower(name)]
	if !ok || id == "" {
		return models.DirectoryEntry{}, false
	}
	return c.entries[id], true
}

// DisplayNameFor returns the cached display name for id, falling back to an
// id fragment for unknown users.
func (c *Cache) DisplayNameFor(id string) string {
	if e, ok := c.Get(id); ok {
		return e.DisplayName
	}
	if len(id) > 6 {
		return id[:6]
	}
	return id
}

// Snapshot returns a copy of all entries.
func (c *Cache) Snapshot() []models.DirectoryEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.DirectoryEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}
