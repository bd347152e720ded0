package credential

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache serves per-user Credentials out of memory, loading from Store on a
// miss and transparently refreshing the access token when it is close to
// expiry. Concurrent Get calls for the same user that both observe an
// expiring token are coalesced through group so only one refresh request
// reaches the broker.
type Cache struct {
	store  Store
	oauth  *OAuthClient
	ttlSkew time.Duration

	mu      sync.RWMutex
	entries map[string]Credentials

	group singleflight.Group
}

// NewCache constructs a Cache backed by store, refreshing tokens via oauth
// when they are within ttlSkew of expiring.
func NewCache(store Store, oauth *OAuthClient, ttlSkew time.Duration) *Cache {
	return &Cache{
		store:   store,
		oauth:   oauth,
		ttlSkew: ttlSkew,
		entries: make(map[string]Credentials),
	}
}

// Get returns valid credentials for userID, loading from the store on a
// cache miss and refreshing the access token if it is expiring soon.
func (c *Cache) Get(ctx context.Context, userID string) (Credentials, error) {
	creds, ok := c.lookup(userID)
	if !ok {
		loaded, err := c.store.LoadCredentials(ctx, userID)
		if err != nil {
			return Credentials{}, err
		}
		creds = loaded
		c.set(userID, creds)
	}

	if !creds.expiringSoon(c.ttlSkew, time.Now()) {
		return creds, nil
	}

	refreshed, err, _ := c.group.Do(userID, func() (any, error) {
		// Re-check inside the singleflight critical section: another
		// goroutine's refresh may have already landed while this one
		// waited to be scheduled.
		if cur, ok := c.lookup(userID); ok && !cur.expiringSoon(c.ttlSkew, time.Now()) {
			return cur, nil
		}

		accessToken, refreshToken, expiry, err := c.oauth.Refresh(ctx, creds)
		if err != nil {
			return Credentials{}, err
		}
		updated := creds
		updated.AccessToken = accessToken
		updated.RefreshToken = refreshToken
		updated.TokenExpiry = expiry

		if err := c.store.SaveTokens(ctx, userID, accessToken, refreshToken, expiry.Unix()); err != nil {
			return Credentials{}, err
		}
		c.set(userID, updated)
		return updated, nil
	})
	if err != nil {
		return Credentials{}, err
	}
	return refreshed.(Credentials), nil
}

// Validate reports whether userID has usable credentials — get(userID).is_some()
// rather than a separate existence check, so it goes through the same
// cache/store/refresh path Get does.
func (c *Cache) Validate(ctx context.Context, userID string) bool {
	_, err := c.Get(ctx, userID)
	return err == nil
}

// Clear drops the cached entry for one user, forcing the next Get to
// reload from the store.
func (c *Cache) Clear(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// ClearAll drops every cached entry.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	c.entries = make(map[string]Credentials)
	c.mu.Unlock()
}

func (c *Cache) lookup(userID string) (Credentials, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	creds, ok := c.entries[userID]
	return creds, ok
}

func (c *Cache) set(userID string, creds Credentials) {
	c.mu.Lock()
	c.entries[userID] = creds
	c.mu.Unlock()
}
