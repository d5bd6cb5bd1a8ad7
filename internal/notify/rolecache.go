package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Directory resolves the subjects holding a role, normally the user
// service's HTTP API.
type Directory interface {
	UsersByRole(ctx context.Context, role string) ([]string, error)
}

type roleEntry struct {
	subjects  []string
	fetchedAt time.Time
}

// RoleCache is a TTL cache over a Directory. On lookup failure it serves
// the stale entry if one exists, then the configured static fallback, so
// fan-out keeps working while the directory is down.
type RoleCache struct {
	mu       sync.Mutex
	dir      Directory
	ttl      time.Duration
	now      func() time.Time
	fallback map[string][]string
	entries  map[string]roleEntry
	log      *zap.Logger
}

type RoleCacheOption func(*RoleCache)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) RoleCacheOption {
	return func(c *RoleCache) { c.now = now }
}

// WithFallback sets the static per-role subject lists used when the
// directory fails and nothing is cached.
func WithFallback(fallback map[string][]string) RoleCacheOption {
	return func(c *RoleCache) { c.fallback = fallback }
}

func WithLogger(log *zap.Logger) RoleCacheOption {
	return func(c *RoleCache) {
		if log != nil {
			c.log = log
		}
	}
}

func NewRoleCache(dir Directory, ttl time.Duration, opts ...RoleCacheOption) *RoleCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &RoleCache{
		dir:      dir,
		ttl:      ttl,
		now:      time.Now,
		fallback: map[string][]string{},
		entries:  map[string]roleEntry{},
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the subjects for a role, refreshing through the directory
// when the cached entry is older than the TTL.
func (c *RoleCache) Get(ctx context.Context, role string) []string {
	c.mu.Lock()
	e, cached := c.entries[role]
	fresh := cached && c.now().Sub(e.fetchedAt) < c.ttl
	c.mu.Unlock()

	if fresh {
		return e.subjects
	}

	subjects, err := c.dir.UsersByRole(ctx, role)
	if err != nil {
		if cached {
			c.log.Warn("role lookup failed, serving stale entry",
				zap.String("role", role), zap.Error(err))
			return e.subjects
		}
		c.log.Warn("role lookup failed, serving fallback",
			zap.String("role", role), zap.Error(err))
		return c.fallback[role]
	}

	c.mu.Lock()
	c.entries[role] = roleEntry{subjects: subjects, fetchedAt: c.now()}
	c.mu.Unlock()

	return subjects
}
