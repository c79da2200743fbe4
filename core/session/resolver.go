package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/iteamsociety/iteam/core"
	"github.com/iteamsociety/iteam/core/user"
)

// Source tags which fallback tier produced a resolved role.
type Source string

const (
	// SourceDatabase: fresh (or cached) answer from the live profile store.
	SourceDatabase Source = "database"
	// SourceFallback: served from the durable fallback store after a failed live lookup.
	SourceFallback Source = "fallback"
	// SourceDefault: no cache, no fallback, live lookup came back empty.
	SourceDefault Source = "default"
	// SourceError: live lookup failed outright; same degraded role, logged distinctly.
	SourceError Source = "error"
)

// Resolution is the answer to "what role does user U have?". It always
// carries a concrete role; Source and FromCache say how it was obtained.
type Resolution struct {
	Role      string `json:"role"`
	Source    Source `json:"source"`
	FromCache bool   `json:"from_cache"`
}

// RoleStore is the live profile store a Resolver queries.
type RoleStore interface {
	RoleOf(ctx context.Context, userID string) (string, error)
}

type roleCacheEntry struct {
	role string
	at   time.Time
}

// Resolver answers role lookups with bounded latency and graceful
// degradation: in-memory cache, then a single shared in-flight lookup per
// user, then the live store, then the durable fallback, then the default
// role. It never returns an error; role resolution must not block
// application bootstrap, server-side checks remain the enforcement boundary.
type Resolver struct {
	store    RoleStore
	fallback core.KVStore // optional; nil disables the durable tier
	ttl      time.Duration
	logger   core.Logger

	nowFunc func() time.Time // mockable

	mu     sync.Mutex
	cache  map[string]roleCacheEntry
	flight singleflight.Group
}

func NewResolver(store RoleStore, fallback core.KVStore, ttl time.Duration, logger core.Logger) *Resolver {
	return &Resolver{
		store:    store,
		fallback: fallback,
		ttl:      ttl,
		logger:   logger,
		nowFunc:  time.Now,
		cache:    make(map[string]roleCacheEntry),
	}
}

// Resolve determines userID's role. Concurrent calls for the same user share
// a single live query.
func (r *Resolver) Resolve(ctx context.Context, userID string) Resolution {
	if userID == "" {
		return Resolution{Role: user.DefaultRole, Source: SourceDefault}
	}

	if role, ok := r.cached(userID); ok {
		resolutionsTotal.WithLabelValues(string(SourceDatabase), "true").Inc()
		return Resolution{Role: role, Source: SourceDatabase, FromCache: true}
	}

	v, _, _ := r.flight.Do(userID, func() (interface{}, error) {
		return r.lookup(ctx, userID), nil
	})
	res := v.(Resolution)
	resolutionsTotal.WithLabelValues(string(res.Source), "false").Inc()
	return res
}

// lookup walks the degradation ladder below the cache tier.
func (r *Resolver) lookup(ctx context.Context, userID string) Resolution {
	role, err := r.store.RoleOf(ctx, userID)
	if err == nil && user.IsValidRole(role) {
		r.put(userID, role)
		r.persist(userID, role)
		return Resolution{Role: role, Source: SourceDatabase}
	}

	if fb, ok := r.persisted(userID); ok {
		return Resolution{Role: fb, Source: SourceFallback}
	}

	if err != nil && errors.Cause(err) != user.ErrNotFound {
		r.logger.Warn("role lookup failed, using default role", err)
		return Resolution{Role: user.DefaultRole, Source: SourceError}
	}
	return Resolution{Role: user.DefaultRole, Source: SourceDefault}
}

func (r *Resolver) cached(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[userID]
	if !ok || r.nowFunc().Sub(entry.at) >= r.ttl {
		return "", false
	}
	return entry.role, true
}

func (r *Resolver) put(userID, role string) {
	r.mu.Lock()
	r.cache[userID] = roleCacheEntry{role: role, at: r.nowFunc()}
	r.mu.Unlock()
}

// persist writes the last known-good role to the durable fallback store.
// Best-effort: failures are logged, never surfaced.
func (r *Resolver) persist(userID, role string) {
	if r.fallback == nil {
		return
	}
	if err := r.fallback.Set(fallbackKey(userID), role); err != nil {
		r.logger.Warn("persisting role fallback", err)
	}
}

func (r *Resolver) persisted(userID string) (string, bool) {
	if r.fallback == nil {
		return "", false
	}
	role, err := r.fallback.Get(fallbackKey(userID))
	if err != nil {
		if errors.Cause(err) != core.ErrKeyNotFound {
			r.logger.Warn("reading role fallback", err)
		}
		return "", false
	}
	if !user.IsValidRole(role) {
		return "", false
	}
	return role, true
}

// Forget drops userID's cache entry and durable fallback. Used on sign-out.
func (r *Resolver) Forget(userID string) {
	r.mu.Lock()
	delete(r.cache, userID)
	r.mu.Unlock()

	if r.fallback != nil {
		if err := r.fallback.Delete(fallbackKey(userID)); err != nil {
			r.logger.Warn("deleting role fallback", err)
		}
	}
}

// Reset drops the whole in-memory cache.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.cache = make(map[string]roleCacheEntry)
	r.mu.Unlock()
}

func fallbackKey(userID string) string {
	return "role:" + userID
}
