package identity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/resource-watch/authentication-sub000/internal/cache"
	"github.com/resource-watch/authentication-sub000/internal/metrics"
)

// CachedDirectory memoizes lookups by legacyId and owns cache invalidation:
// every user mutation goes through Update or Delete here, which evict
// "identity:{legacyId}" before returning.
type CachedDirectory struct {
	Directory
	cache  cache.Cache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedDirectory wraps next with the given cache.
func NewCachedDirectory(next Directory, c cache.Cache, ttl time.Duration, logger zerolog.Logger) *CachedDirectory {
	if c == nil {
		c = cache.Noop{}
	}
	return &CachedDirectory{
		Directory: next,
		cache:     c,
		ttl:       ttl,
		logger:    logger.With().Str("component", "identity.cache").Logger(),
	}
}

// GetByLegacyID serves from cache when possible and populates it on a miss.
func (d *CachedDirectory) GetByLegacyID(ctx context.Context, legacyID string) (*User, error) {
	if u := d.cached(ctx, legacyID); u != nil {
		return u, nil
	}
	u, err := d.Directory.GetByLegacyID(ctx, legacyID)
	if err != nil || u == nil {
		return u, err
	}
	d.store(ctx, u)
	return u, nil
}

// ProfileForToken resolves the live record behind a token. The cache is
// keyed by the token's legacyId; a miss falls back to a provider lookup by
// email, whose result is cached under the record's own legacyId.
func (d *CachedDirectory) ProfileForToken(ctx context.Context, legacyID, email string) (*User, error) {
	if legacyID != "" {
		if u := d.cached(ctx, legacyID); u != nil {
			return u, nil
		}
	}
	u, err := d.Directory.GetByEmail(ctx, email)
	if err != nil || u == nil {
		return u, err
	}
	d.store(ctx, u)
	return u, nil
}

// Update mutates the record and evicts its cache entry.
func (d *CachedDirectory) Update(ctx context.Context, legacyID string, changes Changes) (*User, error) {
	u, err := d.Directory.Update(ctx, legacyID, changes)
	d.Evict(ctx, legacyID)
	return u, err
}

// Delete removes the record and evicts its cache entry.
func (d *CachedDirectory) Delete(ctx context.Context, legacyID string) (*User, error) {
	u, err := d.Directory.Delete(ctx, legacyID)
	d.Evict(ctx, legacyID)
	return u, err
}

// Evict drops the cache entry for legacyId. Failures are logged only.
func (d *CachedDirectory) Evict(ctx context.Context, legacyID string) {
	if err := d.cache.Delete(ctx, cache.IdentityKey(legacyID)); err != nil {
		d.logger.Warn().Err(err).Str("legacy_id", legacyID).Msg("failed to evict identity")
	}
}

func (d *CachedDirectory) cached(ctx context.Context, legacyID string) *User {
	data, ok, err := d.cache.Get(ctx, cache.IdentityKey(legacyID))
	if err != nil {
		d.logger.Warn().Err(err).Str("legacy_id", legacyID).Msg("identity cache read failed")
		metrics.RecordIdentityCache("error")
		return nil
	}
	if !ok {
		metrics.RecordIdentityCache("miss")
		return nil
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		d.logger.Warn().Err(err).Str("legacy_id", legacyID).Msg("discarding malformed identity cache entry")
		metrics.RecordIdentityCache("miss")
		return nil
	}
	metrics.RecordIdentityCache("hit")
	return &u
}

func (d *CachedDirectory) store(ctx context.Context, u *User) {
	if u.LegacyID == "" {
		return
	}
	data, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, cache.IdentityKey(u.LegacyID), data, d.ttl); err != nil {
		d.logger.Warn().Err(err).Str("legacy_id", u.LegacyID).Msg("identity cache write failed")
	}
}
