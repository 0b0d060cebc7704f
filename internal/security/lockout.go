// Package security throttles password logins.
//
// Purpose:
//
//	Failed logins are counted per email in Redis over a sliding window. Once
//	the count reaches the limit, further attempts for that email are refused
//	until the window expires, without reaching the identity provider.
//
// Dependencies:
//   - github.com/redis/go-redis/v9: attempt counters
//   - internal/config: LOCKOUT_MAX_ATTEMPTS, LOCKOUT_WINDOW_MINUTES
//
// Debugging Notes:
//   - Keys are "lockout:attempts:{lowercased email}" and expire with the window
//   - Without a Redis client every check passes (graceful degradation)
//   - Throttled logins get the same 401 as a wrong password
package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/resource-watch/authentication-sub000/internal/config"
)

// LockoutConfig contains the throttling policy.
type LockoutConfig struct {
	MaxAttempts    int
	WindowDuration time.Duration
}

// LockoutConfigFrom reads the policy from service configuration.
func LockoutConfigFrom(cfg *config.Config) LockoutConfig {
	return LockoutConfig{
		MaxAttempts:    cfg.LockoutMaxAttempts,
		WindowDuration: time.Duration(cfg.LockoutWindowMinutes) * time.Minute,
	}
}

// LockoutTracker counts failed logins per email.
type LockoutTracker struct {
	client *redis.Client
	cfg    LockoutConfig
}

// NewLockoutTracker creates a tracker. client may be nil.
func NewLockoutTracker(client *redis.Client, cfg LockoutConfig) *LockoutTracker {
	return &LockoutTracker{client: client, cfg: cfg}
}

func (t *LockoutTracker) key(email string) string {
	return "lockout:attempts:" + strings.ToLower(strings.TrimSpace(email))
}

// TrackFailedAttempt increments the counter for email and reports whether
// the email is now locked.
func (t *LockoutTracker) TrackFailedAttempt(ctx context.Context, email string) (int, bool, error) {
	if t.client == nil {
		return 0, false, nil
	}

	pipe := t.client.TxPipeline()
	incr := pipe.Incr(ctx, t.key(email))
	pipe.Expire(ctx, t.key(email), t.cfg.WindowDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, false, fmt.Errorf("lockout tracker: failed to increment counter: %w", err)
	}

	count := incr.Val()
	return int(count), t.cfg.MaxAttempts > 0 && count >= int64(t.cfg.MaxAttempts), nil
}

// Locked reports whether email has used up its attempts in the current window.
func (t *LockoutTracker) Locked(ctx context.Context, email string) (bool, error) {
	count, err := t.FailedAttemptCount(ctx, email)
	if err != nil {
		return false, err
	}
	return t.cfg.MaxAttempts > 0 && count >= t.cfg.MaxAttempts, nil
}

// FailedAttemptCount returns the current counter for email.
func (t *LockoutTracker) FailedAttemptCount(ctx context.Context, email string) (int, error) {
	if t.client == nil {
		return 0, nil
	}
	count, err := t.client.Get(ctx, t.key(email)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lockout tracker: failed to get count: %w", err)
	}
	return count, nil
}

// ClearAttempts resets the counter after a successful login.
func (t *LockoutTracker) ClearAttempts(ctx context.Context, email string) error {
	if t.client == nil {
		return nil
	}
	return t.client.Del(ctx, t.key(email)).Err()
}
