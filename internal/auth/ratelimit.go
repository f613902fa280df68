package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/linkpulse/internal/infrastructure/config"
)

// errLimiterUnavailable wraps Redis failures; callers treat it as "allow".
var errLimiterUnavailable = errors.New("rate limiter unavailable")

// RateLimiter throttles failed logins and reset-code requests with
// fixed-window Redis counters.
//
// Redis outages fail open: the request is allowed and a warning logged, so
// a cache outage never locks every user out.
type RateLimiter struct {
	redis        redis.UniversalClient
	maxLogin     int
	loginWindow  time.Duration
	maxReset     int
	resetWindow  time.Duration
	throttleByIP bool
	logger       *slog.Logger
}

// NewRateLimiter creates a limiter from the rate limit configuration.
func NewRateLimiter(client redis.UniversalClient, cfg config.RateLimitConfig, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		redis:        client,
		maxLogin:     cfg.MaxLoginAttempts,
		loginWindow:  time.Duration(cfg.LoginCooldownMinutes) * time.Minute,
		maxReset:     cfg.MaxResetRequests,
		resetWindow:  time.Duration(cfg.ResetWindowMinutes) * time.Minute,
		throttleByIP: cfg.ThrottleByIP,
		logger:       logger,
	}
}

// CheckLogin returns ErrRateLimited once the e-mail or IP has used up its
// failed-attempt budget.
func (l *RateLimiter) CheckLogin(ctx context.Context, email, ip string) error {
	keys := l.loginKeys(email, ip)
	for _, key := range keys {
		count, err := l.redis.Get(ctx, key).Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			l.failOpen("check login", err)
			return nil
		}
		if count >= int64(l.maxLogin) {
			return ErrRateLimited
		}
	}
	return nil
}

// RecordLoginFailure counts a failed attempt against the e-mail and IP.
func (l *RateLimiter) RecordLoginFailure(ctx context.Context, email, ip string) {
	for _, key := range l.loginKeys(email, ip) {
		if _, err := l.incrementWithTTL(ctx, key, l.loginWindow); err != nil {
			l.failOpen("record login failure", err)
			return
		}
	}
}

// ResetLogin clears the e-mail counter after a successful login or reset.
// The IP counter is left to expire so one good account cannot unlock
// guessing against others.
func (l *RateLimiter) ResetLogin(ctx context.Context, email string) {
	if err := l.redis.Del(ctx, loginEmailKey(email)).Err(); err != nil {
		l.failOpen("reset login", err)
	}
}

// AllowResetRequest consumes one slot of the per-e-mail reset budget.
func (l *RateLimiter) AllowResetRequest(ctx context.Context, email string) error {
	count, err := l.incrementWithTTL(ctx, resetEmailKey(email), l.resetWindow)
	if err != nil {
		l.failOpen("check reset request", err)
		return nil
	}
	if count > int64(l.maxReset) {
		return ErrRateLimited
	}
	return nil
}

func (l *RateLimiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errLimiterUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %w", errLimiterUnavailable, err)
		}
	}
	return count, nil
}

func (l *RateLimiter) loginKeys(email, ip string) []string {
	keys := []string{loginEmailKey(email)}
	if l.throttleByIP && ip != "" {
		keys = append(keys, loginIPKey(ip))
	}
	return keys
}

func (l *RateLimiter) failOpen(op string, err error) {
	if l.logger != nil {
		l.logger.Warn("rate limiter unavailable, allowing request", "op", op, "error", err)
	}
}

func loginEmailKey(email string) string { return "linkpulse:login:email:" + NormalizeEmail(email) }
func loginIPKey(ip string) string       { return "linkpulse:login:ip:" + ip }
func resetEmailKey(email string) string { return "linkpulse:reset:email:" + NormalizeEmail(email) }
