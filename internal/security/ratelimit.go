package security

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"lexvault/internal/domain"
)

// Quota allows Max operations per Window.
type Quota struct {
	Max    int
	Window time.Duration
}

// DefaultQuotas returns the built-in limits: five exports and one erasure per
// user per 24 hours.
func DefaultQuotas() map[domain.Operation]Quota {
	return map[domain.Operation]Quota{
		domain.OperationExport: {Max: 5, Window: 24 * time.Hour},
		domain.OperationDelete: {Max: 1, Window: 24 * time.Hour},
	}
}

// RateLimiter gates GDPR operations per (user, operation). Allow returns a
// *domain.RateLimitError when the quota is exhausted.
//
// AuditWindowLimiter counts the audit trail and holds across processes and
// restarts. The in-memory limiters reset with the process and suit long-lived
// embedders only; those call Prune periodically.
type RateLimiter interface {
	Allow(ctx context.Context, userID int64, op domain.Operation) error
}

type limiterKey struct {
	userID int64
	op     domain.Operation
}

// SlidingWindowLimiter admits at most Quota.Max operations in any trailing
// Quota.Window. Operations without a quota are unlimited.
type SlidingWindowLimiter struct {
	mu     sync.Mutex
	quotas map[domain.Operation]Quota
	hits   map[limiterKey][]time.Time
	now    func() time.Time
}

// NewSlidingWindowLimiter creates a limiter with the given quotas.
func NewSlidingWindowLimiter(quotas map[domain.Operation]Quota) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		quotas: quotas,
		hits:   make(map[limiterKey][]time.Time),
		now:    time.Now,
	}
}

// Allow implements RateLimiter and records the attempt when it is permitted.
func (l *SlidingWindowLimiter) Allow(_ context.Context, userID int64, op domain.Operation) error {
	q, ok := l.quotas[op]
	if !ok || q.Max <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := limiterKey{userID: userID, op: op}
	recent := trimBefore(l.hits[key], now.Add(-q.Window))

	if len(recent) >= q.Max {
		l.hits[key] = recent
		return &domain.RateLimitError{
			UserID:     userID,
			Operation:  op,
			Limit:      q.Max,
			Window:     q.Window,
			RetryAfter: recent[0].Add(q.Window).Sub(now),
		}
	}

	l.hits[key] = append(recent, now)
	return nil
}

// Prune drops keys whose every hit has left its window.
func (l *SlidingWindowLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, hits := range l.hits {
		q := l.quotas[key.op]
		recent := trimBefore(hits, now.Add(-q.Window))
		if len(recent) == 0 {
			delete(l.hits, key)
			continue
		}
		l.hits[key] = recent
	}
}

// Len returns the number of tracked (user, operation) keys.
func (l *SlidingWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// trimBefore drops hits at or before cutoff. hits is sorted ascending.
func trimBefore(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

// TokenBucketLimiter smooths operations with a token bucket per key: a burst
// of Quota.Max, refilled at Quota.Max per Quota.Window. Unlike the sliding
// window it admits a new operation as soon as one token has refilled.
type TokenBucketLimiter struct {
	mu       sync.Mutex
	quotas   map[domain.Operation]Quota
	limiters map[limiterKey]*rate.Limiter
	now      func() time.Time
}

// NewTokenBucketLimiter creates a token bucket limiter with the given quotas.
func NewTokenBucketLimiter(quotas map[domain.Operation]Quota) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		quotas:   quotas,
		limiters: make(map[limiterKey]*rate.Limiter),
		now:      time.Now,
	}
}

// Allow implements RateLimiter.
func (l *TokenBucketLimiter) Allow(_ context.Context, userID int64, op domain.Operation) error {
	q, ok := l.quotas[op]
	if !ok || q.Max <= 0 || q.Window <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := limiterKey{userID: userID, op: op}
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(q.Window/time.Duration(q.Max)), q.Max)
		l.limiters[key] = lim
	}

	now := l.now()
	if lim.AllowN(now, 1) {
		return nil
	}

	r := lim.ReserveN(now, 1)
	retry := r.DelayFrom(now)
	r.CancelAt(now)
	return &domain.RateLimitError{
		UserID:     userID,
		Operation:  op,
		Limit:      q.Max,
		Window:     q.Window,
		RetryAfter: retry,
	}
}

// Prune drops buckets that have refilled completely.
func (l *TokenBucketLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, lim := range l.limiters {
		if lim.TokensAt(now) >= float64(lim.Burst()) {
			delete(l.limiters, key)
		}
	}
}

// AttemptLog reports when earlier attempts at an audited operation happened.
type AttemptLog interface {
	// AttemptTimes returns, oldest first, the timestamps of eventType entries
	// for userID after since, leaving out attempts refused before any work
	// started (rate limited or unconfirmed).
	AttemptTimes(ctx context.Context, userID string, eventType domain.AuditEventType, since time.Time) ([]time.Time, error)
}

// AuditWindowLimiter is a sliding window limiter whose hits are the audit
// entries of earlier attempts. Every attempt it admits is audited by the
// GDPR handler, so the quota holds across processes and restarts.
type AuditWindowLimiter struct {
	attempts AttemptLog
	quotas   map[domain.Operation]Quota
	now      func() time.Time
}

// NewAuditWindowLimiter creates a limiter that counts attempts in log.
func NewAuditWindowLimiter(log AttemptLog, quotas map[domain.Operation]Quota) *AuditWindowLimiter {
	return &AuditWindowLimiter{attempts: log, quotas: quotas, now: time.Now}
}

// Allow implements RateLimiter.
func (l *AuditWindowLimiter) Allow(ctx context.Context, userID int64, op domain.Operation) error {
	q, ok := l.quotas[op]
	if !ok || q.Max <= 0 {
		return nil
	}

	now := l.now()
	hits, err := l.attempts.AttemptTimes(ctx, strconv.FormatInt(userID, 10), auditTypeOf(op), now.Add(-q.Window))
	if err != nil {
		return fmt.Errorf("count %s attempts: %w", op, err)
	}
	if len(hits) < q.Max {
		return nil
	}
	// The window admits a new attempt once len(hits)-Max+1 of them expire.
	return &domain.RateLimitError{
		UserID:     userID,
		Operation:  op,
		Limit:      q.Max,
		Window:     q.Window,
		RetryAfter: hits[len(hits)-q.Max].Add(q.Window).Sub(now),
	}
}

func auditTypeOf(op domain.Operation) domain.AuditEventType {
	if op == domain.OperationDelete {
		return domain.AuditGDPRErasure
	}
	return domain.AuditGDPRExport
}

// NewRateLimiter builds the limiter for a strategy name: "audit_log",
// "sliding_window" or "token_bucket". audit_log without an attempt log falls
// back to the in-memory sliding window.
func NewRateLimiter(strategy string, quotas map[domain.Operation]Quota, attempts AttemptLog) RateLimiter {
	switch {
	case strategy == "audit_log" && attempts != nil:
		return NewAuditWindowLimiter(attempts, quotas)
	case strategy == "token_bucket":
		return NewTokenBucketLimiter(quotas)
	}
	return NewSlidingWindowLimiter(quotas)
}
