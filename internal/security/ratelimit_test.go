package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexvault/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func TestSlidingWindow_QuotaBoundary(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := NewSlidingWindowLimiter(DefaultQuotas())
	l.now = clock.Now

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow(ctx, 1, domain.OperationExport), "call %d", i+1)
		clock.Advance(time.Minute)
	}

	err := l.Allow(ctx, 1, domain.OperationExport)
	require.ErrorIs(t, err, domain.ErrRateLimit)

	var rle *domain.RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, 5, rle.Limit)
	assert.Equal(t, domain.OperationExport, rle.Operation)
	assert.Equal(t, 24*time.Hour-5*time.Minute, rle.RetryAfter)

	// The oldest hit leaves the window exactly 24h after it was recorded.
	clock.Advance(24*time.Hour - 5*time.Minute)
	assert.NoError(t, l.Allow(ctx, 1, domain.OperationExport))
}

func TestSlidingWindow_RejectedCallsDoNotCount(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := NewSlidingWindowLimiter(map[domain.Operation]Quota{
		domain.OperationDelete: {Max: 1, Window: time.Hour},
	})
	l.now = clock.Now

	require.NoError(t, l.Allow(ctx, 1, domain.OperationDelete))
	for i := 0; i < 3; i++ {
		clock.Advance(10 * time.Minute)
		require.ErrorIs(t, l.Allow(ctx, 1, domain.OperationDelete), domain.ErrRateLimit)
	}

	clock.Advance(30 * time.Minute)
	assert.NoError(t, l.Allow(ctx, 1, domain.OperationDelete))
}

func TestSlidingWindow_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := NewSlidingWindowLimiter(map[domain.Operation]Quota{
		domain.OperationExport: {Max: 1, Window: time.Hour},
		domain.OperationDelete: {Max: 1, Window: time.Hour},
	})

	require.NoError(t, l.Allow(ctx, 1, domain.OperationExport))
	assert.ErrorIs(t, l.Allow(ctx, 1, domain.OperationExport), domain.ErrRateLimit)

	assert.NoError(t, l.Allow(ctx, 2, domain.OperationExport), "other user")
	assert.NoError(t, l.Allow(ctx, 1, domain.OperationDelete), "other operation")
}

func TestSlidingWindow_NoQuotaMeansUnlimited(t *testing.T) {
	ctx := context.Background()
	l := NewSlidingWindowLimiter(nil)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Allow(ctx, 1, domain.OperationExport))
	}
	assert.Equal(t, 0, l.Len())
}

func TestSlidingWindow_Prune(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := NewSlidingWindowLimiter(map[domain.Operation]Quota{
		domain.OperationExport: {Max: 3, Window: time.Hour},
	})
	l.now = clock.Now

	require.NoError(t, l.Allow(ctx, 1, domain.OperationExport))
	clock.Advance(30 * time.Minute)
	require.NoError(t, l.Allow(ctx, 2, domain.OperationExport))
	assert.Equal(t, 2, l.Len())

	clock.Advance(45 * time.Minute)
	l.Prune()
	assert.Equal(t, 1, l.Len(), "user 1 idle for more than the window")
}

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := NewTokenBucketLimiter(map[domain.Operation]Quota{
		domain.OperationExport: {Max: 2, Window: 2 * time.Hour},
	})
	l.now = clock.Now

	require.NoError(t, l.Allow(ctx, 1, domain.OperationExport))
	require.NoError(t, l.Allow(ctx, 1, domain.OperationExport))

	err := l.Allow(ctx, 1, domain.OperationExport)
	require.ErrorIs(t, err, domain.ErrRateLimit)
	var rle *domain.RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.InDelta(t, time.Hour.Seconds(), rle.RetryAfter.Seconds(), 1)

	// One token refills per hour.
	clock.Advance(time.Hour)
	assert.NoError(t, l.Allow(ctx, 1, domain.OperationExport))
	assert.ErrorIs(t, l.Allow(ctx, 1, domain.OperationExport), domain.ErrRateLimit)
}

func TestTokenBucket_Prune(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := NewTokenBucketLimiter(map[domain.Operation]Quota{
		domain.OperationExport: {Max: 1, Window: time.Hour},
	})
	l.now = clock.Now

	require.NoError(t, l.Allow(ctx, 1, domain.OperationExport))
	l.Prune()
	assert.Len(t, l.limiters, 1)

	clock.Advance(2 * time.Hour)
	l.Prune()
	assert.Empty(t, l.limiters)
}

// fakeAttempts is an in-memory audit trail of GDPR attempts.
type fakeAttempts struct {
	entries []attempt
	since   time.Time
	err     error
}

type attempt struct {
	userID string
	typ    domain.AuditEventType
	at     time.Time
}

func (f *fakeAttempts) add(userID string, typ domain.AuditEventType, at time.Time) {
	f.entries = append(f.entries, attempt{userID: userID, typ: typ, at: at})
}

func (f *fakeAttempts) AttemptTimes(_ context.Context, userID string, typ domain.AuditEventType, since time.Time) ([]time.Time, error) {
	f.since = since
	if f.err != nil {
		return nil, f.err
	}
	var out []time.Time
	for _, e := range f.entries {
		if e.userID == userID && e.typ == typ && e.at.After(since) {
			out = append(out, e.at)
		}
	}
	return out, nil
}

func TestAuditWindow_QuotaBoundary(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	log := &fakeAttempts{}
	l := NewAuditWindowLimiter(log, DefaultQuotas())
	l.now = clock.Now

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow(ctx, 1, domain.OperationExport), "call %d", i+1)
		log.add("1", domain.AuditGDPRExport, clock.Now())
		clock.Advance(time.Minute)
	}

	err := l.Allow(ctx, 1, domain.OperationExport)
	require.ErrorIs(t, err, domain.ErrRateLimit)
	assert.Equal(t, clock.Now().Add(-24*time.Hour), log.since)
	var rle *domain.RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, 5, rle.Limit)
	assert.Equal(t, 24*time.Hour-5*time.Minute, rle.RetryAfter)

	clock.Advance(24*time.Hour - 5*time.Minute)
	assert.NoError(t, l.Allow(ctx, 1, domain.OperationExport))
}

func TestAuditWindow_CountsPerUserAndOperation(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	log := &fakeAttempts{}
	l := NewAuditWindowLimiter(log, DefaultQuotas())
	l.now = clock.Now

	log.add("1", domain.AuditGDPRErasure, clock.Now().Add(-time.Hour))
	log.add("2", domain.AuditGDPRExport, clock.Now().Add(-time.Hour))

	require.ErrorIs(t, l.Allow(ctx, 1, domain.OperationDelete), domain.ErrRateLimit)
	assert.NoError(t, l.Allow(ctx, 2, domain.OperationDelete), "other user")
	assert.NoError(t, l.Allow(ctx, 1, domain.OperationExport), "other operation")
}

func TestAuditWindow_RetryAfterWithOverflow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	log := &fakeAttempts{}
	l := NewAuditWindowLimiter(log, map[domain.Operation]Quota{
		domain.OperationExport: {Max: 2, Window: time.Hour},
	})
	l.now = clock.Now

	// Three attempts recorded, e.g. while the quota was higher.
	now := clock.Now()
	log.add("1", domain.AuditGDPRExport, now.Add(-50*time.Minute))
	log.add("1", domain.AuditGDPRExport, now.Add(-40*time.Minute))
	log.add("1", domain.AuditGDPRExport, now.Add(-30*time.Minute))

	err := l.Allow(ctx, 1, domain.OperationExport)
	var rle *domain.RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, 20*time.Minute, rle.RetryAfter)
}

func TestAuditWindow_LookupError(t *testing.T) {
	log := &fakeAttempts{err: domain.ErrStorage}
	l := NewAuditWindowLimiter(log, DefaultQuotas())

	err := l.Allow(context.Background(), 1, domain.OperationExport)
	require.ErrorIs(t, err, domain.ErrStorage)
	assert.NotErrorIs(t, err, domain.ErrRateLimit)
}

func TestNewRateLimiter(t *testing.T) {
	assert.IsType(t, &SlidingWindowLimiter{}, NewRateLimiter("", DefaultQuotas(), nil))
	assert.IsType(t, &SlidingWindowLimiter{}, NewRateLimiter("sliding_window", DefaultQuotas(), nil))
	assert.IsType(t, &TokenBucketLimiter{}, NewRateLimiter("token_bucket", DefaultQuotas(), nil))
	assert.IsType(t, &AuditWindowLimiter{}, NewRateLimiter("audit_log", DefaultQuotas(), &fakeAttempts{}))
	assert.IsType(t, &SlidingWindowLimiter{}, NewRateLimiter("audit_log", DefaultQuotas(), nil))
}
