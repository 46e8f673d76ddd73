package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexvault/internal/domain"
)

func TestConsentStore_GrantRevokeCheck(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := NewConsentStore(s)

	ok, err := c.HasActiveConsent(ctx, 7, domain.ConsentDataProcessing)
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := c.Grant(ctx, 7, domain.ConsentDataProcessing, "")
	require.NoError(t, err)
	assert.Equal(t, "1.0", rec.Version)
	assert.True(t, rec.Active())

	ok, err = c.HasActiveConsent(ctx, 7, domain.ConsentDataProcessing)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.HasActiveConsent(ctx, 7, domain.ConsentMarketing)
	require.NoError(t, err)
	assert.False(t, ok, "consent types are independent")

	n, err := c.Revoke(ctx, 7, domain.ConsentDataProcessing)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, err = c.HasActiveConsent(ctx, 7, domain.ConsentDataProcessing)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsentStore_RevokeWithoutGrant(t *testing.T) {
	_, err := NewConsentStore(newTestStore(t)).Revoke(context.Background(), 7, domain.ConsentMarketing)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConsentStore_GrantRejectsUnknownType(t *testing.T) {
	_, err := NewConsentStore(newTestStore(t)).Grant(context.Background(), 7, "telepathy", "1.0")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestConsentStore_HistoryIsKept(t *testing.T) {
	ctx := context.Background()
	c := NewConsentStore(newTestStore(t))
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	_, err := c.Grant(ctx, 7, domain.ConsentDataProcessing, "1.0")
	require.NoError(t, err)
	clock = clock.Add(time.Hour)
	_, err = c.Grant(ctx, 7, domain.ConsentDataProcessing, "2.0")
	require.NoError(t, err)
	clock = clock.Add(time.Hour)
	_, err = c.Revoke(ctx, 7, domain.ConsentDataProcessing)
	require.NoError(t, err)

	list, err := c.List(ctx, 7)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "2.0", list[0].Version, "newest first")
	require.NotNil(t, list[0].RevokedAt)
	assert.Equal(t, clock, *list[0].RevokedAt)

	assert.Equal(t, "1.0", list[1].Version)
	require.NotNil(t, list[1].RevokedAt, "superseded by the second grant")
	assert.Equal(t, clock.Add(-time.Hour), *list[1].RevokedAt)
	require.NotNil(t, list[1].GrantedAt)
	assert.Equal(t, clock.Add(-2*time.Hour), *list[1].GrantedAt)

	for _, r := range list {
		assert.False(t, r.Active())
	}
}
