package sqlite

import (
	"context"
	"fmt"
	"time"

	"lexvault/internal/domain"
)

// PurgeExpired deletes sessions that expired at or before now and returns
// how many were removed.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("%w: purge sessions: %w", domain.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: purge sessions: %w", domain.ErrStorage, err)
	}
	if n > 0 {
		s.logger.Debug("expired sessions purged", "count", n)
	}
	return n, nil
}
