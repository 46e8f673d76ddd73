package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lexvault/internal/domain"
)

// ConsentStore keeps the consent history in the consents table. Rows are
// never deleted: a revoke stamps revoked_at on the live grant.
type ConsentStore struct {
	store *Store
	now   func() time.Time
}

// NewConsentStore creates a consent store.
func NewConsentStore(s *Store) *ConsentStore {
	return &ConsentStore{store: s, now: time.Now}
}

// Grant records a new grant. An existing live grant of the same type is
// superseded so that at most one is active.
func (c *ConsentStore) Grant(ctx context.Context, userID int64, consentType domain.ConsentType, version string) (*domain.ConsentRecord, error) {
	if !consentType.Valid() {
		return nil, domain.NewDomainError("ConsentStore.Grant", domain.ErrInvalidInput, "unknown consent type "+string(consentType))
	}
	if version == "" {
		version = "1.0"
	}

	now := c.now().UTC()
	stamp := formatTime(now)
	var id int64
	err := withTx(ctx, c.store.db, func(ctx context.Context, tx dbtx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE consents SET revoked_at = ?
			 WHERE user_id = ? AND consent_type = ? AND granted = 1 AND revoked_at IS NULL`,
			stamp, userID, string(consentType),
		); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO consents (user_id, consent_type, granted, granted_at, version, created_at)
			 VALUES (?, ?, 1, ?, ?, ?)`,
			userID, string(consentType), stamp, version, stamp,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: grant consent: %w", domain.ErrStorage, err)
	}

	granted := now.Truncate(time.Millisecond)
	return &domain.ConsentRecord{
		ID:          id,
		UserID:      userID,
		ConsentType: consentType,
		Granted:     true,
		GrantedAt:   &granted,
		Version:     version,
		CreatedAt:   granted,
	}, nil
}

// Revoke stamps every live grant of consentType and returns how many were
// revoked. It returns domain.ErrNotFound when there was nothing to revoke.
func (c *ConsentStore) Revoke(ctx context.Context, userID int64, consentType domain.ConsentType) (int64, error) {
	res, err := c.store.db.ExecContext(ctx,
		`UPDATE consents SET revoked_at = ?
		 WHERE user_id = ? AND consent_type = ? AND granted = 1 AND revoked_at IS NULL`,
		formatTime(c.now()), userID, string(consentType),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: revoke consent: %w", domain.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: revoke consent: %w", domain.ErrStorage, err)
	}
	if n == 0 {
		return 0, domain.NewDomainError("ConsentStore.Revoke", domain.ErrNotFound,
			fmt.Sprintf("no active %s consent for user %d", consentType, userID))
	}
	return n, nil
}

// HasActiveConsent implements domain.ConsentChecker.
func (c *ConsentStore) HasActiveConsent(ctx context.Context, userID int64, consentType domain.ConsentType) (bool, error) {
	var one int
	err := c.store.db.QueryRowContext(ctx,
		`SELECT 1 FROM consents
		 WHERE user_id = ? AND consent_type = ? AND granted = 1 AND revoked_at IS NULL
		 LIMIT 1`,
		userID, string(consentType),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: check consent: %w", domain.ErrStorage, err)
	}
	return true, nil
}

// List returns the user's full consent history, newest first.
func (c *ConsentStore) List(ctx context.Context, userID int64) ([]domain.ConsentRecord, error) {
	rows, err := c.store.db.QueryContext(ctx,
		`SELECT id, user_id, consent_type, granted, granted_at, revoked_at, version, created_at
		 FROM consents WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list consents: %w", domain.ErrStorage, err)
	}
	defer rows.Close()

	var out []domain.ConsentRecord
	for rows.Next() {
		var (
			r                    domain.ConsentRecord
			consentType, created string
			grantedAt, revokedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.UserID, &consentType, &r.Granted, &grantedAt, &revokedAt, &r.Version, &created); err != nil {
			return nil, fmt.Errorf("%w: scan consent: %w", domain.ErrStorage, err)
		}
		r.ConsentType = domain.ConsentType(consentType)
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("%w: consent %d: %w", domain.ErrStorage, r.ID, err)
		}
		if r.GrantedAt, err = parseNullTime(grantedAt); err != nil {
			return nil, fmt.Errorf("%w: consent %d: %w", domain.ErrStorage, r.ID, err)
		}
		if r.RevokedAt, err = parseNullTime(revokedAt); err != nil {
			return nil, fmt.Errorf("%w: consent %d: %w", domain.ErrStorage, r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list consents: %w", domain.ErrStorage, err)
	}
	return out, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
