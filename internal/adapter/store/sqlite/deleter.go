package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"lexvault/internal/domain"
	"lexvault/internal/infra/tracer"
)

// Deleter erases a user's rows from every table in the erasure plan inside
// one transaction. audit_logs and consents are never touched.
type Deleter struct {
	store *Store
	plan  []erasureTable
	now   func() time.Time
}

// NewDeleter builds a deleter over the declared erasure plan.
func NewDeleter(s *Store) (*Deleter, error) {
	plan, err := erasureOrder(erasureTables)
	if err != nil {
		return nil, err
	}
	return &Deleter{store: s, plan: plan, now: time.Now}, nil
}

// Order returns the table names in deletion order.
func (d *Deleter) Order() []string {
	names := make([]string, len(d.plan))
	for i, t := range d.plan {
		names[i] = t.Name
	}
	return names
}

// DeleteAllUserData implements domain.UserDataDeleter. Either every table is
// cleared for the user or, on any failure, nothing changes.
func (d *Deleter) DeleteAllUserData(ctx context.Context, userID int64, opts domain.DeleteOptions) (*domain.DeleteResult, error) {
	if !opts.Confirmed {
		return nil, domain.NewDomainError("Deleter.DeleteAllUserData", domain.ErrConfirmationRequired,
			"erasure must be explicitly confirmed")
	}

	ctx, span := tracer.StartSpan(ctx, "store.delete")
	defer span.End()

	var audits, consents int
	counts := make(map[string]int64, len(d.plan))
	err := withTx(ctx, d.store.db, func(ctx context.Context, tx dbtx) error {
		var err error
		if audits, err = countPreserved(ctx, tx, `SELECT COUNT(*) FROM audit_logs WHERE user_id = ?`, strconv.FormatInt(userID, 10)); err != nil {
			return err
		}
		if consents, err = countPreserved(ctx, tx, `SELECT COUNT(*) FROM consents WHERE user_id = ?`, userID); err != nil {
			return err
		}

		for _, t := range d.plan {
			res, err := tx.ExecContext(ctx, t.Delete, userID)
			if err != nil {
				return fmt.Errorf("delete %s: %w", t.Name, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("delete %s: rows affected: %w", t.Name, err)
			}
			counts[t.Name] = n
		}
		return nil
	})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%w: erase user %d: %w", domain.ErrStorage, userID, err)
	}

	tracer.SetOK(span)
	span.SetAttributes(tracer.Int64Attr("deleted.users", counts["users"]))
	d.store.logger.Debug("user data erased", slog.Int64("user_id", userID), slog.Any("counts", counts))

	return &domain.DeleteResult{
		Success:            true,
		DeletionDate:       d.now().UTC(),
		DeletedCounts:      counts,
		PreservedAuditLogs: audits,
		PreservedConsents:  consents,
	}, nil
}

func countPreserved(ctx context.Context, tx dbtx, query string, arg any) (int, error) {
	var n int
	if err := tx.QueryRowContext(ctx, query, arg).Scan(&n); err != nil {
		return 0, fmt.Errorf("count preserved rows: %w", err)
	}
	return n, nil
}
