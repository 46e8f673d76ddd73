package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"lexvault/internal/domain"
	"lexvault/internal/infra/tracer"
)

// AuditLog implements domain.AuditLogger on the audit_logs table. Each entry
// carries the hash of its predecessor so that edits and deletions are
// detected by Verify.
type AuditLog struct {
	store *Store
	now   func() time.Time
}

// NewAuditLog creates an audit log backed by s.
func NewAuditLog(s *Store) *AuditLog {
	return &AuditLog{store: s, now: time.Now}
}

// Log appends event to the chain.
func (a *AuditLog) Log(ctx context.Context, event domain.AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = a.now()
	}
	if event.ID == "" {
		event.ID = ulid.MustNew(ulid.Timestamp(event.Timestamp), ulid.DefaultEntropy()).String()
	}
	details, err := encodeDetails(event.Details)
	if err != nil {
		return domain.NewDomainError("AuditLog.Log", domain.ErrAuditWrite, err.Error())
	}
	row := auditRow{
		ID:           event.ID,
		Timestamp:    formatTime(event.Timestamp),
		EventType:    string(event.Type),
		UserID:       event.UserID,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		Action:       event.Action,
		Details:      details,
		Success:      event.Success,
		ErrorMessage: event.ErrorMessage,
	}

	err = withTx(ctx, a.store.db, func(ctx context.Context, tx dbtx) error {
		var prev sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT integrity_hash FROM audit_logs ORDER BY rowid DESC LIMIT 1`,
		).Scan(&prev)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		row.PreviousHash = prev.String
		row.IntegrityHash = row.hash()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO audit_logs (id, timestamp, event_type, user_id, resource_type, resource_id,
				action, details, success, error_message, previous_hash, integrity_hash, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.ID, row.Timestamp, row.EventType, nullString(row.UserID), nullString(row.ResourceType),
			nullString(row.ResourceID), nullString(row.Action), nullString(row.Details), row.Success,
			nullString(row.ErrorMessage), nullString(row.PreviousHash), row.IntegrityHash, formatTime(a.now()),
		)
		return err
	})
	if err != nil {
		return domain.NewDomainError("AuditLog.Log", domain.ErrAuditWrite, err.Error())
	}

	tracer.AddEvent(ctx, "audit."+row.EventType,
		tracer.StringAttr("audit.id", row.ID),
		tracer.StringAttr("audit.user_id", row.UserID),
		tracer.BoolAttr("audit.success", row.Success),
	)
	return nil
}

// CountForUser returns the number of entries naming userID.
func (a *AuditLog) CountForUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := a.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count audit entries: %w", domain.ErrStorage, err)
	}
	return n, nil
}

// AttemptTimes returns, oldest first, the timestamps of eventType entries for
// userID recorded after since. Attempts refused before any work started
// (rate limited or unconfirmed) are left out.
func (a *AuditLog) AttemptTimes(ctx context.Context, userID string, eventType domain.AuditEventType, since time.Time) ([]time.Time, error) {
	rows, err := a.store.db.QueryContext(ctx,
		`SELECT timestamp FROM audit_logs
		 WHERE user_id = ? AND event_type = ? AND timestamp > ?
		   AND COALESCE(json_extract(details, '$.errorCode'), '') NOT IN (?, ?)
		 ORDER BY timestamp ASC, rowid ASC`,
		userID, string(eventType), formatTime(since),
		string(domain.CodeRateLimit), string(domain.CodeConfirmationRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s attempts: %w", domain.ErrStorage, eventType, err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts string
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("%w: scan attempt: %w", domain.ErrStorage, err)
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrStorage, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read %s attempts: %w", domain.ErrStorage, eventType, err)
	}
	return out, nil
}

// Query returns entries matching f, newest first.
func (a *AuditLog) Query(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEvent, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Type != "" {
		where = append(where, "event_type = ?")
		args = append(args, string(f.Type))
	}

	q := `SELECT ` + auditColumns + ` FROM audit_logs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY rowid DESC"
	if f.Limit > 0 {
		q += " LIMIT " + strconv.Itoa(f.Limit)
	}

	rows, err := a.store.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query audit log: %w", domain.ErrStorage, err)
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		row, err := scanAuditRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan audit entry: %w", domain.ErrStorage, err)
		}
		ev, err := row.event()
		if err != nil {
			return nil, fmt.Errorf("%w: audit entry %s: %w", domain.ErrStorage, row.ID, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: query audit log: %w", domain.ErrStorage, err)
	}
	return out, nil
}

// Verify walks the chain from the first entry and returns how many entries
// checked out. A broken link returns domain.ErrAuditTampered naming the
// first bad entry.
func (a *AuditLog) Verify(ctx context.Context) (int, error) {
	rows, err := a.store.db.QueryContext(ctx, `SELECT `+auditColumns+` FROM audit_logs ORDER BY rowid ASC`)
	if err != nil {
		return 0, fmt.Errorf("%w: read audit log: %w", domain.ErrStorage, err)
	}
	defer rows.Close()

	var (
		prev string
		n    int
	)
	for rows.Next() {
		row, err := scanAuditRow(rows)
		if err != nil {
			return n, fmt.Errorf("%w: scan audit entry: %w", domain.ErrStorage, err)
		}
		if row.PreviousHash != prev {
			return n, domain.NewDomainError("AuditLog.Verify", domain.ErrAuditTampered,
				fmt.Sprintf("entry %s does not link to its predecessor", row.ID))
		}
		if row.hash() != row.IntegrityHash {
			return n, domain.NewDomainError("AuditLog.Verify", domain.ErrAuditTampered,
				fmt.Sprintf("entry %s was modified", row.ID))
		}
		prev = row.IntegrityHash
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("%w: read audit log: %w", domain.ErrStorage, err)
	}
	return n, nil
}

// Close is a no-op; the store owns the database handle.
func (a *AuditLog) Close() error { return nil }

const auditColumns = `id, timestamp, event_type, user_id, resource_type, resource_id, action,
	details, success, error_message, previous_hash, integrity_hash`

type auditRow struct {
	ID            string
	Timestamp     string
	EventType     string
	UserID        string
	ResourceType  string
	ResourceID    string
	Action        string
	Details       string
	Success       bool
	ErrorMessage  string
	PreviousHash  string
	IntegrityHash string
}

// hash covers every stored field except the hash itself.
func (r auditRow) hash() string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{
		r.ID, r.Timestamp, r.EventType, r.UserID, r.ResourceType, r.ResourceID,
		r.Action, r.Details, strconv.FormatBool(r.Success), r.ErrorMessage, r.PreviousHash,
	}, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

func (r auditRow) event() (domain.AuditEvent, error) {
	ts, err := parseTime(r.Timestamp)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	ev := domain.AuditEvent{
		ID:            r.ID,
		Timestamp:     ts,
		Type:          domain.AuditEventType(r.EventType),
		UserID:        r.UserID,
		ResourceType:  r.ResourceType,
		ResourceID:    r.ResourceID,
		Action:        r.Action,
		Success:       r.Success,
		ErrorMessage:  r.ErrorMessage,
		PreviousHash:  r.PreviousHash,
		IntegrityHash: r.IntegrityHash,
	}
	if r.Details != "" {
		if err := json.Unmarshal([]byte(r.Details), &ev.Details); err != nil {
			return domain.AuditEvent{}, fmt.Errorf("decode details: %w", err)
		}
	}
	return ev, nil
}

func scanAuditRow(rows *sql.Rows) (auditRow, error) {
	var (
		r                              auditRow
		userID, resType, resID, action sql.NullString
		details, errMsg, prev          sql.NullString
	)
	err := rows.Scan(&r.ID, &r.Timestamp, &r.EventType, &userID, &resType, &resID, &action,
		&details, &r.Success, &errMsg, &prev, &r.IntegrityHash)
	if err != nil {
		return r, err
	}
	r.UserID = userID.String
	r.ResourceType = resType.String
	r.ResourceID = resID.String
	r.Action = action.String
	r.Details = details.String
	r.ErrorMessage = errMsg.String
	r.PreviousHash = prev.String
	return r, nil
}

// encodeDetails returns the canonical JSON form of details; map keys are
// sorted by encoding/json so the hash is stable.
func encodeDetails(details map[string]string) (string, error) {
	if len(details) == 0 {
		return "", nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
