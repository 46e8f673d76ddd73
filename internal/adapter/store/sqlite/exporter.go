package sqlite

import (
	"context"
	"fmt"
	"time"

	"lexvault/internal/domain"
	"lexvault/internal/infra/tracer"
	"lexvault/internal/security"
)

// exportSection reads one table's rows for a user. Query takes the user id
// as its single argument. Encrypted lists columns that may hold envelopes.
type exportSection struct {
	Key       string
	Query     string
	Encrypted []string
}

// exportSections is the portability document layout, in output order.
var exportSections = []exportSection{
	{
		Key: "profile",
		// Credentials are never exported.
		Query: `SELECT id, username, email, role, is_active, created_at, updated_at, last_login_at
			FROM users WHERE id = ?`,
	},
	{
		Key:       "cases",
		Query:     `SELECT * FROM cases WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		Encrypted: []string{"description"},
	},
	{
		Key: "evidence",
		Query: `SELECT e.* FROM evidence e JOIN cases c ON c.id = e.case_id
			WHERE c.user_id = ? ORDER BY e.created_at DESC, e.id DESC`,
		Encrypted: []string{"content"},
	},
	{
		Key: "legal_issues",
		Query: `SELECT li.* FROM legal_issues li JOIN cases c ON c.id = li.case_id
			WHERE c.user_id = ? ORDER BY li.created_at DESC, li.id DESC`,
		Encrypted: []string{"description"},
	},
	{
		Key: "timeline_events",
		Query: `SELECT te.* FROM timeline_events te JOIN cases c ON c.id = te.case_id
			WHERE c.user_id = ? ORDER BY te.event_date DESC, te.id DESC`,
		Encrypted: []string{"description"},
	},
	{
		Key: "actions",
		Query: `SELECT a.* FROM actions a JOIN cases c ON c.id = a.case_id
			WHERE c.user_id = ? ORDER BY a.created_at DESC, a.id DESC`,
		Encrypted: []string{"description"},
	},
	{
		Key: "notes",
		Query: `SELECT n.* FROM notes n JOIN cases c ON c.id = n.case_id
			WHERE c.user_id = ? ORDER BY n.created_at DESC, n.id DESC`,
		Encrypted: []string{"content"},
	},
	{
		Key:   "chat_conversations",
		Query: `SELECT * FROM chat_conversations WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
	},
	{
		Key: "chat_messages",
		Query: `SELECT m.* FROM chat_messages m JOIN chat_conversations cc ON cc.id = m.conversation_id
			WHERE cc.user_id = ? ORDER BY m.created_at DESC, m.id DESC`,
		Encrypted: []string{"content", "thinking_content"},
	},
	{
		Key:       "user_facts",
		Query:     `SELECT * FROM user_facts WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		Encrypted: []string{"fact_content"},
	},
	{
		Key: "case_facts",
		Query: `SELECT cf.* FROM case_facts cf JOIN cases c ON c.id = cf.case_id
			WHERE c.user_id = ? ORDER BY cf.created_at DESC, cf.id DESC`,
		Encrypted: []string{"fact_content"},
	},
	{
		Key: "sessions",
		// The session id is a bearer token and stays out of the export.
		Query: `SELECT user_id, expires_at, remember_me, ip_address, user_agent, created_at
			FROM sessions WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`,
	},
	{
		Key:   "consents",
		Query: `SELECT * FROM consents WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
	},
}

// ExportSectionKeys lists the userData keys every export carries.
func ExportSectionKeys() []string {
	keys := make([]string, len(exportSections))
	for i, s := range exportSections {
		keys[i] = s.Key
	}
	return keys
}

// Exporter reads every row a user owns and decrypts envelope fields.
type Exporter struct {
	store *Store
	enc   domain.ContentEncryptor
	now   func() time.Time
}

// NewExporter creates an exporter. enc may be nil, in which case envelopes
// are exported as stored and reported as decryption failures.
func NewExporter(s *Store, enc domain.ContentEncryptor) *Exporter {
	return &Exporter{store: s, enc: enc, now: time.Now}
}

// ExportAllUserData implements domain.UserDataExporter. All reads share one
// transaction so a concurrent erasure is seen entirely or not at all.
func (e *Exporter) ExportAllUserData(ctx context.Context, userID int64, opts domain.ExportOptions) (*domain.UserDataExport, error) {
	ctx, span := tracer.StartSpan(ctx, "store.export")
	defer span.End()

	format := opts.Format
	if format == "" {
		format = domain.FormatJSON
	}
	out := &domain.UserDataExport{
		Metadata: domain.ExportMetadata{
			ExportDate: e.now().UTC(),
			UserID:     userID,
			Format:     format,
		},
		UserData: make(map[string]*domain.TableExport, len(exportSections)),
	}

	err := withTx(ctx, e.store.db, func(ctx context.Context, tx dbtx) error {
		out.Metadata.SchemaVersion = schemaVersion(ctx, tx)
		for _, sec := range exportSections {
			records, err := queryRecords(ctx, tx, sec.Query, userID)
			if err != nil {
				return fmt.Errorf("export %s: %w", sec.Key, err)
			}
			for _, rec := range records {
				out.Metadata.DecryptionFailures = append(out.Metadata.DecryptionFailures,
					e.decryptRecord(sec, rec)...)
			}
			out.UserData[sec.Key] = &domain.TableExport{Records: records, Count: len(records)}
			out.Metadata.TotalRecords += len(records)
		}
		return nil
	})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%w: export user %d: %w", domain.ErrStorage, userID, err)
	}

	if n := len(out.Metadata.DecryptionFailures); n > 0 {
		e.store.logger.Warn("export contains undecryptable fields", "user_id", userID, "fields", n)
	}
	span.SetAttributes(tracer.IntAttr("export.records", out.Metadata.TotalRecords))
	tracer.SetOK(span)
	return out, nil
}

// decryptRecord replaces envelope values in rec with their plaintext and
// reports the fields that could not be opened.
func (e *Exporter) decryptRecord(sec exportSection, rec domain.Record) []domain.DecryptionFailure {
	var failures []domain.DecryptionFailure
	for _, col := range sec.Encrypted {
		stored, ok := rec[col].(string)
		if !ok {
			continue
		}
		res := security.DecryptField(e.enc, stored)
		switch res.Outcome {
		case security.FieldDecrypted:
			rec[col] = res.Value
		case security.FieldDecryptFailed:
			failures = append(failures, domain.DecryptionFailure{Table: sec.Key, RecordID: rec["id"], Field: col})
		}
	}
	return failures
}

// queryRecords scans every row of query into column-keyed records.
func queryRecords(ctx context.Context, q dbtx, query string, args ...any) ([]domain.Record, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := []domain.Record{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(domain.Record, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[c] = string(b)
				continue
			}
			rec[c] = values[i]
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
