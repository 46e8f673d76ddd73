// Package integration exercises the GDPR stack end to end against a real
// SQLite database.
package integration

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"lexvault/internal/adapter/store/sqlite"
	"lexvault/internal/domain"
	"lexvault/internal/security"
	"lexvault/internal/usecase"
)

// Config holds integration test configuration from environment
type Config struct {
	TestTimeout time.Duration
	SkipSlow    bool
}

// LoadConfig loads integration test configuration from environment
func LoadConfig() *Config {
	return &Config{
		TestTimeout: 60 * time.Second,
		SkipSlow:    os.Getenv("SKIP_SLOW_TESTS") == "1",
	}
}

// SkipIfShort skips integration tests in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// Harness is the production wiring of the GDPR stack over a temporary
// database and export directory.
type Harness struct {
	Store     *sqlite.Store
	Enc       *security.AESEnvelopeEncryptor
	AuditLog  *sqlite.AuditLog
	Deleter   *sqlite.Deleter
	Consent   *usecase.ConsentManager
	GDPR      *security.GDPRHandler
	ExportDir string

	audit  domain.AuditLogger
	logger *slog.Logger
}

// NewHarness builds a harness. Extra options are applied after the
// defaults.
func NewHarness(t *testing.T, opts ...security.GDPROption) *Harness {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sqlite.Open(filepath.Join(dir, "lexvault.db"), sqlite.Options{Logger: logger})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	enc, err := security.NewAESEnvelopeEncryptor(bytes.Repeat([]byte{0x5a}, 32))
	if err != nil {
		t.Fatalf("encryptor: %v", err)
	}
	deleter, err := sqlite.NewDeleter(store)
	if err != nil {
		t.Fatalf("deleter: %v", err)
	}

	h := &Harness{
		Store:     store,
		Enc:       enc,
		AuditLog:  sqlite.NewAuditLog(store),
		Deleter:   deleter,
		ExportDir: filepath.Join(dir, "exports"),
		logger:    logger,
	}
	h.audit = security.NewComplianceAuditLogger(h.AuditLog)
	h.Consent = usecase.NewConsentManager(sqlite.NewConsentStore(store), h.audit, logger)
	h.GDPR = h.NewHandler(t, opts...)
	return h
}

// NewHandler builds another GDPR handler over the harness database, the way
// a separate command invocation would. It shares no in-memory state with
// h.GDPR.
func (h *Harness) NewHandler(t *testing.T, opts ...security.GDPROption) *security.GDPRHandler {
	t.Helper()
	all := append([]security.GDPROption{
		security.WithAuditLogger(h.audit),
		security.WithExportDir(h.ExportDir),
	}, opts...)
	g, err := security.NewGDPRHandler(sqlite.NewExporter(h.Store, h.Enc), h.Deleter, h.Consent, h.logger, all...)
	if err != nil {
		t.Fatalf("gdpr handler: %v", err)
	}
	return g
}

// Seeded names the rows SeedUser created.
type Seeded struct {
	UserID          int64
	CaseID          int64
	CaseDescription string
}

// SeedUser inserts a user with one case holding an encrypted description,
// two evidence rows and one chat conversation with one message.
func (h *Harness) SeedUser(t *testing.T, username string) Seeded {
	t.Helper()
	s := Seeded{CaseDescription: "Unfair dismissal claim for " + username}

	s.UserID = h.insert(t, `INSERT INTO users (username, email, password_hash, password_salt) VALUES (?, ?, 'h', 's')`,
		username, username+"@example.com")
	s.CaseID = h.insert(t, `INSERT INTO cases (user_id, title, description) VALUES (?, 'Employment', ?)`,
		s.UserID, h.encrypt(t, s.CaseDescription))
	h.insert(t, `INSERT INTO evidence (case_id, title, content) VALUES (?, 'Contract', ?)`, s.CaseID, h.encrypt(t, "signed 2024"))
	h.insert(t, `INSERT INTO evidence (case_id, title, content) VALUES (?, 'Emails', 'plain text evidence')`, s.CaseID)
	conv := h.insert(t, `INSERT INTO chat_conversations (user_id, case_id, title) VALUES (?, ?, 'Advice')`, s.UserID, s.CaseID)
	h.insert(t, `INSERT INTO chat_messages (conversation_id, role, content) VALUES (?, 'user', ?)`, conv, h.encrypt(t, "Was I dismissed fairly?"))
	return s
}

func (h *Harness) insert(t *testing.T, query string, args ...any) int64 {
	t.Helper()
	res, err := h.Store.DB().Exec(query, args...)
	if err != nil {
		t.Fatalf("%s: %v", query, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("last insert id: %v", err)
	}
	return id
}

func (h *Harness) encrypt(t *testing.T, plaintext string) string {
	t.Helper()
	stored, err := h.Enc.EncryptString(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	return stored
}

// AuditTypes returns the event types logged for userID, oldest first.
func (h *Harness) AuditTypes(t *testing.T, userID int64) []domain.AuditEventType {
	t.Helper()
	events, err := h.AuditLog.Query(context.Background(), domain.AuditFilter{UserID: strconv.FormatInt(userID, 10)})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	types := make([]domain.AuditEventType, len(events))
	for i, ev := range events {
		types[len(events)-1-i] = ev.Type
	}
	return types
}
