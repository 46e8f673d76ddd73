package security

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kaptinlin/jsonschema"
	"gopkg.in/yaml.v3"

	"lexvault/internal/domain"
	"lexvault/internal/infra/tracer"
)

//go:embed schema/export.schema.json
var exportSchemaJSON []byte

// DefaultExportDir is where persisted exports land when no directory is configured.
const DefaultExportDir = "exports"

// GDPROption configures a GDPRHandler.
type GDPROption func(*GDPRHandler)

// WithRateLimiter replaces the default in-memory sliding window limiter.
func WithRateLimiter(l RateLimiter) GDPROption {
	return func(g *GDPRHandler) { g.limiter = l }
}

// WithAuditLogger sets the audit sink. Without one, attempts are not audited.
func WithAuditLogger(a domain.AuditLogger) GDPROption {
	return func(g *GDPRHandler) { g.audit = a }
}

// WithExportDir sets the directory persisted exports are written to.
func WithExportDir(dir string) GDPROption {
	return func(g *GDPRHandler) { g.exportDir = dir }
}

// WithRequiredConsent changes the consent type both operations require.
func WithRequiredConsent(t domain.ConsentType) GDPROption {
	return func(g *GDPRHandler) { g.requiredConsent = t }
}

// WithUserLocker shares a per-user lock with other components.
func WithUserLocker(l *UserLocker) GDPROption {
	return func(g *GDPRHandler) { g.locker = l }
}

// GDPRHandler provides GDPR data subject rights operations: data export
// (portability, Article 20) and erasure (right to be forgotten, Article 17).
// It applies rate limiting and consent checks around the storage exporter and
// deleter, and writes one audit entry per attempt.
type GDPRHandler struct {
	exporter domain.UserDataExporter
	deleter  domain.UserDataDeleter
	consent  domain.ConsentChecker
	limiter  RateLimiter
	audit    domain.AuditLogger
	locker   *UserLocker
	logger   *slog.Logger
	schema   *jsonschema.Schema
	now      func() time.Time

	exportDir       string
	requiredConsent domain.ConsentType
}

// NewGDPRHandler creates a GDPR handler over the given storage collaborators.
func NewGDPRHandler(
	exporter domain.UserDataExporter,
	deleter domain.UserDataDeleter,
	consent domain.ConsentChecker,
	logger *slog.Logger,
	opts ...GDPROption,
) (*GDPRHandler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	schema, err := jsonschema.NewCompiler().Compile(exportSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile export schema: %w", err)
	}

	g := &GDPRHandler{
		exporter:        exporter,
		deleter:         deleter,
		consent:         consent,
		limiter:         NewSlidingWindowLimiter(DefaultQuotas()),
		locker:          NewUserLocker(),
		logger:          logger,
		schema:          schema,
		now:             time.Now,
		exportDir:       DefaultExportDir,
		requiredConsent: domain.ConsentDataProcessing,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ExportUserData builds the portability document for userID and, when
// opts.SaveToFile is set, writes it under the export directory.
func (g *GDPRHandler) ExportUserData(ctx context.Context, userID int64, opts domain.ExportOptions) (*domain.ExportResult, error) {
	ctx, span := tracer.StartSpan(ctx, "gdpr.export")
	defer span.End()
	span.SetAttributes(tracer.Int64Attr("user.id", userID))

	if userID <= 0 {
		return nil, domain.NewDomainError("GDPRHandler.ExportUserData", domain.ErrInvalidInput, "user id must be positive")
	}

	unlock, err := g.locker.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res, err := g.export(ctx, userID, opts)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return res, nil
}

// export runs one audited export attempt. The caller holds the user lock.
func (g *GDPRHandler) export(ctx context.Context, userID int64, opts domain.ExportOptions) (*domain.ExportResult, error) {
	format, err := domain.ParseExportFormat(string(opts.Format))
	if err != nil {
		return nil, err
	}
	opts.Format = format

	res, err := g.runExport(ctx, userID, opts)
	if err != nil {
		g.logger.Warn("gdpr export failed", "user_id", userID, "error", err)
		g.writeAudit(ctx, domain.AuditEvent{
			Type:         domain.AuditGDPRExport,
			UserID:       userIDString(userID),
			Action:       string(domain.OperationExport),
			Success:      false,
			ErrorMessage: err.Error(),
			Details:      map[string]string{"errorCode": string(domain.ErrorCodeOf(err))},
		})
		return nil, err
	}

	details := map[string]string{
		"totalRecords": strconv.Itoa(res.Data.Metadata.TotalRecords),
		"format":       string(format),
	}
	if res.FilePath != "" {
		details["filePath"] = res.FilePath
	}
	if n := len(res.Data.Metadata.DecryptionFailures); n > 0 {
		details["decryptionFailures"] = strconv.Itoa(n)
	}
	g.writeAudit(ctx, domain.AuditEvent{
		Type:    domain.AuditGDPRExport,
		UserID:  userIDString(userID),
		Action:  string(domain.OperationExport),
		Success: true,
		Details: details,
	})

	g.logger.Info("gdpr export completed",
		"user_id", userID,
		"total_records", res.Data.Metadata.TotalRecords,
		"file", res.FilePath,
	)
	return res, nil
}

func (g *GDPRHandler) runExport(ctx context.Context, userID int64, opts domain.ExportOptions) (*domain.ExportResult, error) {
	if err := g.checkPreconditions(ctx, userID, domain.OperationExport); err != nil {
		return nil, err
	}

	data, err := g.exporter.ExportAllUserData(ctx, userID, opts)
	if err != nil {
		return nil, err
	}
	data.Metadata.Format = opts.Format

	res := &domain.ExportResult{Data: data}
	if opts.SaveToFile {
		path, err := g.persist(data, opts.Format)
		if err != nil {
			return nil, err
		}
		res.FilePath = path
	}
	return res, nil
}

// DeleteUserData erases every row userID owns. The audit trail and consent
// history are preserved, and the erasure itself is audited after commit so
// its entry survives.
func (g *GDPRHandler) DeleteUserData(ctx context.Context, userID int64, opts domain.DeleteOptions) (*domain.DeleteResult, error) {
	ctx, span := tracer.StartSpan(ctx, "gdpr.delete")
	defer span.End()
	span.SetAttributes(tracer.Int64Attr("user.id", userID))

	if userID <= 0 {
		return nil, domain.NewDomainError("GDPRHandler.DeleteUserData", domain.ErrInvalidInput, "user id must be positive")
	}
	if !opts.Confirmed {
		// Refused before the lock or the limiter; the deleter is never called.
		err := domain.NewDomainError("GDPRHandler.DeleteUserData", domain.ErrConfirmationRequired,
			"erasure must be explicitly confirmed")
		g.erasureFailed(ctx, userID, opts, err)
		return nil, err
	}

	unlock, err := g.locker.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res, err := g.runDelete(ctx, userID, opts)
	if err != nil {
		tracer.RecordError(span, err)
		g.logger.Warn("gdpr erasure failed", "user_id", userID, "error", err)
		g.erasureFailed(ctx, userID, opts, err)
		return nil, err
	}

	details := map[string]string{"deletedCounts": formatCounts(res.DeletedCounts)}
	if opts.Reason != "" {
		details["reason"] = opts.Reason
	}
	if res.ExportPath != "" {
		details["exportPath"] = res.ExportPath
	}
	if g.writeAudit(ctx, domain.AuditEvent{
		Type:    domain.AuditGDPRErasure,
		UserID:  userIDString(userID),
		Action:  string(domain.OperationDelete),
		Success: true,
		Details: details,
	}) {
		res.PreservedAuditLogs++
	}

	tracer.SetOK(span)
	g.logger.Info("gdpr erasure completed",
		"user_id", userID,
		"deleted_users", res.DeletedCounts["users"],
		"preserved_audit_logs", res.PreservedAuditLogs,
		"preserved_consents", res.PreservedConsents,
	)
	return res, nil
}

// erasureFailed audits a refused or failed erasure attempt.
func (g *GDPRHandler) erasureFailed(ctx context.Context, userID int64, opts domain.DeleteOptions, err error) {
	details := map[string]string{"errorCode": string(domain.ErrorCodeOf(err))}
	if opts.Reason != "" {
		details["reason"] = opts.Reason
	}
	g.writeAudit(ctx, domain.AuditEvent{
		Type:         domain.AuditGDPRErasure,
		UserID:       userIDString(userID),
		Action:       string(domain.OperationDelete),
		Success:      false,
		ErrorMessage: err.Error(),
		Details:      details,
	})
}

func (g *GDPRHandler) runDelete(ctx context.Context, userID int64, opts domain.DeleteOptions) (*domain.DeleteResult, error) {
	if err := g.checkPreconditions(ctx, userID, domain.OperationDelete); err != nil {
		return nil, err
	}

	var exportPath string
	if opts.ExportBeforeDelete {
		exp, err := g.export(ctx, userID, domain.ExportOptions{Format: domain.FormatJSON, SaveToFile: true})
		if err != nil {
			return nil, fmt.Errorf("export before delete: %w", err)
		}
		exportPath = exp.FilePath
	}

	res, err := g.deleter.DeleteAllUserData(ctx, userID, opts)
	if err != nil {
		return nil, err
	}
	res.ExportPath = exportPath
	return res, nil
}

// checkPreconditions applies the rate limit, then the consent requirement.
func (g *GDPRHandler) checkPreconditions(ctx context.Context, userID int64, op domain.Operation) error {
	if g.limiter != nil {
		if err := g.limiter.Allow(ctx, userID, op); err != nil {
			return err
		}
	}

	ok, err := g.consent.HasActiveConsent(ctx, userID, g.requiredConsent)
	if err != nil {
		return fmt.Errorf("check consent: %w", err)
	}
	if !ok {
		return domain.NewDomainError("GDPRHandler."+string(op), domain.ErrConsentRequired,
			fmt.Sprintf("active %s consent required", g.requiredConsent))
	}
	return nil
}

// persist validates the document and writes it atomically with 0600
// permissions. Nothing is left on disk if any step fails.
func (g *GDPRHandler) persist(data *domain.UserDataExport, format domain.ExportFormat) (string, error) {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal export: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("decode export for validation: %w", err)
	}
	if result := g.schema.Validate(doc); !result.IsValid() {
		return "", domain.NewDomainError("GDPRHandler.persist", domain.ErrInvalidInput, result.Error())
	}

	if format == domain.FormatYAML {
		if raw, err = yaml.Marshal(data); err != nil {
			return "", fmt.Errorf("marshal yaml export: %w", err)
		}
	}

	if err := os.MkdirAll(g.exportDir, 0700); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	name := fmt.Sprintf("user_%d_export_%d.%s", data.Metadata.UserID, g.now().UnixMilli(), format.Extension())
	path := filepath.Join(g.exportDir, name)

	tmp, err := os.CreateTemp(g.exportDir, ".export-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if err := tmp.Chmod(0600); err != nil {
		cleanup()
		return "", fmt.Errorf("chmod export file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		cleanup()
		return "", fmt.Errorf("write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close export file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename export file: %w", err)
	}
	return path, nil
}

// writeAudit logs event and reports whether it was stored. A failed audit
// write never fails the operation it describes.
func (g *GDPRHandler) writeAudit(ctx context.Context, event domain.AuditEvent) bool {
	if g.audit == nil {
		return false
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = g.now().UTC()
	}
	if event.ResourceType == "" {
		event.ResourceType = domain.ResourceUser
		event.ResourceID = event.UserID
	}
	if err := g.audit.Log(ctx, event); err != nil {
		g.logger.Warn("audit write failed",
			"event_type", string(event.Type),
			"user_id", event.UserID,
			"error", err,
		)
		return false
	}
	return true
}

func userIDString(id int64) string {
	return strconv.FormatInt(id, 10)
}

// formatCounts renders deleted counts as compact JSON for the audit details.
func formatCounts(counts map[string]int64) string {
	b, err := json.Marshal(counts)
	if err != nil {
		return ""
	}
	return string(b)
}
