package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"lexvault/internal/adapter/store/sqlite"
	"lexvault/internal/domain"
	"lexvault/internal/infra/config"
	"lexvault/internal/security"
	"lexvault/internal/usecase"
)

// app wires the storage adapter, security layer and use cases for one
// command invocation.
type app struct {
	store    *sqlite.Store
	enc      *security.AESEnvelopeEncryptor
	auditLog *sqlite.AuditLog
	audit    domain.AuditLogger // nil when auditing is disabled
	deleter  *sqlite.Deleter
	consent  *usecase.ConsentManager
	gdpr     *security.GDPRHandler
}

// openApp opens and migrates the database and builds every component from
// the loaded configuration.
func openApp(ctx context.Context) (*app, error) {
	store, err := sqlite.Open(cfg.Database.Path, sqlite.Options{
		BusyTimeout: cfg.Database.BusyTimeout,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}
	a := &app{store: store}

	if err := store.Migrate(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.enc, err = newEncryptor(cfg.Security.Encryption)
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.enc == nil {
		log.Warn("no encryption key configured; encrypted fields will be exported as stored")
	}

	a.auditLog = sqlite.NewAuditLog(store)
	if cfg.Security.Audit.Enabled {
		a.audit = security.NewComplianceAuditLogger(a.auditLog)
	}

	a.deleter, err = sqlite.NewDeleter(store)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.consent = usecase.NewConsentManager(sqlite.NewConsentStore(store), a.audit, log)

	// A nil *AESEnvelopeEncryptor must not become a non-nil interface.
	var contentEnc domain.ContentEncryptor
	if a.enc != nil {
		contentEnc = a.enc
	}
	exporter := sqlite.NewExporter(store, contentEnc)

	// The audit_log strategy counts earlier attempts in audit_logs, so quotas
	// bind across invocations of this command.
	limiter := security.NewRateLimiter(cfg.GDPR.RateLimit.Strategy, quotasFromConfig(cfg.GDPR.RateLimit), a.auditLog)
	opts := []security.GDPROption{
		security.WithRateLimiter(limiter),
		security.WithExportDir(cfg.GDPR.ExportDir),
		security.WithRequiredConsent(domain.ConsentType(cfg.GDPR.RequiredConsent)),
	}
	if a.audit != nil {
		opts = append(opts, security.WithAuditLogger(a.audit))
	}
	a.gdpr, err = security.NewGDPRHandler(exporter, a.deleter, a.consent, log, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close zeroes the key and closes the database.
func (a *app) Close() error {
	if a.enc != nil {
		a.enc.Zeroize()
	}
	return a.store.Close()
}

// newEncryptor builds the field encryptor from a raw hex key or a
// passphrase. It returns nil when no key material is configured.
func newEncryptor(ec config.EncryptionConfig) (*security.AESEnvelopeEncryptor, error) {
	switch {
	case ec.Key != "":
		raw, err := hex.DecodeString(ec.Key)
		if err != nil {
			return nil, fmt.Errorf("decode encryption key: %w", err)
		}
		return security.NewAESEnvelopeEncryptor(raw)
	case ec.Passphrase != "":
		return security.NewAESEnvelopeEncryptorFromPassphrase(ec.Passphrase, []byte(ec.Salt))
	}
	return nil, nil
}

// quotasFromConfig maps configured quotas onto limiter quotas. A zero Max
// leaves the operation unlimited.
func quotasFromConfig(rl config.RateLimitConfig) map[domain.Operation]security.Quota {
	quotas := make(map[domain.Operation]security.Quota, 2)
	if rl.Export.Max > 0 {
		quotas[domain.OperationExport] = security.Quota{Max: rl.Export.Max, Window: rl.Export.Window}
	}
	if rl.Delete.Max > 0 {
		quotas[domain.OperationDelete] = security.Quota{Max: rl.Delete.Max, Window: rl.Delete.Window}
	}
	return quotas
}
