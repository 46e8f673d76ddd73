package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"lexvault/internal/domain"
)

// ConsentManager records consent grants and revocations and audits every
// change. It satisfies domain.ConsentChecker so the GDPR handler can gate on
// it directly.
type ConsentManager struct {
	store  domain.ConsentStore
	audit  domain.AuditLogger
	logger *slog.Logger
}

// NewConsentManager creates a consent manager. audit may be nil.
func NewConsentManager(store domain.ConsentStore, audit domain.AuditLogger, logger *slog.Logger) *ConsentManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsentManager{store: store, audit: audit, logger: logger}
}

func (cm *ConsentManager) Grant(ctx context.Context, userID int64, consentType domain.ConsentType, version string) (*domain.ConsentRecord, error) {
	if userID <= 0 {
		return nil, domain.NewDomainError("ConsentManager.Grant", domain.ErrInvalidInput, "user id must be positive")
	}
	rec, err := cm.store.Grant(ctx, userID, consentType, version)
	if err != nil {
		cm.record(ctx, domain.AuditConsentGranted, userID, consentType, err, nil)
		return nil, fmt.Errorf("grant consent: %w", err)
	}
	cm.record(ctx, domain.AuditConsentGranted, userID, consentType, nil, map[string]string{
		"consentId": strconv.FormatInt(rec.ID, 10),
		"version":   rec.Version,
	})
	return rec, nil
}

func (cm *ConsentManager) Revoke(ctx context.Context, userID int64, consentType domain.ConsentType) error {
	if userID <= 0 {
		return domain.NewDomainError("ConsentManager.Revoke", domain.ErrInvalidInput, "user id must be positive")
	}
	n, err := cm.store.Revoke(ctx, userID, consentType)
	if err != nil {
		cm.record(ctx, domain.AuditConsentRevoked, userID, consentType, err, nil)
		return fmt.Errorf("revoke consent: %w", err)
	}
	cm.record(ctx, domain.AuditConsentRevoked, userID, consentType, nil, map[string]string{
		"revoked": strconv.FormatInt(n, 10),
	})
	return nil
}

// HasActiveConsent implements domain.ConsentChecker.
func (cm *ConsentManager) HasActiveConsent(ctx context.Context, userID int64, consentType domain.ConsentType) (bool, error) {
	return cm.store.HasActiveConsent(ctx, userID, consentType)
}

func (cm *ConsentManager) List(ctx context.Context, userID int64) ([]domain.ConsentRecord, error) {
	return cm.store.List(ctx, userID)
}

func (cm *ConsentManager) record(ctx context.Context, typ domain.AuditEventType, userID int64, consentType domain.ConsentType, opErr error, details map[string]string) {
	if cm.audit == nil {
		return
	}
	if details == nil {
		details = make(map[string]string)
	}
	details["consentType"] = string(consentType)

	ev := domain.AuditEvent{
		Type:         typ,
		UserID:       strconv.FormatInt(userID, 10),
		ResourceType: domain.ResourceConsent,
		ResourceID:   string(consentType),
		Success:      opErr == nil,
		Details:      details,
	}
	if opErr != nil {
		ev.ErrorMessage = opErr.Error()
	}
	if err := cm.audit.Log(ctx, ev); err != nil {
		cm.logger.Warn("consent audit write failed", "user_id", userID, "type", string(typ), "error", err)
	}
}
