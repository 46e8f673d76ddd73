package security

import (
	"context"
	"strings"
	"time"

	"lexvault/internal/domain"
)

// ComplianceAuditLogger wraps an AuditLogger so every entry carries the
// fields a regulator expects: timestamp, action and resource.
type ComplianceAuditLogger struct {
	inner domain.AuditLogger
	now   func() time.Time
}

// NewComplianceAuditLogger wraps an existing audit logger with compliance enforcement.
func NewComplianceAuditLogger(inner domain.AuditLogger) *ComplianceAuditLogger {
	return &ComplianceAuditLogger{inner: inner, now: time.Now}
}

// Log fills missing compliance fields and delegates to the inner logger.
func (c *ComplianceAuditLogger) Log(ctx context.Context, event domain.AuditEvent) error {
	if event.Type == "" {
		return domain.NewDomainError("ComplianceAuditLogger.Log", domain.ErrInvalidInput, "event type is required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = c.now().UTC()
	}

	// "gdpr.export" -> resource "user", action "export".
	category, verb, _ := strings.Cut(string(event.Type), ".")
	if event.Action == "" {
		event.Action = verb
	}
	if event.ResourceType == "" {
		event.ResourceType = resourceFor(category)
	}
	if event.ResourceID == "" && event.ResourceType == domain.ResourceUser {
		event.ResourceID = event.UserID
	}

	return c.inner.Log(ctx, event)
}

// Close delegates to the inner logger.
func (c *ComplianceAuditLogger) Close() error {
	return c.inner.Close()
}

func resourceFor(category string) string {
	switch category {
	case "gdpr":
		return domain.ResourceUser
	case "consent":
		return domain.ResourceConsent
	case "session":
		return domain.ResourceSession
	}
	return category
}
