package domain

import (
	"context"
	"time"
)

// AuditEventType classifies audit log entries.
type AuditEventType string

const (
	// GDPR data subject rights.
	AuditGDPRExport  AuditEventType = "gdpr.export"
	AuditGDPRErasure AuditEventType = "gdpr.erasure"

	// Consent history.
	AuditConsentGranted AuditEventType = "consent.granted"
	AuditConsentRevoked AuditEventType = "consent.revoked"

	// Housekeeping.
	AuditSessionReap AuditEventType = "session.reap"
)

// Resource types recorded on audit entries.
const (
	ResourceUser    = "user"
	ResourceConsent = "consent"
	ResourceSession = "session"
)

// AuditEvent represents a single auditable action. UserID is a loose
// reference: it outlives the user row it names.
type AuditEvent struct {
	ID           string            `json:"id,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Type         AuditEventType    `json:"eventType"`
	UserID       string            `json:"userId,omitempty"`
	ResourceType string            `json:"resourceType,omitempty"`
	ResourceID   string            `json:"resourceId,omitempty"`
	Action       string            `json:"action,omitempty"`
	Success      bool              `json:"success"`
	Details      map[string]string `json:"details,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`

	// Hash chain, filled by the sink.
	PreviousHash  string `json:"previousHash,omitempty"`
	IntegrityHash string `json:"integrityHash,omitempty"`
}

// AuditLogger writes audit events to a persistent, append-only log.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Close() error
}

// AuditFilter narrows an audit query. Zero values match everything.
type AuditFilter struct {
	UserID string
	Type   AuditEventType
	Limit  int
}
