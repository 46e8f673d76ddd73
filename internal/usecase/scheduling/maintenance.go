package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"lexvault/internal/domain"
)

// SessionPurger removes expired sessions.
type SessionPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// ChainVerifier checks the audit hash chain.
type ChainVerifier interface {
	Verify(ctx context.Context) (int, error)
}

// Maintenance holds the handlers behind the built-in actions. Nil
// collaborators leave their action unregistered.
type Maintenance struct {
	Sessions SessionPurger
	Chain    ChainVerifier
	Audit    domain.AuditLogger
	Logger   *slog.Logger
	Now      func() time.Time
}

// Register installs every action whose collaborator is set.
func (m *Maintenance) Register(s *Scheduler) {
	if m.Sessions != nil {
		s.RegisterAction(ActionSessionReap, m.ReapSessions)
	}
	if m.Chain != nil {
		s.RegisterAction(ActionAuditVerify, m.VerifyAudit)
	}
}

// ReapSessions deletes expired sessions and audits the count when any were
// removed.
func (m *Maintenance) ReapSessions(ctx context.Context) error {
	n, err := m.Sessions.PurgeExpired(ctx, m.now())
	if err != nil {
		return fmt.Errorf("reap sessions: %w", err)
	}
	if n == 0 || m.Audit == nil {
		return nil
	}
	err = m.Audit.Log(ctx, domain.AuditEvent{
		Type:         domain.AuditSessionReap,
		ResourceType: domain.ResourceSession,
		Success:      true,
		Details:      map[string]string{"purged": strconv.FormatInt(n, 10)},
	})
	if err != nil {
		m.logger().Warn("session reap audit write failed", "error", err)
	}
	return nil
}

// VerifyAudit walks the audit chain and fails on the first broken link.
func (m *Maintenance) VerifyAudit(ctx context.Context) error {
	n, err := m.Chain.Verify(ctx)
	if err != nil {
		m.logger().Error("audit chain verification failed", "verified", n, "error", err)
		return err
	}
	m.logger().Debug("audit chain verified", "entries", n)
	return nil
}

func (m *Maintenance) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Maintenance) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
