package config

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateDatabase(cfg, ve)
	validateEncryption(cfg, ve)
	validateGDPR(cfg, ve)
	validateMaintenance(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateDatabase(cfg *Config, ve *ValidationError) {
	if strings.TrimSpace(cfg.Database.Path) == "" {
		ve.Add("database.path must not be empty")
	}
	if cfg.Database.BusyTimeout < 0 {
		ve.Add("database.busy_timeout must be >= 0")
	}
}

// MinSaltLen is the shortest accepted passphrase salt.
const MinSaltLen = 16

func validateEncryption(cfg *Config, ve *ValidationError) {
	enc := cfg.Security.Encryption
	if enc.Key != "" && enc.Passphrase != "" {
		ve.Add("security.encryption: set either key or passphrase, not both")
	}
	if enc.Key != "" && !strings.HasPrefix(enc.Key, secretPrefix) {
		if raw, err := hex.DecodeString(enc.Key); err != nil || len(raw) != 32 {
			ve.Add("security.encryption.key must be 64 hex characters (32 bytes)")
		}
	}
	if enc.Passphrase != "" && len(enc.Salt) < MinSaltLen {
		ve.Add("security.encryption.salt must be at least %d characters when a passphrase is set", MinSaltLen)
	}
}

var validFormats = map[string]bool{"json": true, "yaml": true}

var validConsentTypes = map[string]bool{
	"data_processing": true,
	"encryption":      true,
	"ai_processing":   true,
	"marketing":       true,
}

var validStrategies = map[string]bool{"audit_log": true, "sliding_window": true, "token_bucket": true}

func validateGDPR(cfg *Config, ve *ValidationError) {
	g := cfg.GDPR
	if strings.TrimSpace(g.ExportDir) == "" {
		ve.Add("gdpr.export_dir must not be empty")
	}
	if !validFormats[g.DefaultFormat] {
		ve.Add("gdpr.default_format %q is not supported (json, yaml)", g.DefaultFormat)
	}
	if !validConsentTypes[g.RequiredConsent] {
		ve.Add("gdpr.required_consent %q is not a known consent type", g.RequiredConsent)
	}
	if !validStrategies[g.RateLimit.Strategy] {
		ve.Add("gdpr.rate_limit.strategy %q is not supported (audit_log, sliding_window, token_bucket)", g.RateLimit.Strategy)
	}
	if g.RateLimit.Strategy == "audit_log" && !cfg.Security.Audit.Enabled {
		ve.Add("gdpr.rate_limit.strategy audit_log requires security.audit.enabled")
	}
	for name, q := range map[string]QuotaConfig{"export": g.RateLimit.Export, "delete": g.RateLimit.Delete} {
		if q.Max < 0 {
			ve.Add("gdpr.rate_limit.%s.max must be >= 0", name)
		}
		if q.Max > 0 && q.Window <= 0 {
			ve.Add("gdpr.rate_limit.%s.window must be > 0 when max is set", name)
		}
	}
}

var validActions = map[string]bool{"session_reap": true, "audit_verify": true}

func validateMaintenance(cfg *Config, ve *ValidationError) {
	if !cfg.Maintenance.Enabled {
		return
	}
	seen := make(map[string]bool)
	for i, task := range cfg.Maintenance.Tasks {
		if task.Name == "" {
			ve.Add("maintenance.tasks[%d].name must not be empty", i)
		} else if seen[task.Name] {
			ve.Add("maintenance.tasks[%d].name %q is duplicated", i, task.Name)
		}
		seen[task.Name] = true
		if task.Schedule == "" {
			ve.Add("maintenance.tasks[%d].schedule must not be empty", i)
		}
		if !validActions[task.Action] {
			ve.Add("maintenance.tasks[%d].action %q is not supported", i, task.Action)
		}
	}
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is not supported", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is not supported (text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is not supported (noop, stdout)", cfg.Tracer.Exporter)
	}
}
