package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"lexvault/internal/domain"
)

// Env var names. Every override uses the LEXVAULT_ prefix.
const (
	EnvConfigKey = "LEXVAULT_CONFIG_KEY"
	envPrefix    = "LEXVAULT_"
	secretPrefix = "enc:"
)

// Config is the root configuration of lexvault.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Security    SecurityConfig    `yaml:"security"`
	GDPR        GDPRConfig        `yaml:"gdpr"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logger      LoggerConfig      `yaml:"logger"`
	Tracer      TracerConfig      `yaml:"tracer"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// SecurityConfig holds encryption and audit settings.
type SecurityConfig struct {
	Encryption EncryptionConfig `yaml:"encryption"`
	Audit      AuditConfig      `yaml:"audit"`
}

// EncryptionConfig holds the field encryption key. Either Key (64 hex chars)
// or Passphrase plus Salt must be set for encrypted fields to be readable.
// Both secrets may be stored as "enc:..." values.
type EncryptionConfig struct {
	Key        string `yaml:"key,omitempty"`
	Passphrase string `yaml:"passphrase,omitempty"`
	Salt       string `yaml:"salt,omitempty"`
}

// Configured reports whether any key material is present.
func (e EncryptionConfig) Configured() bool {
	return e.Key != "" || e.Passphrase != ""
}

// AuditConfig holds audit log settings.
type AuditConfig struct {
	Enabled       bool `yaml:"enabled"`
	VerifyOnStart bool `yaml:"verify_on_start"`
}

// GDPRConfig holds data subject rights settings.
type GDPRConfig struct {
	ExportDir       string          `yaml:"export_dir"`
	DefaultFormat   string          `yaml:"default_format"`
	RequiredConsent string          `yaml:"required_consent"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig selects the limiter strategy and per-operation quotas.
type RateLimitConfig struct {
	Strategy string      `yaml:"strategy"` // "audit_log", "sliding_window" or "token_bucket"
	Export   QuotaConfig `yaml:"export"`
	Delete   QuotaConfig `yaml:"delete"`
}

// QuotaConfig allows Max operations per Window. Max 0 disables the limit.
type QuotaConfig struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// MaintenanceConfig holds the background task schedule run by the daemon.
type MaintenanceConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Tasks   []ScheduledTaskConfig `yaml:"tasks"`
}

// ScheduledTaskConfig defines a single scheduled task.
type ScheduledTaskConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron expression or duration string
	Action   string `yaml:"action"`
	OneShot  bool   `yaml:"one_shot,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "lexvault.db",
			BusyTimeout: 5 * time.Second,
		},
		Security: SecurityConfig{
			Audit: AuditConfig{Enabled: true},
		},
		GDPR: GDPRConfig{
			ExportDir:       "exports",
			DefaultFormat:   "json",
			RequiredConsent: "data_processing",
			RateLimit: RateLimitConfig{
				Strategy: "audit_log",
				Export:   QuotaConfig{Max: 5, Window: 24 * time.Hour},
				Delete:   QuotaConfig{Max: 1, Window: 24 * time.Hour},
			},
		},
		Maintenance: MaintenanceConfig{
			Enabled: true,
			Tasks: []ScheduledTaskConfig{
				{Name: "reap-expired-sessions", Schedule: "@every 1h", Action: "session_reap"},
				{Name: "verify-audit-chain", Schedule: "@daily", Action: "audit_verify"},
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, decrypts secrets
// and validates the result. A missing file yields the defaults. Errors match
// domain.ErrConfigLoad.
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, domain.WrapOp("config.Load", fmt.Errorf("%w: %w", domain.ErrConfigLoad, err))
	}
	return cfg, nil
}

func load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults plus environment.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv(EnvConfigKey); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps LEXVAULT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(envPrefix + name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	quota := func(name string, dst *QuotaConfig) {
		if v := os.Getenv(envPrefix + name + "_MAX"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				dst.Max = n
			}
		}
		if v := os.Getenv(envPrefix + name + "_WINDOW"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				dst.Window = d
			}
		}
	}

	str("DB_PATH", &cfg.Database.Path)
	str("ENCRYPTION_KEY", &cfg.Security.Encryption.Key)
	str("ENCRYPTION_PASSPHRASE", &cfg.Security.Encryption.Passphrase)
	str("ENCRYPTION_SALT", &cfg.Security.Encryption.Salt)
	boolean("AUDIT_ENABLED", &cfg.Security.Audit.Enabled)
	str("EXPORT_DIR", &cfg.GDPR.ExportDir)
	str("EXPORT_FORMAT", &cfg.GDPR.DefaultFormat)
	str("RATE_LIMIT_STRATEGY", &cfg.GDPR.RateLimit.Strategy)
	quota("RATE_LIMIT_EXPORT", &cfg.GDPR.RateLimit.Export)
	quota("RATE_LIMIT_DELETE", &cfg.GDPR.RateLimit.Delete)
	boolean("MAINTENANCE_ENABLED", &cfg.Maintenance.Enabled)
	str("LOGGER_LEVEL", &cfg.Logger.Level)
	str("LOGGER_FORMAT", &cfg.Logger.Format)
	str("LOGGER_OUTPUT", &cfg.Logger.Output)
	boolean("TRACER_ENABLED", &cfg.Tracer.Enabled)
	str("TRACER_EXPORTER", &cfg.Tracer.Exporter)
}

// decryptSecrets replaces "enc:..." values with their plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := map[string]*string{
		"security.encryption.key":        &cfg.Security.Encryption.Key,
		"security.encryption.passphrase": &cfg.Security.Encryption.Passphrase,
	}
	for name, fp := range secrets {
		if !strings.HasPrefix(*fp, secretPrefix) {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*fp, secretPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*fp = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
// The result is hex(salt) + ":" + hex(nonce+ciphertext); prefix it with
// "enc:" to store it in the config file.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptValue reverses EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others. The
// file may hold key material.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
