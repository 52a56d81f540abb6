package config

import (
	"fmt"
	"time"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Kafka       KafkaConfig     `mapstructure:"kafka"`
	JWT         JWTConfig       `mapstructure:"jwt"`
	Security    SecurityConfig  `mapstructure:"security"`
	Verification VerificationConfig `mapstructure:"verification"`
	Audit       AuditConfig     `mapstructure:"audit"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// URL renders the postgres connection string used by pgx and the migrator.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr renders the host:port pair for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type KafkaConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Brokers    []string `mapstructure:"brokers"`
	AuditTopic string   `mapstructure:"audit_topic"`
}

type JWTConfig struct {
	Secret          string        `mapstructure:"secret"`
	Issuer          string        `mapstructure:"issuer"`
	Audience        string        `mapstructure:"audience"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	PurposeTokenTTL time.Duration `mapstructure:"purpose_token_ttl"`
}

type LockoutConfig struct {
	MaxFailedAttempts int           `mapstructure:"max_failed_attempts"`
	LockoutWindow     time.Duration `mapstructure:"lockout_window"`
}

type PasswordConfig struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
	// MaxConcurrentHashes bounds simultaneous argon2 operations so a login
	// burst cannot monopolise the CPU.
	MaxConcurrentHashes int `mapstructure:"max_concurrent_hashes"`
	ExpiryDays          int `mapstructure:"expiry_days"`
}

type SessionConfig struct {
	Timeout              time.Duration `mapstructure:"timeout"`
	MaxConcurrent        int           `mapstructure:"max_concurrent"`
	TouchInterval        time.Duration `mapstructure:"touch_interval"`
	TerminateOnUAChange  bool          `mapstructure:"terminate_on_ua_change"`
	MaxCountries         int           `mapstructure:"max_countries"`
	MinInterSessionSecs  int           `mapstructure:"min_inter_session_seconds"`
	MaxDurationHours     int           `mapstructure:"max_duration_hours"`
}

// RateLimitRule is one (limit, window) bucket.
type RateLimitRule struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type RateLimitConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Login         RateLimitRule `mapstructure:"login"`
	PasswordReset RateLimitRule `mapstructure:"password_reset"`
	API           RateLimitRule `mapstructure:"api"`
	CheckTimeout  time.Duration `mapstructure:"check_timeout"`

	SuspiciousThreshold       int           `mapstructure:"suspicious_threshold"`
	AutoBlacklistSuspiciousIPs bool          `mapstructure:"auto_blacklist_suspicious_ips"`
	BlacklistDuration         time.Duration `mapstructure:"blacklist_duration"`
}

type SecurityConfig struct {
	Lockout   LockoutConfig   `mapstructure:"lockout"`
	Password  PasswordConfig  `mapstructure:"password"`
	Session   SessionConfig   `mapstructure:"session"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	TOTPIssuer string         `mapstructure:"totp_issuer"`
	BlockedEmailDomains []string `mapstructure:"blocked_email_domains"`
}

type VerificationConfig struct {
	OTPExpiry     time.Duration `mapstructure:"otp_expiry"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	SendCooldown  time.Duration `mapstructure:"send_cooldown"`
	EmailDailyCap int           `mapstructure:"email_daily_cap"`
	SMSDailyCap   int           `mapstructure:"sms_daily_cap"`
}

type AuditConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
