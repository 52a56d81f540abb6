package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional yaml file plus IDENTITY_*
// environment variables, with spec defaults applied first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	setDefaults()

	env := strings.ToLower(os.Getenv("APP_ENV"))
	if env == "" {
		env = "development"
	}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName(fmt.Sprintf("config.%s", env))
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/identity-service")
	}

	viper.SetEnvPrefix("IDENTITY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Environment = env

	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt.secret is required")
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.idle_timeout", "60s")
	viper.SetDefault("server.shutdown_timeout", "15s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)

	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.audit_topic", "identity.audit")

	viper.SetDefault("jwt.issuer", "identity-service")
	viper.SetDefault("jwt.audience", "schoolcore")
	viper.SetDefault("jwt.access_token_ttl", "15m")
	viper.SetDefault("jwt.refresh_token_ttl", "168h")
	viper.SetDefault("jwt.purpose_token_ttl", "15m")

	viper.SetDefault("security.lockout.max_failed_attempts", 5)
	viper.SetDefault("security.lockout.lockout_window", "30m")

	viper.SetDefault("security.password.memory", 65536)
	viper.SetDefault("security.password.iterations", 3)
	viper.SetDefault("security.password.parallelism", 2)
	viper.SetDefault("security.password.salt_length", 16)
	viper.SetDefault("security.password.key_length", 32)
	viper.SetDefault("security.password.max_concurrent_hashes", 8)
	viper.SetDefault("security.password.expiry_days", 90)

	viper.SetDefault("security.session.timeout", "30m")
	viper.SetDefault("security.session.max_concurrent", 5)
	viper.SetDefault("security.session.touch_interval", "1m")
	viper.SetDefault("security.session.terminate_on_ua_change", true)
	viper.SetDefault("security.session.max_countries", 5)
	viper.SetDefault("security.session.min_inter_session_seconds", 60)
	viper.SetDefault("security.session.max_duration_hours", 24)

	viper.SetDefault("security.rate_limit.enabled", true)
	viper.SetDefault("security.rate_limit.login.limit", 5)
	viper.SetDefault("security.rate_limit.login.window", "300s")
	viper.SetDefault("security.rate_limit.password_reset.limit", 3)
	viper.SetDefault("security.rate_limit.password_reset.window", "900s")
	viper.SetDefault("security.rate_limit.api.limit", 100)
	viper.SetDefault("security.rate_limit.api.window", "3600s")
	viper.SetDefault("security.rate_limit.check_timeout", "50ms")
	viper.SetDefault("security.rate_limit.suspicious_threshold", 10)
	viper.SetDefault("security.rate_limit.auto_blacklist_suspicious_ips", false)
	viper.SetDefault("security.rate_limit.blacklist_duration", "1h")

	viper.SetDefault("security.totp_issuer", "SchoolCore")

	viper.SetDefault("verification.otp_expiry", "10m")
	viper.SetDefault("verification.max_attempts", 5)
	viper.SetDefault("verification.send_cooldown", "5m")
	viper.SetDefault("verification.email_daily_cap", 10)
	viper.SetDefault("verification.sms_daily_cap", 5)

	viper.SetDefault("audit.retention_days", 365)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("metrics.enabled", true)
}
