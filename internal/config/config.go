package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full service configuration, read from the environment.
type Config struct {
	ListenAddr string
	Env        string
	LogLevel   string

	DatabaseDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AdminAPIKey  string
	TokenRefSalt string

	KeyAlgorithm    string
	KeyStrengthBits int

	DualKeyWindow      time.Duration
	HealthCheckTimeout time.Duration
	CleanupInterval    time.Duration

	PolicyBundlePath string
	PolicyBundleID   string

	RateLimitPerMinute int

	OIDCIssuer    string
	OIDCJWKSURL   string
	OIDCAudience  string
	OIDCAdminRole string

	CheckpointWebhookURL string
	CheckpointInterval   time.Duration

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSSessionToken    string
	VaultAddr          string
	VaultToken         string
}

func Load() (Config, error) {
	cfg := Config{
		ListenAddr:         envOr("KEYSTONE_LISTEN_ADDR", ":8080"),
		Env:                envOr("KEYSTONE_ENV", "development"),
		LogLevel:           envOr("KEYSTONE_LOG_LEVEL", ""),
		DatabaseDSN:        os.Getenv("KEYSTONE_DATABASE_DSN"),
		RedisAddr:          os.Getenv("KEYSTONE_REDIS_ADDR"),
		RedisPassword:      os.Getenv("KEYSTONE_REDIS_PASSWORD"),
		AdminAPIKey:        os.Getenv("KEYSTONE_ADMIN_API_KEY"),
		TokenRefSalt:       envOr("KEYSTONE_TOKEN_REF_SALT", "keystone"),
		KeyAlgorithm:       envOr("KEYSTONE_KEY_ALGORITHM", "HMAC-SHA256"),
		PolicyBundlePath:   envOr("KEYSTONE_POLICY_BUNDLE_PATH", "policy/bundles/audit_v1"),
		PolicyBundleID:     envOr("KEYSTONE_POLICY_BUNDLE_ID", "audit_v1"),

		OIDCIssuer:    os.Getenv("KEYSTONE_OIDC_ISSUER"),
		OIDCJWKSURL:   os.Getenv("KEYSTONE_OIDC_JWKS_URL"),
		OIDCAudience:  os.Getenv("KEYSTONE_OIDC_AUDIENCE"),
		OIDCAdminRole: envOr("KEYSTONE_OIDC_ADMIN_ROLE", "key_admin"),

		CheckpointWebhookURL: os.Getenv("KEYSTONE_CHECKPOINT_WEBHOOK_URL"),

		AWSRegion:          os.Getenv("AWS_REGION"),
		AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		AWSSessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		VaultAddr:          os.Getenv("VAULT_ADDR"),
		VaultToken:         os.Getenv("VAULT_TOKEN"),
	}

	var err error
	if cfg.RedisDB, err = envInt("KEYSTONE_REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.KeyStrengthBits, err = envInt("KEYSTONE_KEY_STRENGTH_BITS", 256); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitPerMinute, err = envInt("KEYSTONE_RATE_LIMIT_PER_MINUTE", 600); err != nil {
		return Config{}, err
	}
	if cfg.DualKeyWindow, err = envDuration("KEYSTONE_DUAL_KEY_WINDOW", 168*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.HealthCheckTimeout, err = envDuration("KEYSTONE_HEALTH_CHECK_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.CleanupInterval, err = envDuration("KEYSTONE_CLEANUP_INTERVAL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.CheckpointInterval, err = envDuration("KEYSTONE_CHECKPOINT_INTERVAL", 15*time.Minute); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}
