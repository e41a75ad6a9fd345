package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load loads configuration from environment variables and config files
func Load() (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigType("yaml")

	v.SetEnvPrefix("CRMVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	configPaths := []string{
		v.GetString("paths.config"),
		".",
		"/etc/crmvault",
	}
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}
	v.SetConfigName("config")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Generate secret key if not set
	if v.GetString("security.secret_key") == "" {
		key, err := generateSecretKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate secret key: %w", err)
		}
		v.Set("security.secret_key", key)
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	// Path defaults
	v.SetDefault("paths.data", "/var/lib/crmvault")
	v.SetDefault("paths.logs", "/var/log/crmvault")
	v.SetDefault("paths.config", "/etc/crmvault")

	// Database defaults
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", filepath.Join("/var/lib/crmvault", "data.db"))
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_time", 300)
	v.SetDefault("database.use_sql_migrations", false)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.frontend_url", "http://localhost:5173")

	// Security defaults
	v.SetDefault("security.secret_key", "")
	v.SetDefault("security.jwt.issuer", "crmvault")
	v.SetDefault("security.jwt.token_ttl", "1h")
	v.SetDefault("security.rate_limit.requests_per_second", 20)
	v.SetDefault("security.rate_limit.burst", 40)

	// Zoho defaults. Client id/secret have no sane default and must come
	// from the environment or the config file.
	v.SetDefault("zoho.accounts_url", "https://accounts.zoho.com")
	v.SetDefault("zoho.client_id", "")
	v.SetDefault("zoho.client_secret", "")
	v.SetDefault("zoho.redirect_uri", "http://localhost:3000/api/auth/zoho/callback")
	v.SetDefault("zoho.org_id", "")

	// Backup engine defaults
	v.SetDefault("backup.archive_dir", filepath.Join("/var/lib/crmvault", "backups"))

	// Scheduler defaults: daily trigger at 02:00, weekly jobs on Sunday
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.hour", 2)
	v.SetDefault("scheduler.weekly_day", 0)

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.key_prefix", "crmvault:")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Email defaults
	v.SetDefault("email.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.skip_verify", false)
	v.SetDefault("email.from_email", "noreply@crmvault.local")
	v.SetDefault("email.from_name", "CRMVault")

	v.SetDefault("debug", false)
}

// generateSecretKey generates a random 32-byte hex key
func generateSecretKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
