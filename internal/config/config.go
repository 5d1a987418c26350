package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Database
	SQLiteDBPath      string
	DBConnectAttempts int

	// Filesystem
	UploadDir string
	BackupDir string
	IconsDir  string

	// AMQP (optional; empty URL disables the event hook)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// External dump/restore command bound
	BackupCommandTimeout time.Duration
}

func Load() *Config {
	cfg := &Config{
		Port:              getEnv("PORT", "5000"),
		SQLiteDBPath:      getEnv("SQLITE_DB_PATH", "./data/tina.db"),
		DBConnectAttempts: getEnvInt("DB_CONNECT_ATTEMPTS", 5),

		UploadDir: getEnv("UPLOAD_DIR", "./uploads"),
		BackupDir: getEnv("BACKUP_DIR", "./backups"),
		IconsDir:  getEnv("ICONS_DIR", "./data/icons"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "tina"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_events"),

		BackupCommandTimeout: getEnvDuration("BACKUP_COMMAND_TIMEOUT", 5*time.Minute),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.DBConnectAttempts < 1 || c.DBConnectAttempts > 20 {
		errors = append(errors, fmt.Sprintf("invalid DB connect attempts %d: must be between 1 and 20", c.DBConnectAttempts))
	}

	for _, d := range []struct{ name, path string }{
		{"upload", c.UploadDir}, {"backup", c.BackupDir}, {"icons", c.IconsDir},
	} {
		if d.path == "" {
			errors = append(errors, fmt.Sprintf("%s directory cannot be empty", d.name))
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.BackupCommandTimeout < 10*time.Second || c.BackupCommandTimeout > time.Hour {
		errors = append(errors, fmt.Sprintf("invalid backup command timeout %v: must be between 10s and 1h", c.BackupCommandTimeout))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
