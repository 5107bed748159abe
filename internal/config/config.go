package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/ulule/limiter/v3"
)

type Config struct {
	// HTTP Server
	Port      string
	RateLimit string

	// Worker admin listener serving /metrics; empty disables it
	MetricsPort string

	// Backend selection
	DataBackend  string
	SQLiteDBPath string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets mirror
	GoogleSpreadsheetID string
	GoogleSheetPrefix   string

	// Session
	JWTSecret string
	JWTIssuer string
	JWTExpiry time.Duration

	// Google sign-in audience; empty disables it
	GoogleClientID string

	// Stats cache
	StatsCacheSize int
	StatsCacheTTL  time.Duration

	LogLevel string
}

var defaults = map[string]any{
	"PORT":                  "8081",
	"RATE_LIMIT":            "120-M",
	"METRICS_PORT":          "9091",
	"DATA_BACKEND":          "memory",
	"SQLITE_DB_PATH":        "./data/tracker.db",
	"AMQP_URL":              "",
	"AMQP_EXCHANGE":         "tracker",
	"AMQP_QUEUE":            "transaction_changes",
	"GOOGLE_SPREADSHEET_ID": "",
	"GOOGLE_SHEET_PREFIX":   "tx-",
	"JWT_SECRET":            "",
	"JWT_ISSUER":            "expense-tracker",
	"JWT_EXPIRY":            "24h",
	"GOOGLE_CLIENT_ID":      "",
	"STATS_CACHE_SIZE":      1000,
	"STATS_CACHE_TTL":       "10m",
	"LOG_LEVEL":             "info",
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	return &Config{
		Port:      v.GetString("PORT"),
		RateLimit: v.GetString("RATE_LIMIT"),

		MetricsPort: v.GetString("METRICS_PORT"),

		DataBackend:  strings.ToLower(v.GetString("DATA_BACKEND")),
		SQLiteDBPath: v.GetString("SQLITE_DB_PATH"),

		AMQPURL:      v.GetString("AMQP_URL"),
		AMQPExchange: v.GetString("AMQP_EXCHANGE"),
		AMQPQueue:    v.GetString("AMQP_QUEUE"),

		GoogleSpreadsheetID: v.GetString("GOOGLE_SPREADSHEET_ID"),
		GoogleSheetPrefix:   v.GetString("GOOGLE_SHEET_PREFIX"),

		JWTSecret: v.GetString("JWT_SECRET"),
		JWTIssuer: v.GetString("JWT_ISSUER"),
		JWTExpiry: v.GetDuration("JWT_EXPIRY"),

		GoogleClientID: v.GetString("GOOGLE_CLIENT_ID"),

		StatsCacheSize: v.GetInt("STATS_CACHE_SIZE"),
		StatsCacheTTL:  v.GetDuration("STATS_CACHE_TTL"),

		LogLevel: v.GetString("LOG_LEVEL"),
	}
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

	if c.MetricsPort != "" {
		if port, err := strconv.Atoi(c.MetricsPort); err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("invalid metrics port '%s': must be a number between 1 and 65535", c.MetricsPort))
		} else if c.MetricsPort == c.Port {
			errors = append(errors, fmt.Sprintf("metrics port %s collides with the HTTP port", c.MetricsPort))
		}
	}

	if _, err := limiter.NewRateFromFormatted(c.RateLimit); err != nil {
		errors = append(errors, fmt.Sprintf("invalid rate limit '%s': %v", c.RateLimit, err))
	}

	// Validate data backend
	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
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
	}

	// AMQP is optional; when set it must be well formed
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

	if c.GoogleSpreadsheetID != "" && c.GoogleSheetPrefix == "" {
		errors = append(errors, "Google sheet prefix cannot be empty when a spreadsheet ID is provided")
	}

	if len(c.JWTSecret) < 16 {
		errors = append(errors, "JWT secret must be at least 16 characters")
	}
	if c.JWTExpiry < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid JWT expiry %v: must be at least 1 minute", c.JWTExpiry))
	}

	if c.StatsCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid stats cache size %d: must be at least 1", c.StatsCacheSize))
	}
	if c.StatsCacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid stats cache TTL %v: must be at least 1 second", c.StatsCacheTTL))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}
