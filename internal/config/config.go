package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Port     int
	AppEnv   string
	LogLevel string

	// Storage configuration
	UseMockDB   bool
	DBDriver    string // sqlite3, postgres or pgx
	DBPath      string
	DatabaseURL string
	AutoMigrate bool
	SeedData    bool

	LoanPeriod      time.Duration
	APIDefaultLimit int
	APIMaxLimit     int
	CORSOrigin      string

	// ClickHouse activity journal (enabled when ClickHouseHost is set)
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseUseTLS   bool

	// Kafka event publishing (enabled when KafkaBroker is set)
	KafkaBroker string
	KafkaTopic  string

	// Telegram notifications (enabled when both are set)
	TelegramToken  string
	TelegramChatID int64

	ReconcileInterval       time.Duration
	OverdueReminderInterval time.Duration
}

// IsDevelopment reports whether the app runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// JournalEnabled reports whether the ClickHouse journal is configured
func (c *Config) JournalEnabled() bool {
	return c.ClickHouseHost != ""
}

// NotificationsEnabled reports whether Telegram notifications are configured
func (c *Config) NotificationsEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	var err error
	config := &Config{
		AppEnv:     getEnv("APP_ENV", "development"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		UseMockDB:  os.Getenv("USE_MOCK_DB") == "true",
		DBDriver:   getEnv("DB_DRIVER", "sqlite3"),
		DBPath:     getEnv("DB_PATH", "./database.db"),
		CORSOrigin: getEnv("CORS_ORIGIN", "*"),
		KafkaTopic: getEnv("KAFKA_TOPIC", "library.loans"),
	}

	if config.Port, err = getInt("PORT", 3000); err != nil {
		return nil, err
	}
	if config.AutoMigrate, err = getBool("AUTO_MIGRATE", true); err != nil {
		return nil, err
	}
	if config.SeedData, err = getBool("SEED_DATA", false); err != nil {
		return nil, err
	}

	switch config.DBDriver {
	case "sqlite3", "postgres", "pgx":
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER %q: must be sqlite3, postgres or pgx", config.DBDriver)
	}
	if !config.UseMockDB && config.DBDriver != "sqlite3" {
		config.DatabaseURL = os.Getenv("DATABASE_URL")
		if config.DatabaseURL == "" {
			config.DatabaseURL = postgresURLFromParts()
		}
	}

	days, err := getInt("LOAN_PERIOD_DAYS", 30)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, fmt.Errorf("LOAN_PERIOD_DAYS must be positive, got %d", days)
	}
	config.LoanPeriod = time.Duration(days) * 24 * time.Hour

	if config.APIDefaultLimit, err = getInt("API_DEFAULT_LIMIT", 50); err != nil {
		return nil, err
	}
	if config.APIMaxLimit, err = getInt("API_MAX_LIMIT", 100); err != nil {
		return nil, err
	}
	if config.APIDefaultLimit <= 0 || config.APIMaxLimit <= 0 {
		return nil, fmt.Errorf("API_DEFAULT_LIMIT and API_MAX_LIMIT must be positive")
	}

	// ClickHouse configuration (optional)
	config.ClickHouseHost = os.Getenv("CLICKHOUSE_HOST")
	if config.ClickHouseHost != "" {
		if config.ClickHousePort, err = getInt("CLICKHOUSE_PORT", 9000); err != nil {
			return nil, err
		}
		config.ClickHouseDatabase = getEnv("CLICKHOUSE_DATABASE", "default")
		config.ClickHouseUser = getEnv("CLICKHOUSE_USER", "default")
		// Password is optional, can be empty
		config.ClickHousePassword = os.Getenv("CLICKHOUSE_PASSWORD")
		config.ClickHouseUseTLS = os.Getenv("CLICKHOUSE_USE_TLS") == "true"
	}

	config.KafkaBroker = os.Getenv("KAFKA_BROKER")

	config.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %s", chatID)
		}
		config.TelegramChatID = id
	}

	if config.ReconcileInterval, err = getDuration("RECONCILE_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if config.OverdueReminderInterval, err = getDuration("OVERDUE_REMINDER_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}

	return config, nil
}

// postgresURLFromParts builds a DSN from DB_HOST, DB_PORT, DB_NAME, DB_USER,
// DB_PASSWORD and DB_SSLMODE
func postgresURLFromParts() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(getEnv("DB_USER", "postgres"), os.Getenv("DB_PASSWORD")),
		Host:   getEnv("DB_HOST", "localhost") + ":" + getEnv("DB_PORT", "5432"),
		Path:   "/" + getEnv("DB_NAME", "biblioteca"),
	}
	q := url.Values{}
	q.Set("sslmode", getEnv("DB_SSLMODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

// getEnv retrieves environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// getDuration accepts Go durations ("90m") and bare seconds; 0 disables
func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return d, nil
}
