package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds the application configuration
type Config struct {
	// Environment
	Environment string
	Port        string

	// Database
	UseLocalDB  bool
	DataDir     string
	MySQLDSN    string
	PostgresDSN string

	// Sessions
	JWTSecret  string
	SessionTTL time.Duration

	// Telegram
	BotToken       string
	InitDataMaxAge time.Duration

	// Event bus (optional)
	NatsURL string

	// CORS
	AllowedOrigins []string

	Debug bool
}

// LoadConfig reads .env files and the process environment
func LoadConfig() *Config {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	// godotenv.Load never overrides variables that are already set
	switch env {
	case "production":
		loadEnvFile(".env.production")
	default:
		loadEnvFile(".env.local")
	}
	loadEnvFile(".env")

	config := &Config{
		Environment: getEnvWithDefault("ENVIRONMENT", "development"),
		Port:        getEnvWithDefault("PORT", "3000"),
		UseLocalDB:  getEnvBool("USE_LOCAL_DB", true),
		DataDir:     getEnvWithDefault("DATA_DIR", "./data"),
		JWTSecret:   getEnvWithDefault("JWT_SECRET", defaultJWTSecret),
		SessionTTL:  getEnvDuration("SESSION_TTL", 30*24*time.Hour),
		Debug:       getEnvBool("DEBUG", false),
	}

	// Trim whitespace to avoid trailing spaces/newlines from env sources
	config.MySQLDSN = strings.TrimSpace(os.Getenv("MYSQL_DSN"))
	config.PostgresDSN = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	config.NatsURL = strings.TrimSpace(os.Getenv("NATS_URL"))

	config.BotToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	if config.BotToken == "" {
		config.BotToken = strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	}
	config.InitDataMaxAge = getEnvDuration("INIT_DATA_MAX_AGE", 0)

	allowedOrigins := getEnvWithDefault("ALLOWED_ORIGINS", "*")
	if allowedOrigins == "*" {
		config.AllowedOrigins = []string{"*"}
	} else {
		for _, origin := range strings.Split(allowedOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				config.AllowedOrigins = append(config.AllowedOrigins, origin)
			}
		}
	}

	// An explicit SQL DSN wins over the file store
	if config.MySQLDSN != "" || config.PostgresDSN != "" {
		if os.Getenv("USE_LOCAL_DB") == "" {
			config.UseLocalDB = false
		}
	}

	if config.Environment == "production" {
		config.Debug = false
	}

	return config
}

var (
	cachedConfig *Config
	configOnce   sync.Once
)

// GetCached returns the process-wide Config, loading it on first use.
func GetCached() *Config {
	configOnce.Do(func() {
		cachedConfig = LoadConfig()
	})
	return cachedConfig
}

// Validate checks the configuration for fatal problems
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret {
		if c.IsProduction() {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	if !c.UseLocalDB && c.MySQLDSN == "" && c.PostgresDSN == "" {
		return fmt.Errorf("database configuration incomplete: set USE_LOCAL_DB=true, MYSQL_DSN or POSTGRES_DSN")
	}

	return nil
}

// IsProduction reports whether the app runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment reports whether the app runs in development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("720h") or plain seconds ("86400")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func loadEnvFile(filename string) {
	if _, err := os.Stat(filename); err != nil {
		return
	}
	_ = godotenv.Load(filename)
}
