package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration. It is constructed once at
// startup and passed by reference to every component; there is no
// process-wide singleton.
type Config struct {
	// Server configuration
	Server struct {
		Port    string
		Env     string
		Timeout time.Duration
		BaseURL string
	}

	// Database configuration (patient directory)
	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
	}

	// Redis configuration (session object store)
	Redis struct {
		Addr     string
		Password string
		DB       int
		Timeout  time.Duration
	}

	// JWT configuration (clinician tokens)
	JWT struct {
		Secret string
		Expiry time.Duration
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Guardrail holds the content-evaluation service settings
	Guardrail struct {
		ServiceURL string
		APIKey     string
		Timeout    time.Duration
	}

	// Session holds the lifecycle engine settings
	Session struct {
		// IdleTimeout is how long a session may sit unused before a
		// restore attempt is treated as create
		IdleTimeout time.Duration
		// TurnTimeout bounds one full turn including evaluator and
		// store calls
		TurnTimeout time.Duration
		// BusyLockTTL bounds how long a per-session busy lock may be
		// held before it is considered abandoned
		BusyLockTTL time.Duration
		// ReaperPeriod is how often idle sessions are scanned for archival
		ReaperPeriod time.Duration
	}
}

// New creates a Config populated from environment variables
func New() *Config {
	cfg := &Config{}
	cfg.load()
	return cfg
}

// Reload re-reads every value from the environment. This is the explicit
// refresh method; callers that want TTL behavior schedule it themselves.
func (c *Config) Reload() {
	c.load()
}

func (c *Config) load() {
	// Server config
	c.Server.Port = getEnvString("PORT", "8081")
	c.Server.Env = getEnvString("APP_ENV", "development")
	c.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
	c.Server.BaseURL = getEnvString("BASE_URL", "http://localhost:"+c.Server.Port)

	// Database config
	c.Database.Host = getEnvString("DB_HOST", "localhost")
	c.Database.Port = getEnvString("DB_PORT", "5432")
	c.Database.User = getEnvString("DB_USER", "postgres")
	c.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	c.Database.Name = getEnvString("DB_NAME", "clinical-copilot")
	c.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	c.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	c.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

	// Redis config
	c.Redis.Addr = getEnvString("REDIS_URL", "localhost:6379")
	c.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	c.Redis.DB = getEnvInt("REDIS_DB", 0)
	c.Redis.Timeout = getEnvDuration("REDIS_TIMEOUT", 3*time.Second)

	// JWT config
	c.JWT.Secret = getEnvString("JWT_SECRET", "")
	c.JWT.Expiry = getEnvDuration("JWT_EXPIRY", 24*time.Hour)

	// Security config
	c.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
	c.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	c.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})

	// Logging config
	c.Logging.Level = getEnvString("LOG_LEVEL", "info")
	c.Logging.Format = getEnvString("LOG_FORMAT", "json")

	// Guardrail config
	c.Guardrail.ServiceURL = getEnvString("GUARDRAIL_SERVICE_URL", "http://localhost:5100")
	c.Guardrail.APIKey = getEnvString("GUARDRAIL_API_KEY", "")
	c.Guardrail.Timeout = getEnvDuration("GUARDRAIL_TIMEOUT", 10*time.Second)

	// Session config
	c.Session.IdleTimeout = getEnvDuration("SESSION_IDLE_TIMEOUT", 24*time.Hour)
	c.Session.TurnTimeout = getEnvDuration("SESSION_TURN_TIMEOUT", 60*time.Second)
	c.Session.BusyLockTTL = getEnvDuration("SESSION_BUSY_LOCK_TTL", 2*time.Minute)
	c.Session.ReaperPeriod = getEnvDuration("SESSION_REAPER_PERIOD", time.Hour)
}

// getEnvString gets a string from environment variable or returns the default
func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer from environment variable or returns the default
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float from environment variable or returns the default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration from environment variable or returns the default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvStringSlice gets a comma-separated list from environment variable
func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
