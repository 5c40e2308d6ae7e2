package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	Store   StoreConfig
	DB      DBConfig
	Redis   RedisConfig
	Webhook WebhookConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// StoreConfig selects the persistence backends. The core only depends on the
// store/history interfaces; the choice is wiring, not business logic.
type StoreConfig struct {
	// Backend for call sessions: memory, postgres or redis.
	Backend string
	// HistoryBackend for the event trail: memory or postgres.
	HistoryBackend string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

// WebhookConfig is the trust binding for inbound platform notifications.
type WebhookConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	TenantID string
	AppID    string

	// GreetingMedia, when set, is played on every established incoming call.
	GreetingMedia string

	// RedirectRules is an optional JSON array of redirect rules; empty means
	// accept everything.
	RedirectRules string
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Store.Backend = strings.TrimSpace(os.Getenv("STORE_BACKEND"))
	c.Store.HistoryBackend = strings.TrimSpace(os.Getenv("HISTORY_BACKEND"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := optionalInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Webhook.JWTSecret = os.Getenv("WEBHOOK_JWT_SECRET")
	c.Webhook.JWTIssuer = strings.TrimSpace(os.Getenv("WEBHOOK_JWT_ISSUER"))
	c.Webhook.JWTAudience = strings.TrimSpace(os.Getenv("WEBHOOK_JWT_AUDIENCE"))
	c.Webhook.TenantID = strings.TrimSpace(os.Getenv("TENANT_ID"))
	c.Webhook.AppID = strings.TrimSpace(os.Getenv("APP_ID"))
	c.Webhook.GreetingMedia = strings.TrimSpace(os.Getenv("GREETING_MEDIA"))
	c.Webhook.RedirectRules = strings.TrimSpace(os.Getenv("REDIRECT_RULES"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required fields and applies local-friendly defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Store.Backend == "" {
		// Local-friendly default; production must be explicit.
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_BACKEND is required in production"))
		} else {
			c.Store.Backend = BackendMemory
		}
	}
	if c.Store.Backend != "" && !isValidStoreBackend(c.Store.Backend) {
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be one of memory, postgres, redis, got %q", c.Store.Backend))
	}
	if c.Store.HistoryBackend == "" {
		c.Store.HistoryBackend = BackendMemory
	}
	if c.Store.HistoryBackend != BackendMemory && c.Store.HistoryBackend != BackendPostgres {
		errs = append(errs, fmt.Errorf("HISTORY_BACKEND must be memory or postgres, got %q", c.Store.HistoryBackend))
	}

	if c.NeedsPostgres() {
		if c.DB.Host == "" {
			errs = append(errs, errors.New("DB_HOST is required for the postgres backend"))
		}
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required for the postgres backend"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required for the postgres backend"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.NeedsRedis() {
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required for the redis backend"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}

	if c.Webhook.JWTSecret == "" {
		errs = append(errs, errors.New("WEBHOOK_JWT_SECRET is required"))
	}
	if c.Webhook.TenantID == "" {
		errs = append(errs, errors.New("TENANT_ID is required"))
	}
	if c.IsProduction() {
		if c.Webhook.JWTIssuer == "" {
			errs = append(errs, errors.New("WEBHOOK_JWT_ISSUER is required in production"))
		}
		if c.Webhook.JWTAudience == "" {
			errs = append(errs, errors.New("WEBHOOK_JWT_AUDIENCE is required in production"))
		}
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// NeedsPostgres reports whether any selected backend requires a database.
func (c Config) NeedsPostgres() bool {
	return c.Store.Backend == BackendPostgres || c.Store.HistoryBackend == BackendPostgres
}

// NeedsRedis reports whether the redis backend is selected.
func (c Config) NeedsRedis() bool {
	return c.Store.Backend == BackendRedis
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// optionalInt treats an unset variable as zero but still rejects garbage;
// a malformed value must surface as itself, not as a zero-port complaint.
func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidStoreBackend(v string) bool {
	switch v {
	case BackendMemory, BackendPostgres, BackendRedis:
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
