package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"vanishbin/svc/util"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	util.Wipe(s.value)
}
func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Port            string
	Environment     string
	LogLevel        string
	StoreBackend    string
	RedisURL        string
	RedisTLS        bool
	RedisHostname   string
	RedisCACert     string
	RedisUsername   string
	RedisPassword   Secret
	RedisTimeout    time.Duration
	RedisKeyPrefix  string
	DatabasePath    string
	DBMaxOpenConns  int
	DBMaxIdleConns  int
	DBQueryTimeout  time.Duration
	BoltPath        string
	MemoryMaxPastes int
	MaxBodyBytes    int64
	BackendTimeout  time.Duration
	ContextTimeout  time.Duration
	TestMode        bool
	PublicBaseURL   string
	AllowedOrigins  []string
	MetricsUser     string
	MetricsPass     Secret
}

func Load() (*Cfg, error) {
	c := &Cfg{}
	c.Port = getEnv("PORT", "3000")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.RedisURL = getEnv("REDIS_URL", "")
	defaultBackend := BackendMemory
	if c.RedisURL != "" {
		defaultBackend = BackendRedis
	}
	c.StoreBackend = strings.ToLower(strings.TrimSpace(getEnv("STORE_BACKEND", "")))
	if c.StoreBackend == "" {
		c.StoreBackend = defaultBackend
	}
	c.RedisTLS = getEnv("REDIS_TLS", "false") == "true"
	c.RedisHostname = getEnv("REDIS_HOSTNAME", "")
	c.RedisCACert = getEnv("REDIS_TLS_CA_CERT", "")
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	c.RedisKeyPrefix = getEnv("REDIS_KEY_PREFIX", "paste:")
	var err error
	c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.DatabasePath = getEnv("DATABASE_PATH", "vanishbin.db")
	c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 16)
	if err != nil {
		return nil, err
	}
	c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 4)
	if err != nil {
		return nil, err
	}
	c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.BoltPath = getEnv("BOLT_PATH", "vanishbin.bolt")
	c.MemoryMaxPastes, err = getInt("MEMORY_MAX_PASTES", 10000)
	if err != nil {
		return nil, err
	}
	c.MaxBodyBytes, err = getInt64("MAX_BODY_BYTES", 2_000_000)
	if err != nil {
		return nil, err
	}
	c.BackendTimeout, err = getDuration("BACKEND_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	c.TestMode = getEnv("TEST_MODE", "") == "1"
	c.PublicBaseURL = strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/")
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", []string{})
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	return c, nil
}
func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	switch c.StoreBackend {
	case BackendMemory:
		if c.MemoryMaxPastes <= 0 {
			return errors.New("MEMORY_MAX_PASTES must be positive")
		}
		if c.MemoryMaxPastes > 1_000_000 {
			return errors.New("MEMORY_MAX_PASTES cannot exceed 1000000")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when STORE_BACKEND=redis")
		}
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
		if strings.HasPrefix(c.RedisURL, "rediss://") && !c.RedisTLS {
			return errors.New("REDIS_URL uses rediss:// but REDIS_TLS=false")
		}
		if c.RedisTLS && c.RedisHostname == "" {
			return errors.New("REDIS_HOSTNAME must be set when REDIS_TLS=true")
		}
		if c.RedisKeyPrefix == "" {
			return errors.New("REDIS_KEY_PREFIX must not be empty")
		}
	case BackendSQLite:
		if c.DatabasePath == "" {
			return errors.New("DATABASE_PATH is required when STORE_BACKEND=sqlite")
		}
		if c.DBMaxOpenConns <= 0 {
			return errors.New("DB_MAX_OPEN_CONNS must be positive")
		}
	case BackendBolt:
		if c.BoltPath == "" {
			return errors.New("BOLT_PATH is required when STORE_BACKEND=bolt")
		}
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q (supported: memory, redis, sqlite, bolt)", c.StoreBackend)
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("MAX_BODY_BYTES must be positive")
	}
	if c.MaxBodyBytes > 10*1024*1024 {
		return errors.New("MAX_BODY_BYTES cannot exceed 10MB")
	}
	if c.BackendTimeout <= 0 {
		return errors.New("BACKEND_TIMEOUT must be positive")
	}
	if c.ContextTimeout < c.BackendTimeout {
		return errors.New("CONTEXT_TIMEOUT must not be shorter than BACKEND_TIMEOUT")
	}
	if c.PublicBaseURL != "" && !strings.HasPrefix(c.PublicBaseURL, "http://") && !strings.HasPrefix(c.PublicBaseURL, "https://") {
		return errors.New("PUBLIC_BASE_URL must start with http:// or https://")
	}
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
		if c.TestMode {
			return errors.New("TEST_MODE must not be enabled in production")
		}
	}
	return nil
}
func (c *Cfg) Wipe() {
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
}
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
