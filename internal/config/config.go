package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/timemachine/backend/internal/model/persona"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server       ServerConfig
	AI           AIConfig
	Usage        UsageConfig
	Log          LogConfig
	PersonasFile string
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	usage, err := loadUsageConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:       server,
		AI:           ai,
		Usage:        usage,
		Log:          logCfg,
		PersonasFile: strings.TrimSpace(os.Getenv("PERSONAS_FILE")),
	}, nil
}

// Personas returns the seed personas with the optional persona file applied.
func (c *Config) Personas() ([]persona.Persona, error) {
	if c.PersonasFile == "" {
		return persona.Seed(), nil
	}
	return persona.LoadFile(c.PersonasFile, persona.Seed())
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
	// Online gates message sending. APP_ONLINE=false keeps the server up but
	// refuses every send.
	Online bool
	// RateLimit is the sustained request rate allowed per client fingerprint;
	// zero disables limiting.
	RateLimit float64
	RateBurst int
	// SessionIdleTTL is how long an untouched session is kept in memory.
	SessionIdleTTL time.Duration
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	var addr string
	switch {
	case strings.Contains(port, " "):
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	case strings.Contains(port, ":"):
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		addr = port
	default:
		addr = ":" + port
	}

	online, err := parseBoolEnv("APP_ONLINE", true)
	if err != nil {
		return ServerConfig{}, err
	}

	rps := 2.0
	if v, err := parseOptionalFloatEnv("RATE_LIMIT_RPS"); err != nil {
		return ServerConfig{}, err
	} else if v != nil {
		if *v < 0 {
			return ServerConfig{}, fmt.Errorf("invalid RATE_LIMIT_RPS value %v: must not be negative", *v)
		}
		rps = *v
	}

	burst := 10
	if v, err := parseOptionalIntEnv("RATE_LIMIT_BURST"); err != nil {
		return ServerConfig{}, err
	} else if v != nil {
		if *v < 1 {
			return ServerConfig{}, fmt.Errorf("invalid RATE_LIMIT_BURST value %d: must be positive", *v)
		}
		burst = *v
	}

	idle, err := parseDurationEnv("SESSION_IDLE_TTL", 2*time.Hour)
	if err != nil {
		return ServerConfig{}, err
	}

	return ServerConfig{
		Addr:           addr,
		Online:         online,
		RateLimit:      rps,
		RateBurst:      burst,
		SessionIdleTTL: idle,
	}, nil
}

// Usage ledger backends.
const (
	UsageMemory = "memory"
	UsageRedis  = "redis"
	UsageSQLite = "sqlite3"
	UsageMySQL  = "mysql"
)

// UsageConfig 描述用量计数的存储。
type UsageConfig struct {
	Backend       string
	DSN           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// Location decides when a new day starts for the daily caps.
	Location      *time.Location
	PurgeInterval time.Duration
}

func loadUsageConfig() (UsageConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("USAGE_BACKEND", UsageMemory))
	if backend == "sqlite" {
		backend = UsageSQLite
	}

	cfg := UsageConfig{
		Backend:       backend,
		DSN:           strings.TrimSpace(os.Getenv("USAGE_DSN")),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		Location:      time.Local,
	}

	switch backend {
	case UsageMemory, UsageRedis:
	case UsageSQLite:
		if cfg.DSN == "" {
			cfg.DSN = "timemachine-usage.db"
		}
	case UsageMySQL:
		if cfg.DSN == "" {
			return UsageConfig{}, errors.New("USAGE_DSN is required for the mysql usage backend")
		}
	default:
		return UsageConfig{}, fmt.Errorf("invalid USAGE_BACKEND value %q", backend)
	}

	if db, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return UsageConfig{}, err
	} else if db != nil {
		cfg.RedisDB = *db
	}

	if tz := strings.TrimSpace(os.Getenv("USAGE_TIMEZONE")); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return UsageConfig{}, fmt.Errorf("invalid USAGE_TIMEZONE value %q: %w", tz, err)
		}
		cfg.Location = loc
	}

	interval, err := parseDurationEnv("USAGE_PURGE_INTERVAL", time.Hour)
	if err != nil {
		return UsageConfig{}, err
	}
	cfg.PurgeInterval = interval
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}
