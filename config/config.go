package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DevJWTSecret is used when no secret is configured. The server logs a
// warning when it is in effect.
const DevJWTSecret = "kanban-studio-dev-secret-change-me"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Redis     RedisConfig     `yaml:"redis"`
	Assistant AssistantConfig `yaml:"assistant"`
	Client    ClientConfig    `yaml:"client"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	StaticDir       string        `yaml:"static_dir"`
	LogLevel        string        `yaml:"log_level"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type AuthConfig struct {
	JWTSecret        string        `yaml:"jwt_secret"`
	TokenTTL         time.Duration `yaml:"token_ttl"`
	CookieSecure     bool          `yaml:"cookie_secure"`
	DevUsername      string        `yaml:"dev_username"`
	DevPassword      string        `yaml:"dev_password"`
	SeedDefaultBoard bool          `yaml:"seed_default_board"`
}

type SessionsConfig struct {
	// Backend is "db" or "redis".
	Backend         string `yaml:"backend"`
	CleanupSchedule string `yaml:"cleanup_schedule"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type AssistantConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type ClientConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	SessionFile string        `yaml:"session_file"`
	Sync        SyncConfig    `yaml:"sync"`
}

type SyncConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	sessionFile := ".kanbanctl/session.json"
	if home, err := os.UserHomeDir(); err == nil {
		sessionFile = filepath.Join(home, ".kanbanctl", "session.json")
	}

	return &Config{
		Server: ServerConfig{
			Port:            3001,
			StaticDir:       "./static",
			LogLevel:        "info",
			AllowedOrigins:  []string{"*"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "./kanban.db",
		},
		Auth: AuthConfig{
			JWTSecret:        DevJWTSecret,
			TokenTTL:         7 * 24 * time.Hour,
			SeedDefaultBoard: true,
		},
		Sessions: SessionsConfig{
			Backend:         "db",
			CleanupSchedule: "@hourly",
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Assistant: AssistantConfig{
			Model: "gpt-4o-mini",
		},
		Client: ClientConfig{
			BaseURL:     "http://localhost:3001",
			Timeout:     10 * time.Second,
			SessionFile: sessionFile,
			Sync: SyncConfig{
				MaxAttempts:     3,
				InitialInterval: 200 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
		},
	}
}

// LoadDotEnv loads KEY=VALUE pairs from a .env file into the environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load applies the YAML file at path (if it exists) over the defaults, then
// environment variable overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if dir := os.Getenv("STATIC_DIR"); dir != "" {
		cfg.Server.StaticDir = dir
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Server.LogLevel = level
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		cfg.Database.Driver = driver
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if secure := os.Getenv("COOKIE_SECURE"); secure != "" {
		if b, err := strconv.ParseBool(secure); err == nil {
			cfg.Auth.CookieSecure = b
		}
	}
	if user := os.Getenv("DEV_USERNAME"); user != "" {
		cfg.Auth.DevUsername = user
	}
	if pw := os.Getenv("DEV_PASSWORD"); pw != "" {
		cfg.Auth.DevPassword = pw
	}
	if backend := os.Getenv("SESSION_BACKEND"); backend != "" {
		cfg.Sessions.Backend = backend
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Assistant.APIKey = key
	}
	if model := os.Getenv("ASSISTANT_MODEL"); model != "" {
		cfg.Assistant.Model = model
	}
	if baseURL := os.Getenv("ASSISTANT_BASE_URL"); baseURL != "" {
		cfg.Assistant.BaseURL = baseURL
	}
	if baseURL := os.Getenv("KANBAN_URL"); baseURL != "" {
		cfg.Client.BaseURL = baseURL
	}
	if file := os.Getenv("KANBAN_SESSION"); file != "" {
		cfg.Client.SessionFile = file
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects values the server or client cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver %q: must be sqlite or postgres", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	switch c.Sessions.Backend {
	case "db", "redis":
	default:
		return fmt.Errorf("sessions.backend %q: must be db or redis", c.Sessions.Backend)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	if (c.Auth.DevUsername == "") != (c.Auth.DevPassword == "") {
		return errors.New("auth.dev_username and auth.dev_password must be set together")
	}
	if c.Client.Sync.MaxAttempts < 1 {
		return errors.New("client.sync.max_attempts must be at least 1")
	}
	return nil
}

// UsesDevSecret reports whether the built-in JWT secret is in effect.
func (c *Config) UsesDevSecret() bool {
	return c.Auth.JWTSecret == DevJWTSecret
}

// Addr is the listen address of the server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}
