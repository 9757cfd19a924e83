package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port                   string   `yaml:"port"`
	DatabaseURL            string   `yaml:"database_url"`
	AuthToken              string   `yaml:"auth_token"`
	AllowOrigins           []string `yaml:"allow_origins"`
	DuplicateWindowSeconds int      `yaml:"duplicate_window_seconds"`
}

type SyncConfig struct {
	BaseURL                string `yaml:"base_url"`
	Token                  string `yaml:"token"`
	UserID                 string `yaml:"user_id"`
	BabyID                 string `yaml:"baby_id"`
	QueueDSN               string `yaml:"queue_dsn"`
	FlagsDSN               string `yaml:"flags_dsn"`
	IntervalSeconds        int    `yaml:"interval_seconds"`
	BackoffBaseMillis      int    `yaml:"backoff_base_ms"`
	BackoffMaxMillis       int    `yaml:"backoff_max_ms"`
	MaxAttempts            int    `yaml:"max_attempts"`
	RefreshDebounceSeconds int    `yaml:"refresh_debounce_seconds"`
	ProbeIntervalSeconds   int    `yaml:"probe_interval_seconds"`
	RequestTimeoutSec      int    `yaml:"request_timeout_seconds"`
}

type Config struct {
	LogLevel string       `yaml:"log_level"`
	Server   ServerConfig `yaml:"server"`
	Sync     SyncConfig   `yaml:"sync"`
}

// Load reads the optional YAML file named by HENRII_CONFIG, then applies
// environment overrides and defaults.
func Load() (Config, error) {
	cfg := Config{}
	if path := strings.TrimSpace(os.Getenv("HENRII_CONFIG")); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if v := strings.TrimSpace(os.Getenv("HENRII_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	applyServerEnv(&cfg.Server)
	applySyncEnv(&cfg.Sync)
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	s := &c.Server
	if s.Port == "" {
		s.Port = "8090"
	}
	if s.DatabaseURL == "" {
		s.DatabaseURL = "file:henrii.db"
	}
	if len(s.AllowOrigins) == 0 {
		s.AllowOrigins = []string{"*"}
	}
	if s.DuplicateWindowSeconds <= 0 {
		s.DuplicateWindowSeconds = 300
	}

	cs := &c.Sync
	cs.BaseURL = strings.TrimRight(strings.TrimSpace(cs.BaseURL), "/")
	if cs.BaseURL == "" {
		cs.BaseURL = "http://127.0.0.1:" + s.Port
	}
	if cs.QueueDSN == "" {
		cs.QueueDSN = "sqlite://henrii-queue.db"
	}
	if cs.FlagsDSN == "" {
		cs.FlagsDSN = "sqlite://henrii-flags.db"
	}
	if cs.IntervalSeconds <= 0 {
		cs.IntervalSeconds = 15
	}
	if cs.BackoffBaseMillis <= 0 {
		cs.BackoffBaseMillis = 2000
	}
	if cs.BackoffMaxMillis <= 0 {
		cs.BackoffMaxMillis = 60000
	}
	if cs.MaxAttempts <= 0 {
		cs.MaxAttempts = 5
	}
	if cs.RefreshDebounceSeconds <= 0 {
		cs.RefreshDebounceSeconds = 5
	}
	if cs.ProbeIntervalSeconds <= 0 {
		cs.ProbeIntervalSeconds = 10
	}
	if cs.RequestTimeoutSec <= 0 {
		cs.RequestTimeoutSec = 30
	}
}

func applyServerEnv(s *ServerConfig) {
	if v := envOrDefault("HENRII_PORT", ""); v != "" {
		s.Port = v
	}
	if p := strings.TrimSpace(os.Getenv("PORT")); p != "" {
		s.Port = p
	}
	if v := envOrDefault("HENRII_DATABASE_URL", ""); v != "" {
		s.DatabaseURL = v
	}
	if v := envOrDefault("HENRII_AUTH_TOKEN", ""); v != "" {
		s.AuthToken = v
	}
	if v := envOrDefault("HENRII_ALLOW_ORIGINS", ""); v != "" {
		s.AllowOrigins = splitList(v)
	}
	if v, ok := getenvInt("HENRII_DUPLICATE_WINDOW_SECONDS"); ok {
		s.DuplicateWindowSeconds = v
	}
}

func applySyncEnv(cs *SyncConfig) {
	if v := envOrDefault("HENRII_BASE_URL", ""); v != "" {
		cs.BaseURL = v
	}
	if v := envOrDefault("HENRII_TOKEN", ""); v != "" {
		cs.Token = v
	}
	if v := envOrDefault("HENRII_USER_ID", ""); v != "" {
		cs.UserID = v
	}
	if v := envOrDefault("HENRII_BABY_ID", ""); v != "" {
		cs.BabyID = v
	}
	if v := envOrDefault("HENRII_QUEUE_DSN", ""); v != "" {
		cs.QueueDSN = v
	}
	if v := envOrDefault("HENRII_FLAGS_DSN", ""); v != "" {
		cs.FlagsDSN = v
	}
	ints := map[string]*int{
		"HENRII_SYNC_INTERVAL_SECONDS":    &cs.IntervalSeconds,
		"HENRII_BACKOFF_BASE_MS":          &cs.BackoffBaseMillis,
		"HENRII_BACKOFF_MAX_MS":           &cs.BackoffMaxMillis,
		"HENRII_MAX_ATTEMPTS":             &cs.MaxAttempts,
		"HENRII_REFRESH_DEBOUNCE_SECONDS": &cs.RefreshDebounceSeconds,
		"HENRII_PROBE_INTERVAL_SECONDS":   &cs.ProbeIntervalSeconds,
		"HENRII_REQUEST_TIMEOUT_SECONDS":  &cs.RequestTimeoutSec,
	}
	for name, dst := range ints {
		if v, ok := getenvInt(name); ok {
			*dst = v
		}
	}
}

func (s ServerConfig) DuplicateWindow() time.Duration {
	return time.Duration(s.DuplicateWindowSeconds) * time.Second
}

func (cs SyncConfig) Interval() time.Duration {
	return time.Duration(cs.IntervalSeconds) * time.Second
}

func (cs SyncConfig) BackoffBase() time.Duration {
	return time.Duration(cs.BackoffBaseMillis) * time.Millisecond
}

func (cs SyncConfig) BackoffMax() time.Duration {
	return time.Duration(cs.BackoffMaxMillis) * time.Millisecond
}

func (cs SyncConfig) RefreshDebounce() time.Duration {
	return time.Duration(cs.RefreshDebounceSeconds) * time.Second
}

func (cs SyncConfig) ProbeInterval() time.Duration {
	return time.Duration(cs.ProbeIntervalSeconds) * time.Second
}

func (cs SyncConfig) RequestTimeout() time.Duration {
	return time.Duration(cs.RequestTimeoutSec) * time.Second
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(name string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
