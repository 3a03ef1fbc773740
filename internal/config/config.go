// Package config loads bot settings from an optional YAML file, a .env file
// and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/agromarket/agro-bot/internal/throttle"
)

type Config struct {
	BotToken     string         `yaml:"bot_token"`
	AdminIDs     []int64        `yaml:"admin_ids"`
	DBFile       string         `yaml:"db_file"`
	HistoryLimit int            `yaml:"history_limit"`
	Log          LogConfig      `yaml:"log"`
	Webhook      WebhookConfig  `yaml:"webhook"`
	Throttle     ThrottleConfig `yaml:"throttle"`
	Lock         LockConfig     `yaml:"lock"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// WebhookConfig switches the bot from long polling to webhook mode when URL
// is set.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
	Listen string `yaml:"listen"`
}

type ThrottleConfig struct {
	AnyMS  int `yaml:"any_ms"`
	SameMS int `yaml:"same_ms"`
}

type LockConfig struct {
	TTLSeconds       int `yaml:"ttl_seconds"`
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`
}

func Default() Config {
	return Config{
		DBFile:       "./data/agro.db",
		HistoryLimit: 10,
		Log:          LogConfig{Level: "info"},
		Webhook:      WebhookConfig{Listen: ":8443"},
		Throttle:     ThrottleConfig{AnyMS: 300, SameMS: 1500},
		Lock:         LockConfig{TTLSeconds: 45, HeartbeatSeconds: 15},
	}
}

// Load builds the configuration. A missing .env file is not an error; a
// missing CONFIG_FILE is.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.BotToken = getEnvOrDefault("BOT_TOKEN", c.BotToken)
	c.DBFile = getEnvOrDefault("DB_FILE", c.DBFile)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
	c.Webhook.URL = getEnvOrDefault("WEBHOOK_URL", c.Webhook.URL)
	c.Webhook.Secret = getEnvOrDefault("WEBHOOK_SECRET", c.Webhook.Secret)
	c.Webhook.Listen = getEnvOrDefault("WEBHOOK_LISTEN", c.Webhook.Listen)

	if v := os.Getenv("ADMIN_IDS"); v != "" {
		ids, err := parseIDs(v)
		if err != nil {
			return fmt.Errorf("invalid ADMIN_IDS: %w", err)
		}
		c.AdminIDs = ids
	}
	if v := os.Getenv("LOG_JSON"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LOG_JSON: %w", err)
		}
		c.Log.JSON = b
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"THROTTLE_ANY_MS", &c.Throttle.AnyMS},
		{"THROTTLE_SAME_MS", &c.Throttle.SameMS},
		{"BOT_LOCK_TTL_SECONDS", &c.Lock.TTLSeconds},
		{"BOT_LOCK_HEARTBEAT_SECONDS", &c.Lock.HeartbeatSeconds},
		{"HISTORY_LIMIT", &c.HistoryLimit},
	}
	for _, it := range ints {
		v := os.Getenv(it.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid %s: %q", it.key, v)
		}
		*it.dst = n
	}
	return nil
}

// Validate checks what the bot needs to run. Maintenance commands skip it.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return errors.New("BOT_TOKEN is required")
	}
	if c.Lock.HeartbeatSeconds <= 0 || c.Lock.HeartbeatSeconds >= c.Lock.TTLSeconds {
		return fmt.Errorf("lock heartbeat (%ds) must be positive and shorter than its TTL (%ds)",
			c.Lock.HeartbeatSeconds, c.Lock.TTLSeconds)
	}
	if c.Webhook.URL != "" && !strings.HasPrefix(c.Webhook.URL, "https://") {
		return errors.New("WEBHOOK_URL must be https")
	}
	return nil
}

func (c *Config) ThrottleConfig() throttle.Config {
	return throttle.Config{
		AnyInterval:  time.Duration(c.Throttle.AnyMS) * time.Millisecond,
		SameInterval: time.Duration(c.Throttle.SameMS) * time.Millisecond,
	}
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Lock.TTLSeconds) * time.Second
}

func (c *Config) LockHeartbeat() time.Duration {
	return time.Duration(c.Lock.HeartbeatSeconds) * time.Second
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
