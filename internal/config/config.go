package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendURLEnv overrides backend_url when set (e.g. from .env).
const BackendURLEnv = "ALERT_DASHBOARD_BACKEND_URL"

type Config struct {
	Port                 int               `yaml:"port"`
	BackendURL           string            `yaml:"backend_url"`
	WSPath               string            `yaml:"ws_path"`
	AlertCapacity        int               `yaml:"alert_capacity"`
	SignalCapacity       int               `yaml:"signal_capacity"`
	TickHistoryCapacity  int               `yaml:"tick_history_capacity"`
	BootstrapLimit       int               `yaml:"bootstrap_limit"`
	ReconnectMinDelay    time.Duration     `yaml:"reconnect_min_delay"`
	ReconnectMaxDelay    time.Duration     `yaml:"reconnect_max_delay"`
	ReconnectJitter      bool              `yaml:"reconnect_jitter"`
	LogLevel             string            `yaml:"log_level"`
	WebDir               string            `yaml:"web_dir"`
	Sounds               map[string]string `yaml:"sounds"`
	SoundCooldownSeconds int               `yaml:"sound_cooldown_seconds"`
}

func defaults() Config {
	return Config{
		Port:                 8090,
		BackendURL:           "http://127.0.0.1:8000",
		WSPath:               "/ws",
		AlertCapacity:        100,
		SignalCapacity:       100,
		TickHistoryCapacity:  100,
		BootstrapLimit:       100,
		ReconnectMinDelay:    5 * time.Second,
		ReconnectMaxDelay:    60 * time.Second,
		ReconnectJitter:      true,
		LogLevel:             "info",
		WebDir:               "./web",
		Sounds:               map[string]string{"priority": "./web/sounds/priority.mp3"},
		SoundCooldownSeconds: 5,
	}
}

func Load(path string) (Config, error) {
	cfg := defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if v := strings.TrimSpace(os.Getenv(BackendURLEnv)); v != "" {
		cfg.BackendURL = v
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("invalid port")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return fmt.Errorf("backend_url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf(`backend_url must be http or https, got %q`, c.BackendURL)
	}
	if u.Host == "" {
		return errors.New("backend_url has no host")
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		c.WSPath = "/" + c.WSPath
	}
	if c.AlertCapacity < 1 || c.SignalCapacity < 1 || c.TickHistoryCapacity < 1 {
		return errors.New("capacities must be >=1")
	}
	if c.BootstrapLimit < 0 {
		return errors.New("bootstrap_limit must be >=0")
	}
	if c.ReconnectMinDelay <= 0 {
		return errors.New("reconnect_min_delay must be >0")
	}
	if c.ReconnectMaxDelay < c.ReconnectMinDelay {
		return errors.New("reconnect_max_delay must be >= reconnect_min_delay")
	}
	return nil
}

func NewLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}
