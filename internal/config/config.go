package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	envEndpointURL    = "RIDERALERT_ENDPOINT_URL"
	envTelegramToken  = "RIDERALERT_TELEGRAM_TOKEN"
	envTelegramChatID = "RIDERALERT_TELEGRAM_CHAT_ID"
	envLogLevel       = "RIDERALERT_LOG_LEVEL"
)

// Config represents configuration data for the rider alert service.
type Config struct {
	Addr                     string   `yaml:"addr"`
	DataDirectory            string   `yaml:"data_directory"`
	LogLevel                 string   `yaml:"log_level"`
	Endpoint                 Endpoint `yaml:"endpoint"`
	ActiveOrdersPage         string   `yaml:"active_orders_page"`
	PollIntervalSeconds      int      `yaml:"poll_interval_seconds"`
	AlarmPollIntervalSeconds int      `yaml:"alarm_poll_interval_seconds"`
	HistorySize              int      `yaml:"history_size"`
	Alarm                    Alarm    `yaml:"alarm"`
	Telegram                 Telegram `yaml:"telegram"`
}

// Endpoint describes the remote order status endpoint.
type Endpoint struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Alarm tunes the synthetic alarm tone.
type Alarm struct {
	BeepIntervalMS   int  `yaml:"beep_interval_ms"`
	KeepAliveSeconds int  `yaml:"keep_alive_seconds"`
	TerminalBell     bool `yaml:"terminal_bell"`
}

// Telegram configures the optional Telegram notification channel.
type Telegram struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

// DefaultConfig returns sensible defaults in case no configuration file is provided.
func DefaultConfig() Config {
	return Config{
		Addr:          ":8080",
		DataDirectory: filepath.Join(".dist", "data"),
		LogLevel:      "info",
		Endpoint: Endpoint{
			URL:            "https://irsakitchen.com/rider_api.php",
			TimeoutSeconds: 10,
		},
		ActiveOrdersPage:         "https://irsakitchen.com/activeorders",
		PollIntervalSeconds:      5,
		AlarmPollIntervalSeconds: 2,
		HistorySize:              2048,
		Alarm: Alarm{
			BeepIntervalMS:   1000,
			KeepAliveSeconds: 20,
		},
	}
}

// Load reads configuration from yaml file. Missing files fall back to defaults.
// Environment variables override the file for the endpoint, Telegram credentials and log level.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, errors.Wrap(err, "read config")
		default:
			if err := yaml.Unmarshal(content, &cfg); err != nil {
				return Config{}, errors.Wrap(err, "parse config")
			}
		}
	}

	applyEnv(&cfg)
	normalise(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports configuration that cannot be normalised into something usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint.URL) == "" {
		return errors.New("endpoint.url is required")
	}
	u, err := url.Parse(c.Endpoint.URL)
	if err != nil {
		return errors.Wrap(err, "endpoint.url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("endpoint.url must be http or https, got %q", u.Scheme)
	}
	if c.Telegram.Enabled {
		if c.Telegram.Token == "" {
			return errors.New("telegram.token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return errors.New("telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// PollInterval is the tick period while no alarm is ringing.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// AlarmPollInterval is the tick period while the alarm is ringing.
func (c Config) AlarmPollInterval() time.Duration {
	return time.Duration(c.AlarmPollIntervalSeconds) * time.Second
}

// RequestTimeout bounds a single poll request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Endpoint.TimeoutSeconds) * time.Second
}

// BeepInterval is the period of the repeating alarm tone.
func (c Config) BeepInterval() time.Duration {
	return time.Duration(c.Alarm.BeepIntervalMS) * time.Millisecond
}

// KeepAliveInterval is the period of the inaudible keep-alive tone.
func (c Config) KeepAliveInterval() time.Duration {
	return time.Duration(c.Alarm.KeepAliveSeconds) * time.Second
}

// SessionPath is the file backing the persisted session scalars.
func (c Config) SessionPath() string {
	return filepath.Join(c.DataDirectory, "session.json")
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envEndpointURL); v != "" {
		cfg.Endpoint.URL = v
	}
	if v := os.Getenv(envTelegramToken); v != "" {
		cfg.Telegram.Token = v
		cfg.Telegram.Enabled = true
	}
	if v := os.Getenv(envTelegramChatID); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = v
	}
}

func normalise(cfg *Config) {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.DataDirectory == "" {
		cfg.DataDirectory = def.DataDirectory
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.Endpoint.TimeoutSeconds <= 0 {
		cfg.Endpoint.TimeoutSeconds = def.Endpoint.TimeoutSeconds
	}
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = def.PollIntervalSeconds
	}
	if cfg.AlarmPollIntervalSeconds <= 0 {
		cfg.AlarmPollIntervalSeconds = def.AlarmPollIntervalSeconds
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.Alarm.BeepIntervalMS < 100 {
		cfg.Alarm.BeepIntervalMS = def.Alarm.BeepIntervalMS
	}
	if cfg.Alarm.KeepAliveSeconds <= 0 {
		cfg.Alarm.KeepAliveSeconds = def.Alarm.KeepAliveSeconds
	}
}
