package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the file-backed configuration. The bot token is intentionally
// absent: it is supplied out-of-band via DROPWATCH_TELEGRAM_TOKEN.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Catalog  CatalogConfig  `json:"catalog"`
	Watch    WatchConfig    `json:"watch"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
}

type TelegramConfig struct {
	// PollTimeout is the long-poll timeout, e.g. "10s".
	PollTimeout string `json:"poll_timeout"`
	// AdminUserIDs may grant admin command access to users outside the
	// target chat (e.g. the operator in a direct message).
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// DefaultChatID pre-seeds the notification target; /setchannel
	// overrides it at runtime.
	DefaultChatID int64 `json:"default_chat_id"`
}

type CatalogConfig struct {
	URL       string `json:"url"`
	Timeout   string `json:"timeout"`
	UserAgent string `json:"user_agent"`
}

type WatchConfig struct {
	// IntervalSeconds is the default poll interval; /interval overrides it
	// at runtime. Minimum 60.
	IntervalSeconds int `json:"interval_seconds"`
	// MaintenanceSpec is a cron spec for the periodic snapshot flush.
	MaintenanceSpec string `json:"maintenance_spec"`
}

type StorageConfig struct {
	Driver      string `json:"driver"` // "file" (default) or "sqlite"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"` // sqlite only
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console *bool      `json:"console"`
	File    FileConfig `json:"file"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

const (
	DefaultIntervalSeconds = 300
	MinIntervalSeconds     = 60
)

// ConsoleEnabled defaults to true when the field is omitted.
func (l LoggingConfig) ConsoleEnabled() bool {
	if l.Console == nil {
		return true
	}
	return *l.Console
}

// Validate rejects configs that would misbehave at runtime. It is also the
// hot-reload gate: a reload that fails validation is never committed.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Catalog.URL) == "" {
		return errors.New("catalog.url is required")
	}
	if c.Watch.IntervalSeconds != 0 && c.Watch.IntervalSeconds < MinIntervalSeconds {
		return fmt.Errorf("watch.interval_seconds must be at least %d", MinIntervalSeconds)
	}
	if _, err := ParseDuration("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second); err != nil {
		return err
	}
	if _, err := ParseDuration("catalog.timeout", c.Catalog.Timeout, 10*time.Second); err != nil {
		return err
	}
	if _, err := ParseDuration("storage.busy_timeout", c.Storage.BusyTimeout, 0); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	return nil
}

// Interval returns the configured default poll interval.
func (c *Config) Interval() time.Duration {
	if c.Watch.IntervalSeconds <= 0 {
		return DefaultIntervalSeconds * time.Second
	}
	return time.Duration(c.Watch.IntervalSeconds) * time.Second
}

// ParseDuration parses an optional duration field, returning def when the
// field is blank.
func ParseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must not be negative", field)
	}
	return d, nil
}
