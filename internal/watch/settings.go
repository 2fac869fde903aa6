package watch

import (
	"errors"
	"sync"
	"time"
)

// MinInterval guards the catalog source against hammering.
const MinInterval = 60 * time.Second

var (
	ErrIntervalTooShort = errors.New("interval must be at least 60 seconds")
	ErrBadChannel       = errors.New("invalid channel id")
)

// Settings holds the runtime-mutable engine configuration: where
// notifications go and how often polling occurs. It lives for the process
// lifetime; config-file values only seed it and never override an
// admin-set value on hot reload.
type Settings struct {
	mu sync.Mutex

	chatID    int64
	interval  time.Duration
	lastCheck time.Time

	chatSet     bool
	intervalSet bool
}

type Status struct {
	ChannelID int64
	Interval  time.Duration
	LastCheck time.Time
}

func NewSettings(defaultInterval time.Duration, defaultChatID int64) *Settings {
	if defaultInterval < MinInterval {
		defaultInterval = 5 * time.Minute
	}
	return &Settings{chatID: defaultChatID, interval: defaultInterval}
}

// SetChannel points notifications at the given chat.
func (s *Settings) SetChannel(chatID int64) error {
	if chatID == 0 {
		return ErrBadChannel
	}
	s.mu.Lock()
	s.chatID = chatID
	s.chatSet = true
	s.mu.Unlock()
	return nil
}

// SetInterval replaces the poll interval used from the next cycle
// boundary on. Values below the minimum are rejected.
func (s *Settings) SetInterval(seconds int) error {
	if time.Duration(seconds)*time.Second < MinInterval {
		return ErrIntervalTooShort
	}
	s.mu.Lock()
	s.interval = time.Duration(seconds) * time.Second
	s.intervalSet = true
	s.mu.Unlock()
	return nil
}

func (s *Settings) ChannelID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

func (s *Settings) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// MarkChecked stamps the end of a cycle, success or failure.
func (s *Settings) MarkChecked(t time.Time) {
	s.mu.Lock()
	s.lastCheck = t
	s.mu.Unlock()
}

func (s *Settings) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{ChannelID: s.chatID, Interval: s.interval, LastCheck: s.lastCheck}
}

// ApplyDefaults re-seeds values from a reloaded config file. Values an
// admin has set at runtime win over the file.
func (s *Settings) ApplyDefaults(interval time.Duration, chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.intervalSet && interval >= MinInterval {
		s.interval = interval
	}
	if !s.chatSet && chatID != 0 {
		s.chatID = chatID
	}
}
