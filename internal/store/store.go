// Package store persists the set of catalog items that were already seen
// and notified.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"dropwatch/pkg/logx"
)

var ErrClosed = errors.New("store closed")

// Config selects the persistence backend.
//
// Driver values:
//   - "file" (default): JSON snapshot with atomic temp-then-rename writes
//   - "sqlite": SQLite database file (requires the `sqlite` build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is the stored summary of one seen item. Only ID matters for
// correctness; the rest is kept for inspection.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Price     string    `json:"price,omitempty"`
	URL       string    `json:"url,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
}

// Store is the listing snapshot API used by the watch engine.
//
// Contains and Len are O(1): every driver keeps the id set in memory and
// loads it once at Open. Merge is idempotent on identity; merging an
// already-present id never changes the set. Save persists durably enough
// that a crash mid-write cannot corrupt the previous snapshot.
type Store interface {
	Contains(id string) bool
	Merge(recs []Record) int
	Save(ctx context.Context) error
	Reset(ctx context.Context) error
	Len() int
	Close() error
}

// Open initializes the configured store and loads the existing snapshot.
// A missing or unreadable snapshot is a cold start, not an error.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
