//go:build sqlite
// +build sqlite

package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"dropwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps the id set in memory (O(1) Contains) and writes only
// rows added since the last Save, inside one transaction.
type sqliteStore struct {
	log logx.Logger
	db  *sql.DB

	mu      sync.Mutex
	seen    map[string]Record
	pending []Record
	closed  bool
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &sqliteStore{log: log, db: db, seen: map[string]Record{}}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.load(context.Background()); err != nil {
		// Same soft-fail contract as the file driver: an unreadable
		// snapshot is a cold start.
		s.log.Warn("snapshot unreadable; starting fresh", logx.String("path", path), logx.Err(err))
	}
	return s, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, price, url, first_seen FROM listings`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var r Record
		var firstSeen string
		if err := rows.Scan(&r.ID, &r.Name, &r.Price, &r.URL, &firstSeen); err != nil {
			return err
		}
		if t, err := time.Parse(time.RFC3339Nano, firstSeen); err == nil {
			r.FirstSeen = t
		}
		s.seen[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.log.Info("snapshot loaded", logx.Int("items", len(s.seen)))
	return nil
}

func (s *sqliteStore) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok
}

func (s *sqliteStore) Merge(recs []Record) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, r := range recs {
		if strings.TrimSpace(r.ID) == "" {
			continue
		}
		if _, ok := s.seen[r.ID]; ok {
			continue
		}
		s.seen[r.ID] = r
		s.pending = append(s.pending, r)
		added++
	}
	return added
}

func (s *sqliteStore) Save(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.requeue(pending)
		return err
	}
	for _, r := range pending {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO listings(id, name, price, url, first_seen) VALUES(?,?,?,?,?)
			 ON CONFLICT(id) DO NOTHING`,
			r.ID, r.Name, r.Price, r.URL, r.FirstSeen.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			_ = tx.Rollback()
			s.requeue(pending)
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		s.requeue(pending)
		return err
	}
	return nil
}

// requeue puts rows back so a failed save is retried by the next one.
func (s *sqliteStore) requeue(recs []Record) {
	s.mu.Lock()
	s.pending = append(recs, s.pending...)
	s.mu.Unlock()
}

func (s *sqliteStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	// Rows first: clearing memory before a failed DELETE would leave the
	// database holding ids a restart then resurrects.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM listings`); err != nil {
		return err
	}

	s.mu.Lock()
	s.seen = map[string]Record{}
	s.pending = nil
	s.mu.Unlock()
	return nil
}

func (s *sqliteStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *sqliteStore) Close() error {
	if err := s.Save(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
		s.log.Warn("final save failed", logx.Err(err))
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.db.Close()
}
