package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"dropwatch/pkg/logx"
)

// fileStore is the dependency-free backend: one JSON snapshot file,
// replaced atomically on every save.
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	path   string
	seen   map[string]Record
	dirty  bool
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./data/dropwatch.snapshot.json"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path, seen: map[string]Record{}}
	s.load()
	return s, nil
}

// load fails soft: a missing file is a cold start and a corrupt file is
// logged and treated as empty. A previous save's leftover temp file is
// never read, so a crash mid-save cannot poison the snapshot.
func (s *fileStore) load() {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("snapshot unreadable; starting fresh", logx.String("path", s.path), logx.Err(err))
		}
		return
	}
	var m map[string]Record
	if err := json.Unmarshal(b, &m); err != nil {
		s.log.Warn("snapshot corrupt; starting fresh", logx.String("path", s.path), logx.Err(err))
		return
	}
	for id, r := range m {
		if strings.TrimSpace(id) == "" {
			continue
		}
		r.ID = id
		s.seen[id] = r
	}
	s.log.Info("snapshot loaded", logx.String("path", s.path), logx.Int("items", len(s.seen)))
}

func (s *fileStore) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok
}

func (s *fileStore) Merge(recs []Record) int {
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
		added++
	}
	if added > 0 {
		s.dirty = true
	}
	return added
}

func (s *fileStore) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.dirty {
		return nil
	}
	if err := s.writeLocked(); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func (s *fileStore) writeLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.seen); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.seen = map[string]Record{}
	s.dirty = true
	if err := s.writeLocked(); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func (s *fileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.dirty {
		if err := s.writeLocked(); err != nil {
			return err
		}
		s.dirty = false
	}
	return nil
}
