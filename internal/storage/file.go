package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "xbot/pkg/logx"
)

// fileStore keeps two files next to cfg.Path:
//   - <prefix>.actions.jsonl (append-only JSON Lines)
//   - <prefix>.status.json   (replaced via rename on every save)
type fileStore struct {
	log logx.Logger

	mu          sync.Mutex
	actions     *os.File
	actionsPath string
	statusPath  string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage: path is required for the file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	actionsPath := prefix + ".actions.jsonl"
	af, err := os.OpenFile(actionsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("storage: open action log: %w", err)
	}
	return &fileStore{
		log:         log,
		actions:     af,
		actionsPath: actionsPath,
		statusPath:  prefix + ".status.json",
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actions == nil {
		return nil
	}
	err := s.actions.Close()
	s.actions = nil
	return err
}

func (s *fileStore) AppendAction(_ context.Context, e ActionEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actions == nil {
		return ErrDisabled
	}
	return json.NewEncoder(s.actions).Encode(e)
}

func (s *fileStore) RecentActions(_ context.Context, n int) ([]ActionEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.actionsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	ring := make([]ActionEntry, 0, n)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e ActionEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, e)
	}
	return ring, sc.Err()
}

func (s *fileStore) SaveStatus(_ context.Context, st Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.statusPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(st); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.statusPath)
}

func (s *fileStore) LoadStatus(_ context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.statusPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Status{}, nil
		}
		return nil, err
	}
	st := Status{}
	if err := json.Unmarshal(b, &st); err != nil {
		s.log.Warn("status snapshot unreadable, starting empty", logx.Err(err))
		return Status{}, nil
	}
	return st, nil
}
