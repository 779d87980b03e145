package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"emerald_exchange/internal/domain"

	"gopkg.in/yaml.v3"
)

// yamlEntry is the on-disk shape of one account's stats.
type yamlEntry struct {
	Name    string `yaml:"name"`
	Total   int64  `yaml:"total"`
	Updated int64  `yaml:"updated"` // unix millis
}

// YAMLStore is the file-backed key-value backend. Authoritative state
// lives in an in-memory map; the whole map is flushed to disk on every
// write. Acceptable because write volume maps 1:1 to trade volume.
// Also serves as the emergency cache during a networked-backend outage.
type YAMLStore struct {
	path string

	mu    sync.Mutex
	cache map[string]*domain.AccountStats

	available atomic.Bool
}

// NewYAMLStore creates a store persisting to the given file path.
func NewYAMLStore(path string) *YAMLStore {
	return &YAMLStore{path: path, cache: make(map[string]*domain.AccountStats)}
}

func (s *YAMLStore) Kind() Kind      { return KindYAML }
func (s *YAMLStore) Available() bool { return s.available.Load() }

// Path returns the backing file location.
func (s *YAMLStore) Path() string { return s.path }

// Init creates the file if missing and warms the in-memory cache.
func (s *YAMLStore) Init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	entries, err := loadYAMLFile(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for id, e := range entries {
		s.cache[id] = &domain.AccountStats{
			ID:             id,
			Name:           e.Name,
			TotalConverted: e.Total,
			LastUpdated:    time.UnixMilli(e.Updated),
		}
	}
	n := len(s.cache)
	s.mu.Unlock()

	s.available.Store(true)
	slog.Info("yaml storage initialized", slog.String("file", s.path), slog.Int("accounts", n))
	return nil
}

// loadYAMLFile reads an account-stats file; a missing or empty file
// yields an empty map.
func loadYAMLFile(path string) (map[string]yamlEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]yamlEntry{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	entries := map[string]yamlEntry{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return entries, nil
}

// flushLocked writes the entire cache to disk. Caller holds s.mu.
func (s *YAMLStore) flushLocked() error {
	entries := make(map[string]yamlEntry, len(s.cache))
	for id, st := range s.cache {
		entries[id] = yamlEntry{Name: st.Name, Total: st.TotalConverted, Updated: st.LastUpdated.UnixMilli()}
	}
	data, err := yaml.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

func (s *YAMLStore) AccountStats(ctx context.Context, accountID string) (*domain.AccountStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.cache[accountID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *YAMLStore) SaveAccountStats(ctx context.Context, stats *domain.AccountStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *stats
	s.cache[stats.ID] = &cp
	return s.flushLocked()
}

func (s *YAMLStore) IncrementConverted(ctx context.Context, accountID, name string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.cache[accountID]
	if !ok {
		st = &domain.AccountStats{ID: accountID, Name: name}
		s.cache[accountID] = st
	}
	st.Name = name
	st.TotalConverted += amount
	st.LastUpdated = time.Now()
	return s.flushLocked()
}

func (s *YAMLStore) TotalConverted(ctx context.Context, accountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.cache[accountID]; ok {
		return st.TotalConverted, nil
	}
	return 0, nil
}

// LogTrade is a no-op for the file backend: the flat-file transaction
// recorder owns the durable trade log when this backend is active.
func (s *YAMLStore) LogTrade(ctx context.Context, record *domain.TradeRecord) error {
	return nil
}

// All returns a stable-ordered copy of every cached stats row. Used by
// the gateway's migration and emergency-cache flush.
func (s *YAMLStore) All() []*domain.AccountStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.AccountStats, 0, len(s.cache))
	for _, st := range s.cache {
		cp := *st
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete removes one account's row and persists the change.
func (s *YAMLStore) Delete(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, accountID)
	return s.flushLocked()
}

func (s *YAMLStore) FlushAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// Close flushes and marks the store unavailable.
func (s *YAMLStore) Close(ctx context.Context) error {
	s.available.Store(false)
	return s.FlushAll(ctx)
}

// Remove deletes the backing file; used after a successful migration or
// emergency-cache flush.
func (s *YAMLStore) Remove() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
