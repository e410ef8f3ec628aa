// Package kvstore is an in-process, TTL-aware key-value store with a
// write-through JSON snapshot to disk, so gating state and the
// emergency-stop/daily-counter globals survive process restarts. It keeps
// a mutex-guarded struct that persists on every write, generalized from
// one daily file to a generic per-key expiry map.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"signalengine/internal/store"
	"signalengine/pkg/model"
)

type entry struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// Store is a sync.RWMutex-guarded map of entries, flushed to a single
// JSON file on every write.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	path    string
	nowFn   func() time.Time
}

var _ store.KVStore = (*Store)(nil)

// New opens (or creates) a kv store backed by path. If path is empty, the
// store is purely in-memory and never persisted, which is adequate for
// tests.
func New(path string) (*Store, error) {
	s := &Store{
		entries: make(map[string]entry),
		path:    path,
		nowFn:   time.Now,
	}
	if path == "" {
		return s, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("kvstore: creating data dir: %w", err)
	}
	if data, err := os.ReadFile(path); err == nil {
		var entries map[string]entry
		if err := json.Unmarshal(data, &entries); err == nil {
			s.entries = entries
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("kvstore: reading snapshot: %w", err)
	}
	return s, nil
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

func (s *Store) get(key string) (json.RawMessage, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if e.ExpiresAt != nil && s.nowFn().After(*e.ExpiresAt) {
		return nil, false
	}
	return e.Value, true
}

func (s *Store) set(key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	e := entry{Value: raw}
	if ttl > 0 {
		exp := s.nowFn().Add(ttl)
		e.ExpiresAt = &exp
	}
	s.entries[key] = e
	return s.save()
}

const (
	prevSignalTTL = 7 * 24 * time.Hour
	dailyCountTTL = 48 * time.Hour
)

func prevSignalKey(id string) string { return "prev_signal:" + id }
func cooldownKey(id string) string   { return "cooldown:" + id }
func dailyCountKey(date string) string { return "daily_count:" + date }
const emergencyStopKey = "emergency_stop"
const thresholdsKey = "config:thresholds"

func (s *Store) GetPreviousSignal(ctx context.Context, instrumentID string) (*store.PreviousDecision, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.get(prevSignalKey(instrumentID))
	if !ok {
		return nil, false, nil
	}
	var d store.PreviousDecision
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, false, err
	}
	return &d, true, nil
}

func (s *Store) SetPreviousSignal(ctx context.Context, instrumentID string, d store.PreviousDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(prevSignalKey(instrumentID), d, prevSignalTTL)
}

func (s *Store) IsInCooldown(ctx context.Context, instrumentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.get(cooldownKey(instrumentID))
	return ok, nil
}

func (s *Store) SetCooldown(ctx context.Context, instrumentID string, hours int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(cooldownKey(instrumentID), true, time.Duration(hours)*time.Hour)
}

func (s *Store) GetDailyNotifyCount(ctx context.Context, utcDate string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.get(dailyCountKey(utcDate))
	if !ok {
		return 0, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) IncrementDailyNotifyCount(ctx context.Context, utcDate string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.get(dailyCountKey(utcDate))
	n := 0
	if ok {
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, err
		}
	}
	n++
	if err := s.set(dailyCountKey(utcDate), n, dailyCountTTL); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) IsEmergencyStop(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.get(emergencyStopKey)
	if !ok {
		return false, nil
	}
	var stop bool
	if err := json.Unmarshal(raw, &stop); err != nil {
		return false, err
	}
	return stop, nil
}

func (s *Store) SetEmergencyStop(ctx context.Context, stop bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(emergencyStopKey, stop, 0)
}

func (s *Store) GetThresholds(ctx context.Context) (model.Thresholds, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.get(thresholdsKey)
	if !ok {
		return model.Thresholds{}, false, nil
	}
	var th model.Thresholds
	if err := json.Unmarshal(raw, &th); err != nil {
		return model.Thresholds{}, false, err
	}
	return th, true, nil
}

func (s *Store) SetThresholds(ctx context.Context, th model.Thresholds) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(thresholdsKey, th, 0)
}
