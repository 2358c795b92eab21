// Package store implements the state store: a JSON-on-disk map of
// workspaces guarded by an advisory file lock with retry. The file is
// plain JSON so operators can inspect and repair it by hand.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/perry-systems/perryd/internal/apperr"
	"github.com/perry-systems/perryd/internal/filelock"
	"github.com/perry-systems/perryd/internal/model"
)

// StateStore owns state.json: the durable record of every workspace.
type StateStore struct {
	path     string
	lockPath string

	mu    sync.RWMutex
	cache *model.WorkspaceMap // in-memory cache refreshed on every write
}

// New returns a StateStore rooted at configDir.
func New(configDir string) (*StateStore, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, err
	}
	s := &StateStore{
		path:     filepath.Join(configDir, "state.json"),
		lockPath: filepath.Join(configDir, ".state.lock"),
	}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		if err := s.writeLocked(&model.WorkspaceMap{Workspaces: map[string]*model.WorkspaceRecord{}}); err != nil {
			return nil, err
		}
	}
	if _, err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads state.json from disk into the in-memory cache and returns it.
// The on-disk file is always a valid object with a "workspaces" key.
func (s *StateStore) Load() (*model.WorkspaceMap, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var m model.WorkspaceMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "state.json is corrupt", err)
	}
	if m.Workspaces == nil {
		m.Workspaces = map[string]*model.WorkspaceRecord{}
	}
	s.mu.Lock()
	s.cache = &m
	s.mu.Unlock()
	return &m, nil
}

// Get returns the cached record (the cache's own pointer, not a copy)
// without hitting disk.
func (s *StateStore) Get(name string) (*model.WorkspaceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache == nil {
		return nil, false
	}
	rec, ok := s.cache.Workspaces[name]
	return rec, ok
}

// List returns every cached workspace record.
func (s *StateStore) List() []*model.WorkspaceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.WorkspaceRecord, 0, len(s.cache.Workspaces))
	for _, rec := range s.cache.Workspaces {
		out = append(out, rec)
	}
	return out
}

// Save persists the full map under the file lock, then refreshes the cache.
func (s *StateStore) Save(m *model.WorkspaceMap) error {
	lock, err := filelock.Acquire(s.lockPath)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "could not acquire state lock", err)
	}
	defer lock.Unlock()
	return s.writeLocked(m)
}

// writeLocked assumes the caller already holds (or doesn't need) the lock;
// it serializes the whole map and atomically renames it into place.
func (s *StateStore) writeLocked(m *model.WorkspaceMap) error {
	if m.Workspaces == nil {
		m.Workspaces = map[string]*model.WorkspaceRecord{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	s.mu.Lock()
	s.cache = m
	s.mu.Unlock()
	return nil
}

// mutate acquires the lock, re-reads the authoritative on-disk map (to
// avoid clobbering a concurrent writer's change), applies fn, and saves.
func (s *StateStore) mutate(fn func(m *model.WorkspaceMap) error) error {
	lock, err := filelock.Acquire(s.lockPath)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "could not acquire state lock", err)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var m model.WorkspaceMap
	if err := json.Unmarshal(data, &m); err != nil {
		return apperr.Wrap(apperr.Internal, "state.json is corrupt", err)
	}
	if m.Workspaces == nil {
		m.Workspaces = map[string]*model.WorkspaceRecord{}
	}
	if err := fn(&m); err != nil {
		return err
	}
	return s.writeLocked(&m)
}

// Upsert inserts or replaces a workspace record.
func (s *StateStore) Upsert(rec *model.WorkspaceRecord) error {
	return s.mutate(func(m *model.WorkspaceMap) error {
		m.Workspaces[rec.Name] = rec
		return nil
	})
}

// Delete removes a workspace record; idempotent if already absent.
func (s *StateStore) Delete(name string) error {
	return s.mutate(func(m *model.WorkspaceMap) error {
		delete(m.Workspaces, name)
		return nil
	})
}

// SetStatus updates a workspace's status field.
func (s *StateStore) SetStatus(name string, status model.WorkspaceStatus, errMsg string) error {
	return s.mutate(func(m *model.WorkspaceMap) error {
		rec, ok := m.Workspaces[name]
		if !ok {
			return apperr.NotFoundf("workspace", name)
		}
		rec.Status = status
		rec.ErrorMsg = errMsg
		return nil
	})
}

// Touch bumps a workspace's last-used timestamp to now.
func (s *StateStore) Touch(name string) error {
	return s.mutate(func(m *model.WorkspaceMap) error {
		rec, ok := m.Workspaces[name]
		if !ok {
			return apperr.NotFoundf("workspace", name)
		}
		rec.LastUsedAt = time.Now()
		return nil
	})
}

// SetDisplayName sets a workspace's display name.
func (s *StateStore) SetDisplayName(name, displayName string) error {
	return s.mutate(func(m *model.WorkspaceMap) error {
		rec, ok := m.Workspaces[name]
		if !ok {
			return apperr.NotFoundf("workspace", name)
		}
		rec.DisplayName = displayName
		return nil
	})
}

// SetPortForwards replaces a workspace's additional forward map.
func (s *StateStore) SetPortForwards(name string, forwards map[string]int) error {
	return s.mutate(func(m *model.WorkspaceMap) error {
		rec, ok := m.Workspaces[name]
		if !ok {
			return apperr.NotFoundf("workspace", name)
		}
		rec.Ports.Forwards = forwards
		return nil
	})
}
