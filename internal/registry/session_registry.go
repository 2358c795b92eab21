// Package registry implements the session registry: a persistent
// mapping from system-assigned session ids to agent-native session ids,
// stored with the same locked-JSON-file discipline as the state store.
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/perry-systems/perryd/internal/apperr"
	"github.com/perry-systems/perryd/internal/filelock"
	"github.com/perry-systems/perryd/internal/model"
)

const registryVersion = 1

// Registry owns session-registry.json.
type Registry struct {
	path     string
	lockPath string

	mu    sync.RWMutex
	cache *model.SessionRegistryDoc
}

// New returns a Registry rooted at configDir.
func New(configDir string) (*Registry, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, err
	}
	r := &Registry{
		path:     filepath.Join(configDir, "session-registry.json"),
		lockPath: filepath.Join(configDir, ".session-registry.lock"),
	}
	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		doc := &model.SessionRegistryDoc{Version: registryVersion, Sessions: map[string]*model.SessionRecord{}}
		if err := r.writeLocked(doc); err != nil {
			return nil, err
		}
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}
	var doc model.SessionRegistryDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return apperr.Wrap(apperr.Internal, "session-registry.json is corrupt", err)
	}
	if doc.Sessions == nil {
		doc.Sessions = map[string]*model.SessionRecord{}
	}
	if doc.Version == 0 {
		doc.Version = registryVersion
	}
	r.mu.Lock()
	r.cache = &doc
	r.mu.Unlock()
	return nil
}

func (r *Registry) writeLocked(doc *model.SessionRegistryDoc) error {
	if doc.Sessions == nil {
		doc.Sessions = map[string]*model.SessionRecord{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".session-registry-*.tmp")
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
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	r.mu.Lock()
	r.cache = doc
	r.mu.Unlock()
	return nil
}

// mutate acquires the lock, re-reads the authoritative document, applies
// fn, and saves — serializing concurrent registry writers process-wide.
func (r *Registry) mutate(fn func(doc *model.SessionRegistryDoc) error) error {
	lock, err := filelock.Acquire(r.lockPath)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "could not acquire session registry lock", err)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}
	var doc model.SessionRegistryDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return apperr.Wrap(apperr.Internal, "session-registry.json is corrupt", err)
	}
	if doc.Sessions == nil {
		doc.Sessions = map[string]*model.SessionRecord{}
	}
	if doc.Version == 0 {
		doc.Version = registryVersion
	}
	if err := fn(&doc); err != nil {
		return err
	}
	return r.writeLocked(&doc)
}

// CreateSession generates a fresh ownId and timestamps, persists the
// record, and returns it. Concurrent CreateSession calls never collide:
// each acquires the lock in turn and writes under a freshly generated id.
func (r *Registry) CreateSession(workspaceName string, kind model.AgentKind, projectPath string) (*model.SessionRecord, error) {
	rec := &model.SessionRecord{
		OwnID:         uuid.NewString(),
		WorkspaceName: workspaceName,
		AgentKind:     kind,
		ProjectPath:   projectPath,
		CreatedAt:     time.Now(),
		LastActivity:  time.Now(),
	}
	err := r.mutate(func(doc *model.SessionRegistryDoc) error {
		doc.Sessions[rec.OwnID] = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// LinkAgentSession records the agent-native session id learned from the
// agent's first reply and bumps lastActivity. Returns nil if ownId is
// unknown.
func (r *Registry) LinkAgentSession(ownID, nativeID string) (*model.SessionRecord, error) {
	var result *model.SessionRecord
	err := r.mutate(func(doc *model.SessionRegistryDoc) error {
		rec, ok := doc.Sessions[ownID]
		if !ok {
			return nil
		}
		rec.AgentNativeID = nativeID
		rec.LastActivity = time.Now()
		result = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ImportExternalSession records a session discovered on the workspace
// filesystem (a JSONL transcript the agent wrote outside this system). If
// a record already maps (workspaceName, agentKind, agentNativeID), that
// existing record is returned unchanged — imports never duplicate.
func (r *Registry) ImportExternalSession(workspaceName string, kind model.AgentKind, nativeID, projectPath string) (*model.SessionRecord, error) {
	var result *model.SessionRecord
	err := r.mutate(func(doc *model.SessionRegistryDoc) error {
		for _, rec := range doc.Sessions {
			if rec.WorkspaceName == workspaceName && rec.AgentKind == kind && rec.AgentNativeID == nativeID {
				result = rec
				return nil
			}
		}
		rec := &model.SessionRecord{
			OwnID:         uuid.NewString(),
			WorkspaceName: workspaceName,
			AgentKind:     kind,
			AgentNativeID: nativeID,
			ProjectPath:   projectPath,
			CreatedAt:     time.Now(),
			LastActivity:  time.Now(),
		}
		doc.Sessions[rec.OwnID] = rec
		result = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Get returns a session record by ownId from the in-memory cache.
func (r *Registry) Get(ownID string) (*model.SessionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.cache.Sessions[ownID]
	return rec, ok
}

// GetSessionsForWorkspace returns every session for workspaceName, sorted
// by lastActivity descending.
func (r *Registry) GetSessionsForWorkspace(workspaceName string) []*model.SessionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.SessionRecord, 0)
	for _, rec := range r.cache.Sessions {
		if rec.WorkspaceName == workspaceName {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out
}

// ListAll returns every session across every workspace, sorted by
// lastActivity descending.
func (r *Registry) ListAll() []*model.SessionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.SessionRecord, 0, len(r.cache.Sessions))
	for _, rec := range r.cache.Sessions {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out
}

// Rename sets a session's display name.
func (r *Registry) Rename(ownID, displayName string) error {
	return r.mutate(func(doc *model.SessionRegistryDoc) error {
		rec, ok := doc.Sessions[ownID]
		if !ok {
			return apperr.NotFoundf("session", ownID)
		}
		rec.DisplayName = displayName
		return nil
	})
}

// ClearName sets a session's display name to empty. No name is taken
// from the transcript's session_name line in its place.
func (r *Registry) ClearName(ownID string) error {
	return r.mutate(func(doc *model.SessionRegistryDoc) error {
		rec, ok := doc.Sessions[ownID]
		if !ok {
			return apperr.NotFoundf("session", ownID)
		}
		rec.DisplayName = ""
		return nil
	})
}
