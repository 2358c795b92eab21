package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/perry-systems/perryd/internal/apperr"
	"github.com/perry-systems/perryd/internal/model"
)

func TestNew_SeedsValidEmptyStateFile(t *testing.T) {
	dir := t.TempDir()
	_, err := New(dir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "state.json"))
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Contains(t, doc, "workspaces")
}

func TestUpsertGetDelete(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	rec := &model.WorkspaceRecord{
		Name:   "alpha",
		Status: model.StatusRunning,
		Ports:  model.PortMap{SSH: 2200},
	}
	require.NoError(t, s.Upsert(rec))

	got, ok := s.Get("alpha")
	require.True(t, ok)
	require.Equal(t, model.StatusRunning, got.Status)
	require.Equal(t, 2200, got.Ports.SSH)

	require.NoError(t, s.Delete("alpha"))
	_, ok = s.Get("alpha")
	require.False(t, ok)

	// Deleting an absent record is a no-op.
	require.NoError(t, s.Delete("alpha"))
}

func TestSetStatus_UnknownWorkspaceIsNotFound(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	err = s.SetStatus("ghost", model.StatusStopped, "")
	require.Error(t, err)
	require.True(t, apperr.IsNotFound(err))
}

func TestSave_AtomicAndReloadable(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, s.Upsert(&model.WorkspaceRecord{Name: "a", Ports: model.PortMap{SSH: 2200}}))
	require.NoError(t, s.Upsert(&model.WorkspaceRecord{Name: "b", Ports: model.PortMap{SSH: 2201}}))

	// Writes go through a temp file + rename: no temp residue and the
	// on-disk file parses at every point.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".tmp")
	}

	s2, err := New(dir)
	require.NoError(t, err)
	m, err := s2.Load()
	require.NoError(t, err)
	require.Len(t, m.Workspaces, 2)
	require.Equal(t, 2201, m.Workspaces["b"].Ports.SSH)
}

func TestConcurrentUpsertsAllSurvive(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	names := []string{"a", "b", "c", "d", "e"}
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(name string, port int) {
			defer wg.Done()
			_ = s.Upsert(&model.WorkspaceRecord{Name: name, Ports: model.PortMap{SSH: 2200 + port}})
		}(name, i)
	}
	wg.Wait()

	m, err := s.Load()
	require.NoError(t, err)
	require.Len(t, m.Workspaces, len(names))

	// Every ssh port is unique across the persisted map.
	seen := map[int]bool{}
	for _, rec := range m.Workspaces {
		require.False(t, seen[rec.Ports.SSH], "duplicate ssh port %d", rec.Ports.SSH)
		seen[rec.Ports.SSH] = true
	}
}

func TestTouchAndDisplayName(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Upsert(&model.WorkspaceRecord{Name: "a"}))
	require.NoError(t, s.Touch("a"))
	require.NoError(t, s.SetDisplayName("a", "Alpha Workspace"))

	got, ok := s.Get("a")
	require.True(t, ok)
	require.Equal(t, "Alpha Workspace", got.DisplayName)
	require.False(t, got.LastUsedAt.IsZero())
}

func TestLoad_CorruptFileSurfacesClearError(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte("{truncated"), 0644))
	_, err = s.Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "state.json")
}
