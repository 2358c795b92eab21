package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/perry-systems/perryd/internal/model"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(t.TempDir())
	require.NoError(t, err)
	return r
}

func TestCreateSession_ConcurrentCreatesAllSurvive(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.CreateSession("ws-a", model.AgentClaude, "/home/workspace/proj")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Len(t, r.GetSessionsForWorkspace("ws-a"), n)

	// A fresh Registry over the same directory sees all of them too.
	r2, err := New(dir)
	require.NoError(t, err)
	require.Len(t, r2.GetSessionsForWorkspace("ws-a"), n)
}

func TestImportExternalSession_Idempotent(t *testing.T) {
	r := newTestRegistry(t)

	first, err := r.ImportExternalSession("ws-a", model.AgentClaude, "native-1", "/proj")
	require.NoError(t, err)

	second, err := r.ImportExternalSession("ws-a", model.AgentClaude, "native-1", "/proj")
	require.NoError(t, err)
	require.Equal(t, first.OwnID, second.OwnID)
	require.Len(t, r.GetSessionsForWorkspace("ws-a"), 1)

	// A different native id for the same workspace is a new record.
	third, err := r.ImportExternalSession("ws-a", model.AgentClaude, "native-2", "/proj")
	require.NoError(t, err)
	require.NotEqual(t, first.OwnID, third.OwnID)
	require.Len(t, r.GetSessionsForWorkspace("ws-a"), 2)
}

func TestLinkAgentSession_SetsNativeIDAndBumpsActivity(t *testing.T) {
	r := newTestRegistry(t)

	rec, err := r.CreateSession("ws-a", model.AgentOpenCode, "")
	require.NoError(t, err)
	before := rec.LastActivity

	time.Sleep(5 * time.Millisecond)
	linked, err := r.LinkAgentSession(rec.OwnID, "oc-42")
	require.NoError(t, err)
	require.NotNil(t, linked)
	require.Equal(t, "oc-42", linked.AgentNativeID)
	require.True(t, linked.LastActivity.After(before))
}

func TestLinkAgentSession_UnknownIDReturnsNil(t *testing.T) {
	r := newTestRegistry(t)
	linked, err := r.LinkAgentSession("nope", "x")
	require.NoError(t, err)
	require.Nil(t, linked)
}

func TestGetSessionsForWorkspace_SortedByActivityDescending(t *testing.T) {
	r := newTestRegistry(t)

	a, err := r.CreateSession("ws-a", model.AgentClaude, "")
	require.NoError(t, err)
	b, err := r.CreateSession("ws-a", model.AgentClaude, "")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = r.LinkAgentSession(a.OwnID, "newer")
	require.NoError(t, err)

	got := r.GetSessionsForWorkspace("ws-a")
	require.Len(t, got, 2)
	require.Equal(t, a.OwnID, got[0].OwnID)
	require.Equal(t, b.OwnID, got[1].OwnID)
}

func TestRenameAndClearName(t *testing.T) {
	r := newTestRegistry(t)

	rec, err := r.CreateSession("ws-a", model.AgentCodex, "")
	require.NoError(t, err)

	require.NoError(t, r.Rename(rec.OwnID, "My refactor"))
	got, ok := r.Get(rec.OwnID)
	require.True(t, ok)
	require.Equal(t, "My refactor", got.DisplayName)

	require.NoError(t, r.ClearName(rec.OwnID))
	got, _ = r.Get(rec.OwnID)
	require.Empty(t, got.DisplayName)

	require.Error(t, r.Rename("missing", "x"))
}
