package pty

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManager_CloseConnectionsForWorkspaceOnlyAffectsThatWorkspace(t *testing.T) {
	mgr := NewManager()

	sA := &Session{buffer: newRingBuffer(0)}
	sB := &Session{buffer: newRingBuffer(0)}

	idA := mgr.register("a", sA)
	idB := mgr.register("b", sB)
	require.Equal(t, 2, mgr.ConnectionCount())

	mgr.CloseConnectionsForWorkspace("a")
	require.True(t, sA.closed)
	require.False(t, sB.closed)

	mgr.unregister(idA)
	require.Equal(t, 1, mgr.ConnectionCount())

	mgr.unregister(idB)
	require.Equal(t, 0, mgr.ConnectionCount())
}
