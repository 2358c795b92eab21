package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/perry-systems/perryd/internal/apperr"
	"github.com/perry-systems/perryd/internal/container"
	"github.com/perry-systems/perryd/internal/logging"
	"github.com/perry-systems/perryd/internal/model"
	"github.com/perry-systems/perryd/internal/store"
	"github.com/perry-systems/perryd/internal/sync"
)

// stubScript stands in for the container CLI: it records every
// invocation and answers the few subcommands whose output the driver
// parses.
const stubScript = `#!/bin/sh
echo "$@" >> "$PERRYD_TEST_CONTAINER_LOG"
case "$1" in
create) echo "cid-stub" ;;
inspect) echo '[{"State":{"Running":true,"Status":"running"},"NetworkSettings":{"Ports":{}}}]' ;;
version) echo "24.0.0" ;;
esac
exit 0
`

func newStubManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "containerctl")
	require.NoError(t, os.WriteFile(bin, []byte(stubScript), 0755))
	logPath := filepath.Join(dir, "calls.log")
	t.Setenv("PERRYD_TEST_CONTAINER_LOG", logPath)

	log := logging.Default()
	drv := container.New(bin, log)
	st, err := store.New(filepath.Join(dir, "state"))
	require.NoError(t, err)
	ports := NewPortAllocator(43300, 43310)
	engine := sync.New(drv, log)
	return New(st, drv, engine, ports, nil, log, nil, filepath.Join(dir, "state")), logPath
}

func containerCalls(t *testing.T, logPath string) string {
	t.Helper()
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	return string(data)
}

func TestCreate_AllocatesPortAndConvergesToRunning(t *testing.T) {
	m, logPath := newStubManager(t)

	rec, err := m.Create(context.Background(), "alpha", CreateOptions{})
	require.NoError(t, err)
	require.Equal(t, model.StatusRunning, rec.Status)
	require.GreaterOrEqual(t, rec.Ports.SSH, 43300)
	require.LessOrEqual(t, rec.Ports.SSH, 43310)

	calls := containerCalls(t, logPath)
	require.Contains(t, calls, "create --name workspace-alpha --hostname alpha")
	require.Contains(t, calls, "start workspace-alpha")
}

func TestCreate_DuplicateNameIsAlreadyExists(t *testing.T) {
	m, _ := newStubManager(t)

	_, err := m.Create(context.Background(), "dup", CreateOptions{})
	require.NoError(t, err)
	_, err = m.Create(context.Background(), "dup", CreateOptions{})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.AlreadyExists, appErr.Kind)
}

func TestSetPortForwards_RecreatesContainerWithNewBindings(t *testing.T) {
	m, logPath := newStubManager(t)

	rec, err := m.Create(context.Background(), "pf", CreateOptions{})
	require.NoError(t, err)
	sshPort := rec.Ports.SSH

	require.NoError(t, os.Truncate(logPath, 0))
	require.NoError(t, m.SetPortForwards(context.Background(), "pf", map[string]int{"3000": 43309}))

	got, err := m.Get("pf")
	require.NoError(t, err)
	require.Equal(t, 43309, got.Ports.Forwards["3000"])
	require.Equal(t, sshPort, got.Ports.SSH, "ssh port must survive the recreate")
	require.Equal(t, model.StatusRunning, got.Status)

	calls := containerCalls(t, logPath)
	require.Contains(t, calls, "rm -f workspace-pf")
	require.Contains(t, calls, "create --name workspace-pf --hostname pf")
	require.Contains(t, calls, "-p 43309:3000")
	require.Contains(t, calls, "start workspace-pf")
}

func TestSetPortForwards_RejectsBadInput(t *testing.T) {
	m, _ := newStubManager(t)

	_, err := m.Create(context.Background(), "pfbad", CreateOptions{})
	require.NoError(t, err)

	err = m.SetPortForwards(context.Background(), "pfbad", map[string]int{"web": 43308})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.InvalidArgument, appErr.Kind)

	err = m.SetPortForwards(context.Background(), "pfbad", map[string]int{"3000": -1})
	require.Error(t, err)

	err = m.SetPortForwards(context.Background(), "ghost", map[string]int{"3000": 43308})
	require.True(t, apperr.IsNotFound(err))
}

func TestDelete_IdempotentAndReleasesPort(t *testing.T) {
	m, _ := newStubManager(t)

	rec, err := m.Create(context.Background(), "gone", CreateOptions{})
	require.NoError(t, err)
	port := rec.Ports.SSH

	require.NoError(t, m.Delete(context.Background(), "gone"))
	require.Empty(t, m.List())
	require.NoError(t, m.Delete(context.Background(), "gone"))

	// The freed ssh port is handed out again.
	rec2, err := m.Create(context.Background(), "next", CreateOptions{})
	require.NoError(t, err)
	require.Equal(t, port, rec2.Ports.SSH)
}

func TestPortBinds(t *testing.T) {
	rec := &model.WorkspaceRecord{
		Ports: model.PortMap{SSH: 2200, Forwards: map[string]int{"3000": 8300, "bogus": 9999}},
	}
	binds := portBinds(rec)
	require.Equal(t, map[int]int{22: 2200, 3000: 8300}, binds)
}

func TestCreate_InvalidNameRejected(t *testing.T) {
	m, _ := newStubManager(t)
	for _, name := range []string{"", "-leading", "UPPER", strings.Repeat("x", 40)} {
		_, err := m.Create(context.Background(), name, CreateOptions{})
		require.Error(t, err, "name %q", name)
	}
}
