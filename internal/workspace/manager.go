// Package workspace implements the workspace manager: it orchestrates
// the container driver, state store, and sync engine to provide workspace
// lifecycle operations.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	stdsync "sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/perry-systems/perryd/internal/apperr"
	"github.com/perry-systems/perryd/internal/config"
	"github.com/perry-systems/perryd/internal/container"
	"github.com/perry-systems/perryd/internal/eventbus"
	"github.com/perry-systems/perryd/internal/logging"
	"github.com/perry-systems/perryd/internal/model"
	"github.com/perry-systems/perryd/internal/store"
	"github.com/perry-systems/perryd/internal/sync"
	"github.com/perry-systems/perryd/internal/tracing"
)

var tracer = tracing.Tracer("perryd/workspace")

var nameRE = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,31}$`)

const (
	workspaceImage  = "perryd/workspace:latest"
	workspaceUser   = "workspace"
	workspaceHome   = "/home/workspace"
	stopGracePeriod = 10 * time.Second
)

// PTYCloser lets the manager ask the PTY Multiplexer to tear down every
// terminal connection for a workspace before stop/delete, without the
// workspace package importing the pty package.
type PTYCloser interface {
	CloseConnectionsForWorkspace(name string)
}

// SessionDisposer lets the manager ask the Session Manager to dispose
// every live agent session tied to a workspace's container.
type SessionDisposer interface {
	DisposeSessionsForWorkspace(name string)
}

// Manager implements the workspace lifecycle operations.
type Manager struct {
	store      *store.StateStore
	drv        *container.Driver
	syncEngine *sync.Engine
	ports      *PortAllocator
	bus        eventbus.Bus
	log        *logging.Logger

	providers []sync.Provider
	ptys      PTYCloser
	sessions  SessionDisposer

	configDir string // directory containing agent-config.json
}

// New constructs a Manager. SetPTYCloser/SetSessionDisposer may be called
// after construction once those components exist, breaking the
// initialization cycle between them and the manager.
func New(st *store.StateStore, drv *container.Driver, syncEngine *sync.Engine, ports *PortAllocator, bus eventbus.Bus, log *logging.Logger, providers []sync.Provider, configDir string) *Manager {
	return &Manager{store: st, drv: drv, syncEngine: syncEngine, ports: ports, bus: bus, log: log, providers: providers, configDir: configDir}
}

// loadAgentConfig reads agent-config.json; a missing file is not an error
// since most of its fields are optional.
func (m *Manager) loadAgentConfig() *config.AgentConfig {
	path := m.configDir + "/agent-config.json"
	cfg, err := config.LoadAgentConfig(path)
	if err != nil {
		return nil
	}
	return cfg
}

func (m *Manager) SetPTYCloser(c PTYCloser)             { m.ptys = c }
func (m *Manager) SetSessionDisposer(d SessionDisposer) { m.sessions = d }

func containerName(name string) string { return "workspace-" + name }

// CreateOptions configures workspace creation.
type CreateOptions struct {
	CloneURL string
	Env      map[string]string
}

// Create implements workspaces.create.
func (m *Manager) Create(ctx context.Context, name string, opts CreateOptions) (*model.WorkspaceRecord, error) {
	ctx, span := tracer.Start(ctx, "workspaces.create", trace.WithAttributes(attribute.String("workspace.name", name)))
	defer span.End()

	rec, err := m.create(ctx, name, opts)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return rec, err
}

func (m *Manager) create(ctx context.Context, name string, opts CreateOptions) (*model.WorkspaceRecord, error) {
	if !nameRE.MatchString(name) {
		return nil, apperr.InvalidArgumentf("invalid workspace name %q", name)
	}
	if _, exists := m.store.Get(name); exists {
		return nil, apperr.AlreadyExistsf("workspace", name)
	}

	port, err := m.ports.Allocate(name)
	if err != nil {
		return nil, err
	}

	rec := &model.WorkspaceRecord{
		Name:       name,
		Status:     model.StatusCreating,
		CreatedAt:  time.Now(),
		CloneURL:   opts.CloneURL,
		Ports:      model.PortMap{SSH: port},
		LastUsedAt: time.Now(),
	}
	if err := m.store.Upsert(rec); err != nil {
		m.ports.Release(port)
		return nil, err
	}
	m.publish(eventbus.WorkspaceCreating, name)

	cid, err := m.drv.Create(ctx, container.Spec{
		Name:      containerName(name),
		Image:     workspaceImage,
		Hostname:  name,
		Env:       opts.Env,
		PortBinds: portBinds(rec),
		Labels:    map[string]string{"perryd.workspace": name},
	})
	if err != nil {
		return nil, m.fail(name, err)
	}
	rec.ContainerID = cid
	_ = m.store.Upsert(rec)

	if err := m.startAndConverge(ctx, rec); err != nil {
		return nil, m.fail(name, err)
	}

	m.publish(eventbus.WorkspaceRunning, name)
	return rec, nil
}

// fail rolls a workspace back to the error state and returns the original
// error.
func (m *Manager) fail(name string, cause error) error {
	_ = m.store.SetStatus(name, model.StatusError, cause.Error())
	m.publish(eventbus.WorkspaceError, name)
	return cause
}

// startAndConverge starts the container, optionally clones, syncs, and
// runs post-start scripts, then marks the workspace running.
func (m *Manager) startAndConverge(ctx context.Context, rec *model.WorkspaceRecord) error {
	if err := m.drv.Start(ctx, containerName(rec.Name)); err != nil {
		return err
	}

	if rec.CloneURL != "" {
		if _, err := m.drv.Exec(ctx, containerName(rec.Name), []string{"git", "clone", rec.CloneURL, workspaceHome + "/workspace"}, container.ExecOptions{User: workspaceUser}); err != nil {
			return fmt.Errorf("cloning repository: %w", err)
		}
	}

	agentCfg := m.loadAgentConfig()
	if err := m.syncEngine.Sync(ctx, containerName(rec.Name), m.providers, agentCfg); err != nil {
		return fmt.Errorf("syncing workspace: %w", err)
	}

	if agentCfg != nil {
		paths, err := agentCfg.Scripts.PostStartPaths()
		if err != nil {
			return fmt.Errorf("reading post-start scripts: %w", err)
		}
		if err := m.RunPostStartScripts(ctx, rec.Name, paths, agentCfg.Scripts.FailOnError); err != nil {
			return fmt.Errorf("running post-start scripts: %w", err)
		}
	}

	if err := m.store.SetStatus(rec.Name, model.StatusRunning, ""); err != nil {
		return err
	}
	rec.Status = model.StatusRunning
	return nil
}

// Start implements workspaces.start. No-op if already running.
func (m *Manager) Start(ctx context.Context, name string) (*model.WorkspaceRecord, error) {
	rec, ok := m.store.Get(name)
	if !ok {
		return nil, apperr.NotFoundf("workspace", name)
	}
	if rec.Status == model.StatusRunning {
		return rec, nil
	}
	if err := m.startAndConverge(ctx, rec); err != nil {
		return nil, m.fail(name, err)
	}
	m.publish(eventbus.WorkspaceRunning, name)
	return rec, nil
}

// Stop implements workspaces.stop. Idempotent.
func (m *Manager) Stop(ctx context.Context, name string) error {
	rec, ok := m.store.Get(name)
	if !ok {
		return apperr.NotFoundf("workspace", name)
	}
	if m.ptys != nil {
		m.ptys.CloseConnectionsForWorkspace(name)
	}
	if m.sessions != nil {
		m.sessions.DisposeSessionsForWorkspace(name)
	}
	if err := m.drv.Stop(ctx, containerName(name), stopGracePeriod); err != nil {
		if appErr, ok := apperr.As(err); !ok || appErr.Kind != apperr.NotFound {
			return err
		}
	}
	if err := m.store.SetStatus(name, model.StatusStopped, ""); err != nil {
		return err
	}
	rec.Status = model.StatusStopped
	m.publish(eventbus.WorkspaceStopped, name)
	return nil
}

// Delete implements workspaces.delete. Idempotent on an already-removed
// container.
func (m *Manager) Delete(ctx context.Context, name string) error {
	rec, ok := m.store.Get(name)
	if !ok {
		return nil // idempotent
	}
	if m.ptys != nil {
		m.ptys.CloseConnectionsForWorkspace(name)
	}
	if m.sessions != nil {
		m.sessions.DisposeSessionsForWorkspace(name)
	}
	if err := m.drv.Remove(ctx, containerName(name), true); err != nil {
		if appErr, ok := apperr.As(err); !ok || appErr.Kind != apperr.NotFound {
			return err
		}
	}
	m.ports.Release(rec.Ports.SSH)
	if err := m.store.Delete(name); err != nil {
		return err
	}
	m.publish(eventbus.WorkspaceDeleted, name)
	return nil
}

// Sync implements workspaces.sync: requires the workspace to be running.
func (m *Manager) Sync(ctx context.Context, name string) error {
	rec, ok := m.store.Get(name)
	if !ok {
		return apperr.NotFoundf("workspace", name)
	}
	if rec.Status != model.StatusRunning {
		return apperr.PreconditionFailedf("workspace %q is not running", name)
	}
	return m.syncEngine.Sync(ctx, containerName(name), m.providers, m.loadAgentConfig())
}

// SyncResult is one workspace's outcome within a syncAll run.
type SyncResult struct {
	Name  string
	Error error
}

const syncAllConcurrency = 4

// SyncAll implements workspaces.syncAll: one failure never aborts the
// others. Syncs run concurrently, bounded by a semaphore.
func (m *Manager) SyncAll(ctx context.Context) (synced, failed int, results []SyncResult) {
	running := make([]*model.WorkspaceRecord, 0)
	for _, rec := range m.store.List() {
		if rec.Status == model.StatusRunning {
			running = append(running, rec)
		}
	}

	results = make([]SyncResult, len(running))
	sem := semaphore.NewWeighted(syncAllConcurrency)
	var wg stdsync.WaitGroup
	agentCfg := m.loadAgentConfig()
	for i, rec := range running {
		i, rec := i, rec
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = SyncResult{Name: rec.Name, Error: err}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			err := m.syncEngine.Sync(ctx, containerName(rec.Name), m.providers, agentCfg)
			results[i] = SyncResult{Name: rec.Name, Error: err}
		}()
	}
	wg.Wait()

	for _, r := range results {
		if r.Error != nil {
			failed++
			m.log.Warn("syncAll: workspace sync failed", zap.String("workspace", r.Name), zap.Error(r.Error))
		} else {
			synced++
		}
	}
	return synced, failed, results
}

// GetLogs implements workspaces.logs.
func (m *Manager) GetLogs(ctx context.Context, name string, tail int) (string, error) {
	if _, ok := m.store.Get(name); !ok {
		return "", apperr.NotFoundf("workspace", name)
	}
	return m.drv.Logs(ctx, containerName(name), tail)
}

// Get implements workspaces.get.
func (m *Manager) Get(name string) (*model.WorkspaceRecord, error) {
	rec, ok := m.store.Get(name)
	if !ok {
		return nil, apperr.NotFoundf("workspace", name)
	}
	return rec, nil
}

// List implements workspaces.list.
func (m *Manager) List() []*model.WorkspaceRecord {
	return m.store.List()
}

// Lookup resolves a workspace name to its container name and running
// status, for the PTY Multiplexer and Session Manager's WebSocket
// handlers, without either package
// importing internal/workspace directly.
func (m *Manager) Lookup(name string) (cname string, running bool) {
	rec, ok := m.store.Get(name)
	if !ok {
		return "", false
	}
	return containerName(name), rec.Status == model.StatusRunning
}

// GetPortForwards implements workspaces.getPortForwards.
func (m *Manager) GetPortForwards(name string) (model.PortMap, error) {
	rec, ok := m.store.Get(name)
	if !ok {
		return model.PortMap{}, apperr.NotFoundf("workspace", name)
	}
	return rec.Ports, nil
}

// SetPortForwards implements workspaces.setPortForwards. The persisted
// list is authoritative. The container runtime cannot re-map host ports
// on an existing container, so the container is recreated transparently
// with the new bindings: same name, hostname, labels, and ssh port. A
// running workspace is started again afterwards; a stopped one stays
// stopped with the new bindings taking effect on its next start.
func (m *Manager) SetPortForwards(ctx context.Context, name string, forwards map[string]int) error {
	for label, hostPort := range forwards {
		if _, err := strconv.Atoi(label); err != nil {
			return apperr.InvalidArgumentf("forward key %q must be a container port number", label)
		}
		if hostPort <= 0 || hostPort > 65535 {
			return apperr.InvalidArgumentf("forward %q: host port %d out of range", label, hostPort)
		}
	}
	rec, ok := m.store.Get(name)
	if !ok {
		return apperr.NotFoundf("workspace", name)
	}
	if err := m.store.SetPortForwards(name, forwards); err != nil {
		return err
	}
	rec.Ports.Forwards = forwards
	return m.recreateContainer(ctx, rec)
}

// recreateContainer tears down a workspace's container and creates it
// again with the record's current port bindings, preserving its name,
// hostname, and labels. The workspace's prior run state is restored.
func (m *Manager) recreateContainer(ctx context.Context, rec *model.WorkspaceRecord) error {
	wasRunning := rec.Status == model.StatusRunning
	if m.ptys != nil {
		m.ptys.CloseConnectionsForWorkspace(rec.Name)
	}
	if m.sessions != nil {
		m.sessions.DisposeSessionsForWorkspace(rec.Name)
	}

	if err := m.drv.Stop(ctx, containerName(rec.Name), stopGracePeriod); err != nil && !apperr.IsNotFound(err) {
		return err
	}
	if err := m.drv.Remove(ctx, containerName(rec.Name), true); err != nil && !apperr.IsNotFound(err) {
		return err
	}

	cid, err := m.drv.Create(ctx, container.Spec{
		Name:      containerName(rec.Name),
		Image:     workspaceImage,
		Hostname:  rec.Name,
		PortBinds: portBinds(rec),
		Labels:    map[string]string{"perryd.workspace": rec.Name},
	})
	if err != nil {
		return m.fail(rec.Name, err)
	}
	rec.ContainerID = cid
	if err := m.store.Upsert(rec); err != nil {
		return err
	}

	if wasRunning {
		if err := m.startAndConverge(ctx, rec); err != nil {
			return m.fail(rec.Name, err)
		}
		m.publish(eventbus.WorkspaceRunning, rec.Name)
	}
	return nil
}

// portBinds maps a workspace record's persisted ports to container->host
// bindings: ssh on 22, plus each forward keyed by its container port.
func portBinds(rec *model.WorkspaceRecord) map[int]int {
	binds := map[int]int{22: rec.Ports.SSH}
	for label, hostPort := range rec.Ports.Forwards {
		if containerPort, err := strconv.Atoi(label); err == nil {
			binds[containerPort] = hostPort
		}
	}
	return binds
}

// Clone implements workspaces.clone: clones a repository into an existing
// running workspace without recreating it.
func (m *Manager) Clone(ctx context.Context, name, url string) error {
	rec, ok := m.store.Get(name)
	if !ok {
		return apperr.NotFoundf("workspace", name)
	}
	if rec.Status != model.StatusRunning {
		return apperr.PreconditionFailedf("workspace %q is not running", name)
	}
	_, err := m.drv.Exec(ctx, containerName(name), []string{"git", "clone", url, workspaceHome + "/workspace"}, container.ExecOptions{User: workspaceUser})
	return err
}

// RunPostStartScripts executes the configured post-start scripts after
// sync, so they can rely on synced credentials and config being present.
func (m *Manager) RunPostStartScripts(ctx context.Context, name string, paths []string, failOnError bool) error {
	for _, p := range paths {
		if err := m.runPostStartPath(ctx, name, p); err != nil {
			if failOnError {
				return err
			}
			m.log.Warn("post-start script failed", zap.String("workspace", name), zap.String("path", p), zap.Error(err))
		}
	}
	return nil
}

// runPostStartPath resolves a configured host path: a file runs as-is, a
// directory runs every *.sh entry in lexicographic order.
func (m *Manager) runPostStartPath(ctx context.Context, name, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("post-start path %s: %w", path, err)
	}
	scripts := []string{path}
	if info.IsDir() {
		scripts, err = filepath.Glob(filepath.Join(path, "*.sh"))
		if err != nil {
			return err
		}
		sort.Strings(scripts)
	}
	for _, script := range scripts {
		if err := m.runScript(ctx, name, script); err != nil {
			return err
		}
	}
	return nil
}

// runScript copies one host script into the container and executes it as
// the workspace user, so it can read files the preceding sync wrote.
func (m *Manager) runScript(ctx context.Context, name, script string) error {
	data, err := os.ReadFile(script)
	if err != nil {
		return fmt.Errorf("reading %s: %w", script, err)
	}
	target := "/tmp/post-start-" + filepath.Base(script)
	if err := m.drv.CopyIn(ctx, containerName(name), data, target, "0755", workspaceUser); err != nil {
		return err
	}
	if _, err := m.drv.Exec(ctx, containerName(name), []string{"sh", target}, container.ExecOptions{User: workspaceUser, Workdir: workspaceHome}); err != nil {
		return fmt.Errorf("running %s: %w", script, err)
	}
	return nil
}

func (m *Manager) publish(eventType, name string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Type: eventType, Subject: name, At: time.Now()})
}
