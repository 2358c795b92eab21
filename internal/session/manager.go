package session

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/perry-systems/perryd/internal/apperr"
	"github.com/perry-systems/perryd/internal/container"
	"github.com/perry-systems/perryd/internal/eventbus"
	"github.com/perry-systems/perryd/internal/logging"
	"github.com/perry-systems/perryd/internal/model"
	"github.com/perry-systems/perryd/internal/registry"
	"github.com/perry-systems/perryd/internal/tracing"
)

var tracer = tracing.Tracer("perryd/session")

// ConnectRequest is the business-logic shape of a chat WebSocket's initial
// `connect` frame.
type ConnectRequest struct {
	WorkspaceName string
	ContainerName string
	AgentKind     model.AgentKind
	SessionID     string
	Model         string
	ProjectPath   string
	ResumeFromID  int64
	HasResumeFrom bool
}

// ConnectResult is returned to the Handler so it can reply with the right
// `connected|session_started|session_joined` frame and begin streaming.
type ConnectResult struct {
	Kind          string // "session_started" or "session_joined"
	OwnID         string
	Model         string
	Status        Status
	AgentNativeID string
	ClientID      int
	Sink          *clientSink
	Replay        []model.Message
	Live          *LiveSession
}

// Manager is the session manager: it owns every live session in
// memory, handles rejoin and replay, and persists durable session
// metadata through the session registry.
type Manager struct {
	reg      *registry.Registry
	drv      *container.Driver
	bus      eventbus.Bus
	log      *logging.Logger
	execUser string
	grace    int

	mu   sync.Mutex
	live map[string]*LiveSession
}

// NewManager constructs a Manager. graceSeconds configures how long an
// orphaned live session survives after its last client disconnects.
func NewManager(reg *registry.Registry, drv *container.Driver, bus eventbus.Bus, log *logging.Logger, graceSeconds int, execUser string) *Manager {
	return &Manager{
		reg:      reg,
		drv:      drv,
		bus:      bus,
		log:      log,
		execUser: execUser,
		grace:    graceSeconds,
		live:     make(map[string]*LiveSession),
	}
}

// GetLive returns the in-memory live session for ownID, if any.
func (m *Manager) GetLive(ownID string) (*LiveSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.live[ownID]
	return ls, ok
}

// ListLive returns a snapshot of every live session, for diagnostics and
// sessions.listAll aggregation.
func (m *Manager) ListLive() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.live))
	for _, ls := range m.live {
		out = append(out, ls.Snapshot())
	}
	return out
}

// Connect implements the chat WebSocket's rejoin contract:
//   - sessionId names a live session -> attach, optionally switch model,
//     reply session_joined, replay from resumeFromId.
//   - sessionId names a known-but-not-live registry record -> start a
//     fresh adapter bound to the stored agentNativeId, reply session_joined.
//   - otherwise -> start a brand new session, reply session_started.
func (m *Manager) Connect(ctx context.Context, req ConnectRequest) (*ConnectResult, error) {
	ctx, span := tracer.Start(ctx, "sessions.connect", trace.WithAttributes(
		attribute.String("workspace.name", req.WorkspaceName),
		attribute.String("agent.kind", string(req.AgentKind)),
	))
	defer span.End()

	result, err := m.connect(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (m *Manager) connect(ctx context.Context, req ConnectRequest) (*ConnectResult, error) {
	if req.SessionID != "" {
		if ls, ok := m.GetLive(req.SessionID); ok {
			return m.attachToLive(ls, req)
		}
		if rec, ok := m.reg.Get(req.SessionID); ok {
			return m.resumeFromRegistry(ctx, rec, req)
		}
	}
	return m.startNew(ctx, req)
}

func (m *Manager) attachToLive(ls *LiveSession, req ConnectRequest) (*ConnectResult, error) {
	if req.Model != "" && req.Model != ls.Snapshot().Model {
		ls.SetModel(req.Model)
	}
	resumeFrom := int64(0)
	if req.HasResumeFrom {
		resumeFrom = req.ResumeFromID
	}
	clientID, sink, replay, effModel, status, nativeID := ls.Attach(resumeFrom)
	return &ConnectResult{
		Kind:          "session_joined",
		OwnID:         ls.OwnID,
		Model:         effModel,
		Status:        status,
		AgentNativeID: nativeID,
		ClientID:      clientID,
		Sink:          sink,
		Replay:        replay,
		Live:          ls,
	}, nil
}

func (m *Manager) resumeFromRegistry(ctx context.Context, rec *model.SessionRecord, req ConnectRequest) (*ConnectResult, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = defaultModelFor(rec.AgentKind)
	}
	ls := newLiveSession(rec.OwnID, rec.WorkspaceName, req.ContainerName, m.execUser, rec.ProjectPath, rec.AgentKind, modelName, m.drv, m.grace, m.log)
	m.wireCallbacks(ls)

	if err := ls.start(ctx, rec.AgentNativeID); err != nil {
		return nil, apperr.Wrap(apperr.AgentError, "starting agent adapter", err)
	}

	m.mu.Lock()
	m.live[ls.OwnID] = ls
	m.mu.Unlock()

	clientID, sink, replay, effModel, status, nativeID := ls.Attach(0)
	m.publish(eventbus.SessionJoined, ls.OwnID)
	return &ConnectResult{
		Kind:          "session_joined",
		OwnID:         ls.OwnID,
		Model:         effModel,
		Status:        status,
		AgentNativeID: nativeID,
		ClientID:      clientID,
		Sink:          sink,
		Replay:        replay,
		Live:          ls,
	}, nil
}

func (m *Manager) startNew(ctx context.Context, req ConnectRequest) (*ConnectResult, error) {
	rec, err := m.reg.CreateSession(req.WorkspaceName, req.AgentKind, req.ProjectPath)
	if err != nil {
		return nil, err
	}

	modelName := req.Model
	if modelName == "" {
		modelName = defaultModelFor(req.AgentKind)
	}
	ls := newLiveSession(rec.OwnID, req.WorkspaceName, req.ContainerName, m.execUser, req.ProjectPath, req.AgentKind, modelName, m.drv, m.grace, m.log)
	m.wireCallbacks(ls)

	if err := ls.start(ctx, ""); err != nil {
		return nil, apperr.Wrap(apperr.AgentError, "starting agent adapter", err)
	}

	m.mu.Lock()
	m.live[ls.OwnID] = ls
	m.mu.Unlock()

	clientID, sink, _, effModel, status, nativeID := ls.Attach(0)
	m.publish(eventbus.SessionStarted, ls.OwnID)
	return &ConnectResult{
		Kind:          "session_started",
		OwnID:         ls.OwnID,
		Model:         effModel,
		Status:        status,
		AgentNativeID: nativeID,
		ClientID:      clientID,
		Sink:          sink,
		Live:          ls,
	}, nil
}

// wireCallbacks hooks a live session's native-id discovery back into the
// registry and its idle-disposal deadline back into
// this manager's live map.
func (m *Manager) wireCallbacks(ls *LiveSession) {
	ls.onNativeID = func(ownID, nativeID string) {
		if _, err := m.reg.LinkAgentSession(ownID, nativeID); err != nil {
			m.log.Warn("failed to link agent native session id", zap.String("session_id", ownID), zap.Error(err))
		}
	}
	ls.onIdle = func(ownID string) {
		m.mu.Lock()
		ls, ok := m.live[ownID]
		delete(m.live, ownID)
		m.mu.Unlock()
		if ok {
			ls.Dispose()
			m.publish(eventbus.SessionDisposed, ownID)
		}
	}
}

// Interrupt implements the chat WebSocket's `{"type":"interrupt"}` frame:
// it cancels the in-flight turn and ensures the next SendMessage uses a
// fresh adapter.
func (m *Manager) Interrupt(ctx context.Context, ownID string) error {
	ls, ok := m.GetLive(ownID)
	if !ok {
		return apperr.NotFoundf("session", ownID)
	}
	return ls.Interrupt(ctx)
}

// SendMessage implements the chat WebSocket's `{"type":"message"}` frame.
func (m *Manager) SendMessage(ctx context.Context, ownID, text string) error {
	ls, ok := m.GetLive(ownID)
	if !ok {
		return apperr.NotFoundf("session", ownID)
	}
	return ls.SendMessage(ctx, text)
}

// Detach removes a client from a live session when its WebSocket closes,
// starting the orphan grace-period timer if no clients remain.
func (m *Manager) Detach(ownID string, clientID int) {
	if ls, ok := m.GetLive(ownID); ok {
		ls.Detach(clientID)
	}
}

// DisposeSessionsForWorkspace terminates every live session bound to
// workspaceName's container. Satisfies
// workspace.SessionDisposer.
func (m *Manager) DisposeSessionsForWorkspace(workspaceName string) {
	m.mu.Lock()
	var victims []*LiveSession
	for ownID, ls := range m.live {
		if ls.WorkspaceName == workspaceName {
			victims = append(victims, ls)
			delete(m.live, ownID)
		}
	}
	m.mu.Unlock()

	for _, ls := range victims {
		ls.Dispose()
		m.publish(eventbus.SessionDisposed, ls.OwnID)
	}
}

func (m *Manager) publish(eventType, subject string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Type: eventType, Subject: subject, At: time.Now()})
}
