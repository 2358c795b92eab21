package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/perry-systems/perryd/internal/container"
	"github.com/perry-systems/perryd/internal/logging"
	"github.com/perry-systems/perryd/internal/model"
)

// Status is a live session's in-memory lifecycle state.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusRunning     Status = "running"
	StatusInterrupted Status = "interrupted"
	StatusErrored     Status = "errored"
	StatusExited      Status = "exited"
)

const ringBufferCap = 200

// clientQueueCap bounds each attached client's outbound queue; overflow
// disconnects that client with WebSocket code 1009 without affecting the
// session itself.
const clientQueueCap = 256

type clientSink struct {
	ch   chan model.Message
	done chan struct{}

	once   sync.Once
	code   int
	reason string
}

// closeWith marks the sink dead with a WebSocket close code for the
// bridge to relay; the first close wins.
func (c *clientSink) closeWith(code int, reason string) {
	c.once.Do(func() {
		c.code = code
		c.reason = reason
		close(c.done)
	})
}

// CloseCode returns the close code and reason recorded by closeWith.
func (c *clientSink) CloseCode() (int, string) {
	return c.code, c.reason
}

// LiveSession is one in-memory agent conversation. It owns the adapter,
// the replay ring buffer and the currently attached WebSocket clients.
type LiveSession struct {
	OwnID         string
	WorkspaceName string
	ContainerName string
	ExecUser      string
	ProjectPath   string
	AgentKind     model.AgentKind

	drv *container.Driver
	log *logging.Logger

	mu                  sync.Mutex
	model               string
	status              Status
	adapter             Adapter
	pendingFreshAdapter bool
	ring                []model.Message
	lastID              int64
	clients             map[int]*clientSink
	nextClientID        int
	lastActivity        time.Time
	disposalTimer       *time.Timer
	graceSeconds        int
	onIdle              func(ownID string) // invoked when disposal deadline passes with zero clients
	onNativeID          func(ownID, nativeID string)
	cancel              context.CancelFunc

	// newAdapter builds the next adapter for this session; replaced in
	// tests to observe adapter turnover without a container runtime.
	newAdapter func(resumeNativeID string) (Adapter, error)
}

func newLiveSession(ownID, workspaceName, containerName, execUser, projectPath string, kind model.AgentKind, modelName string, drv *container.Driver, graceSeconds int, log *logging.Logger) *LiveSession {
	s := &LiveSession{
		OwnID:         ownID,
		WorkspaceName: workspaceName,
		ContainerName: containerName,
		ExecUser:      execUser,
		ProjectPath:   projectPath,
		AgentKind:     kind,
		drv:           drv,
		log:           log,
		model:         modelName,
		status:        StatusIdle,
		clients:       make(map[int]*clientSink),
		lastActivity:  time.Now(),
		graceSeconds:  graceSeconds,
	}
	s.newAdapter = func(resumeNativeID string) (Adapter, error) {
		s.mu.Lock()
		m := s.model
		s.mu.Unlock()
		return New(kind, drv, containerName, execUser, projectPath, m, resumeNativeID, log)
	}
	return s
}

// start launches the underlying adapter and begins routing its messages.
func (s *LiveSession) start(ctx context.Context, resumeNativeID string) error {
	adapter, err := s.newAdapter(resumeNativeID)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.adapter = adapter
	s.cancel = cancel
	s.status = StatusRunning
	s.mu.Unlock()

	if err := adapter.Start(ctx); err != nil {
		cancel()
		return err
	}
	go s.routeMessages(runCtx, adapter)
	return nil
}

// routeMessages assigns a monotonic id to every adapter-emitted message,
// appends it to the ring buffer, and fans it out to attached clients.
func (s *LiveSession) routeMessages(ctx context.Context, adapter Adapter) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-adapter.Messages():
			if !ok {
				s.mu.Lock()
				s.status = StatusExited
				s.mu.Unlock()
				return
			}
			if msg.Type == model.MessageError {
				s.mu.Lock()
				s.status = StatusErrored
				s.mu.Unlock()
			}

			s.mu.Lock()
			s.lastID++
			msg.ID = s.lastID
			s.ring = append(s.ring, msg)
			if len(s.ring) > ringBufferCap {
				s.ring = s.ring[len(s.ring)-ringBufferCap:]
			}
			s.lastActivity = time.Now()
			sinks := make([]*clientSink, 0, len(s.clients))
			for _, sink := range s.clients {
				sinks = append(sinks, sink)
			}
			nativeID := adapter.NativeSessionID()
			s.mu.Unlock()

			if nativeID != "" && s.onNativeID != nil {
				s.onNativeID(s.OwnID, nativeID)
			}

			for _, sink := range sinks {
				select {
				case sink.ch <- msg:
				default:
					// Bounded queue overflowed: drop this client, not
					// the session.
					sink.closeWith(1009, "client too slow")
				}
			}
		}
	}
}

// Attach registers a new client sink and returns it plus any buffered
// messages with id > resumeFromID for replay.
func (s *LiveSession) Attach(resumeFromID int64) (id int, sink *clientSink, replay []model.Message, effectiveModel string, status Status, nativeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposalTimer != nil {
		s.disposalTimer.Stop()
		s.disposalTimer = nil
	}

	id = s.nextClientID
	s.nextClientID++
	sink = &clientSink{ch: make(chan model.Message, clientQueueCap), done: make(chan struct{})}
	s.clients[id] = sink

	for _, m := range s.ring {
		if m.ID > resumeFromID {
			replay = append(replay, m)
		}
	}
	nativeID = ""
	if s.adapter != nil {
		nativeID = s.adapter.NativeSessionID()
	}
	return id, sink, replay, s.model, s.status, nativeID
}

// Detach removes a client. If no clients remain, a disposal timer starts.
func (s *LiveSession) Detach(id int) {
	s.mu.Lock()
	delete(s.clients, id)
	empty := len(s.clients) == 0
	s.mu.Unlock()

	if empty && s.graceSeconds > 0 {
		s.mu.Lock()
		s.disposalTimer = time.AfterFunc(time.Duration(s.graceSeconds)*time.Second, func() {
			s.mu.Lock()
			stillEmpty := len(s.clients) == 0
			s.mu.Unlock()
			if stillEmpty && s.onIdle != nil {
				s.onIdle(s.OwnID)
			}
		})
		s.mu.Unlock()
	}
}

// SendMessage feeds a user turn, starting a fresh adapter first if the
// previous turn was interrupted — a cancelled turn's adapter is never
// reused for a subsequent message.
func (s *LiveSession) SendMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	needsFresh := s.pendingFreshAdapter
	s.mu.Unlock()

	if needsFresh {
		if err := s.restartAdapter(ctx); err != nil {
			return err
		}
	}

	s.mu.Lock()
	adapter := s.adapter
	s.status = StatusRunning
	s.mu.Unlock()
	if adapter == nil {
		return fmt.Errorf("session %s has no active adapter", s.OwnID)
	}
	return adapter.SendMessage(ctx, text)
}

func (s *LiveSession) restartAdapter(ctx context.Context) error {
	s.mu.Lock()
	old := s.adapter
	oldCancel := s.cancel
	s.pendingFreshAdapter = false
	s.mu.Unlock()

	if old != nil {
		_ = old.Dispose()
	}
	if oldCancel != nil {
		oldCancel()
	}
	nativeID := ""
	if old != nil {
		nativeID = old.NativeSessionID()
	}
	return s.start(ctx, nativeID)
}

// SetModel records m as the session's model and passes it to the
// current adapter, without restarting the process. The running agent
// process keeps its launch model; adapters created afterwards start
// with m.
func (s *LiveSession) SetModel(m string) {
	s.mu.Lock()
	s.model = m
	adapter := s.adapter
	s.mu.Unlock()
	if adapter != nil {
		adapter.SetModel(m)
	}
}

// Interrupt cancels the in-flight turn. The current adapter is marked
// for replacement: the next SendMessage call starts a fresh one.
func (s *LiveSession) Interrupt(ctx context.Context) error {
	s.mu.Lock()
	adapter := s.adapter
	s.status = StatusInterrupted
	s.pendingFreshAdapter = true
	s.mu.Unlock()

	var err error
	if adapter != nil {
		err = adapter.Interrupt(ctx)
	}

	s.mu.Lock()
	s.status = StatusIdle
	s.mu.Unlock()
	return err
}

// Dispose terminates the underlying process and tells any still-attached
// clients the session is going away (close code 1001).
func (s *LiveSession) Dispose() {
	s.mu.Lock()
	adapter := s.adapter
	cancel := s.cancel
	if s.disposalTimer != nil {
		s.disposalTimer.Stop()
	}
	sinks := make([]*clientSink, 0, len(s.clients))
	for _, sink := range s.clients {
		sinks = append(sinks, sink)
	}
	s.mu.Unlock()

	for _, sink := range sinks {
		sink.closeWith(1001, "session disposed")
	}
	if adapter != nil {
		_ = adapter.Dispose()
	}
	if cancel != nil {
		cancel()
	}
}

// Snapshot returns a read-only view used by sessions.list/get RPCs.
type Snapshot struct {
	OwnID         string
	WorkspaceName string
	AgentKind     model.AgentKind
	Model         string
	Status        Status
	ClientCount   int
	LastActivity  time.Time
}

func (s *LiveSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		OwnID:         s.OwnID,
		WorkspaceName: s.WorkspaceName,
		AgentKind:     s.AgentKind,
		Model:         s.model,
		Status:        s.status,
		ClientCount:   len(s.clients),
		LastActivity:  s.lastActivity,
	}
}
