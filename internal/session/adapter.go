// Package session implements the session manager: it spawns and
// attaches per-session agent adapters, routes messages between
// WebSocket clients and agent stdio, and survives client disconnects.
// Adapters speak only the agent CLIs' stdin/stdout JSONL line contract;
// the CLIs' internal protocols are opaque to this package.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/perry-systems/perryd/internal/container"
	"github.com/perry-systems/perryd/internal/logging"
	"github.com/perry-systems/perryd/internal/model"
	"github.com/perry-systems/perryd/internal/transcript"
)

// Adapter is the uniform contract the session manager drives every
// agent kind through.
type Adapter interface {
	// Start launches the underlying agent process inside the workspace
	// container.
	Start(ctx context.Context) error

	// SendMessage feeds a user turn to the running agent.
	SendMessage(ctx context.Context, text string) error

	// SetModel sets the model that Model reports, without restarting
	// the process.
	SetModel(model string)

	// Model returns the adapter's current model.
	Model() string

	// Interrupt cancels the in-flight turn.
	Interrupt(ctx context.Context) error

	// Dispose terminates the underlying process and releases resources.
	Dispose() error

	// Messages returns the channel of agent-emitted messages. Closed
	// when the process exits or Dispose is called.
	Messages() <-chan model.Message

	// NativeSessionID returns the agent's own session id once learned
	// from the first reply, or "" before that.
	NativeSessionID() string
}

// cliAdapter is the shared implementation behind the three agent-kind
// adapters: each only supplies the argv and the per-line native-session
// id field name, reusing everything else.
type cliAdapter struct {
	drv           *container.Driver
	containerName string
	execUser      string
	projectPath   string
	argvFunc      func(model, resumeNativeID string) []string
	sessionIDKey  string

	mu           sync.Mutex
	model        string
	resumeNative string
	nativeID     string
	proc         *container.StreamProcess
	msgs         chan model.Message
	cancel       context.CancelFunc
}

func newCLIAdapter(drv *container.Driver, containerName, execUser, projectPath, initialModel, resumeNativeID string, argvFunc func(model, resumeNativeID string) []string, sessionIDKey string) *cliAdapter {
	return &cliAdapter{
		drv:           drv,
		containerName: containerName,
		execUser:      execUser,
		projectPath:   projectPath,
		model:         initialModel,
		resumeNative:  resumeNativeID,
		argvFunc:      argvFunc,
		sessionIDKey:  sessionIDKey,
		msgs:          make(chan model.Message, 64),
	}
}

func (a *cliAdapter) Start(ctx context.Context) error {
	argv := a.argvFunc(a.model, a.resumeNative)
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	proc, err := a.drv.ExecStream(runCtx, a.containerName, argv, container.ExecOptions{
		User:    a.execUser,
		Workdir: a.projectPath,
	})
	if err != nil {
		cancel()
		return err
	}
	a.proc = proc
	go a.readLoop(proc)
	return nil
}

func (a *cliAdapter) readLoop(proc *container.StreamProcess) {
	defer close(a.msgs)
	scanner := bufio.NewScanner(proc.Stdout)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		a.probeNativeSessionID(line)
		msgs, err := transcript.ParseLine(line)
		if err != nil {
			continue
		}
		for _, m := range msgs {
			a.msgs <- m
		}
	}
	if _, err := proc.Wait(); err != nil {
		a.msgs <- model.Message{Type: model.MessageError, Content: err.Error()}
	} else {
		a.msgs <- model.Message{Type: model.MessageDone}
	}
}

// sessionIDProbe extracts the agent-native session id carried on the
// first init-style line, independent of the uniform message projection.
type sessionIDProbe struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
}

func (a *cliAdapter) probeNativeSessionID(line []byte) {
	a.mu.Lock()
	known := a.nativeID != ""
	a.mu.Unlock()
	if known {
		return
	}
	var probe sessionIDProbe
	if err := json.Unmarshal(line, &probe); err != nil {
		return
	}
	if probe.SessionID == "" {
		return
	}
	a.mu.Lock()
	a.nativeID = probe.SessionID
	a.mu.Unlock()
}

func (a *cliAdapter) SendMessage(ctx context.Context, text string) error {
	a.mu.Lock()
	proc := a.proc
	a.mu.Unlock()
	if proc == nil {
		return fmt.Errorf("adapter not started")
	}
	payload, err := json.Marshal(map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": text,
		},
	})
	if err != nil {
		return err
	}
	_, err = proc.Stdin.Write(append(payload, '\n'))
	return err
}

// SetModel records m. An already running CLI process keeps the model it
// was started with; m is passed to the process the next Start launches.
func (a *cliAdapter) SetModel(m string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = m
}

func (a *cliAdapter) Model() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

func (a *cliAdapter) NativeSessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nativeID
}

// Interrupt sends an interrupt control line, mirroring the stdin
// protocol used for turns. It sends no signal and waits for no
// acknowledgement; the process is disposed only if the write fails. The
// no-reuse-after-cancel invariant is enforced by the caller
// (LiveSession) discarding this adapter afterward.
func (a *cliAdapter) Interrupt(ctx context.Context) error {
	a.mu.Lock()
	proc := a.proc
	a.mu.Unlock()
	if proc == nil {
		return nil
	}
	payload, _ := json.Marshal(map[string]string{"type": "interrupt"})
	if _, err := proc.Stdin.Write(append(payload, '\n')); err != nil {
		return a.Dispose()
	}
	return nil
}

func (a *cliAdapter) Dispose() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Lock()
	proc := a.proc
	a.mu.Unlock()
	if proc == nil {
		return nil
	}
	return proc.Kill()
}

func (a *cliAdapter) Messages() <-chan model.Message {
	return a.msgs
}

func defaultModelFor(kind model.AgentKind) string {
	switch kind {
	case model.AgentOpenCode:
		return defaultOpenCodeAdapterModel
	case model.AgentCodex:
		return defaultCodexAdapterModel
	default:
		return ""
	}
}

// New constructs the adapter for kind, wiring the CLI-specific argv
// builder (claude.go/opencode.go/codex.go).
func New(kind model.AgentKind, drv *container.Driver, containerName, execUser, projectPath, initialModel, resumeNativeID string, log *logging.Logger) (Adapter, error) {
	switch kind {
	case model.AgentClaude:
		return newClaudeAdapter(drv, containerName, execUser, projectPath, initialModel, resumeNativeID), nil
	case model.AgentOpenCode:
		return newOpenCodeAdapter(drv, containerName, execUser, projectPath, initialModel, resumeNativeID), nil
	case model.AgentCodex:
		return newCodexAdapter(drv, containerName, execUser, projectPath, initialModel, resumeNativeID), nil
	default:
		return nil, fmt.Errorf("unknown agent kind %q", kind)
	}
}
