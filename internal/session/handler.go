package session

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/perry-systems/perryd/internal/logging"
	"github.com/perry-systems/perryd/internal/model"
)

// WorkspaceLookup resolves a workspace name to its container name and
// running status, mirroring pty.WorkspaceLookup. The session package
// never imports internal/workspace directly.
type WorkspaceLookup func(workspaceName string) (containerName string, running bool)

// clientMessage is the chat WebSocket's client->server frame shape.
type clientMessage struct {
	Type          string `json:"type"`
	WorkspaceName string `json:"workspaceName"`
	AgentKind     string `json:"agentKind"`
	SessionID     string `json:"sessionId"`
	Model         string `json:"model"`
	ProjectPath   string `json:"projectPath"`
	ResumeFromID  *int64 `json:"resumeFromId"`
	Content       string `json:"content"`
}

// serverFrame is the chat WebSocket's server->client frame shape.
// Connection-lifecycle frames use Type/SessionID/Model/Status/
// AgentNativeID; message frames use the rest.
type serverFrame struct {
	Type          string    `json:"type"`
	SessionID     string    `json:"sessionId,omitempty"`
	Model         string    `json:"model,omitempty"`
	Status        string    `json:"status,omitempty"`
	AgentNativeID string    `json:"agentNativeId,omitempty"`
	Content       string    `json:"content,omitempty"`
	Timestamp     time.Time `json:"timestamp,omitempty"`
	ToolName      string    `json:"toolName,omitempty"`
	ToolID        string    `json:"toolId,omitempty"`
	ID            int64     `json:"id,omitempty"`
}

// Handler upgrades HTTP requests to the chat/opencode WebSocket bridge.
// forcedKind pins the agent kind for routes that only ever speak to one
// agent CLI (`/rpc/opencode/<name>`); it is empty for the generic
// `/rpc/chat/<name>` route, where the client's connect frame supplies
// the kind (defaulting to claude).
type Handler struct {
	mgr        *Manager
	lookup     WorkspaceLookup
	forcedKind model.AgentKind
	log        *logging.Logger
}

// NewHandler wires a chat WebSocket handler bound to mgr.
func NewHandler(mgr *Manager, lookup WorkspaceLookup, forcedKind model.AgentKind, log *logging.Logger) *Handler {
	return &Handler{mgr: mgr, lookup: lookup, forcedKind: forcedKind, log: log}
}

var chatUpgrader = gorillaws.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP handles GET /rpc/chat/:name and /rpc/opencode/:name.
// The first frame from the client must be a `connect`
// frame; anything else before that is rejected.
func (h *Handler) ServeHTTP(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workspace name is required"})
		return
	}
	containerName, running := h.lookup(name)
	if !running {
		c.JSON(http.StatusNotFound, gin.H{"error": "workspace not running"})
		return
	}

	conn, err := chatUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("chat websocket upgrade failed", zap.String("workspace", name), zap.Error(err))
		return
	}
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	var connectMsg clientMessage
	if jerr := json.Unmarshal(data, &connectMsg); jerr != nil || connectMsg.Type != "connect" {
		_ = conn.WriteJSON(serverFrame{Type: "error", Content: "first frame must be a connect frame"})
		return
	}

	kind := model.AgentKind(connectMsg.AgentKind)
	if h.forcedKind != "" {
		kind = h.forcedKind
	}
	if kind == "" {
		kind = model.AgentClaude
	}

	req := ConnectRequest{
		WorkspaceName: name,
		ContainerName: containerName,
		AgentKind:     kind,
		SessionID:     connectMsg.SessionID,
		Model:         connectMsg.Model,
		ProjectPath:   connectMsg.ProjectPath,
	}
	if connectMsg.ResumeFromID != nil {
		req.ResumeFromID = *connectMsg.ResumeFromID
		req.HasResumeFrom = true
	}

	result, err := h.mgr.Connect(c.Request.Context(), req)
	if err != nil {
		_ = conn.WriteJSON(serverFrame{Type: "error", Content: err.Error()})
		return
	}
	defer h.mgr.Detach(result.OwnID, result.ClientID)

	_ = conn.WriteJSON(serverFrame{
		Type:          result.Kind,
		SessionID:     result.OwnID,
		Model:         result.Model,
		Status:        string(result.Status),
		AgentNativeID: result.AgentNativeID,
	})

	// Replay buffered history before streaming new messages, preserving
	// order.
	for _, msg := range result.Replay {
		if werr := conn.WriteJSON(toServerFrame(msg)); werr != nil {
			return
		}
	}

	h.bridge(c.Request.Context(), conn, result)
}

// bridge pumps fanned-out session messages to the client while reading
// message/interrupt frames from it. conn writes are serialized: gorilla
// connections do not allow concurrent writers.
func (h *Handler) bridge(ctx context.Context, conn *gorillaws.Conn, result *ConnectResult) {
	var writeMu sync.Mutex
	writeFrame := func(f serverFrame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(f)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg clientMessage
			if jerr := json.Unmarshal(data, &msg); jerr != nil {
				continue
			}
			switch msg.Type {
			case "message":
				if serr := h.mgr.SendMessage(ctx, result.OwnID, msg.Content); serr != nil {
					_ = writeFrame(serverFrame{Type: "error", Content: serr.Error()})
				}
			case "interrupt":
				if serr := h.mgr.Interrupt(ctx, result.OwnID); serr != nil {
					_ = writeFrame(serverFrame{Type: "error", Content: serr.Error()})
				}
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-result.Sink.ch:
			if !ok {
				return
			}
			if werr := writeFrame(toServerFrame(msg)); werr != nil {
				return
			}
		case <-result.Sink.done:
			code, reason := result.Sink.CloseCode()
			writeMu.Lock()
			_ = conn.WriteControl(gorillaws.CloseMessage, gorillaws.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
			writeMu.Unlock()
			return
		}
	}
}

func toServerFrame(msg model.Message) serverFrame {
	return serverFrame{
		Type:      string(msg.Type),
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
		ToolName:  msg.ToolName,
		ToolID:    msg.ToolID,
		ID:        msg.ID,
	}
}
