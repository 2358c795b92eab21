package pty

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/perry-systems/perryd/internal/container"
	"github.com/perry-systems/perryd/internal/logging"
)

// WorkspaceLookup resolves a workspace name to its container name and
// running status, without the pty package importing internal/workspace
// (the dependency runs the other way: workspace.Manager is handed this
// Handler's Manager as its PTYCloser).
type WorkspaceLookup func(workspaceName string) (containerName string, running bool)

// Handler upgrades HTTP requests to WebSocket terminal bridges.
type Handler struct {
	mgr      *Manager
	drv      *container.Driver
	lookup   WorkspaceLookup
	shell    []string
	execUser string
	log      *logging.Logger
}

// NewHandler wires a terminal WebSocket handler. shell is the argv run
// inside the container (default `["/bin/bash", "-l"]`); execUser is the
// container user the shell runs as.
func NewHandler(mgr *Manager, drv *container.Driver, lookup WorkspaceLookup, shell []string, execUser string, log *logging.Logger) *Handler {
	if len(shell) == 0 {
		shell = []string{"/bin/bash", "-l"}
	}
	return &Handler{mgr: mgr, drv: drv, lookup: lookup, shell: shell, execUser: execUser, log: log}
}

var terminalUpgrader = gorillaws.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     checkWebSocketOrigin,
}

// checkWebSocketOrigin admits same-origin and loopback browsers and
// rejects everything else. Requests without an Origin header (CLI and
// mobile clients) are allowed; bearer auth already gates them upstream.
func checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := u.Hostname()
	if isLoopbackHost(originHost) {
		return true
	}
	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	return strings.EqualFold(originHost, requestHost)
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// resizeFrame is the JSON control frame recognized on text WebSocket
// frames starting with '{'.
type resizeFrame struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// ServeHTTP handles GET /rpc/terminal/:name.
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

	conn, err := terminalUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("terminal websocket upgrade failed", zap.String("workspace", name), zap.Error(err))
		return
	}

	session, err := NewSession(c.Request.Context(), h.drv, containerName, h.shell, container.ExecOptions{User: h.execUser}, 24, 80, h.log)
	if err != nil {
		h.log.Error("failed to start terminal session", zap.String("workspace", name), zap.Error(err))
		_ = conn.WriteMessage(gorillaws.CloseMessage, gorillaws.FormatCloseMessage(gorillaws.CloseInternalServerErr, "terminal unavailable"))
		_ = conn.Close()
		return
	}

	id := h.mgr.register(name, session)
	defer h.mgr.unregister(id)

	h.bridge(conn, session, name)
}

// bridge pumps bytes bidirectionally between conn and session until
// either side closes.
func (h *Handler) bridge(conn *gorillaws.Conn, session *Session, workspaceName string) {
	var wg sync.WaitGroup
	wg.Add(1)

	var writeMu sync.Mutex
	writeBinary := func(p []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(gorillaws.BinaryMessage, p)
	}

	go func() {
		defer wg.Done()
		buf := make([]byte, 4096)
		for {
			n, err := session.Read(buf)
			if n > 0 {
				if werr := writeBinary(buf[:n]); werr != nil {
					session.log.Debug("terminal write to websocket failed",
						zap.String("workspace", workspaceName), zap.Error(werr))
					return
				}
			}
			if err != nil {
				code := session.Wait()
				reason := fmt.Sprintf("Process exited with code %d", code)
				writeMu.Lock()
				_ = conn.WriteControl(gorillaws.CloseMessage,
					gorillaws.FormatCloseMessage(gorillaws.CloseNormalClosure, reason),
					time.Now().Add(time.Second))
				writeMu.Unlock()
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if len(data) == 0 {
			continue
		}
		if messageType == gorillaws.TextMessage && data[0] == '{' {
			var resize resizeFrame
			if jerr := json.Unmarshal(data, &resize); jerr == nil && resize.Type == "resize" && resize.Cols > 0 && resize.Rows > 0 {
				if rerr := session.Resize(context.Background(), resize.Rows, resize.Cols); rerr != nil {
					h.log.Debug("terminal resize failed", zap.String("workspace", workspaceName), zap.Error(rerr))
				}
				continue
			}
			// Not a recognized resize frame: pass through as raw input.
			// A user typing '{' at a shell prompt must still be delivered.
		}
		if _, werr := session.Write(data); werr != nil {
			break
		}
	}

	_ = session.Close()
	_ = conn.Close()
	wg.Wait()
}
