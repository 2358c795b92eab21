// Package rpc implements the RPC/HTTP surface: typed RPC procedures
// under POST /rpc/<procedure> wrapped in a tRPC-style
// `{json: input} -> {json: output}` envelope, two WebSocket upgrade
// route families, and a plain health check.
package rpc

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/perry-systems/perryd/internal/apperr"
	"github.com/perry-systems/perryd/internal/container"
	"github.com/perry-systems/perryd/internal/logging"
	"github.com/perry-systems/perryd/internal/pty"
	"github.com/perry-systems/perryd/internal/registry"
	"github.com/perry-systems/perryd/internal/session"
	"github.com/perry-systems/perryd/internal/workspace"
)

// UpgradeHandler is satisfied by *pty.Handler and *session.Handler: a
// gin-native handler (not a stdlib http.Handler) so the WebSocket
// upgrade path shares gin's context, params, and middleware chain
// instead of being wrapped through gin.WrapH.
type UpgradeHandler interface {
	ServeHTTP(c *gin.Context)
}

// Version is the daemon's reported build version, overridable by the
// linker in a release build.
var Version = "dev"

// Server holds every component the RPC surface fronts.
type Server struct {
	workspaces  *workspace.Manager
	sessions    *session.Manager
	registry    *registry.Registry
	ptyMgr      *pty.Manager
	drv         *container.Driver
	configDir   string
	bearerToken string
	log         *logging.Logger
}

// NewServer constructs the RPC surface. configDir roots agent-config.json
// for the config.* procedure group.
func NewServer(ws *workspace.Manager, sess *session.Manager, reg *registry.Registry, ptyMgr *pty.Manager, drv *container.Driver, configDir, bearerToken string, log *logging.Logger) *Server {
	return &Server{workspaces: ws, sessions: sess, registry: reg, ptyMgr: ptyMgr, drv: drv, configDir: configDir, bearerToken: bearerToken, log: log}
}

// Router builds the full gin.Engine: auth middleware, /health, /rpc/*,
// and the two WebSocket upgrade route families.
func (s *Server) Router(ptyHandler, chatHandler, opencodeHandler UpgradeHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/health", s.health)

	protected := r.Group("/")
	protected.Use(s.authMiddleware())
	{
		protected.GET("/rpc/terminal/:name", ptyHandler.ServeHTTP)
		protected.GET("/rpc/chat/:name", chatHandler.ServeHTTP)
		protected.GET("/rpc/opencode/:name", opencodeHandler.ServeHTTP)

		rpcGroup := protected.Group("/rpc")
		s.registerWorkspaceProcedures(rpcGroup)
		s.registerSessionProcedures(rpcGroup)
		s.registerMiscProcedures(rpcGroup)
	}

	return r
}

// health implements GET /health.
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": Version})
}

// authMiddleware rejects requests lacking a matching bearer token before
// any side effect, when a token is configured. An
// empty configured token disables auth entirely.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.bearerToken == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != s.bearerToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"json": gin.H{"error": "missing or invalid bearer token"}})
			return
		}
		c.Next()
	}
}

// requestLogger logs each RPC call at debug level through the
// structured logger.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.Debug("rpc request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
		)
	}
}

// bindInput decodes the `{json: <input>}` request envelope.
// On failure it writes an INVALID_ARGUMENT response and returns ok=false.
func bindInput[T any](c *gin.Context) (T, bool) {
	var wrapper struct {
		JSON T `json:"json"`
	}
	var zero T
	if c.Request.ContentLength == 0 {
		return zero, true
	}
	if err := c.ShouldBindJSON(&wrapper); err != nil {
		respondError(c, apperr.InvalidArgumentf("invalid request body: %v", err))
		return zero, false
	}
	return wrapper.JSON, true
}

// respondOK writes the `{json: <output>}` response envelope.
func respondOK[T any](c *gin.Context, value T) {
	c.JSON(http.StatusOK, gin.H{"json": value})
}

// respondError maps err's AppError kind to an HTTP status
// and writes it in the RPC envelope.
func respondError(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatusOf(err), gin.H{"json": gin.H{"error": err.Error()}})
}
