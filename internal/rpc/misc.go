package rpc

import (
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/perry-systems/perryd/internal/apperr"
	"github.com/perry-systems/perryd/internal/config"
)

// registerMiscProcedures wires `info`, `host.*`, and `config.*`.
func (s *Server) registerMiscProcedures(r *gin.RouterGroup) {
	r.POST("/info", s.info)
	r.POST("/host.info", s.hostInfo)
	r.POST("/host.updateAccess", s.hostUpdateAccess)
	r.POST("/config.get", s.configGet)
	r.POST("/config.set", s.configSet)
}

// info reports daemon-level diagnostics: version, connection counts, and
// workspace/session totals.
func (s *Server) info(c *gin.Context) {
	out := gin.H{
		"version":       Version,
		"workspaces":    len(s.workspaces.List()),
		"liveSessions":  len(s.sessions.ListLive()),
		"openTerminals": s.ptyMgr.ConnectionCount(),
	}
	respondOK(c, out)
}

// hostInfo reports the container runtime in use and its version, for
// clients that want to display host capability.
func (s *Server) hostInfo(c *gin.Context) {
	out := gin.H{"containerBinary": s.drv.Binary()}
	if v, err := s.drv.Version(c.Request.Context()); err == nil {
		out["containerVersion"] = v
	}
	hostname, _ := os.Hostname()
	out["hostname"] = hostname
	respondOK(c, out)
}

type hostUpdateAccessInput struct {
	SSHPublicKeys []string `json:"sshPublicKeys"`
}

// hostUpdateAccess stores the ssh public keys in agent-config.json's
// ssh.publicKeys. No sync step installs them into workspaces. The
// daemon's own auth token is configured at startup and is not mutable
// over RPC.
func (s *Server) hostUpdateAccess(c *gin.Context) {
	in, ok := bindInput[hostUpdateAccessInput](c)
	if !ok {
		return
	}
	path := filepath.Join(s.configDir, "agent-config.json")
	cfg, err := config.LoadAgentConfig(path)
	if err != nil {
		cfg = &config.AgentConfig{}
	}
	cfg.SSH.PublicKeys = in.SSHPublicKeys
	if err := config.SaveAgentConfig(path, cfg); err != nil {
		respondError(c, apperr.Wrap(apperr.Internal, "writing agent-config.json", err))
		return
	}
	respondOK(c, gin.H{"updated": true})
}

// configGet returns the current agent-config.json contents.
func (s *Server) configGet(c *gin.Context) {
	path := filepath.Join(s.configDir, "agent-config.json")
	cfg, err := config.LoadAgentConfig(path)
	if err != nil {
		respondError(c, apperr.Wrap(apperr.NotFound, "agent-config.json not found", err))
		return
	}
	respondOK(c, cfg)
}

// configSet overwrites agent-config.json. Callers typically use this to
// change the skills/mcpServers lists; the next sync applies
// them.
func (s *Server) configSet(c *gin.Context) {
	in, ok := bindInput[config.AgentConfig](c)
	if !ok {
		return
	}
	path := filepath.Join(s.configDir, "agent-config.json")
	if err := config.SaveAgentConfig(path, &in); err != nil {
		respondError(c, apperr.Wrap(apperr.Internal, "writing agent-config.json", err))
		return
	}
	respondOK(c, gin.H{"updated": true})
}
