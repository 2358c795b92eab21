package rpc

import (
	"github.com/gin-gonic/gin"

	"github.com/perry-systems/perryd/internal/apperr"
	"github.com/perry-systems/perryd/internal/workspace"
)

// registerWorkspaceProcedures wires the workspaces.* procedure group.
func (s *Server) registerWorkspaceProcedures(r *gin.RouterGroup) {
	r.POST("/workspaces.list", s.workspacesList)
	r.POST("/workspaces.get", s.workspacesGet)
	r.POST("/workspaces.create", s.workspacesCreate)
	r.POST("/workspaces.delete", s.workspacesDelete)
	r.POST("/workspaces.start", s.workspacesStart)
	r.POST("/workspaces.stop", s.workspacesStop)
	r.POST("/workspaces.logs", s.workspacesLogs)
	r.POST("/workspaces.sync", s.workspacesSync)
	r.POST("/workspaces.syncAll", s.workspacesSyncAll)
	r.POST("/workspaces.getPortForwards", s.workspacesGetPortForwards)
	r.POST("/workspaces.setPortForwards", s.workspacesSetPortForwards)
	r.POST("/workspaces.clone", s.workspacesClone)
}

func (s *Server) workspacesList(c *gin.Context) {
	respondOK(c, s.workspaces.List())
}

type workspaceNameInput struct {
	Name string `json:"name"`
}

func (s *Server) workspacesGet(c *gin.Context) {
	in, ok := bindInput[workspaceNameInput](c)
	if !ok {
		return
	}
	rec, err := s.workspaces.Get(in.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, rec)
}

type workspacesCreateInput struct {
	Name     string            `json:"name"`
	CloneURL string            `json:"cloneUrl,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
}

func (s *Server) workspacesCreate(c *gin.Context) {
	in, ok := bindInput[workspacesCreateInput](c)
	if !ok {
		return
	}
	rec, err := s.workspaces.Create(c.Request.Context(), in.Name, workspace.CreateOptions{CloneURL: in.CloneURL, Env: in.Env})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, rec)
}

func (s *Server) workspacesDelete(c *gin.Context) {
	in, ok := bindInput[workspaceNameInput](c)
	if !ok {
		return
	}
	if err := s.workspaces.Delete(c.Request.Context(), in.Name); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"deleted": true})
}

func (s *Server) workspacesStart(c *gin.Context) {
	in, ok := bindInput[workspaceNameInput](c)
	if !ok {
		return
	}
	rec, err := s.workspaces.Start(c.Request.Context(), in.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, rec)
}

func (s *Server) workspacesStop(c *gin.Context) {
	in, ok := bindInput[workspaceNameInput](c)
	if !ok {
		return
	}
	if err := s.workspaces.Stop(c.Request.Context(), in.Name); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"stopped": true})
}

type workspacesLogsInput struct {
	Name string `json:"name"`
	Tail int    `json:"tail,omitempty"`
}

func (s *Server) workspacesLogs(c *gin.Context) {
	in, ok := bindInput[workspacesLogsInput](c)
	if !ok {
		return
	}
	tail := in.Tail
	if tail <= 0 {
		tail = 200
	}
	logs, err := s.workspaces.GetLogs(c.Request.Context(), in.Name, tail)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"logs": logs})
}

func (s *Server) workspacesSync(c *gin.Context) {
	in, ok := bindInput[workspaceNameInput](c)
	if !ok {
		return
	}
	if err := s.workspaces.Sync(c.Request.Context(), in.Name); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"synced": true})
}

func (s *Server) workspacesSyncAll(c *gin.Context) {
	synced, failed, results := s.workspaces.SyncAll(c.Request.Context())
	out := make([]gin.H, 0, len(results))
	for _, r := range results {
		entry := gin.H{"name": r.Name}
		if r.Error != nil {
			entry["error"] = r.Error.Error()
		}
		out = append(out, entry)
	}
	respondOK(c, gin.H{"synced": synced, "failed": failed, "results": out})
}

func (s *Server) workspacesGetPortForwards(c *gin.Context) {
	in, ok := bindInput[workspaceNameInput](c)
	if !ok {
		return
	}
	ports, err := s.workspaces.GetPortForwards(in.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, ports)
}

type workspacesSetPortForwardsInput struct {
	Name     string         `json:"name"`
	Forwards map[string]int `json:"forwards"`
}

func (s *Server) workspacesSetPortForwards(c *gin.Context) {
	in, ok := bindInput[workspacesSetPortForwardsInput](c)
	if !ok {
		return
	}
	if err := s.workspaces.SetPortForwards(c.Request.Context(), in.Name, in.Forwards); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"updated": true})
}

type workspacesCloneInput struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (s *Server) workspacesClone(c *gin.Context) {
	in, ok := bindInput[workspacesCloneInput](c)
	if !ok {
		return
	}
	if in.URL == "" {
		respondError(c, apperr.InvalidArgumentf("url is required"))
		return
	}
	if err := s.workspaces.Clone(c.Request.Context(), in.Name, in.URL); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"cloned": true})
}
