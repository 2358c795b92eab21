package rpc

import (
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/perry-systems/perryd/internal/apperr"
	"github.com/perry-systems/perryd/internal/model"
)

// registerSessionProcedures wires the sessions.* procedure group.
func (s *Server) registerSessionProcedures(r *gin.RouterGroup) {
	r.POST("/sessions.list", s.sessionsList)
	r.POST("/sessions.listAll", s.sessionsListAll)
	r.POST("/sessions.get", s.sessionsGet)
	r.POST("/sessions.rename", s.sessionsRename)
	r.POST("/sessions.clearName", s.sessionsClearName)
}

// sessionView merges a persisted registry record with its live
// in-memory state, when one exists.
type sessionView struct {
	OwnID         string          `json:"ownId"`
	WorkspaceName string          `json:"workspaceName"`
	AgentKind     model.AgentKind `json:"agentKind"`
	AgentNativeID string          `json:"agentNativeId,omitempty"`
	ProjectPath   string          `json:"projectPath,omitempty"`
	DisplayName   string          `json:"displayName,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	LastActivity  time.Time       `json:"lastActivity"`
	Live          bool            `json:"live"`
	Model         string          `json:"model,omitempty"`
	Status        string          `json:"status,omitempty"`
}

func (s *Server) viewFor(rec *model.SessionRecord) sessionView {
	v := sessionView{
		OwnID:         rec.OwnID,
		WorkspaceName: rec.WorkspaceName,
		AgentKind:     rec.AgentKind,
		AgentNativeID: rec.AgentNativeID,
		ProjectPath:   rec.ProjectPath,
		DisplayName:   rec.DisplayName,
		CreatedAt:     rec.CreatedAt,
		LastActivity:  rec.LastActivity,
	}
	if live, ok := s.sessions.GetLive(rec.OwnID); ok {
		snap := live.Snapshot()
		v.Live = true
		v.Model = snap.Model
		v.Status = string(snap.Status)
		v.LastActivity = snap.LastActivity
		v.AgentNativeID = firstNonEmpty(rec.AgentNativeID, v.AgentNativeID)
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type sessionsListInput struct {
	WorkspaceName string `json:"workspaceName"`
}

func (s *Server) sessionsList(c *gin.Context) {
	in, ok := bindInput[sessionsListInput](c)
	if !ok {
		return
	}
	recs := s.registry.GetSessionsForWorkspace(in.WorkspaceName)
	out := make([]sessionView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.viewFor(rec))
	}
	respondOK(c, out)
}

// sessionsListAll aggregates every known session across all workspaces,
// sorted by lastActivity descending.
func (s *Server) sessionsListAll(c *gin.Context) {
	recs := s.registry.ListAll()
	out := make([]sessionView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.viewFor(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	respondOK(c, out)
}

type sessionIDInput struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) sessionsGet(c *gin.Context) {
	in, ok := bindInput[sessionIDInput](c)
	if !ok {
		return
	}
	rec, found := s.registry.Get(in.SessionID)
	if !found {
		respondError(c, apperr.NotFoundf("session", in.SessionID))
		return
	}
	respondOK(c, s.viewFor(rec))
}

type sessionsRenameInput struct {
	SessionID   string `json:"sessionId"`
	DisplayName string `json:"displayName"`
}

func (s *Server) sessionsRename(c *gin.Context) {
	in, ok := bindInput[sessionsRenameInput](c)
	if !ok {
		return
	}
	if err := s.registry.Rename(in.SessionID, in.DisplayName); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"renamed": true})
}

func (s *Server) sessionsClearName(c *gin.Context) {
	in, ok := bindInput[sessionIDInput](c)
	if !ok {
		return
	}
	if err := s.registry.ClearName(in.SessionID); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"cleared": true})
}
