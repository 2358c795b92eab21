// Package model defines the on-disk and in-memory record shapes shared
// across perryd's components.
package model

import "time"

// WorkspaceStatus is a workspace's lifecycle state.
type WorkspaceStatus string

const (
	StatusCreating WorkspaceStatus = "creating"
	StatusRunning  WorkspaceStatus = "running"
	StatusStopped  WorkspaceStatus = "stopped"
	StatusError    WorkspaceStatus = "error"
)

// PortMap holds the ssh forward plus any additional user-requested
// forwards for a workspace. Ssh is mandatory once a workspace exists.
type PortMap struct {
	SSH      int            `json:"ssh"`
	Forwards map[string]int `json:"forwards,omitempty"` // container port (decimal key) -> host port
}

// WorkspaceRecord is the persisted state for a single workspace.
type WorkspaceRecord struct {
	Name        string          `json:"name"`
	ContainerID string          `json:"containerId,omitempty"`
	Status      WorkspaceStatus `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	CloneURL    string          `json:"cloneUrl,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
	Ports       PortMap         `json:"ports"`
	LastUsedAt  time.Time       `json:"lastUsedAt"`
	ErrorMsg    string          `json:"errorMessage,omitempty"`
}

// WorkspaceMap is the top-level shape of state.json.
type WorkspaceMap struct {
	Workspaces map[string]*WorkspaceRecord `json:"workspaces"`
}
