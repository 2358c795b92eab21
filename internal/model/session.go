package model

import "time"

// AgentKind identifies which coding-agent CLI a session speaks to.
type AgentKind string

const (
	AgentClaude   AgentKind = "claude"
	AgentOpenCode AgentKind = "opencode"
	AgentCodex    AgentKind = "codex"
)

// SessionRecord is the persisted mapping from a system-assigned ownId to
// an agent-native session id.
type SessionRecord struct {
	OwnID         string    `json:"ownId"`
	WorkspaceName string    `json:"workspaceName"`
	AgentKind     AgentKind `json:"agentKind"`
	AgentNativeID string    `json:"agentNativeId,omitempty"`
	ProjectPath   string    `json:"projectPath,omitempty"`
	DisplayName   string    `json:"displayName,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	LastActivity  time.Time `json:"lastActivity"`
}

// SessionRegistryDoc is the top-level shape of session-registry.json.
type SessionRegistryDoc struct {
	Version  int                       `json:"version"`
	Sessions map[string]*SessionRecord `json:"sessions"`
}

// MessageType tags a Message's role in the uniform transcript model.
type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
	MessageToolUse   MessageType = "tool_use"
	MessageToolResult MessageType = "tool_result"
	MessageSystem    MessageType = "system"
	MessageError     MessageType = "error"
	MessageDone      MessageType = "done"
)

// Message is the uniform message shape emitted by both the JSONL parser
// (replaying history) and live adapters (streaming new turns).
type Message struct {
	ID        int64       `json:"id"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content,omitempty"`
	ToolName  string      `json:"toolName,omitempty"`
	ToolID    string      `json:"toolId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
