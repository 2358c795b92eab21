package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// AgentConfig is the `agent-config.json` document: a single file in the
// config dir, shared by all workspaces.
// It is read once by the sync engine and the workspace manager
// when a workspace is created or synced; it is not the daemon's own Config.
type AgentConfig struct {
	Port        int               `json:"port,omitempty"`
	Credentials CredentialsConfig `json:"credentials"`
	Scripts     ScriptsConfig     `json:"scripts"`
	Agents      AgentsConfig      `json:"agents"`
	Skills      []SkillConfig     `json:"skills,omitempty"`
	MCPServers  []MCPServerConfig `json:"mcpServers,omitempty"`
	SSH         SSHConfig         `json:"ssh,omitempty"`
	Tailscale   *TailscaleConfig  `json:"tailscale,omitempty"`
}

// CredentialsConfig describes environment injection and file provisioning
// for the sync engine's ambient credentials step.
type CredentialsConfig struct {
	Env   map[string]string `json:"env,omitempty"`
	Files []CredentialFile  `json:"files,omitempty"`
}

// CredentialFile is a single host file to provision into the container.
type CredentialFile struct {
	HostPath      string `json:"hostPath"`
	ContainerPath string `json:"containerPath"`
	Perm          string `json:"perm,omitempty"`  // octal, e.g. "0600"
	Owner         string `json:"owner,omitempty"`
	Category      string `json:"category,omitempty"` // "credential" or "preference"
}

// ScriptsConfig describes post-start script execution.
type ScriptsConfig struct {
	// PostStart is either a single path or a list of paths; the raw form
	// preserves the on-disk shape before PostStartPaths() normalizes it.
	PostStart   json.RawMessage `json:"post_start,omitempty"`
	FailOnError bool            `json:"fail_on_error,omitempty"`
}

// PostStartPaths normalizes post_start into a slice, accepting either a
// bare string or a JSON array of strings on disk.
func (s ScriptsConfig) PostStartPaths() ([]string, error) {
	if len(s.PostStart) == 0 {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(s.PostStart, &single); err == nil {
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(s.PostStart, &list); err == nil {
		return list, nil
	}
	return nil, fmt.Errorf("scripts.post_start must be a string or array of strings")
}

// AgentsConfig holds per-agent-kind credentials and model preferences.
type AgentsConfig struct {
	ClaudeCode *ClaudeCodeAgentConfig `json:"claude_code,omitempty"`
	OpenCode   *OpenCodeAgentConfig   `json:"opencode,omitempty"`
	Codex      *CodexAgentConfig      `json:"codex,omitempty"`
}

type ClaudeCodeAgentConfig struct {
	OAuthToken string `json:"oauth_token,omitempty"`
	Model      string `json:"model,omitempty"`
}

type OpenCodeAgentConfig struct {
	ZenToken string `json:"zen_token,omitempty"`
	Model    string `json:"model,omitempty"`
}

type CodexAgentConfig struct {
	APIKey string `json:"api_key,omitempty"`
	Model  string `json:"model,omitempty"`
}

// SkillConfig describes a skill definition synced into the workspace
// as a SKILL.md file.
type SkillConfig struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Enabled   bool     `json:"enabled"`
	AppliesTo []string `json:"appliesTo,omitempty"`
	Body      string   `json:"body,omitempty"`
}

// MCPServerConfig describes a local or remote MCP server definition.
type MCPServerConfig struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	// Local fields.
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	// Remote fields.
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	OAuth   bool              `json:"oauth,omitempty"`
}

// IsLocal reports whether this server definition launches a local process
// rather than connecting to a remote endpoint.
func (m MCPServerConfig) IsLocal() bool { return m.Command != "" }

// SSHConfig configures the workspace's forwarded ssh endpoint.
type SSHConfig struct {
	PublicKeys []string `json:"publicKeys,omitempty"`
}

// TailscaleConfig is accepted and passed through; Tailscale integration
// itself is out of scope.
type TailscaleConfig struct {
	AuthKey  string `json:"authKey,omitempty"`
	Hostname string `json:"hostname,omitempty"`
}

// LoadAgentConfig reads and parses a workspace's agent-config.json.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg AgentConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveAgentConfig writes cfg to path, pretty-printed, so the config.set
// RPC procedure can persist edits the next sync run picks up.
func SaveAgentConfig(path string, cfg *AgentConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
