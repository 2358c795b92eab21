package sync

import (
	"context"
	"encoding/json"

	"github.com/perry-systems/perryd/internal/config"
	"github.com/perry-systems/perryd/internal/container"
	"github.com/perry-systems/perryd/internal/model"
)

// ClaudeProvider syncs credentials, settings and generated config for the
// Claude Code CLI.
type ClaudeProvider struct {
	hostHome string // e.g. "~"
}

func NewClaudeProvider(hostHome string) *ClaudeProvider { return &ClaudeProvider{hostHome: hostHome} }

func (p *ClaudeProvider) Name() string { return string(model.AgentClaude) }

func (p *ClaudeProvider) RequiredDirs() []string {
	return []string{"/home/workspace/.claude", "/home/workspace/.claude/skills"}
}

func (p *ClaudeProvider) HostFiles() []HostFile {
	return []HostFile{
		{HostPath: p.hostHome + "/.claude/.credentials.json", ContainerPath: "/home/workspace/.claude/.credentials.json", Optional: true, Category: "credential"},
		{HostPath: p.hostHome + "/.claude/settings.json", ContainerPath: "/home/workspace/.claude/settings.json", Optional: true, Category: "preference"},
		{HostPath: p.hostHome + "/.claude/CLAUDE.md", ContainerPath: "/home/workspace/.claude/CLAUDE.md", Optional: true, Category: "preference"},
	}
}

func (p *ClaudeProvider) HostDirs() []HostDir {
	return []HostDir{
		{HostPath: p.hostHome + "/.claude/agents", ContainerPath: "/home/workspace/.claude/agents", Optional: true},
	}
}

type claudeDotJSON struct {
	HasCompletedOnboarding bool                       `json:"hasCompletedOnboarding"`
	MCPServers             map[string]json.RawMessage `json:"mcpServers,omitempty"`
}

func (p *ClaudeProvider) GeneratedFiles(ctx context.Context, drv *container.Driver, containerName string, cfg *config.AgentConfig) ([]GeneratedFile, error) {
	existing, err := readContainerFile(ctx, drv, containerName, "/home/workspace/.claude.json")
	if err != nil {
		return nil, err
	}
	hostFile, _ := readHostFile(p.hostHome + "/.claude.json")

	merged := claudeDotJSON{MCPServers: map[string]json.RawMessage{}}
	mergeClaudeJSON(&merged, existing)
	mergeClaudeJSON(&merged, hostFile)
	merged.HasCompletedOnboarding = true

	for _, m := range userMCPServers(cfg) {
		entry := map[string]any{}
		if m.IsLocal() {
			entry["type"] = "stdio"
			entry["command"] = m.Command
			entry["args"] = m.Args
			entry["env"] = m.Env
		} else {
			entry["type"] = "http"
			entry["url"] = m.URL
			entry["headers"] = m.Headers
		}
		raw, _ := json.Marshal(entry)
		merged.MCPServers[m.Name] = raw
	}

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return nil, err
	}

	out := []GeneratedFile{{ContainerPath: "/home/workspace/.claude.json", Perm: preferencePerm, Content: data}}
	out = append(out, skillFiles(cfg, "claude", "/home/workspace/.claude/skills")...)
	return out, nil
}

func mergeClaudeJSON(dst *claudeDotJSON, raw []byte) {
	if len(raw) == 0 {
		return
	}
	var parsed claudeDotJSON
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return
	}
	if parsed.HasCompletedOnboarding {
		dst.HasCompletedOnboarding = true
	}
	for k, v := range parsed.MCPServers {
		dst.MCPServers[k] = v
	}
}
