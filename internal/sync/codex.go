package sync

import (
	"context"
	"encoding/json"

	"github.com/perry-systems/perryd/internal/config"
	"github.com/perry-systems/perryd/internal/container"
	"github.com/perry-systems/perryd/internal/model"
)

// CodexProvider syncs credentials and generated config for the Codex CLI,
// following the Claude/OpenCode template.
type CodexProvider struct {
	hostHome string
}

func NewCodexProvider(hostHome string) *CodexProvider { return &CodexProvider{hostHome: hostHome} }

func (p *CodexProvider) Name() string { return string(model.AgentCodex) }

func (p *CodexProvider) RequiredDirs() []string {
	return []string{"/home/workspace/.codex", "/home/workspace/.claude/skills"}
}

func (p *CodexProvider) HostFiles() []HostFile {
	return []HostFile{
		{HostPath: p.hostHome + "/.codex/auth.json", ContainerPath: "/home/workspace/.codex/auth.json", Optional: true, Category: "credential"},
	}
}

func (p *CodexProvider) HostDirs() []HostDir { return nil }

const defaultCodexModel = "gpt-5-codex"

func (p *CodexProvider) GeneratedFiles(ctx context.Context, drv *container.Driver, containerName string, cfg *config.AgentConfig) ([]GeneratedFile, error) {
	var out []GeneratedFile
	out = append(out, skillFiles(cfg, "codex", "/home/workspace/.claude/skills")...)

	if cfg == nil || cfg.Agents.Codex == nil || cfg.Agents.Codex.APIKey == "" {
		return out, nil
	}

	selectedModel := cfg.Agents.Codex.Model
	if selectedModel == "" {
		selectedModel = defaultCodexModel
	}

	mcpServers := map[string]any{}
	for _, m := range userMCPServers(cfg) {
		if m.IsLocal() {
			mcpServers[m.Name] = map[string]any{"command": m.Command, "args": m.Args, "env": m.Env}
		} else {
			mcpServers[m.Name] = map[string]any{"url": m.URL, "headers": m.Headers}
		}
	}

	doc := map[string]any{
		"apiKey":     cfg.Agents.Codex.APIKey,
		"model":      selectedModel,
		"mcpServers": mcpServers,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	out = append(out, GeneratedFile{ContainerPath: "/home/workspace/.codex/config.json", Perm: preferencePerm, Content: data})
	return out, nil
}
