package sync

import (
	"context"
	"encoding/json"

	"github.com/perry-systems/perryd/internal/config"
	"github.com/perry-systems/perryd/internal/container"
	"github.com/perry-systems/perryd/internal/model"
)

// OpenCodeProvider syncs credentials and generated config for the OpenCode
// CLI. It shares the Claude skills path, since OpenCode
// discovers skills under ~/.claude/skills too.
type OpenCodeProvider struct {
	hostHome string
}

func NewOpenCodeProvider(hostHome string) *OpenCodeProvider { return &OpenCodeProvider{hostHome: hostHome} }

func (p *OpenCodeProvider) Name() string { return string(model.AgentOpenCode) }

func (p *OpenCodeProvider) RequiredDirs() []string {
	return []string{"/home/workspace/.config/opencode", "/home/workspace/.claude/skills"}
}

func (p *OpenCodeProvider) HostFiles() []HostFile { return nil }

func (p *OpenCodeProvider) HostDirs() []HostDir { return nil }

const defaultOpenCodeModel = "anthropic/claude-sonnet-4"

// hostModel reads the model the operator's own host OpenCode config
// selects, the middle tier of the user choice -> host value -> default
// fallback. Missing or unparseable host config yields "".
func (p *OpenCodeProvider) hostModel() string {
	data, err := readHostFile(p.hostHome + "/.config/opencode/opencode.json")
	if err != nil {
		return ""
	}
	var hostCfg struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(data, &hostCfg); err != nil {
		return ""
	}
	return hostCfg.Model
}

func (p *OpenCodeProvider) GeneratedFiles(ctx context.Context, drv *container.Driver, containerName string, cfg *config.AgentConfig) ([]GeneratedFile, error) {
	var out []GeneratedFile
	out = append(out, skillFiles(cfg, "opencode", "/home/workspace/.claude/skills")...)

	if cfg == nil || cfg.Agents.OpenCode == nil || cfg.Agents.OpenCode.ZenToken == "" {
		return out, nil
	}

	selectedModel := cfg.Agents.OpenCode.Model
	if selectedModel == "" {
		selectedModel = p.hostModel()
	}
	if selectedModel == "" {
		selectedModel = defaultOpenCodeModel
	}

	mcp := map[string]any{}
	for _, m := range userMCPServers(cfg) {
		if m.IsLocal() {
			mcp[m.Name] = map[string]any{
				"type":        "local",
				"command":     append([]string{m.Command}, m.Args...),
				"environment": m.Env,
			}
		} else {
			mcp[m.Name] = map[string]any{
				"type":    "remote",
				"url":     m.URL,
				"headers": m.Headers,
				"oauth":   m.OAuth,
			}
		}
	}

	doc := map[string]any{
		"provider": map[string]any{
			"opencode": map[string]any{
				"options": map[string]any{"apiKey": cfg.Agents.OpenCode.ZenToken},
			},
		},
		"model": selectedModel,
		"mcp":   mcp,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	out = append(out, GeneratedFile{ContainerPath: "/home/workspace/.config/opencode/opencode.json", Perm: preferencePerm, Content: data})
	return out, nil
}
