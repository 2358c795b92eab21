package sync

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/perry-systems/perryd/internal/config"
)

func TestMergeClaudeJSON_LaterSourcesWinPerServer(t *testing.T) {
	merged := claudeDotJSON{MCPServers: map[string]json.RawMessage{}}

	mergeClaudeJSON(&merged, []byte(`{"mcpServers":{"fs":{"type":"stdio","command":"old"}}}`))
	mergeClaudeJSON(&merged, []byte(`{"hasCompletedOnboarding":true,"mcpServers":{"fs":{"type":"stdio","command":"new"},"web":{"type":"http","url":"https://x"}}}`))

	require.True(t, merged.HasCompletedOnboarding)
	require.Len(t, merged.MCPServers, 2)
	require.Contains(t, string(merged.MCPServers["fs"]), "new")
}

func TestMergeClaudeJSON_IgnoresEmptyAndMalformedInput(t *testing.T) {
	merged := claudeDotJSON{MCPServers: map[string]json.RawMessage{}}
	mergeClaudeJSON(&merged, nil)
	mergeClaudeJSON(&merged, []byte("{broken"))
	require.Empty(t, merged.MCPServers)
	require.False(t, merged.HasCompletedOnboarding)
}

func TestOpenCodeGeneratedFiles_RequiresAPIKey(t *testing.T) {
	p := NewOpenCodeProvider("/home/dev")

	// Without a zen token only skills are emitted.
	files, err := p.GeneratedFiles(context.Background(), nil, "workspace-a", &config.AgentConfig{})
	require.NoError(t, err)
	require.Empty(t, files)

	cfg := &config.AgentConfig{
		Agents: config.AgentsConfig{
			OpenCode: &config.OpenCodeAgentConfig{ZenToken: "zt-1"},
		},
		MCPServers: []config.MCPServerConfig{
			{ID: "fs", Name: "fs", Enabled: true, Command: "mcp-fs", Args: []string{"--root"}},
			{ID: "web", Name: "web", Enabled: true, URL: "https://mcp.example.com"},
		},
	}
	files, err = p.GeneratedFiles(context.Background(), nil, "workspace-a", cfg)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "/home/workspace/.config/opencode/opencode.json", files[0].ContainerPath)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(files[0].Content, &doc))
	require.Equal(t, defaultOpenCodeModel, doc["model"])

	mcp := doc["mcp"].(map[string]any)
	local := mcp["fs"].(map[string]any)
	require.Equal(t, "local", local["type"])
	require.Equal(t, []any{"mcp-fs", "--root"}, local["command"])
	remote := mcp["web"].(map[string]any)
	require.Equal(t, "remote", remote["type"])
	require.Equal(t, "https://mcp.example.com", remote["url"])
}

func TestOpenCodeGeneratedFiles_ModelFallsBackToHostValue(t *testing.T) {
	hostHome := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(hostHome, ".config", "opencode"), 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(hostHome, ".config", "opencode", "opencode.json"),
		[]byte(`{"model":"anthropic/claude-haiku-4"}`), 0644))

	p := NewOpenCodeProvider(hostHome)
	cfg := &config.AgentConfig{
		Agents: config.AgentsConfig{
			OpenCode: &config.OpenCodeAgentConfig{ZenToken: "zt-1"},
		},
	}

	// No user choice: the host's own config supplies the model.
	files, err := p.GeneratedFiles(context.Background(), nil, "workspace-a", cfg)
	require.NoError(t, err)
	require.Len(t, files, 1)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(files[0].Content, &doc))
	require.Equal(t, "anthropic/claude-haiku-4", doc["model"])

	// An explicit user choice still wins over the host value.
	cfg.Agents.OpenCode.Model = "anthropic/claude-opus-4"
	files, err = p.GeneratedFiles(context.Background(), nil, "workspace-a", cfg)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(files[0].Content, &doc))
	require.Equal(t, "anthropic/claude-opus-4", doc["model"])
}

func TestOpenCodeGeneratedFiles_UserModelWinsOverDefault(t *testing.T) {
	p := NewOpenCodeProvider("/home/dev")
	cfg := &config.AgentConfig{
		Agents: config.AgentsConfig{
			OpenCode: &config.OpenCodeAgentConfig{ZenToken: "zt-1", Model: "anthropic/claude-opus-4"},
		},
	}
	files, err := p.GeneratedFiles(context.Background(), nil, "workspace-a", cfg)
	require.NoError(t, err)
	require.Len(t, files, 1)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(files[0].Content, &doc))
	require.Equal(t, "anthropic/claude-opus-4", doc["model"])
}

func TestShellQuote_SingleQuoteSafe(t *testing.T) {
	cases := map[string]string{
		"plain":        `'plain'`,
		"it's":         `'it'\''s'`,
		"a b\tc":       "'a b\tc'",
		`$(rm -rf /x)`: `'$(rm -rf /x)'`,
	}
	for in, want := range cases {
		require.Equal(t, want, shellQuote(in))
	}
}

func TestCodexGeneratedFiles_SkillsAndConfig(t *testing.T) {
	p := NewCodexProvider("/home/dev")
	cfg := &config.AgentConfig{
		Agents: config.AgentsConfig{
			Codex: &config.CodexAgentConfig{APIKey: "sk-test"},
		},
		Skills: []config.SkillConfig{
			{ID: "deploy", Name: "Deploy", Enabled: true, AppliesTo: []string{"codex"}},
		},
	}
	files, err := p.GeneratedFiles(context.Background(), nil, "workspace-a", cfg)
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "/home/workspace/.claude/skills/deploy/SKILL.md", files[0].ContainerPath)
	require.Equal(t, "/home/workspace/.codex/config.json", files[1].ContainerPath)
}
