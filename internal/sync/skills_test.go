package sync

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/perry-systems/perryd/internal/config"
)

func TestSkillFiles_FiltersByKindAndEnabled(t *testing.T) {
	cfg := &config.AgentConfig{
		Skills: []config.SkillConfig{
			{ID: "a", Name: "Alpha", Enabled: true, AppliesTo: []string{"claude"}},
			{ID: "b", Name: "Beta", Enabled: false, AppliesTo: []string{"claude"}},
			{ID: "c", Name: "Gamma", Enabled: true, AppliesTo: []string{"opencode"}},
			{ID: "d", Name: "Delta", Enabled: true},
		},
	}

	files := skillFiles(cfg, "claude", "/home/workspace/.claude/skills")
	require.Len(t, files, 2)

	var paths []string
	for _, f := range files {
		paths = append(paths, f.ContainerPath)
	}
	require.Contains(t, paths, "/home/workspace/.claude/skills/a/SKILL.md")
	require.Contains(t, paths, "/home/workspace/.claude/skills/d/SKILL.md")
}

func TestUserMCPServers_OnlyEnabled(t *testing.T) {
	cfg := &config.AgentConfig{
		MCPServers: []config.MCPServerConfig{
			{ID: "1", Name: "one", Enabled: true, Command: "foo"},
			{ID: "2", Name: "two", Enabled: false},
		},
	}
	servers := userMCPServers(cfg)
	require.Len(t, servers, 1)
	require.Equal(t, "one", servers[0].Name)
	require.True(t, servers[0].IsLocal())
}
