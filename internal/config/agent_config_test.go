package config

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPostStartPaths_AcceptsStringOrArray(t *testing.T) {
	var s ScriptsConfig

	require.NoError(t, unmarshalScripts(&s, `{"post_start":"/etc/perryd/setup.sh"}`))
	paths, err := s.PostStartPaths()
	require.NoError(t, err)
	require.Equal(t, []string{"/etc/perryd/setup.sh"}, paths)

	require.NoError(t, unmarshalScripts(&s, `{"post_start":["/a.sh","/b.d"]}`))
	paths, err = s.PostStartPaths()
	require.NoError(t, err)
	require.Equal(t, []string{"/a.sh", "/b.d"}, paths)

	require.NoError(t, unmarshalScripts(&s, `{}`))
	paths, err = s.PostStartPaths()
	require.NoError(t, err)
	require.Nil(t, paths)

	require.NoError(t, unmarshalScripts(&s, `{"post_start":42}`))
	_, err = s.PostStartPaths()
	require.Error(t, err)
}

func unmarshalScripts(s *ScriptsConfig, raw string) error {
	*s = ScriptsConfig{}
	return json.Unmarshal([]byte(raw), s)
}

func TestLoadSaveAgentConfigRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent-config.json")

	cfg := &AgentConfig{
		Credentials: CredentialsConfig{Env: map[string]string{"GIT_AUTHOR_NAME": "dev"}},
		Skills: []SkillConfig{
			{ID: "review", Name: "Review", Enabled: true, AppliesTo: []string{"claude"}},
		},
		MCPServers: []MCPServerConfig{
			{ID: "fs", Name: "filesystem", Enabled: true, Command: "mcp-fs", Args: []string{"--root", "/"}},
			{ID: "web", Name: "search", Enabled: true, URL: "https://mcp.example.com", Headers: map[string]string{"X-Key": "k"}},
		},
	}
	require.NoError(t, SaveAgentConfig(path, cfg))

	got, err := LoadAgentConfig(path)
	require.NoError(t, err)
	require.Equal(t, "dev", got.Credentials.Env["GIT_AUTHOR_NAME"])
	require.Len(t, got.Skills, 1)
	require.Len(t, got.MCPServers, 2)
	require.True(t, got.MCPServers[0].IsLocal())
	require.False(t, got.MCPServers[1].IsLocal())
}

func TestLoadAgentConfig_MissingFileErrors(t *testing.T) {
	_, err := LoadAgentConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
