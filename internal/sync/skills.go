package sync

import (
	"context"
	"fmt"

	"github.com/perry-systems/perryd/internal/apperr"
	"github.com/perry-systems/perryd/internal/config"
	"github.com/perry-systems/perryd/internal/container"
)

// skillFiles renders one SKILL.md per enabled skill applicable to kind,
// shared by every provider.
func skillFiles(cfg *config.AgentConfig, kind string, skillsDir string) []GeneratedFile {
	if cfg == nil {
		return nil
	}
	var out []GeneratedFile
	for _, s := range cfg.Skills {
		if !s.Enabled || !appliesTo(s.AppliesTo, kind) {
			continue
		}
		body := s.Body
		if body == "" {
			body = fmt.Sprintf("# %s\n", s.Name)
		}
		out = append(out, GeneratedFile{
			ContainerPath: fmt.Sprintf("%s/%s/SKILL.md", skillsDir, s.ID),
			Perm:          preferencePerm,
			Content:       []byte(body),
		})
	}
	return out
}

func appliesTo(kinds []string, kind string) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// userMCPServers returns the workspace's enabled user-defined MCP servers.
func userMCPServers(cfg *config.AgentConfig) []config.MCPServerConfig {
	if cfg == nil {
		return nil
	}
	var out []config.MCPServerConfig
	for _, m := range cfg.MCPServers {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// readContainerFile best-effort reads containerPath from inside the
// container; a missing file yields (nil, nil) so generated-file merges can
// treat it as empty rather than failing the whole sync.
func readContainerFile(ctx context.Context, drv *container.Driver, containerName, containerPath string) ([]byte, error) {
	result, err := drv.Exec(ctx, containerName, []string{"cat", containerPath}, container.ExecOptions{User: "workspace"})
	if err != nil {
		if appErr, ok := apperr.As(err); ok && appErr.Kind == apperr.ContainerError {
			return nil, nil
		}
		return nil, err
	}
	return []byte(result.Stdout), nil
}
