package session

import "github.com/perry-systems/perryd/internal/container"

const defaultOpenCodeAdapterModel = "anthropic/claude-sonnet-4"

// newOpenCodeAdapter builds the adapter driving `opencode` inside the
// workspace container in streaming stdin/stdout JSON mode.
func newOpenCodeAdapter(drv *container.Driver, containerName, execUser, projectPath, initialModel, resumeNativeID string) Adapter {
	if initialModel == "" {
		initialModel = defaultOpenCodeAdapterModel
	}
	argvFunc := func(m, resumeID string) []string {
		argv := []string{"opencode", "run", "--format", "json"}
		if m != "" {
			argv = append(argv, "--model", m)
		}
		if resumeID != "" {
			argv = append(argv, "--session", resumeID)
		}
		return argv
	}
	return newCLIAdapter(drv, containerName, execUser, projectPath, initialModel, resumeNativeID, argvFunc, "session_id")
}
