package session

import "github.com/perry-systems/perryd/internal/container"

const defaultCodexAdapterModel = "gpt-5-codex"

// newCodexAdapter builds the adapter driving `codex` inside the
// workspace container in streaming stdin/stdout JSON mode.
func newCodexAdapter(drv *container.Driver, containerName, execUser, projectPath, initialModel, resumeNativeID string) Adapter {
	if initialModel == "" {
		initialModel = defaultCodexAdapterModel
	}
	argvFunc := func(m, resumeID string) []string {
		argv := []string{"codex", "exec", "--json"}
		if m != "" {
			argv = append(argv, "--model", m)
		}
		if resumeID != "" {
			argv = append(argv, "resume", resumeID)
		}
		return argv
	}
	return newCLIAdapter(drv, containerName, execUser, projectPath, initialModel, resumeNativeID, argvFunc, "session_id")
}
