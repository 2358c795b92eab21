package session

import "github.com/perry-systems/perryd/internal/container"

// newClaudeAdapter builds the adapter driving `claude` inside the
// workspace container in streaming stdin/stdout JSON mode.
func newClaudeAdapter(drv *container.Driver, containerName, execUser, projectPath, initialModel, resumeNativeID string) Adapter {
	argvFunc := func(m, resumeID string) []string {
		argv := []string{"claude", "-p", "--output-format", "stream-json", "--input-format", "stream-json", "--verbose"}
		if m != "" {
			argv = append(argv, "--model", m)
		}
		if resumeID != "" {
			argv = append(argv, "--resume", resumeID)
		}
		return argv
	}
	return newCLIAdapter(drv, containerName, execUser, projectPath, initialModel, resumeNativeID, argvFunc, "session_id")
}
