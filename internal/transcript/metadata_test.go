package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func writeTranscript(t *testing.T, dirName string, lines ...string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), dirName)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, "session-abc.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func TestGetSessionMetadata_DecodesProjectPathFromDirName(t *testing.T) {
	path := writeTranscript(t, "-home-workspace-myproj",
		`{"type":"user","content":"hello there"}`,
	)

	meta, err := GetSessionMetadata(path, "claude")
	require.NoError(t, err)
	require.Equal(t, "/home/workspace/myproj", meta.ProjectPath)
	require.Equal(t, "claude", meta.AgentKind)
	require.Equal(t, 1, meta.MessageCount)
	require.Equal(t, "hello there", meta.FirstPrompt)
	require.False(t, meta.LastActivity.IsZero())
}

func TestGetSessionMetadata_FirstPromptTruncatedTo200(t *testing.T) {
	long := strings.Repeat("x", 300)
	path := writeTranscript(t, "-home-workspace-p",
		`{"type":"user","content":"`+long+`"}`,
	)

	meta, err := GetSessionMetadata(path, "claude")
	require.NoError(t, err)
	require.Len(t, meta.FirstPrompt, 200)
}

func TestGetSessionMetadata_TruncationCountsRunesNotBytes(t *testing.T) {
	long := strings.Repeat("é", 300)
	path := writeTranscript(t, "-home-workspace-p",
		`{"type":"user","content":"`+long+`"}`,
	)

	meta, err := GetSessionMetadata(path, "claude")
	require.NoError(t, err)
	require.Equal(t, 200, utf8.RuneCountInString(meta.FirstPrompt))
	require.True(t, utf8.ValidString(meta.FirstPrompt))
}

func TestGetSessionMetadata_SessionNameSubtypeBecomesName(t *testing.T) {
	path := writeTranscript(t, "-home-workspace-p",
		`{"type":"system","subtype":"session_name","name":"Fix the flaky test"}`,
		`{"type":"user","content":"hi"}`,
	)

	meta, err := GetSessionMetadata(path, "opencode")
	require.NoError(t, err)
	require.Equal(t, "Fix the flaky test", meta.Name)
}

func TestGetSessionMetadata_NoNameLineLeavesNameEmpty(t *testing.T) {
	path := writeTranscript(t, "-home-workspace-p",
		`{"type":"user","content":"hi"}`,
	)

	meta, err := GetSessionMetadata(path, "claude")
	require.NoError(t, err)
	require.Empty(t, meta.Name)
}

func TestGetSessionMetadata_SkipsGarbageLines(t *testing.T) {
	path := writeTranscript(t, "-home-workspace-p",
		`not json {{{`,
		`{"type":"user","message":{"role":"user","content":[{"type":"text","text":"array form"}]}}`,
	)

	meta, err := GetSessionMetadata(path, "claude")
	require.NoError(t, err)
	require.Equal(t, 1, meta.MessageCount)
	require.Equal(t, "array form", meta.FirstPrompt)
}
