// Package transcript implements the JSONL Parser: it decodes the
// append-only, newline-delimited JSON transcript files agents write into
// a uniform message sequence, grounded on the CLIMessage/ContentBlock
// shapes in pkg/claudecode/types.go.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/perry-systems/perryd/internal/model"
)

// rawLine is the superset of fields a transcript line may carry. Content
// and Result are left as RawMessage because each may be a plain string or
// a typed array/object.
type rawLine struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	Name      string          `json:"name,omitempty"` // session_name subtype
	Timestamp string          `json:"timestamp,omitempty"`
	TS        *float64        `json:"ts,omitempty"`
	Message   *struct {
		Role    string          `json:"role,omitempty"`
		Content json.RawMessage `json:"content,omitempty"`
	} `json:"message,omitempty"`
	Content    json.RawMessage `json:"content,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	CostUSD    float64         `json:"cost_usd,omitempty"`
	NumTurns   int             `json:"num_turns,omitempty"`
}

type contentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// ParseFile decodes path line by line into a uniform message sequence.
// Lines that fail to parse are skipped; parsing never aborts on them.
func ParseFile(path string) ([]model.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes r's JSONL content into a uniform message sequence.
func Parse(r io.Reader) ([]model.Message, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var out []model.Message
	var id int64

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw rawLine
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue // malformed lines are skipped, never abort
		}
		ts := parseTimestamp(raw)

		for _, msg := range convertLine(raw, ts) {
			id++
			msg.ID = id
			out = append(out, msg)
		}
	}
	if err := scanner.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// ParseLine decodes a single JSONL transcript line — the same shape
// ParseFile/Parse consume — for callers streaming an agent's live
// stdout rather than reading a finished file. Returns
// (nil, nil) for malformed or content-free lines, matching Parse's
// skip-don't-abort behavior.
func ParseLine(line []byte) ([]model.Message, error) {
	line = []byte(strings.TrimSpace(string(line)))
	if len(line) == 0 {
		return nil, nil
	}
	var raw rawLine
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, nil
	}
	return convertLine(raw, parseTimestamp(raw)), nil
}

func parseTimestamp(raw rawLine) time.Time {
	if raw.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, raw.Timestamp); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339Nano, raw.Timestamp); err == nil {
			return t
		}
	}
	if raw.TS != nil {
		ms := int64(*raw.TS * 1000)
		return time.UnixMilli(ms)
	}
	return time.Now()
}

// convertLine maps one decoded transcript line to zero or more uniform
// messages. Array-form content is flattened preserving order: interleaved
// text and tool_use blocks emit interleaved messages.
func convertLine(raw rawLine, ts time.Time) []model.Message {
	switch raw.Type {
	case "system":
		if raw.Subtype == "init" {
			return nil // system-init is elided
		}
		if raw.Subtype == "session_name" {
			return nil // consumed by GetSessionMetadata, not emitted as a message
		}
		return []model.Message{{Type: model.MessageSystem, Content: raw.Subtype, Timestamp: ts}}

	case "result":
		return convertResult(raw, ts)

	case "user":
		content := raw.Content
		if raw.Message != nil {
			content = raw.Message.Content
		}
		return flattenContent(model.MessageUser, content, ts)

	case "assistant":
		content := raw.Content
		if raw.Message != nil {
			content = raw.Message.Content
		}
		return flattenContent(model.MessageAssistant, content, ts)

	default:
		return nil
	}
}

func convertResult(raw rawLine, ts time.Time) []model.Message {
	if raw.Subtype == "success" {
		text := fmt.Sprintf("Session completed: %d turns, $%.4f", raw.NumTurns, raw.CostUSD)
		return []model.Message{{Type: model.MessageSystem, Content: text, Timestamp: ts}}
	}
	return []model.Message{{Type: model.MessageSystem, Content: raw.Subtype, Timestamp: ts}}
}

// flattenContent converts a content field (string or array of typed
// blocks) into a list of uniform messages in array order.
func flattenContent(baseType model.MessageType, content json.RawMessage, ts time.Time) []model.Message {
	if len(content) == 0 {
		return nil
	}

	var asString string
	if err := json.Unmarshal(content, &asString); err == nil {
		if asString == "" {
			return nil
		}
		return []model.Message{{Type: baseType, Content: asString, Timestamp: ts}}
	}

	var blocks []contentBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return nil
	}

	var out []model.Message
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text == "" {
				continue
			}
			out = append(out, model.Message{Type: baseType, Content: b.Text, Timestamp: ts})
		case "tool_use":
			out = append(out, model.Message{Type: model.MessageToolUse, ToolID: b.ID, ToolName: b.Name, Timestamp: ts})
		case "tool_result":
			out = append(out, model.Message{Type: model.MessageToolResult, ToolID: b.ToolUseID, Content: b.Content, Timestamp: ts})
		}
	}
	return out
}

// SessionMetadata summarizes a transcript file without materializing
// every message.
type SessionMetadata struct {
	ProjectPath  string
	AgentKind    string
	MessageCount int
	LastActivity time.Time
	FirstPrompt  string
	Name         string // from a session_name subtype line, if present
}

// GetSessionMetadata derives metadata about a transcript file. The project
// path is decoded from the containing directory name by inverting the
// encoding that replaces '/' with '-' when the file was created.
func GetSessionMetadata(path string, agentKind string) (*SessionMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	dir := filepath.Base(filepath.Dir(path))
	projectPath := strings.ReplaceAll(dir, "-", "/")
	if !strings.HasPrefix(projectPath, "/") {
		projectPath = "/" + projectPath
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	meta := &SessionMetadata{
		ProjectPath:  projectPath,
		AgentKind:    agentKind,
		LastActivity: info.ModTime(),
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw rawLine
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		meta.MessageCount++

		if raw.Type == "system" && raw.Subtype == "session_name" && raw.Name != "" {
			meta.Name = raw.Name
		}

		if meta.FirstPrompt == "" && raw.Type == "user" {
			content := raw.Content
			if raw.Message != nil {
				content = raw.Message.Content
			}
			if text := firstText(content); text != "" {
				meta.FirstPrompt = truncate(text, 200)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return meta, nil
}

func firstText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(content, &asString); err == nil {
		return asString
	}
	var blocks []contentBlock
	if err := json.Unmarshal(content, &blocks); err == nil {
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				return b.Text
			}
		}
	}
	return ""
}

// truncate limits s to n characters, never splitting a rune.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
