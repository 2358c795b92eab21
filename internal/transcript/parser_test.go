package transcript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/perry-systems/perryd/internal/model"
)

func TestParse_InterleavedContentBlocksPreserveOrder(t *testing.T) {
	input := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"A"},{"type":"tool_use","id":"t1","name":"Read"},{"type":"text","text":"B"},{"type":"tool_use","id":"t2","name":"Read"}]}}`

	msgs, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	require.Equal(t, model.MessageAssistant, msgs[0].Type)
	require.Equal(t, "A", msgs[0].Content)
	require.Equal(t, model.MessageToolUse, msgs[1].Type)
	require.Equal(t, "t1", msgs[1].ToolID)
	require.Equal(t, model.MessageAssistant, msgs[2].Type)
	require.Equal(t, "B", msgs[2].Content)
	require.Equal(t, model.MessageToolUse, msgs[3].Type)
	require.Equal(t, "t2", msgs[3].ToolID)
}

func TestParse_SkipsMalformedLines(t *testing.T) {
	input := `{"type":"user","content":"hello"}
not valid json at all {{{
`
	msgs, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "hello", msgs[0].Content)
}

func TestParse_ResultSuccessSynthesizesSystemMessage(t *testing.T) {
	input := `{"type":"result","subtype":"success","num_turns":3,"cost_usd":0.0421}`
	msgs, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, model.MessageSystem, msgs[0].Type)
	require.Contains(t, msgs[0].Content, "3 turns")
	require.Contains(t, msgs[0].Content, "0.0421")
}

func TestParse_SystemInitElided(t *testing.T) {
	input := `{"type":"system","subtype":"init"}
{"type":"user","content":"hi"}`
	msgs, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestParse_EpochSecondsTimestampMultipliedBy1000(t *testing.T) {
	input := `{"type":"user","content":"hi","ts":1700000000}`
	msgs, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, int64(1700000000000), msgs[0].Timestamp.UnixMilli())
}

func TestParse_MonotonicIDs(t *testing.T) {
	input := `{"type":"user","content":"one"}
{"type":"user","content":"two"}
{"type":"user","content":"three"}`
	msgs, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		require.Equal(t, int64(i+1), m.ID)
	}
}
