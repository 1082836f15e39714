package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/coda/pkg/protocol"
)

func newTestHistory() *HistoryStore {
	h := NewHistoryStore(1000, 0.8, nil)
	h.Append(protocol.NewTextMessage(protocol.RoleSystem, "system prompt"))
	return h
}

func toolMsg(i int) protocol.Message {
	return protocol.NewToolResult(fmt.Sprintf("call-%d", i), "probe", fmt.Sprintf("result %d", i))
}

func TestHistoryAppendAndLen(t *testing.T) {
	h := newTestHistory()
	h.Append(protocol.NewTextMessage(protocol.RoleUser, "hello"))

	assert.Equal(t, 2, h.Len())
	msgs := h.Messages()
	assert.Equal(t, protocol.RoleSystem, msgs[0].Role)
	assert.Equal(t, "hello", msgs[1].Text())
}

func TestHistoryToolResultAging(t *testing.T) {
	h := newTestHistory()
	h.Append(protocol.NewTextMessage(protocol.RoleUser, "go"))

	for i := 0; i < agingInterval; i++ {
		h.Append(toolMsg(i))
	}

	msgs := h.Messages()
	var cleared, kept int
	for _, m := range msgs {
		if m.Role != protocol.RoleTool {
			continue
		}
		if m.Text() == clearedToolResult {
			cleared++
		} else {
			kept++
		}
	}
	assert.Equal(t, agingKeep, kept, "the newest results survive")
	assert.Equal(t, agingInterval-agingKeep, cleared)

	// Cleared messages stay in place so call/result pairing is intact.
	assert.Equal(t, 2+agingInterval, len(msgs))
	assert.Equal(t, "call-0", msgs[2].ToolCallID)
}

func TestHistoryAgingOnlyAtInterval(t *testing.T) {
	h := newTestHistory()
	for i := 0; i < agingInterval-1; i++ {
		h.Append(toolMsg(i))
	}

	for _, m := range h.Messages() {
		assert.NotEqual(t, clearedToolResult, m.Text())
	}
}

func TestHistorySnapshotCacheMark(t *testing.T) {
	h := newTestHistory()
	h.Append(protocol.NewTextMessage(protocol.RoleUser, "hi"))

	snap := h.Snapshot()
	require.Len(t, snap, 2)

	last := snap[len(snap)-1]
	require.NotNil(t, last.Blocks[0].CacheControl)
	assert.Equal(t, "ephemeral", last.Blocks[0].CacheControl.Type)
	assert.Nil(t, snap[0].Blocks[0].CacheControl, "only the last block is marked")

	// The mark moves as the conversation grows.
	h.Append(protocol.NewTextMessage(protocol.RoleAssistant, "hello"))
	snap2 := h.Snapshot()
	assert.Nil(t, snap2[1].Blocks[0].CacheControl)
	require.NotNil(t, snap2[2].Blocks[0].CacheControl)
}

func TestHistorySnapshotIsIsolated(t *testing.T) {
	h := newTestHistory()
	snap := h.Snapshot()
	snap[0].Blocks[0].Text = "mutated"

	assert.Equal(t, "system prompt", h.Messages()[0].Text())
}

func TestCompressMultiUserDropsOldestSpan(t *testing.T) {
	h := newTestHistory()
	h.Append(protocol.NewTextMessage(protocol.RoleUser, "first question"))
	h.Append(protocol.Message{
		Role:      protocol.RoleAssistant,
		ToolCalls: []*protocol.ToolCall{{ID: "c1", Name: "probe", Arguments: "{}"}},
	})
	h.Append(toolMsg(1))
	h.Append(protocol.NewTextMessage(protocol.RoleAssistant, "first answer"))
	h.Append(protocol.NewTextMessage(protocol.RoleUser, "second question"))
	h.Append(protocol.NewTextMessage(protocol.RoleAssistant, "second answer"))

	dropped, err := h.Compress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, dropped)

	msgs := h.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "system prompt", msgs[0].Text())
	assert.Equal(t, compressionNotice, msgs[1].Text())
	assert.Equal(t, protocol.RoleUser, msgs[1].Role, "the notice is a synthesized user message")
	assert.Equal(t, "second question", msgs[2].Text())
	assert.Equal(t, "second answer", msgs[3].Text())

	// No orphan tool results may survive compression.
	for _, m := range msgs {
		assert.NotEqual(t, protocol.RoleTool, m.Role)
	}
}

func TestCompressSingleUserExtendsOverToolResults(t *testing.T) {
	h := newTestHistory()
	h.Append(protocol.NewTextMessage(protocol.RoleUser, "the task"))
	h.Append(protocol.Message{
		Role: protocol.RoleAssistant,
		ToolCalls: []*protocol.ToolCall{
			{ID: "c1", Name: "probe", Arguments: "{}"},
			{ID: "c2", Name: "probe", Arguments: "{}"},
			{ID: "c3", Name: "probe", Arguments: "{}"},
		},
	})
	h.Append(toolMsg(1))
	h.Append(toolMsg(2))
	h.Append(toolMsg(3))
	h.Append(protocol.NewTextMessage(protocol.RoleAssistant, "progress"))

	dropped, err := h.Compress(context.Background())
	require.NoError(t, err)
	// The nominal cut of 3 lands mid-pairing, so it extends over the
	// remaining tool results.
	assert.Equal(t, 4, dropped)

	msgs := h.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "the task", msgs[1].Text())
	assert.Equal(t, compressionNotice, msgs[2].Text())
	assert.Equal(t, protocol.RoleUser, msgs[2].Role)
	assert.Equal(t, "progress", msgs[3].Text())
}

// requirePairedToolResults asserts every tool result references a call id
// declared by some surviving assistant message.
func requirePairedToolResults(t *testing.T, msgs []protocol.Message) {
	t.Helper()

	declared := map[string]bool{}
	for _, m := range msgs {
		for _, call := range m.ToolCalls {
			declared[call.ID] = true
		}
	}
	for _, m := range msgs {
		if m.Role == protocol.RoleTool {
			require.True(t, declared[m.ToolCallID], "tool result %q has no declaring assistant message", m.ToolCallID)
		}
	}
}

func TestCompressSingleUserKeepsInFlightToolCalls(t *testing.T) {
	// compress_context runs as a tool, so Compress executes before the
	// batch's results are appended. The in-flight assistant must survive.
	h := newTestHistory()
	h.Append(protocol.NewTextMessage(protocol.RoleUser, "the task"))
	h.Append(protocol.Message{
		Role:      protocol.RoleAssistant,
		ToolCalls: []*protocol.ToolCall{{ID: "c1", Name: "compress_context", Arguments: "{}"}},
	})

	dropped, err := h.Compress(context.Background())
	require.NoError(t, err)
	assert.Zero(t, dropped, "nothing droppable besides the in-flight batch")

	h.Append(protocol.NewToolResult("c1", "compress_context", "done"))
	requirePairedToolResults(t, h.Messages())
}

func TestCompressSingleUserDropsChurnBeforeInFlightBatch(t *testing.T) {
	h := newTestHistory()
	h.Append(protocol.NewTextMessage(protocol.RoleUser, "the task"))
	h.Append(protocol.NewTextMessage(protocol.RoleAssistant, "looked around"))
	h.Append(protocol.Message{
		Role:      protocol.RoleAssistant,
		ToolCalls: []*protocol.ToolCall{{ID: "c9", Name: "compress_context", Arguments: "{}"}},
	})

	dropped, err := h.Compress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dropped, "only the churn before the in-flight batch goes")

	h.Append(protocol.NewToolResult("c9", "compress_context", "done"))
	msgs := h.Messages()
	requirePairedToolResults(t, msgs)
	require.Len(t, msgs, 5)
	assert.Equal(t, compressionNotice, msgs[2].Text())
	require.Len(t, msgs[3].ToolCalls, 1)
	assert.Equal(t, "c9", msgs[3].ToolCalls[0].ID)
}

func TestCompressNothingToDrop(t *testing.T) {
	h := newTestHistory()
	dropped, err := h.Compress(context.Background())
	require.NoError(t, err)
	assert.Zero(t, dropped)
}

func TestAutoCompressThreshold(t *testing.T) {
	h := newTestHistory()
	h.Append(protocol.NewTextMessage(protocol.RoleUser, "a"))
	h.Append(protocol.NewTextMessage(protocol.RoleAssistant, "b"))
	h.Append(protocol.NewTextMessage(protocol.RoleUser, "c"))

	h.UpdateUsage(protocol.TokenUsage{Input: 100, Total: 100})
	compressed, err := h.AutoCompressIfNeeded(context.Background())
	require.NoError(t, err)
	assert.False(t, compressed, "well under threshold, must not compress")

	h.UpdateUsage(protocol.TokenUsage{Input: 900, Total: 900})
	compressed, err = h.AutoCompressIfNeeded(context.Background())
	require.NoError(t, err)
	assert.True(t, compressed)

	// Compression invalidates the stale usage figure.
	assert.Zero(t, h.CurrentContextFraction())
}

func TestTaskFramesIsolateConversations(t *testing.T) {
	h := newTestHistory()
	h.Append(protocol.NewTextMessage(protocol.RoleUser, "main thread"))
	baseLen := h.Len()

	h.StartTaskFrame("subagent prompt")
	assert.Equal(t, 2, h.FrameDepth())

	h.Append(protocol.NewTextMessage(protocol.RoleUser, "sub task"))
	h.Append(protocol.NewTextMessage(protocol.RoleAssistant, "sub answer"))

	answer, err := h.FinishTaskFrame()
	require.NoError(t, err)
	assert.Equal(t, "sub answer", answer)
	assert.Equal(t, 1, h.FrameDepth())
	assert.Equal(t, baseLen, h.Len(), "parent conversation untouched")
}

func TestFinishTaskFrameOnBaseFails(t *testing.T) {
	h := newTestHistory()
	_, err := h.FinishTaskFrame()
	assert.Error(t, err)
}

func TestLastAssistantText(t *testing.T) {
	h := newTestHistory()
	assert.Empty(t, h.LastAssistantText())

	h.Append(protocol.NewTextMessage(protocol.RoleAssistant, "one"))
	h.Append(protocol.NewTextMessage(protocol.RoleUser, "q"))
	h.Append(protocol.NewTextMessage(protocol.RoleAssistant, "two"))
	assert.Equal(t, "two", h.LastAssistantText())
}
