package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/kadirpekel/coda/pkg/protocol"
	"github.com/kadirpekel/coda/pkg/tools"
	"github.com/kadirpekel/coda/pkg/utils"
)

const (
	// Tool-result aging: every agingInterval tool messages, all but
	// agingKeep of the most recent tool results are blanked.
	agingInterval = 10
	agingKeep     = 5

	clearedToolResult = "[Tool result cleared to save context]"

	compressionNotice = "[Previous conversation history has been compressed to save context window space]"

	// compressSingleUserDrop is how many messages after a lone user message
	// are dropped; they are typically exploratory tool churn.
	compressSingleUserDrop = 3
)

// historyFrame is one conversation stack frame. RunTask pushes a fresh frame
// so a subagent works in isolation and the parent conversation is untouched.
type historyFrame struct {
	messages     []protocol.Message
	toolMsgCount int
}

// HistoryStore owns all conversation messages. All mutations happen on the
// control goroutine; the lock exists for the read-only snapshot path.
type HistoryStore struct {
	mu     sync.RWMutex
	frames []*historyFrame

	contextLimit int
	threshold    float64
	counter      *utils.TokenCounter
	lastUsage    protocol.TokenUsage
	hasUsage     bool
}

func NewHistoryStore(contextLimit int, compressThreshold float64, counter *utils.TokenCounter) *HistoryStore {
	if contextLimit <= 0 {
		contextLimit = 128000
	}
	if compressThreshold <= 0 || compressThreshold > 1 {
		compressThreshold = 0.8
	}

	return &HistoryStore{
		frames:       []*historyFrame{{}},
		contextLimit: contextLimit,
		threshold:    compressThreshold,
		counter:      counter,
	}
}

func (h *HistoryStore) current() *historyFrame {
	return h.frames[len(h.frames)-1]
}

// Append adds a message to the current frame. Tool messages trigger the
// aging pass every agingInterval appends.
func (h *HistoryStore) Append(msg protocol.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	frame := h.current()
	frame.messages = append(frame.messages, msg)

	if msg.Role == protocol.RoleTool {
		frame.toolMsgCount++
		if frame.toolMsgCount%agingInterval == 0 {
			h.ageOldToolResultsLocked(frame)
		}
	}
}

// ageOldToolResultsLocked blanks the content of all but the agingKeep most
// recent tool messages. The messages stay in place so every tool call keeps
// its paired result.
func (h *HistoryStore) ageOldToolResultsLocked(frame *historyFrame) {
	var toolIdx []int
	for i := range frame.messages {
		if frame.messages[i].Role == protocol.RoleTool {
			toolIdx = append(toolIdx, i)
		}
	}
	if len(toolIdx) <= agingKeep {
		return
	}

	for _, i := range toolIdx[:len(toolIdx)-agingKeep] {
		msg := &frame.messages[i]
		if len(msg.Blocks) == 1 && msg.Blocks[0].Text == clearedToolResult {
			continue
		}
		msg.Blocks = []protocol.ContentBlock{protocol.NewText(clearedToolResult)}
	}
}

// Snapshot deep-copies the current frame's messages and marks the last block
// of the last message with the prefix-cache hint.
func (h *HistoryStore) Snapshot() []protocol.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msgs := protocol.CloneMessages(h.current().messages)
	for i := range msgs {
		for j := range msgs[i].Blocks {
			msgs[i].Blocks[j].CacheControl = nil
		}
	}
	if len(msgs) > 0 {
		last := &msgs[len(msgs)-1]
		if len(last.Blocks) > 0 {
			last.Blocks[len(last.Blocks)-1].CacheControl = &protocol.CacheControl{Type: "ephemeral"}
		}
	}
	return msgs
}

// Messages returns a copy of the current frame without the cache mark.
func (h *HistoryStore) Messages() []protocol.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return protocol.CloneMessages(h.current().messages)
}

// Len reports the current frame's message count.
func (h *HistoryStore) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.current().messages)
}

// LastAssistantText returns the text of the most recent assistant message.
func (h *HistoryStore) LastAssistantText() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msgs := h.current().messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == protocol.RoleAssistant {
			return msgs[i].Text()
		}
	}
	return ""
}

// UpdateUsage records the provider's token accounting for the last request.
func (h *HistoryStore) UpdateUsage(usage protocol.TokenUsage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastUsage = usage
	h.hasUsage = true
}

// CurrentContextFraction reports how full the context window is as a 0-1
// fraction, preferring reported usage over the local token estimate.
func (h *HistoryStore) CurrentContextFraction() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.contextFractionLocked()
}

func (h *HistoryStore) contextFractionLocked() float64 {
	if h.hasUsage {
		return float64(h.lastUsage.Input) / float64(h.contextLimit)
	}
	if h.counter == nil {
		return 0
	}
	tokens := h.counter.CountMessages(h.current().messages)
	return float64(tokens) / float64(h.contextLimit)
}

// AutoCompressIfNeeded compresses once the context passes the threshold.
// It reports whether a compression ran.
func (h *HistoryStore) AutoCompressIfNeeded(ctx context.Context) (bool, error) {
	if h.CurrentContextFraction() < h.threshold {
		return false, nil
	}
	dropped, err := h.Compress(ctx)
	return dropped > 0, err
}

// Compress drops old history from the current frame and inserts the static
// compression notice. With two or more user messages, everything before the
// second-oldest user message goes (system messages survive); with exactly
// one, a few messages right after it go. Assistant messages with tool calls
// and their paired tool results are always dropped as a group.
func (h *HistoryStore) Compress(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	frame := h.current()
	msgs := frame.messages

	var userIdx []int
	for i := range msgs {
		if msgs[i].Role == protocol.RoleUser {
			userIdx = append(userIdx, i)
		}
	}

	switch {
	case len(userIdx) >= 2:
		cut := userIdx[1]
		var kept []protocol.Message
		for i := 0; i < cut; i++ {
			if msgs[i].Role == protocol.RoleSystem {
				kept = append(kept, msgs[i])
			}
		}
		dropped := cut - len(kept)
		if dropped == 0 {
			return 0, nil
		}
		kept = append(kept, protocol.Message{
			Role:   protocol.RoleUser,
			Blocks: []protocol.ContentBlock{protocol.NewText(compressionNotice)},
		})
		frame.messages = append(kept, msgs[cut:]...)
		h.recountToolMessagesLocked(frame)
		h.hasUsage = false
		return dropped, nil

	case len(userIdx) == 1:
		start := userIdx[0] + 1
		end := start + compressSingleUserDrop
		if end > len(msgs) {
			end = len(msgs)
		}
		// Never split a tool-call pairing: extend the cut over trailing
		// tool results.
		for end < len(msgs) && msgs[end].Role == protocol.RoleTool {
			end++
		}
		// A trailing assistant message with tool calls is mid-flight: its
		// results have not been appended yet. Dropping it would orphan them.
		if end == len(msgs) && end > start {
			last := msgs[end-1]
			if last.Role == protocol.RoleAssistant && len(last.ToolCalls) > 0 {
				end--
			}
		}
		dropped := end - start
		if dropped <= 0 {
			return 0, nil
		}
		kept := make([]protocol.Message, 0, len(msgs)-dropped+1)
		kept = append(kept, msgs[:start]...)
		kept = append(kept, protocol.Message{
			Role:   protocol.RoleUser,
			Blocks: []protocol.ContentBlock{protocol.NewText(compressionNotice)},
		})
		kept = append(kept, msgs[end:]...)
		frame.messages = kept
		h.recountToolMessagesLocked(frame)
		h.hasUsage = false
		return dropped, nil

	default:
		return 0, nil
	}
}

func (h *HistoryStore) recountToolMessagesLocked(frame *historyFrame) {
	count := 0
	for i := range frame.messages {
		if frame.messages[i].Role == protocol.RoleTool {
			count++
		}
	}
	frame.toolMsgCount = count
}

// StartTaskFrame pushes a fresh conversation frame seeded with a system
// prompt. Used by the subagent path.
func (h *HistoryStore) StartTaskFrame(systemPrompt string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	frame := &historyFrame{}
	if systemPrompt != "" {
		frame.messages = append(frame.messages, protocol.Message{
			Role:   protocol.RoleSystem,
			Blocks: []protocol.ContentBlock{protocol.NewText(systemPrompt)},
		})
	}
	h.frames = append(h.frames, frame)
}

// FinishTaskFrame pops the top frame and returns its last assistant text.
func (h *HistoryStore) FinishTaskFrame() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.frames) <= 1 {
		return "", fmt.Errorf("no task frame to finish")
	}

	frame := h.current()
	h.frames = h.frames[:len(h.frames)-1]

	for i := len(frame.messages) - 1; i >= 0; i-- {
		if frame.messages[i].Role == protocol.RoleAssistant {
			return frame.messages[i].Text(), nil
		}
	}
	return "", nil
}

// FrameDepth reports the conversation stack depth (1 = base conversation).
func (h *HistoryStore) FrameDepth() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.frames)
}

var _ tools.HistoryCompressor = (*HistoryStore)(nil)
