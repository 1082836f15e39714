// Package protocol defines the conversation data model shared by the agent
// loop, the model client and the tool dispatcher. Messages are immutable once
// appended to a conversation; amendments happen by appending new messages.
package protocol

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// CacheControl is a transport-level hint that the provider may reuse a prompt
// prefix cache up to and including the annotated block.
type CacheControl struct {
	Type string `json:"type"`
}

// ContentBlock is one typed element of a message body. Only text blocks are
// produced by the core; CacheControl is set on at most one block per request.
type ContentBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text,omitempty"`
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// ToolCall is a model-requested tool invocation. The ID is assigned by the
// model and must be echoed back on the paired tool-result message. Arguments
// is the raw JSON string exactly as the model produced it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry of a conversation.
//
// Invariants (enforced by the agent.HistoryStore):
//   - index 0 of every frame is a system message
//   - an assistant message with N tool calls is followed by exactly N tool
//     messages referencing the same ids in the same order
type Message struct {
	Role       Role           `json:"role"`
	Blocks     []ContentBlock `json:"content"`
	ToolCalls  []*ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"name,omitempty"`
}

// TokenUsage is the latest prompt/completion accounting reported by the model.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// NewText builds a text content block.
func NewText(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// NewTextMessage builds a single-block text message.
func NewTextMessage(role Role, text string) Message {
	return Message{
		Role:   role,
		Blocks: []ContentBlock{NewText(text)},
	}
}

// NewToolResult builds the tool message paired with the given call id.
func NewToolResult(callID, toolName, content string) Message {
	return Message{
		Role:       RoleTool,
		Blocks:     []ContentBlock{{Type: "text", Text: content}},
		ToolCallID: callID,
		ToolName:   toolName,
	}
}

// Text concatenates the text of all content blocks.
func (m *Message) Text() string {
	if len(m.Blocks) == 1 {
		return m.Blocks[0].Text
	}
	var out string
	for _, b := range m.Blocks {
		out += b.Text
	}
	return out
}

// AppendText adds a text block to the message body.
func (m *Message) AppendText(text string) {
	m.Blocks = append(m.Blocks, ContentBlock{Type: "text", Text: text})
}

// Clone returns a deep copy. Snapshots handed to the model client must not
// alias history storage, because the request builder annotates blocks.
func (m Message) Clone() Message {
	out := m
	if m.Blocks != nil {
		out.Blocks = make([]ContentBlock, len(m.Blocks))
		for i, b := range m.Blocks {
			out.Blocks[i] = b
			if b.CacheControl != nil {
				cc := *b.CacheControl
				out.Blocks[i].CacheControl = &cc
			}
		}
	}
	if m.ToolCalls != nil {
		out.ToolCalls = make([]*ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			c := *tc
			out.ToolCalls[i] = &c
		}
	}
	return out
}

// CloneMessages deep-copies a conversation slice.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
