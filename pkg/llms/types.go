// Package llms defines the model-client contract consumed by the agent loop
// and provides an OpenAI-compatible implementation over SSE streaming.
package llms

import (
	"context"
	"encoding/json"

	"github.com/kadirpekel/coda/pkg/protocol"
	"github.com/kadirpekel/coda/pkg/utils"
)

type ChunkType string

const (
	// ChunkText carries a fragment of assistant text.
	ChunkText ChunkType = "text"
	// ChunkToolCallDelta carries a fragment of a tool call, keyed by index.
	ChunkToolCallDelta ChunkType = "tool_call_delta"
	// ChunkUsage carries the token accounting, terminal or near-terminal.
	ChunkUsage ChunkType = "usage"
	// ChunkError terminates the stream with a transport or protocol error.
	ChunkError ChunkType = "error"
)

// ToolCallDelta is one streamed fragment of a tool call. ID and Name are set
// once, on the first delta for an index; Arguments fragments concatenate in
// arrival order.
type ToolCallDelta struct {
	Index             int
	ID                string
	Name              string
	ArgumentsFragment string
}

// StreamChunk is the tagged union yielded by Provider.Stream.
type StreamChunk struct {
	Type  ChunkType
	Text  string
	Delta *ToolCallDelta
	Usage *protocol.TokenUsage
	Err   error
}

// ToolDefinition is one entry of the request's tool catalog.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request is one chat-completion call.
type Request struct {
	Messages    []protocol.Message
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
}

// Provider is the streaming chat-completion client contract. Implementations
// own serialization and transport retry; the core assumes at most one
// successful stream per call and may cancel via ctx at any point.
type Provider interface {
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, error)
	Complete(ctx context.Context, req Request) (protocol.Message, protocol.TokenUsage, error)
	ModelName() string
	Close() error
}

// EstimateRequestTokens estimates the input token cost of a request as
// ceil(serialized_bytes / 4).
func EstimateRequestTokens(messages []protocol.Message, tools []ToolDefinition) int {
	size := 0
	if data, err := json.Marshal(messages); err == nil {
		size += len(data)
	}
	if len(tools) > 0 {
		if data, err := json.Marshal(tools); err == nil {
			size += len(data)
		}
	}
	return utils.EstimateTokens(size)
}

// ComputeMaxTokens derives the request max_tokens budget:
// max(256, min(configuredMax, contextLimit - estimatedInput - buffer)).
func ComputeMaxTokens(estimatedInput, contextLimit, configuredMax, buffer int) int {
	budget := contextLimit - estimatedInput - buffer
	if budget > configuredMax {
		budget = configuredMax
	}
	if budget < 256 {
		budget = 256
	}
	return budget
}
