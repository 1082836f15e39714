// Package tools provides the built-in tool implementations and the registry
// the agent uses to expose them to the model.
package tools

import (
	"context"
	"time"
)

type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`
	Source      string          `json:"source,omitempty"`
}

type ToolParameter struct {
	Name        string                 `json:"name"`
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Required    bool                   `json:"required"`
	Default     interface{}            `json:"default,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
	Items       map[string]interface{} `json:"items,omitempty"`
}

type ToolResult struct {
	Success       bool                   `json:"success"`
	Content       string                 `json:"content,omitempty"`
	Error         string                 `json:"error,omitempty"`
	ToolName      string                 `json:"tool_name"`
	ExecutionTime time.Duration          `json:"execution_time,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

type Tool interface {
	GetInfo() ToolInfo

	GetName() string

	GetDescription() string

	// Status renders a one-line label for the UI while the call runs,
	// e.g. "Running: ls -la".
	Status(args map[string]interface{}) string

	// ParallelSafe reports whether the tool may run concurrently with other
	// parallel-safe tools in the same batch.
	ParallelSafe() bool

	Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error)
}

// ParallelSafeChecker refines ParallelSafe per call. Tools whose safety
// depends on their arguments (a read vs. write action) implement it; the
// dispatcher consults it via type assertion.
type ParallelSafeChecker interface {
	ParallelSafeFor(args map[string]interface{}) bool
}

type ToolSource interface {
	GetName() string

	GetType() string

	DiscoverTools(ctx context.Context) error

	ListTools() []ToolInfo

	GetTool(name string) (Tool, bool)
}
