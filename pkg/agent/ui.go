// Package agent implements the interactive control loop: the turn cycle
// against the model, streaming, interrupt handling, tool dispatch with
// approval gating, and history management with automatic compression.
package agent

import (
	"github.com/kadirpekel/coda/pkg/tools"
)

// ApprovalOutcome is the user's answer to an approval prompt.
type ApprovalOutcome int

const (
	ApprovalNo ApprovalOutcome = iota
	ApprovalYes
	// ApprovalAlways approves and records the tool (or exact shell command)
	// so future calls skip the prompt.
	ApprovalAlways
)

// UI is the terminal surface the loop talks to. The cli package provides the
// interactive implementation; tests substitute fakes.
type UI interface {
	// StreamText renders one streamed text fragment.
	StreamText(delta string)

	// ShowThinking toggles the waiting indicator while the model has not
	// produced output yet.
	ShowThinking(on bool)

	// ShowToolCall announces a tool invocation with its status label.
	ShowToolCall(label string)

	// ShowToolResult renders a compact completion line for a finished call.
	ShowToolResult(toolName string, success bool, summary string)

	// ShowError prints one compact line for a recoverable error.
	ShowError(message string)

	// ShowNotice prints an informational line (compression, interrupts).
	ShowNotice(message string)

	// ReadUserInput blocks for the next user prompt line.
	ReadUserInput() (string, error)

	// ConfirmAction prompts for approval and blocks until the user answers
	// or the prompt times out; timeout counts as denial.
	ConfirmAction(prompt string) ApprovalOutcome

	// DisplayTodos renders the current task list panel.
	DisplayTodos(todos []tools.TodoItem)
}
