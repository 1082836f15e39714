package tools

import (
	"context"
	"fmt"
	"time"
)

// AgentRunner runs a delegated task in a fresh conversation frame and
// returns the final assistant text. The concrete agent implements it; the
// indirection keeps this package free of a dependency cycle.
type AgentRunner interface {
	RunTask(ctx context.Context, systemPrompt, userInput string) (string, error)
}

// AgentCallTool lets the model delegate a self-contained sub-task to a
// subagent running on the same machinery.
type AgentCallTool struct {
	runner AgentRunner
}

func NewAgentCallTool(runner AgentRunner) *AgentCallTool {
	return &AgentCallTool{runner: runner}
}

func (t *AgentCallTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "agent_call",
		Description: "Delegate a self-contained sub-task to a subagent. The subagent works in a fresh conversation and returns only its final answer. Use for research or exploration that would clutter the main conversation.",
		Parameters: []ToolParameter{
			{
				Name:        "task",
				Type:        "string",
				Description: "Complete description of the sub-task, including everything the subagent needs to know",
				Required:    true,
			},
			{
				Name:        "system_prompt",
				Type:        "string",
				Description: "Optional system prompt overriding the subagent's default instructions",
				Required:    false,
			},
		},
	}
}

func (t *AgentCallTool) GetName() string {
	return "agent_call"
}

func (t *AgentCallTool) GetDescription() string {
	return "Delegate a self-contained sub-task to a subagent"
}

func (t *AgentCallTool) Status(args map[string]interface{}) string {
	if task, ok := args["task"].(string); ok && task != "" {
		return "Delegating: " + truncateString(task, 60)
	}
	return "Delegating sub-task"
}

func (t *AgentCallTool) ParallelSafe() bool {
	return false
}

func (t *AgentCallTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	task, ok := args["task"].(string)
	if !ok || task == "" {
		return t.errorResult("task parameter is required", start),
			fmt.Errorf("task parameter is required")
	}

	systemPrompt, _ := args["system_prompt"].(string)

	answer, err := t.runner.RunTask(ctx, systemPrompt, task)
	if err != nil {
		return t.errorResult(fmt.Sprintf("subagent failed: %v", err), start), err
	}

	return ToolResult{
		Success:       true,
		Content:       answer,
		ToolName:      "agent_call",
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"task_length": len(task),
		},
	}, nil
}

func (t *AgentCallTool) errorResult(message string, start time.Time) ToolResult {
	return ToolResult{
		Success:       false,
		Error:         message,
		ToolName:      "agent_call",
		ExecutionTime: time.Since(start),
	}
}
