package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kadirpekel/coda/pkg/utils"
)

const commandOutputLimit = 30000

// CommandTool runs shell commands through `sh -c` in the configured working
// directory. It is never parallel-safe and always subject to approval unless
// the exact command string has been blessed.
type CommandTool struct {
	workingDir      string
	timeout         time.Duration
	allowedCommands []string
}

func NewCommandTool(workingDir string, timeout time.Duration, allowedCommands []string) *CommandTool {
	if workingDir == "" {
		workingDir = "./"
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &CommandTool{
		workingDir:      workingDir,
		timeout:         timeout,
		allowedCommands: allowedCommands,
	}
}

func (t *CommandTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "execute_command",
		Description: "Execute shell commands for file operations, system tasks, and development workflows",
		Parameters: []ToolParameter{
			{
				Name:        "command",
				Type:        "string",
				Description: "Shell command to execute (supports pipes, redirects, etc.)",
				Required:    true,
			},
			{
				Name:        "working_dir",
				Type:        "string",
				Description: "Working directory (optional)",
				Required:    false,
			},
			{
				Name:        "need_user_approve",
				Type:        "boolean",
				Description: "Set true to force a user approval prompt for this call",
				Required:    false,
			},
		},
	}
}

func (t *CommandTool) GetName() string {
	return "execute_command"
}

func (t *CommandTool) GetDescription() string {
	return "Execute shell commands for file operations, system tasks, and development workflows. Use 'sed -n \"START,ENDp\" FILE' to read specific line ranges."
}

func (t *CommandTool) Status(args map[string]interface{}) string {
	if command, ok := args["command"].(string); ok && command != "" {
		return "Running: " + utils.Truncate(command, 80)
	}
	return "Running command"
}

func (t *CommandTool) ParallelSafe() bool {
	return false
}

func (t *CommandTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	command, ok := args["command"].(string)
	if !ok || command == "" {
		return t.errorResult("command parameter is required"),
			fmt.Errorf("command parameter is required")
	}

	workingDir, _ := args["working_dir"].(string)
	if workingDir == "" {
		workingDir = t.workingDir
	}

	if err := t.validateCommand(command); err != nil {
		return t.errorResult(err.Error()), err
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workingDir

	start := time.Now()
	output, err := cmd.CombinedOutput()
	elapsed := time.Since(start)

	content := string(output)
	truncated := len(content) > commandOutputLimit
	if truncated {
		content = utils.CompactError(content, commandOutputLimit)
	}

	result := ToolResult{
		Content:       content,
		Success:       err == nil,
		ToolName:      "execute_command",
		ExecutionTime: elapsed,
		Metadata: map[string]interface{}{
			"command":     command,
			"working_dir": workingDir,
			"truncated":   truncated,
		},
	}

	if err != nil {
		result.Error = err.Error()
		if exitError, ok := err.(*exec.ExitError); ok {
			result.Metadata["exit_code"] = exitError.ExitCode()
		}
		if ctx.Err() == context.DeadlineExceeded {
			result.Error = fmt.Sprintf("command timed out after %v", t.timeout)
		}
	}

	return result, err
}

func (t *CommandTool) validateCommand(command string) error {
	if len(t.allowedCommands) == 0 {
		return nil
	}

	baseCmd := t.extractBaseCommand(command)
	for _, allowed := range t.allowedCommands {
		if baseCmd == allowed {
			return nil
		}
	}
	return fmt.Errorf("command not allowed: %s (allowed: %v)", baseCmd, t.allowedCommands)
}

func (t *CommandTool) extractBaseCommand(command string) string {
	parts := strings.FieldsFunc(command, func(r rune) bool {
		return r == '|' || r == '>' || r == '<' || r == ';'
	})
	if len(parts) == 0 {
		return ""
	}

	cmdParts := strings.Fields(strings.TrimSpace(parts[0]))
	if len(cmdParts) == 0 {
		return ""
	}
	return cmdParts[0]
}

func (t *CommandTool) errorResult(message string) ToolResult {
	return ToolResult{
		Success:  false,
		Error:    message,
		ToolName: "execute_command",
	}
}
