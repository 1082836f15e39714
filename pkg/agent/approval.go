package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const approvalsFile = "approvals.json"

type approvalRule int

const (
	// ruleNever: read-only tools, never prompted.
	ruleNever approvalRule = iota
	// ruleCommand: prompted unless the exact command string was blessed.
	ruleCommand
	// ruleWrite: prompted unless the call opts out via skip_approval or the
	// tool was always-allowed.
	ruleWrite
	// ruleAlways: prompted on every call unless the tool was always-allowed;
	// skip_approval has no effect.
	ruleAlways
)

var defaultApprovalRules = map[string]approvalRule{
	"execute_command":  ruleCommand,
	"write_file":       ruleWrite,
	"search_replace":   ruleWrite,
	"read_file":        ruleNever,
	"list_dir":         ruleNever,
	"grep_search":      ruleNever,
	"todo_write":       ruleNever,
	"task_memory":      ruleNever,
	"web_request":      ruleAlways,
	"agent_call":       ruleNever,
	"compress_context": ruleAlways,
}

// ApprovalPolicy decides which tool calls need user consent and remembers
// "always allow" answers across sessions via a JSON file in the state dir.
type ApprovalPolicy struct {
	mu              sync.Mutex
	approveAll      bool
	stateDir        string
	alwaysAllow     map[string]bool
	blessedCommands map[string]bool
}

type approvalState struct {
	AlwaysAllow     []string `json:"always_allow"`
	BlessedCommands []string `json:"blessed_commands"`
}

func NewApprovalPolicy(stateDir string, approveAll bool) *ApprovalPolicy {
	p := &ApprovalPolicy{
		approveAll:      approveAll,
		stateDir:        stateDir,
		alwaysAllow:     make(map[string]bool),
		blessedCommands: make(map[string]bool),
	}
	p.load()
	return p
}

// RequiresApproval answers whether this call must be confirmed by the user.
// The model may force a prompt on any tool via the need_user_approve arg.
func (p *ApprovalPolicy) RequiresApproval(toolName string, args map[string]interface{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if force, _ := args["need_user_approve"].(bool); force {
		return true
	}

	if p.approveAll {
		return false
	}

	rule, known := defaultApprovalRules[toolName]
	if !known {
		// Unknown tools (MCP) are treated as side-effecting.
		rule = ruleWrite
	}

	switch rule {
	case ruleCommand:
		command, _ := args["command"].(string)
		return !p.blessedCommands[command]
	case ruleAlways:
		return !p.alwaysAllow[toolName]
	case ruleWrite:
		if p.alwaysAllow[toolName] {
			return false
		}
		if skip, _ := args["skip_approval"].(bool); skip {
			return false
		}
		return true
	default:
		return false
	}
}

// RecordAlways persists an "always allow" answer. For the shell tool the
// grant is scoped to the exact command string; for other tools to the tool.
func (p *ApprovalPolicy) RecordAlways(toolName string, args map[string]interface{}) error {
	p.mu.Lock()
	if toolName == "execute_command" {
		if command, _ := args["command"].(string); command != "" {
			p.blessedCommands[command] = true
		}
	} else {
		p.alwaysAllow[toolName] = true
	}
	p.mu.Unlock()

	return p.save()
}

func (p *ApprovalPolicy) load() {
	if p.stateDir == "" {
		return
	}

	data, err := os.ReadFile(filepath.Join(p.stateDir, approvalsFile))
	if err != nil {
		return
	}

	var state approvalState
	if err := json.Unmarshal(data, &state); err != nil {
		return
	}

	for _, name := range state.AlwaysAllow {
		p.alwaysAllow[name] = true
	}
	for _, command := range state.BlessedCommands {
		p.blessedCommands[command] = true
	}
}

func (p *ApprovalPolicy) save() error {
	if p.stateDir == "" {
		return nil
	}

	p.mu.Lock()
	state := approvalState{
		AlwaysAllow:     sortedKeys(p.alwaysAllow),
		BlessedCommands: sortedKeys(p.blessedCommands),
	}
	p.mu.Unlock()

	if err := os.MkdirAll(p.stateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.stateDir, approvalsFile), data, 0o644)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
