package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/coda/pkg/protocol"
	"github.com/kadirpekel/coda/pkg/tools"
	"github.com/kadirpekel/coda/pkg/utils"
)

// reminderText is appended to the last tool result of a batch so the model
// continues instead of halting after tool output.
const reminderText = "Continue with your response and complete the task."

const skippedResultText = "Tool execution skipped by user."

// ToolDispatcher turns one assistant message's tool-call batch into the
// matching ordered batch of tool-result messages, honoring approval,
// parallel-safe scheduling, and cancellation.
type ToolDispatcher struct {
	registry *tools.ToolRegistry
	policy   *ApprovalPolicy
	bus      *InterruptBus
	ui       UI
}

func NewToolDispatcher(registry *tools.ToolRegistry, policy *ApprovalPolicy, bus *InterruptBus, ui UI) *ToolDispatcher {
	return &ToolDispatcher{
		registry: registry,
		policy:   policy,
		bus:      bus,
		ui:       ui,
	}
}

// pendingCall is one tool call being worked through the dispatch pipeline.
type pendingCall struct {
	call    *protocol.ToolCall
	tool    tools.Tool
	args    map[string]interface{}
	content string
	done    bool
}

// Dispatch executes the batch and returns one tool-result message per call,
// in the original call order. The last result carries the reminder block.
func (d *ToolDispatcher) Dispatch(ctx context.Context, calls []*protocol.ToolCall) []protocol.Message {
	if len(calls) == 0 {
		return nil
	}

	pending := make([]*pendingCall, len(calls))

	// Resolve tools and parse arguments. Failures become error results in
	// place; the call still gets exactly one result message.
	for i, call := range calls {
		pc := &pendingCall{call: call}
		pending[i] = pc

		tool, err := d.registry.GetTool(call.Name)
		if err != nil {
			pc.fail(fmt.Sprintf("unknown tool: %s", call.Name))
			continue
		}
		pc.tool = tool

		args := make(map[string]interface{})
		if strings.TrimSpace(call.Arguments) != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				pc.fail(fmt.Sprintf("invalid tool arguments: %v", err))
				continue
			}
		}
		pc.args = args
	}

	// Capture the pending instruction before execution so a line typed
	// during the previous stream reaches the tools of this batch.
	instruction := strings.Join(d.bus.Flush(), "\n")

	// Approval pass runs sequentially so prompts never overlap.
	for _, pc := range pending {
		if pc.done {
			continue
		}
		if !d.policy.RequiresApproval(pc.call.Name, pc.args) {
			continue
		}

		switch d.ui.ConfirmAction(d.approvalPrompt(pc)) {
		case ApprovalAlways:
			if err := d.policy.RecordAlways(pc.call.Name, pc.args); err != nil {
				d.ui.ShowError(fmt.Sprintf("failed to save approval: %v", err))
			}
		case ApprovalYes:
		default:
			text := skippedResultText
			if instruction != "" {
				text += "\nUser instructions: " + instruction
			}
			pc.content = text
			pc.done = true
		}
	}

	if instruction != "" {
		for _, pc := range pending {
			if !pc.done {
				pc.args["user_instructions"] = instruction
			}
		}
	}

	// Partition the approved calls.
	var parallel, sequential []*pendingCall
	for _, pc := range pending {
		if pc.done {
			continue
		}
		if isParallelSafe(pc.tool, pc.args) {
			parallel = append(parallel, pc)
		} else {
			sequential = append(sequential, pc)
		}
	}

	d.runParallel(ctx, parallel)
	d.runSequential(ctx, sequential)

	// Anything still unfinished was skipped by cancellation.
	for _, pc := range pending {
		if !pc.done {
			pc.content = "Tool execution skipped: canceled."
			pc.done = true
		}
	}

	results := make([]protocol.Message, len(pending))
	for i, pc := range pending {
		msg := protocol.NewToolResult(pc.call.ID, pc.call.Name, pc.content)
		if i == len(pending)-1 {
			msg.Blocks = append(msg.Blocks, protocol.NewText(reminderText))
		}
		results[i] = msg
	}
	return results
}

// runParallel executes the parallel-safe calls concurrently and joins before
// returning; result ordering is untouched because each goroutine writes only
// its own slot.
func (d *ToolDispatcher) runParallel(ctx context.Context, batch []*pendingCall) {
	if len(batch) == 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}

	for _, pc := range batch {
		d.ui.ShowToolCall(pc.tool.Status(pc.args))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, pc := range batch {
		pc := pc
		g.Go(func() error {
			d.execute(gctx, pc)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *ToolDispatcher) runSequential(ctx context.Context, batch []*pendingCall) {
	for _, pc := range batch {
		if ctx.Err() != nil || d.bus.CancelRequested() {
			return
		}
		d.ui.ShowToolCall(pc.tool.Status(pc.args))
		d.execute(ctx, pc)
	}
}

func (d *ToolDispatcher) execute(ctx context.Context, pc *pendingCall) {
	result, err := pc.tool.Execute(ctx, pc.args)
	if err != nil {
		message := result.Error
		if message == "" {
			message = err.Error()
		}
		pc.fail(message)
		d.ui.ShowToolResult(pc.call.Name, false, utils.Truncate(message, 120))
		return
	}

	pc.content = result.Content
	pc.done = true
	d.ui.ShowToolResult(pc.call.Name, result.Success, utils.Truncate(result.Content, 120))
}

func (d *ToolDispatcher) approvalPrompt(pc *pendingCall) string {
	if command, ok := pc.args["command"].(string); ok && command != "" {
		return fmt.Sprintf("Allow %s to run: %s", pc.call.Name, command)
	}
	if path, ok := pc.args["path"].(string); ok && path != "" {
		return fmt.Sprintf("Allow %s on %s", pc.call.Name, path)
	}
	return "Allow " + pc.call.Name
}

// fail records a compacted error payload as the call's result.
func (pc *pendingCall) fail(message string) {
	compacted := utils.CompactError(message, utils.DefaultErrorBudget)
	payload, err := json.Marshal(map[string]string{"error": compacted})
	if err != nil {
		payload = []byte(`{"error":"internal error"}`)
	}
	pc.content = string(payload)
	pc.done = true
}

func isParallelSafe(tool tools.Tool, args map[string]interface{}) bool {
	if !tool.ParallelSafe() {
		return false
	}
	if checker, ok := tool.(tools.ParallelSafeChecker); ok {
		return checker.ParallelSafeFor(args)
	}
	return true
}
