package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kadirpekel/coda/pkg/protocol"
	"github.com/kadirpekel/coda/pkg/tools"
)

type fakeUI struct {
	mu       sync.Mutex
	streamed strings.Builder
	labels   []string
	results  []string
	notices  []string
	errs     []string
	prompts  []string
	inputs   []string
	todos    [][]tools.TodoItem
	confirm  func(prompt string) ApprovalOutcome
}

func (u *fakeUI) StreamText(delta string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.streamed.WriteString(delta)
}

func (u *fakeUI) ShowThinking(bool) {}

func (u *fakeUI) ShowToolCall(label string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.labels = append(u.labels, label)
}

func (u *fakeUI) ShowToolResult(toolName string, success bool, summary string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.results = append(u.results, fmt.Sprintf("%s:%v", toolName, success))
}

func (u *fakeUI) ShowError(message string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.errs = append(u.errs, message)
}

func (u *fakeUI) ShowNotice(message string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.notices = append(u.notices, message)
}

func (u *fakeUI) ReadUserInput() (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.inputs) == 0 {
		return "", io.EOF
	}
	line := u.inputs[0]
	u.inputs = u.inputs[1:]
	return line, nil
}

func (u *fakeUI) ConfirmAction(prompt string) ApprovalOutcome {
	u.mu.Lock()
	u.prompts = append(u.prompts, prompt)
	confirm := u.confirm
	u.mu.Unlock()
	if confirm == nil {
		return ApprovalYes
	}
	return confirm(prompt)
}

func (u *fakeUI) DisplayTodos(todos []tools.TodoItem) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.todos = append(u.todos, todos)
}

func (u *fakeUI) text() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.streamed.String()
}

type fakeTool struct {
	name     string
	parallel bool
	exec     func(ctx context.Context, args map[string]interface{}) (tools.ToolResult, error)
}

func (t *fakeTool) GetInfo() tools.ToolInfo {
	return tools.ToolInfo{Name: t.name, Description: "test tool " + t.name}
}

func (t *fakeTool) GetName() string { return t.name }

func (t *fakeTool) GetDescription() string { return "test tool " + t.name }

func (t *fakeTool) Status(map[string]interface{}) string { return "run " + t.name }

func (t *fakeTool) ParallelSafe() bool { return t.parallel }

func (t *fakeTool) Execute(ctx context.Context, args map[string]interface{}) (tools.ToolResult, error) {
	if t.exec != nil {
		return t.exec(ctx, args)
	}
	return tools.ToolResult{Success: true, Content: "ok:" + t.name, ToolName: t.name}, nil
}

func newTestRegistry(t *testing.T, fakes ...tools.Tool) *tools.ToolRegistry {
	t.Helper()

	source := tools.NewLocalToolSource("test")
	for _, tool := range fakes {
		if err := source.RegisterTool(tool); err != nil {
			t.Fatalf("failed to register tool: %v", err)
		}
	}

	reg := tools.NewToolRegistry()
	if err := reg.RegisterSource(source); err != nil {
		t.Fatalf("failed to register source: %v", err)
	}
	return reg
}

func newTestDispatcher(t *testing.T, approveAll bool, fakes ...tools.Tool) (*ToolDispatcher, *fakeUI, *InterruptBus) {
	t.Helper()

	ui := &fakeUI{}
	bus := NewInterruptBus()
	bus.Start()
	policy := NewApprovalPolicy("", approveAll)
	return NewToolDispatcher(newTestRegistry(t, fakes...), policy, bus, ui), ui, bus
}

func call(id, name, args string) *protocol.ToolCall {
	return &protocol.ToolCall{ID: id, Name: name, Arguments: args}
}

func TestDispatchEmptyBatch(t *testing.T) {
	d, _, _ := newTestDispatcher(t, true)
	if results := d.Dispatch(context.Background(), nil); results != nil {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestDispatchPreservesCallOrder(t *testing.T) {
	// Slowest tool first: if ordering followed completion, "a" would be last.
	mk := func(name string, delay time.Duration) *fakeTool {
		return &fakeTool{name: name, parallel: true, exec: func(ctx context.Context, _ map[string]interface{}) (tools.ToolResult, error) {
			time.Sleep(delay)
			return tools.ToolResult{Success: true, Content: "ok:" + name}, nil
		}}
	}
	d, _, _ := newTestDispatcher(t, true,
		mk("a", 30*time.Millisecond),
		mk("b", 10*time.Millisecond),
		mk("c", 0),
	)

	results := d.Dispatch(context.Background(), []*protocol.ToolCall{
		call("1", "a", "{}"),
		call("2", "b", "{}"),
		call("3", "c", "{}"),
	})

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, wantID := range []string{"1", "2", "3"} {
		if results[i].ToolCallID != wantID {
			t.Errorf("result %d: expected call id %s, got %s", i, wantID, results[i].ToolCallID)
		}
	}
	if !strings.Contains(results[0].Text(), "ok:a") {
		t.Errorf("unexpected first result: %q", results[0].Text())
	}
}

func TestDispatchReminderOnLastResultOnly(t *testing.T) {
	d, _, _ := newTestDispatcher(t, true,
		&fakeTool{name: "a", parallel: true},
		&fakeTool{name: "b", parallel: true},
	)

	results := d.Dispatch(context.Background(), []*protocol.ToolCall{
		call("1", "a", "{}"),
		call("2", "b", "{}"),
	})

	if strings.Contains(results[0].Text(), reminderText) {
		t.Error("first result should not carry the reminder")
	}
	if !strings.Contains(results[1].Text(), reminderText) {
		t.Error("last result should carry the reminder")
	}
}

func TestDispatchUnknownToolBecomesErrorResult(t *testing.T) {
	d, _, _ := newTestDispatcher(t, true)

	results := d.Dispatch(context.Background(), []*protocol.ToolCall{
		call("1", "nope", "{}"),
	})

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(results[0].Blocks[0].Text), &payload); err != nil {
		t.Fatalf("result is not a JSON error payload: %v", err)
	}
	if !strings.Contains(payload["error"], "unknown tool") {
		t.Errorf("unexpected error payload: %q", payload["error"])
	}
}

func TestDispatchInvalidArgumentsBecomesErrorResult(t *testing.T) {
	d, _, _ := newTestDispatcher(t, true, &fakeTool{name: "a", parallel: true})

	results := d.Dispatch(context.Background(), []*protocol.ToolCall{
		call("1", "a", "{not json"),
	})

	if !strings.Contains(results[0].Blocks[0].Text, "invalid tool arguments") {
		t.Errorf("expected parse error in result, got %q", results[0].Blocks[0].Text)
	}
}

func TestDispatchExecutionErrorBecomesErrorResult(t *testing.T) {
	boom := &fakeTool{name: "boom", parallel: true, exec: func(context.Context, map[string]interface{}) (tools.ToolResult, error) {
		return tools.ToolResult{Success: false, Error: "disk on fire"}, fmt.Errorf("disk on fire")
	}}
	d, ui, _ := newTestDispatcher(t, true, boom)

	results := d.Dispatch(context.Background(), []*protocol.ToolCall{
		call("1", "boom", "{}"),
	})

	if !strings.Contains(results[0].Blocks[0].Text, "disk on fire") {
		t.Errorf("expected tool error in result, got %q", results[0].Blocks[0].Text)
	}
	if len(ui.results) != 1 || ui.results[0] != "boom:false" {
		t.Errorf("unexpected result line: %v", ui.results)
	}
}

func TestDispatchDeniedApprovalSkipsTool(t *testing.T) {
	executed := false
	write := &fakeTool{name: "write_file", exec: func(context.Context, map[string]interface{}) (tools.ToolResult, error) {
		executed = true
		return tools.ToolResult{Success: true, Content: "wrote"}, nil
	}}
	d, ui, bus := newTestDispatcher(t, false, write)
	ui.confirm = func(string) ApprovalOutcome { return ApprovalNo }
	bus.Push("do not touch that file")

	results := d.Dispatch(context.Background(), []*protocol.ToolCall{
		call("1", "write_file", `{"path":"x.go","content":"y"}`),
	})

	if executed {
		t.Fatal("denied tool must not run")
	}
	text := results[0].Text()
	if !strings.Contains(text, skippedResultText) {
		t.Errorf("expected skip marker, got %q", text)
	}
	if !strings.Contains(text, "do not touch that file") {
		t.Errorf("expected queued instruction in skip result, got %q", text)
	}
}

func TestDispatchAlwaysApprovalRecorded(t *testing.T) {
	write := &fakeTool{name: "write_file"}
	ui := &fakeUI{confirm: func(string) ApprovalOutcome { return ApprovalAlways }}
	bus := NewInterruptBus()
	bus.Start()
	policy := NewApprovalPolicy(t.TempDir(), false)
	d := NewToolDispatcher(newTestRegistry(t, write), policy, bus, ui)

	calls := []*protocol.ToolCall{call("1", "write_file", `{"path":"x"}`)}
	d.Dispatch(context.Background(), calls)
	d.Dispatch(context.Background(), calls)

	if len(ui.prompts) != 1 {
		t.Fatalf("expected a single prompt before the always grant, got %d", len(ui.prompts))
	}
}

func TestDispatchInjectsPendingInstruction(t *testing.T) {
	var got string
	probe := &fakeTool{name: "probe", parallel: true, exec: func(_ context.Context, args map[string]interface{}) (tools.ToolResult, error) {
		got, _ = args["user_instructions"].(string)
		return tools.ToolResult{Success: true, Content: "ok"}, nil
	}}
	d, _, bus := newTestDispatcher(t, true, probe)
	bus.Push("first line")
	bus.Push("second line")

	d.Dispatch(context.Background(), []*protocol.ToolCall{call("1", "probe", "{}")})

	if got != "first line\nsecond line" {
		t.Errorf("expected joined instruction, got %q", got)
	}
}

func TestDispatchCancelProducesResultForEveryCall(t *testing.T) {
	var bus *InterruptBus
	first := &fakeTool{name: "first", exec: func(context.Context, map[string]interface{}) (tools.ToolResult, error) {
		bus.Push(CancelToken)
		return tools.ToolResult{Success: true, Content: "ran"}, nil
	}}
	second := &fakeTool{name: "second", exec: func(context.Context, map[string]interface{}) (tools.ToolResult, error) {
		t.Error("second tool must not run after cancel")
		return tools.ToolResult{}, nil
	}}

	var d *ToolDispatcher
	d, _, bus = newTestDispatcher(t, true, first, second)

	results := d.Dispatch(context.Background(), []*protocol.ToolCall{
		call("1", "first", "{}"),
		call("2", "second", "{}"),
	})

	if len(results) != 2 {
		t.Fatalf("expected one result per call, got %d", len(results))
	}
	if !strings.Contains(results[0].Text(), "ran") {
		t.Errorf("first result missing output: %q", results[0].Text())
	}
	if !strings.Contains(results[1].Text(), "skipped: canceled") {
		t.Errorf("second result should be the cancel marker: %q", results[1].Text())
	}
}

func TestIsParallelSafeRespectsChecker(t *testing.T) {
	memory := &checkedTool{fakeTool: fakeTool{name: "mem", parallel: true}}

	if isParallelSafe(memory, map[string]interface{}{"action": "recall"}) != true {
		t.Error("recall should be parallel safe")
	}
	if isParallelSafe(memory, map[string]interface{}{"action": "save"}) != false {
		t.Error("save should not be parallel safe")
	}
	if isParallelSafe(&fakeTool{name: "x", parallel: false}, nil) {
		t.Error("parallel-unsafe tool must never be scheduled concurrently")
	}
}

type checkedTool struct {
	fakeTool
}

func (c *checkedTool) ParallelSafeFor(args map[string]interface{}) bool {
	action, _ := args["action"].(string)
	return action == "recall"
}
