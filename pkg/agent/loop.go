package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/kadirpekel/coda/pkg/config"
	"github.com/kadirpekel/coda/pkg/llms"
	"github.com/kadirpekel/coda/pkg/protocol"
	"github.com/kadirpekel/coda/pkg/tools"
	"github.com/kadirpekel/coda/pkg/utils"
)

// maxTurnIterations bounds the tool-call recursion within one user turn.
const maxTurnIterations = 50

const defaultSystemPrompt = `You are coda, an interactive coding agent running in the user's terminal.
You help with software engineering tasks by reading, writing, and searching files,
running shell commands, and tracking your progress with the todo tools.
Act directly: when a tool is needed, call it instead of describing what you would do.
Keep answers concise; the user is watching your output stream in real time.`

const subagentSystemPrompt = `You are a subagent handling one delegated task.
Work autonomously with the available tools and finish with a single final answer;
the caller sees only your last message.`

// AgentLoop drives the turn cycle: model request, stream consumption with
// interrupt handling, tool dispatch, and history bookkeeping.
type AgentLoop struct {
	cfg        *config.Config
	provider   llms.Provider
	registry   *tools.ToolRegistry
	history    *HistoryStore
	dispatcher *ToolDispatcher
	bus        *InterruptBus
	ui         UI
	todoTool   *tools.TodoTool
	nudge      NudgeConfig
}

func NewAgentLoop(cfg *config.Config, provider llms.Provider, registry *tools.ToolRegistry, ui UI) (*AgentLoop, error) {
	counter, err := utils.NewTokenCounter(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to build token counter: %w", err)
	}

	bus := NewInterruptBus()
	policy := NewApprovalPolicy(cfg.StateDir, cfg.ApproveAll)
	history := NewHistoryStore(cfg.ContextLimit, cfg.CompressThreshold, counter)

	loop := &AgentLoop{
		cfg:        cfg,
		provider:   provider,
		registry:   registry,
		history:    history,
		dispatcher: NewToolDispatcher(registry, policy, bus, ui),
		bus:        bus,
		ui:         ui,
	}

	history.Append(protocol.Message{
		Role:   protocol.RoleSystem,
		Blocks: []protocol.ContentBlock{protocol.NewText(defaultSystemPrompt)},
	})

	return loop, nil
}

// History exposes the store so agent-facing tools (compress_context) can be
// wired against it.
func (l *AgentLoop) History() *HistoryStore {
	return l.history
}

// InterruptBus exposes the bus for the cli stdin feeder.
func (l *AgentLoop) InterruptBus() *InterruptBus {
	return l.bus
}

// SetTodoTool wires the todo tool so the loop can refresh the UI panel after
// todo_write calls.
func (l *AgentLoop) SetTodoTool(todoTool *tools.TodoTool) {
	l.todoTool = todoTool
}

// SetNudgeConfig overrides the default nudge phrase lists.
func (l *AgentLoop) SetNudgeConfig(nudge NudgeConfig) {
	l.nudge = nudge
}

// RunInteractive is the main read-eval loop: read user input, run the turn
// cycle until the model ends a turn without tool calls, repeat.
func (l *AgentLoop) RunInteractive(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		input, err := l.ui.ReadUserInput()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		input = strings.TrimSpace(input)
		switch input {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		l.history.Append(protocol.Message{
			Role:   protocol.RoleUser,
			Blocks: []protocol.ContentBlock{protocol.NewText(input)},
		})

		if err := l.runTurns(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.ui.ShowError(err.Error())
		}
	}
}

// RunTask runs a delegated task in a fresh conversation frame and returns
// the final assistant text. Implements the runner contract of the
// agent_call tool.
func (l *AgentLoop) RunTask(ctx context.Context, systemPrompt, userInput string) (string, error) {
	if systemPrompt == "" {
		systemPrompt = subagentSystemPrompt
	}

	l.history.StartTaskFrame(systemPrompt)
	l.history.Append(protocol.Message{
		Role:   protocol.RoleUser,
		Blocks: []protocol.ContentBlock{protocol.NewText(userInput)},
	})

	runErr := l.runTurns(ctx)
	answer, popErr := l.history.FinishTaskFrame()
	if runErr != nil {
		return "", runErr
	}
	if popErr != nil {
		return "", popErr
	}
	return answer, nil
}

// runTurns executes the turn cycle for one user input: call the model,
// dispatch any requested tools, and recurse until a turn ends with plain
// text and nothing pending.
func (l *AgentLoop) runTurns(ctx context.Context) error {
	l.bus.Start()
	defer l.bus.Stop()

	nudged := false

	for iteration := 0; iteration < maxTurnIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		compressed, err := l.history.AutoCompressIfNeeded(ctx)
		if err != nil {
			return err
		}
		if compressed {
			l.ui.ShowNotice("Compressed older history to free context space")
		}

		turn, err := l.callModel(ctx)
		if err != nil {
			return err
		}

		if turn.interrupted {
			// Partial text is kept so the model sees what it already said.
			if turn.text != "" {
				l.history.Append(protocol.Message{
					Role:   protocol.RoleAssistant,
					Blocks: []protocol.ContentBlock{protocol.NewText(turn.text)},
				})
			}
			l.ui.ShowNotice("Interrupted")
			return nil
		}

		if len(turn.calls) > 0 {
			assistant := protocol.Message{
				Role:      protocol.RoleAssistant,
				ToolCalls: turn.calls,
			}
			if turn.text != "" {
				assistant.Blocks = []protocol.ContentBlock{protocol.NewText(turn.text)}
			}
			l.history.Append(assistant)

			results := l.dispatchCalls(ctx, turn.calls)
			for _, msg := range results {
				l.history.Append(msg)
			}
			l.refreshTodoPanel(turn.calls)
			continue
		}

		l.history.Append(protocol.Message{
			Role:   protocol.RoleAssistant,
			Blocks: []protocol.ContentBlock{protocol.NewText(turn.text)},
		})

		// Nudge rule: the model narrated an action without acting. At most
		// one nudge per user turn, so a stubborn model cannot loop.
		if message, ok := l.nudge.shouldNudge(turn.text); ok && !nudged {
			nudged = true
			slog.Debug("Nudging model to act", "reply_length", len(turn.text))
			l.history.Append(protocol.Message{
				Role:   protocol.RoleUser,
				Blocks: []protocol.ContentBlock{protocol.NewText(message)},
			})
			continue
		}

		// A line typed during the turn that no tool consumed becomes the
		// next user message.
		if line, ok := l.bus.Poll(); ok {
			l.history.Append(protocol.Message{
				Role:   protocol.RoleUser,
				Blocks: []protocol.ContentBlock{protocol.NewText(line)},
			})
			continue
		}

		return nil
	}

	return fmt.Errorf("turn did not settle after %d iterations", maxTurnIterations)
}

// turnResult is the outcome of one model call.
type turnResult struct {
	text        string
	calls       []*protocol.ToolCall
	interrupted bool
}

// callModel builds the request and consumes the stream, falling back to one
// non-streaming attempt when streaming fails mid-flight.
func (l *AgentLoop) callModel(ctx context.Context) (*turnResult, error) {
	req := l.buildRequest()

	turn, err := l.streamOnce(ctx, req)
	if err == nil || turn.interrupted {
		return turn, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	slog.Warn("Streaming failed, retrying without streaming", "error", err)
	l.ui.ShowNotice("Streaming failed; retrying")

	msg, usage, err := l.provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("model request failed: %w", err)
	}
	l.history.UpdateUsage(usage)

	text := msg.Text()
	if text != "" {
		l.ui.StreamText(text)
	}
	return &turnResult{text: text, calls: msg.ToolCalls}, nil
}

func (l *AgentLoop) buildRequest() llms.Request {
	messages := l.history.Snapshot()

	catalog := l.registry.ToolCatalog()
	defs := make([]llms.ToolDefinition, 0, len(catalog))
	for _, entry := range catalog {
		defs = append(defs, llms.ToolDefinition{
			Name:        entry.Name,
			Description: entry.Description,
			Parameters:  entry.Parameters,
		})
	}

	estimated := llms.EstimateRequestTokens(messages, defs)
	maxTokens := llms.ComputeMaxTokens(estimated, l.cfg.ContextLimit, l.cfg.MaxOutputTokens, l.cfg.OutputBufferTokens)

	return llms.Request{
		Messages:    messages,
		Tools:       defs,
		Temperature: l.cfg.Temperature,
		MaxTokens:   maxTokens,
	}
}

// streamOnce consumes one model stream. Tool-call fragments are reassembled
// by wire index; the cancel token aborts the stream via context.
func (l *AgentLoop) streamOnce(parent context.Context, req llms.Request) (*turnResult, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var interrupted atomic.Bool
	monitorDone := make(chan struct{})
	defer close(monitorDone)
	go func() {
		select {
		case <-l.bus.CancelChan():
			interrupted.Store(true)
			cancel()
		case <-monitorDone:
		}
	}()

	chunks, err := l.provider.Stream(ctx, req)
	if err != nil {
		return &turnResult{}, err
	}

	l.ui.ShowThinking(true)
	firstChunk := true

	var text strings.Builder
	partials := make(map[int]*protocol.ToolCall)

	finish := func() *turnResult {
		return &turnResult{
			text:        text.String(),
			calls:       orderedCalls(partials),
			interrupted: interrupted.Load(),
		}
	}

	for chunk := range chunks {
		if firstChunk {
			l.ui.ShowThinking(false)
			firstChunk = false
		}

		switch chunk.Type {
		case llms.ChunkText:
			text.WriteString(chunk.Text)
			l.ui.StreamText(chunk.Text)

		case llms.ChunkToolCallDelta:
			delta := chunk.Delta
			call, ok := partials[delta.Index]
			if !ok {
				call = &protocol.ToolCall{}
				partials[delta.Index] = call
			}
			if delta.ID != "" {
				call.ID = delta.ID
			}
			if delta.Name != "" {
				call.Name = delta.Name
			}
			call.Arguments += delta.ArgumentsFragment

		case llms.ChunkUsage:
			if chunk.Usage != nil {
				l.history.UpdateUsage(*chunk.Usage)
			}

		case llms.ChunkError:
			if firstChunk {
				l.ui.ShowThinking(false)
			}
			if interrupted.Load() || errors.Is(chunk.Err, context.Canceled) {
				turn := finish()
				turn.interrupted = true
				return turn, nil
			}
			return finish(), chunk.Err
		}
	}

	if firstChunk {
		l.ui.ShowThinking(false)
	}
	return finish(), nil
}

// dispatchCalls runs the batch with its own cancelable context so the cancel
// token can abort in-flight tools.
func (l *AgentLoop) dispatchCalls(parent context.Context, calls []*protocol.ToolCall) []protocol.Message {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	monitorDone := make(chan struct{})
	defer close(monitorDone)
	go func() {
		select {
		case <-l.bus.CancelChan():
			cancel()
		case <-monitorDone:
		}
	}()

	return l.dispatcher.Dispatch(ctx, calls)
}

func (l *AgentLoop) refreshTodoPanel(calls []*protocol.ToolCall) {
	if l.todoTool == nil {
		return
	}
	for _, call := range calls {
		if call.Name == "todo_write" {
			l.ui.DisplayTodos(l.todoTool.Todos())
			return
		}
	}
}

// orderedCalls flattens the partial map in ascending wire-index order. The
// provider's index is authoritative for result ordering.
func orderedCalls(partials map[int]*protocol.ToolCall) []*protocol.ToolCall {
	if len(partials) == 0 {
		return nil
	}

	indexes := make([]int, 0, len(partials))
	for i := range partials {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	calls := make([]*protocol.ToolCall, 0, len(partials))
	for _, i := range indexes {
		call := partials[i]
		if call.Name == "" {
			// A nameless call cannot be dispatched; drop it here so the
			// dispatcher never sees a call it cannot answer.
			slog.Warn("Dropping tool call without name", "index", i)
			continue
		}
		calls = append(calls, call)
	}
	return calls
}

var _ tools.AgentRunner = (*AgentLoop)(nil)
