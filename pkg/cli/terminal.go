// Package cli is the interactive terminal surface: prompt rendering, streamed
// output, approval prompts, and the stdin feed that lets the user type while
// the agent is busy.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/kadirpekel/coda/pkg/agent"
	"github.com/kadirpekel/coda/pkg/tools"
)

const (
	colorReset  = "\033[0m"
	colorDim    = "\033[2m"
	colorCyan   = "\033[36m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
)

// approvalTimeout bounds how long an approval prompt waits; no answer counts
// as denial so an unattended session cannot run a gated tool.
const approvalTimeout = 5 * time.Minute

var errPromptTimeout = fmt.Errorf("approval prompt timed out")

// Terminal implements agent.UI over stdin/stdout. A single reader goroutine
// owns stdin: lines typed while the loop is waiting for input are delivered
// to the waiting prompt, lines typed while the loop is busy go to the
// interrupt bus.
type Terminal struct {
	out         io.Writer
	in          io.Reader
	interactive bool
	bus         *agent.InterruptBus

	mu       sync.Mutex
	waiter   chan string
	pending  []string
	thinking bool

	eof  chan struct{}
	once sync.Once
}

func NewTerminal(bus *agent.InterruptBus) *Terminal {
	return &Terminal{
		out:         os.Stdout,
		in:          os.Stdin,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
		bus:         bus,
		eof:         make(chan struct{}),
	}
}

// AttachBus wires the interrupt bus. Must be called before Start.
func (t *Terminal) AttachBus(bus *agent.InterruptBus) {
	t.bus = bus
}

// Start launches the stdin reader goroutine. Call once before the loop runs.
func (t *Terminal) Start() {
	t.once.Do(func() {
		go t.feedLoop()
	})
}

func (t *Terminal) feedLoop() {
	scanner := bufio.NewScanner(t.in)
	for scanner.Scan() {
		line := scanner.Text()

		t.mu.Lock()
		waiter := t.waiter
		t.waiter = nil
		if waiter == nil && (t.bus == nil || !t.bus.Active()) {
			// No prompt is waiting and the loop is idle: hold the line for
			// the next prompt instead of losing it.
			t.pending = append(t.pending, line)
		}
		t.mu.Unlock()

		if waiter != nil {
			waiter <- line
			continue
		}
		if t.bus != nil && t.bus.Active() {
			t.bus.Push(line)
		}
	}
	close(t.eof)
}

// nextLine blocks until the reader delivers a line, stdin closes, or the
// timeout elapses (timeout 0 means wait forever).
func (t *Terminal) nextLine(timeout time.Duration) (string, error) {
	ch := make(chan string, 1)
	t.mu.Lock()
	if len(t.pending) > 0 {
		line := t.pending[0]
		t.pending = t.pending[1:]
		t.mu.Unlock()
		return line, nil
	}
	t.waiter = ch
	t.mu.Unlock()

	var timer <-chan time.Time
	if timeout > 0 {
		timer = time.After(timeout)
	}

	select {
	case line := <-ch:
		return line, nil
	case <-t.eof:
		return "", io.EOF
	case <-timer:
		t.mu.Lock()
		if t.waiter == ch {
			t.waiter = nil
		}
		t.mu.Unlock()
		return "", errPromptTimeout
	}
}

func (t *Terminal) StreamText(delta string) {
	t.clearThinking()
	fmt.Fprint(t.out, delta)
}

func (t *Terminal) ShowThinking(on bool) {
	if !t.interactive {
		return
	}
	if on {
		t.mu.Lock()
		t.thinking = true
		t.mu.Unlock()
		fmt.Fprintf(t.out, "%s⏳ thinking...%s", colorDim, colorReset)
		return
	}
	t.clearThinking()
}

func (t *Terminal) clearThinking() {
	t.mu.Lock()
	was := t.thinking
	t.thinking = false
	t.mu.Unlock()
	if was && t.interactive {
		fmt.Fprint(t.out, "\r\033[K")
	}
}

func (t *Terminal) ShowToolCall(label string) {
	t.clearThinking()
	fmt.Fprintf(t.out, "\n%s🔧 %s%s\n", colorCyan, label, colorReset)
}

func (t *Terminal) ShowToolResult(toolName string, success bool, summary string) {
	if success {
		fmt.Fprintf(t.out, "%s✓ %s%s %s%s%s\n", colorGreen, toolName, colorReset, colorDim, summary, colorReset)
		return
	}
	fmt.Fprintf(t.out, "%s✗ %s%s %s\n", colorRed, toolName, colorReset, summary)
}

func (t *Terminal) ShowError(message string) {
	t.clearThinking()
	fmt.Fprintf(t.out, "\n%s❌ Error: %s%s\n", colorRed, message, colorReset)
}

func (t *Terminal) ShowNotice(message string) {
	t.clearThinking()
	fmt.Fprintf(t.out, "\n%s[INFO] %s%s\n", colorDim, message, colorReset)
}

func (t *Terminal) ReadUserInput() (string, error) {
	fmt.Fprintf(t.out, "\n%sYou:%s ", colorCyan, colorReset)
	return t.nextLine(0)
}

func (t *Terminal) ConfirmAction(prompt string) agent.ApprovalOutcome {
	t.clearThinking()
	fmt.Fprintf(t.out, "\n%s⚠ %s%s [y/N/a]: ", colorYellow, prompt, colorReset)

	line, err := t.nextLine(approvalTimeout)
	if err != nil {
		fmt.Fprintf(t.out, "%s(denied: %v)%s\n", colorDim, err, colorReset)
		return agent.ApprovalNo
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return agent.ApprovalYes
	case "a", "always":
		return agent.ApprovalAlways
	default:
		return agent.ApprovalNo
	}
}

func (t *Terminal) DisplayTodos(todos []tools.TodoItem) {
	if len(todos) == 0 {
		return
	}

	fmt.Fprintf(t.out, "\n%s📋 Tasks%s\n", colorCyan, colorReset)
	for _, todo := range todos {
		icon, color := todoGlyph(todo.Status)
		fmt.Fprintf(t.out, "  %s%s%s %s\n", color, icon, colorReset, todo.Content)
	}
}

func todoGlyph(status string) (string, string) {
	switch status {
	case "in_progress":
		return "◐", colorYellow
	case "completed":
		return "✓", colorGreen
	case "canceled":
		return "✗", colorDim
	default:
		return "○", colorReset
	}
}

var _ agent.UI = (*Terminal)(nil)
