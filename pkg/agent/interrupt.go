package agent

import (
	"sync"
)

// CancelToken is the reserved input line that aborts the current stream or
// tool step instead of being queued as an instruction.
const CancelToken = "ESC"

// InterruptBus is an unbounded FIFO of user lines typed while the loop is
// busy. The cli feeds it from the stdin reader; the loop polls it between
// stream chunks and tool executions.
type InterruptBus struct {
	mu       sync.Mutex
	queue    []string
	cancelCh chan struct{}
	started  bool
}

func NewInterruptBus() *InterruptBus {
	return &InterruptBus{cancelCh: make(chan struct{}, 1)}
}

// Start marks the bus active. Lines pushed while stopped are dropped, so
// input typed between turns is not misread as an interrupt.
func (b *InterruptBus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = true
}

// Stop deactivates the bus and discards any unread cancel signal.
func (b *InterruptBus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = false
	select {
	case <-b.cancelCh:
	default:
	}
	// Queued instructions survive Stop; they are consumed on the next turn.
}

// Push enqueues a line. A line equal to CancelToken signals cancellation
// instead of being queued.
func (b *InterruptBus) Push(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return
	}

	if line == CancelToken {
		select {
		case b.cancelCh <- struct{}{}:
		default:
			// A cancel is already pending; one is enough.
		}
		return
	}

	b.queue = append(b.queue, line)
}

// Active reports whether the bus is currently accepting lines.
func (b *InterruptBus) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// Poll dequeues the oldest pending instruction without blocking.
func (b *InterruptBus) Poll() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return "", false
	}
	line := b.queue[0]
	b.queue = b.queue[1:]
	return line, true
}

// Flush drains all pending instructions in FIFO order.
func (b *InterruptBus) Flush() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.queue
	b.queue = nil
	return out
}

// CancelRequested consumes a pending cancel signal if one arrived.
func (b *InterruptBus) CancelRequested() bool {
	select {
	case <-b.cancelCh:
		return true
	default:
		return false
	}
}

// CancelChan exposes the cancel signal for select loops.
func (b *InterruptBus) CancelChan() <-chan struct{} {
	return b.cancelCh
}
