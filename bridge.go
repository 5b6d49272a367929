package svcwrap

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultBridgeBuffer is the inbound queue depth of a Bridge
const DefaultBridgeBuffer = 16

// request is one queued command. A nil reply means nobody waits for the result.
type request struct {
	cmd   Command
	reply chan StatusReport
}

// Bridge is the single ordered inbound channel of a supervisor run. Host
// pushes and internal ProcessDied events are merged into one stream and
// consumed by exactly one owner.
type Bridge struct {
	requests chan request
	done     chan struct{}
	once     sync.Once
	last     atomic.Pointer[StatusReport]
}

// NewBridge creates a bridge whose last report is StartPending
func NewBridge(buffer int) *Bridge {
	if buffer < 1 {
		buffer = DefaultBridgeBuffer
	}
	b := &Bridge{
		requests: make(chan request, buffer),
		done:     make(chan struct{}),
	}
	b.Publish(NewStatusReport(StateStartPending, 0))
	return b
}

// Send enqueues a command and waits for the report produced by applying it.
// Once the bridge is closed Send returns the final report without blocking.
func (b *Bridge) Send(ctx context.Context, cmd Command) (StatusReport, error) {
	req := request{cmd: cmd, reply: make(chan StatusReport, 1)}

	select {
	case <-b.done:
		return b.Last(), nil
	default:
	}

	select {
	case b.requests <- req:
	case <-b.done:
		return b.Last(), nil
	case <-ctx.Done():
		return b.Last(), ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r, nil
	case <-b.done:
		// Closed after our request was queued but before it was served.
		select {
		case r := <-req.reply:
			return r, nil
		default:
			return b.Last(), nil
		}
	case <-ctx.Done():
		return b.Last(), ctx.Err()
	}
}

// Notify enqueues a command without waiting for its report. It returns false
// when the command was dropped because the bridge is closed or ctx ended.
func (b *Bridge) Notify(ctx context.Context, cmd Command) bool {
	select {
	case <-b.done:
		return false
	default:
	}

	select {
	case b.requests <- request{cmd: cmd}:
		return true
	case <-b.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Publish records the latest report
func (b *Bridge) Publish(r StatusReport) {
	b.last.Store(&r)
}

// Last returns the most recently published report
func (b *Bridge) Last() StatusReport {
	return *b.last.Load()
}

// Close marks the run finished. Pending and future senders are released.
func (b *Bridge) Close() {
	b.once.Do(func() { close(b.done) })
}

// Done is closed once the bridge is closed
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}
