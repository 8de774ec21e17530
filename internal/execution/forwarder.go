package execution

import (
	"context"
	"sync"

	"github.com/conductor/agentrt/pkg/log"
)

// EventSink receives the events of one execution.
type EventSink interface {
	Send(ctx context.Context, ev Event) error
}

// EventSinkFunc adapts a function to an EventSink.
type EventSinkFunc func(ctx context.Context, ev Event) error

// Send calls f.
func (f EventSinkFunc) Send(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// forwarder feeds a sink from an unbounded queue on its own goroutine, so a
// slow sink never blocks the run that produces the events. After the first
// sink error the remaining events are dropped.
type forwarder struct {
	sink   EventSink
	logger log.Logger

	mu      sync.Mutex
	queue   []Event
	closed  bool
	failed  bool
	wake    chan struct{}
	done    chan struct{}
	dropped int
}

func newForwarder(ctx context.Context, sink EventSink, logger log.Logger) *forwarder {
	f := &forwarder{
		sink:   sink,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go f.pump(ctx)
	return f
}

// Push queues ev. It never blocks.
func (f *forwarder) Push(ev Event) {
	f.mu.Lock()
	if f.closed || f.failed {
		f.dropped++
		f.mu.Unlock()
		return
	}
	f.queue = append(f.queue, ev)
	f.mu.Unlock()
	f.signal()
}

// Close stops accepting events. Queued events are still delivered.
func (f *forwarder) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.signal()
}

// Done is closed once the pump has delivered or dropped everything.
func (f *forwarder) Done() <-chan struct{} {
	return f.done
}

func (f *forwarder) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *forwarder) pump(ctx context.Context) {
	defer close(f.done)

	for {
		f.mu.Lock()
		batch := f.queue
		f.queue = nil
		closed := f.closed
		f.mu.Unlock()

		for i, ev := range batch {
			if err := f.sink.Send(ctx, ev); err != nil {
				f.mu.Lock()
				f.failed = true
				f.dropped += len(batch) - i - 1 + len(f.queue)
				f.queue = nil
				f.mu.Unlock()
				f.logger.Warn().Err(err).Msg("event sink failed, detaching")
				return
			}
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}

		select {
		case <-f.wake:
		case <-ctx.Done():
			return
		}
	}
}
