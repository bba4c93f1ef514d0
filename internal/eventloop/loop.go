// Package eventloop runs every state transition of a session on one
// goroutine. Callbacks arriving from other goroutines (transport reads,
// peer-connection events, timers) are posted onto the loop instead of
// touching session state directly.
package eventloop

import (
	"context"
	"sync"
)

const defaultQueueSize = 256

// Loop is a single-consumer task queue.
type Loop struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
}

// New creates a Loop. It does nothing until Run is called.
func New() *Loop {
	return &Loop{
		tasks: make(chan func(), defaultQueueSize),
		done:  make(chan struct{}),
	}
}

// Run drains the queue until ctx is cancelled or Stop is called. Tasks still
// queued at that point are dropped.
func (l *Loop) Run(ctx context.Context) {
	defer l.Stop()
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-ctx.Done():
			return
		case <-l.done:
			return
		}
	}
}

// Post enqueues fn. It returns false if the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish. It must not be used
// from inside a task. Returns false if the loop stopped first.
func (l *Loop) Call(fn func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}

	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// Stop ends Run. Safe to call multiple times.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.done) })
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
