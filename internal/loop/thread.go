// internal/loop/thread.go
package loop

import (
	"context"
	"sync"
	"sync/atomic"
)

var threadIDs atomic.Uint64

// Thread is an execution context owning at most one bound loop. Callers that
// do not carry a Thread in their context share the bridge's default thread.
type Thread struct {
	id   uint64
	mu   sync.Mutex
	loop *Loop
}

// NewThread creates a thread with no loop bound
func NewThread() *Thread {
	return &Thread{id: threadIDs.Add(1)}
}

// ID returns a process-unique thread identifier
func (t *Thread) ID() uint64 { return t.id }

// Loop returns the bound loop. ErrNoLoop means none was ever bound;
// ErrLoopClosed means the bound loop has since been closed.
func (t *Thread) Loop() (*Loop, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.loop == nil {
		return nil, ErrNoLoop
	}
	if t.loop.IsClosed() {
		return t.loop, ErrLoopClosed
	}
	return t.loop, nil
}

// loopOrBind returns the bound loop, or binds the one produced by create when
// none is bound. The check and the bind happen under one lock so concurrent
// callers sharing a thread agree on a single loop.
func (t *Thread) loopOrBind(create func() (*Loop, error)) (l *Loop, created bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.loop != nil {
		if t.loop.IsClosed() {
			return t.loop, false, ErrLoopClosed
		}
		return t.loop, false, nil
	}

	l, err = create()
	if err != nil {
		return nil, false, err
	}
	if l == nil {
		return nil, false, ErrNoLoop
	}
	t.loop = l
	return l, true, nil
}

// SetLoop binds l, replacing any previous binding
func (t *Thread) SetLoop(l *Loop) error {
	if l == nil {
		return ErrNoLoop
	}
	if l.IsClosed() {
		return ErrLoopClosed
	}

	t.mu.Lock()
	t.loop = l
	t.mu.Unlock()
	return nil
}

// Unbind removes l if it is the bound loop
func (t *Thread) Unbind(l *Loop) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loop == l {
		t.loop = nil
	}
}

type threadKey struct{}

// WithThread returns a context whose bridged calls execute on t
func WithThread(ctx context.Context, t *Thread) context.Context {
	return context.WithValue(ctx, threadKey{}, t)
}

// ThreadFromContext returns the thread carried by ctx
func ThreadFromContext(ctx context.Context) (*Thread, bool) {
	t, ok := ctx.Value(threadKey{}).(*Thread)
	return t, ok
}
