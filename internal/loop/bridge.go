// internal/loop/bridge.go
package loop

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
)

// Bridge paths, as reported to the Recorder
const (
	PathInThread     = "in_thread"
	PathWorkerBusy   = "worker_running_loop"
	PathWorkerKind   = "worker_wrong_kind"
	PathWorkerRaced  = "worker_loop_raced"
	workerThreadName = "bridge-worker"
)

// SchedulerError reports a loop creation or binding failure
type SchedulerError struct {
	Op  string
	Err error
}

func (e *SchedulerError) Error() string {
	return fmt.Sprintf("scheduler %s: %v", e.Op, e.Err)
}

func (e *SchedulerError) Unwrap() error { return e.Err }

// Recorder receives bridge instrumentation
type Recorder interface {
	BridgePath(path string)
	WorkerStarted()
	WorkerStopped()
}

type nopRecorder struct{}

func (nopRecorder) BridgePath(string) {}
func (nopRecorder) WorkerStarted()    {}
func (nopRecorder) WorkerStopped()    {}

// Bridge runs tasks to completion for synchronous callers whatever their
// scheduling context: on the caller's bound loop when it is usable,
// otherwise on a fresh loop owned by a dedicated worker thread.
type Bridge struct {
	strategy Strategy
	factory  Factory
	main     *Thread
	recorder Recorder
	logger   *zap.Logger
	workers  atomic.Int64
}

// Option configures a Bridge
type Option func(*Bridge)

// WithStrategy overrides platform detection
func WithStrategy(s Strategy) Option {
	return func(b *Bridge) { b.strategy = s }
}

// WithFactory overrides how loops are created
func WithFactory(f Factory) Option {
	return func(b *Bridge) { b.factory = f }
}

// WithRecorder attaches instrumentation
func WithRecorder(r Recorder) Option {
	return func(b *Bridge) { b.recorder = r }
}

// WithMainThread sets the thread used by callers whose context carries none
func WithMainThread(t *Thread) Option {
	return func(b *Bridge) { b.main = t }
}

// NewBridge creates a bridge
func NewBridge(logger *zap.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		strategy: PlatformStrategy(),
		factory:  DefaultFactory,
		main:     NewThread(),
		recorder: nopRecorder{},
		logger:   logger.With(zap.String("component", "loop-bridge")),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// MainThread returns the default thread
func (b *Bridge) MainThread() *Thread { return b.main }

// ActiveWorkers returns the number of worker threads currently alive
func (b *Bridge) ActiveWorkers() int64 { return b.workers.Load() }

// Run executes task to completion and returns its result. Task errors are
// returned unchanged; a task panic is re-raised in the caller with the
// original value.
func Run[T any](ctx context.Context, b *Bridge, task Task[T]) (T, error) {
	var zero T

	thread, ok := ThreadFromContext(ctx)
	if !ok {
		thread = b.main
	}

	l, err := b.ensureLoop(thread)
	if err != nil {
		return zero, err
	}

	switch {
	case l.IsRunning():
		b.logger.Debug("Loop is already running, executing in worker thread",
			zap.Uint64("thread_id", thread.ID()),
			zap.Uint64("loop_id", l.ID()),
		)
		return runInWorker(ctx, b, PathWorkerBusy, task)
	case !b.strategy.Accepts(l):
		b.logger.Debug("Bound loop has the wrong kind, executing in worker thread",
			zap.String("kind", l.Kind().String()),
			zap.String("required", b.strategy.Required().String()),
		)
		return runInWorker(ctx, b, PathWorkerKind, task)
	}

	value, started, err := tryRun(WithThread(ctx, thread), l, task)
	if !started {
		if errors.Is(err, ErrLoopRunning) {
			// another caller claimed the loop between the check and the run
			return runInWorker(ctx, b, PathWorkerRaced, task)
		}
		return zero, &SchedulerError{Op: "run", Err: err}
	}
	b.recorder.BridgePath(PathInThread)
	return value, err
}

// ensureLoop returns the thread's loop, creating and binding one when none is bound
func (b *Bridge) ensureLoop(t *Thread) (*Loop, error) {
	var createErr error
	l, created, err := t.loopOrBind(func() (*Loop, error) {
		l, err := b.factory.NewLoop(b.strategy.Required())
		createErr = err
		return l, err
	})
	switch {
	case createErr != nil:
		return nil, &SchedulerError{Op: "create", Err: createErr}
	case err != nil:
		return nil, &SchedulerError{Op: "get", Err: err}
	case !created:
		return l, nil
	}

	b.logger.Debug("Created loop for thread",
		zap.Uint64("thread_id", t.ID()),
		zap.Uint64("loop_id", l.ID()),
		zap.String("kind", l.Kind().String()),
	)
	return l, nil
}

type workerResult[T any] struct {
	value      T
	err        error
	panicked   bool
	panicValue any
}

// runInWorker hosts task on a new loop in a dedicated OS thread and blocks
// until that thread has closed its loop and handed back the result.
func runInWorker[T any](ctx context.Context, b *Bridge, path string, task Task[T]) (T, error) {
	done := make(chan workerResult[T], 1)

	b.workers.Add(1)
	b.recorder.WorkerStarted()
	b.recorder.BridgePath(path)

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		thread := NewThread()
		res := runWorkerTask(ctx, b, thread, task)

		b.workers.Add(-1)
		b.recorder.WorkerStopped()
		done <- res
	}()

	res := <-done
	if res.panicked {
		panic(res.panicValue)
	}
	return res.value, res.err
}

// runWorkerTask is split out so the deferred close runs before the result
// leaves the worker.
func runWorkerTask[T any](ctx context.Context, b *Bridge, thread *Thread, task Task[T]) (res workerResult[T]) {
	defer func() {
		if r := recover(); r != nil {
			res.panicked = true
			res.panicValue = r
		}
	}()

	l, err := b.factory.NewLoop(b.strategy.Required())
	if err != nil {
		res.err = &SchedulerError{Op: "create", Err: err}
		return res
	}
	if l == nil {
		res.err = &SchedulerError{Op: "create", Err: ErrNoLoop}
		return res
	}
	defer func() {
		thread.Unbind(l)
		if err := l.Close(); err != nil {
			b.logger.Warn("Failed to close worker loop", zap.Error(err))
			return
		}
		b.logger.Debug("Closed worker loop", zap.Uint64("loop_id", l.ID()))
	}()

	if err := thread.SetLoop(l); err != nil {
		res.err = &SchedulerError{Op: "bind", Err: err}
		return res
	}

	b.logger.Debug("Executing task in worker thread",
		zap.String("thread", workerThreadName),
		zap.Uint64("thread_id", thread.ID()),
		zap.Uint64("loop_id", l.ID()),
	)

	value, started, err := tryRun(WithThread(ctx, thread), l, task)
	if !started {
		res.err = &SchedulerError{Op: "run", Err: err}
		return res
	}
	res.value, res.err = value, err
	return res
}
