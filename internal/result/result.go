// Package result provides a small future abstraction: a value that is either
// already known or being produced on a worker pool, with a uniform API either
// way. Callers decide whether to block (Get) or subscribe (OnDone).
package result

import (
	"context"
	"sync"

	"github.com/mmcdole/sonata/internal/domain"
)

// Result is a value of type T that may still be in flight
type Result[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	value     T
	err       error
	resolved  bool
	started   bool
	callbacks []func(T, error)

	hasDefault bool
	defaultVal T
	onCancel   func()
	cancel     context.CancelFunc
}

// Option configures a Result at construction
type Option[T any] func(*Result[T])

// WithDefault makes Get return the given value instead of an error. The raw
// outcome stays reachable through Outcome.
func WithDefault[T any](v T) Option[T] {
	return func(r *Result[T]) {
		r.hasDefault = true
		r.defaultVal = v
	}
}

// WithOnCancel registers cleanup to run when the result is cancelled
func WithOnCancel[T any](fn func()) Option[T] {
	return func(r *Result[T]) {
		r.onCancel = fn
	}
}

// NewValue returns an already-resolved result. Get and OnDone never block.
func NewValue[T any](v T, opts ...Option[T]) *Result[T] {
	r := &Result[T]{done: make(chan struct{}), value: v, resolved: true}
	close(r.done)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewError returns an already-resolved result carrying an error
func NewError[T any](err error, opts ...Option[T]) *Result[T] {
	r := &Result[T]{done: make(chan struct{}), err: err, resolved: true}
	close(r.done)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// New schedules fn on the pool and returns a result that resolves with its
// outcome. If the pool has shut down the result resolves immediately with
// domain.ErrCancelled.
func New[T any](pool *Pool, fn func(ctx context.Context) (T, error), opts ...Option[T]) *Result[T] {
	r := &Result[T]{done: make(chan struct{})}
	for _, opt := range opts {
		opt(r)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	ok := pool.Submit(func() {
		r.mu.Lock()
		if r.resolved {
			// Cancelled before the worker picked it up
			r.mu.Unlock()
			return
		}
		r.started = true
		r.mu.Unlock()

		v, err := fn(ctx)
		r.resolve(v, err)
	})
	if !ok {
		var zero T
		r.resolve(zero, domain.ErrCancelled)
	}
	return r
}

func (r *Result[T]) resolve(v T, err error) {
	r.mu.Lock()
	if r.resolved {
		r.mu.Unlock()
		return
	}
	r.value, r.err = v, err
	r.resolved = true
	callbacks := r.callbacks
	r.callbacks = nil
	close(r.done)
	r.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
}

// Get blocks until the result resolves. When a default value was configured,
// errors are swallowed and the default is returned instead.
func (r *Result[T]) Get() (T, error) {
	<-r.done
	if r.err != nil && r.hasDefault {
		return r.defaultVal, nil
	}
	return r.value, r.err
}

// Outcome returns the raw value and error, bypassing any configured default.
// Blocks until resolved.
func (r *Result[T]) Outcome() (T, error) {
	<-r.done
	return r.value, r.err
}

// Available reports whether the result has resolved
func (r *Result[T]) Available() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// OnDone registers a callback for the resolved outcome. If the result is
// already resolved the callback runs synchronously before OnDone returns.
// Callbacks see the raw outcome, not the default.
func (r *Result[T]) OnDone(cb func(T, error)) {
	r.mu.Lock()
	if !r.resolved {
		r.callbacks = append(r.callbacks, cb)
		r.mu.Unlock()
		return
	}
	v, err := r.value, r.err
	r.mu.Unlock()
	cb(v, err)
}

// Cancel requests cancellation. A result whose work has not started resolves
// immediately with domain.ErrCancelled; one already running has its context
// cancelled and resolves with whatever the producer returns. Already-resolved
// results are unaffected.
func (r *Result[T]) Cancel() {
	r.mu.Lock()
	if r.resolved {
		r.mu.Unlock()
		return
	}
	started := r.started
	onCancel := r.onCancel
	cancel := r.cancel
	r.mu.Unlock()

	if onCancel != nil {
		onCancel()
	}
	if cancel != nil {
		cancel()
	}
	if !started {
		var zero T
		r.resolve(zero, domain.ErrCancelled)
	}
}
