package sshkit

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Queue runs blocking operations one at a time, in submission order, on a dedicated worker goroutine.
//
// The first engine or transport error returned by an operation is recorded. Every later operation skips its
// work and completes with that error until a reset point (Connect, Disconnect, Reset) runs.
// Completions are handed to the Dispatcher, never run on the worker.
type Queue struct {
	log        *zap.Logger
	dispatcher Dispatcher
	tasks      *fifo[*operation]
	done       chan struct{}
	closeOnce  sync.Once

	mu  sync.Mutex
	err error
}

type resetMode int

const (
	resetNone resetMode = iota
	resetAfter
)

type operation struct {
	name     string
	run      func() error
	complete func(error)

	// barrier operations run even when the queue is short-circuited.
	barrier bool
	reset   resetMode

	// skipped runs on the worker in place of run when the operation is short-circuited.
	skipped func()
}

// NewQueue starts a worker. A nil logger disables logging; a nil dispatcher gets a SerialDispatcher.
func NewQueue(log *zap.Logger, dispatcher Dispatcher) *Queue {
	if log == nil {
		log = zap.NewNop()
	}

	if dispatcher == nil {
		dispatcher = NewSerialDispatcher()
	}

	q := &Queue{
		log:        log,
		dispatcher: dispatcher,
		tasks:      newFIFO[*operation](),
		done:       make(chan struct{}),
	}

	go q.loop()

	return q
}

// Enqueue appends run to the queue. complete (optional) receives the outcome on the dispatcher.
// When complete is nil a failure is logged instead.
func (q *Queue) Enqueue(name string, run func() error, complete func(error)) {
	q.enqueue(&operation{name: name, run: run, complete: complete})
}

// Reset clears the recorded error once every operation submitted before it has run.
func (q *Queue) Reset(complete func(error)) {
	q.enqueue(&operation{
		name:     "reset",
		run:      func() error { return nil },
		complete: complete,
		barrier:  true,
		reset:    resetAfter,
	})
}

// Err returns the recorded short-circuit error, if any.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.err
}

// Wait blocks until every operation submitted before it has run and had its completion dispatched.
// It returns the error recorded at that point. Do not call it from a completion running on a
// SerialDispatcher: it would wait for itself.
func (q *Queue) Wait(ctx context.Context) error {
	var recorded error

	ch := make(chan struct{})

	q.enqueue(&operation{
		name: "wait",
		run: func() error {
			recorded = q.Err()

			return nil
		},
		complete: func(error) { close(ch) },
		barrier:  true,
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return recorded
	}
}

// clearErr drops the recorded error. Only operations running on the worker call it.
func (q *Queue) clearErr() {
	q.mu.Lock()
	q.err = nil
	q.mu.Unlock()
}

// Close drains pending operations and stops the worker. Operations submitted afterwards complete
// with ErrSessionClosed.
func (q *Queue) Close() error {
	q.closeOnce.Do(q.tasks.close)
	<-q.done

	return nil
}

func (q *Queue) enqueue(op *operation) {
	if !q.tasks.push(op) {
		q.deliver(op, ErrSessionClosed)
	}
}

func (q *Queue) loop() {
	defer close(q.done)

	for {
		op, ok := q.tasks.pop()
		if !ok {
			return
		}

		q.execute(op)
	}
}

func (q *Queue) execute(op *operation) {
	poisoned := q.Err()

	var err error

	switch {
	case poisoned != nil && !op.barrier:
		err = poisoned

		q.log.Debug("operation skipped", zap.String("op", op.name), zap.Error(poisoned))

		if op.skipped != nil {
			op.skipped()
		}
	default:
		err = q.invoke(op)
	}

	q.mu.Lock()
	switch {
	case op.reset == resetAfter:
		q.err = nil
	case q.err == nil && poisons(err):
		q.err = err
	}
	q.mu.Unlock()

	q.deliver(op, err)
}

func (q *Queue) invoke(op *operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation %s panicked: %v", op.name, r)
		}
	}()

	return op.run()
}

func (q *Queue) deliver(op *operation, err error) {
	if op.complete != nil {
		complete := op.complete
		q.dispatcher.Dispatch(func() { complete(err) })

		return
	}

	if err != nil {
		q.log.Warn("operation failed", zap.String("op", op.name), zap.Error(err))
	}
}

// withResult adapts a value-returning operation to the queue's error-only shape. The returned run
// stores the value; the returned complete hands it to done. complete is nil when done is nil.
func withResult[T any](run func() (T, error), done func(T, error)) (func() error, func(error)) {
	var result T

	wrapped := func() error {
		var err error
		result, err = run()

		return err
	}

	if done == nil {
		return wrapped, nil
	}

	return wrapped, func(err error) { done(result, err) }
}
