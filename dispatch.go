package sshkit

import "sync"

// Dispatcher delivers completion callbacks. Implementations must not run fn on the caller's
// goroutine synchronously if that goroutine is a Queue worker.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatcherFunc adapts a function to Dispatcher.
// Example: sshkit.DispatcherFunc(func(fn func()) { uiThread <- fn }).
type DispatcherFunc func(fn func())

// Dispatch calls f(fn).
func (f DispatcherFunc) Dispatch(fn func()) {
	f(fn)
}

// SerialDispatcher runs callbacks one at a time, in the order they were dispatched, on a dedicated
// goroutine.
type SerialDispatcher struct {
	tasks *fifo[func()]
	once  sync.Once
}

var _ Dispatcher = (*SerialDispatcher)(nil)

// NewSerialDispatcher starts a dispatcher goroutine. Release it with Close.
func NewSerialDispatcher() *SerialDispatcher {
	d := &SerialDispatcher{tasks: newFIFO[func()]()}

	go d.loop()

	return d
}

// Dispatch schedules fn. After Close, fn runs on its own goroutine so it is never dropped.
func (d *SerialDispatcher) Dispatch(fn func()) {
	if !d.tasks.push(fn) {
		go fn()
	}
}

// Close stops accepting callbacks. Already scheduled callbacks still run. It does not wait for them,
// so it is safe to call from inside a callback.
func (d *SerialDispatcher) Close() error {
	d.once.Do(d.tasks.close)

	return nil
}

func (d *SerialDispatcher) loop() {
	for {
		fn, ok := d.tasks.pop()
		if !ok {
			return
		}

		fn()
	}
}

// fifo is an unbounded queue: push never blocks, pop blocks until an item arrives or the queue is
// closed and drained.
type fifo[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

func newFIFO[T any]() *fifo[T] {
	f := &fifo[T]{}
	f.cond = sync.NewCond(&f.mu)

	return f
}

func (f *fifo[T]) push(item T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}

	f.items = append(f.items, item)
	f.cond.Signal()

	return true
}

func (f *fifo[T]) pop() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for len(f.items) == 0 && !f.closed {
		f.cond.Wait()
	}

	var zero T
	if len(f.items) == 0 {
		return zero, false
	}

	item := f.items[0]
	f.items[0] = zero
	f.items = f.items[1:]

	return item, true
}

func (f *fifo[T]) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	f.cond.Broadcast()
}
