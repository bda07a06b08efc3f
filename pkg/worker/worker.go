package worker

import (
	"errors"
	"sync"
	"time"
)

// Errors that may occur when sending tasks to a worker.
var (
	ErrWorkerClosed  = errors.New("worker is closed")
	ErrWorkerTooBusy = errors.New("worker is already overloaded")
)

// Configuration for the worker.
type Config[T any] struct {
	// The size of the bounded channel.
	ChannelSize int
	// Timeout after which `OnTimeout` is called if no task arrived. Zero disables it.
	Timeout time.Duration
	// A closure that is called once `Timeout` is reached.
	OnTimeout func()
	// A closure that is executed upon reception of a task.
	OnTask func(T)
}

// A worker executes tasks one by one, in the order they were sent, on its own
// goroutine. Callers never block on the worker: a full queue is reported as
// `ErrWorkerTooBusy`.
type Worker[T any] struct {
	channel chan<- T
	done    <-chan struct{}
	mutex   sync.Mutex
	closed  bool
}

// Stops the worker unless already stopped. Tasks that are already queued are
// still executed; use `Done` to wait for them.
func (w *Worker[T]) Stop() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.closed {
		close(w.channel)
		w.closed = true
	}
}

// Done is closed once the worker has stopped and drained its queue.
func (w *Worker[T]) Done() <-chan struct{} {
	return w.done
}

// Send a task to the worker.
func (w *Worker[T]) Send(task T) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return ErrWorkerClosed
	}

	select {
	case w.channel <- task:
		return nil
	default:
		return ErrWorkerTooBusy
	}
}

// Starts a worker that executes `c.OnTask` for every task, in order. If
// `c.Timeout` is set, `c.OnTimeout` is called whenever no task has been
// received within that time. The worker stops once `Stop` is called and the
// queue is drained.
func Start[T any](c Config[T]) *Worker[T] {
	incoming := make(chan T, c.ChannelSize)
	done := make(chan struct{})

	go func() {
		defer close(done)

		var timeout <-chan time.Time
		for {
			if c.Timeout > 0 {
				timeout = time.After(c.Timeout)
			}

			select {
			case task, ok := <-incoming:
				if !ok {
					return
				}
				c.OnTask(task)
			case <-timeout:
				if c.OnTimeout != nil {
					c.OnTimeout()
				}
			}
		}
	}()

	return &Worker[T]{channel: incoming, done: done}
}
