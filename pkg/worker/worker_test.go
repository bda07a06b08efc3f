package worker_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/inkboard/huddle/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func BenchmarkWorker(b *testing.B) {
	workerConfig := worker.Config[struct{}]{
		ChannelSize: 1,
		Timeout:     2 * time.Second,
		OnTimeout:   func() {},
		OnTask:      func(struct{}) {},
	}
	w := worker.Start(workerConfig)

	for n := 0; n < b.N; n++ {
		_ = w.Send(struct{}{})
	}

	w.Stop()
}

func TestWorker_ExecutesTasksInOrder(t *testing.T) {
	var executed []int
	w := worker.Start(worker.Config[int]{
		ChannelSize: 16,
		OnTask:      func(task int) { executed = append(executed, task) },
	})

	for i := 0; i < 10; i++ {
		require.NoError(t, w.Send(i))
	}

	w.Stop()
	<-w.Done()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, executed)
}

func TestWorker_TooBusy(t *testing.T) {
	release := make(chan struct{})
	w := worker.Start(worker.Config[int]{
		ChannelSize: 1,
		OnTask:      func(int) { <-release },
	})
	defer func() {
		close(release)
		w.Stop()
	}()

	// The first task occupies the goroutine, the second fills the queue.
	require.NoError(t, w.Send(1))
	assert.Eventually(t, func() bool { return w.Send(2) == nil }, time.Second, time.Millisecond)
	assert.ErrorIs(t, w.Send(3), worker.ErrWorkerTooBusy)
}

func TestWorker_SendAfterStop(t *testing.T) {
	w := worker.Start(worker.Config[int]{ChannelSize: 1, OnTask: func(int) {}})
	w.Stop()
	w.Stop()

	assert.ErrorIs(t, w.Send(1), worker.ErrWorkerClosed)
	<-w.Done()
}

func TestWorker_Timeout(t *testing.T) {
	var timeouts atomic.Int32
	w := worker.Start(worker.Config[int]{
		ChannelSize: 1,
		Timeout:     5 * time.Millisecond,
		OnTimeout:   func() { timeouts.Add(1) },
		OnTask:      func(int) {},
	})
	defer w.Stop()

	assert.Eventually(t, func() bool { return timeouts.Load() >= 2 }, time.Second, time.Millisecond)
}
