package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsJobs(t *testing.T) {
	pool := NewPool(2, 10)
	pool.Run()
	defer pool.Stop()

	var done int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		ok := pool.TrySubmit(Job{
			Name: "test",
			Process: func(ctx context.Context) {
				atomic.AddInt32(&done, 1)
				wg.Done()
			},
		})
		if !ok {
			t.Fatal("Submission rejected with room in the queue")
		}
	}

	wg.Wait()
	if atomic.LoadInt32(&done) != 5 {
		t.Errorf("Expected 5 jobs run, got %d", done)
	}
}

func TestPoolDropsWhenFull(t *testing.T) {
	pool := NewPool(1, 1)
	// Workers not started: the queue fills and further submissions drop.

	if !pool.TrySubmit(Job{Name: "queued", Process: func(context.Context) {}}) {
		t.Fatal("First submission should fit the queue")
	}
	if pool.TrySubmit(Job{Name: "overflow", Process: func(context.Context) {}}) {
		t.Fatal("Second submission should be dropped")
	}
	if pool.Dropped() != 1 {
		t.Errorf("Expected 1 dropped job, got %d", pool.Dropped())
	}
}

func TestPoolStopDrainsQueue(t *testing.T) {
	pool := NewPool(1, 10)

	var done int32
	for i := 0; i < 3; i++ {
		pool.TrySubmit(Job{
			Name: "queued",
			Process: func(ctx context.Context) {
				atomic.AddInt32(&done, 1)
			},
		})
	}

	pool.Run()
	time.Sleep(50 * time.Millisecond)
	pool.Stop()

	if atomic.LoadInt32(&done) != 3 {
		t.Errorf("Expected queued jobs drained on stop, got %d", done)
	}
}
