package locks

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTryAcquireRelease(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.TryAcquire("sched-1"))
	assert.False(t, r.TryAcquire("sched-1"), "second acquire must fail")
	assert.True(t, r.Held("sched-1"))

	// Other schedules are independent
	assert.True(t, r.TryAcquire("sched-2"))

	r.Release("sched-1")
	assert.False(t, r.Held("sched-1"))
	assert.True(t, r.TryAcquire("sched-1"), "acquire succeeds after release")
}

func TestReleaseUnheldIsNoop(t *testing.T) {
	r := NewRegistry()

	r.Release("never-acquired")
	assert.False(t, r.Held("never-acquired"))
	assert.True(t, r.TryAcquire("never-acquired"))
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	r := NewRegistry()

	const goroutines = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.TryAcquire("contended") {
				wins <- struct{}{}
			}
		}()
	}

	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one goroutine may win the lock")
}
