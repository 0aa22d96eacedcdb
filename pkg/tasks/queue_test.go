package tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/symsync/pkg/locks"
	"github.com/quantpulse/symsync/pkg/models"
)

// slowExecutor records fire order and can be made to hold each fire open
type slowExecutor struct {
	mu    sync.Mutex
	runs  []string
	hold  time.Duration
	inRun int
	max   int
}

func (e *slowExecutor) ExecuteSchedule(_ context.Context, sched *models.Schedule, _, _ string) {
	e.mu.Lock()
	e.inRun++
	if e.inRun > e.max {
		e.max = e.inRun
	}
	e.mu.Unlock()

	if e.hold > 0 {
		time.Sleep(e.hold)
	}

	e.mu.Lock()
	e.inRun--
	e.runs = append(e.runs, sched.ID)
	e.mu.Unlock()
}

func (e *slowExecutor) executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]string(nil), e.runs...)
}

func (e *slowExecutor) maxConcurrent() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.max
}

func newItem(id string) *Item {
	return &Item{
		Schedule:    &models.Schedule{ID: id, Name: "sched-" + id},
		RunID:       "run-" + id,
		FireAt:      time.Now(),
		TriggeredBy: "scheduler",
	}
}

func newQueue(t *testing.T, capacity int, registry *locks.Registry, exec Executor) Service {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	svc, err := NewService(log, &Config{Capacity: capacity}, registry, exec)
	require.NoError(t, err)

	return svc
}

func TestQueueExecutesInOrder(t *testing.T) {
	exec := &slowExecutor{}
	svc := newQueue(t, 8, locks.NewRegistry(), exec)

	require.NoError(t, svc.Enqueue(newItem("a")))
	require.NoError(t, svc.Enqueue(newItem("b")))
	require.NoError(t, svc.Enqueue(newItem("c")))

	require.NoError(t, svc.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(exec.executed()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, svc.Stop())

	assert.Equal(t, []string{"a", "b", "c"}, exec.executed())
}

func TestQueueSerialExecution(t *testing.T) {
	exec := &slowExecutor{hold: 20 * time.Millisecond}
	svc := newQueue(t, 16, locks.NewRegistry(), exec)

	for i := 0; i < 6; i++ {
		require.NoError(t, svc.Enqueue(newItem(string(rune('a'+i)))))
	}

	require.NoError(t, svc.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(exec.executed()) == 6
	}, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, svc.Stop())

	assert.Equal(t, 1, exec.maxConcurrent(), "fires must never overlap")
}

func TestQueueOverflowDrops(t *testing.T) {
	exec := &slowExecutor{}
	svc := newQueue(t, 2, locks.NewRegistry(), exec)

	// Worker not started, so the channel fills
	require.NoError(t, svc.Enqueue(newItem("a")))
	require.NoError(t, svc.Enqueue(newItem("b")))

	err := svc.Enqueue(newItem("c"))
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, svc.Depth())
}

func TestQueueSkipsLockedSchedule(t *testing.T) {
	registry := locks.NewRegistry()
	exec := &slowExecutor{}
	svc := newQueue(t, 8, registry, exec)

	require.True(t, registry.TryAcquire("held"))

	require.NoError(t, svc.Enqueue(newItem("held")))
	require.NoError(t, svc.Enqueue(newItem("free")))

	require.NoError(t, svc.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(exec.executed()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, svc.Stop())

	assert.Equal(t, []string{"free"}, exec.executed())
	assert.True(t, registry.Held("held"), "someone else's lock stays held")
}

func TestQueueReleasesLockAfterFire(t *testing.T) {
	registry := locks.NewRegistry()
	exec := &slowExecutor{}
	svc := newQueue(t, 8, registry, exec)

	require.NoError(t, svc.Enqueue(newItem("a")))
	require.NoError(t, svc.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(exec.executed()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, svc.Stop())

	assert.False(t, registry.Held("a"))
}

func TestQueueConfigValidate(t *testing.T) {
	assert.NoError(t, (&Config{Capacity: 1}).Validate())
	assert.ErrorIs(t, (&Config{}).Validate(), ErrInvalidCapacity)
}
