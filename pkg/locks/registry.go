// Package locks provides the per-schedule execution lock registry. It
// guarantees mutual exclusion between the poller's automatic fire and a
// manual trigger for the same schedule.
package locks

import "sync"

// Registry hands out one non-blocking try-lock per schedule id. Lock states
// are created lazily; the registry-level mutex guards only the map, never an
// execution.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*lockState
}

type lockState struct {
	mu   sync.Mutex
	held bool
}

// NewRegistry creates an empty lock registry
func NewRegistry() *Registry {
	return &Registry{
		locks: make(map[string]*lockState),
	}
}

func (r *Registry) state(scheduleID string) *lockState {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.locks[scheduleID]
	if !ok {
		st = &lockState{}
		r.locks[scheduleID] = st
	}

	return st
}

// TryAcquire attempts to take the schedule's lock without blocking. It
// returns false when the lock is already held.
func (r *Registry) TryAcquire(scheduleID string) bool {
	st := r.state(scheduleID)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.held {
		return false
	}
	st.held = true

	return true
}

// Release returns the schedule's lock. Releasing an unheld lock is a no-op;
// callers release exactly once per successful TryAcquire, on every exit path.
func (r *Registry) Release(scheduleID string) {
	st := r.state(scheduleID)

	st.mu.Lock()
	defer st.mu.Unlock()

	st.held = false
}

// Held reports whether the schedule's lock is currently held. Used by the
// poller to skip schedules with an execution still in flight.
func (r *Registry) Held(scheduleID string) bool {
	st := r.state(scheduleID)

	st.mu.Lock()
	defer st.mu.Unlock()

	return st.held
}
