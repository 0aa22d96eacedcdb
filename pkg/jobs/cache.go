package jobs

import "sync"

// Cache is the process-wide job status cache. Callers only ever see copies;
// mutation goes through Update so the internal lock never leaks.
type Cache struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewCache creates an empty job status cache
func NewCache() *Cache {
	return &Cache{
		jobs: make(map[string]*Job),
	}
}

// Put registers a job, keyed by its id
func (c *Cache) Put(job *Job) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.jobs[job.ID] = job
}

// Get returns a snapshot copy of the job, if present
func (c *Cache) Get(id string) (*Job, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	job, ok := c.jobs[id]
	if !ok {
		return nil, false
	}

	return snapshot(job), true
}

// Update applies fn to the live job under the cache lock. fn must not block.
func (c *Cache) Update(id string, fn func(*Job)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if job, ok := c.jobs[id]; ok {
		fn(job)
	}
}

// ListByRun returns snapshot copies of all jobs belonging to a trigger run
func (c *Cache) ListByRun(runID string) []*Job {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*Job
	for _, job := range c.jobs {
		if job.RunID == runID {
			out = append(out, snapshot(job))
		}
	}

	return out
}

// Len returns the number of cached jobs
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.jobs)
}

func snapshot(job *Job) *Job {
	out := *job
	out.Errors = append([]string(nil), job.Errors...)

	return &out
}
