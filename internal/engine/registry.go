package engine

import (
	"sync"
	"time"

	"flyx/models"
)

// terminalGrace is how long a finished job's record is kept queryable after
// its terminal event, so a caller's final status poll or a late SSE
// reconnect still finds it. Grounded on
// services/metadata/trailer_prequeue.go's TrailerPrequeueManager, which
// keeps completed entries around for a bounded window before a background
// sweep reclaims them.
const terminalGrace = 30 * time.Second

// JobRegistry is the engine's mutex-protected table of in-flight and
// recently-finished jobs.
type JobRegistry struct {
	mu         sync.Mutex
	jobs       map[string]*models.ExtractionJob
	finishedAt map[string]time.Time

	stop chan struct{}
}

// NewJobRegistry starts a registry with its background grace-window sweep.
func NewJobRegistry() *JobRegistry {
	r := &JobRegistry{
		jobs:       make(map[string]*models.ExtractionJob),
		finishedAt: make(map[string]time.Time),
		stop:       make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Create registers a new pending job.
func (r *JobRegistry) Create(jobID string, req models.ExtractionRequest) *models.ExtractionJob {
	job := &models.ExtractionJob{
		RequestID: jobID,
		Request:   req,
		State:     models.JobPending,
		StartedAt: timeNow(),
	}
	r.mu.Lock()
	r.jobs[jobID] = job
	r.mu.Unlock()
	return job
}

// Get returns a copy of the job's current state, or false if unknown or
// already swept.
func (r *JobRegistry) Get(jobID string) (models.ExtractionJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return models.ExtractionJob{}, false
	}
	return *job, true
}

// Update mutates the stored job record under lock via fn. When fn's edit
// moves the job into a terminal phase, the registry stamps the sweep clock
// so the grace window is measured from completion, not job start.
func (r *JobRegistry) Update(jobID string, fn func(*models.ExtractionJob)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return
	}
	fn(job)
	if job.Phase.IsTerminal() {
		if _, already := r.finishedAt[jobID]; !already {
			r.finishedAt[jobID] = timeNow()
		}
	}
}

func (r *JobRegistry) sweepLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *JobRegistry) sweep() {
	cutoff := timeNow().Add(-terminalGrace)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, job := range r.jobs {
		if !job.Phase.IsTerminal() {
			continue
		}
		finished, ok := r.finishedAt[id]
		if !ok || finished.Before(cutoff) {
			delete(r.jobs, id)
			delete(r.finishedAt, id)
		}
	}
}

// Shutdown stops the background sweep.
func (r *JobRegistry) Shutdown() {
	close(r.stop)
}

// timeNow is a seam so tests can't accidentally depend on wall-clock
// granularity; production always uses time.Now.
var timeNow = time.Now
