// Package progressbus fans one extraction job's ProgressEvent stream out to
// any number of concurrent SSE subscribers without per-subscriber goroutine
// leaks, and without letting a slow subscriber stall the engine (spec.md
// §4.3).
package progressbus

import (
	"sync"

	"github.com/sourcegraph/conc/pool"

	"flyx/models"
)

// queueDepth bounds how many events a job's bus buffers before the engine's
// Publish call starts dropping the oldest unsent event for a lagging
// subscriber, keeping the engine itself from ever blocking on a slow
// client (§4.3: "never let event delivery back-pressure the extraction").
const queueDepth = 32

// subscriber is one SSE connection's inbox plus its unsubscribe signal.
type subscriber struct {
	ch   chan models.ProgressEvent
	done chan struct{}
}

// jobBus holds one job's subscriber set and event history for replay.
type jobBus struct {
	mu          sync.Mutex
	subscribers map[int]*subscriber
	nextID      int
	history     []models.ProgressEvent
	closed      bool
}

// Bus is the process-wide registry of per-job event buses, grounded on the
// teacher's trailer_prequeue.go mutex-protected map-of-state pattern,
// generalized here from "job status" to "job subscriber set".
type Bus struct {
	mu   sync.Mutex
	jobs map[string]*jobBus

	fanout *pool.Pool
}

// New constructs an empty registry. The shared conc pool fans event
// delivery out to subscribers concurrently rather than serially, matching
// internal/importer/parallel_rar_downloader.go's use of
// github.com/sourcegraph/conc/pool for bounded parallel fan-out.
func New() *Bus {
	return &Bus{
		jobs:   make(map[string]*jobBus),
		fanout: pool.New().WithMaxGoroutines(64),
	}
}

func (b *Bus) busFor(jobID string) *jobBus {
	b.mu.Lock()
	defer b.mu.Unlock()
	jb, ok := b.jobs[jobID]
	if !ok {
		jb = &jobBus{subscribers: make(map[int]*subscriber)}
		b.jobs[jobID] = jb
	}
	return jb
}

// Publish delivers event to every current subscriber of jobID and appends
// it to the job's replay history. A full subscriber channel has its oldest
// queued event dropped to make room for this one rather than blocking
// (queueDepth is large enough in practice that this only triggers for a
// badly stalled client). The dropped event is the oldest in the queue,
// whatever its phase.
func (b *Bus) Publish(event models.ProgressEvent) {
	jb := b.busFor(event.RequestID)

	jb.mu.Lock()
	jb.history = append(jb.history, event)
	if event.IsTerminal() {
		jb.closed = true
	}
	subs := make([]*subscriber, 0, len(jb.subscribers))
	for _, s := range jb.subscribers {
		subs = append(subs, s)
	}
	jb.mu.Unlock()

	for _, s := range subs {
		s := s
		b.fanout.Go(func() {
			select {
			case s.ch <- event:
			case <-s.done:
			default:
				// queue full: drop the oldest queued event to make room,
				// never block the engine
				select {
				case <-s.ch:
				default:
				}
				select {
				case s.ch <- event:
				default:
				}
			}
		})
	}
}

// Subscribe registers a new listener for jobID, replaying history since
// afterSeq (0 replays everything buffered). Returns the event channel and
// an unsubscribe func that must be called exactly once.
func (b *Bus) Subscribe(jobID string, afterSeq int) (<-chan models.ProgressEvent, func()) {
	jb := b.busFor(jobID)

	jb.mu.Lock()
	sub := &subscriber{ch: make(chan models.ProgressEvent, queueDepth), done: make(chan struct{})}
	id := jb.nextID
	jb.nextID++
	jb.subscribers[id] = sub

	replay := jb.history
	if afterSeq > 0 && afterSeq <= len(replay) {
		replay = replay[afterSeq:]
	}
	alreadyClosed := jb.closed
	jb.mu.Unlock()

	for _, event := range replay {
		sub.ch <- event
	}
	if alreadyClosed {
		close(sub.ch)
	}

	unsubscribe := func() {
		close(sub.done)
		jb.mu.Lock()
		delete(jb.subscribers, id)
		jb.mu.Unlock()
	}
	return sub.ch, unsubscribe
}

// Forget drops a job's bus entirely, history and subscribers included. The
// engine's JobRegistry sweep does not call it.
func (b *Bus) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.jobs, jobID)
}
