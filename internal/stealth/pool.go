package stealth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent browser usage to P processes, each hosting up to N
// tabs, per §4.2/§5's resource budget. Acquire blocks up to a configured
// timeout and then fails with ResourceExhausted rather than queuing
// indefinitely — grounded on the teacher's debrid rate-limited client
// pattern, generalized from a per-provider token bucket to a
// semaphore.Weighted process/tab budget.
type Pool struct {
	driver Driver
	log    *slog.Logger

	processSem *semaphore.Weighted
	tabSem     *semaphore.Weighted
	acquireTTL time.Duration

	mu       sync.Mutex
	byBucket map[int]*BrowserHandle
}

// NewPool constructs a pool of at most processes browsers, tabsPerProcess
// tabs each, failing acquisition after acquireTimeout.
func NewPool(driver Driver, processes, tabsPerProcess int, acquireTimeout time.Duration) *Pool {
	return &Pool{
		driver:     driver,
		log:        slog.Default().With("component", "stealth-pool"),
		processSem: semaphore.NewWeighted(int64(processes)),
		tabSem:     semaphore.NewWeighted(int64(processes * tabsPerProcess)),
		acquireTTL: acquireTimeout,
		byBucket:   make(map[int]*BrowserHandle),
	}
}

// Lease is a checked-out tab, released exactly once via Close.
type Lease struct {
	pool   *Pool
	handle *BrowserHandle
	tab    *TabHandle
	once   sync.Once
}

// Tab returns the underlying tab handle for engine use.
func (l *Lease) Tab() *TabHandle { return l.tab }

// Close releases the tab slot. Safe to call multiple times.
func (l *Lease) Close() error {
	var err error
	l.once.Do(func() {
		err = l.pool.driver.CloseTab(l.tab)
		l.pool.tabSem.Release(1)
	})
	return err
}

// Acquire checks out one tab for pageURL/referer, assigning a fingerprint
// bucket deterministically from the caller-supplied key so that repeated
// hops within the same job land in a consistent-but-independent browser
// process where possible (§4.2: one coherent identity per job).
func (p *Pool) Acquire(ctx context.Context, bucketKey int, pageURL, referer string) (*Lease, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.acquireTTL)
	defer cancel()

	if err := p.tabSem.Acquire(acquireCtx, 1); err != nil {
		return nil, ResourceExhaustedErr{}
	}

	handle, err := p.handleForBucket(acquireCtx, bucketKey)
	if err != nil {
		p.tabSem.Release(1)
		return nil, err
	}

	tab, err := p.driver.NewTab(ctx, handle, pageURL, referer)
	if err != nil {
		p.tabSem.Release(1)
		return nil, fmt.Errorf("new tab: %w", err)
	}

	return &Lease{pool: p, handle: handle, tab: tab}, nil
}

func (p *Pool) handleForBucket(ctx context.Context, bucketKey int) (*BrowserHandle, error) {
	p.mu.Lock()
	if h, ok := p.byBucket[bucketKey]; ok {
		p.mu.Unlock()
		return h, nil
	}
	p.mu.Unlock()

	if err := p.processSem.Acquire(ctx, 1); err != nil {
		return nil, ResourceExhaustedErr{}
	}

	fp := PickForBucket(bucketKey)
	handle, err := p.driver.Acquire(ctx, fp, bucketKey)
	if err != nil {
		p.processSem.Release(1)
		return nil, err
	}

	p.mu.Lock()
	p.byBucket[bucketKey] = handle
	p.mu.Unlock()

	return handle, nil
}

// Stats reports the pool's current load for the health endpoint: how many
// browser processes are live. acquireQueueDepth is always 0; acquisitions
// waiting on the tab semaphore are not counted.
func (p *Pool) Stats() (activeBrowsers, acquireQueueDepth int) {
	p.mu.Lock()
	activeBrowsers = len(p.byBucket)
	p.mu.Unlock()
	return activeBrowsers, 0
}

// Shutdown releases every browser process the pool has launched.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for bucket, handle := range p.byBucket {
		if err := p.driver.Release(handle); err != nil {
			p.log.Warn("release browser failed", "bucket", bucket, "err", err)
		}
	}
	p.byBucket = make(map[int]*BrowserHandle)
}

// ResourceExhaustedErr signals the pool had no slot available within its
// acquire window (§4.2, §7's resource_exhausted kind).
type ResourceExhaustedErr struct{}

func (ResourceExhaustedErr) Error() string { return "no browser slot available within acquisition window" }
