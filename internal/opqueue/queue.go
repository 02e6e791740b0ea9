// Package opqueue implements the asynchronous upload/download operation
// queue: bounded, deduplicated, priority-ordered work queues, each drained
// by a single worker goroutine (so queued jobs of one direction run one at
// a time) that also takes a slot of that direction's semaphore, with a
// synchronous bypass for the flush path that shares the upload semaphore,
// and an atomic remote-replacement protocol for conflicting uploads.
package opqueue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"drivefs/internal/filecache"
	"drivefs/internal/logging"
	"drivefs/internal/metacache"
	"drivefs/internal/remote"
	"drivefs/internal/retry"
)

// Priority levels; lower numeric value runs first.
const (
	PriorityHigh   = 0
	PriorityNormal = 10
	PriorityLow    = 20
)

type opKind int

const (
	opUpload opKind = iota
	opDownload
)

func (k opKind) String() string {
	if k == opUpload {
		return "upload"
	}
	return "download"
}

// job is one queued unit of work.
type job struct {
	kind       opKind
	remotePath string
	localPath  string
	priority   int
	seq        int64 // FIFO tiebreak within a priority
	enqueuedAt time.Time

	waiters []chan error
	index   int // heap.Interface bookkeeping
}

type jobHeap []*job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *jobHeap) Push(x any) {
	j := x.(*job)
	j.index = len(*h)
	*h = append(*h, j)
}
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}

// RetryConfig controls the retry behaviour applied to every queued upload
// and download: exactly 3 attempts beyond the first try, with delays
// 1s/2s/4s (no jitter — the queue wants deterministic backoff, unlike the
// jittered HTTP-retry config used elsewhere).
var RetryConfig = retry.Config{
	MaxRetries:    3,
	InitialDelay:  1 * time.Second,
	MaxDelay:      4 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        0,
}

// Config configures a Queue.
type Config struct {
	MaxQueueSize       int // per-direction bound; 0 means DefaultMaxQueueSize
	UploadConcurrency  int64
	DownloadConcurrency int64

	// SyncBaseTimeout/SyncPerMBTimeout/SyncMaxTimeout control
	// UploadFileSync's size-scaled timeout:
	// min(base + size_MB*per_MB, max_timeout).
	SyncBaseTimeout  time.Duration
	SyncPerMBTimeout time.Duration
	SyncMaxTimeout   time.Duration
}

const (
	DefaultMaxQueueSize        = 1024
	DefaultUploadConcurrency   = 4
	DefaultDownloadConcurrency = 4

	DefaultSyncBaseTimeout  = 10 * time.Second
	DefaultSyncPerMBTimeout = 2 * time.Second
	DefaultSyncMaxTimeout   = 5 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.UploadConcurrency == 0 {
		c.UploadConcurrency = DefaultUploadConcurrency
	}
	if c.DownloadConcurrency == 0 {
		c.DownloadConcurrency = DefaultDownloadConcurrency
	}
	if c.SyncBaseTimeout == 0 {
		c.SyncBaseTimeout = DefaultSyncBaseTimeout
	}
	if c.SyncPerMBTimeout == 0 {
		c.SyncPerMBTimeout = DefaultSyncPerMBTimeout
	}
	if c.SyncMaxTimeout == 0 {
		c.SyncMaxTimeout = DefaultSyncMaxTimeout
	}
	return c
}

// Queue is the asynchronous upload/download operation queue.
type Queue struct {
	cfg    Config
	client remote.Client
	cache  *filecache.Cache
	meta   *metacache.Cache

	mu            sync.Mutex
	cond          *sync.Cond
	uploads       jobHeap
	downloads     jobHeap
	dedupUploads  map[string]*job
	dedupDownload map[string]*job
	seq           int64
	closed        bool

	uploadSem   *semaphore.Weighted
	downloadSem *semaphore.Weighted

	stats Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Queue. meta may be nil if post-upload attribute refresh is
// not desired (tests commonly pass nil).
func New(cfg Config, client remote.Client, cache *filecache.Cache, meta *metacache.Cache) *Queue {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		cfg:           cfg,
		client:        client,
		cache:         cache,
		meta:          meta,
		dedupUploads:  make(map[string]*job),
		dedupDownload: make(map[string]*job),
		uploadSem:     semaphore.NewWeighted(cfg.UploadConcurrency),
		downloadSem:   semaphore.NewWeighted(cfg.DownloadConcurrency),
		ctx:           ctx,
		cancel:        cancel,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the upload and download worker goroutines.
func (q *Queue) Start() {
	q.wg.Add(2)
	go q.workerLoop(opUpload)
	go q.workerLoop(opDownload)
}

// Stop cancels all in-flight and pending work and waits for workers to
// exit.
func (q *Queue) Stop() {
	q.CancelAll()
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	q.cond.Broadcast()
	q.wg.Wait()
}

// CancelAll drains every pending (not yet started) job, resolving its
// waiters with context.Canceled.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, h := range []*jobHeap{&q.uploads, &q.downloads} {
		for h.Len() > 0 {
			j := heap.Pop(h).(*job)
			q.resolve(j, context.Canceled)
		}
	}
	q.dedupUploads = make(map[string]*job)
	q.dedupDownload = make(map[string]*job)
}

func (q *Queue) resolve(j *job, err error) {
	for _, w := range j.waiters {
		w <- err
		close(w)
	}
}

// enqueue inserts or dedups a job, returning a channel that receives
// exactly one result.
func (q *Queue) enqueue(kind opKind, remotePath, localPath string, priority int) (<-chan error, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, fmt.Errorf("opqueue: queue closed")
	}

	dedup := q.dedupUploads
	h := &q.uploads
	if kind == opDownload {
		dedup = q.dedupDownload
		h = &q.downloads
	}

	waiter := make(chan error, 1)

	if existing, ok := dedup[remotePath]; ok {
		existing.waiters = append(existing.waiters, waiter)
		if priority < existing.priority {
			existing.priority = priority
			heap.Fix(h, existing.index)
		}
		return waiter, nil
	}

	if h.Len() >= q.cfg.MaxQueueSize {
		q.stats.addQueueFullRejection()
		return nil, fmt.Errorf("opqueue: %s queue full", kind)
	}

	q.seq++
	j := &job{
		kind:       kind,
		remotePath: remotePath,
		localPath:  localPath,
		priority:   priority,
		seq:        q.seq,
		enqueuedAt: time.Now(),
		waiters:    []chan error{waiter},
	}
	dedup[remotePath] = j
	heap.Push(h, j)
	q.cond.Signal()

	if kind == opUpload {
		q.stats.addTotalUpload()
	} else {
		q.stats.addTotalDownload()
	}
	return waiter, nil
}

// EnqueueUpload queues an async upload of localPath to remotePath, deduping
// against any already-queued upload of the same remote path.
func (q *Queue) EnqueueUpload(remotePath, localPath string, priority int) (<-chan error, error) {
	return q.enqueue(opUpload, remotePath, localPath, priority)
}

// EnqueueDownload queues an async download of remotePath into the cache,
// deduping against any already-queued download of the same remote path.
func (q *Queue) EnqueueDownload(remotePath, localPath string, priority int) (<-chan error, error) {
	return q.enqueue(opDownload, remotePath, localPath, priority)
}

// WaitForCompletion blocks until the given result channel resolves or ctx
// is done.
func WaitForCompletion(ctx context.Context, result <-chan error) error {
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForFileUpload polls until remotePath is no longer pending in the
// upload queue, or timeout elapses. It returns as soon as a worker has
// taken the job: an upload already in progress is not waited for, and the
// cache's dirty set is not consulted.
func (q *Queue) WaitForFileUpload(ctx context.Context, remotePath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		_, queued := q.dedupUploads[remotePath]
		q.mu.Unlock()
		if !queued {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("opqueue: timed out waiting for upload of %s", remotePath)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (q *Queue) popNext(kind opKind) *job {
	q.mu.Lock()
	defer q.mu.Unlock()

	h := &q.uploads
	dedup := q.dedupUploads
	if kind == opDownload {
		h = &q.downloads
		dedup = q.dedupDownload
	}

	for h.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if h.Len() == 0 {
		return nil
	}
	j := heap.Pop(h).(*job)
	delete(dedup, j.remotePath)
	return j
}

func (q *Queue) sem(kind opKind) *semaphore.Weighted {
	if kind == opUpload {
		return q.uploadSem
	}
	return q.downloadSem
}

func (q *Queue) workerLoop(kind opKind) {
	defer q.wg.Done()
	for {
		j := q.popNext(kind)
		if j == nil {
			return
		}
		if err := q.sem(kind).Acquire(q.ctx, 1); err != nil {
			q.resolve(j, err)
			continue
		}
		err := q.execute(kind, j)
		q.sem(kind).Release(1)
		q.resolve(j, err)
	}
}

func (q *Queue) execute(kind opKind, j *job) error {
	var err error
	if kind == opUpload {
		err = q.withRetry(q.ctx, fmt.Sprintf("upload of %s", j.remotePath), func() error {
			return q.uploadOnce(j.remotePath, j.localPath)
		})
	} else {
		err = q.withRetry(q.ctx, fmt.Sprintf("download of %s", j.remotePath), func() error {
			return q.runDownload(j)
		})
	}
	if err == nil {
		if kind == opUpload {
			q.stats.addSuccessfulUpload()
		} else {
			q.stats.addSuccessfulDownload()
		}
		return nil
	}
	if kind == opUpload {
		q.stats.addFailedUpload()
		// The background worker optimistically marks an entry clean once
		// its upload is enqueued; reconcile that optimism on terminal
		// failure so the next sync cycle retries it.
		if q.cache != nil {
			if err2 := q.cache.MarkDirty(j.remotePath); err2 != nil {
				logging.Warnf("opqueue: could not re-mark %s dirty after failed upload: %v", j.remotePath, err2)
			}
		}
	} else {
		q.stats.addFailedDownload()
	}
	return err
}

// withRetry runs attemptFn up to RetryConfig.MaxRetries+1 times with
// exponential backoff between attempts, the same pipeline the queued
// worker loop and UploadFileSync both drive their single-attempt calls
// through.
func (q *Queue) withRetry(ctx context.Context, label string, attemptFn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= RetryConfig.MaxRetries; attempt++ {
		err := attemptFn()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < RetryConfig.MaxRetries {
			delay := RetryConfig.CalculateDelay(attempt, 0)
			logging.Warnf("opqueue: %s failed (attempt %d): %v, retrying in %s", label, attempt+1, err, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// uploadOnce makes a single upload attempt, routing a conflict response
// through the atomic-replacement protocol and invalidating the metadata
// cache entry on success.
func (q *Queue) uploadOnce(remotePath, localPath string) error {
	err := q.client.Upload(q.ctx, localPath, remotePath)
	if errors.Is(err, remote.ErrConflict) {
		return q.atomicReplace(remotePath, localPath)
	}
	if err != nil {
		return err
	}
	if q.meta != nil {
		q.meta.Invalidate(remotePath)
	}
	return nil
}

func (q *Queue) runDownload(j *job) error {
	_, err := q.cache.Download(q.ctx, j.remotePath, q.client)
	return err
}
