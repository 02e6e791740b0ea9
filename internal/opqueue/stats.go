package opqueue

import "sync/atomic"

// Stats holds the queue's running counters. All fields are accessed only
// through atomic operations so Snapshot is safe to call concurrently with
// workers.
type Stats struct {
	queueFullRejections int64

	totalUploads      int64
	successfulUploads int64
	failedUploads     int64

	totalDownloads      int64
	successfulDownloads int64
	failedDownloads     int64

	atomicReplacements           int64
	atomicReplacementRecoveries  int64
	atomicReplacementFailures    int64
}

func (s *Stats) addQueueFullRejection()        { atomic.AddInt64(&s.queueFullRejections, 1) }
func (s *Stats) addTotalUpload()               { atomic.AddInt64(&s.totalUploads, 1) }
func (s *Stats) addSuccessfulUpload()          { atomic.AddInt64(&s.successfulUploads, 1) }
func (s *Stats) addFailedUpload()              { atomic.AddInt64(&s.failedUploads, 1) }
func (s *Stats) addTotalDownload()             { atomic.AddInt64(&s.totalDownloads, 1) }
func (s *Stats) addSuccessfulDownload()        { atomic.AddInt64(&s.successfulDownloads, 1) }
func (s *Stats) addFailedDownload()            { atomic.AddInt64(&s.failedDownloads, 1) }
func (s *Stats) addAtomicReplacement()         { atomic.AddInt64(&s.atomicReplacements, 1) }
func (s *Stats) addAtomicReplacementRecovery() { atomic.AddInt64(&s.atomicReplacementRecoveries, 1) }
func (s *Stats) addAtomicReplacementFailure()  { atomic.AddInt64(&s.atomicReplacementFailures, 1) }

// Snapshot is a point-in-time, race-free copy of Stats for diagnostics.
type Snapshot struct {
	QueueFullRejections int64

	TotalUploads      int64
	SuccessfulUploads int64
	FailedUploads     int64

	TotalDownloads      int64
	SuccessfulDownloads int64
	FailedDownloads     int64

	AtomicReplacements          int64
	AtomicReplacementRecoveries int64
	AtomicReplacementFailures   int64
}

// Stats returns a snapshot of the queue's counters.
func (q *Queue) Stats() Snapshot {
	return Snapshot{
		QueueFullRejections: atomic.LoadInt64(&q.stats.queueFullRejections),

		TotalUploads:      atomic.LoadInt64(&q.stats.totalUploads),
		SuccessfulUploads: atomic.LoadInt64(&q.stats.successfulUploads),
		FailedUploads:     atomic.LoadInt64(&q.stats.failedUploads),

		TotalDownloads:      atomic.LoadInt64(&q.stats.totalDownloads),
		SuccessfulDownloads: atomic.LoadInt64(&q.stats.successfulDownloads),
		FailedDownloads:     atomic.LoadInt64(&q.stats.failedDownloads),

		AtomicReplacements:          atomic.LoadInt64(&q.stats.atomicReplacements),
		AtomicReplacementRecoveries: atomic.LoadInt64(&q.stats.atomicReplacementRecoveries),
		AtomicReplacementFailures:   atomic.LoadInt64(&q.stats.atomicReplacementFailures),
	}
}
