package opqueue

import (
	"context"
	"fmt"
	"os"
	"time"
)

// UploadFileSync uploads localPath to remotePath synchronously, bypassing
// queue ordering and dedup but not its concurrency cap or retry pipeline:
// it acquires the upload semaphore directly (so it never runs alongside
// more than the configured number of concurrent uploads) and runs the same
// upload-with-retry pipeline queued uploads use, under a timeout that
// scales with file size: min(base + size_MB*per_MB, max_timeout). The
// timeout bounds the semaphore wait and the backoff between attempts; each
// client call itself runs under the queue's own context and is not cut off
// by it. This is used by flush, which must know the upload has actually
// landed before returning.
func (q *Queue) UploadFileSync(ctx context.Context, remotePath, localPath string) error {
	timeout := q.syncTimeoutFor(localPath)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := q.uploadSem.Acquire(ctx, 1); err != nil {
		q.stats.addFailedUpload()
		return err
	}
	defer q.uploadSem.Release(1)

	err := q.withRetry(ctx, fmt.Sprintf("sync upload of %s", remotePath), func() error {
		return q.uploadOnce(remotePath, localPath)
	})
	if err != nil {
		q.stats.addFailedUpload()
		return err
	}
	q.stats.addSuccessfulUpload()
	return nil
}

func (q *Queue) syncTimeoutFor(localPath string) time.Duration {
	info, err := os.Stat(localPath)
	if err != nil {
		return q.cfg.SyncBaseTimeout
	}
	sizeMB := float64(info.Size()) / (1024 * 1024)
	timeout := q.cfg.SyncBaseTimeout + time.Duration(sizeMB*float64(q.cfg.SyncPerMBTimeout))
	if timeout > q.cfg.SyncMaxTimeout {
		return q.cfg.SyncMaxTimeout
	}
	return timeout
}
