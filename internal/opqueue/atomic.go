package opqueue

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"drivefs/internal/logging"
)

// atomicReplace implements the conflict-recovery protocol for an upload
// that landed on an existing remote file the backend refuses to overwrite
// directly: upload to a sibling temp path, delete the original, then
// rename the temp path over the target. If the final rename fails, it is
// retried once after a short sleep before falling back to
// recoverFailedAtomicReplacement.
func (q *Queue) atomicReplace(remotePath, localPath string) error {
	tmp := tempSiblingPath(remotePath)

	if err := q.client.Upload(q.ctx, localPath, tmp); err != nil {
		return fmt.Errorf("opqueue: atomic replace upload to %s: %w", tmp, err)
	}

	if err := q.client.Delete(q.ctx, remotePath); err != nil {
		logging.Warnf("opqueue: atomic replace could not delete original %s, cleaning up %s: %v", remotePath, tmp, err)
		if cleanupErr := q.client.Delete(q.ctx, tmp); cleanupErr != nil {
			logging.Warnf("opqueue: atomic replace cleanup of %s failed: %v", tmp, cleanupErr)
		}
		return fmt.Errorf("opqueue: atomic replace could not delete original %s: %w", remotePath, err)
	}

	if err := q.client.Move(q.ctx, tmp, remotePath); err != nil {
		logging.Warnf("opqueue: atomic replace rename %s -> %s failed, retrying once: %v", tmp, remotePath, err)
		time.Sleep(1 * time.Second)
		if err2 := q.client.Move(q.ctx, tmp, remotePath); err2 != nil {
			q.stats.addAtomicReplacementFailure()
			return q.recoverFailedAtomicReplacement(remotePath, tmp, err2)
		}
		q.stats.addAtomicReplacementRecovery()
		q.stats.addAtomicReplacement()
		return nil
	}

	q.stats.addAtomicReplacement()
	return nil
}

// recoverFailedAtomicReplacement is the escape hatch when both the rename
// and its retry fail: the uploaded data is safe at tmp, so we surface a
// descriptive error rather than silently losing the write. The caller
// (flush, or the queue's own execute for queued uploads) re-marks the path
// dirty so a future sync uploads the local copy again; the temp copy is
// left on the remote.
func (q *Queue) recoverFailedAtomicReplacement(remotePath, tmp string, renameErr error) error {
	logging.Errorf("opqueue: atomic replace of %s could not be completed; data preserved at %s: %v", remotePath, tmp, renameErr)
	return fmt.Errorf("opqueue: atomic replace of %s failed, data preserved at %s: %w", remotePath, tmp, renameErr)
}

func tempSiblingPath(remotePath string) string {
	return fmt.Sprintf("%s.tmp.%s", remotePath, uuid.New().String())
}
