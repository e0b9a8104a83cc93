package documents

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// LockFileName is the advisory lock file guarding a folder's sidecar.
const LockFileName = ".documents.lock"

// folderLocks serializes work on the same folder within this process.
type folderLocks struct {
	mu    sync.Mutex
	locks map[string]*folderLock
}

type folderLock struct {
	mu   sync.Mutex
	refs int
}

func newFolderLocks() *folderLocks {
	return &folderLocks{locks: make(map[string]*folderLock)}
}

func (l *folderLocks) acquire(dir string) func() {
	l.mu.Lock()
	fl, ok := l.locks[dir]
	if !ok {
		fl = &folderLock{}
		l.locks[dir] = fl
	}
	fl.refs++
	l.mu.Unlock()

	fl.mu.Lock()
	return func() {
		fl.mu.Unlock()
		l.mu.Lock()
		fl.refs--
		if fl.refs == 0 {
			delete(l.locks, dir)
		}
		l.mu.Unlock()
	}
}

// lockFolder takes the in-process lock for dir and then the cross-process
// file lock. A folder that cannot hold a lock file (read-only share) is
// still served under the in-process lock.
func (e *Engine) lockFolder(ctx context.Context, dir string) (func(), error) {
	release := e.locks.acquire(dir)

	fileLock := flock.New(filepath.Join(dir, LockFileName))
	locked, err := fileLock.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			release()
			return nil, ctxErr
		}
		e.logger.Debug("document folder lock unavailable", "folder", dir, "error", err)
		return release, nil
	}
	if !locked {
		release()
		return nil, fmt.Errorf("lock document folder %s: %w", dir, context.DeadlineExceeded)
	}

	return func() {
		if err := fileLock.Unlock(); err != nil {
			e.logger.Warn("failed to release document folder lock", "folder", dir, "error", err)
		}
		release()
	}, nil
}

