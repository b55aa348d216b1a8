package controller

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryInterval is the interval between consecutive attempts to
// acquire the controller's startup lock.
const lockRetryInterval = 50 * time.Millisecond

// StartupLock guards against two controller processes binding the
// same endpoints against the same slot table by accident (e.g. a
// supervisor restarting a controller before the old process has
// actually exited). It is advisory only, not required for correctness:
// the wire protocol's instance_id already rejects a stale generation's
// requests once a new controller is up (§4.2 RESET_CLIENT).
type StartupLock struct {
	fl *flock.Flock
}

// AcquireStartupLock takes an exclusive lock on path, waiting up to
// timeout.
func AcquireStartupLock(ctx context.Context, path string, timeout time.Duration) (*StartupLock, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fl := flock.New(path)
	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("controller: acquiring startup lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("controller: startup lock %s held by another process", path)
	}
	return &StartupLock{fl: fl}, nil
}

// Release drops the lock. Errors are logged, not returned: by the time
// Release runs the controller is already shutting down, and a failed
// unlock here shouldn't mask whatever shutdown error the caller is
// already handling.
func (l *StartupLock) Release(logger *log.Logger) {
	if l == nil || l.fl == nil {
		return
	}
	if err := l.fl.Close(); err != nil {
		logger.Printf("controller: releasing startup lock %s: %v", l.fl.Path(), err)
	}
}
