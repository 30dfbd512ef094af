package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"
)

// DefaultLockTimeout bounds how long SaveToFile waits for another writer
const DefaultLockTimeout = 5 * time.Second

// FileLock is an exclusive lock on a sidecar lock file
type FileLock interface {
	Release() error
}

type flockRelease struct {
	lock *flock.Flock
}

func (r *flockRelease) Release() error {
	if r.lock == nil {
		return nil
	}
	err := r.lock.Unlock()
	r.lock = nil
	return err
}

type noopLock struct{}

func (noopLock) Release() error { return nil }

// acquireFileLock takes an exclusive lock on lockFile, retrying with backoff
// until timeout. Only the OS filesystem can be locked across processes; other
// filesystems get a no-op lock.
func acquireFileLock(fs afero.Fs, lockFile string, timeout time.Duration) (FileLock, error) {
	if _, ok := fs.(*afero.OsFs); !ok {
		return noopLock{}, nil
	}

	fileLock := flock.New(lockFile)
	deadline := time.Now().Add(timeout)
	retryDelay := 10 * time.Millisecond

	for {
		locked, err := fileLock.TryLock()
		if err != nil {
			slog.Error("error during try-lock attempt", "file_path", lockFile, "error", err)
			return nil, fmt.Errorf("failed to try lock %s: %w", lockFile, err)
		}
		if locked {
			slog.Debug("file lock acquired", "file_path", lockFile)
			return &flockRelease{lock: fileLock}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		time.Sleep(min(retryDelay, remaining))
		retryDelay = min(retryDelay*2, 100*time.Millisecond)
	}

	return nil, fmt.Errorf("timeout acquiring file lock %s after %v", lockFile, timeout)
}
