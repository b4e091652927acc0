package state

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// lockAcquireTimeout bounds how long a writer waits for another process to
// release the state lock before giving up.
const lockAcquireTimeout = 10 * time.Second

// fileLock serializes state commits across processes with a flock on a
// sibling lock file. In-process serialization is handled by the store's
// mutex; this guard only matters when workers run as separate processes.
type fileLock struct {
	path string
	file *os.File
}

func newFileLock(path string) *fileLock {
	return &fileLock{path: path}
}

// acquire takes the lock, polling until lockAcquireTimeout elapses.
func (fl *fileLock) acquire() error {
	deadline := time.Now().Add(lockAcquireTimeout)
	for {
		err := fl.tryAcquire()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for state lock %s: %w", fl.path, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (fl *fileLock) tryAcquire() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("flock: %w", err)
	}

	fl.file = f
	return nil
}

func (fl *fileLock) release() {
	if fl.file == nil {
		return
	}
	_ = syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN)
	_ = fl.file.Close()
	fl.file = nil
}
