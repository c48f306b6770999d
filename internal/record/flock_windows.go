//go:build windows

package record

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// fileLock provides cross-process mutual exclusion using LockFileEx.
type fileLock struct {
	path string
	file *os.File
}

func newFileLock(path string) *fileLock {
	return &fileLock{path: path}
}

func (fl *fileLock) lock(flags uint32) error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	ol := new(windows.Overlapped)
	if err := windows.LockFileEx(windows.Handle(f.Fd()), flags, 0, 1, 0, ol); err != nil {
		_ = f.Close()
		return err
	}
	fl.file = f
	return nil
}

// Lock acquires an exclusive lock, blocking until available.
func (fl *fileLock) Lock() error {
	if err := fl.lock(windows.LOCKFILE_EXCLUSIVE_LOCK); err != nil {
		return fmt.Errorf("lockfileex: %w", err)
	}
	return nil
}

// TryLock attempts the lock without blocking.
func (fl *fileLock) TryLock() (bool, error) {
	err := fl.lock(windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY)
	if err == windows.ERROR_LOCK_VIOLATION {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lockfileex: %w", err)
	}
	return true, nil
}

// Unlock releases the lock and closes the lock file.
func (fl *fileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	f := fl.file
	fl.file = nil
	ol := new(windows.Overlapped)
	if err := windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, ol); err != nil {
		_ = f.Close()
		return fmt.Errorf("unlockfileex: %w", err)
	}
	return f.Close()
}
