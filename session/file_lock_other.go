//go:build windows

package session

import (
	"errors"
	"os"
)

var errLockBusy = errors.New("lock busy")

// fileLock on windows relies on the in-process mutex only; the lock file is
// created so the on-disk layout matches other platforms.
type fileLock struct {
	f *os.File
}

func tryLockFile(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) unlock() error { return l.f.Close() }
