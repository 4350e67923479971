package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrInsufficientSpace is returned by CheckFreeSpace.
var ErrInsufficientSpace = errors.New("insufficient free disk space")

// FreeBytes reports the space available to unprivileged writers on the
// filesystem that holds dir. dir need not exist yet; the nearest existing
// ancestor is queried.
func FreeBytes(dir string) (uint64, error) {
	p, err := filepath.Abs(dir)
	if err != nil {
		return 0, err
	}
	for {
		if _, err := os.Stat(p); err == nil {
			break
		}
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}
	return freeBytes(p)
}

// CheckFreeSpace fails when dir's filesystem has less than minBytes free.
// minBytes == 0 disables the check.
func CheckFreeSpace(dir string, minBytes uint64) error {
	if minBytes == 0 {
		return nil
	}
	free, err := FreeBytes(dir)
	if err != nil {
		return fmt.Errorf("free space check for %s: %w", dir, err)
	}
	if free < minBytes {
		return fmt.Errorf("%w: %s has %d MiB, need %d MiB",
			ErrInsufficientSpace, dir, free>>20, minBytes>>20)
	}
	return nil
}
