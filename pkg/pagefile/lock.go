package pagefile

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/polyhedra-labs/poseidongo/pkg/fs"
)

// lockGuard holds an exclusive advisory lock on an open paged file for
// the lifetime of the process that opened it, so a second process (or a
// second Open call in the same process) cannot mutate the same file
// concurrently and corrupt the header or bitmap.
//
// This is a single-process embedded engine: unlike the teacher's
// internal/fs.Locker (which guards a separate, renamable lock file
// against other processes racing a file-lock path replacement),
// poseidon locks the data file's own descriptor directly with
// unix.Flock, since there is no separate lock-file path to race against.
type lockGuard struct {
	file fs.File
}

// acquireExclusive takes a non-blocking exclusive flock on f, returning
// ErrLocked if another open already holds it.
func acquireExclusive(f fs.File) (*lockGuard, error) {
	fd := int(f.Fd())

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("pagefile: %w", ErrLocked)
		}
		return nil, fmt.Errorf("pagefile: flock: %w", err)
	}

	return &lockGuard{file: f}, nil
}

func (g *lockGuard) release() error {
	if g == nil {
		return nil
	}
	if err := unix.Flock(int(g.file.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("pagefile: unlock: %w", err)
	}
	return nil
}
