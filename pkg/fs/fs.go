// Package fs is the narrow seam poseidon's storage layer opens a paged
// file through. The components that open files -- pkg/pagefile and
// internal/graphdb's Store and WAL -- take an [FS] instead of calling
// [os] directly (the layers above pagefile reach disk only through it),
// so a test
// can hand it an in-memory or instrumented filesystem without the
// production code path changing.
//
// The interfaces below are deliberately smaller than [os]: poseidon
// only opens, extends, and durably writes paged files and its WAL. It
// never streams whole files into memory, lists directories, or renames
// anything, so those [os] equivalents never made it into this seam.
//
// Example usage:
//
//	fsys := fs.NewReal()
//	f, err := fsys.OpenFile("data/nodes.pgf", os.O_RDWR|os.O_CREATE, 0o644)
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
package fs

import (
	"io"
	"os"
)

// File represents an OS-backed open file descriptor.
//
// This interface is satisfied by [os.File]. The intent is os-like
// behavior: implementations must behave like [os.File], including that
// [File.Fd] returns a valid OS file descriptor usable with syscalls
// (pkg/pagefile uses it for [unix.Flock]) until the file is closed.
//
// Implementations must be safe for concurrent use by multiple
// goroutines; poseidon's buffer pool and WAL both serialize their own
// access, but nothing here assumes that discipline.
type File interface {
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the file descriptor, for pkg/pagefile's advisory lock.
	Fd() uintptr

	// Sync commits the file's contents to disk. See [os.File.Sync].
	// The WAL and paged-file writeback path call this before
	// acknowledging a commit or a checkpoint as durable.
	Sync() error
}

// FS opens and provisions the files poseidon's storage layer needs.
//
// Paths use OS semantics (like the os package and path/filepath), not
// the slash-separated paths used by the standard library io/fs
// package.
//
// Implementations must be safe for concurrent use by multiple
// goroutines.
type FS interface {
	// OpenFile opens a file with the given flags and permissions. See
	// [os.OpenFile]. pkg/pagefile uses O_CREATE|O_EXCL to create a new
	// paged file and plain O_RDWR to reopen an existing one; the WAL
	// uses O_RDWR|O_CREATE and seeks to the end itself.
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// MkdirAll creates the data directory and all parents. See
	// [os.MkdirAll]. No error if the directory already exists.
	MkdirAll(path string, perm os.FileMode) error

	// Exists reports whether a file or directory exists, so
	// [internal/graphdb.Open] can tell "first run" (create the node
	// and relationship files from scratch) apart from "reopen"
	// (replay the WAL against existing files).
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)
}

// Compile-time interface check.
var _ File = (*os.File)(nil)
