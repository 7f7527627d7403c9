package fs

import (
	"os"
)

// Real implements [FS] against the real filesystem. All methods are
// pure passthroughs to the [os] package with identical error
// semantics; the only exception is [Real.Exists], which wraps
// [os.Stat].
type Real struct{}

// NewReal returns a new [Real] filesystem.
func NewReal() *Real {
	return &Real{}
}

// OpenFile is a passthrough wrapper for [os.OpenFile].
func (r *Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(path, flag, perm)
}

// MkdirAll is a passthrough wrapper for [os.MkdirAll].
func (r *Real) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Exists checks if a file exists using [os.Stat]. Returns (true, nil)
// if the file exists, (false, nil) if it does not, or (false, err) for
// other errors.
func (r *Real) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

// Compile-time interface check.
var _ FS = (*Real)(nil)
