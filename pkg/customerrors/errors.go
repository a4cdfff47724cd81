// Package customerrors defines the error values shared by the storage layers.
// Callers should compare with errors.Is, since every layer wraps them with
// context on the way up.
package customerrors

import (
	"github.com/pkg/errors"
)

var (
	// ErrKeyNotFound is returned from index lookups and removals when the
	// key is not present.
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyExists is returned by index inserts when the key is already
	// present and replacing was not requested.
	ErrKeyExists = errors.New("key already exists")

	// ErrEmptyKey is returned when an operation is requested with an empty
	// serialized key.
	ErrEmptyKey = errors.New("empty key")

	// ErrRecordNotFound is returned for record ids that were deleted, never
	// issued or do not address a translation slot.
	ErrRecordNotFound = errors.New("record not found")

	// ErrConcurrentModification is returned by a browser used after the tree
	// it walks was modified through the same handle.
	ErrConcurrentModification = errors.New("tree modified while browsing")

	// ErrCorrupt marks format and integrity failures: bad magic, truncated
	// blocks, unexpected block types, damaged log entries.
	ErrCorrupt = errors.New("corrupt data file")

	// ErrIncompatible is returned when a file was written by another format
	// version or with another block size.
	ErrIncompatible = errors.New("incompatible file format")

	// ErrBlocksPinned is returned by commit and rollback while some block is
	// still held by a caller.
	ErrBlocksPinned = errors.New("blocks still pinned")

	// ErrClosed is returned by every operation on a closed handle.
	ErrClosed = errors.New("file closed")

	// ErrLocked is returned when another handle already holds the data file.
	ErrLocked = errors.New("data file is locked by another process")

	// ErrExists is returned by Create when the data file already has content.
	ErrExists = errors.New("data file already exists")
)
