// Package fs provides the FUSE filesystem.
//
// This file contains error types and error handling utilities.
package fs

import (
	"fmt"
	"syscall"

	"smbhood/internal/logging"
	"smbhood/internal/smbnet"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")
)

// Error wraps filesystem errors with the operation and affected path.
type Error struct {
	Op   string // Operation that failed (e.g., "lookup", "readdir")
	Path string // Virtual path
	Err  error  // Underlying error
}

// Error implements the error interface, providing a formatted error message
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("operation %s on %s failed: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given operation, path, and underlying error
func NewError(op string, path string, err error) *Error {
	return &Error{
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// ToFuseError converts an error into the errno FUSE reports. Errors the
// network client cannot classify become EIO and are logged as warnings.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}

	errno := smbnet.Errno(err)
	switch errno {
	case syscall.EIO:
		errLogger.Warn("Unclassified error, returning EIO: %v", err)
	case syscall.ENOENT:
		errLogger.Trace("%v", err)
	default:
		errLogger.Debug("%v (%v)", err, errno)
	}
	return errno
}

// fail wraps err for op on path and converts it.
func fail(op, path string, err error) error {
	return ToFuseError(NewError(op, path, err))
}

// Common operation names for consistent logging and error reporting
const (
	OpLookup   = "lookup"   // Looking up a path
	OpReadDir  = "readdir"  // Reading directory contents
	OpOpen     = "open"     // Opening a file
	OpRead     = "read"     // Reading from a file
	OpWrite    = "write"    // Writing to a file
	OpFlush    = "flush"    // Flushing a file
	OpCreate   = "create"   // Creating a new file
	OpMkdir    = "mkdir"    // Creating a new directory
	OpRemove   = "remove"   // Removing a file or directory
	OpRename   = "rename"   // Renaming/moving a file or directory
	OpSetattr  = "setattr"  // Setting file attributes
	OpGetattr  = "getattr"  // Getting file attributes
	OpTruncate = "truncate" // Changing file size
)
