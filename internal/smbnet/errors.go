package smbnet

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"os"
	"syscall"

	"github.com/hirochachacha/go-smb2"
)

// NTSTATUS codes the filesystem cares about.
const (
	statusInvalidHandle        uint32 = 0xC0000008
	statusNoSuchFile           uint32 = 0xC000000F
	statusNoMemory             uint32 = 0xC0000017
	statusAccessDenied         uint32 = 0xC0000022
	statusObjectNameInvalid    uint32 = 0xC0000033
	statusObjectNameNotFound   uint32 = 0xC0000034
	statusObjectNameCollision  uint32 = 0xC0000035
	statusObjectPathNotFound   uint32 = 0xC000003A
	statusSharingViolation     uint32 = 0xC0000043
	statusDeletePending        uint32 = 0xC0000056
	statusLogonFailure         uint32 = 0xC000006D
	statusDiskFull             uint32 = 0xC000007F
	statusInsufficientRes      uint32 = 0xC000009A
	statusMediaWriteProtected  uint32 = 0xC00000A2
	statusIOTimeout            uint32 = 0xC00000B5
	statusFileIsADirectory     uint32 = 0xC00000BA
	statusNotSupported         uint32 = 0xC00000BB
	statusBadNetworkPath       uint32 = 0xC00000BE
	statusNetworkNameDeleted   uint32 = 0xC00000C9
	statusBadNetworkName       uint32 = 0xC00000CC
	statusDirectoryNotEmpty    uint32 = 0xC0000101
	statusNotADirectory        uint32 = 0xC0000103
	statusFileClosed           uint32 = 0xC0000128
	statusUserSessionDeleted   uint32 = 0xC0000203
	statusNetworkSessionExpire uint32 = 0xC000035C
)

// ErrCrossShare is returned when a rename spans two shares.
var ErrCrossShare = errors.New("rename across shares")

func statusCode(err error) (uint32, bool) {
	var respErr *smb2.ResponseError
	if errors.As(err, &respErr) {
		return respErr.Code, true
	}
	return 0, false
}

// Errno maps an error from the network client onto the errno reported to
// the kernel. Unknown errors become EIO.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	if code, ok := statusCode(err); ok {
		switch code {
		case statusNoSuchFile, statusObjectNameNotFound, statusObjectPathNotFound,
			statusBadNetworkName, statusBadNetworkPath, statusDeletePending, statusObjectNameInvalid:
			return syscall.ENOENT
		case statusAccessDenied, statusLogonFailure:
			return syscall.EACCES
		case statusObjectNameCollision:
			return syscall.EEXIST
		case statusDirectoryNotEmpty:
			return syscall.ENOTEMPTY
		case statusFileIsADirectory:
			return syscall.EISDIR
		case statusNotADirectory:
			return syscall.ENOTDIR
		case statusIOTimeout:
			return syscall.ETIMEDOUT
		case statusSharingViolation:
			return syscall.EBUSY
		case statusDiskFull:
			return syscall.ENOSPC
		case statusNotSupported:
			return syscall.ENOTSUP
		case statusMediaWriteProtected:
			return syscall.EROFS
		case statusNoMemory, statusInsufficientRes:
			return syscall.ENOMEM
		case statusInvalidHandle, statusFileClosed, statusNetworkNameDeleted,
			statusUserSessionDeleted, statusNetworkSessionExpire:
			return syscall.EBADF
		}
		return syscall.EIO
	}

	switch {
	case errors.Is(err, ErrCrossShare):
		return syscall.EXDEV
	case errors.Is(err, fs.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, fs.ErrExist):
		return syscall.EEXIST
	case errors.Is(err, fs.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, fs.ErrInvalid):
		return syscall.EINVAL
	case errors.Is(err, fs.ErrClosed):
		return syscall.EBADF
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return syscall.ETIMEDOUT
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return syscall.ETIMEDOUT
	}
	return syscall.EIO
}

// IsStale reports whether err means an open handle, tree connect or
// session is no longer usable and reopening may help.
func IsStale(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := statusCode(err); ok {
		switch code {
		case statusInvalidHandle, statusFileClosed, statusNetworkNameDeleted,
			statusUserSessionDeleted, statusNetworkSessionExpire:
			return true
		}
		return false
	}
	switch {
	case errors.Is(err, fs.ErrClosed), errors.Is(err, net.ErrClosed),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.EBADF), errors.Is(err, syscall.ESTALE),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return true
	}
	return false
}

// IsOutOfMemory reports whether err is an allocation failure on either end.
func IsOutOfMemory(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := statusCode(err); ok {
		return code == statusNoMemory || code == statusInsufficientRes
	}
	return errors.Is(err, syscall.ENOMEM)
}
