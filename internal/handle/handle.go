// Package handle wraps open remote files so reads and writes survive a
// server dropping the handle: the file is reopened in place and the
// operation retried once.
package handle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"smbhood/internal/logging"
	"smbhood/internal/metrics"
	"smbhood/internal/smbnet"
)

var (
	logger = logging.GetLogger().WithPrefix("handle")
)

// DefaultMaxReopenAttempts bounds reopen attempts that fail for lack of memory.
const DefaultMaxReopenAttempts = 5

// ErrClosed is returned for operations on a closed handle.
var ErrClosed = errors.New("handle closed")

// Opener opens remote files.
type Opener interface {
	OpenFile(ctx context.Context, remote string, flag int, perm fs.FileMode) (smbnet.File, error)
}

// Policy controls recovery.
type Policy struct {
	// MaxReopenAttempts is how often a reopen is tried while it fails with
	// an out-of-memory error.
	MaxReopenAttempts int
}

// DefaultPolicy is the recovery policy used by the filesystem.
func DefaultPolicy() Policy {
	return Policy{MaxReopenAttempts: DefaultMaxReopenAttempts}
}

type state int

const (
	stateOpen state = iota
	stateRetrying
	stateFailed
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateRetrying:
		return "retrying"
	case stateFailed:
		return "failed"
	}
	return "closed"
}

// Handle is one open remote file. Its underlying file is replaced when a
// stale handle is recovered, so callers keep using the same *Handle.
type Handle struct {
	mu     sync.Mutex
	opener Opener
	path   string
	flag   int
	policy Policy
	file   smbnet.File
	offset int64
	state  state
}

// Open opens remote with flag and wraps the result.
func Open(ctx context.Context, opener Opener, remote string, flag int, perm fs.FileMode, policy Policy) (*Handle, error) {
	f, err := opener.OpenFile(ctx, remote, flag, perm)
	if err != nil {
		return nil, err
	}
	if policy.MaxReopenAttempts < 1 {
		policy.MaxReopenAttempts = 1
	}
	return &Handle{
		opener: opener,
		path:   remote,
		flag:   flag,
		policy: policy,
		file:   f,
	}, nil
}

// Path returns the remote path the handle was opened with.
func (h *Handle) Path() string {
	return h.path
}

// Offset returns the end of the last successful transfer.
func (h *Handle) Offset() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.offset
}

// reopenFlags keeps the access mode but never recreates or truncates the
// file that is being recovered.
func (h *Handle) reopenFlags() int {
	return h.flag &^ (os.O_CREATE | os.O_EXCL | os.O_TRUNC)
}

// reopen replaces h.file. Out-of-memory failures are retried up to the
// policy bound without delay, anything else fails at once.
func (h *Handle) reopen(ctx context.Context) error {
	if h.file != nil {
		h.file.Close()
		h.file = nil
	}

	var err error
	for attempt := 1; attempt <= h.policy.MaxReopenAttempts; attempt++ {
		var f smbnet.File
		f, err = h.opener.OpenFile(ctx, h.path, h.reopenFlags(), 0)
		if err == nil {
			h.file = f
			logger.Debug("Reopened %q after %d attempt(s)", h.path, attempt)
			return nil
		}
		if !smbnet.IsOutOfMemory(err) {
			break
		}
		logger.Debug("Reopen of %q out of memory, attempt %d/%d", h.path, attempt, h.policy.MaxReopenAttempts)
	}
	return fmt.Errorf("failed to reopen %s: %w", h.path, err)
}

// run performs op against the current file, recovering once from a stale
// handle. h.mu must be held.
func (h *Handle) run(ctx context.Context, op func(f smbnet.File) (int, error)) (int, error) {
	switch h.state {
	case stateClosed:
		return 0, ErrClosed
	case stateFailed:
		// an earlier recovery failed; try again before touching the file
		h.state = stateRetrying
		if err := h.reopen(ctx); err != nil {
			h.state = stateFailed
			return 0, err
		}
		h.state = stateOpen
	}

	n, err := op(h.file)
	if err == nil || !smbnet.IsStale(err) {
		return n, err
	}

	logger.Info("Stale handle on %q, reopening: %v", h.path, err)
	h.state = stateRetrying
	if rerr := h.reopen(ctx); rerr != nil {
		h.state = stateFailed
		metrics.RecordHandleRecovery(false)
		logger.Warn("Recovery of %q failed: %v", h.path, rerr)
		return 0, rerr
	}
	h.state = stateOpen
	metrics.RecordHandleRecovery(true)

	return op(h.file)
}

// ReadAt reads len(p) bytes at off. A short read at end of file is not an
// error.
func (h *Handle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, err := h.run(ctx, func(f smbnet.File) (int, error) {
		n, err := f.ReadAt(p, off)
		if errors.Is(err, io.EOF) {
			err = nil
		}
		return n, err
	})
	if err != nil {
		return 0, err
	}
	h.offset = off + int64(n)
	return n, nil
}

// WriteAt writes p at off.
func (h *Handle) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, err := h.run(ctx, func(f smbnet.File) (int, error) {
		return f.WriteAt(p, off)
	})
	if err != nil {
		return n, err
	}
	h.offset = off + int64(n)
	return n, nil
}

// Sync flushes the remote file.
func (h *Handle) Sync(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := h.run(ctx, func(f smbnet.File) (int, error) {
		return 0, f.Sync()
	})
	return err
}

// Close releases the remote file. Closing twice is a no-op.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == stateClosed {
		return nil
	}
	h.state = stateClosed
	if h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	if smbnet.IsStale(err) {
		// the server already forgot the handle
		return nil
	}
	return err
}
