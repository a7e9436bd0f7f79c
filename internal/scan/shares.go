package scan

import (
	"context"
	"net"
	"strings"
)

// ShareLister lists the share names of one server.
type ShareLister interface {
	ListShares(ctx context.Context, server string, hint net.IP) ([]string, error)
}

// systemShares are never published.
var systemShares = []string{"IPC$", "ADMIN$", "PRINT$"}

// ShareEnumerator lists browsable shares of a server.
type ShareEnumerator struct {
	lister ShareLister
}

// NewShareEnumerator wraps lister.
func NewShareEnumerator(lister ShareLister) *ShareEnumerator {
	return &ShareEnumerator{lister: lister}
}

// Shares lists the shares of server, dropping the system shares. Other
// hidden shares are kept; they are filtered when listed.
func (e *ShareEnumerator) Shares(ctx context.Context, server string, hint net.IP) ([]string, error) {
	names, err := e.lister.ListShares(ctx, server, hint)
	if err != nil {
		return nil, err
	}
	out := names[:0:0]
	for _, name := range names {
		if name == "" || IsSystemShare(name) {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

// IsSystemShare reports whether name is an administrative or print share.
func IsSystemShare(name string) bool {
	for _, s := range systemShares {
		if strings.EqualFold(name, s) {
			return true
		}
	}
	return false
}
