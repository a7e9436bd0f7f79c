package netbios

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
)

// Resolver is the part of Client the Browser needs.
type Resolver interface {
	Query(ctx context.Context, name string, suffix byte) ([]Address, error)
	NodeStatus(ctx context.Context, ip net.IP) ([]NodeName, error)
}

// Browser enumerates workgroups and their members from browse service
// registrations.
type Browser struct {
	resolver Resolver
}

// NewBrowser creates a browser on top of r.
func NewBrowser(r Resolver) *Browser {
	return &Browser{resolver: r}
}

// Workgroups asks every local master browser for its status and collects
// the workgroup (group <00>) names they belong to.
func (b *Browser) Workgroups(ctx context.Context) ([]string, error) {
	masters, err := b.resolver.Query(ctx, MasterBrowseName, SuffixMasterBrowsers)
	if err != nil {
		return nil, fmt.Errorf("failed to find master browsers: %w", err)
	}

	var workgroups []string
	var lastErr error
	for _, m := range masters {
		names, err := b.resolver.NodeStatus(ctx, m.IP)
		if err != nil {
			logger.Debug("Master browser %s did not answer node status: %v", m.IP, err)
			lastErr = err
			continue
		}
		for _, n := range names {
			if n.Group && n.Suffix == SuffixWorkstation && !strings.HasPrefix(n.Name, "\x01") {
				workgroups = append(workgroups, n.Name)
			}
		}
	}
	if len(workgroups) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return uniqueFold(workgroups), nil
}

// Servers lists the file servers of a workgroup: every host registered for
// the workgroup's browser election name is asked for its unique <20> name.
// An empty result is not an error.
func (b *Browser) Servers(ctx context.Context, workgroup string) ([]string, error) {
	members, err := b.resolver.Query(ctx, workgroup, SuffixBrowserElect)
	if err != nil {
		if errors.Is(err, ErrNoAnswer) {
			return nil, nil
		}
		return nil, err
	}

	var servers []string
	for _, m := range members {
		names, err := b.resolver.NodeStatus(ctx, m.IP)
		if err != nil {
			logger.Debug("Browser %s did not answer node status: %v", m.IP, err)
			continue
		}
		for _, n := range names {
			if !n.Group && n.Suffix == SuffixServer {
				servers = append(servers, n.Name)
			}
		}
	}
	return uniqueFold(servers), nil
}

// uniqueFold drops names that repeat ignoring case, keeping the first.
func uniqueFold(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, n := range names {
		key := strings.ToLower(n)
		if !seen[key] {
			seen[key] = true
			out = append(out, n)
		}
	}
	return slices.Clip(out)
}
