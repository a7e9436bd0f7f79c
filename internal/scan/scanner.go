// Package scan discovers the workgroup, server and share topology and
// publishes it as one sorted snapshot.
package scan

import (
	"context"
	"errors"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"smbhood/internal/config"
	"smbhood/internal/logging"
	"smbhood/internal/metrics"
	"smbhood/internal/netbios"
	"smbhood/internal/topology"
)

var (
	logger = logging.GetLogger().WithPrefix("scan")
)

// Browser performs structured enumeration.
type Browser interface {
	Workgroups(ctx context.Context) ([]string, error)
	Servers(ctx context.Context, workgroup string) ([]string, error)
}

// Broadcaster answers the broadcast fallback lookups.
type Broadcaster interface {
	LookupGroup(ctx context.Context, workgroup string) ([]net.IP, error)
	NodeStatus(ctx context.Context, ip net.IP) ([]netbios.NodeName, error)
}

// Publisher persists a finished snapshot.
type Publisher interface {
	Publish(snap topology.Snapshot) error
}

// ConfigSource hands out the current settings.
type ConfigSource interface {
	Current() *config.Snapshot
}

// ServerResolution maps a server name to the address it answered from.
type ServerResolution map[string]net.IP

// Scanner runs topology scans.
type Scanner struct {
	browser   Browser
	broadcast Broadcaster
	shares    *ShareEnumerator
	publisher Publisher
	config    ConfigSource
}

// New creates a scanner.
func New(browser Browser, broadcast Broadcaster, lister ShareLister, publisher Publisher, cfg ConfigSource) *Scanner {
	return &Scanner{
		browser:   browser,
		broadcast: broadcast,
		shares:    NewShareEnumerator(lister),
		publisher: publisher,
		config:    cfg,
	}
}

// collector is the scan-wide entry list shared by all workers.
type collector struct {
	mu      sync.Mutex
	entries []topology.Entry
}

func (c *collector) add(entries ...topology.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entries...)
}

// Scan enumerates the network and publishes the result exactly once. A
// failure to enumerate workgroups publishes an empty snapshot. The returned
// error is only set when publishing failed.
func (s *Scanner) Scan(ctx context.Context) (topology.Snapshot, error) {
	id := uuid.NewString()
	start := time.Now()
	cfg := s.config.Current()

	log := logger.WithPrefix("scan " + id[:8])
	log.Info("Starting scan")

	coll := &collector{}
	workgroups, err := s.browser.Workgroups(ctx)
	if err != nil {
		log.Warn("Failed to enumerate workgroups: %v", err)
		workgroups = nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.ScanWorkers())
	for _, wg := range workgroups {
		if cfg.IgnoredWorkgroup(wg) {
			log.Debug("Skipping ignored workgroup %s", wg)
			continue
		}
		g.Go(func() error {
			n := s.scanWorkgroup(gctx, log, cfg, coll, wg)
			log.Debug("Workgroup %s contributed %d entries", wg, n)
			// workers never fail the group; a bad workgroup only loses its own entries
			return nil
		})
	}
	g.Wait()

	snap := topology.NewSnapshot(coll.entries)
	if err := s.publisher.Publish(snap); err != nil {
		metrics.RecordScan(snap.Len(), time.Since(start), false)
		log.Error("Failed to publish topology: %v", err)
		return snap, err
	}

	metrics.RecordScan(snap.Len(), time.Since(start), true)
	log.Info("Scan finished: %d entries in %v", snap.Len(), time.Since(start).Round(time.Millisecond))
	return snap, nil
}

// scanWorkgroup runs the probe and share enumeration for one workgroup and
// returns the number of entries it added.
func (s *Scanner) scanWorkgroup(ctx context.Context, log *logging.Logger, cfg *config.Snapshot, coll *collector, wg string) int {
	servers, hints, err := s.probe(ctx, log, wg)
	if err != nil {
		metrics.RecordWorkgroupFailure()
		log.Warn("Workgroup %s unreachable: %v", wg, err)
		return 0
	}

	added := 0
	for _, srv := range servers {
		if cfg.IgnoredServer(srv) {
			log.Debug("Skipping ignored server %s", srv)
			continue
		}
		shares, err := s.shares.Shares(ctx, srv, hints[srv])
		if err != nil {
			metrics.RecordServerFailure()
			log.Warn("Failed to list shares of %s/%s: %v", wg, srv, err)
			continue
		}
		entries := make([]topology.Entry, 0, len(shares))
		for _, sh := range shares {
			entries = append(entries, topology.Entry{Workgroup: wg, Server: srv, Share: sh})
		}
		coll.add(entries...)
		added += len(entries)
	}
	return added
}

// probe returns the sorted server names of a workgroup. Structured
// enumeration comes first; when it finds nothing the workgroup name is
// queried by broadcast and every responder is asked for its names.
func (s *Scanner) probe(ctx context.Context, log *logging.Logger, wg string) ([]string, ServerResolution, error) {
	hints := ServerResolution{}

	servers, err := s.browser.Servers(ctx, wg)
	if err != nil {
		log.Debug("Structured enumeration of %s failed: %v", wg, err)
	}

	if len(servers) == 0 {
		var ferr error
		servers, ferr = s.fallback(ctx, wg, hints)
		if ferr != nil {
			return nil, nil, errors.Join(err, ferr)
		}
		log.Debug("Broadcast fallback for %s found %d servers", wg, len(servers))
	}

	topology.SortFold(servers)
	return slices.Compact(servers), hints, nil
}

func (s *Scanner) fallback(ctx context.Context, wg string, hints ServerResolution) ([]string, error) {
	ips, err := s.broadcast.LookupGroup(ctx, wg)
	if err != nil {
		if errors.Is(err, netbios.ErrNoAnswer) {
			return nil, nil
		}
		return nil, err
	}

	var servers []string
	for _, ip := range ips {
		names, err := s.broadcast.NodeStatus(ctx, ip)
		if err != nil {
			logger.Debug("Node status of %s failed: %v", ip, err)
			continue
		}
		for _, n := range names {
			if n.Group || n.Suffix != netbios.SuffixWorkstation {
				continue
			}
			if _, seen := hints[n.Name]; !seen {
				hints[n.Name] = ip
			}
			servers = append(servers, n.Name)
		}
	}
	return servers, nil
}
