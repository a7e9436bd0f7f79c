package commands

import (
	"fmt"
	"path/filepath"

	"smbhood/internal/config"
	"smbhood/internal/netbios"
	"smbhood/internal/resolve"
	"smbhood/internal/scan"
	"smbhood/internal/smbnet"
	"smbhood/internal/state"
)

// components are the long-lived objects shared by all commands.
type components struct {
	view     *config.View
	cache    *state.Manager
	pool     *smbnet.Pool
	scanner  *scan.Scanner
	resolver *resolve.Resolver
}

// setup prepares the settings directory and wires the components. Failing
// to create the directory or read the settings is fatal.
func setup() (*components, error) {
	dir, err := resolveSettingsDir()
	if err != nil {
		return nil, err
	}
	logger.Debug("Settings directory: %s", dir)

	cache, err := state.NewManager(filepath.Join(dir, state.CacheFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize topology cache: %w", err)
	}

	cfgPath := filepath.Join(dir, config.FileName)
	if err := config.EnsureFile(cfgPath); err != nil {
		return nil, err
	}
	view, err := config.NewView(cfgPath)
	if err != nil {
		return nil, err
	}
	cfg := view.Current()

	nb := netbios.NewClient(cfg.BroadcastAddr(), 0)
	nb.BroadcastSource = func() string { return view.Current().BroadcastAddr() }
	pool := smbnet.NewPool(&smbnet.Dialer{}, view, smbnet.WithResolver(nb))
	pool.SetTimeout(cfg.Timeout())

	return &components{
		view:     view,
		cache:    cache,
		pool:     pool,
		scanner:  scan.New(netbios.NewBrowser(nb), nb, pool, cache, view),
		resolver: resolve.New(cache, resolve.HiddenShareFunc(func(wg, srv string) bool {
			return view.Current().ShowHiddenShares(wg, srv)
		})),
	}, nil
}
