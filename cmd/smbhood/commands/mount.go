package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"smbhood/internal/fs"
	"smbhood/internal/housekeeper"
	"smbhood/internal/metrics"
	"smbhood/internal/negcache"
)

var allowOther bool

var mountCmd = &cobra.Command{
	Use:   "mount MOUNTPOINT",
	Short: "Mount the network neighbourhood",
	Long: `Mount the network neighbourhood at MOUNTPOINT and keep the topology cache
fresh in the background. Runs until interrupted or unmounted.

Examples:
  # Mount with debug logging
  smbhood mount ~/network --verbose

  # Expose Prometheus metrics
  smbhood mount ~/network --metrics-addr 127.0.0.1:9137`,
	Args: cobra.ExactArgs(1),
	RunE: runMount,
}

func init() {
	mountCmd.Flags().BoolVar(&allowOther, "allow-other", false, "allow other users to access the mount")
	mountCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

func runMount(cmd *cobra.Command, args []string) error {
	mountPoint := filepath.Clean(args[0])

	c, err := setup()
	if err != nil {
		return err
	}
	defer c.pool.Close()

	cfg := c.view.Current()
	negative := negcache.New(cfg.NegativeTTL())
	vfs := fs.New(c.resolver, c.pool, negative, fs.WithAllowOther(allowOther))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		srv := startMetrics(metricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("Mounting filesystem at %s", mountPoint)
	if err := vfs.Mount(mountPoint); err != nil {
		return err
	}

	loop := &housekeeper.Loop{
		Pool:     c.pool,
		Scanner:  c.scanner,
		Cache:    c.cache,
		Settings: c.view,
		Negative: negative,
	}
	loopDone := make(chan struct{})
	loopCtx, cancelLoop := context.WithCancel(ctx)
	go func() {
		defer close(loopDone)
		loop.Run(loopCtx)
	}()

	logger.Info("Filesystem mounted and ready")
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case <-vfs.Done():
		logger.Info("Filesystem was unmounted")
	}

	cancelLoop()
	<-loopDone

	if err := vfs.Unmount(mountPoint); err != nil {
		select {
		case <-vfs.Done():
		default:
			return fmt.Errorf("unmount failed: %w", err)
		}
	}
	logger.Info("Clean shutdown complete")
	return nil
}

func startMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Serving metrics on http://%s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error: %v", err)
		}
	}()
	return srv
}
