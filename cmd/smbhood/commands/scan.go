package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var printResult bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the network once and update the topology cache",
	Args:  cobra.NoArgs,
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().BoolVarP(&printResult, "print", "p", false, "print the published topology")
}

func runScan(cmd *cobra.Command, _ []string) error {
	c, err := setup()
	if err != nil {
		return err
	}
	defer c.pool.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snap, err := c.scanner.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if printResult {
		for _, line := range snap.Lines() {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
	}
	logger.Info("Published %d entries to %s", snap.Len(), c.cache.Path())
	return nil
}
