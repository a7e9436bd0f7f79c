package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"smbhood/internal/resolve"
	"smbhood/internal/topology"
)

var lsCmd = &cobra.Command{
	Use:   "ls [PATH]",
	Short: "List a workgroup, server or share path from the topology cache",
	Long: `List the entries below PATH as the mounted filesystem would show them,
without touching the network. PATH defaults to /.

Examples:
  smbhood ls
  smbhood ls /WORKGROUP/SERVER`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

func runLs(cmd *cobra.Command, args []string) error {
	target := "/"
	if len(args) == 1 {
		target = args[0]
	}

	c, err := setup()
	if err != nil {
		return err
	}
	defer c.pool.Close()

	return list(cmd.OutOrStdout(), c.resolver, topology.ParsePath(target))
}

func list(w io.Writer, r *resolve.Resolver, p topology.Path) error {
	if p.Tier() == topology.TierShare {
		if _, err := r.Exists(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		fmt.Fprintf(w, "%s is a share; its contents live on %s\n", p, p.Remote())
		return nil
	}
	if p.Tier() > topology.TierShare {
		return fmt.Errorf("%s: only workgroup, server and share paths are cached", p)
	}

	names, err := r.List(p)
	if err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		fmt.Fprintln(w, name)
	}
	return nil
}
