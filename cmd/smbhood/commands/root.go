// Package commands implements the smbhood command line.
package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"smbhood/internal/logging"
)

var (
	// Version is injected at build time.
	Version = "dev"

	// Global flags.
	settingsDir string
	verbose     bool
	metricsAddr string

	logger = logging.GetLogger()
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "smbhood",
	Short: "Browse the SMB network neighbourhood as a filesystem",
	Long: `smbhood discovers the workgroups, servers and shares on the local network
and mounts them as a directory tree: /WORKGROUP/SERVER/SHARE/...

Settings live in ~/.smbhood/smbhood.yaml and the discovered topology in
~/.smbhood/smbhood.cache.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetLevel(logging.LevelDebug)
		}
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	rootCmd.Version = Version
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsDir, "settings-dir", "~/.smbhood", "directory holding the settings and topology cache")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(lsCmd)
}

// resolveSettingsDir expands a leading ~ in the settings directory.
func resolveSettingsDir() (string, error) {
	dir := settingsDir
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to find home directory: %w", err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	return filepath.Abs(dir)
}
