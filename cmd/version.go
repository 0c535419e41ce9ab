package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information variables that are set via ldflags during build.
var (
	// Version is the application version (e.g., v1.0.0).
	Version string
	// Commit is the git commit hash (e.g., abc123def456).
	Commit string
	// BuildTime is the build timestamp (e.g., 2025-01-01T12:00:00Z).
	BuildTime string
)

// resolveVersion returns the build version or "dev" when unset.
func resolveVersion() string {
	if Version == "" {
		return "dev"
	}
	return Version
}

// newVersionCmd creates and returns the version command.
func newVersionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Show version, commit, and build time for the receiptflow binary.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if short {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), resolveVersion())
				return err
			}

			commit := Commit
			if commit == "" {
				commit = "unknown"
			}
			buildTime := BuildTime
			if buildTime == "" {
				buildTime = "unknown"
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "receiptflow %s (commit %s, built %s)\n",
				resolveVersion(), commit, buildTime)
			return err
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Show only version number")
	return cmd
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
