// Package cmd provides the filedex CLI.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "filedex",
	Short: "filedex mines filesystem metadata into a queryable store",
	Long: `filedex crawls and watches directory trees, extracting metadata (and,
where an extractor supports it, full-text content) into a local store that
can be queried without re-scanning the filesystem.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
