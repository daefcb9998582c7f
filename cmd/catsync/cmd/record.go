// Copyright © 2019 One Concern

package cmd

import (
	"github.com/spf13/cobra"
)

// recordCmd represents all record related commands
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Commands to query catalogue records",
	Long: `Commands to query catalogue records from the local cache.

Queries refresh the cache first. When the remote is unreachable and the
cache holds a previous sync, queries are served from that stale state.
`,
}

func init() {
	rootCmd.AddCommand(recordCmd)
}
