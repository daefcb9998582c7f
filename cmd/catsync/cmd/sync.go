// Copyright © 2019 One Concern

package cmd

import (
	"github.com/spf13/cobra"
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Bring the local record cache up to date with the remote",
	Long: `Bring the local record cache up to date with the remote repository.

The cache is populated from a snapshot archive when empty, caught up
incrementally when the remote moved by a few commits, and rebuilt from
scratch when it drifted too far or belongs to another remote.
`,
	Run: func(cmd *cobra.Command, args []string) {
		l := mustLogger()
		s := makeStore(l)
		defer func() {
			_ = s.Close()
		}()

		ctx, cancel := cmdContext()
		defer cancel()

		if flags.sync.rebuild {
			if err := s.Purge(ctx); err != nil {
				wrapFatalln("purge cache", err)
			}
		}
		if err := s.Sync(ctx); err != nil {
			wrapFatalln("sync", err)
		}
		infoLogger.Printf("cache in sync: %s", s)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&flags.sync.rebuild, "rebuild", false,
		"discard the cache and rebuild it from a full snapshot")
}
