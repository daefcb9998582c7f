// Copyright © 2019 One Concern

package cmd

import (
	"github.com/spf13/cobra"
)

// purgeCmd represents the purge command
var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Discard the local record cache",
	Long: `Discard the local record cache.

The next sync repopulates it from a full remote snapshot. Requires
--force: this throws away local sync state, although never remote data.
`,
	Run: func(cmd *cobra.Command, args []string) {
		if !flags.purge.force {
			wrapFatalln("purge discards the local cache, pass --force to confirm", nil)
		}
		l := mustLogger()
		s := makeStore(l)
		defer func() {
			_ = s.Close()
		}()

		ctx, cancel := cmdContext()
		defer cancel()

		if err := s.Purge(ctx); err != nil {
			wrapFatalln("purge", err)
		}
		infoLogger.Println("cache purged")
	},
}

func init() {
	rootCmd.AddCommand(purgeCmd)
	purgeCmd.Flags().BoolVar(&flags.purge.force, "force", false,
		"confirm discarding the local cache")
}
