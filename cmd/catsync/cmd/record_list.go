// Copyright © 2019 One Concern

package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/oneconcern/catsync/pkg/store"
	"github.com/spf13/cobra"
)

// recordListCmd represents the record list command
var recordListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List the records in the catalogue",
	Long:    `List the records in the catalogue, with the commit that last touched each one.`,
	Aliases: []string{"ls"},
	Run: func(cmd *cobra.Command, args []string) {
		l := mustLogger()
		s := makeStore(l)
		defer func() {
			_ = s.Close()
		}()

		ctx, cancel := cmdContext()
		defer cancel()

		var filters []store.Filter
		if flags.record.prefix != "" {
			filters = append(filters, store.ByPrefix(flags.record.prefix))
		}
		it, err := s.Select(ctx, filters...)
		if err != nil {
			wrapFatalln("select records", err)
		}
		defer func() {
			_ = it.Close()
		}()

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		for it.Next() {
			rev := it.Revision()
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				rev.Record.ID,
				shortHash(rev.Hash),
				color.HiBlackString(rev.CommitID),
			)
		}
		if err := it.Err(); err != nil {
			wrapFatalln("iterate records", err)
		}
		_ = w.Flush()
	},
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func init() {
	recordCmd.AddCommand(recordListCmd)
	recordListCmd.Flags().StringVar(&flags.record.prefix, "prefix", "",
		"only list records whose id starts with this prefix")
}
