// Copyright © 2019 One Concern

package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// recordGetCmd represents the record get command
var recordGetCmd = &cobra.Command{
	Use:   "get <record-id>",
	Short: "Print the body of one record",
	Long:  `Print the raw body of one record, exactly as stored in the remote tree.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		l := mustLogger()
		s := makeStore(l)
		defer func() {
			_ = s.Close()
		}()

		ctx, cancel := cmdContext()
		defer cancel()

		rev, err := s.SelectOne(ctx, args[0])
		if err != nil {
			wrapFatalln("get record", err)
		}
		if _, err := os.Stdout.Write(rev.Record.Body); err != nil {
			wrapFatalln("write body", err)
		}
	},
}

func init() {
	recordCmd.AddCommand(recordGetCmd)
}
