// Copyright © 2019 One Concern

package cmd

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/oneconcern/catsync/pkg/model"
	"github.com/oneconcern/catsync/pkg/populate"
	"github.com/oneconcern/catsync/pkg/store"
	"github.com/spf13/cobra"
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every record to a directory, in parallel",
	Long: `Export every record in the catalogue to a directory.

The cache is refreshed once, then a pool of read-only workers streams
record bodies out of it. Workers never hit the network, so export
throughput is bound by local I/O only.
`,
	Run: func(cmd *cobra.Command, args []string) {
		l := mustLogger()
		cfg, err := config.storeConfig()
		if err != nil {
			wrapFatalln("config", err)
		}
		repo, err := config.makeRemote(l)
		if err != nil {
			wrapFatalln("remote", err)
		}
		if err := os.MkdirAll(flags.export.out, 0755); err != nil {
			wrapFatalln("create output directory", err)
		}

		ctx, cancel := cmdContext()
		defer cancel()

		coord := populate.New(cfg, repo,
			populate.Workers(concurrency()),
			populate.Logger(l),
		)
		var count int64
		err = coord.Each(ctx, func(_ context.Context, _ store.Store, rev model.RecordRevision) error {
			target := filepath.Join(flags.export.out, rev.Record.ID+model.CanonicalRecordExt)
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			atomic.AddInt64(&count, 1)
			return os.WriteFile(target, rev.Record.Body, 0644)
		})
		if err != nil {
			wrapFatalln("export", err)
		}
		infoLogger.Printf("exported %d records to %s", atomic.LoadInt64(&count), flags.export.out)
	},
}

func concurrency() int {
	if flags.export.concurrency > 0 {
		return flags.export.concurrency
	}
	return config.Concurrency
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&flags.export.out, "out", "",
		"directory receiving the exported record files")
	exportCmd.Flags().IntVar(&flags.export.concurrency, "concurrency", 0,
		"number of export workers (defaults to the configured concurrency)")
	if err := exportCmd.MarkFlagRequired("out"); err != nil {
		wrapFatalln("mark required flag", err)
	}
}
