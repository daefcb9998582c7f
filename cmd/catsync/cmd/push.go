// Copyright © 2019 One Concern

package cmd

import (
	"os"

	"github.com/oneconcern/catsync/pkg/model"
	"github.com/spf13/cobra"
	yaml "gopkg.in/yaml.v2"
)

// pushCmd represents the push command
var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push a changeset of records to the remote as one commit",
	Long: `Push a changeset of records to the remote repository as one commit.

The changeset file is a yaml document listing the records to write,
a commit title and message, and the author:

  title: update gauging stations
  message: refresh upstream measurements
  author:
    name: jane
    email: jane@example.com
  records:
    - id: station-001
      body: |
        name: Firehole river
        lat: 44.55
        lon: -110.83

The cache is synchronized before the push, so the commit always applies
on top of the current remote head. A push never succeeds against an
unreachable remote.
`,
	Run: func(cmd *cobra.Command, args []string) {
		l := mustLogger()

		data, err := os.ReadFile(flags.push.file)
		if err != nil {
			wrapFatalln("read changeset", err)
		}
		change, err := parseChangeset(data)
		if err != nil {
			wrapFatalln("parse changeset", err)
		}

		s := makeStore(l)
		defer func() {
			_ = s.Close()
		}()

		ctx, cancel := cmdContext()
		defer cancel()

		res, err := s.Push(ctx, change)
		if err != nil {
			wrapFatalln("push", err)
		}
		infoLogger.Printf("pushed commit %s", res.CommitID)
		if res.URL != "" {
			infoLogger.Println(res.URL)
		}
	},
}

// changesetDoc is the yaml document accepted by --file. Record bodies
// are plain yaml strings here, converted to the raw bytes the store
// expects.
type changesetDoc struct {
	Title   string            `yaml:"title"`
	Message string            `yaml:"message"`
	Author  model.Contributor `yaml:"author"`
	Records []struct {
		ID   string `yaml:"id"`
		Path string `yaml:"path"`
		Body string `yaml:"body"`
	} `yaml:"records"`
}

func parseChangeset(data []byte) (model.Changeset, error) {
	var doc changesetDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return model.Changeset{}, err
	}
	change := model.Changeset{
		Title:   doc.Title,
		Message: doc.Message,
		Author:  doc.Author,
	}
	for _, rec := range doc.Records {
		change.Records = append(change.Records, model.Record{
			ID:   rec.ID,
			Path: rec.Path,
			Body: []byte(rec.Body),
		})
	}
	return change, nil
}

func init() {
	rootCmd.AddCommand(pushCmd)
	pushCmd.Flags().StringVar(&flags.push.file, "file", "",
		"yaml file describing the changeset to push")
	if err := pushCmd.MarkFlagRequired("file"); err != nil {
		wrapFatalln("mark required flag", err)
	}
}
