// Copyright © 2019 One Concern

package cmd

import (
	"os"

	"github.com/spf13/cobra"
	yaml "gopkg.in/yaml.v2"
)

// configCmd represents all config related commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Commands to inspect the catsync configuration",
	Long:  `Commands to inspect the catsync configuration.`,
}

// configDumpCmd represents the config dump command
var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration, after merging the config file,
environment variables and defaults.`,
	Run: func(cmd *cobra.Command, args []string) {
		shown := *config
		if shown.Remote.Token != "" {
			shown.Remote.Token = "***"
		}
		data, err := yaml.Marshal(shown)
		if err != nil {
			wrapFatalln("marshal config", err)
		}
		if _, err := os.Stdout.Write(data); err != nil {
			wrapFatalln("write config", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}
