// Copyright © 2019 One Concern

// Package cmd implements the catsync command line: cache
// synchronization, record queries, changeset pushes and parallel
// exports over the record store facade.
package cmd

import (
	"fmt"
	"log"
	"os"
	"runtime/pprof"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "catsync",
	Short: "catsync mirrors a record catalogue from a versioned repository",
	Long: `catsync maintains a local, queryable cache of catalogue records mirroring a
remote commit-versioned repository.

It keeps the cache consistent as the remote advances, choosing between an
incremental catch-up and a full rebuild, and serves the cache to parallel
read-only workers while supporting serialized pushes back to the remote.
`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flags.root.cpuProf {
			f, err := os.Create("cpu.prof")
			if err != nil {
				log.Fatal(err)
			}
			_ = pprof.StartCPUProfile(f)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if flags.root.cpuProf {
			pprof.StopCPUProfile()
		}
	},
}

var config *CLIConfig

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		osExit(1)
	}
}

func init() {
	log.SetFlags(0)
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&flags.root.logLevel, "loglevel", "info",
		"log level: debug, info, warn, error or none")
	rootCmd.PersistentFlags().BoolVar(&flags.root.cpuProf, "cpuprof", false,
		"write a cpu profile to ./cpu.prof")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetDefault("branch", "main")
	viper.SetDefault("cache_dir", ".catsync/cache")
	viper.SetDefault("backend", "fs")
	if os.Getenv("CATSYNC_CONFIG") != "" {
		// Use config file from the flag.
		viper.SetConfigFile(os.Getenv("CATSYNC_CONFIG"))
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.catsync")
		viper.AddConfigPath("/etc/catsync")
		viper.SetConfigName("catsync")
	}

	viper.SetEnvPrefix("catsync")
	viper.AutomaticEnv() // read in environment variables that match
	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		infoLogger.Println("Using config file:", viper.ConfigFileUsed())
	}
	var err error
	config, err = newConfig()
	if err != nil {
		logFatalln(err)
	}
}
