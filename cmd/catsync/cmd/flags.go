// Copyright © 2019 One Concern

package cmd

type flagsT struct {
	root struct {
		logLevel string
		cpuProf  bool
	}
	record struct {
		prefix string
	}
	push struct {
		file string
	}
	export struct {
		out         string
		concurrency int
	}
	sync struct {
		rebuild bool
	}
	purge struct {
		force bool
	}
}

var flags flagsT
