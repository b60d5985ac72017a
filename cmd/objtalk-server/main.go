package main

import (
	"flag"
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/objtalk/objtalk/internal/buildinfo"
	"github.com/objtalk/objtalk/internal/config"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "config file, or - to read from stdin")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("objtalk-server %s (%s, built %s)\n", buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)
		return
	}

	// A missing config file is tolerated only when the user did not name
	// one explicitly.
	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})

	if err := run(*configPath, explicit); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
