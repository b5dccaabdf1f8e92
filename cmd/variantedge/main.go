/*
This command provides an executable version of variantedge.

For the list of command line options, run:

	variantedge -help

For details about the served variants, please see the documentation of
the root variantedge package.
*/
package main

import (
	"fmt"
	"runtime"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/variantedge"
	"github.com/zalando/variantedge/config"
)

var (
	version string
	commit  string
)

func main() {
	cfg := config.NewConfig()
	if err := cfg.Parse(); err != nil {
		log.Fatalf("Error processing config: %s", err)
	}

	if cfg.PrintVersion {
		fmt.Printf(`variantedge version %s (commit: %s, runtime: %s)`,
			version, commit, runtime.Version(),
		)

		return
	}

	log.SetLevel(cfg.ApplicationLogLevel)
	if err := variantedge.Run(cfg.ToOptions()); err != nil {
		log.Fatal(err)
	}
}
