/*
This command provides an executable version of the traffic router.

For the list of command line options, run:

	trafficrouter -help

For details about the routing, please see the documentation of the root
trafficrouter package.
*/
package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/trafficrouter"
	"github.com/zalando/trafficrouter/config"
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
		fmt.Printf(
			"Traffic router version %s (commit: %s)\n",
			version, commit,
		)

		return
	}

	log.SetLevel(cfg.ApplicationLogLevel)
	if err := trafficrouter.Run(cfg.ToOptions()); err != nil {
		log.Fatal(err)
	}
}
