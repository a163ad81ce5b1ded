// Command migrate creates the Scylla keyspace and tables. With -reset it
// drops every table first.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mahaj/chatwithme/pkg/config"
	"github.com/mahaj/chatwithme/pkg/db"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	reset := flag.Bool("reset", false, "drop all tables before migrating")
	replication := flag.Int("replication", 1, "keyspace replication factor")
	flag.Parse()

	if err := run(*reset, *replication); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(reset bool, replication int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)
	hosts := cfg.Scylla()

	if err := db.CreateKeyspace(hosts, cfg.ScyllaKeyspace, replication, log); err != nil {
		return err
	}

	session, err := db.NewSession(hosts, cfg.ScyllaKeyspace, log)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.ScyllaKeyspace, err)
	}
	defer session.Close()

	if reset {
		if cfg.IsProduction() {
			return fmt.Errorf("refusing to reset in %s", cfg.Environment)
		}
		if err := db.DropTables(session, log); err != nil {
			return err
		}
	}
	return db.Migrate(session, log)
}
