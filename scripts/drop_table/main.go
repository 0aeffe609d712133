package main

import (
	"flag"
	"log/slog"
	"os"
	"regexp"

	"github.com/mahaj/dupahar-composer/pkg/config"
	"github.com/mahaj/dupahar-composer/pkg/db"
	"github.com/mahaj/dupahar-composer/pkg/logging"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func main() {
	table := flag.String("table", "messages", "table to drop")
	flag.Parse()
	if !tableName.MatchString(*table) {
		slog.Error("invalid table name", "table", *table)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogFormat, cfg.LogLevel)

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
	if err != nil {
		logger.Error("Failed to connect to ScyllaDB", "error", err)
		os.Exit(1)
	}
	defer session.Close()

	logger.Info("Dropping table", "keyspace", cfg.ScyllaKeyspace, "table", *table)
	if err := session.Query("DROP TABLE IF EXISTS " + *table).Exec(); err != nil {
		logger.Error("Failed to drop table", "error", err)
		session.Close()
		os.Exit(1)
	}
	logger.Info("Table dropped successfully.")
}
