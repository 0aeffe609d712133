package main

import (
	"log/slog"
	"os"

	"github.com/mahaj/dupahar-composer/pkg/config"
	"github.com/mahaj/dupahar-composer/pkg/db"
	"github.com/mahaj/dupahar-composer/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogFormat, cfg.LogLevel)

	if err := db.EnsureSchema(cfg.ScyllaHosts, cfg.ScyllaKeyspace); err != nil {
		logger.Error("Failed to create schema", "error", err)
		os.Exit(1)
	}
	logger.Info("Schema ready", "keyspace", cfg.ScyllaKeyspace, "table", "messages")
}
