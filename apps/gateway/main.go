package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/mahaj/dupahar-composer/pkg/auth"
	"github.com/mahaj/dupahar-composer/pkg/channelstore"
	"github.com/mahaj/dupahar-composer/pkg/config"
	"github.com/mahaj/dupahar-composer/pkg/db"
	"github.com/mahaj/dupahar-composer/pkg/logging"
	"github.com/mahaj/dupahar-composer/pkg/metrics"
	"github.com/mahaj/dupahar-composer/pkg/snowflake"
	"github.com/redis/go-redis/v9"
)

// openLog opens the append log selected by LOG_BACKEND. The returned func
// releases it.
func openLog(cfg *config.Config, node *snowflake.Node) (channelstore.Store, func() error, error) {
	switch cfg.LogBackend {
	case "kafka":
		k := channelstore.NewKafkaLog(cfg.KafkaBrokers, cfg.KafkaTopic, node)
		return k, k.Close, nil
	case "scylla":
		if err := db.EnsureSchema(cfg.ScyllaHosts, cfg.ScyllaKeyspace); err != nil {
			return nil, nil, err
		}
		session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
		if err != nil {
			return nil, nil, err
		}
		return channelstore.NewScyllaLog(session, node), func() error { session.Close(); return nil }, nil
	case "pebble":
		p, err := channelstore.OpenPebbleLog(cfg.PebbleDir, node)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	case "memory":
		return channelstore.NewMemory(node), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown log backend %q", cfg.LogBackend)
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogFormat, cfg.LogLevel).With("service", "gateway")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return err
	}
	store, closeLog, err := openLog(cfg, node)
	if err != nil {
		return fmt.Errorf("open %s log: %w", cfg.LogBackend, err)
	}
	defer closeLog()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, typing updates will fail until it is back", "addr", cfg.RedisAddr, "error", err)
	}

	// Kafka consumers deliver records to every gateway; other backends
	// have no shared feed, so each gateway broadcasts what it accepted.
	fromKafka := cfg.LogBackend == "kafka"
	hub := NewHub(HubConfig{
		Store:       store,
		Backend:     cfg.LogBackend,
		Presence:    channelstore.NewRedisPresence(rdb, cfg.TypingTTL),
		Redis:       rdb,
		LocalFanout: !fromKafka,
		Logger:      logger,
	})
	go hub.Run(ctx)
	go hub.RelayTyping(ctx)
	if fromKafka {
		go hub.Consume(ctx, cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	issuer := auth.NewIssuer(cfg.JWTSecret, auth.DefaultTTL)
	r := mux.NewRouter()
	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, issuer, w, r)
	})
	r.Handle("/metrics", metrics.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		logger.Info("Gateway Service Starting", "addr", cfg.GatewayAddr, "log_backend", cfg.LogBackend, "node_id", cfg.NodeID)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}
