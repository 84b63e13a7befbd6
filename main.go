package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Polqt/crdtcollab/metrics"
	"github.com/Polqt/crdtcollab/server"
	"github.com/Polqt/crdtcollab/store"
)

func main() {
	configDir := flag.String("config-dir", ".", "directory to search for crdtcollab.yaml")
	sqlitePath := flag.String("sqlite", "", "path to a SQLite database file; empty uses an in-memory store")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := server.LoadConfig(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var opStore store.OperationStore
	if *sqlitePath != "" {
		s, err := store.OpenSQLiteStore(*sqlitePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *sqlitePath).Msg("failed to open sqlite store")
		}
		defer s.Close()
		opStore = s
		log.Info().Str("path", *sqlitePath).Msg("using sqlite operation store")
	} else {
		opStore = store.NewMemoryStore()
		log.Info().Msg("using in-memory operation store")
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: ":9090", Handler: metricsMux}
	go func() {
		log.Info().Str("addr", metricsSrv.Addr).Msg("metrics server listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	collabServer := server.New(cfg, opStore, collector, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err = collabServer.Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info().Msg("shut down cleanly")
}
