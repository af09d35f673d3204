package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/babblehq/babble/internal/config"
	"github.com/babblehq/babble/internal/logging"
	"github.com/babblehq/babble/internal/metrics"
	"github.com/babblehq/babble/internal/server"
	"github.com/prometheus/client_golang/prometheus"

	_ "go.uber.org/automaxprocs"
)

func main() {
	var (
		port        = flag.Int("p", 0, "port to listen on (overrides BABBLE_PORT)")
		randomDelay = flag.Bool("r", false, "enable random delay before PUBLISH/FOLLOW/TIMELINE (overrides BABBLE_RANDOM_DELAY)")
		debug       = flag.Bool("debug", false, "enable debug logging (overrides BABBLE_LOG_LEVEL)")
	)
	flag.Parse()

	bootstrap := log.New(os.Stdout, "[BABBLE] ", log.LstdFlags)

	maxProcs := runtime.GOMAXPROCS(0)
	bootstrap.Printf("GOMAXPROCS: %d (via automaxprocs)", maxProcs)

	cfg, err := config.Load(nil)
	if err != nil {
		bootstrap.Fatalf("failed to load configuration: %v", err)
	}

	if *port != 0 {
		cfg.Port = *port
	}
	if *randomDelay {
		cfg.RandomDelay = true
	}
	if *debug {
		cfg.LogLevel = string(config.LogLevelDebug)
	}

	logger := logging.New(cfg)
	cfg.Print()
	cfg.LogConfig(logger)

	// register on the default registry, which metrics.Handler serves
	collector := metrics.New(prometheus.DefaultRegisterer)

	srv := server.New(cfg, logger, collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start server")
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
	_ = metricsSrv.Close()
}
