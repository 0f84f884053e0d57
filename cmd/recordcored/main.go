// Command recordcored serves the record locking and sharing core over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"recordcore/internal/adapters/httpapi"
	"recordcore/internal/core"
	"recordcore/internal/logging"
	"recordcore/internal/notify"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listen   string
		logLevel string
		console  bool
	)
	pflag.StringVar(&listen, "listen", ":8080", "address to serve HTTP on")
	pflag.StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	pflag.BoolVar(&console, "log-console", false, "human-readable log output")
	pflag.Parse()

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	var logger *logging.Logger
	if console {
		logger = logging.NewConsole().WithLevel(level)
	} else {
		logger = logging.New(os.Stderr).WithLevel(level)
	}

	engine := core.NewDefaultRulesEngine()
	store, err := core.OpenPersistentStore(engine)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore(store, logger)

	metrics, err := core.NewPrometheusMetricsRecorder(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	sink := notify.NewAsyncSink(notify.NoopSink{})
	sink.Start()

	service := core.NewService(store,
		core.WithLogger(logger),
		core.WithMetricsRecorder(metrics),
		core.WithNotifier(sink),
	)

	router := http.NewServeMux()
	router.Handle("/api/v1/", httpapi.NewHandler(service))
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              listen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return sink.Stop(ctx)
}

func closeStore(store core.PersistentStore, logger *logging.Logger) {
	type closer interface{ Close() error }
	if c, ok := store.(closer); ok {
		if err := c.Close(); err != nil {
			logger.Error("close store", "error", err)
		}
	}
}
