package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tarekm28/ouajourad/pkg/api"
	"github.com/tarekm28/ouajourad/pkg/cache"
	"github.com/tarekm28/ouajourad/pkg/config"
	"github.com/tarekm28/ouajourad/pkg/geocode"
	"github.com/tarekm28/ouajourad/pkg/jobqueue"
	"github.com/tarekm28/ouajourad/pkg/logx"
	"github.com/tarekm28/ouajourad/pkg/metrics"
	"github.com/tarekm28/ouajourad/pkg/mqttpub"
	"github.com/tarekm28/ouajourad/pkg/pidfile"
	"github.com/tarekm28/ouajourad/pkg/store"
)

var (
	pidPath    = flag.String("pid-file", "/tmp/ouajourad.pid", "Path to PID file")
	logLevel   = flag.String("log-level", "", "Override log level (debug|info|warn|error)")
	version    = flag.Bool("version", false, "Show version information")
	foreground = flag.Bool("foreground", false, "Run in foreground (log to stderr; default behavior)")
	force      = flag.Bool("force", false, "Force start by removing a stale PID file")
)

const (
	appName    = "ouajourad"
	appVersion = "0.1.0"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	effectiveLevel := cfg.LogLevel
	if *logLevel != "" {
		effectiveLevel = *logLevel
	}
	logger := logx.NewLogger(effectiveLevel, appName)

	pf := pidfile.New(*pidPath)
	running, existingPID, err := pf.CheckRunning()
	if err != nil {
		logger.Error("pid_check_failed", "error", err)
		os.Exit(1)
	}
	if running {
		if *force {
			logger.Warn("forcing start over existing instance", "existing_pid", existingPID)
			if err := pf.ForceRemove(); err != nil {
				logger.Error("force_remove_pidfile_failed", "error", err)
				os.Exit(1)
			}
		} else {
			logger.Error("another instance is already running", "existing_pid", existingPID, "pid_file", *pidPath)
			os.Exit(1)
		}
	}

	if err := pf.Create(); err != nil {
		logger.Error("pidfile_create_failed", "error", err, "path", *pidPath)
		os.Exit(1)
	}
	defer func() {
		if err := pf.Remove(); err != nil {
			logger.Error("pidfile_remove_failed", "error", err)
		}
	}()

	logger.Info("starting ouajourad", "version", appVersion, "pid", os.Getpid(), "listen_addr", cfg.ListenAddr, "foreground", *foreground)

	st, err := store.Open(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("store_open_failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	clusterCache, err := cache.Open(cfg.CachePath, cfg.CacheTTL, logger)
	if err != nil {
		logger.Error("cache_open_failed", "error", err)
		os.Exit(1)
	}
	defer clusterCache.Close()

	geocoder, err := geocode.New(cfg.GoogleMapsKey, logger)
	if err != nil {
		logger.Error("geocoder_init_failed", "error", err)
		os.Exit(1)
	}

	mqttConfig := mqttpub.DefaultConfig()
	if cfg.BrokerURL != "" {
		mqttConfig.Broker = cfg.BrokerURL
		mqttConfig.Enabled = true
	}
	publisher := mqttpub.New(mqttConfig, logger)
	if err := publisher.Connect(); err != nil {
		logger.Error("mqtt_connect_failed", "error", err)
		os.Exit(1)
	}
	defer publisher.Disconnect()

	reg := prometheus.NewRegistry()
	metricsRegistry := metrics.New(reg)

	pool := jobqueue.New(cfg.JobConcurrency, logger, publisher)

	server, err := api.New(cfg, st, pool, clusterCache, publisher, metricsRegistry, geocoder, logger)
	if err != nil {
		logger.Error("api_init_failed", "error", err)
		os.Exit(1)
	}

	mux := server.Router()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("http_listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http_server_failed", "error", err)
			os.Exit(1)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	perfTicker := time.NewTicker(5 * time.Minute)
	defer perfTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-perfTicker.C:
				pool.ReportPerformance()
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("received shutdown signal", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_error", "error", err)
	}

	logger.Info("ouajourad stopped")
}
