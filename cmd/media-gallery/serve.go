package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"media-gallery/internal/distributor"
	"media-gallery/internal/handlers"
	"media-gallery/internal/logging"
	"media-gallery/internal/metrics"
	"media-gallery/internal/middleware"
	"media-gallery/internal/source"
	"media-gallery/internal/startup"
)

const (
	metricsInterval = time.Minute
	shutdownTimeout = 30 * time.Second
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server with background sync and indexing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	startTime := time.Now()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	config := a.config

	dist := distributor.New(a.db, distributor.Config{
		Grouping:   distributor.Grouping{Layout: config.DateGroupLayout, Location: config.DateGroupLocation},
		Grace:      config.ViewGracePeriod,
		Trigger:    a.coord,
		Permission: true,
	})

	metrics.InitializeMetrics()
	collector := metrics.NewCollector(a.db, metricsInterval)
	collector.Start()

	a.coord.Start()
	startup.LogIndexerStarted()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if config.WatchEnabled {
		startWatcher(watchCtx, a)
	}

	h := handlers.New(a.db, a.coord, a.sched, dist)
	router := h.Router(config.MetricsEnabled)
	router.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))

	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler := middleware.Logger(loggingConfig)(router)

	// Request contexts derive from baseCtx so open event streams end at shutdown
	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		handleShutdown(srv, []shutdownStep{
			{"Stopping file watcher", "File watcher stopped", stopWatch},
			{"Stopping indexer", "Indexer stopped", a.coord.Stop},
			{"Stopping metrics collector", "Metrics collector stopped", collector.Stop},
			{"Cancelling jobs", "Jobs cancelled", a.sched.Close},
			{"Closing event streams", "Event streams closed", cancelRequests},
		})
	}()

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	<-shutdownDone
	return nil
}

func startWatcher(ctx context.Context, a *app) {
	w, err := source.NewWatcher(a.src, source.DefaultDebounce, a.coord.RequestSync)
	if err != nil {
		logging.Warn("File watching disabled: %v", err)
		return
	}
	if err := w.Start(ctx); err != nil {
		logging.Warn("File watching disabled: %v", err)
	}
}

type shutdownStep struct {
	start string
	done  string
	run   func()
}

func handleShutdown(srv *http.Server, steps []shutdownStep) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, step := range steps {
		startup.LogShutdownStep(step.start)
		step.run()
		startup.LogShutdownStepComplete(step.done)
	}

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownComplete()
}
