// Command busd runs the AMOSKYS EventBus: the mTLS gRPC ingest service
// telemetry agents publish signed envelopes to.
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

	"github.com/amoskys/amoskys/config"
	"github.com/amoskys/amoskys/pkg/bus"
	"github.com/amoskys/amoskys/pkg/bus/store"
	"github.com/amoskys/amoskys/pkg/logger"
	"github.com/amoskys/amoskys/pkg/metrics"
	"github.com/amoskys/amoskys/pkg/trust"
	"github.com/amoskys/amoskys/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("busd %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "busd: failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	log := logger.New(&logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	logger.SetGlobal(log)

	log.Info("starting busd", "version", version.Version, "gitCommit", version.GitCommit, "app", cfg.App.Name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trustMap, err := trust.Load(cfg.Trust.Path)
	if err != nil {
		log.Error("failed to load trust map", "error", err)
		os.Exit(1)
	}
	if cfg.Trust.WatchForChanges {
		watcher, err := trust.NewWatcher(cfg.Trust.Path, trustMap)
		if err != nil {
			log.Error("failed to start trust map watcher", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
				log.Error("trust map watcher stopped", "error", err)
			}
		}()
		defer watcher.Stop()
	}

	eventStore, err := store.NewSQLiteStore(store.SQLiteConfig{Path: cfg.Bus.Store.Path})
	if err != nil {
		log.Error("failed to open event store", "error", err)
		os.Exit(1)
	}
	defer eventStore.Close()

	metricsManager := metrics.NewManager(metrics.Config{
		Enabled:               cfg.Metrics.Enabled,
		Port:                  cfg.Metrics.Port,
		Path:                  cfg.Metrics.Path,
		StoreLatencyBuckets:   metrics.DefaultConfig().StoreLatencyBuckets,
		PublishLatencyBuckets: metrics.DefaultConfig().PublishLatencyBuckets,
		LaneWaitBuckets:       metrics.DefaultConfig().LaneWaitBuckets,
		HTTPDurationBuckets:   metrics.DefaultConfig().HTTPDurationBuckets,
	})

	srv, err := bus.NewServer(cfg, bus.Deps{
		Trust:   trustMap,
		Store:   eventStore,
		Metrics: metricsManager,
	})
	if err != nil {
		log.Error("failed to build bus server", "error", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		log.Error("failed to start bus server", "error", err)
		os.Exit(1)
	}

	healthAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:    healthAddr,
		Handler: bus.NewHealthMux(srv, metricsManager),
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("starting health/metrics http server", "address", healthAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info("busd is running", "grpc_address", cfg.Server.GRPC.Port, "http_address", healthAddr)

	select {
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErrChan:
		log.Error("http server error", "error", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info("stopping bus server")
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("error stopping bus server", "error", err)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("error stopping http server", "error", err)
	}

	log.Info("busd stopped gracefully")
}
