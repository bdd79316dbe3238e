// Command fusiond runs the AMOSKYS fusion engine: it tails the bus's event
// store, maintains a bounded per-device correlation window, evaluates
// detection rules on a schedule, and persists incidents and risk snapshots.
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
	busstore "github.com/amoskys/amoskys/pkg/bus/store"
	"github.com/amoskys/amoskys/pkg/fusion"
	"github.com/amoskys/amoskys/pkg/fusion/engine"
	fusionstore "github.com/amoskys/amoskys/pkg/fusion/store"
	"github.com/amoskys/amoskys/pkg/logger"
	"github.com/amoskys/amoskys/pkg/metrics"
	"github.com/amoskys/amoskys/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
)

const tailPollInterval = 500 * time.Millisecond

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("fusiond %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fusiond: failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	log := logger.New(&logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	logger.SetGlobal(log)

	log.Info("starting fusiond", "version", version.Version, "db_path", cfg.Fusion.Store.Path)

	eventStore, err := busstore.NewSQLiteStore(busstore.SQLiteConfig{Path: cfg.Bus.Store.Path})
	if err != nil {
		log.Error("failed to open event store for tailing", "error", err)
		os.Exit(1)
	}
	defer eventStore.Close()

	incidentStore, err := fusionstore.New(fusionstore.Config{Path: cfg.Fusion.Store.Path})
	if err != nil {
		log.Error("failed to open incident/risk store", "error", err)
		os.Exit(1)
	}
	defer incidentStore.Close()

	metricsManager := metrics.NewManager(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Port:    cfg.Metrics.Port,
		Path:    cfg.Metrics.Path,
	})

	driver := engine.New(engine.Config{
		WindowCap:          cfg.Fusion.WindowSize,
		WindowTTL:          cfg.Fusion.WindowTTL,
		EvaluationSchedule: cfg.Fusion.EvaluationSchedule,
		Workers:            cfg.Fusion.Workers,
		EnabledRules:       cfg.Fusion.EnabledRules,
		Store:              incidentStore,
		Metrics:            metricsManager,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driverErrChan := make(chan error, 1)
	go func() {
		if err := driver.Run(ctx); err != nil {
			driverErrChan <- err
		}
	}()

	go tailEventStore(ctx, eventStore, driver)

	healthAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{Addr: healthAddr, Handler: healthMux(metricsManager)}
	httpErrChan := make(chan error, 1)
	go func() {
		log.Info("starting health/metrics http server", "address", healthAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info("fusiond is running")

	select {
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-driverErrChan:
		log.Error("fusion driver exited with error", "error", err)
	case err := <-httpErrChan:
		log.Error("http server error", "error", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("error stopping http server", "error", err)
	}

	log.Info("fusiond stopped gracefully")
}

// tailEventStore polls the bus's event store for newly appended envelopes
// and feeds each one, normalized, into the driver's mailbox.
func tailEventStore(ctx context.Context, store *busstore.SQLiteStore, driver *engine.Driver) {
	var cursor int64
	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			envelopes, next, err := store.Since(ctx, cursor, 500)
			if err != nil {
				logger.Error("fusiond: failed to tail event store", "error", err)
				continue
			}
			cursor = next
			now := time.Now().UTC()
			for _, env := range envelopes {
				view, err := fusion.FromEnvelope(env, now)
				if err != nil {
					logger.Error("fusiond: failed to project envelope", "event_id", env.EventID, "error", err)
					continue
				}
				if !driver.Ingest(view) {
					logger.Error("fusiond: mailbox full, dropping event", "event_id", env.EventID)
				}
			}
		}
	}
}

func healthMux(m *metrics.Manager) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"alive"}`))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ready"}`))
	})
	if m != nil && m.Enabled() {
		mux.Handle("/metrics", m.Handler())
	}
	return mux
}
