// Command agentd runs the AMOSKYS telemetry agent: it durably queues signed
// envelopes and drains them to the EventBus over mutual TLS.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/amoskys/amoskys/config"
	"github.com/amoskys/amoskys/pkg/agent"
	"github.com/amoskys/amoskys/pkg/logger"
	"github.com/amoskys/amoskys/pkg/metrics"
	"github.com/amoskys/amoskys/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("agentd %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentd: failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	log := logger.New(&logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	logger.SetGlobal(log)

	log.Info("starting agentd", "version", version.Version, "agent_id", cfg.Agent.ID, "bus_address", cfg.Agent.BusAddress)

	metricsManager := metrics.NewManager(metrics.Config{
		Enabled:               cfg.Metrics.Enabled,
		Port:                  cfg.Metrics.Port,
		Path:                  cfg.Metrics.Path,
		PublishLatencyBuckets: metrics.DefaultConfig().PublishLatencyBuckets,
	})
	if metricsManager.Enabled() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	ag, err := agent.New(cfg, metricsManager)
	if err != nil {
		log.Error("failed to build agent", "error", err)
		os.Exit(1)
	}
	defer ag.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	log.Info("agentd is running")
	if err := ag.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("publish loop exited with error", "error", err)
		os.Exit(1)
	}

	log.Info("agentd stopped gracefully")
}
