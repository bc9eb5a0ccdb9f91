// mockforge-core is the demo binary wiring every collaborator package into
// a running HTTP mock server: env-driven config, OTel tracing, the chaos
// and resilience engines, the fixture store, and the protocol-agnostic
// pipeline behind the chi-based HTTP adapter.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mockforge/mockforge-core/adapter/httpadapter"
	"github.com/mockforge/mockforge-core/chaos"
	"github.com/mockforge/mockforge-core/config"
	"github.com/mockforge/mockforge-core/internal/spec"
	"github.com/mockforge/mockforge-core/middleware"
	"github.com/mockforge/mockforge-core/pipeline"
	"github.com/mockforge/mockforge-core/protocol"
	"github.com/mockforge/mockforge-core/recorder"
	"github.com/mockforge/mockforge-core/registry"
	"github.com/mockforge/mockforge-core/resilience"
	"github.com/mockforge/mockforge-core/telemetry"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("mockforge-core starting")

	cfg := config.Load()

	ctx := context.Background()
	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer shutdownTelemetry(ctx)

	p, metricsRegistry, scenarioRecorder := buildPipeline(cfg)

	go p.Scenarios.RunCleanup(ctx, 30*time.Second)

	handler := httpadapter.NewRouter(p, httpadapter.Options{})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.Port+1), metricsMux); err != nil {
			log.Warn().Err(err).Msg("metrics listener stopped")
		}
	}()

	if cfg.Record.Enabled {
		go runFixturePruner(cfg.Record.FixturesDir)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", cfg.Port).Msg("mockforge-core ready")
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}

	exportScenarioRecording(cfg, scenarioRecorder)
}

// exportScenarioRecording saves the chaos event capture to the configured
// path on shutdown (JSON or YAML, dispatched on extension). A no-op when
// MOCKFORGE_SCENARIO_EXPORT_PATH is unset.
func exportScenarioRecording(cfg *config.Config, rec *chaos.ScenarioRecorder) {
	path := cfg.ScenarioExportPath
	if path == "" {
		return
	}
	captured := rec.Capture(chaos.ScenarioSpec{
		Name:   "session",
		Config: chaosBaseConfig(cfg.Chaos),
	})
	if err := captured.SaveToFile(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to export scenario recording")
	}
}

// buildPipeline assembles every collaborator the pipeline needs from cfg.
func buildPipeline(cfg *config.Config) (*pipeline.Pipeline, *prometheus.Registry, *chaos.ScenarioRecorder) {
	reg := registry.New()
	seedDemoRoutes(reg)

	fixturesDir := cfg.Replay.FixturesDir
	if cfg.Record.Enabled {
		fixturesDir = cfg.Record.FixturesDir
	}
	store := recorder.New(fixturesDir)
	store.GetOnly = cfg.Record.GetOnly
	store.IncludeChaosResponses = cfg.Record.IncludeChaosResponses
	recordReplay := middleware.NewRecordReplayMiddleware(store, cfg.Replay.Enabled, cfg.Record.Enabled)

	scenarioRecorder := chaos.NewScenarioRecorder(10_000)
	scenarios := chaos.NewScenarioEngine(chaosBaseConfig(cfg.Chaos), scenarioRecorder)

	var rateLimiter *chaos.RateLimiter
	if cfg.Chaos.RateLimit.Enabled {
		rateLimiter = chaos.NewRateLimiter(cfg.Chaos.RateLimit)
	}

	latencyEngine := chaos.NewLatencyEngine(cfg.Chaos.Latency)
	faultInjector := chaos.NewFaultInjector(cfg.Chaos.FaultInjection)
	trafficShaper := chaos.NewTrafficShaper(cfg.Chaos.TrafficShaping)

	if cfg.TestMode.Enabled {
		latencyEngine.SetSeed(cfg.TestMode.Seed)
		faultInjector.SetSeed(cfg.TestMode.Seed)
		trafficShaper.SetSeed(cfg.TestMode.Seed)
	}

	breakers := resilience.NewManager(cfg.Resilience.CircuitBreaker)
	bulkheads := resilience.NewBulkheadManager(cfg.Resilience.Bulkhead)
	fallback := resilience.NewJSONFallbackHandler(
		map[string]string{"error": "circuit_open"},
		protocol.NewHTTPStatus(503),
	)

	metricsRegistry := prometheus.NewRegistry()
	logging := middleware.NewLoggingMiddleware(log.Logger)
	metrics := middleware.NewMetricsMiddleware(metricsRegistry)

	specs := spec.New()
	seedDemoOperations(specs)
	states := pipeline.NewMemoryStateStore()

	p := pipeline.New(
		reg,
		scenarios,
		rateLimiter,
		latencyEngine,
		faultInjector,
		trafficShaper,
		recordReplay,
		breakers,
		bulkheads,
		fallback,
		cfg.Resilience.Retry,
		logging,
		metrics,
		specs,
		states,
	)
	return p, metricsRegistry, scenarioRecorder
}

func chaosBaseConfig(cfg config.ChaosConfig) chaos.Config {
	return chaos.Config{
		Enabled:        cfg.Enabled,
		Latency:        &cfg.Latency,
		FaultInjection: &cfg.FaultInjection,
		RateLimit:      &cfg.RateLimit,
		TrafficShaping: &cfg.TrafficShaping,
	}
}

// seedDemoRoutes registers one illustrative stub so a fresh checkout
// answers a request out of the box without a config file. Production
// wiring loads routes/stubs from the spec parsers this module doesn't own.
func seedDemoRoutes(reg *registry.Registry) {
	reg.AddStub(&registry.Stub{
		Route: registry.Route{
			Method:      "GET",
			PathPattern: "/healthz/demo",
			Priority:    0,
		},
		ResponseTemplate: []byte(`{"status":"ok"}`),
		Enabled:          true,
	})
}

func seedDemoOperations(specs *spec.Registry) {
	specs.Add(spec.Operation{
		Protocol: protocol.HTTP,
		Method:   "POST",
		Path:     "/echo",
		Echo:     true,
		Status:   200,
	})
}

// runFixturePruner periodically removes fixtures older than the retention
// window. Fixtures are disposable test artifacts, so stale ones are
// removed outright rather than archived.
func runFixturePruner(fixturesDir string) {
	store := recorder.New(fixturesDir)
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		removed, err := store.CleanOldFixtures(7)
		if err != nil {
			log.Warn().Err(err).Msg("fixture pruner: sweep failed")
			continue
		}
		if removed > 0 {
			log.Info().Int("removed", removed).Msg("fixture pruner: pruned stale fixtures")
		}
	}
}
