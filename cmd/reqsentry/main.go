package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sgerhart/reqsentry/internal/alert"
	"github.com/sgerhart/reqsentry/internal/analyzer"
	"github.com/sgerhart/reqsentry/internal/api"
	"github.com/sgerhart/reqsentry/internal/blocklist"
	"github.com/sgerhart/reqsentry/internal/config"
	"github.com/sgerhart/reqsentry/internal/correlation"
	"github.com/sgerhart/reqsentry/internal/events"
	"github.com/sgerhart/reqsentry/internal/metrics"
	"github.com/sgerhart/reqsentry/internal/model"
	"github.com/sgerhart/reqsentry/internal/rules"
	"github.com/sgerhart/reqsentry/internal/window"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting reqsentry")

	cfg := config.FromEnv()
	if path := os.Getenv("SENTRY_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			logger.Warn("Config file not applied, using environment defaults", "path", path, "error", err)
		}
	}

	logger.Info("Configuration loaded",
		"http_addr", cfg.HTTPAddr,
		"nats_url", cfg.NATSURL,
		"data_dir", cfg.DataDir,
		"auto_block", cfg.AutoBlock,
		"rule_file", cfg.RuleFile,
		"rate_ceiling_per_min", cfg.RateCeilingPerMin)

	// Optional event bus; the pipeline runs without it.
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		var err error
		nc, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			logger.Warn("Failed to connect to NATS, event publishing disabled", "error", err)
			nc = nil
		} else {
			defer nc.Close()
			logger.Info("Connected to NATS")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promMetrics := metrics.NewMetrics(registry)
	aggregator := metrics.NewAggregator()

	eventStore := events.NewStore(cfg.EventLogDir, cfg.MaxEventsPerCat, cfg.EventRetention, nc, logger)
	defer eventStore.Close()

	blockManager := blocklist.NewManager(cfg.BlocklistPath, eventStore, logger)
	if err := blockManager.Load(); err != nil {
		logger.Warn("Failed to load persisted block list, starting empty", "error", err)
	}
	promMetrics.BlocklistSize.Set(float64(len(blockManager.Identities())))

	ruleLoader := rules.NewLoader(cfg.RuleFile, cfg.HotReload, cfg.DebounceMs, logger)
	if _, err := ruleLoader.LoadSnapshot(); err != nil {
		logger.Warn("Rule file not loaded, using built-in table", "error", err)
	}
	if err := ruleLoader.WatchForChanges(); err != nil {
		logger.Warn("Rule hot reload unavailable", "error", err)
	}
	defer ruleLoader.Close()

	tracker := window.NewTracker(cfg.WindowRetention)
	tracker.StartPruning(cfg.PruneInterval)
	defer tracker.StopPruning()

	engine := analyzer.NewEngine(tracker, ruleLoader, analyzer.DefaultThresholds(), logger)

	incidentManager := alert.NewIncidentManager(cfg.IncidentDir, blockManager, logger)
	incidentManager.OnCreate(func(_ *model.Incident) {
		promMetrics.IncidentsTotal.Inc()
	})
	alertStore := alert.NewStore(cfg.MaxAlerts)
	alertManager := alert.NewManager(alertStore, incidentManager, eventStore, blockManager, cfg.AutoBlock, nc, logger)

	correlator := correlation.NewEngine(eventStore, incidentManager, cfg.CorrelationWindow, cfg.MaxCorrEvents, logger)

	pipeline := api.NewPipeline(blockManager, engine, alertManager, correlator, eventStore, tracker, promMetrics, aggregator, cfg.RateCeilingPerMin, logger)

	// Background maintenance: incident escalation, event retention, daily
	// log cleanup, and gauge refresh. All off the request path.
	stop := make(chan struct{})
	defer close(stop)

	incidentManager.StartEscalationLoop(cfg.EscalationInterval, stop)

	go func() {
		trim := time.NewTicker(cfg.PruneInterval)
		cleanup := time.NewTicker(24 * time.Hour)
		gauges := time.NewTicker(30 * time.Second)
		persist := time.NewTicker(cfg.PersistInterval)
		defer trim.Stop()
		defer cleanup.Stop()
		defer gauges.Stop()
		defer persist.Stop()
		for {
			select {
			case <-trim.C:
				eventStore.TrimExpired(time.Now())
			case <-cleanup.C:
				eventStore.CleanupOldLogs(cfg.LogRetention)
			case <-persist.C:
				blockManager.Flush()
			case <-gauges.C:
				promMetrics.BlocklistSize.Set(float64(len(blockManager.Identities())))
				promMetrics.OpenIncidents.Set(float64(len(incidentManager.List(model.IncidentStatusOpen, ""))))
			case <-stop:
				return
			}
		}
	}()

	router := mux.NewRouter()
	httpAPI := api.NewHTTPAPI(alertManager, blockManager, eventStore, correlator, tracker, aggregator, ruleLoader, registry)
	httpAPI.SetupRoutes(router)

	// Everything outside the admin surface passes through the pipeline.
	router.PathPrefix("/").Handler(pipeline.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true}`))
	})))

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("reqsentry started")
	<-sigChan

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("reqsentry stopped")
}
