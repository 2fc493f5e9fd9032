// Package main provides the entry point for the RiskForge server: security
// log ingestion, asset risk scoring and attack scenario correlation behind
// an HTTP query surface.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lvonguyen/riskforge/internal/api/gateway"
	"github.com/lvonguyen/riskforge/internal/config"
	"github.com/lvonguyen/riskforge/internal/engine"
	"github.com/lvonguyen/riskforge/internal/gate"
	"github.com/lvonguyen/riskforge/internal/ingest"
	"github.com/lvonguyen/riskforge/internal/intel"
	"github.com/lvonguyen/riskforge/internal/model"
	"github.com/lvonguyen/riskforge/internal/store"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

type app struct {
	engine *engine.Engine
	logger *zap.Logger
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("RiskForge %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v, using defaults\n", err)
		cfg = config.DefaultConfig()
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting RiskForge",
		zap.String("version", Version),
		zap.String("config", *configPath),
	)

	var provider intel.Provider
	if cfg.ThreatIntel.KEV.Enabled {
		provider = intel.NewKEVClient(intel.ProviderConfig{
			BaseURL:  cfg.ThreatIntel.KEV.BaseURL,
			Timeout:  cfg.ThreatIntel.KEV.Timeout,
			CacheTTL: cfg.ThreatIntel.KEV.CacheTTL,
		})
	}

	eng := engine.New(engine.Options{
		Store: store.New(logger),
		Thresholds: gate.Thresholds{
			MinAgreement:   cfg.Gate.MinAgreement,
			MinConfidence:  cfg.Gate.MinConfidence,
			MaxUncertainty: cfg.Gate.MaxUncertainty,
		},
		Drift: gate.NewMonitor(gate.MonitorConfig{
			SignificanceLevel:    cfg.Drift.SignificanceLevel,
			MinEffectSize:        cfg.Drift.MinEffectSize,
			ConsecutiveThreshold: cfg.Drift.ConsecutiveThreshold,
			MinSamples:           cfg.Drift.MinSamples,
		}, logger),
		Intel:   provider,
		Workers: cfg.Scoring.Workers,
		Logger:  logger,
	})
	a := &app{engine: eng, logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if provider != nil {
		go a.refreshIntelLoop(ctx, cfg.ThreatIntel.KEV.RefreshInterval)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: os.Getenv(cfg.Redis.PasswordEnv),
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		limiter := gateway.NewRateLimiter(rdb, gateway.RateLimitConfig{IncludeHeaders: true}, logger)
		r.Use(limiter.Middleware(
			func(*http.Request) string { return "standard" },
			func(*http.Request) string { return "" },
		))
	}

	a.mountRoutes(r)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("Server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	sig := <-sigChan
	logger.Info("Shutting down", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown error", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func (a *app) mountRoutes(r chi.Router) {
	r.Get("/health", a.handleHealth)
	r.Get("/ready", a.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/assets", a.handleListAssets)
		r.Post("/assets", a.handleAddAsset)
		r.Get("/vulnerabilities", a.handleListVulnerabilities)
		r.Post("/vulnerabilities/{id}/status", a.handleSetStatus)
		r.Get("/scenarios", a.handleListScenarios)
		r.Get("/summary", a.handleSummary)
		r.Post("/analyze", a.handleAnalyze)
	})
}

// refreshIntelLoop refetches the threat intel feed on a fixed interval.
func (a *app) refreshIntelLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if err := a.engine.RefreshIntel(ctx, time.Time{}); err != nil {
		a.logger.Warn("Initial intel refresh failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.engine.RefreshIntel(ctx, time.Time{}); err != nil {
				a.logger.Warn("Intel refresh failed", zap.Error(err))
			}
		}
	}
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": Version})
}

func (a *app) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *app) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets := a.engine.Assets()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assets": assets,
		"count":  len(assets),
	})
}

func (a *app) handleAddAsset(w http.ResponseWriter, r *http.Request) {
	var asset model.Asset
	if err := json.NewDecoder(r.Body).Decode(&asset); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.engine.Store().UpsertAsset(&asset); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": asset.ID, "status": "declared"})
}

func (a *app) handleListVulnerabilities(w http.ResponseWriter, r *http.Request) {
	vulns := a.engine.Vulnerabilities()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"vulnerabilities": vulns,
		"count":           len(vulns),
	})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (a *app) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := a.engine.Store().SetRemediationStatus(id, model.RemediationStatus(req.Status))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": req.Status})
	case errors.Is(err, store.ErrVulnerabilityNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (a *app) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios := []model.RiskScenario{}
	if eval := a.engine.LastEvaluation(); eval != nil {
		scenarios = eval.Scenarios
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scenarios": scenarios,
		"count":     len(scenarios),
	})
}

func (a *app) handleSummary(w http.ResponseWriter, r *http.Request) {
	eval := a.engine.LastEvaluation()
	if eval == nil {
		writeError(w, http.StatusNotFound, "no evaluation has run yet")
		return
	}
	writeJSON(w, http.StatusOK, eval.Summary)
}

// handleAnalyze ingests an optional batch of raw log records and runs a full
// evaluation pass, returning the updated summary.
func (a *app) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	// An empty body means "re-evaluate what we have".
	var batch ingest.Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var rejected []ingest.RejectedRecord
	if batch.Source != "" && len(batch.Records) > 0 {
		report, err := a.engine.IngestBatch(r.Context(), batch)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rejected = report.Rejected
	}

	eval, err := a.engine.Evaluate(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary":   eval.Summary,
		"scenarios": len(eval.Scenarios),
		"rejected":  rejected,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
