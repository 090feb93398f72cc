package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Satoappco/SatoApp-sub002/internal/alert"
	"github.com/Satoappco/SatoApp-sub002/internal/config"
	"github.com/Satoappco/SatoApp-sub002/internal/health"
	"github.com/Satoappco/SatoApp-sub002/internal/logs"
	"github.com/Satoappco/SatoApp-sub002/internal/oauth"
	"github.com/Satoappco/SatoApp-sub002/internal/observability"
	"github.com/Satoappco/SatoApp-sub002/internal/orchestrator"
	"github.com/Satoappco/SatoApp-sub002/internal/platform"
	"github.com/Satoappco/SatoApp-sub002/internal/storage"
	"github.com/Satoappco/SatoApp-sub002/internal/upstream"
	"github.com/Satoappco/SatoApp-sub002/internal/upstream/types"
	"github.com/Satoappco/SatoApp-sub002/internal/validate"
)

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting connector",
		zap.String("version", version),
		zap.String("listen", cfg.Listen),
		zap.String("data_dir", cfg.DataDir),
		zap.String("transport_mode", cfg.TransportMode))

	store, err := storage.NewManager(cfg.DataDir, logger.Sugar())
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	metrics := observability.NewMetricsManager(logger.Sugar())
	store.SetMetrics(metrics)
	sink := alert.NewSink(cfg.Alerting, logger)
	recorder := health.NewRecorder(store, sink, logger)
	refresher := oauth.NewRefresher(cfg.OAuth, store, recorder, logger)
	refresher.SetMetrics(metrics)
	negotiator := upstream.NewNegotiator(cfg, logger)
	validator := validate.NewValidator(logger)
	orch := orchestrator.New(cfg, refresher, negotiator, validator, recorder, metrics, logger)

	srv := &apiServer{
		cfg:     cfg,
		store:   store,
		orch:    orch,
		logger:  logger,
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/v1/initialize", srv.handleInitialize)
	mux.HandleFunc("/api/v1/connections/failing", srv.handleFailing)

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SetUptime(srv.started)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", zap.String("addr", cfg.Listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

type apiServer struct {
	cfg     *config.Config
	store   *storage.Manager
	orch    *orchestrator.Orchestrator
	logger  *zap.Logger
	started time.Time
}

func (s *apiServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"version":        version,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

// initializeRequest is the API shape for one orchestration run.
type initializeRequest struct {
	CampaignerID  string                           `json:"campaigner_id"`
	Platforms     []string                         `json:"platforms"`
	TransportMode string                           `json:"transport_mode,omitempty"`
	Credentials   map[string]initializeCredentials `json:"credentials"`
}

type initializeCredentials struct {
	ConnectionID   string `json:"connection_id,omitempty"`
	RefreshToken   string `json:"refresh_token,omitempty"`
	AccessToken    string `json:"access_token,omitempty"`
	PropertyID     string `json:"property_id,omitempty"`
	CustomerID     string `json:"customer_id,omitempty"`
	DeveloperToken string `json:"developer_token,omitempty"`
	AccountID      string `json:"account_id,omitempty"`
}

type initializeResponse struct {
	OK            bool               `json:"ok"`
	TransportMode string             `json:"transport_mode,omitempty"`
	Platforms     []string           `json:"platforms,omitempty"`
	Tools         []types.ToolHandle `json:"tools,omitempty"`
	Validation    []validate.Result  `json:"validation"`
	Summary       validate.Summary   `json:"summary"`
}

// handleInitialize runs the full pipeline for the request and reports
// the surviving platforms, their tools and every validation result.
// Sessions opened for the run are closed before responding.
func (s *apiServer) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.CampaignerID == "" || len(req.Platforms) == 0 {
		writeError(w, http.StatusBadRequest, "campaigner_id and platforms are required")
		return
	}

	modeStr := req.TransportMode
	if modeStr == "" {
		modeStr = s.cfg.TransportMode
	}
	mode, err := types.ParseTransportMode(modeStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bundle := platform.Bundle{}
	for name, c := range req.Credentials {
		p, err := platform.Parse(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		bundle[p] = &platform.Credentials{
			ConnectionID:   c.ConnectionID,
			RefreshToken:   c.RefreshToken,
			AccessToken:    c.AccessToken,
			PropertyID:     c.PropertyID,
			CustomerID:     c.CustomerID,
			DeveloperToken: c.DeveloperToken,
			AccountID:      c.AccountID,
		}
	}

	client, results, ok := s.orch.Initialize(r.Context(), req.CampaignerID, req.Platforms, bundle, mode)
	resp := initializeResponse{
		OK:         ok,
		Validation: results,
		Summary:    validate.Summarize(results),
	}
	if !ok {
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	defer client.Close(r.Context())

	tools, err := client.ListTools(r.Context())
	if err != nil {
		s.logger.Error("Failed to list tools after initialization", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to list tools: "+err.Error())
		return
	}

	resp.TransportMode = client.Mode().String()
	for _, p := range client.Platforms() {
		resp.Platforms = append(resp.Platforms, p.String())
	}
	resp.Tools = tools
	writeJSON(w, http.StatusOK, resp)
}

// handleFailing lists connections at or past the retry threshold.
func (s *apiServer) handleFailing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	conns, err := s.store.ListFailingConnections(s.cfg.MaxFailures)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connections": conns,
		"count":       len(conns),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
