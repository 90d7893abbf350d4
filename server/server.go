package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/hannes/safeshare/config"
	pii "github.com/hannes/safeshare/pii/detectors"
	"github.com/hannes/safeshare/pii/regions"
	"github.com/hannes/safeshare/scan"
)

// maskedAPIKey stands in for a stored cloud API key in settings responses
const maskedAPIKey = "********"

// EngineInfo reports the on-device engine state
type EngineInfo interface {
	GetInfo() map[string]interface{}
	IsHealthy() bool
}

// Server represents the HTTP server
type Server struct {
	config       *config.Config
	orchestrator *scan.Orchestrator
	settings     *config.SettingsStore
	engine       EngineInfo
	httpServer   *http.Server
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, orchestrator *scan.Orchestrator, settings *config.SettingsStore, engine EngineInfo) *Server {
	s := &Server{
		config:       cfg,
		orchestrator: orchestrator,
		settings:     settings,
		engine:       engine,
	}

	// scans hold the connection while the models run
	s.httpServer = &http.Server{
		Addr:         cfg.ServerPort,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.withCORS(s.healthCheck))
	mux.HandleFunc("/api/scan", s.withCORS(s.handleScan))
	mux.HandleFunc("/api/scan/retry", s.withCORS(s.handleRetry))
	mux.HandleFunc("/api/batch", s.withCORS(s.handleBatch))
	mux.HandleFunc("/api/queue", s.withCORS(s.handleQueue))
	mux.HandleFunc("/api/session/end", s.withCORS(s.handleEndSession))
	mux.HandleFunc("/api/analyze", s.withCORS(s.handleAnalyze))
	mux.HandleFunc("/api/settings", s.withCORS(s.handleSettings))
	mux.HandleFunc("/api/engine", s.withCORS(s.handleEngine))
	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("[Server] Starting scan service on port %s", s.config.ServerPort)
	log.Printf("[Server] Engine: %s at %s", s.config.Engine.Provider, s.config.Engine.BaseURL)

	if s.config.Database.Enabled {
		log.Printf("[Server] Scan results persisted with %s", s.config.Database.Driver)
	} else {
		log.Println("[Server] Using in-memory scan results")
	}

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// StartWithErrorHandling starts the server with proper error handling
func (s *Server) StartWithErrorHandling() {
	if err := s.Start(); err != nil {
		log.Fatalf("[Server] ❌ Failed to start server: %v", err)
	}
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type scanRequest struct {
	ImageURI string `json:"image_uri"`
}

type batchRequest struct {
	ImageURIs []string `json:"image_uris"`
}

type analyzeRequest struct {
	Description string `json:"description"`
	AllowCloud  bool   `json:"allow_cloud"`
}

type analyzeResponse struct {
	Result  pii.PIIResult `json:"result"`
	Regions []pii.Region  `json:"regions"`
}

type errorResponse struct {
	Error  string       `json:"error"`
	Result *scan.Result `json:"result,omitempty"`
}

// healthCheck provides a simple health check endpoint
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if s.engine != nil && !s.engine.IsHealthy() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "service": "SafeShare Scan Service"})
}

// handleScan starts a scan (POST) or returns the stored result and marks
// the image as displayed (GET)
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		uri := r.URL.Query().Get("image_uri")
		if uri == "" {
			writeError(w, http.StatusBadRequest, "image_uri is required")
			return
		}
		result, _ := s.orchestrator.Session().SetCurrent(uri)
		writeJSON(w, http.StatusOK, result)
	case http.MethodPost:
		var req scanRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ImageURI == "" {
			writeError(w, http.StatusBadRequest, "image_uri is required")
			return
		}
		s.orchestrator.Session().SetCurrent(req.ImageURI)
		// the scan outlives a disconnected client
		result, err := s.orchestrator.Scan(context.WithoutCancel(r.Context()), req.ImageURI)
		s.writeScanResult(w, result, err)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req scanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ImageURI == "" {
		writeError(w, http.StatusBadRequest, "image_uri is required")
		return
	}
	result, err := s.orchestrator.Retry(context.WithoutCancel(r.Context()), req.ImageURI)
	s.writeScanResult(w, result, err)
}

// writeScanResult reports a failed scan in the result itself. Only an
// engine that is not loaded is an HTTP error.
func (s *Server) writeScanResult(w http.ResponseWriter, result scan.Result, err error) {
	if errors.Is(err, pii.ErrEngineNotReady) {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: scan.MessageEngineNotReady, Result: &result})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.ImageURIs) == 0 {
		writeError(w, http.StatusBadRequest, "image_uris is required")
		return
	}
	added := s.orchestrator.Enqueue(req.ImageURIs...)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"queued": added,
		"queue":  s.orchestrator.Queue(),
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue":   s.orchestrator.Queue(),
		"current": s.orchestrator.Session().Current(),
		"results": s.orchestrator.Session().Results(),
	})
}

// handleEndSession discards every result of the session, including the
// persisted ones
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	discarded := s.orchestrator.EndSession(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"discarded": discarded})
}

// handleAnalyze runs the hybrid analysis on a description without the
// vision stage
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req analyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.orchestrator.AnalyzeDescription(r.Context(), req.Description, req.AllowCloud)
	if err != nil {
		if errors.Is(err, pii.ErrEngineNotReady) {
			writeError(w, http.StatusServiceUnavailable, scan.MessageEngineNotReady)
			return
		}
		log.Printf("[Server] ❌ Analysis failed: %v", err)
		writeError(w, http.StatusInternalServerError, scan.MessageAnalysisFailed)
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		Result:  result,
		Regions: regions.GetRedactionRegions(result.Types),
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, maskSettings(s.settings.Current()))
	case http.MethodPut:
		current := s.settings.Current()
		updated := current
		if !decodeBody(w, r, &updated) {
			return
		}
		if updated.CloudAPIKey == maskedAPIKey {
			updated.CloudAPIKey = current.CloudAPIKey
		}
		if err := s.settings.Update(updated); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[Server] Settings updated (allowCloud=%v, provider=%s)", updated.AllowCloud, updated.CloudProvider)
		writeJSON(w, http.StatusOK, maskSettings(updated))
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func maskSettings(settings config.Settings) config.Settings {
	if settings.CloudAPIKey != "" {
		settings.CloudAPIKey = maskedAPIKey
	}
	return settings
}

func (s *Server) handleEngine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, scan.MessageEngineNotReady)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.GetInfo())
}

// withCORS adds CORS headers and answers preflight requests
func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.corsHandler(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

// corsHandler adds CORS headers to the response
func (s *Server) corsHandler(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// If no origin header (e.g., file:// requests from the desktop shell), allow all
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Credentials", "false")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	w.Header().Set("Access-Control-Allow-Methods", "POST, PUT, OPTIONS, GET")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] Failed to write response: %v", err)
	}
}
