// Package api provides the redline REST API server: transfer jobs are
// submitted as document uploads, run asynchronously, and report their
// progress over a WebSocket.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/crosslation/redline/internal/ledger"
	"github.com/crosslation/redline/internal/logging"
)

// Version identifies the API in health and root responses.
const Version = "0.1.0"

// jobLedger is the shared transfer ledger, nil when serving without one.
var jobLedger *ledger.Store

var startTime = time.Now()

// APIResponse is the standard API response wrapper.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *APIMeta    `json:"meta,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIMeta contains response metadata.
type APIMeta struct {
	Total     int    `json:"total,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HealthInfo is the health check response.
type HealthInfo struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Jobs     int    `json:"jobs"`
	Provider string `json:"provider"`
	Ledger   string `json:"ledger_driver,omitempty"`
}

// Start starts the API server with the given configuration. It blocks
// until the listener fails.
func Start(cfg Config) error {
	ServerConfig = cfg

	if err := ValidateAuthConfig(cfg.Auth); err != nil {
		return fmt.Errorf("invalid auth config: %w", err)
	}

	if cfg.LedgerPath != "" {
		store, err := ledger.Open(cfg.LedgerPath)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		jobLedger = store
	}

	GlobalHub = NewHub()
	go GlobalHub.Run()

	mux := setupRoutes()

	logging.ServerStartup("rest_api", "http", cfg.Port,
		"websocket_protocol", "ws",
		"provider", providerLabel(),
		"ledger", cfg.LedgerPath)

	var handler http.Handler = mux
	if cfg.Auth.Enabled {
		handler = AuthMiddleware(cfg.Auth, handler)
		logging.SecurityEvent("authentication_configured", "api",
			"enabled", true,
			"note", "API key required")
	} else {
		logging.SecurityEvent("authentication_configured", "api",
			"enabled", false,
			"note", "all requests allowed")
	}
	handler = logging.CombinedMiddleware(handler)

	addr := fmt.Sprintf(":%d", cfg.Port)
	return http.ListenAndServe(addr, handler)
}

// setupRoutes configures all HTTP routes.
func setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", handleRoot)
	mux.HandleFunc("/api/v1/health", handleHealth)
	mux.HandleFunc("/api/v1/jobs", handleJobs)
	mux.HandleFunc("/api/v1/jobs/", handleJobByID)
	mux.HandleFunc("/ws", handleWebSocket)

	return mux
}

// providerLabel names the oracle backend for logs and health responses.
func providerLabel() string {
	switch ServerConfig.Oracle.Provider {
	case "":
		if ServerConfig.Oracle.APIKey != "" {
			return "openai"
		}
		return "ollama"
	default:
		return ServerConfig.Oracle.Provider
	}
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found")
		return
	}

	respond(w, http.StatusOK, map[string]interface{}{
		"name":    "redline API",
		"version": Version,
		"endpoints": []string{
			"GET /api/v1/health",
			"GET /api/v1/jobs",
			"POST /api/v1/jobs",
			"GET /api/v1/jobs/:id",
			"GET /api/v1/jobs/:id/report",
			"GET /api/v1/jobs/:id/result",
			"DELETE /api/v1/jobs/:id",
			"WS /ws",
		},
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	info := HealthInfo{
		Status:   "healthy",
		Version:  Version,
		Uptime:   time.Since(startTime).String(),
		Jobs:     len(globalJobStore.List()),
		Provider: providerLabel(),
	}
	if jobLedger != nil {
		info.Ledger = ledger.DriverName()
	}

	respond(w, http.StatusOK, info)
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	response := APIResponse{
		Success: true,
		Data:    data,
		Meta: &APIMeta{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

func respondList(w http.ResponseWriter, data interface{}, total int) {
	response := APIResponse{
		Success: true,
		Data:    data,
		Meta: &APIMeta{
			Total:     total,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	response := APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
		Meta: &APIMeta{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}
