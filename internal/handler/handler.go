// Package handler serves the packaging registry over HTTP.
package handler

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/reusepack/internal/model"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is the body of GET /ready.
type ReadyResponse struct {
	Status string `json:"status"`
}

// ProbeHandler answers liveness and readiness probes. It starts not ready.
type ProbeHandler struct {
	ready  atomic.Bool
	logger *zap.Logger
}

// NewProbeHandler returns a ProbeHandler.
func NewProbeHandler(logger *zap.Logger) *ProbeHandler {
	return &ProbeHandler{logger: logger}
}

// SetReady flips the readiness state.
func (h *ProbeHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// RegisterRoutes adds /health and /ready to router.
func (h *ProbeHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/ready", h.Ready).Methods(http.MethodGet)
}

// Health always reports healthy while the process serves requests.
func (h *ProbeHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(HealthResponse{
		Status:  "healthy",
		Version: Version,
	}))
}

// Ready reports 503 until SetReady(true) and again once shutdown begins.
func (h *ProbeHandler) Ready(w http.ResponseWriter, _ *http.Request) {
	if !h.ready.Load() {
		resp := model.NewErrorResponse[ReadyResponse]("service is not ready")
		resp.Data = ReadyResponse{Status: "not ready"}
		writeJSON(w, h.logger, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(ReadyResponse{Status: "ready"}))
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, status int, message string) {
	writeErrorDetails(w, logger, status, message, "")
}

func writeErrorDetails(w http.ResponseWriter, logger *zap.Logger, status int, message, details string) {
	writeJSON(w, logger, status, model.ErrorResponse{Code: status, Message: message, Details: details})
}
