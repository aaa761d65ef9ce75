package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/reusepack/internal/model"
	"github.com/vyrodovalexey/reusepack/internal/registry"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// RESTHandler exposes a Registry under /api/v1.
type RESTHandler struct {
	reg    registry.Registry
	logger *zap.Logger
}

// NewRESTHandler returns a RESTHandler backed by reg.
func NewRESTHandler(reg registry.Registry, logger *zap.Logger) *RESTHandler {
	return &RESTHandler{reg: reg, logger: logger}
}

// RegisterRoutes adds the packaging routes to router. Fixed segments are
// registered before /{id} so "stats" and "batch" are never read as ids.
func (h *RESTHandler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/packaging", h.ListItems).Methods(http.MethodGet)
	api.HandleFunc("/packaging/stats", h.GetStats).Methods(http.MethodGet)
	api.HandleFunc("/packaging/batch", h.CreateBatch).Methods(http.MethodPost)
	api.HandleFunc("/packaging/qr/{qrCode}", h.GetItemByQRCode).Methods(http.MethodGet)
	api.HandleFunc("/packaging/{id}", h.GetItem).Methods(http.MethodGet)
	api.HandleFunc("/packaging/{id}", h.UpdateItem).Methods(http.MethodPatch)
	api.HandleFunc("/packaging/{id}", h.DeleteItem).Methods(http.MethodDelete)
	api.HandleFunc("/stores/{storeId}/packaging", h.ListStoreItems).Methods(http.MethodGet)
}

// ListItems handles GET /api/v1/packaging, optionally filtered by ?storeId=.
func (h *RESTHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	if storeID := r.URL.Query().Get("storeId"); storeID != "" {
		h.listByStore(w, r, storeID)
		return
	}

	items, err := h.reg.List(r.Context())
	if err != nil {
		h.handleRegistryError(w, err, "list items")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(items))
}

// ListStoreItems handles GET /api/v1/stores/{storeId}/packaging.
func (h *RESTHandler) ListStoreItems(w http.ResponseWriter, r *http.Request) {
	h.listByStore(w, r, mux.Vars(r)["storeId"])
}

func (h *RESTHandler) listByStore(w http.ResponseWriter, r *http.Request, storeID string) {
	items, err := h.reg.GetByStoreID(r.Context(), storeID)
	if err != nil {
		h.handleRegistryError(w, err, "list store items")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(items))
}

// GetStats handles GET /api/v1/packaging/stats.
func (h *RESTHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reg.Stats(r.Context())
	if err != nil {
		h.handleRegistryError(w, err, "stats")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(stats))
}

// GetItem handles GET /api/v1/packaging/{id}.
func (h *RESTHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.reg.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.handleRegistryError(w, err, "get item")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(item))
}

// GetItemByQRCode handles GET /api/v1/packaging/qr/{qrCode}.
func (h *RESTHandler) GetItemByQRCode(w http.ResponseWriter, r *http.Request) {
	item, err := h.reg.GetByQRCode(r.Context(), mux.Vars(r)["qrCode"])
	if err != nil {
		h.handleRegistryError(w, err, "get item by qr code")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(item))
}

// CreateBatch handles POST /api/v1/packaging/batch.
func (h *RESTHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req model.BatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	items, err := h.reg.CreateMultiple(r.Context(), req.Type, req.Quantity, req.BatchSpec)
	if err != nil {
		h.handleRegistryError(w, err, "create items")
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, model.NewSuccessResponse(items))
}

// UpdateItem handles PATCH /api/v1/packaging/{id}.
func (h *RESTHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var patch model.Patch
	if !h.decode(w, r, &patch) {
		return
	}

	item, err := h.reg.Update(r.Context(), mux.Vars(r)["id"], &patch)
	if err != nil {
		h.handleRegistryError(w, err, "update item")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(item))
}

// DeleteItem handles DELETE /api/v1/packaging/{id}.
func (h *RESTHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.handleRegistryError(w, err, "delete item")
		return
	}
	writeJSON(w, h.logger, http.StatusNoContent, nil)
}

// decode reads a single JSON object into dst. Unknown fields are rejected.
func (h *RESTHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err == nil && dec.More() {
		err = errors.New("body must contain a single JSON object")
	}
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.logger.Warn("request body too large", zap.String("path", r.URL.Path), zap.Int64("limit", tooLarge.Limit))
		writeErrorDetails(w, h.logger, http.StatusRequestEntityTooLarge, "request body too large",
			fmt.Sprintf("limit is %d bytes", tooLarge.Limit))
		return false
	}

	if errors.Is(err, io.EOF) {
		err = errors.New("request body is empty")
	}
	h.logger.Warn("invalid request body", zap.String("path", r.URL.Path), zap.Error(err))
	writeErrorDetails(w, h.logger, http.StatusBadRequest, "invalid request body", err.Error())
	return false
}

// handleRegistryError maps registry errors to HTTP responses.
func (h *RESTHandler) handleRegistryError(w http.ResponseWriter, err error, operation string) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, h.logger, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrAlreadyExists):
		h.logger.Warn("identifier collision", zap.String("operation", operation), zap.Error(err))
		writeError(w, h.logger, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrInvalidID),
		errors.Is(err, registry.ErrInvalidQRCode),
		errors.Is(err, registry.ErrInvalidQuantity),
		errors.Is(err, registry.ErrBatchTooLarge),
		errors.Is(err, registry.ErrInvalidItem),
		errors.Is(err, registry.ErrImmutableField),
		errors.Is(err, registry.ErrNilPatch):
		h.logger.Warn("rejected request", zap.String("operation", operation), zap.Error(err))
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("registry operation failed", zap.String("operation", operation), zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "internal server error")
	}
}
