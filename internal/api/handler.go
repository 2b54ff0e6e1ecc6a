package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/condupay/comprobante/internal/bankrules"
	"github.com/condupay/comprobante/internal/domain"
	"github.com/condupay/comprobante/internal/history"
	"github.com/condupay/comprobante/internal/repository"
	"github.com/condupay/comprobante/internal/validator"
)

// GlobalTenantID is used for entity profiles that apply to all tenants.
const GlobalTenantID = "*"

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	validator *validator.Validator
	history   *history.Service
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, v *validator.Validator, hist *history.Service, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		validator: v,
		history:   hist,
		version:   version,
	}
}

// ValidateRequest is the request body for POST /validate. Every field of
// Data may be absent; a missing field degrades the score instead of failing
// the request.
type ValidateRequest struct {
	ReceiptID string                      `json:"receiptId,omitempty"`
	Data      domain.ExtractedReceiptData `json:"data"`
	ImageMeta *domain.ImageMetadata       `json:"imageMeta,omitempty"`
}

// Validate handles POST /validate requests: one extracted record, validated
// synchronously.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	receiptID := req.ReceiptID
	if receiptID == "" {
		receiptID = uuid.New().String()
	}

	receipt := &domain.Receipt{
		ID:        receiptID,
		TenantID:  tenantID,
		Data:      req.Data,
		ImageMeta: req.ImageMeta,
		CreatedAt: time.Now().UTC(),
	}

	outcome := h.validator.Validate(ctx, receipt)
	h.finish(ctx, tenantID, receipt, outcome)

	writeJSON(w, http.StatusOK, outcome)
}

// ValidateEnginesRequest is the request body for POST /validate/engines:
// the raw per-engine outputs to aggregate before validation.
type ValidateEnginesRequest struct {
	ReceiptID string                `json:"receiptId,omitempty"`
	Results   []domain.EngineResult `json:"results"`
	ImageMeta *domain.ImageMetadata `json:"imageMeta,omitempty"`
}

// ValidateEngines handles POST /validate/engines requests.
func (h *Handler) ValidateEngines(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req ValidateEnginesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Results) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one engine result is required",
		})
		return
	}

	outcome, receipt := h.validator.ValidateEngineResults(ctx, tenantID, req.Results, req.ImageMeta)
	if req.ReceiptID != "" {
		receipt.ID = req.ReceiptID
		outcome.ReceiptID = req.ReceiptID
	}
	h.finish(ctx, tenantID, receipt, outcome)

	writeJSON(w, http.StatusOK, outcome)
}

// finish persists the receipt and outcome and raises a review alert when the
// receipt did not clear automatically. Persistence failures are logged, not
// surfaced; the caller already has the outcome.
func (h *Handler) finish(ctx context.Context, tenantID string, receipt *domain.Receipt, outcome *domain.ValidationOutcome) {
	if p := h.validator.Table().Resolve(receipt.Data.Entidad); p != nil {
		receipt.EntityID = p.ID
	}

	if h.repo != nil {
		if err := h.repo.SaveReceipt(ctx, tenantID, receipt); err != nil {
			slog.Error("failed to save receipt", "receipt_id", receipt.ID, "error", err)
		}
		if err := h.repo.SaveValidation(ctx, tenantID, outcome); err != nil {
			slog.Error("failed to save validation", "receipt_id", receipt.ID, "error", err)
		}
	}

	if h.bus != nil && !outcome.AutoApproved() {
		payload, _ := json.Marshal(outcome)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicReviewAlert, payload); err != nil {
			slog.Error("failed to publish review alert", "receipt_id", receipt.ID, "error", err)
		}
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetValidation retrieves a validation outcome by ID.
func (h *Handler) GetValidation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	outcomeID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	outcome, err := h.repo.GetValidation(ctx, tenantID, outcomeID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get validation", "id", outcomeID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "validation not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// ListValidations returns validation outcomes filtered by status.
func (h *Handler) ListValidations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	status := r.URL.Query().Get("status")
	if status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "status query parameter is required",
		})
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	outcomes, err := h.repo.ListValidationsByStatus(ctx, tenantID, status, limit)
	if err != nil {
		slog.Error("failed to list validations", "status", status, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list validations",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"validations": outcomes,
		"count":       len(outcomes),
	})
}

// GetReceipt retrieves a stored receipt by ID.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	receiptID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	receipt, err := h.repo.GetReceipt(ctx, tenantID, receiptID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get receipt", "id", receiptID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "receipt not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// ListEntities returns the entity profiles currently loaded in the validator.
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	profiles := h.validator.Table().Profiles()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entities": profiles,
		"count":    len(profiles),
	})
}

// GetEntity retrieves a loaded entity profile by ID.
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "id")

	for _, p := range h.validator.Table().Profiles() {
		if p.ID == entityID {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "entity not found",
	})
}

// CreateEntity creates a new entity profile and saves it to the database.
// Profiles are saved globally so they apply to all tenants. After saving,
// call POST /entities/reload to hot-reload the validator table.
func (h *Handler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	h.upsertEntity(w, r, "")
}

// UpdateEntity replaces an existing entity profile.
func (h *Handler) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	h.upsertEntity(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) upsertEntity(w http.ResponseWriter, r *http.Request, entityID string) {
	ctx := r.Context()

	var profile domain.EntityProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if entityID != "" {
		profile.ID = entityID
	}

	if profile.ID == "" || profile.Name == "" || profile.ReferencePattern == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and referencePattern are required",
		})
		return
	}

	// Compiling a one-profile table validates the reference pattern and any
	// custom CEL rules before the profile is persisted.
	if _, err := bankrules.NewTable([]*domain.EntityProfile{&profile}); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid profile: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveEntityProfile(ctx, GlobalTenantID, &profile); err != nil {
			slog.Error("failed to save entity profile", "id", profile.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save entity profile",
			})
			return
		}
	}

	status := http.StatusCreated
	if entityID != "" {
		status = http.StatusOK
	}

	slog.Info("entity profile saved", "id", profile.ID, "name", profile.Name)
	writeJSON(w, status, map[string]interface{}{
		"entity":  profile,
		"message": "Entity profile saved. Call POST /entities/reload to apply changes.",
	})
}

// DeleteEntity soft-deletes an entity profile and auto-reloads the table.
func (h *Handler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.DeleteEntityProfile(ctx, GlobalTenantID, entityID); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to delete entity profile", "id", entityID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "entity not found",
		})
		return
	}

	if err := h.reloadTable(ctx); err != nil {
		slog.Error("failed to reload entity table after delete", "error", err)
	}

	slog.Info("entity profile deleted", "id", entityID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Entity profile deleted and table reloaded.",
	})
}

// ReloadEntities rebuilds the validator's entity table from the database.
func (h *Handler) ReloadEntities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.reloadTable(ctx); err != nil {
		slog.Error("failed to reload entity table", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload entity table: " + err.Error(),
		})
		return
	}

	count := h.validator.Table().EntityCount()
	slog.Info("entity table reloaded from database", "count", count)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "entity table reloaded successfully",
		"count":   count,
	})
}

func (h *Handler) reloadTable(ctx context.Context) error {
	profiles, err := h.repo.ListEntityProfiles(ctx, GlobalTenantID)
	if err != nil {
		return err
	}
	table, err := bankrules.NewTable(profiles)
	if err != nil {
		return err
	}
	h.validator.ReloadTable(table)
	return nil
}

// GetEntityStats returns the historical amount statistics for an entity.
func (h *Handler) GetEntityStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	entityID := chi.URLParam(r, "id")

	if h.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "history service not available",
		})
		return
	}

	stats, err := h.history.GetEntityStats(ctx, tenantID, entityID)
	if err != nil {
		slog.Error("failed to get entity stats", "entity_id", entityID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get entity stats",
		})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
