package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ecelik/mirrorbot/internal/domain"
)

// ConfigHandler serves the strategy-config CRD endpoints. Configs are
// immutable once created; a change means a new config with a new
// fingerprint.
type ConfigHandler struct {
	store  domain.ConfigStore
	logger *slog.Logger
}

// NewConfigHandler creates a ConfigHandler.
func NewConfigHandler(store domain.ConfigStore, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{store: store, logger: logHandler(logger, "configs")}
}

// Create validates the posted config, stamps its fingerprint, and persists
// it.
// POST /api/configs
func (h *ConfigHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body domain.StrategyConfig
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	cfg, err := domain.NewStrategyConfig(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Create(r.Context(), cfg); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "config already exists: "+cfg.Sha)
			return
		}
		h.logger.ErrorContext(r.Context(), "create config",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to store config")
		return
	}

	writeJSON(w, http.StatusCreated, cfg)
}

// List returns all stored configs, newest first.
// GET /api/configs
func (h *ConfigHandler) List(w http.ResponseWriter, r *http.Request) {
	configs, err := h.store.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list configs",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list configs")
		return
	}
	if configs == nil {
		configs = []domain.StrategyConfig{}
	}
	writeJSON(w, http.StatusOK, configs)
}

// Get returns one config by fingerprint.
// GET /api/configs/{sha}
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	sha := pathParam(r, "sha")

	cfg, err := h.store.Get(r.Context(), sha)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "config not found: "+sha)
			return
		}
		h.logger.ErrorContext(r.Context(), "get config",
			slog.String("sha", sha),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// Delete removes one config by fingerprint.
// DELETE /api/configs/{sha}
func (h *ConfigHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sha := pathParam(r, "sha")

	if err := h.store.Delete(r.Context(), sha); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "config not found: "+sha)
			return
		}
		h.logger.ErrorContext(r.Context(), "delete config",
			slog.String("sha", sha),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete config")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": sha})
}
