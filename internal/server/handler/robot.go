package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ecelik/mirrorbot/internal/domain"
)

// RobotSupervisor is the runner surface the control plane drives.
type RobotSupervisor interface {
	Start(ctx context.Context, cfg domain.StrategyConfig) error
	Stop(sha string) error
	StopAll() []string
	List() []domain.RobotRunInfo
	Stats() []domain.RobotStats
}

// RobotHandler serves the robot lifecycle endpoints.
type RobotHandler struct {
	store  domain.ConfigStore
	runner RobotSupervisor
	logger *slog.Logger
}

// NewRobotHandler creates a RobotHandler.
func NewRobotHandler(store domain.ConfigStore, runner RobotSupervisor, logger *slog.Logger) *RobotHandler {
	return &RobotHandler{store: store, runner: runner, logger: logHandler(logger, "robots")}
}

// Start launches a supervised robot for a stored config.
// POST /api/robots/{sha}/start
func (h *RobotHandler) Start(w http.ResponseWriter, r *http.Request) {
	sha := pathParam(r, "sha")

	cfg, err := h.store.Get(r.Context(), sha)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "config not found: "+sha)
			return
		}
		h.logger.ErrorContext(r.Context(), "load config",
			slog.String("sha", sha),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load config")
		return
	}

	if err := h.runner.Start(r.Context(), cfg); err != nil {
		if errors.Is(err, domain.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "robot already running: "+sha)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"sha":    sha,
		"status": string(domain.RunPending),
	})
}

// Stop cancels a running robot and waits for its teardown.
// POST /api/robots/{sha}/stop
func (h *RobotHandler) Stop(w http.ResponseWriter, r *http.Request) {
	sha := pathParam(r, "sha")

	if err := h.runner.Stop(sha); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "robot not running: "+sha)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"stopped": sha})
}

// StopAll cancels every running robot.
// POST /api/robots/stop
func (h *RobotHandler) StopAll(w http.ResponseWriter, r *http.Request) {
	stopped := h.runner.StopAll()
	if stopped == nil {
		stopped = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": stopped})
}

// List returns every supervised run with its lifecycle status.
// GET /api/robots
func (h *RobotHandler) List(w http.ResponseWriter, r *http.Request) {
	infos := h.runner.List()
	if infos == nil {
		infos = []domain.RobotRunInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

// Stats returns a live trading snapshot of every running robot.
// GET /api/robots/stats
func (h *RobotHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.runner.Stats()
	if stats == nil {
		stats = []domain.RobotStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}
