// query/api/handler.go
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Ftotnem/GO-PIPELINE/query/service"
	"github.com/Ftotnem/GO-PIPELINE/shared/api"
	"github.com/Ftotnem/GO-PIPELINE/shared/models"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// QueryAPIHandlers serves the read endpoints.
type QueryAPIHandlers struct {
	service        *service.QueryService
	defaultMinutes int
	timeout        time.Duration
	logger         *zap.Logger
}

// NewQueryAPIHandlers is the constructor for the query handlers.
func NewQueryAPIHandlers(svc *service.QueryService, defaultMinutes int, timeout time.Duration, logger *zap.Logger) *QueryAPIHandlers {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &QueryAPIHandlers{
		service:        svc,
		defaultMinutes: defaultMinutes,
		timeout:        timeout,
		logger:         logger,
	}
}

// RegisterRoutes registers the query routes on router.
func (h *QueryAPIHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/health", h.healthHandler).Methods("GET")
	router.HandleFunc("/api/presence/onlineCount", h.onlineCountHandler).Methods("GET")
	router.HandleFunc("/api/leaderboard", h.leaderboardHandler).Methods("GET")
	router.HandleFunc("/api/leaderboard/history", h.historyHandler).Methods("GET")
	router.HandleFunc("/api/uniques/drinkers", h.uniqueDrinkersHandler).Methods("GET")
}

// healthHandler handles GET /api/health
func (h *QueryAPIHandlers) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	health := h.service.Health(ctx)
	status := http.StatusOK
	if health.Status != service.StatusUp {
		status = http.StatusServiceUnavailable
	}
	api.WriteJSON(w, status, health)
}

// onlineCountHandler handles GET /api/presence/onlineCount?region=EU
func (h *QueryAPIHandlers) onlineCountHandler(w http.ResponseWriter, r *http.Request) {
	var region *models.Region
	if raw := r.URL.Query().Get("region"); raw != "" {
		parsed, err := models.ParseRegion(raw)
		if err != nil {
			api.WriteBadRequest(w, "Invalid region")
			return
		}
		region = &parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.service.OnlineCount(ctx, region)
	if err != nil {
		h.writeServiceError(w, "online count", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

// leaderboardHandler handles GET /api/leaderboard?matchId=...&limit=10
func (h *QueryAPIHandlers) leaderboardHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var limit *int
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			api.WriteBadRequest(w, "limit must be an integer")
			return
		}
		limit = &n
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.service.Leaderboard(ctx, query.Get("matchId"), limit)
	if err != nil {
		h.writeServiceError(w, "leaderboard", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

// historyHandler handles GET /api/leaderboard/history?matchId=...
func (h *QueryAPIHandlers) historyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	snap, err := h.service.History(ctx, r.URL.Query().Get("matchId"))
	if err != nil {
		h.writeServiceError(w, "leaderboard history", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, snap)
}

// uniqueDrinkersHandler handles GET /api/uniques/drinkers?minutes=5
func (h *QueryAPIHandlers) uniqueDrinkersHandler(w http.ResponseWriter, r *http.Request) {
	minutes := h.defaultMinutes
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			api.WriteBadRequest(w, "minutes must be an integer")
			return
		}
		minutes = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.service.UniqueDrinkers(ctx, minutes)
	if err != nil {
		h.writeServiceError(w, "unique drinkers", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

func (h *QueryAPIHandlers) writeServiceError(w http.ResponseWriter, what string, err error) {
	switch {
	case errors.Is(err, service.ErrMissingMatchID),
		errors.Is(err, service.ErrInvalidLimit),
		errors.Is(err, service.ErrInvalidMinutes):
		api.WriteBadRequest(w, err.Error())
	case errors.Is(err, service.ErrSnapshotNotFound):
		api.WriteNotFound(w, "No archived leaderboard for this match")
	case errors.Is(err, service.ErrHistoryDisabled):
		api.WriteError(w, http.StatusNotImplemented, err.Error())
	default:
		h.logger.Error("query failed", zap.String("query", what), zap.Error(err))
		api.WriteServiceUnavailable(w, "Projection store unavailable")
	}
}
