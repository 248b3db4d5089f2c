// ingest/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Ftotnem/GO-PIPELINE/ingest/service"
	"github.com/Ftotnem/GO-PIPELINE/shared/api"
	"github.com/Ftotnem/GO-PIPELINE/shared/eventlog"
	"github.com/Ftotnem/GO-PIPELINE/shared/metrics"
	"github.com/Ftotnem/GO-PIPELINE/shared/models"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxBodyBytes = 16 << 10

// ActionValidator validates a raw action for an endpoint's action kind.
type ActionValidator interface {
	Validate(raw service.RawAction, kind models.ActionKind) (models.GameAction, error)
}

// ActionPublisher appends a validated action to the event log.
type ActionPublisher interface {
	Publish(ctx context.Context, action models.GameAction) (eventlog.Receipt, error)
}

// AcceptedResponse is returned for every accepted action.
type AcceptedResponse struct {
	Status  string `json:"status"`
	EventID string `json:"eventId"`
}

// IngestAPIHandlers serves the ingest endpoints.
type IngestAPIHandlers struct {
	validator      ActionValidator
	publisher      ActionPublisher
	logger         *zap.Logger
	publishTimeout time.Duration
	retryAfter     time.Duration
}

// NewIngestAPIHandlers is the constructor for the ingest handlers. retryAfter is
// advertised to clients when the event log is unavailable.
func NewIngestAPIHandlers(v ActionValidator, p ActionPublisher, retryAfter time.Duration, logger *zap.Logger) *IngestAPIHandlers {
	return &IngestAPIHandlers{
		validator:      v,
		publisher:      p,
		logger:         logger,
		publishTimeout: 5 * time.Second,
		retryAfter:     retryAfter,
	}
}

// RegisterRoutes registers the event routes. The API key check runs before the
// rate limiter so unauthenticated traffic cannot drain the shared bucket.
func (h *IngestAPIHandlers) RegisterRoutes(router *mux.Router, apiKey string, limiter *api.RateLimiter) {
	events := router.PathPrefix("/api/events").Subrouter()
	events.Use(api.APIKeyMiddleware(apiKey))
	if limiter != nil {
		events.Use(limiter.Middleware)
	}

	events.HandleFunc("/heartbeat", h.actionHandler(models.ActionHeartbeat)).Methods("POST")
	events.HandleFunc("/drink", h.actionHandler(models.ActionDrink)).Methods("POST")
}

// actionHandler handles POST /api/events/{heartbeat|drink}.
// Body: { "userId": "...", "region": "EU", "matchId": "...", "amount": 1, "timestamp": 1700000000000 }
func (h *IngestAPIHandlers) actionHandler(kind models.ActionKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var raw service.RawAction
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
		if err := dec.Decode(&raw); err != nil {
			metrics.ActionsRejected.WithLabelValues("malformed").Inc()
			api.WriteBadRequest(w, "Invalid request body")
			return
		}

		action, err := h.validator.Validate(raw, kind)
		if err != nil {
			var verr *service.ValidationError
			if errors.As(err, &verr) {
				metrics.ActionsRejected.WithLabelValues("validation").Inc()
				api.WriteValidationError(w, "Invalid action", verr.Messages())
				return
			}
			h.logger.Error("unexpected validation failure", zap.Error(err))
			api.WriteError(w, http.StatusInternalServerError, "Failed to validate action")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.publishTimeout)
		defer cancel()

		receipt, err := h.publisher.Publish(ctx, action)
		if err != nil {
			metrics.ActionsRejected.WithLabelValues("unavailable").Inc()
			h.logger.Error("failed to publish action",
				zap.String("event_id", action.EventID),
				zap.String("match_id", action.MatchID),
				zap.Error(err))
			api.WriteRetryableError(w, http.StatusServiceUnavailable, "Event log unavailable, retry later", h.retryAfter)
			return
		}

		metrics.ActionsAccepted.WithLabelValues(string(kind)).Inc()
		h.logger.Debug("action accepted",
			zap.String("event_id", action.EventID),
			zap.Stringer("partition", receipt.Partition),
			zap.String("offset", receipt.Offset))
		api.WriteJSON(w, http.StatusAccepted, AcceptedResponse{Status: "accepted", EventID: action.EventID})
	}
}
