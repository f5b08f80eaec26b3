package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/groupdine/api/internal/platform/httpx"
	"github.com/groupdine/api/internal/services"
)

const maxSweepBatchSize = 500

// InternalJobHandlers exposes maintenance triggers for Cloud Scheduler. The /internal group is
// protected by OIDC middleware in the router.
type InternalJobHandlers struct {
	system     services.SystemService
	expiration services.TeamCartExpirationService
	clock      func() time.Time
}

// InternalJobOption customises InternalJobHandlers.
type InternalJobOption func(*InternalJobHandlers)

// WithInternalJobClock overrides the clock used as the expiration cutoff.
func WithInternalJobClock(clock func() time.Time) InternalJobOption {
	return func(h *InternalJobHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewInternalJobHandlers constructs the maintenance endpoints.
func NewInternalJobHandlers(system services.SystemService, expiration services.TeamCartExpirationService, opts ...InternalJobOption) *InternalJobHandlers {
	h := &InternalJobHandlers{
		system:     system,
		expiration: expiration,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /internal endpoints.
func (h *InternalJobHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/team-carts:expire", h.expireTeamCarts)
}

type expireTeamCartsResponse struct {
	Expired    int    `json:"expired"`
	Cutoff     string `json:"cutoff,omitempty"`
	StartedAt  string `json:"started_at,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// expireTeamCarts runs one sweep. With batchSize the expiration service is called directly so
// operators can drain a backlog; otherwise the configured sweep runs through the system service
// and updates sweeper health.
func (h *InternalJobHandlers) expireTeamCarts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if raw := strings.TrimSpace(r.URL.Query().Get("batchSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 || size > maxSweepBatchSize {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "batchSize must be an integer between 1 and 500", http.StatusBadRequest))
			return
		}
		if h.expiration == nil {
			httpx.WriteError(ctx, w, httpx.NewError("sweeper_unavailable", "expiration service is unavailable", http.StatusServiceUnavailable))
			return
		}
		cutoff := h.clock().UTC()
		start := time.Now()
		expired, err := h.expiration.ExpireOverdue(ctx, cutoff, size)
		if err != nil {
			writeTeamCartError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, expireTeamCartsResponse{
			Expired:    expired,
			Cutoff:     formatTime(cutoff),
			DurationMS: time.Since(start).Milliseconds(),
		})
		return
	}

	if h.system == nil {
		httpx.WriteError(ctx, w, httpx.NewError("sweeper_unavailable", "system service is unavailable", http.StatusServiceUnavailable))
		return
	}
	summary, err := h.system.RunExpirationSweep(ctx)
	if err != nil {
		writeTeamCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, expireTeamCartsResponse{
		Expired:    summary.Expired,
		StartedAt:  formatTime(summary.StartedAt),
		DurationMS: summary.Duration.Milliseconds(),
	})
}
