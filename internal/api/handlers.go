// Package api exposes the runhub HTTP surface.
package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"example.com/runhub/internal/activitysync"
	"example.com/runhub/internal/auth"
	"example.com/runhub/internal/domain"
	"example.com/runhub/internal/logging"
	"example.com/runhub/internal/persistence"
	"example.com/runhub/internal/ratelimit"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 200
	maxBodyBytes     = 1 << 16
)

// SyncService runs the sync engine on behalf of an athlete.
type SyncService interface {
	Reconcile(ctx context.Context, owner domain.AthleteID) (*activitysync.Result, error)
	Import(ctx context.Context, owner domain.AthleteID, params *activitysync.ImportParams) (int, error)
	Authorize(ctx context.Context, athlete domain.Athlete) (int, error)
}

// OAuthProvider performs the Strava authorization-code flow.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*domain.Athlete, error)
}

// BadgeReader lists awarded badges.
type BadgeReader interface {
	Earned(ctx context.Context, owner domain.AthleteID) ([]domain.EarnedBadge, error)
}

// Config carries the settings handlers need beyond their collaborators.
type Config struct {
	Auth        auth.Config
	FrontendURL string
	// SecureCookies marks the OAuth state cookie Secure.
	SecureCookies bool
	Clock         func() time.Time
}

// Handler coordinates HTTP requests with the runhub services.
type Handler struct {
	service *domain.Service
	sync    SyncService
	oauth   OAuthProvider
	badges  BadgeReader
	limiter ratelimit.Limiter
	cfg     Config
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, sync SyncService, oauth OAuthProvider, badges BadgeReader, limiter ratelimit.Limiter, cfg Config) *Handler {
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Handler{
		service: service,
		sync:    sync,
		oauth:   oauth,
		badges:  badges,
		limiter: limiter,
		cfg:     cfg,
	}
}

// RegisterRoutes wires endpoints to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", healthz)

	r.Get("/auth/strava", h.authorize)
	r.Get("/auth/strava/callback", h.callback)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/athlete", h.getAthlete)
		r.Get("/activities", h.listActivities)
		r.Post("/activities/import", h.importActivities)
		r.Post("/activities/refresh", h.refreshActivities)
		r.Get("/badges", h.listBadges)
	})
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) getAthlete(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	athlete, err := h.service.GetAthlete(r.Context(), claims.AthleteID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAthleteView(*athlete))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	limit := defaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxPageLimit)
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	activities, next, err := h.service.ListActivities(r.Context(), claims.AthleteID, cursor, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      rawPayloads(activities),
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) importActivities(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to read body")
		return
	}
	var req ImportRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
	}
	if err := validateRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	inserted, err := h.sync.Import(r.Context(), claims.AthleteID, req.Params())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ImportResponse{Inserted: inserted})
}

func (h *Handler) refreshActivities(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	if h.limiter != nil {
		if allowed, wait := h.limiter.Allow(claims.AthleteID.String()); !allowed {
			seconds := retryAfterSeconds(wait)
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeJSON(w, http.StatusTooManyRequests, RateLimitedResponse{
				Type:       "rate_limited",
				Detail:     "refresh limit reached, try again later",
				RetryAfter: seconds,
			})
			return
		}
	}

	result, err := h.sync.Reconcile(r.Context(), claims.AthleteID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, RefreshResponse{
		Activities:            rawPayloads(result.Activities),
		Changes:               result.Changes,
		ProcessingTimeSeconds: result.ProcessingTime.Seconds(),
		TotalActivities:       result.TotalActivities,
	})
}

func (h *Handler) listBadges(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	earned, err := h.badges.Earned(r.Context(), claims.AthleteID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	items := make([]BadgeView, 0, len(earned))
	for _, badge := range earned {
		items = append(items, toBadgeView(badge))
	}
	writeJSON(w, http.StatusOK, ListBadgesResponse{Items: items})
}

// writeServiceError maps service sentinels onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrAthleteNotFound):
		writeError(w, http.StatusNotFound, "not_found", "athlete not found")
	case errors.Is(err, activitysync.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "strava_unauthorized", "strava authorization expired, sign in again")
	case errors.Is(err, activitysync.ErrUpstream):
		writeError(w, http.StatusBadGateway, "upstream_error", "strava request failed")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusRequestTimeout, "canceled", "request canceled")
	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func retryAfterSeconds(wait time.Duration) int {
	seconds := int((wait + time.Second - 1) / time.Second)
	return max(seconds, 1)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
