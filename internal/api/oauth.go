package api

import (
	"crypto/subtle"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"example.com/runhub/internal/auth"
	"example.com/runhub/internal/logging"
)

const (
	stateCookie    = "runhub_oauth_state"
	stateCookieTTL = 600
)

// authorize redirects the browser to Strava's consent screen.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   stateCookieTTL,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusFound)
}

// callback completes the authorization, mirrors the athlete's history and
// hands a session token to the dashboard.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if reason := query.Get("error"); reason != "" {
		writeError(w, http.StatusBadRequest, "access_denied", "strava authorization was not granted")
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(query.Get("state"))) != 1 {
		writeError(w, http.StatusBadRequest, "invalid_state", "oauth state mismatch")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/auth", MaxAge: -1, HttpOnly: true})

	code := query.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing code")
		return
	}

	athlete, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("strava code exchange failed")
		writeError(w, http.StatusBadGateway, "upstream_error", "strava token exchange failed")
		return
	}

	imported, err := h.sync.Authorize(r.Context(), *athlete)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	token, err := auth.Issue(athlete.ID, h.cfg.Auth, h.cfg.Clock())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Int64("athlete_id", int64(athlete.ID)).
		Int("imported", imported).
		Msg("athlete authorized")

	target := h.cfg.FrontendURL + "#token=" + url.QueryEscape(token)
	http.Redirect(w, r, target, http.StatusFound)
}
