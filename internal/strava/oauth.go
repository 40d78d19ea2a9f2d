package strava

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"example.com/runhub/internal/domain"
)

// Endpoint is Strava's OAuth 2.0 endpoint. Client credentials travel in the form body.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://www.strava.com/oauth/authorize",
	TokenURL:  "https://www.strava.com/oauth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Scope requested on authorization; Strava expects a comma-separated list.
const Scope = "read,activity:read"

// ErrMissingAthlete is returned when a token response carries no athlete summary.
var ErrMissingAthlete = errors.New("strava token response missing athlete")

// OAuthConfig configures the OAuth application.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint overrides the production endpoint, mostly for tests.
	Endpoint   *oauth2.Endpoint
	HTTPClient *http.Client
}

// OAuth performs the authorization-code exchange and token refresh.
type OAuth struct {
	cfg        *oauth2.Config
	httpClient *http.Client
}

// NewOAuth constructs an OAuth helper.
func NewOAuth(cfg OAuthConfig) *OAuth {
	endpoint := Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	return &OAuth{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{Scope},
			RedirectURL:  cfg.RedirectURL,
		},
		httpClient: cfg.HTTPClient,
	}
}

// AuthCodeURL returns the authorize URL, always forcing the approval prompt.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "force"))
}

// Exchange trades an authorization code for credentials and the athlete summary.
func (o *OAuth) Exchange(ctx context.Context, code string) (*domain.Athlete, error) {
	token, err := o.cfg.Exchange(o.context(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("strava token exchange: %w", err)
	}

	athlete, err := athleteFromToken(token)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	athlete.CreatedAt = now
	athlete.ApplyCredentials(credentialsFromToken(token), now)
	return athlete, nil
}

// Refresh exchanges a refresh token for new credentials.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (domain.Credentials, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return domain.Credentials{}, errors.New("strava token refresh: empty refresh token")
	}
	stale := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}
	token, err := o.cfg.TokenSource(o.context(ctx), stale).Token()
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("strava token refresh: %w", err)
	}
	return credentialsFromToken(token), nil
}

func (o *OAuth) context(ctx context.Context) context.Context {
	if o.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

func credentialsFromToken(token *oauth2.Token) domain.Credentials {
	creds := domain.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry.UTC(),
	}
	if expiresAt, ok := token.Extra("expires_at").(float64); ok && expiresAt > 0 {
		creds.ExpiresAt = time.Unix(int64(expiresAt), 0).UTC()
	}
	return creds
}

func athleteFromToken(token *oauth2.Token) (*domain.Athlete, error) {
	summary, ok := token.Extra("athlete").(map[string]interface{})
	if !ok {
		return nil, ErrMissingAthlete
	}
	rawID, ok := summary["id"].(float64)
	if !ok || rawID <= 0 {
		return nil, ErrMissingAthlete
	}
	str := func(key string) string {
		value, _ := summary[key].(string)
		return value
	}
	return &domain.Athlete{
		ID:        domain.AthleteID(int64(rawID)),
		Username:  str("username"),
		Firstname: str("firstname"),
		Lastname:  str("lastname"),
		Profile:   str("profile"),
	}, nil
}
