package domain

import "time"

// tokenExpiryLeeway refreshes credentials slightly before Strava rejects them.
const tokenExpiryLeeway = time.Minute

// Athlete is the authenticated Strava identity whose activities are mirrored.
type Athlete struct {
	ID             AthleteID
	Username       string
	Firstname      string
	Lastname       string
	Profile        string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TokenExpired reports whether the stored access token must be refreshed before use.
func (a Athlete) TokenExpired(now time.Time) bool {
	if a.TokenExpiresAt.IsZero() {
		return true
	}
	return !now.Add(tokenExpiryLeeway).Before(a.TokenExpiresAt)
}

// Credentials is the token material returned by the auth provider.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ApplyCredentials replaces the athlete's tokens.
func (a *Athlete) ApplyCredentials(creds Credentials, now time.Time) {
	a.AccessToken = creds.AccessToken
	if creds.RefreshToken != "" {
		a.RefreshToken = creds.RefreshToken
	}
	a.TokenExpiresAt = creds.ExpiresAt
	a.UpdatedAt = now
}
