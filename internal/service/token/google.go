package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/ad-tracker/analytics-sync-go/internal/apperr"
	"github.com/ad-tracker/analytics-sync-go/internal/config"
	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
)

// defaultRefreshTimeout bounds one token endpoint call.
const defaultRefreshTimeout = 30 * time.Second

// GoogleRefresher refreshes YouTube credentials against the Google token endpoint.
type GoogleRefresher struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	timeout    time.Duration
}

// NewGoogleRefresher creates a GoogleRefresher. A nil httpClient uses the
// oauth2 default client. A non-positive timeout uses 30s.
func NewGoogleRefresher(cfg config.GoogleOAuthConfig, httpClient *http.Client, timeout time.Duration) *GoogleRefresher {
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}

	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	return &GoogleRefresher{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
		},
		httpClient: httpClient,
		timeout:    timeout,
	}
}

// CanRefresh reports whether a refresh token is stored.
func (r *GoogleRefresher) CanRefresh(cred *models.Credential, _ time.Time) bool {
	return cred.HasRefreshToken()
}

// Refresh exchanges the stored refresh token. The call is made once.
func (r *GoogleRefresher) Refresh(ctx context.Context, cred *models.Credential) (*Refreshed, error) {
	if !cred.HasRefreshToken() {
		return nil, apperr.ErrRefreshUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}

	// An empty access token forces the source to hit the token endpoint.
	tok, err := r.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: *cred.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperr.ErrRefreshFailed, upstreamMessage(err))
	}

	out := &Refreshed{AccessToken: tok.AccessToken}
	if tok.RefreshToken != "" && tok.RefreshToken != *cred.RefreshToken {
		rotated := tok.RefreshToken
		out.RefreshToken = &rotated
	}
	if !tok.Expiry.IsZero() {
		out.ExpiresIn = time.Until(tok.Expiry).Round(time.Second)
	}
	return out, nil
}

// upstreamMessage returns the token endpoint's own error text when available.
func upstreamMessage(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && len(re.Body) > 0 {
		return string(re.Body)
	}
	return err.Error()
}
