package token

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ad-tracker/analytics-sync-go/internal/apperr"
	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/service/apiclient"
)

// InstagramRefresher extends long-lived Instagram tokens. A token can only be
// extended while it is still valid.
type InstagramRefresher struct {
	client     *apiclient.Client
	refreshURL string
}

// NewInstagramRefresher creates an InstagramRefresher. The refresh call is
// never retried. A non-positive timeout uses 30s.
func NewInstagramRefresher(refreshURL string, httpClient apiclient.HTTPClient, timeout time.Duration) *InstagramRefresher {
	policy := apiclient.DefaultPolicy()
	policy.MaxAttempts = 1
	policy.AttemptTimeout = defaultRefreshTimeout
	if timeout > 0 {
		policy.AttemptTimeout = timeout
	}
	return &InstagramRefresher{
		client:     apiclient.NewClient("instagram_token", httpClient, policy),
		refreshURL: refreshURL,
	}
}

// CanRefresh reports whether the token has not yet expired.
func (r *InstagramRefresher) CanRefresh(cred *models.Credential, now time.Time) bool {
	return cred.AccessToken != "" && !cred.ExpiredAt(now)
}

type instagramRefreshResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Refresh extends the current access token.
func (r *InstagramRefresher) Refresh(ctx context.Context, cred *models.Credential) (*Refreshed, error) {
	var body instagramRefreshResponse
	resp, err := r.client.CallJSON(ctx, &apiclient.Request{
		Method: http.MethodGet,
		URL:    r.refreshURL,
		Query: url.Values{
			"grant_type":   {"ig_refresh_token"},
			"access_token": {cred.AccessToken},
		},
	}, &body)
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %s", apperr.ErrRefreshFailed, apiclient.DecodeError(resp.Body))
		}
		return nil, fmt.Errorf("%w: %w", apperr.ErrRefreshFailed, err)
	}
	if body.AccessToken == "" {
		return nil, fmt.Errorf("%w: response has no access_token", apperr.ErrRefreshFailed)
	}

	return &Refreshed{
		AccessToken: body.AccessToken,
		ExpiresIn:   time.Duration(body.ExpiresIn) * time.Second,
	}, nil
}
