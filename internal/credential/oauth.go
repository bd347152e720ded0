package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"brokergateway/internal/gwerrors"
)

// OAuthClient exchanges a refresh token for a new access token against the
// broker's token endpoint, using the same form-encoded POST + timeout-bound
// http.Client shape as the rest of this codebase's external HTTP clients.
type OAuthClient struct {
	tokenURL   string
	httpClient *http.Client
}

// NewOAuthClient constructs an OAuthClient targeting tokenURL.
func NewOAuthClient(tokenURL string) *OAuthClient {
	return &OAuthClient{
		tokenURL:   tokenURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Refresh performs the refresh_token grant for one user's credentials and
// returns the new access token, refresh token (the broker may rotate it),
// and absolute expiry.
func (c *OAuthClient) Refresh(ctx context.Context, creds Credentials) (accessToken, refreshToken string, expiry time.Time, err error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", creds.RefreshToken)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("%w: %v", gwerrors.ErrRefreshFailed, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return "", "", time.Time{}, fmt.Errorf("%w: status %d: %s", gwerrors.ErrRefreshFailed, res.StatusCode, string(b))
	}

	var out refreshResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", "", time.Time{}, fmt.Errorf("%w: decode response: %v", gwerrors.ErrRefreshFailed, err)
	}

	newRefresh := out.RefreshToken
	if newRefresh == "" {
		newRefresh = creds.RefreshToken
	}
	return out.AccessToken, newRefresh, time.Now().Add(time.Duration(out.ExpiresIn) * time.Second), nil
}
