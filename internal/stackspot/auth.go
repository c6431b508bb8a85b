// Package stackspot implements the HTTP client for the StackSpot GenAI
// APIs: OAuth2 authentication, agent provisioning, the daily challenge
// fetch and the streaming chat relay.
package stackspot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dailystack/dailystack/internal/config"
)

// ErrMissingCredentials is returned when any of client id, client key or
// realm is unset. It is checked before any network call is attempted.
var ErrMissingCredentials = errors.New("missing client credentials")

// tokenExpiryBuffer is subtracted from the reported token lifetime so a
// token is never used when it could expire mid-request.
const tokenExpiryBuffer = 60 * time.Second

// maxErrorBodySize caps how much of an error response body is read back
// for diagnostics.
const maxErrorBodySize = 8 << 10 // 8KB

// Authenticator obtains and caches an OAuth2 bearer token using the
// client-credentials grant. The mutex serializes refreshes: concurrent
// callers observing a stale token wait for a single request and reuse
// its result.
type Authenticator struct {
	httpClient  *http.Client
	identityURL string
	logger      *slog.Logger
	now         func() time.Time

	mu        sync.Mutex
	creds     config.Credentials
	token     string
	expiresAt time.Time
}

// NewAuthenticator creates an authenticator for the given identity host.
func NewAuthenticator(creds config.Credentials, identityURL string, httpClient *http.Client, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		httpClient:  httpClient,
		identityURL: strings.TrimSuffix(identityURL, "/"),
		logger:      logger,
		now:         time.Now,
		creds:       creds,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token returns a valid bearer token, refreshing it when the cached one
// is absent or within the expiry buffer. A cached token is returned
// without any network traffic.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && a.now().Before(a.expiresAt) {
		return a.token, nil
	}

	if !a.creds.Complete() {
		return "", ErrMissingCredentials
	}

	form := url.Values{
		"client_id":     {a.creds.ClientID},
		"client_secret": {a.creds.ClientKey},
		"grant_type":    {"client_credentials"},
	}
	endpoint := fmt.Sprintf("%s/%s/oidc/oauth/token", a.identityURL, a.creds.Realm)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.Error("Token request failed", "error", err)
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			a.logger.Debug("Failed to close token response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		a.logger.Error("Token request rejected", "status", resp.StatusCode)
		return "", fmt.Errorf("token request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}

	a.token = tr.AccessToken
	a.expiresAt = a.now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenExpiryBuffer)
	a.logger.Info("Access token refreshed", "expires_in_seconds", tr.ExpiresIn)

	return a.token, nil
}

// Reload replaces the credentials and invalidates any cached token,
// forcing re-authentication on next use.
func (a *Authenticator) Reload(creds config.Credentials) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creds = creds
	a.token = ""
	a.expiresAt = time.Time{}
}

// HasCredentials reports whether a complete credential set is loaded.
func (a *Authenticator) HasCredentials() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.creds.Complete()
}
