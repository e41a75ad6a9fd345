package zoho

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AuthExchangeError indicates the accounts server rejected a credential
// exchange (revoked or malformed refresh token) or the call itself failed.
// Remediation is re-authentication, not an automatic retry.
type AuthExchangeError struct {
	Reason string
}

func (e *AuthExchangeError) Error() string {
	return "zoho auth exchange failed: " + e.Reason
}

// TokenGrant is the result of an authorization-code or refresh exchange
type TokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	APIDomain    string `json:"api_domain"`
	ExpiresIn    int    `json:"expires_in"`
	Err          string `json:"error"`
}

// TokenBroker exchanges stored refresh credentials for short-lived access
// tokens. Tokens are never cached: every job execution re-exchanges, which
// costs one round trip per run but can never serve a stale credential.
type TokenBroker struct {
	client       *http.Client
	accountsURL  string
	clientID     string
	clientSecret string
	redirectURI  string
}

// NewTokenBroker creates a token broker from configuration
func NewTokenBroker(cfg *viper.Viper) *TokenBroker {
	return &TokenBroker{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		accountsURL:  strings.TrimSuffix(cfg.GetString("zoho.accounts_url"), "/"),
		clientID:     cfg.GetString("zoho.client_id"),
		clientSecret: cfg.GetString("zoho.client_secret"),
		redirectURI:  cfg.GetString("zoho.redirect_uri"),
	}
}

// AuthorizeURL builds the browser redirect URL for the OAuth consent screen
func (b *TokenBroker) AuthorizeURL(state string) string {
	params := url.Values{
		"scope":         {"ZohoCRM.bulk.ALL,ZohoCRM.settings.modules.READ"},
		"client_id":     {b.clientID},
		"response_type": {"code"},
		"redirect_uri":  {b.redirectURI},
		"access_type":   {"offline"},
		"prompt":        {"consent"},
		"state":         {state},
	}
	return b.accountsURL + "/oauth/v2/auth?" + params.Encode()
}

// Exchange trades a refresh token for a fresh access token
func (b *TokenBroker) Exchange(ctx context.Context, refreshToken string) (string, error) {
	grant, err := b.post(ctx, url.Values{
		"refresh_token": {refreshToken},
		"client_id":     {b.clientID},
		"client_secret": {b.clientSecret},
		"grant_type":    {"refresh_token"},
	})
	if err != nil {
		return "", err
	}
	if grant.AccessToken == "" {
		return "", &AuthExchangeError{Reason: "no access token in response"}
	}
	return grant.AccessToken, nil
}

// ExchangeCode trades an authorization code for a token grant. The grant's
// APIDomain must be persisted with the connection: the API is
// geographically sharded and this is the only time Zoho reports it.
func (b *TokenBroker) ExchangeCode(ctx context.Context, code string) (*TokenGrant, error) {
	grant, err := b.post(ctx, url.Values{
		"code":          {code},
		"client_id":     {b.clientID},
		"client_secret": {b.clientSecret},
		"redirect_uri":  {b.redirectURI},
		"grant_type":    {"authorization_code"},
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

func (b *TokenBroker) post(ctx context.Context, params url.Values) (*TokenGrant, error) {
	endpoint := b.accountsURL + "/oauth/v2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(params.Encode()))
	if err != nil {
		return nil, &AuthExchangeError{Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &AuthExchangeError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &AuthExchangeError{Reason: err.Error()}
	}

	var grant TokenGrant
	if err := json.Unmarshal(body, &grant); err != nil {
		return nil, &AuthExchangeError{Reason: fmt.Sprintf("malformed token response: %v", err)}
	}
	if grant.Err != "" {
		return nil, &AuthExchangeError{Reason: grant.Err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &AuthExchangeError{Reason: fmt.Sprintf("token endpoint returned status %d", resp.StatusCode)}
	}
	return &grant, nil
}
