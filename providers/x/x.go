// Package x implements the providers.Provider interface for X (formerly
// Twitter) OAuth 2.0 with PKCE. The confidential client secret is only ever
// used here, server-side; browsers see nothing but the authorization URL.
package x

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/questline/authbridge/providers"
)

const (
	// DefaultAuthBaseURL hosts the user-facing authorization page
	DefaultAuthBaseURL = "https://x.com"

	// DefaultAPIBaseURL hosts the token, revocation, and identity endpoints
	DefaultAPIBaseURL = "https://api.x.com"

	// defaultHTTPTimeout bounds every outbound call to X so a hung provider
	// endpoint cannot stall a login indefinitely
	defaultHTTPTimeout = 30 * time.Second
)

// Provider implements providers.Provider for X.
type Provider struct {
	config     *oauth2.Config
	httpClient *http.Client
	apiBaseURL string
}

// Config holds X OAuth configuration
type Config struct {
	// ClientID is the X OAuth 2.0 client ID (required)
	ClientID string

	// ClientSecret is the confidential client secret (required)
	ClientSecret string

	// RedirectURL is where X redirects after authentication (required)
	RedirectURL string

	// Scopes requested on the authorization URL.
	// Defaults to users.read, tweet.read, offline.access
	// (offline.access is what makes X return a refresh token).
	Scopes []string

	// AuthBaseURL overrides the authorization page host (tests)
	AuthBaseURL string

	// APIBaseURL overrides the API host (tests)
	APIBaseURL string

	// HTTPClient is an optional custom HTTP client
	HTTPClient *http.Client
}

// New creates a new X OAuth provider
func New(cfg *Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"users.read", "tweet.read", "offline.access"}
	}

	authBase := strings.TrimRight(cfg.AuthBaseURL, "/")
	if authBase == "" {
		authBase = DefaultAuthBaseURL
	}
	apiBase := strings.TrimRight(cfg.APIBaseURL, "/")
	if apiBase == "" {
		apiBase = DefaultAPIBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authBase + "/i/oauth2/authorize",
				TokenURL: apiBase + "/2/oauth2/token",
				// X requires confidential clients to authenticate with
				// HTTP basic auth at the token endpoint
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient: httpClient,
		apiBaseURL: apiBase,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "x"
}

// AuthorizationURL generates the X authorization URL with PKCE parameters
func (p *Provider) AuthorizationURL(state, codeChallenge, codeChallengeMethod string) string {
	var opts []oauth2.AuthCodeOption
	if codeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", codeChallengeMethod),
		)
	}
	return p.config.AuthCodeURL(state, opts...)
}

// ExchangeCode exchanges an authorization code for provider tokens. The PKCE
// verifier accompanies the code; X rejects exchanges whose verifier does not
// derive the challenge sent on the authorization URL.
func (p *Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error) {
	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.config.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return token, nil
}

// RefreshToken refreshes an expired token using a refresh token.
// X rotates refresh tokens on every use; if a response ever omits the new
// refresh token, the old one is carried over so the set stays renewable.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tokenSource := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	newToken, err := tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	if newToken.RefreshToken == "" {
		newToken.RefreshToken = refreshToken
	}

	return newToken, nil
}

// FetchProfile retrieves the identity profile for an access token from the
// /2/users/me endpoint.
func (p *Provider) FetchProfile(ctx context.Context, accessToken string) (*providers.Profile, error) {
	endpoint := p.apiBaseURL + "/2/users/me?user.fields=" + url.QueryEscape("profile_image_url,verified,public_metrics")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile request failed with status %d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			ID              string `json:"id"`
			Name            string `json:"name"`
			Username        string `json:"username"`
			ProfileImageURL string `json:"profile_image_url"`
			Verified        bool   `json:"verified"`
			PublicMetrics   struct {
				FollowersCount int `json:"followers_count"`
				FollowingCount int `json:"following_count"`
			} `json:"public_metrics"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode user profile: %w", err)
	}
	if payload.Data.Username == "" {
		return nil, fmt.Errorf("profile response missing username")
	}

	return &providers.Profile{
		ID:             payload.Data.ID,
		Handle:         payload.Data.Username,
		DisplayName:    payload.Data.Name,
		AvatarURL:      payload.Data.ProfileImageURL,
		Verified:       payload.Data.Verified,
		FollowersCount: payload.Data.PublicMetrics.FollowersCount,
		FollowingCount: payload.Data.PublicMetrics.FollowingCount,
	}, nil
}

// RevokeToken revokes a token at X's revocation endpoint
func (p *Provider) RevokeToken(ctx context.Context, token string) error {
	data := url.Values{}
	data.Set("token", token)
	data.Set("client_id", p.config.ClientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.apiBaseURL+"/2/oauth2/revoke", strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.config.ClientID, p.config.ClientSecret)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token revocation failed with status %d", resp.StatusCode)
	}

	return nil
}

// HealthCheck verifies the X API host is reachable. The token endpoint
// answers unauthenticated POSTs with a 4xx, which is good enough to prove
// reachability without spending a real credential.
func (p *Provider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint.TokenURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build health check request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	return nil
}
