// Package accounts is the client for the external account service that links
// provider identities to application accounts. Lookup and Create return the
// application session token when the service issues one; Update is best
// effort and must never fail a login.
package accounts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/questline/authbridge/internal/util"
	"github.com/questline/authbridge/providers"
)

const (
	defaultRequestTimeout = 10 * time.Second

	// maxResponseBody bounds account-service response reads
	maxResponseBody = 1 << 20
)

// Service is the account-service surface the bridge depends on.
type Service interface {
	// Lookup finds an existing account by provider handle. Returns the
	// session token when the account exists, found=false when it doesn't.
	Lookup(ctx context.Context, handle string) (token string, found bool, err error)

	// Create provisions an account from a provider profile. referralCode
	// may be empty.
	Create(ctx context.Context, profile *providers.Profile, referralCode string) (token string, err error)

	// Update pushes refreshed profile fields onto an existing account,
	// authenticated with the account's session token.
	Update(ctx context.Context, sessionToken string, profile *providers.Profile) error
}

// Config holds account-service client settings.
type Config struct {
	// BaseURL is the account service root, e.g. "https://accounts.internal"
	BaseURL string

	// APIKey is an optional service-to-service key sent as X-Api-Key
	APIKey string

	// RequestTimeout bounds each request (default 10s)
	RequestTimeout time.Duration

	// HTTPClient overrides the transport; nil uses a default client
	HTTPClient *http.Client

	// Logger receives degraded-operation warnings; nil falls back to
	// slog.Default()
	Logger *slog.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("account service base URL is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid account service base URL: %w", err)
	}
	return nil
}

// Client is the HTTP implementation of Service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an account-service client.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:    util.NormalizeBase(cfg.BaseURL),
		apiKey:     cfg.APIKey,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}, nil
}

// resultEnvelope is the account service's response wrapper.
type resultEnvelope struct {
	Result struct {
		Token string `json:"token"`
	} `json:"result"`
	Error string `json:"error"`
}

// createRequest is the account-provisioning payload.
type createRequest struct {
	ProviderID     string `json:"provider_id"`
	Handle         string `json:"handle"`
	DisplayName    string `json:"display_name"`
	AvatarURL      string `json:"avatar_url,omitempty"`
	Verified       bool   `json:"verified"`
	FollowersCount int    `json:"followers_count"`
	FollowingCount int    `json:"following_count"`
	ReferralCode   string `json:"referral_code,omitempty"`
}

// updateRequest carries the refreshable profile fields.
type updateRequest struct {
	DisplayName    string `json:"display_name"`
	AvatarURL      string `json:"avatar_url,omitempty"`
	Verified       bool   `json:"verified"`
	FollowersCount int    `json:"followers_count"`
	FollowingCount int    `json:"following_count"`
}

// Lookup implements Service.
func (c *Client) Lookup(ctx context.Context, handle string) (string, bool, error) {
	endpoint := c.baseURL + "/accounts/" + url.PathEscape(handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", false, fmt.Errorf("creating lookup request: %w", err)
	}
	c.setHeaders(req, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("account lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("account lookup returned status %d", resp.StatusCode)
	}

	var env resultEnvelope
	if err := decodeBody(resp.Body, &env); err != nil {
		return "", false, fmt.Errorf("decoding lookup response: %w", err)
	}
	if env.Result.Token == "" {
		// The account exists but the service issued no token; callers
		// treat this the same as not found and fall through to create.
		return "", false, nil
	}
	return env.Result.Token, true, nil
}

// Create implements Service.
func (c *Client) Create(ctx context.Context, profile *providers.Profile, referralCode string) (string, error) {
	payload := createRequest{
		ProviderID:     profile.ID,
		Handle:         profile.Handle,
		DisplayName:    profile.DisplayName,
		AvatarURL:      profile.AvatarURL,
		Verified:       profile.Verified,
		FollowersCount: profile.FollowersCount,
		FollowingCount: profile.FollowingCount,
		ReferralCode:   referralCode,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/accounts", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating create request: %w", err)
	}
	c.setHeaders(req, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("account create request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var env resultEnvelope
		_ = decodeBody(resp.Body, &env)
		if env.Error != "" {
			return "", fmt.Errorf("account create returned status %d: %s", resp.StatusCode, env.Error)
		}
		return "", fmt.Errorf("account create returned status %d", resp.StatusCode)
	}

	var env resultEnvelope
	if err := decodeBody(resp.Body, &env); err != nil {
		return "", fmt.Errorf("decoding create response: %w", err)
	}
	return env.Result.Token, nil
}

// Update implements Service.
func (c *Client) Update(ctx context.Context, sessionToken string, profile *providers.Profile) error {
	payload := updateRequest{
		DisplayName:    profile.DisplayName,
		AvatarURL:      profile.AvatarURL,
		Verified:       profile.Verified,
		FollowersCount: profile.FollowersCount,
		FollowingCount: profile.FollowingCount,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding update request: %w", err)
	}

	endpoint := c.baseURL + "/accounts/" + url.PathEscape(profile.Handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating update request: %w", err)
	}
	c.setHeaders(req, sessionToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("account update request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("account update returned status %d", resp.StatusCode)
	}
	return nil
}

// HealthCheck verifies the account service is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("creating health check request: %w", err)
	}
	c.setHeaders(req, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("account service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("account service health check returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, sessionToken string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	if sessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+sessionToken)
	}
}

func decodeBody(r io.Reader, v any) error {
	return json.NewDecoder(io.LimitReader(r, maxResponseBody)).Decode(v)
}

var _ Service = (*Client)(nil)
