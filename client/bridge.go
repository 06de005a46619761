package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/questline/authbridge"
	"github.com/questline/authbridge/internal/util"
)

const (
	defaultBridgeTimeout  = 20 * time.Second
	maxBridgeResponseBody = 1 << 20
)

// Bridge is the client's view of the confidential exchange backend.
type Bridge interface {
	// Exchange trades an authorization code and verifier for tokens,
	// profile, and optionally a session token
	Exchange(ctx context.Context, req authbridge.ExchangeRequest) (*authbridge.ExchangeResponse, error)

	// Refresh trades a refresh token for a fresh token set
	Refresh(ctx context.Context, refreshToken string) (*authbridge.RefreshResponse, error)

	// Revoke revokes a provider token, best effort
	Revoke(ctx context.Context, token, tokenTypeHint string) error
}

// BridgeError is a wire error returned by the bridge, preserving the flow
// error code so callers can branch on it.
type BridgeError struct {
	Code        string
	Description string
	Status      int
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("bridge: %s: %s", e.Code, e.Description)
}

// ErrBridgeTimeout indicates the bridge itself did not answer in time.
var ErrBridgeTimeout = errors.New("bridge request timed out")

// BridgeConfig holds settings for the HTTP bridge client.
type BridgeConfig struct {
	// BaseURL is the bridge server root, e.g. "https://auth.example.com"
	BaseURL string

	// RequestTimeout bounds each request (default 20s)
	RequestTimeout time.Duration

	// HTTPClient overrides the transport; nil uses a default client
	HTTPClient *http.Client
}

// HTTPBridge is the HTTP implementation of Bridge.
type HTTPBridge struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPBridge creates a bridge client.
func NewHTTPBridge(cfg BridgeConfig) (*HTTPBridge, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("bridge base URL is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultBridgeTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &HTTPBridge{
		baseURL:    util.NormalizeBase(cfg.BaseURL),
		httpClient: cfg.HTTPClient,
	}, nil
}

// Exchange implements Bridge.
func (b *HTTPBridge) Exchange(ctx context.Context, req authbridge.ExchangeRequest) (*authbridge.ExchangeResponse, error) {
	var resp authbridge.ExchangeResponse
	if err := b.post(ctx, "/auth/exchange", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refresh implements Bridge.
func (b *HTTPBridge) Refresh(ctx context.Context, refreshToken string) (*authbridge.RefreshResponse, error) {
	var resp authbridge.RefreshResponse
	if err := b.post(ctx, "/auth/refresh", authbridge.RefreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Revoke implements Bridge.
func (b *HTTPBridge) Revoke(ctx context.Context, token, tokenTypeHint string) error {
	return b.post(ctx, "/auth/revoke", authbridge.RevokeRequest{Token: token, TokenTypeHint: tokenTypeHint}, nil)
}

func (b *HTTPBridge) post(ctx context.Context, path string, reqBody, respBody any) error {
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if isTimeoutErr(err) {
			return fmt.Errorf("%w: %v", ErrBridgeTimeout, err)
		}
		return fmt.Errorf("bridge request failed: %w", err)
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxBridgeResponseBody)

	if resp.StatusCode != http.StatusOK {
		var wireErr authbridge.ErrorResponse
		if decodeErr := json.NewDecoder(body).Decode(&wireErr); decodeErr != nil || wireErr.Error == "" {
			return &BridgeError{
				Code:        authbridge.ErrorCodeServerError,
				Description: fmt.Sprintf("unexpected status %d", resp.StatusCode),
				Status:      resp.StatusCode,
			}
		}
		return &BridgeError{
			Code:        wireErr.Error,
			Description: wireErr.ErrorDescription,
			Status:      resp.StatusCode,
		}
	}

	if respBody == nil {
		return nil
	}
	if err := json.NewDecoder(body).Decode(respBody); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var _ Bridge = (*HTTPBridge)(nil)
