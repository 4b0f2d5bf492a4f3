package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client request constants.
const (
	// defaultTimeout is used when the config does not supply one.
	defaultTimeout = 15 * time.Second

	// maxResponseSize caps API response bodies (4MB).
	// Device lists are small; this guards against a misbehaving endpoint.
	maxResponseSize = 4 << 20
)

// Config contains vendor API connection settings.
type Config struct {
	// AuthBaseURL is the base URL for OAuth endpoints (login, refresh, link).
	AuthBaseURL string

	// APIBaseURL is the base URL for user/device endpoints.
	APIBaseURL string

	// Timeout is the per-request timeout. Zero means the default.
	Timeout time.Duration
}

// Client talks to the vendor cloud HTTP API.
//
// It covers the authentication endpoints (login, refresh, federated link),
// device enumeration, and the direct device-action endpoint used as the
// alternate command path when no pub/sub connection is available.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a vendor API client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// TokenTriple is the credential set returned by login and refresh.
type TokenTriple struct {
	AccessToken   string
	RefreshToken  string
	ExpirySeconds int
}

// tokenResponse is the wire shape of login/refresh responses.
type tokenResponse struct {
	AccessToken   string `json:"oat"`
	RefreshToken  string `json:"ort"`
	ExpirySeconds int    `json:"oatExpire"`
}

// linkResponse is the wire shape of the federated-link response.
type linkResponse struct {
	UserIndex int    `json:"userIndex"`
	UserID    string `json:"userId"`
}

// Login exchanges account credentials for a token triple.
//
// A rejected credential set returns ErrAuthFailed; transport failures and
// unexpected statuses return ErrRequestFailed.
func (c *Client) Login(ctx context.Context, emailPhone, password string) (TokenTriple, error) {
	form := url.Values{
		"userEmailPhone": {emailPhone},
		"userPass":       {password},
	}

	var resp tokenResponse
	if err := c.postForm(ctx, c.cfg.AuthBaseURL+"/oauth/login", "", form, &resp); err != nil {
		return TokenTriple{}, fmt.Errorf("login: %w", err)
	}

	return TokenTriple{
		AccessToken:   resp.AccessToken,
		RefreshToken:  resp.RefreshToken,
		ExpirySeconds: resp.ExpirySeconds,
	}, nil
}

// Refresh exchanges a refresh token for a new token triple.
//
// A rejected refresh token returns ErrAuthFailed, which callers must treat
// as terminal for the stored session (clear and re-login). Transient
// failures return ErrRequestFailed and leave the stored session usable.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenTriple, error) {
	form := url.Values{
		"ort": {refreshToken},
	}

	var resp tokenResponse
	if err := c.postForm(ctx, c.cfg.AuthBaseURL+"/oauth/refresh", "", form, &resp); err != nil {
		return TokenTriple{}, fmt.Errorf("refresh: %w", err)
	}

	return TokenTriple{
		AccessToken:   resp.AccessToken,
		RefreshToken:  resp.RefreshToken,
		ExpirySeconds: resp.ExpirySeconds,
	}, nil
}

// FederatedLink resolves the numeric user index and opaque user id for an
// access token. Both are required for subsequent device calls.
func (c *Client) FederatedLink(ctx context.Context, accessToken string) (userIndex int, userID string, err error) {
	form := url.Values{
		"oat": {accessToken},
	}

	var resp linkResponse
	if err := c.postForm(ctx, c.cfg.AuthBaseURL+"/oauth/federated-link", accessToken, form, &resp); err != nil {
		return 0, "", fmt.Errorf("federated link: %w", err)
	}

	return resp.UserIndex, resp.UserID, nil
}

// postForm issues a form-encoded POST and decodes the JSON response.
// bearer, if non-empty, is sent as an Authorization header.
func (c *Client) postForm(ctx context.Context, endpoint, bearer string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: building request: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	return c.do(req, out)
}

// do executes a request and decodes the JSON response body into out.
// Auth-endpoint rejections map to ErrAuthFailed; everything else that is
// not a 2xx maps to ErrRequestFailed.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read side only

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: reading response: %w", ErrRequestFailed, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fallthrough to decode
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrDeviceNotFound, resp.StatusCode)
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrRequestFailed, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", ErrRequestFailed, err)
	}
	return nil
}
