package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/muurk/ryobigdo/internal/logging"
	"github.com/muurk/ryobigdo/internal/version"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the Ryobi cloud HTTP API
	DefaultBaseURL = "https://tti.tiwiconnect.com/api"

	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 15 * time.Second

	// DefaultMaxAttempts is how many times a request is tried before giving up
	DefaultMaxAttempts = 5

	// DefaultRetryDelay is the fixed delay between attempts
	DefaultRetryDelay = 1 * time.Second
)

// ErrNoDevices is returned by Discover when the account has no openers.
var ErrNoDevices = errors.New("no garage door openers registered to this account")

// Discoverer is the part of the cloud API the session layer depends on.
type Discoverer interface {
	Login(ctx context.Context) (*Session, error)
	ListDevices(ctx context.Context) ([]DeviceSummary, error)
	GetDeviceDetail(ctx context.Context, deviceID string) (*DeviceDetail, error)
	Username() string
}

// Client talks to the Ryobi cloud HTTP API.
type Client struct {
	// BaseURL is the API root (e.g., "https://tti.tiwiconnect.com/api")
	BaseURL string

	// HTTPClient is the underlying HTTP client
	HTTPClient *http.Client

	// MaxAttempts bounds the attempts per request, first try included
	MaxAttempts int

	// RetryDelay is the fixed wait between attempts
	RetryDelay time.Duration

	username string
	password string

	mu      sync.RWMutex
	session *Session
}

// NewClient creates a client for the given account.
func NewClient(username, password string) *Client {
	return NewClientWithURL(DefaultBaseURL, username, password)
}

// NewClientWithURL creates a client against a custom API root (used with the simulator).
func NewClientWithURL(baseURL, username, password string) *Client {
	return &Client{
		BaseURL:     baseURL,
		HTTPClient:  &http.Client{Timeout: DefaultTimeout},
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
		username:    username,
		password:    password,
	}
}

// SetRetry configures retry behavior
func (c *Client) SetRetry(maxAttempts int, retryDelay time.Duration) {
	c.MaxAttempts = maxAttempts
	c.RetryDelay = retryDelay
}

// Username returns the account name the client logs in with.
func (c *Client) Username() string {
	return c.username
}

// Session returns the credentials of the last successful login, or nil.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// Login exchanges username and password for the user id and API key.
func (c *Client) Login(ctx context.Context) (*Session, error) {
	body, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return nil, NewParseError("failed to encode login request", err)
	}

	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/login", nil, body, &resp); err != nil {
		return nil, err
	}

	if resp.Result.ID == "" {
		return nil, NewParseError("login response has no user id", nil)
	}
	if resp.Result.Auth.APIKey == "" {
		return nil, NewParseError("login response has no api key", nil)
	}

	sess := &Session{UserID: resp.Result.ID, APIKey: resp.Result.Auth.APIKey}
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	logging.Info("Logged in to Ryobi cloud", zap.String("user_id", sess.UserID))
	return &Session{UserID: sess.UserID, APIKey: sess.APIKey}, nil
}

// ListDevices returns the devices registered to the account.
func (c *Client) ListDevices(ctx context.Context) ([]DeviceSummary, error) {
	var resp devicesResponse
	if err := c.do(ctx, http.MethodGet, "/devices", c.credentials(), nil, &resp); err != nil {
		return nil, err
	}

	devices := make([]DeviceSummary, 0, len(resp.Result))
	for _, entry := range resp.Result {
		if entry.VarName == "" {
			logging.Warn("Skipping device entry without varName")
			continue
		}
		devices = append(devices, entry.summary())
	}

	logging.Debug("Listed devices", zap.Int("count", len(devices)))
	return devices, nil
}

// GetDeviceDetail fetches module routing and the current attribute values
// of one device.
func (c *Client) GetDeviceDetail(ctx context.Context, deviceID string) (*DeviceDetail, error) {
	var resp detailResponse
	path := "/devices/" + url.PathEscape(deviceID)
	if err := c.do(ctx, http.MethodGet, path, c.credentials(), nil, &resp); err != nil {
		return nil, err
	}

	detail, err := parseDetail(&resp)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", deviceID, err)
	}
	return detail, nil
}

func (c *Client) credentials() url.Values {
	return url.Values{"username": {c.username}, "password": {c.password}}
}

// do runs one API call with fixed-delay retries. 401 and parse failures end
// the loop at once; everything else is retried until MaxAttempts.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.RetryDelay), uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	operation := func() error {
		attempt++
		err := c.attempt(ctx, method, path, query, body, out, attempt)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logging.Warn("Cloud API request failed, retrying",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if IsRetryable(err) {
			logging.Error("Cloud API request failed after retries",
				zap.String("path", path), zap.Int("attempts", attempt), zap.Error(err))
		}
		return err
	}
	return nil
}

func (c *Client) attempt(ctx context.Context, method, path string, query url.Values, body []byte, out any, attempt int) error {
	endpoint := c.BaseURL + path
	target := endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return NewNetworkError("failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	logging.LogHTTPRequest(method, endpoint, attempt)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		apiErr := NewNetworkError(method+" "+path+" failed", err)
		apiErr.Endpoint = path
		return apiErr
	}
	defer func() { _ = resp.Body.Close() }()

	logging.LogHTTPResponse(method, endpoint, resp.StatusCode)

	if resp.StatusCode == http.StatusUnauthorized {
		apiErr := NewAuthError("invalid login credentials")
		apiErr.Endpoint = path
		return apiErr
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := NewHTTPError(resp.StatusCode, fmt.Sprintf("%s %s returned status %d", method, path, resp.StatusCode))
		apiErr.Endpoint = path
		return apiErr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewNetworkError("failed to read response body", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		apiErr := NewParseError("failed to parse JSON response", err)
		apiErr.Endpoint = path
		return apiErr
	}

	return nil
}
