package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Envelope is the response body of every edge API call
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// AuthResult is returned by the register and login endpoints
type AuthResult struct {
	User      UserRecord `json:"user"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// Credentials is the login request body
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HTTPClient implements Store against the edge API
type HTTPClient struct {
	baseURL string
	client  *http.Client

	mu    sync.RWMutex
	token string
}

var _ Store = (*HTTPClient)(nil)

// NewHTTPClient creates a client whose calls give up after timeout
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// SetToken sets the bearer token sent with every request
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *HTTPClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Register creates a user and keeps the returned token
func (c *HTTPClient) Register(ctx context.Context, data NewUser) (*AuthResult, error) {
	var res AuthResult
	if err := c.do(ctx, http.MethodPost, "/users", data, &res); err != nil {
		return nil, err
	}
	c.SetToken(res.Token)
	return &res, nil
}

// Login exchanges credentials for a token and keeps it
func (c *HTTPClient) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	var res AuthResult
	if err := c.do(ctx, http.MethodPost, "/sessions", Credentials{Email: email, Password: password}, &res); err != nil {
		return nil, err
	}
	c.SetToken(res.Token)
	return &res, nil
}

func (c *HTTPClient) GetUser(ctx context.Context, key string) (*UserRecord, error) {
	var u UserRecord
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(key), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *HTTPClient) CreateUser(ctx context.Context, data NewUser) (*UserRecord, error) {
	res, err := c.Register(ctx, data)
	if err != nil {
		return nil, err
	}
	return &res.User, nil
}

func (c *HTTPClient) UpsertCartLine(ctx context.Context, userID string, line LineRecord) error {
	return c.do(ctx, http.MethodPut, cartPath(userID, line.ProductID), line, nil)
}

func (c *HTTPClient) DeleteCartLine(ctx context.Context, userID, productID string) error {
	return c.do(ctx, http.MethodDelete, cartPath(userID, productID), nil, nil)
}

func (c *HTTPClient) ListCartLines(ctx context.Context, userID string) ([]LineRecord, error) {
	lines := make([]LineRecord, 0)
	if err := c.do(ctx, http.MethodGet, cartPath(userID, ""), nil, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

func cartPath(userID, productID string) string {
	path := "/users/" + url.PathEscape(userID) + "/cart"
	if productID != "" {
		path += "/" + url.PathEscape(productID)
	}
	return path
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		}
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if !env.Success {
		return statusError(resp.StatusCode, env.Error)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

func statusError(status int, message string) error {
	switch {
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict:
		return ErrConflict
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", ErrUnavailable, message)
	default:
		return fmt.Errorf("remote: %s (status %d)", message, status)
	}
}
