package ghapptoken

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Calls reported to an Observer
const (
	CallInstallation = "installation"
	CallAccessToken  = "access_token"
)

// DefaultTimeout bounds each HTTP call made by HTTPTransport
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of a response body is read
const maxResponseBytes = 1 << 20

// Transport performs the two GitHub API calls of the pipeline and returns raw bodies
type Transport interface {
	// FetchInstallation issues GET {baseURL}/orgs/{org}/installation
	FetchInstallation(ctx context.Context, token, org, baseURL string) (string, error)
	// FetchAccessToken issues POST {accessTokensURL}
	FetchAccessToken(ctx context.Context, accessTokensURL, token string) (string, error)
}

// Observer is notified after every HTTP call. statusCode is 0 when no response arrived.
type Observer interface {
	ObserveRequest(call string, duration time.Duration, statusCode int, err error)
}

// Ensure both implementations satisfy Transport
var (
	_ Transport = (*HTTPTransport)(nil)
	_ Transport = (*MockTransport)(nil)
)

// HTTPTransport is the production Transport
type HTTPTransport struct {
	httpClient *http.Client
	userAgent  string
	observer   Observer
}

// HTTPOption configures an HTTPTransport
type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		if client != nil {
			t.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout. A client passed to WithHTTPClient
// is copied first so the caller's value is left untouched.
func WithTimeout(timeout time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		if timeout > 0 {
			client := *t.httpClient
			client.Timeout = timeout
			t.httpClient = &client
		}
	}
}

// WithObserver registers an Observer for request outcomes
func WithObserver(observer Observer) HTTPOption {
	return func(t *HTTPTransport) {
		t.observer = observer
	}
}

// NewHTTPTransport creates a Transport that talks to the GitHub REST API.
// userAgent is computed once by the caller and sent unchanged on every request.
func NewHTTPTransport(userAgent string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		userAgent: userAgent,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FetchInstallation retrieves the organization's installation record
func (t *HTTPTransport) FetchInstallation(ctx context.Context, token, org, baseURL string) (string, error) {
	reqURL := fmt.Sprintf("%s/orgs/%s/installation", strings.TrimSuffix(baseURL, "/"), url.PathEscape(org))
	return t.do(ctx, CallInstallation, http.MethodGet, reqURL, token)
}

// FetchAccessToken exchanges the JWT for an installation access token
func (t *HTTPTransport) FetchAccessToken(ctx context.Context, accessTokensURL, token string) (string, error) {
	return t.do(ctx, CallAccessToken, http.MethodPost, accessTokensURL, token)
}

// do makes an HTTP request with JWT authentication and returns the body
func (t *HTTPTransport) do(ctx context.Context, call, method, reqURL, token string) (body string, err error) {
	start := time.Now()
	statusCode := 0
	defer func() {
		if t.observer != nil {
			t.observer.ObserveRequest(call, time.Since(start), statusCode, err)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, method, reqURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	// Check for HTTP errors
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	return string(bodyBytes), nil
}
