package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"signsync/internal/config"
	"signsync/internal/logging"
	"signsync/internal/services"
)

// HTTPDoer describes the HTTP client used by the server client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the collection server and the blob store it delegates to.
type Client struct {
	baseURL    string
	appVersion string
	client     HTTPDoer
	probe      HTTPDoer
	transfer   HTTPDoer // blob session traffic, no whole-request timeout
	logger     *slog.Logger
}

// New builds a client from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.Server.BaseURL, "/"),
		appVersion: cfg.Server.AppVersion,
		client:     newHTTPClient(cfg.RequestTimeout()),
		probe:      newHTTPClient(cfg.ProbeTimeout()),
		transfer:   newTransferClient(cfg.RequestTimeout()),
		logger:     logging.NewComponentLogger(logger, "server"),
	}
}

// newHTTPClient never follows redirects: a 308 from the blob store means
// "resume incomplete", not a new location.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// newTransferClient bounds connection setup and the wait for response headers
// by stall, leaving the body transfer limited only by the request context.
func newTransferClient(stall time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   stall,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = stall
	transport.ResponseHeaderTimeout = stall
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// NewWithDoer builds a client over an explicit HTTP implementation.
func NewWithDoer(baseURL, appVersion string, doer HTTPDoer, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		appVersion: appVersion,
		client:     doer,
		probe:      doer,
		transfer:   doer,
		logger:     logging.NewComponentLogger(logger, "server"),
	}
}

// BaseURL returns the server root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s returned %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s returned %d", e.Op, e.StatusCode)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

func classifyStatus(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	marker := services.ErrTransient
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		marker = services.ErrUnauthorized
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		marker = services.ErrValidation
	case http.StatusNotFound:
		marker = services.ErrNotFound
	}
	return services.Wrap(marker, "server", op, "unexpected status", statusErr)
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// postForm sends an authenticated form POST. The caller owns the response
// body on success.
func (c *Client) postForm(ctx context.Context, doer HTTPDoer, endpoint, token string, values url.Values) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "server", endpoint, "server base url not configured", nil)
	}
	if values == nil {
		values = url.Values{}
	}
	values.Set("app_version", c.appVersion)
	values.Set("login_token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := doer.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "server", endpoint, "request failed", err)
	}
	c.logger.Debug("server request",
		logging.String("endpoint", endpoint),
		logging.Int("status", resp.StatusCode),
	)
	if !isSuccess(resp.StatusCode) {
		defer resp.Body.Close()
		return nil, classifyStatus(endpoint, resp)
	}
	return resp, nil
}

func (c *Client) postFormJSON(ctx context.Context, endpoint, token string, values url.Values, dst any) error {
	resp, err := c.postForm(ctx, c.client, endpoint, token, values)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if dst == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return services.Wrap(services.ErrTransient, "server", endpoint, "decode response", err)
	}
	return nil
}

// IsAuthenticated probes connectivity and token validity with the short
// probe timeout.
func (c *Client) IsAuthenticated(ctx context.Context, token string) (bool, error) {
	resp, err := c.postForm(ctx, c.probe, "is_authenticated", token, nil)
	if err != nil {
		if errors.Is(err, services.ErrUnauthorized) {
			return false, nil
		}
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return true, nil
}

// RegisterLogin registers newToken with the server. adminToken must carry
// admin rights.
func (c *Client) RegisterLogin(ctx context.Context, adminToken, newToken string) error {
	values := url.Values{}
	values.Set("new_login_token", newToken)
	return c.postFormJSON(ctx, "register_login", adminToken, values, nil)
}

// Directive is one server-issued command.
type Directive struct {
	ID    int64  `json:"id"`
	Op    string `json:"op"`
	Value string `json:"value"`
}

// Directives fetches pending directives for token.
func (c *Client) Directives(ctx context.Context, token string) ([]Directive, error) {
	var payload struct {
		Directives []Directive `json:"directives"`
	}
	if err := c.postFormJSON(ctx, "directives", token, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Directives, nil
}

// DirectiveCompleted acknowledges a directive.
func (c *Client) DirectiveCompleted(ctx context.Context, token string, id int64) error {
	values := url.Values{}
	values.Set("id", strconv.FormatInt(id, 10))
	return c.postFormJSON(ctx, "directive_completed", token, values, nil)
}

// Save uploads a batch of staged records as a JSON array under "data".
func (c *Client) Save(ctx context.Context, token string, batch any) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return services.Wrap(services.ErrValidation, "server", "save", "encode batch", err)
	}
	values := url.Values{}
	values.Set("data", string(data))
	return c.postFormJSON(ctx, "save", token, values, nil)
}

// SaveState uploads a full state snapshot.
func (c *Client) SaveState(ctx context.Context, token string, state any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return services.Wrap(services.ErrValidation, "server", "save_state", "encode state", err)
	}
	values := url.Values{}
	values.Set("state", string(data))
	return c.postFormJSON(ctx, "save_state", token, values, nil)
}

// Prompts downloads the raw prompts document.
func (c *Client) Prompts(ctx context.Context, token string) ([]byte, error) {
	resp, err := c.postForm(ctx, c.client, "prompts", token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "server", "prompts", "read body", err)
	}
	return data, nil
}

// DownloadResource streams the named resource into w.
func (c *Client) DownloadResource(ctx context.Context, token, path string, w io.Writer) (int64, error) {
	values := url.Values{}
	values.Set("path", path)
	resp, err := c.postForm(ctx, c.client, "resource", token, values)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, services.Wrap(services.ErrTransient, "server", "resource", "read body", err)
	}
	return n, nil
}
