// Package api is the HTTP client of the benchmark server. It submits runs,
// opens their event streams and manages models and history.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"llmstreambench/internal/bench"
	"llmstreambench/internal/catalog"
	"llmstreambench/internal/history"
	"llmstreambench/internal/stream"
)

// Transport selects how run events are received.
type Transport string

const (
	TransportSSE       Transport = "sse"
	TransportWebSocket Transport = "ws"
)

// ParseTransport accepts "sse" (or empty) and "ws"/"websocket".
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sse":
		return TransportSSE, nil
	case "ws", "websocket":
		return TransportWebSocket, nil
	}
	return "", fmt.Errorf("unknown transport %q (want sse or ws)", s)
}

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("server returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned HTTP %d: %s", e.StatusCode, e.Detail)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Client talks to one server.
type Client struct {
	BaseURL   string
	Transport Transport
	// HTTP is used for every request, including event streams, so it
	// should not carry a Timeout; Timeout below bounds the other calls.
	HTTP    *http.Client
	Dialer  *websocket.Dialer
	Timeout time.Duration
}

// New returns a client for baseURL using the SSE transport.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Transport: TransportSSE,
		HTTP:      &http.Client{},
		Dialer:    websocket.DefaultDialer,
		Timeout:   30 * time.Second,
	}
}

// Submit starts a run and returns its task id.
func (c *Client) Submit(ctx context.Context, cfg bench.TestConfig) (string, error) {
	var resp struct {
		TaskID  string `json:"task_id"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/test", cfg, &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", errors.New("server accepted the run without a task id")
	}
	return resp.TaskID, nil
}

// Open connects to the event stream of taskID.
func (c *Client) Open(ctx context.Context, taskID string) (stream.Source, error) {
	if c.Transport == TransportWebSocket {
		return c.openSocket(ctx, taskID)
	}
	return c.openSSE(ctx, taskID)
}

func (c *Client) openSSE(ctx context.Context, taskID string) (stream.Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/stream/"+url.PathEscape(taskID)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return stream.NewSSESource(resp.Body), nil
}

func (c *Client) openSocket(ctx context.Context, taskID string) (stream.Source, error) {
	u, err := url.Parse(c.url("/api/ws/" + url.PathEscape(taskID)))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, statusError(resp)
		}
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}
	return stream.NewSocketSource(conn), nil
}

// Models lists the server's catalog.
func (c *Client) Models(ctx context.Context) ([]catalog.Info, error) {
	var resp struct {
		Models []catalog.Info `json:"models"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/models", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// Model returns one catalog entry.
func (c *Client) Model(ctx context.Context, name string) (catalog.Info, error) {
	var info catalog.Info
	err := c.call(ctx, http.MethodGet, "/api/models/"+url.PathEscape(name), nil, &info)
	return info, err
}

// AddModel adds a model and returns the server's confirmation.
func (c *Client) AddModel(ctx context.Context, m catalog.Model) (string, error) {
	var resp struct {
		Detail string `json:"detail"`
	}
	err := c.call(ctx, http.MethodPost, "/api/models", m, &resp)
	return resp.Detail, err
}

// History lists up to limit stored runs, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]history.Item, error) {
	path := "/api/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Records []history.Item `json:"records"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// HistoryRecord returns one stored run.
func (c *Client) HistoryRecord(ctx context.Context, id string) (history.Record, error) {
	var resp struct {
		Record history.Record `json:"record"`
	}
	err := c.call(ctx, http.MethodGet, "/api/history/"+url.PathEscape(id), nil, &resp)
	return resp.Record, err
}

// DeleteHistory removes one stored run.
func (c *Client) DeleteHistory(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/history/"+url.PathEscape(id), nil, nil)
}

// ClearHistory removes every stored run.
func (c *Client) ClearHistory(ctx context.Context) error {
	return c.call(ctx, http.MethodDelete, "/api/history", nil, nil)
}

// Health is the server's health report.
type Health struct {
	Status      string `json:"status"`
	ActiveTasks int    `json:"active_tasks"`
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.call(ctx, http.MethodGet, "/api/health", nil, &h)
	return h, err
}

func (c *Client) url(path string) string {
	return c.BaseURL + path
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// call sends a JSON request and decodes a JSON answer into out (if non-nil).
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError reads the server's error body. It understands the detail,
// message and error fields, in that order.
func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	detail := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil {
		switch {
		case body.Detail != "":
			detail = body.Detail
		case body.Message != "":
			detail = body.Message
		case body.Error != "":
			detail = body.Error
		}
	}
	return &StatusError{StatusCode: resp.StatusCode, Detail: detail}
}
