// Package api is the HTTP client for the agent's read-only resources and
// command endpoints. Every failure crossing this package is a *TransportError.
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
)

// Resource names a remote resource or command.
type Resource string

const (
	ResourceStatus       Resource = "status"
	ResourceTraces       Resource = "traces"
	ResourceIncidents    Resource = "incidents"
	ResourceDreamReports Resource = "dream-reports"
	ResourceRules        Resource = "rules"
	CommandAsk           Resource = "ask"
	CommandDream         Resource = "dream"
)

var resourcePaths = map[Resource]string{
	ResourceStatus:       "/api/status",
	ResourceTraces:       "/api/traces",
	ResourceIncidents:    "/api/vigil/incidents",
	ResourceDreamReports: "/api/dream-reports",
	ResourceRules:        "/api/rules",
	CommandAsk:           "/api/ask",
	CommandDream:         "/api/dream",
}

// Path returns the URL path for a resource, or "" when it is unknown.
func (r Resource) Path() string {
	return resourcePaths[r]
}

const errorBodyLimit = 240

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout enforced by the transport. Zero
// disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = timeout
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchResource issues a GET for the named resource.
func (c *Client) FetchResource(ctx context.Context, name Resource, query url.Values) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, name, query, nil)
}

// SubmitCommand POSTs payload as JSON to the named command.
func (c *Client) SubmitCommand(ctx context.Context, name Resource, payload any) (json.RawMessage, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &TransportError{Resource: name, Method: http.MethodPost, Kind: KindDecode, Err: fmt.Errorf("encode payload: %w", err)}
	}
	return c.do(ctx, http.MethodPost, name, nil, body)
}

func (c *Client) do(ctx context.Context, method string, name Resource, query url.Values, body []byte) (raw json.RawMessage, err error) {
	// A misbehaving transport must not take the caller's goroutine down.
	defer func() {
		if r := recover(); r != nil {
			raw = nil
			err = &TransportError{Resource: name, Method: method, Kind: KindNetwork, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	path := name.Path()
	if path == "" {
		return nil, &TransportError{Resource: name, Method: method, Kind: KindNetwork, Err: errors.New("unknown resource")}
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, &TransportError{Resource: name, Method: method, Kind: KindNetwork, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Resource: name, Method: method, Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Resource: name, Method: method, Kind: KindNetwork, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{
			Resource:   name,
			Method:     method,
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Body:       compactSingleLine(string(payload), errorBodyLimit),
		}
	}
	if !json.Valid(payload) {
		return nil, &TransportError{
			Resource:   name,
			Method:     method,
			Kind:       KindDecode,
			StatusCode: resp.StatusCode,
			Err:        errors.New("response is not valid JSON"),
			Body:       compactSingleLine(string(payload), errorBodyLimit),
		}
	}
	return json.RawMessage(payload), nil
}

func decodeInto[T any](name Resource, method string, raw json.RawMessage, err error) (T, error) {
	var out T
	if err != nil {
		return out, err
	}
	if decodeErr := json.Unmarshal(raw, &out); decodeErr != nil {
		return out, &TransportError{Resource: name, Method: method, Kind: KindDecode, StatusCode: http.StatusOK, Err: decodeErr}
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context) (AgentStatus, error) {
	raw, err := c.FetchResource(ctx, ResourceStatus, nil)
	return decodeInto[AgentStatus](ResourceStatus, http.MethodGet, raw, err)
}

// Traces returns the most recent execution traces, newest first.
func (c *Client) Traces(ctx context.Context, limit int) ([]ExecutionTrace, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	raw, err := c.FetchResource(ctx, ResourceTraces, query)
	return decodeInto[[]ExecutionTrace](ResourceTraces, http.MethodGet, raw, err)
}

// Incidents returns safety incidents inside the lookback window.
func (c *Client) Incidents(ctx context.Context, hours int) ([]Incident, error) {
	query := url.Values{}
	if hours > 0 {
		query.Set("hours", strconv.Itoa(hours))
	}
	raw, err := c.FetchResource(ctx, ResourceIncidents, query)
	return decodeInto[[]Incident](ResourceIncidents, http.MethodGet, raw, err)
}

func (c *Client) DreamReports(ctx context.Context) ([]DreamReport, error) {
	raw, err := c.FetchResource(ctx, ResourceDreamReports, nil)
	return decodeInto[[]DreamReport](ResourceDreamReports, http.MethodGet, raw, err)
}

func (c *Client) Rules(ctx context.Context) ([]Rule, error) {
	raw, err := c.FetchResource(ctx, ResourceRules, nil)
	return decodeInto[[]Rule](ResourceRules, http.MethodGet, raw, err)
}

// Ask submits a task for synchronous execution.
func (c *Client) Ask(ctx context.Context, task string, taskContext map[string]any) (TaskResult, error) {
	if taskContext == nil {
		taskContext = map[string]any{}
	}
	raw, err := c.SubmitCommand(ctx, CommandAsk, map[string]any{"task": task, "context": taskContext})
	return decodeInto[TaskResult](CommandAsk, http.MethodPost, raw, err)
}

// Dream runs one consolidation cycle and returns its report.
func (c *Client) Dream(ctx context.Context) (DreamReport, error) {
	raw, err := c.SubmitCommand(ctx, CommandDream, map[string]any{})
	return decodeInto[DreamReport](CommandDream, http.MethodPost, raw, err)
}

func compactSingleLine(text string, limit int) string {
	compact := strings.Join(strings.Fields(text), " ")
	if limit <= 0 || len(compact) <= limit {
		return compact
	}
	if limit <= 3 {
		return compact[:limit]
	}
	return compact[:limit-3] + "..."
}
