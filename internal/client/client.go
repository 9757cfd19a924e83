// Package client talks to the henrii server API.
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
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/TungSeven30/henrii-sub000/internal/models"
)

var (
	ErrUnauthorized = errors.New("henrii unauthorized")
	ErrNotFound     = errors.New("henrii not found")
)

// HTTPError is any non-2xx answer other than a 409 on a mutation.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("henrii %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("henrii status %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

type ConflictError struct {
	ConflictID       string
	CurrentUpdatedAt string
}

func (e *ConflictError) Error() string { return "henrii conflict: record changed since it was read" }

// IsConnectivityError reports whether err means the server could not be
// reached, as opposed to the server answering with an error.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	var conflict *ConflictError
	if errors.As(err, &httpErr) || errors.As(err, &conflict) {
		return false
	}
	var urlErr *url.Error
	var netErr net.Error
	return errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded)
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	userID     string
	babyID     string
}

func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

func NewClient(httpClient *http.Client, baseURL, token, userID, babyID string) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
		userID:     strings.TrimSpace(userID),
		babyID:     strings.TrimSpace(babyID),
	}
}

type LogRequest struct {
	Type       string
	ClientUUID string
	HappenedAt string
	Fields     map[string]any
}

// Body flattens the request into the wire shape: type-specific fields sit
// next to type, clientUuid and happenedAt.
func (r LogRequest) Body() map[string]any {
	out := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["type"] = r.Type
	out["clientUuid"] = r.ClientUUID
	if r.HappenedAt != "" {
		out["happenedAt"] = r.HappenedAt
	}
	return out
}

type LogResponse struct {
	OK         bool   `json:"ok"`
	EventID    string `json:"event_id"`
	EventTable string `json:"event_table"`
	Duplicate  bool   `json:"duplicate"`
}

type MutationRequest struct {
	Table             string           `json:"table"`
	ID                string           `json:"id"`
	Operation         models.Operation `json:"operation"`
	ExpectedUpdatedAt *string          `json:"expectedUpdatedAt"`
	Patch             map[string]any   `json:"patch,omitempty"`
}

type MutationResponse struct {
	OK         bool   `json:"ok"`
	Operation  string `json:"operation"`
	EventTable string `json:"event_table"`
	EventID    string `json:"event_id"`
	UpdatedAt  string `json:"updated_at,omitempty"`
	HappenedAt string `json:"happened_at"`
}

type ConflictsResponse struct {
	EventConflicts    []models.EventConflict    `json:"event_conflicts"`
	MutationConflicts []models.MutationConflict `json:"mutation_conflicts"`
}

type errorBody struct {
	Error            string `json:"error"`
	Detail           string `json:"detail"`
	Conflict         bool   `json:"conflict"`
	ConflictID       string `json:"conflict_id"`
	CurrentUpdatedAt string `json:"current_updated_at"`
}

func (c *Client) LogEvent(ctx context.Context, req LogRequest) (*LogResponse, error) {
	var out LogResponse
	if err := c.do(ctx, http.MethodPost, models.EndpointLog, req.Body(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Mutate(ctx context.Context, req MutationRequest) (*MutationResponse, error) {
	var out MutationResponse
	if err := c.do(ctx, http.MethodPost, models.EndpointMutate, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListEvents(ctx context.Context, table string, limit int) ([]models.EventRecord, error) {
	q := url.Values{}
	q.Set("table", table)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Events []models.EventRecord `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, models.EndpointLog+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

func (c *Client) ListConflicts(ctx context.Context) (*ConflictsResponse, error) {
	var out ConflictsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/conflicts", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Send posts a queued entry verbatim to its endpoint. Any HTTP answer is
// reported through the status code; err is set only when no answer arrived.
func (c *Client) Send(ctx context.Context, m models.QueuedMutation) (int, error) {
	endpoint := m.Endpoint
	if endpoint == "" {
		endpoint = m.Kind.Endpoint()
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(m.Body))
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		token := c.token
		if !strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = "Bearer " + token
		}
		req.Header.Set("Authorization", token)
	}
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}
	if c.babyID != "" {
		req.Header.Set("X-Baby-ID", c.babyID)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, r)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	var eb errorBody
	_ = json.NewDecoder(resp.Body).Decode(&eb)
	if resp.StatusCode == http.StatusConflict && eb.Conflict {
		return &ConflictError{ConflictID: eb.ConflictID, CurrentUpdatedAt: eb.CurrentUpdatedAt}
	}
	msg := strings.TrimSpace(eb.Error)
	if eb.Detail != "" {
		msg = strings.TrimSpace(msg + ": " + eb.Detail)
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
}
