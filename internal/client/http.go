package client

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

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/beacon/internal/model"
	"github.com/alfredjeanlab/beacon/internal/presence"
)

// HTTPClient implements EventsClient using the beacon HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8989"). token is the session token sent as a
// Bearer credential on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
		dialer:     websocket.DefaultDialer,
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Events ---

func (c *HTTPClient) ListEvents(ctx context.Context, req *ListEventsRequest) (*ListEventsResponse, error) {
	q := url.Values{}
	if len(req.Type) > 0 {
		q.Set("type", strings.Join(req.Type, ","))
	}
	if req.Completed != nil {
		q.Set("completed", strconv.FormatBool(*req.Completed))
	}
	if req.Status != "" {
		q.Set("status", req.Status)
	}
	if req.Viewed != nil {
		q.Set("viewed", strconv.FormatBool(*req.Viewed))
	}
	if req.Sort != "" {
		q.Set("sort", req.Sort)
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.Offset > 0 {
		q.Set("offset", strconv.Itoa(req.Offset))
	}

	path := "/v1/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp ListEventsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	var e model.Event
	if err := c.doJSON(ctx, http.MethodGet, "/v1/events/"+url.PathEscape(id), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *HTTPClient) CancelEvent(ctx context.Context, id string) (*model.Event, error) {
	var e model.Event
	if err := c.doJSON(ctx, http.MethodPost, "/v1/events/"+url.PathEscape(id)+"/cancel", nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// RetryEvent re-runs a failed or canceled event and returns the id of the
// event the new run reports under.
func (c *HTTPClient) RetryEvent(ctx context.Context, id string) (string, error) {
	var resp struct {
		RetriedID string `json:"retried_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/events/"+url.PathEscape(id)+"/retry", nil, &resp); err != nil {
		return "", err
	}
	return resp.RetriedID, nil
}

func (c *HTTPClient) ViewEvent(ctx context.Context, id string) (*model.Event, error) {
	var e model.Event
	if err := c.doJSON(ctx, http.MethodPost, "/v1/events/"+url.PathEscape(id)+"/view", nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *HTTPClient) MarkAllViewed(ctx context.Context) (int64, error) {
	var resp struct {
		Updated int64 `json:"updated"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/events/viewed", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

func (c *HTTPClient) Types(ctx context.Context) ([]string, error) {
	var resp struct {
		Types []string `json:"types"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/types", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Types, nil
}

// --- Tasks ---

func (c *HTTPClient) SubmitTask(ctx context.Context, name string, req *SubmitTaskRequest) (*SubmitTaskResponse, error) {
	var resp SubmitTaskResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(name), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Live notifications ---

// Watch subscribes to types on the live connection and calls fn for every
// frame until ctx is done or the server closes the connection.
func (c *HTTPClient) Watch(ctx context.Context, types []string, fn func(Frame)) error {
	wsURL, err := c.wsURL("/v1/ws")
	if err != nil {
		return err
	}
	header := http.Header{}
	c.authorize(header)

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if resp != nil {
			return &APIError{StatusCode: resp.StatusCode, Message: err.Error()}
		}
		return fmt.Errorf("dialing %s: %w", wsURL, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "args": types}); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading frame: %w", err)
		}
		fn(decodeFrame(data))
	}
}

// Connections lists the caller's live notification connections.
func (c *HTTPClient) Connections(ctx context.Context) ([]presence.Entry, error) {
	var resp struct {
		Connections []presence.Entry `json:"connections"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/connections", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Connections, nil
}

func (c *HTTPClient) wsURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("parsing server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// decodeFrame splits error frames from notification frames. Payloads that
// are not notifications keep only Raw.
func decodeFrame(data []byte) Frame {
	f := Frame{Raw: json.RawMessage(data)}
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
		f.Error = errResp.Error
		return f
	}
	var n map[string]model.Notification
	if json.Unmarshal(data, &n) == nil {
		f.Notifications = n
	}
	return f
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode) + ": " + e.Message
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

func (c *HTTPClient) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}

// doJSON sends body (if any) as JSON and decodes a successful answer into
// out (if non-nil). Error answers become *APIError.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
		payload = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return readAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

// readAPIError prefers the {"error": ...} body the server writes and falls
// back to the raw text.
func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
	}
	return apiErr
}
