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
	"strings"
	"time"

	"github.com/luisnisc/flowpilot-sub000/domain/board"
	domain "github.com/luisnisc/flowpilot-sub000/domain/chat"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// SendRequest is a chat message to store.
type SendRequest struct {
	ProjectID string     `json:"projectId"`
	User      string     `json:"user"`
	Message   string     `json:"message"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// APIError is an error response from the server.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// ErrServerUnavailable wraps server-side failures that count against the
// circuit breaker.
var ErrServerUnavailable = errors.New("server unavailable")

type httpResult struct {
	status int
	body   []byte
}

// httpAPI calls the REST endpoints behind a circuit breaker so a server that
// is down is not polled every interval.
type httpAPI struct {
	base   string
	token  string
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

func newHTTPAPI(opts Options) *httpAPI {
	logger := opts.Logger
	st := gobreaker.Settings{
		Name:        "flowpilot-http",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &httpAPI{
		base:   strings.TrimRight(opts.BaseURL, "/"),
		token:  opts.Token,
		client: opts.HTTPClient,
		cb:     gobreaker.NewCircuitBreaker(st),
		logger: logger,
	}
}

func (a *httpAPI) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		payload = b
	}

	target := a.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	res, err := a.cb.Execute(func() (interface{}, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if a.token != "" {
			req.Header.Set("Authorization", "Bearer "+a.token)
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: %s %s returned %d", ErrServerUnavailable, method, path, resp.StatusCode)
		}
		return httpResult{status: resp.StatusCode, body: data}, nil
	})
	if err != nil {
		return err
	}

	result := res.(httpResult)
	if result.status >= http.StatusBadRequest {
		apiErr := &APIError{Status: result.status}
		_ = json.Unmarshal(result.body, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result.body, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// Messages returns messages newer than after, or the latest ones when after
// is zero.
func (a *httpAPI) Messages(ctx context.Context, projectID string, after time.Time) ([]domain.Message, error) {
	q := url.Values{"projectId": {projectID}}
	if !after.IsZero() {
		q.Set("after", after.UTC().Format(time.RFC3339Nano))
	}
	var msgs []domain.Message
	if err := a.do(ctx, http.MethodGet, "/messages", q, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// PostMessage stores a message.
func (a *httpAPI) PostMessage(ctx context.Context, req SendRequest) (domain.Message, error) {
	var msg domain.Message
	if err := a.do(ctx, http.MethodPost, "/messages", nil, req, &msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// Board returns the project's columns.
func (a *httpAPI) Board(ctx context.Context, projectID string) (board.Columns, error) {
	var cols board.Columns
	if err := a.do(ctx, http.MethodGet, projectPath(projectID, "board"), nil, nil, &cols); err != nil {
		return nil, err
	}
	return cols, nil
}

// MoveTask persists a task's status.
func (a *httpAPI) MoveTask(ctx context.Context, projectID, taskID string, status board.Status) (board.Task, error) {
	var t board.Task
	body := map[string]board.Status{"status": status}
	if err := a.do(ctx, http.MethodPatch, projectPath(projectID, "tasks", taskID), nil, body, &t); err != nil {
		return board.Task{}, err
	}
	return t, nil
}

// Online returns the identities online in the project.
func (a *httpAPI) Online(ctx context.Context, projectID string) ([]string, error) {
	var online []string
	if err := a.do(ctx, http.MethodGet, projectPath(projectID, "online"), nil, nil, &online); err != nil {
		return nil, err
	}
	return online, nil
}

func projectPath(projectID string, parts ...string) string {
	segments := append([]string{"/api/v1/projects", url.PathEscape(projectID)}, parts...)
	for i := 2; i < len(segments); i++ {
		segments[i] = url.PathEscape(segments[i])
	}
	return strings.Join(segments, "/")
}
