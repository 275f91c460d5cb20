package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mschirtzinger/postlink/internal/schema"
	"github.com/mschirtzinger/postlink/internal/store"
)

// Persister is the server side of the store: it persists writes and serves
// full fetches.
type Persister interface {
	CreateSchedule(ctx context.Context, entry *schema.ScheduleEntry) (*schema.ScheduleEntry, error)
	UpdateSchedule(ctx context.Context, id string, patch schema.SchedulePatch) (*schema.ScheduleEntry, error)
	DeleteSchedule(ctx context.Context, id string) error
	ListSchedules(ctx context.Context) ([]*schema.ScheduleEntry, error)

	CreatePost(ctx context.Context, post *schema.Post) (*schema.Post, error)
	UpdatePost(ctx context.Context, id string, patch schema.PostPatch) (*schema.Post, error)
	DeletePost(ctx context.Context, id string) error
	ListPosts(ctx context.Context) ([]*schema.Post, error)
}

// API is a Persister speaking the server's JSON API.
type API struct {
	baseURL  string
	clientID string
	http     *http.Client
}

var _ Persister = (*API)(nil)

// NewAPI creates an API client for the server at baseURL. clientID is sent
// with every write; the server publishes the write under that id, so this
// client does not receive it back.
func NewAPI(baseURL, clientID string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &API{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		http:     httpClient,
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Unwrap maps 404 and 400 to the matching sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return store.ErrNotFound
	case http.StatusBadRequest:
		return schema.ErrInvalid
	default:
		return nil
	}
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.clientID != "" {
		req.Header.Set("X-Client-ID", a.clientID)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (a *API) CreateSchedule(ctx context.Context, entry *schema.ScheduleEntry) (*schema.ScheduleEntry, error) {
	var out schema.ScheduleEntry
	if err := a.do(ctx, http.MethodPost, "/api/schedule", entry, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) UpdateSchedule(ctx context.Context, id string, patch schema.SchedulePatch) (*schema.ScheduleEntry, error) {
	var out schema.ScheduleEntry
	if err := a.do(ctx, http.MethodPatch, "/api/schedule/"+url.PathEscape(id), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) DeleteSchedule(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/api/schedule/"+url.PathEscape(id), nil, nil)
}

func (a *API) ListSchedules(ctx context.Context) ([]*schema.ScheduleEntry, error) {
	var out []*schema.ScheduleEntry
	if err := a.do(ctx, http.MethodGet, "/api/schedule", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) CreatePost(ctx context.Context, post *schema.Post) (*schema.Post, error) {
	var out schema.Post
	if err := a.do(ctx, http.MethodPost, "/api/posts", post, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) UpdatePost(ctx context.Context, id string, patch schema.PostPatch) (*schema.Post, error) {
	var out schema.Post
	if err := a.do(ctx, http.MethodPatch, "/api/posts/"+url.PathEscape(id), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) DeletePost(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/api/posts/"+url.PathEscape(id), nil, nil)
}

func (a *API) ListPosts(ctx context.Context) ([]*schema.Post, error) {
	var out []*schema.Post
	if err := a.do(ctx, http.MethodGet, "/api/posts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Options fetches the option suggestions for every field.
func (a *API) Options(ctx context.Context) (map[string][]string, error) {
	var out map[string][]string
	if err := a.do(ctx, http.MethodGet, "/api/options", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
