package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mattjoyce/herald/internal/journal"
)

// Client calls a running herald API. The zero HTTP field uses a client with
// a short timeout; do not use it for /events.
type Client struct {
	URL    string
	APIKey string
	HTTP   *http.Client
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

func (c Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	hc := c.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c Client) Health(ctx context.Context) (HealthzResponse, error) {
	var h HealthzResponse
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &h)
	return h, err
}

func (c Client) Workers(ctx context.Context) ([]WorkerInfo, error) {
	var w WorkersResponse
	err := c.do(ctx, http.MethodGet, "/workers", nil, &w)
	return w.Workers, err
}

func (c Client) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	var r SubmitResponse
	err := c.do(ctx, http.MethodPost, "/events", req, &r)
	return r, err
}

func (c Client) StartWorker(ctx context.Context, name string, req StartWorkerRequest) (WorkerInfo, error) {
	var w WorkerInfo
	err := c.do(ctx, http.MethodPost, "/workers/"+url.PathEscape(name), req, &w)
	return w, err
}

func (c Client) StopWorker(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "/workers/"+url.PathEscape(key), nil, nil)
}

func (c Client) Journal(ctx context.Context, limit int) ([]journal.Entry, error) {
	var r struct {
		Entries []journal.Entry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, "/journal?limit="+strconv.Itoa(limit), nil, &r)
	return r.Entries, err
}
