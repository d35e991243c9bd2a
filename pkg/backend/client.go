package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"netpulse/pkg/models"
)

const defaultHTTPTimeout = 10 * time.Second

// Client implements Service over the backend's JSON HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (c *Client) CheckPermissions(ctx context.Context) (bool, error) {
	var resp struct {
		Granted bool `json:"granted"`
	}
	if err := c.get(ctx, "/api/permissions", &resp); err != nil {
		return false, err
	}
	return resp.Granted, nil
}

func (c *Client) RequestPermissions(ctx context.Context) (bool, error) {
	var resp struct {
		Granted bool `json:"granted"`
	}
	if err := c.post(ctx, "/api/permissions/request", nil, &resp); err != nil {
		return false, err
	}
	return resp.Granted, nil
}

func (c *Client) ListInterfaces(ctx context.Context) ([]string, error) {
	var resp struct {
		Interfaces []string `json:"interfaces"`
	}
	if err := c.get(ctx, "/api/interfaces", &resp); err != nil {
		return nil, err
	}
	return resp.Interfaces, nil
}

func (c *Client) StartCapture(ctx context.Context, iface string) error {
	req := struct {
		Interface string `json:"interface,omitempty"`
	}{Interface: iface}
	return c.post(ctx, "/api/capture/start", req, nil)
}

func (c *Client) StopCapture(ctx context.Context) error {
	return c.post(ctx, "/api/capture/stop", nil, nil)
}

func (c *Client) Connections(ctx context.Context, limit int) ([]models.ConnectionRecord, error) {
	var out []models.ConnectionRecord
	path := "/api/connections?limit=" + strconv.Itoa(limit)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, &FetchError{Op: "connections", Err: err}
	}
	return out, nil
}

func (c *Client) CountryAggregates(ctx context.Context) ([]models.CountryAggregate, error) {
	var out []models.CountryAggregate
	if err := c.get(ctx, "/api/countries", &out); err != nil {
		return nil, &FetchError{Op: "countries", Err: err}
	}
	return out, nil
}

func (c *Client) Stats(ctx context.Context) (models.AppStats, error) {
	var out models.AppStats
	if err := c.get(ctx, "/api/stats", &out); err != nil {
		return models.AppStats{}, &FetchError{Op: "stats", Err: err}
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return ErrPermissionDenied
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
