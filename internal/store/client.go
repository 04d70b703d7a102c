// Package store talks to the JSON backing store that holds the shared copy of
// the ambulance and incident collections.
package store

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

	"github.com/sirupsen/logrus"
	"github.com/ukydev/ambulance-dispatch/internal/models"
)

const (
	ambulancesPath = "/ambulances"
	incidentsPath  = "/incidents"

	maxErrorBody = 512
)

// Client is a REST client for the backing store.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	log        logrus.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sends the token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient validates baseURL and returns a client for it.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid store url %q", baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) ListAmbulances(ctx context.Context) ([]models.Ambulance, error) {
	var out []models.Ambulance
	if err := c.do(ctx, http.MethodGet, ambulancesPath, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListIncidents(ctx context.Context) ([]models.Incident, error) {
	var out []models.Incident
	if err := c.do(ctx, http.MethodGet, incidentsPath, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateAmbulance(ctx context.Context, a models.Ambulance) (models.Ambulance, error) {
	var out models.Ambulance
	err := c.do(ctx, http.MethodPost, ambulancesPath, a, &out)
	return out, err
}

// UpdateAmbulance writes the full record over the stored one.
func (c *Client) UpdateAmbulance(ctx context.Context, a models.Ambulance) (models.Ambulance, error) {
	var out models.Ambulance
	err := c.do(ctx, http.MethodPatch, recordPath(ambulancesPath, a.ID), a, &out)
	return out, err
}

func (c *Client) DeleteAmbulance(ctx context.Context, id models.ID) error {
	return c.do(ctx, http.MethodDelete, recordPath(ambulancesPath, id), nil, nil)
}

func (c *Client) CreateIncident(ctx context.Context, inc models.Incident) (models.Incident, error) {
	var out models.Incident
	err := c.do(ctx, http.MethodPost, incidentsPath, inc, &out)
	return out, err
}

// UpdateIncident writes the full record over the stored one.
func (c *Client) UpdateIncident(ctx context.Context, inc models.Incident) (models.Incident, error) {
	var out models.Incident
	err := c.do(ctx, http.MethodPatch, recordPath(incidentsPath, inc.ID), inc, &out)
	return out, err
}

func recordPath(collection string, id models.ID) string {
	return collection + "/" + url.PathEscape(id.String())
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s %s body: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", models.ErrStoreUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	c.log.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("Backing store request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(method, path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decode %s %s: %w", models.ErrStoreUnavailable, method, path, err)
	}
	return nil
}

func statusError(method, path string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := strings.TrimSpace(string(snippet))

	var kind error
	switch {
	case resp.StatusCode == http.StatusNotFound:
		kind = models.ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		kind = models.ErrConflict
	case resp.StatusCode >= 500:
		kind = models.ErrStoreUnavailable
	default:
		kind = models.ErrValidation
	}
	if detail == "" {
		return fmt.Errorf("%w: %s %s returned %d", kind, method, path, resp.StatusCode)
	}
	return fmt.Errorf("%w: %s %s returned %d: %s", kind, method, path, resp.StatusCode, detail)
}
