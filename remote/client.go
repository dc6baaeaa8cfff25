// Copyright 2025 CiclistaApp Authors
// SPDX-License-Identifier: Apache-2.0

// Package remote is the HTTP accessor for the bike-routes service. It
// exposes the three operations the sync engine consumes: create account,
// create route, and account lookup by email. Every operation is a single
// attempt; retry policy belongs to the caller.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrAccountNotFound is returned by AccountIDByEmail when the service
// knows no account under the given email.
var ErrAccountNotFound = errors.New("remote account not found")

// Client talks to the routes service at BaseURL.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	// Token, when set, supplies a bearer token per request.
	Token func(ctx context.Context) (string, error)
}

// NewClient creates a client for the given base URL. If httpClient is
// nil a default client with a conservative timeout is used; transport
// timeouts are otherwise entirely the caller's.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{BaseURL: baseURL, HTTP: httpClient}
}

// AccountUpload is the wire form of an account. The local id and the
// pending flag never leave the device.
type AccountUpload struct {
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	Gender    string `json:"gender,omitempty"`
	Email     string `json:"email"`
	BirthDate string `json:"birth_date,omitempty"`
	Password  string `json:"password,omitempty"`

	DeviceMake   string `json:"device_make,omitempty"`
	DeviceModel  string `json:"device_model,omitempty"`
	DeviceSerial string `json:"device_serial,omitempty"`
	AppVersion   string `json:"app_version,omitempty"`
}

// RouteUpload is the wire form of a route. AccountID is the remote
// account identifier resolved via AccountIDByEmail, not the local row id.
// Track is the parsed geo-point document, embedded as JSON rather than a
// double-encoded string.
type RouteUpload struct {
	AccountID int64           `json:"account_id"`
	Category  string          `json:"category"`
	Duration  string          `json:"duration"`
	Track     json.RawMessage `json:"track"`
}

// CreateAccount submits one account. Any non-2xx response or transport
// error is reported uniformly as an error.
func (c *Client) CreateAccount(ctx context.Context, account *AccountUpload) error {
	return c.postJSON(ctx, "/accounts", account)
}

// CreateRoute submits one route attached to a remote account.
func (c *Client) CreateRoute(ctx context.Context, route *RouteUpload) error {
	return c.postJSON(ctx, "/routes", route)
}

// AccountIDByEmail resolves the remote identifier for an account email.
// A 404 maps to ErrAccountNotFound.
func (c *Client) AccountIDByEmail(ctx context.Context, email string) (int64, error) {
	reqURL := c.BaseURL + "/accounts/by-email/" + url.PathEscape(email)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if err := c.authorize(ctx, httpReq); err != nil {
		return 0, err
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, ErrAccountNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode lookup response: %w", err)
	}
	if out.ID == 0 {
		return 0, ErrAccountNotFound
	}
	return out.ID, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, httpReq); err != nil {
		return err
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.Token == nil {
		return nil
	}
	token, err := c.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get auth token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
