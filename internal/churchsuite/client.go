// Package churchsuite is a thin HTTP wrapper over the ChurchSuite REST API,
// used to fetch people, groups, and events once a request is authorized.
package churchsuite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client calls the ChurchSuite REST API on behalf of an authenticated user.
type Client interface {
	SearchPeople(ctx context.Context, accessToken, query string) (json.RawMessage, error)
	ListGroups(ctx context.Context, accessToken string) (json.RawMessage, error)
	ListEvents(ctx context.Context, accessToken, startDate, endDate string) (json.RawMessage, error)
	MyProfile(ctx context.Context, accessToken string) (json.RawMessage, error)
}

// HTTPClient is the default Client.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient constructs a Client for the given API base URL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response from ChurchSuite.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("churchsuite returned %d: %s", e.StatusCode, e.Body)
}

// SearchPeople searches the address book.
func (c *HTTPClient) SearchPeople(ctx context.Context, accessToken, query string) (json.RawMessage, error) {
	return c.get(ctx, accessToken, "/addressbook/people", url.Values{"search": {query}})
}

// ListGroups lists small groups visible to the user.
func (c *HTTPClient) ListGroups(ctx context.Context, accessToken string) (json.RawMessage, error) {
	return c.get(ctx, accessToken, "/smallgroups/groups", nil)
}

// ListEvents lists calendar events within a date range.
func (c *HTTPClient) ListEvents(ctx context.Context, accessToken, startDate, endDate string) (json.RawMessage, error) {
	params := url.Values{}
	if startDate != "" {
		params.Set("start_date", startDate)
	}
	if endDate != "" {
		params.Set("end_date", endDate)
	}
	return c.get(ctx, accessToken, "/calendar/events", params)
}

// MyProfile fetches the current user's profile.
func (c *HTTPClient) MyProfile(ctx context.Context, accessToken string) (json.RawMessage, error) {
	return c.get(ctx, accessToken, "/people/me", nil)
}

func (c *HTTPClient) get(ctx context.Context, accessToken, path string, params url.Values) (json.RawMessage, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("churchsuite request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}

	return json.RawMessage(body), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
