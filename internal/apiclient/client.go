package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/fastzet/metastream/internal/health"
	"github.com/fastzet/metastream/internal/querycache"
	"github.com/fastzet/metastream/internal/server"
)

// Client calls the MetaStream HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client targeting the given base URL.
func New(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

// SearchPage fetches one page of results from /api/search.
func (c *Client) SearchPage(ctx context.Context, query string, page int) (querycache.Page, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("page", strconv.Itoa(page))

	var p querycache.Page
	if err := c.get(ctx, "/api/search", params, &p); err != nil {
		return querycache.Page{}, err
	}
	return p, nil
}

// Providers lists the server's providers with their health.
func (c *Client) Providers(ctx context.Context) ([]health.Status, error) {
	var resp server.ProvidersResponse
	if err := c.get(ctx, "/api/providers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Providers, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("parse URL: %w", err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == "" {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}
		return fmt.Errorf("%s", errResp.Error)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
