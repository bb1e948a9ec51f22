// Package catalog implements the client for the upstream asset catalog.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/springfiles/edgecache/internal/httperr"
	"github.com/springfiles/edgecache/internal/model"
	"github.com/springfiles/edgecache/internal/observability"
)

type Client struct {
	http    *http.Client
	baseURL string
}

func New(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, baseURL: baseURL}
}

// SearchURL builds the upstream search URL for a (category, springname)
// query. Used directly as the redirect target for non-fronted categories.
func (c *Client) SearchURL(category, springname string) string {
	q := url.Values{}
	q.Set("category", category)
	q.Set("springname", springname)
	return c.baseURL + "?" + q.Encode()
}

// Resolve fetches the authoritative descriptor for (category, springname).
// The upstream is asserted to return exactly one result whose springname
// matches the query; anything else is a contract violation, not a transient
// error. No retries here: callers own retry policy.
func (c *Client) Resolve(ctx context.Context, category, springname string) (model.AssetDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.SearchURL(category, springname), nil)
	if err != nil {
		return model.AssetDescriptor{}, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.ObserveUpstreamLatency("catalog", time.Since(start).Seconds())
	if err != nil {
		return model.AssetDescriptor{}, httperr.BadGateway("catalog fetch: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<10))
		return model.AssetDescriptor{}, httperr.BadGateway("catalog responded with status %d", resp.StatusCode)
	}

	var results []model.AssetDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return model.AssetDescriptor{}, httperr.BadGateway("catalog returned invalid json: %v", err)
	}

	switch {
	case len(results) == 0:
		return model.AssetDescriptor{}, httperr.NotFound("asset not found in catalog")
	case len(results) > 1:
		return model.AssetDescriptor{}, httperr.BadRequest("catalog query returned %d results, expected one", len(results))
	}
	if results[0].Springname != springname {
		return model.AssetDescriptor{}, httperr.BadRequest(
			"catalog returned springname %q for query %q", results[0].Springname, springname)
	}
	return results[0], nil
}
