package neo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultSourceURL = "https://api.nasa.gov/neo/rest/v1/neo/browse"
	defaultAPIKey    = "DEMO_KEY"
	maxBodyBytes     = 50 << 20
)

// Fetcher retrieves raw NeoWs browse pages.
type Fetcher struct {
	sourceURL  string
	apiKey     string
	pageSize   int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher. Empty sourceURL/apiKey fall back to the public
// NeoWs endpoint and the rate-limited demo key.
func NewFetcher(sourceURL, apiKey string, pageSize int, logger *slog.Logger) *Fetcher {
	if sourceURL == "" {
		sourceURL = defaultSourceURL
	}
	if apiKey == "" {
		apiKey = defaultAPIKey
	}
	if pageSize <= 0 || pageSize > 20 {
		pageSize = 20
	}
	return &Fetcher{
		sourceURL: sourceURL,
		apiKey:    apiKey,
		pageSize:  pageSize,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// SourceURL returns the configured endpoint.
func (f *Fetcher) SourceURL() string {
	return f.sourceURL
}

// Fetch performs an HTTP GET for one browse page. Responses over 50 MB are rejected.
func (f *Fetcher) Fetch(ctx context.Context, page int) ([]byte, error) {
	u, err := url.Parse(f.sourceURL)
	if err != nil {
		return nil, fmt.Errorf("parsing source url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", f.apiKey)
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(f.pageSize))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching NEO data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, f.sourceURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response from %s exceeds %d byte limit", f.sourceURL, maxBodyBytes)
	}

	f.logger.Debug("NEO page fetched",
		"page", page,
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return body, nil
}
