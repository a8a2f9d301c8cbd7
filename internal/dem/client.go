// Package dem acquires a DEM covering an acquisition footprint and converts
// it into the SAR processor's DEM format.
package dem

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// TypeHeader carries the DEM source name (e.g. SRTMGL1) in service responses.
const TypeHeader = "X-DEM-Type"

// Source selects the DEM service backend.
type Source string

const (
	SourceDefault  Source = "default"
	SourceOpenTopo Source = "opentopo"
)

// FetchRequest describes a DEM tile request.
type FetchRequest struct {
	Bounds Bounds
	Source Source
	// UTM asks the service to project the DEM into the footprint's UTM zone.
	UTM bool
}

// Client handles communication with the DEM fetch service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new DEM service client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger for the client.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// Fetch downloads a GeoTIFF DEM for the request into dst and returns the
// DEM type reported by the service.
func (c *Client) Fetch(ctx context.Context, req FetchRequest, dst string) (string, error) {
	fetchURL, err := c.buildURL(req)
	if err != nil {
		return "", fmt.Errorf("failed to build DEM URL: %w", err)
	}

	c.logger.DebugContext(ctx, "requesting DEM",
		slog.String("url", fetchURL),
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "image/tiff")
	httpReq.Header.Set("User-Agent", "s1-insar/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.ErrorContext(ctx, "DEM request failed",
			slog.String("error", err.Error()),
			slog.String("url", fetchURL),
		)
		return "", fmt.Errorf("DEM request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.ErrorContext(ctx, "DEM service returned non-200 status",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(body)),
		)
		return "", fmt.Errorf("DEM service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("failed to create DEM file: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		f.Close()
		os.Remove(dst)
		return "", fmt.Errorf("failed to write DEM file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write DEM file: %w", err)
	}
	if n == 0 {
		os.Remove(dst)
		return "", fmt.Errorf("DEM service returned an empty body")
	}

	demType := resp.Header.Get(TypeHeader)
	if demType == "" {
		demType = string(req.Source)
	}

	c.logger.DebugContext(ctx, "DEM downloaded",
		slog.String("path", dst),
		slog.Int64("bytes", n),
		slog.String("dem_type", demType),
	)

	return demType, nil
}

func (c *Client) buildURL(req FetchRequest) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/dem"

	source := req.Source
	if source == "" {
		source = SourceDefault
	}

	q := url.Values{}
	q.Set("bbox", req.Bounds.String())
	q.Set("source", string(source))
	if req.UTM {
		q.Set("utm", "true")
	}
	base.RawQuery = q.Encode()

	return base.String(), nil
}
