// Package cluster wraps the remote search cluster's "ping" request behind
// a narrow interface. The signing and bulk-ingest protocol it fronts are
// out of scope per spec.md §1: the agent only probes reachability, it
// never transports or transforms log events.
package cluster

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client sends a minimally authenticated no-op ping to the remote
// cluster's bulk-ingest path, per spec.md §4.4's "Cluster probe". Its
// concrete request shape (sentinel index, document body, signing) is
// supplied by configuration, not invented here (see spec.md §9's open
// question on the sentinel-index name and document shape).
type Client interface {
	Ping(ctx context.Context) (latencyMS float64, err error)
}

// HTTPClient is the production Client: a POST to
// <endpoint>/<sentinel_index>/_doc, where endpoint is the full base URL
// including its scheme (e.g. https://host:9200), with the configured document
// body. Request signing (the downstream shipper's credential mechanism)
// is applied via Sign, an injected function so this package never
// touches credential material directly.
type HTTPClient struct {
	Endpoint      string
	SentinelIndex string
	Document      string
	HTTPClient    *http.Client
	Sign          func(req *http.Request)
}

// NewHTTPClient builds a Client with a 30s-capable underlying transport;
// the probe's own context timeout (spec.md §4.4: 30s) governs each call.
func NewHTTPClient(endpoint, sentinelIndex, document string, sign func(req *http.Request)) *HTTPClient {
	return &HTTPClient{
		Endpoint:      strings.TrimSuffix(endpoint, "/"),
		SentinelIndex: sentinelIndex,
		Document:      document,
		HTTPClient:    &http.Client{},
		Sign:          sign,
	}
}

func (c *HTTPClient) Ping(ctx context.Context) (float64, error) {
	start := time.Now()

	url := fmt.Sprintf("%s/%s/_doc", c.Endpoint, c.SentinelIndex)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(c.Document))
	if err != nil {
		return 0, fmt.Errorf("cluster ping: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Sign != nil {
		c.Sign(req)
	}

	resp, err := c.HTTPClient.Do(req)
	latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		return latencyMS, fmt.Errorf("cluster ping: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return latencyMS, fmt.Errorf("cluster ping: unexpected status %d", resp.StatusCode)
	}
	return latencyMS, nil
}
