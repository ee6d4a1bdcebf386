// Package metube implements the client for the MeTube download-queue API.
package metube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tubefeed/tubefeed/pkg/domain"
)

// Client posts item URLs to a MeTube instance for download. One request per
// delivery, no internal retries; a failed delivery is reported to the caller
// and retried on the next polling cycle.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// addRequest is the payload of POST /add
type addRequest struct {
	URL     string `json:"url"`
	Quality string `json:"quality"`
	Format  string `json:"format,omitempty"`
}

// New creates a client for the given MeTube base URL
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Add queues one item URL for download. Any 2xx response is success; any
// other status or a transport error is a failed delivery.
func (c *Client) Add(ctx context.Context, itemURL, quality, format string) (domain.DeliveryResult, error) {
	body, err := json.Marshal(addRequest{URL: itemURL, Quality: quality, Format: format})
	if err != nil {
		return domain.DeliveryResult{Reason: "marshal request"}, fmt.Errorf("marshal add request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/add", bytes.NewReader(body))
	if err != nil {
		return domain.DeliveryResult{Reason: "create request"}, fmt.Errorf("create add request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.DeliveryResult{Reason: "transport error"}, fmt.Errorf("post to metube: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// include a bit of the response body in the reason for diagnostics
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		reason := fmt.Sprintf("status %d", resp.StatusCode)
		if len(snippet) > 0 {
			reason = fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		}
		return domain.DeliveryResult{StatusCode: resp.StatusCode, Reason: reason},
			fmt.Errorf("metube rejected %s: %s", itemURL, reason)
	}

	return domain.DeliveryResult{OK: true, StatusCode: resp.StatusCode}, nil
}

// Check probes the MeTube instance for reachability. MeTube's root may not
// return 200 and GET on /add returns 405, both count as reachable.
func (c *Client) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("metube unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMethodNotAllowed {
		return fmt.Errorf("metube check returned status %d", resp.StatusCode)
	}
	return nil
}
