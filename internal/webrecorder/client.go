// Package webrecorder triggers the external archival-hosting system,
// which ingests accepted tickets on its own schedule. The trigger is
// best-effort: the system polls independently, so a failed trigger only
// delays ingestion.
package webrecorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client calls the Webrecorder batch API.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a trigger client. An empty endpoint disables it.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool {
	return c.endpoint != ""
}

// TriggerIngest asks Webrecorder to pick up the ticket.
func (c *Client) TriggerIngest(ctx context.Context, ticketID string) error {
	if !c.Enabled() {
		return nil
	}
	payload, err := json.Marshal(map[string]string{"ticket": ticketID})
	if err != nil {
		return fmt.Errorf("encode ingest request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("trigger ingest for %s: %w", ticketID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("trigger ingest for %s: HTTP status %d", ticketID, resp.StatusCode)
	}
	return nil
}
