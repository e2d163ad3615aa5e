// Package capture is the adapter to the external screen-capture/OCR
// service. It is pure translation: poll a page of events, report health.
// All state (cursors, dedup, persistence) lives in the pipeline.
package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Event is one timestamped screen-capture + OCR sample as delivered by
// the capture source.
//
// OCRText is a pointer because the field is required but its value may
// legitimately be empty: a blank desktop or image-only page yields "",
// while a payload with no ocr_text field at all is malformed. A plain
// string could not tell those apart after decoding.
type Event struct {
	ID          string  `json:"id"`
	Timestamp   int64   `json:"timestamp"` // epoch millis
	App         string  `json:"app"`
	WindowTitle string  `json:"window_title,omitempty"`
	URL         string  `json:"url,omitempty"`
	OCRText     *string `json:"ocr_text"`
	MediaPath   string  `json:"media_path"`
}

// Text returns the OCR text, empty when the field was absent.
func (e Event) Text() string {
	if e.OCRText == nil {
		return ""
	}
	return *e.OCRText
}

// Client talks to the capture source over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a capture source client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type eventsResponse struct {
	Events []Event `json:"events"`
}

// Poll fetches up to limit events captured after sinceMillis, oldest first.
// An empty page is a normal quiet-screen result, not an error.
func (c *Client) Poll(ctx context.Context, sinceMillis int64, limit int) ([]Event, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(sinceMillis, 10))
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build events request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll capture source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("capture source returned %s", resp.Status)
	}

	var page eventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode events page: %w", err)
	}
	return page.Events, nil
}

// Health checks the capture source liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("capture source unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("capture source health returned %s", resp.Status)
	}
	return nil
}
