// Package blob talks to the external media service, which owns uploaded
// attachments and hands out short-lived signed URLs for stored objects.
package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pulse/messaging-app/internal/chat"
)

// Client is an HTTP client for the media service.
type Client struct {
	baseURL      string
	http         *http.Client
	serviceToken string
}

// NewClient creates a Client for the media service at baseURL.
func NewClient(baseURL string, serviceToken string) *Client {
	return &Client{
		baseURL:      baseURL,
		http:         &http.Client{Timeout: 5 * time.Second},
		serviceToken: serviceToken,
	}
}

// SignedURL exchanges a storage key for a time-limited download URL. A 404
// or 410 maps to chat.ErrMediaNotFound; any other failure means the media
// service itself, not the key.
func (c *Client) SignedURL(ctx context.Context, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/media/"+key, nil)
	if err != nil {
		return "", fmt.Errorf("blob: build request: %w", err)
	}
	if c.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("blob: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return "", fmt.Errorf("%w: %q", chat.ErrMediaNotFound, key)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("blob: key %q returned status %d", key, resp.StatusCode)
	}

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("blob: decode response: %w", err)
	}
	return body.URL, nil
}
