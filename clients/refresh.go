package clients

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const maxRefreshResponseBytes = 1 << 20

// RefreshClient re-acquires short-lived upstream URLs from an external
// resolver endpoint. The resolver is queried with the content key and answers
// with fresh credentials for the same video.
type RefreshClient struct {
	endpoint   string
	httpClient *http.Client
}

type refreshResponse struct {
	URL     string `json:"url"`
	Headers string `json:"headers"`
}

func NewRefreshClient(endpoint string) *RefreshClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 1 * time.Second
	client.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	client.Logger = nil

	return &RefreshClient{
		endpoint:   endpoint,
		httpClient: client.StandardClient(),
	}
}

// RefreshURL asks the resolver for fresh credentials for contentKey. The
// returned headers blob may be empty.
func (c *RefreshClient) RefreshURL(contentKey string) (string, string, error) {
	if c.endpoint == "" {
		return "", "", fmt.Errorf("no url refresh endpoint configured")
	}

	reqURL := fmt.Sprintf("%s?key=%s", c.endpoint, url.QueryEscape(contentKey))
	resp, err := c.httpClient.Get(reqURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to reach url resolver: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRefreshResponseBytes))
	if err != nil {
		return "", "", fmt.Errorf("failed to read url resolver response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", "", fmt.Errorf("url resolver returned status %d: %s", resp.StatusCode, body)
	}

	var parsed refreshResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", "", fmt.Errorf("invalid url resolver response: %w", err)
	}
	if parsed.URL == "" {
		return "", "", fmt.Errorf("url resolver returned an empty url")
	}
	return parsed.URL, parsed.Headers, nil
}
