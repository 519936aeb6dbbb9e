// Package blob uploads generated artifacts to durable public storage
// over HTTP and returns the canonical public URL.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Client uploads artifacts to the blob endpoint.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// New creates a client for the given storage endpoint.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 60 * time.Second},
	}
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload stores data under the given path with public access and
// returns the public URL.
func (c *Client) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/"+strings.TrimPrefix(path, "/"), bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, "build upload")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Access", "public")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "upload")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", errors.Errorf("upload failed (%d)", resp.StatusCode)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "decode upload response")
	}
	if out.URL == "" {
		return "", errors.New("upload returned no url")
	}
	return out.URL, nil
}
