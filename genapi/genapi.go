// Package genapi talks to the external image/video generation service.
// A generation is submit -> poll -> download: submit returns a job id,
// the job is polled until completed or failed with a hard overall
// timeout, and the finished artifact is downloaded as raw bytes.
package genapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// DefaultBaseURL is the hosted generation endpoint for the demo.
const DefaultBaseURL = "https://demo-api.whitewall.network/v1"

// MediaType selects the artifact kind.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Job statuses reported by the provider.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Result is a finished artifact.
type Result struct {
	Data        []byte
	ContentType string
}

// Client calls the generation API.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client

	// poll pacing, overridable in tests
	pollInterval time.Duration
	maxWait      time.Duration
}

// New creates a client. An empty base URL selects the hosted endpoint.
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		httpc:        &http.Client{Timeout: 30 * time.Second},
		pollInterval: 3 * time.Second,
		maxWait:      180 * time.Second,
	}
}

// Generate runs one submit/poll/download cycle. onStatus, when non-nil,
// receives every polled job status.
func (c *Client) Generate(ctx context.Context, prompt string, media MediaType, onStatus func(status string)) (*Result, error) {
	jobID, err := c.submit(ctx, prompt, media)
	if err != nil {
		return nil, err
	}
	if onStatus != nil {
		onStatus(StatusQueued)
	}
	if err := c.poll(ctx, jobID, onStatus); err != nil {
		return nil, err
	}
	return c.download(ctx, jobID)
}

type jobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type jobStatus struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (c *Client) submit(ctx context.Context, prompt string, media MediaType) (string, error) {
	var path string
	var body map[string]any
	switch media {
	case MediaVideo:
		path = "/gen/video"
		body = map[string]any{
			"prompt": prompt, "width": 512, "height": 320,
			"frames": 25, "steps": 20, "cfg": 4.0, "fps": 25,
		}
	default:
		path = "/gen/image"
		body = map[string]any{
			"prompt": prompt, "width": 1024, "height": 1024, "steps": 30,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", errors.Wrap(err, "encode submit")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "build submit")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "%s submit", media)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.New(readErrorMessage(resp.Body, fmt.Sprintf("%s submit failed (%d)", media, resp.StatusCode)))
	}

	var job jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return "", errors.Wrap(err, "decode submit response")
	}
	if job.JobID == "" {
		return "", errors.New("submit returned no job id")
	}
	return job.JobID, nil
}

// poll blocks until the job completes or the overall wait budget is
// spent. Failed and timed-out jobs return an error, never an empty
// success.
func (c *Client) poll(ctx context.Context, jobID string, onStatus func(string)) error {
	deadline := time.Now().Add(c.maxWait)
	for time.Now().Before(deadline) {
		status, err := c.pollOnce(ctx, jobID)
		if err != nil {
			return err
		}
		if onStatus != nil {
			onStatus(status.Status)
		}
		switch status.Status {
		case StatusCompleted:
			return nil
		case StatusFailed:
			if status.Error != "" {
				return errors.New(status.Error)
			}
			return errors.New("generation failed")
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "generation cancelled")
		case <-time.After(c.pollInterval):
		}
	}
	return errors.New("generation timed out")
}

func (c *Client) pollOnce(ctx context.Context, jobID string) (*jobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build poll")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "job poll")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("job poll failed (%d)", resp.StatusCode)
	}

	var status jobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, errors.Wrap(err, "decode poll response")
	}
	return &status, nil
}

func (c *Client) download(ctx context.Context, jobID string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobID+"/artifact", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build download")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "artifact download")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("artifact download failed (%d)", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read artifact")
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return &Result{Data: data, ContentType: contentType}, nil
}

// readErrorMessage extracts {"error": "..."} bodies, falling back to a
// generic message.
func readErrorMessage(r io.Reader, fallback string) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&body); err == nil && body.Error != "" {
		return body.Error
	}
	return fallback
}
