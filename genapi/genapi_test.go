package genapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// fakeProvider serves the submit/poll/download surface with a scripted
// sequence of poll statuses.
type fakeProvider struct {
	t        *testing.T
	statuses []string
	polls    atomic.Int32
	failMsg  string
	artifact []byte
}

func (f *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/gen/image", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			f.t.Errorf("authorization = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			f.t.Errorf("decode submit: %v", err)
		}
		if body["prompt"] == "" {
			f.t.Errorf("submit carried no prompt")
		}
		json.NewEncoder(w).Encode(jobResponse{JobID: "job-1", Status: StatusQueued})
	})
	mux.HandleFunc("/gen/video", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(jobResponse{JobID: "job-1", Status: StatusQueued})
	})
	mux.HandleFunc("/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		i := int(f.polls.Add(1)) - 1
		if i >= len(f.statuses) {
			i = len(f.statuses) - 1
		}
		json.NewEncoder(w).Encode(jobStatus{JobID: "job-1", Status: f.statuses[i], Error: f.failMsg})
	})
	mux.HandleFunc("/jobs/job-1/artifact", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/webp")
		w.Write(f.artifact)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeProvider) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	c := New(srv.URL, "test-key")
	c.pollInterval = time.Millisecond
	c.maxWait = time.Second
	return c
}

func TestGenerateHappyPath(t *testing.T) {
	f := &fakeProvider{
		t:        t,
		statuses: []string{StatusProcessing, StatusProcessing, StatusCompleted},
		artifact: []byte("fake-image-bytes"),
	}
	c := newTestClient(t, f)

	var seen []string
	res, err := c.Generate(context.Background(), "a watercolor fox", MediaImage, func(s string) {
		seen = append(seen, s)
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(res.Data) != "fake-image-bytes" {
		t.Fatalf("artifact bytes = %q", res.Data)
	}
	if res.ContentType != "image/webp" {
		t.Fatalf("content type = %q", res.ContentType)
	}
	if len(seen) == 0 || seen[0] != StatusQueued {
		t.Fatalf("first reported status should be queued, got %v", seen)
	}
	if seen[len(seen)-1] != StatusCompleted {
		t.Fatalf("last reported status should be completed, got %v", seen)
	}
}

func TestGenerateFailedJobCarriesProviderMessage(t *testing.T) {
	f := &fakeProvider{
		t:        t,
		statuses: []string{StatusFailed},
		failMsg:  "nsfw content rejected",
	}
	c := newTestClient(t, f)

	_, err := c.Generate(context.Background(), "something", MediaImage, nil)
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(err.Error(), "nsfw content rejected") {
		t.Fatalf("error should carry provider message, got %v", err)
	}
}

func TestGenerateTimesOutOnStuckJob(t *testing.T) {
	f := &fakeProvider{
		t:        t,
		statuses: []string{StatusProcessing},
	}
	c := newTestClient(t, f)
	c.maxWait = 20 * time.Millisecond

	_, err := c.Generate(context.Background(), "something", MediaImage, nil)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestGenerateStopsOnCancel(t *testing.T) {
	f := &fakeProvider{
		t:        t,
		statuses: []string{StatusProcessing},
	}
	c := newTestClient(t, f)
	c.pollInterval = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.Generate(ctx, "something", MediaImage, nil)
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestSubmitErrorBodyIsExtracted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]string{"error": "quota exhausted"})
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL, "test-key")

	_, err := c.Generate(context.Background(), "something", MediaImage, nil)
	if err == nil || !strings.Contains(err.Error(), "quota exhausted") {
		t.Fatalf("expected provider error message, got %v", err)
	}
}
