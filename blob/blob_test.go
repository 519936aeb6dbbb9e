package blob

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestUploadReturnsPublicURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/plates/abc.png" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer blob-token" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "image/png" {
			t.Errorf("content type = %q", got)
		}
		if got := r.Header.Get("X-Access"); got != "public" {
			t.Errorf("access header = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "png-bytes" {
			t.Errorf("body = %q", body)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn.example/plates/abc.png"})
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "blob-token")
	url, err := c.Upload(context.Background(), "plates/abc.png", []byte("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if url != "https://cdn.example/plates/abc.png" {
		t.Fatalf("url = %q", url)
	}
}

func TestUploadRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "bad-token")
	if _, err := c.Upload(context.Background(), "x.png", nil, "image/png"); err == nil {
		t.Fatalf("expected error on 403")
	}
}

func TestUploadRequiresURLInResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "tok")
	if _, err := c.Upload(context.Background(), "x.png", nil, "image/png"); err == nil {
		t.Fatalf("expected error on missing url")
	}
}
