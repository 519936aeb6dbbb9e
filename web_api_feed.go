package main

import (
	"net/http"
	"strconv"
	"time"

	"whitewall/feedstore"
	"whitewall/stream"
)

// FeedService reads the public feed for the HTTP layer.
type FeedService struct {
	store        *feedstore.Store
	pollInterval time.Duration
	now          func() int64
}

// NewFeedService creates a feed reader over the store.
func NewFeedService(store *feedstore.Store) *FeedService {
	return &FeedService{
		store:        store,
		pollInterval: FeedPollInterval,
		now:          func() int64 { return time.Now().UnixMilli() },
	}
}

// handleFeed serves the public feed: paginated JSON by default, an SSE
// stream of new entries with ?stream=true.
func (ws *WebServer) handleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Query().Get("stream") == "true" {
		ws.feed.streamNewEntries(w, r)
		return
	}

	query := r.URL.Query()
	limit := FeedPageLimit
	if raw := query.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > FeedPageMax {
		limit = FeedPageMax
	}

	page, err := ws.feed.store.FetchPage(r.Context(), query.Get("owner"), query.Get("cursor"), limit)
	if err != nil {
		GetLogger().Errorf("feed page failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Feed unavailable")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// streamNewEntries polls the feed index and pushes records newer than
// the connection start down an SSE stream, with periodic keep-alives.
// The poll survives transient store errors; the client reconnects if
// the connection itself drops.
func (f *FeedService) streamNewEntries(w http.ResponseWriter, r *http.Request) {
	sw, err := stream.NewWriter(w)
	if err != nil {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	last := f.now()

	poll := time.NewTicker(f.pollInterval)
	defer poll.Stop()
	keepAlive := time.NewTicker(stream.KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if err := sw.KeepAlive(); err != nil {
				return
			}
		case <-poll.C:
			entries, err := f.store.EntriesSince(ctx, last)
			if err != nil {
				GetLogger().Warnf("feed poll failed: %v", err)
				continue
			}
			for _, entry := range entries {
				if err := sw.SendJSON(entry); err != nil {
					return
				}
				if entry.Timestamp > last {
					last = entry.Timestamp
				}
			}
		}
	}
}
