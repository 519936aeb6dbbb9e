package main

import (
	"context"
	"encoding/json"
	"net/http"
)

// WebServer provides the HTTP endpoints for the demo: the scenario
// simulation stream, the live generation streams, and the public feed.
type WebServer struct {
	cfg    *Config
	orch   *Orchestrator
	feed   *FeedService
	hub    *feedHub
	server *http.Server
}

// NewWebServer creates a web server bound to its collaborators.
func NewWebServer(cfg *Config, orch *Orchestrator, feed *FeedService, hub *feedHub) *WebServer {
	ws := &WebServer{
		cfg:  cfg,
		orch: orch,
		feed: feed,
		hub:  hub,
	}
	ws.server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: NewRouter(ws),
	}
	return ws
}

func (ws *WebServer) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/api/simulate", ws.handleSimulate)
	mux.HandleFunc("/api/generate", ws.handleGenerateImage)
	mux.HandleFunc("/api/generate-video", ws.handleGenerateVideo)
	mux.HandleFunc("/api/feed", ws.handleFeed)
	mux.HandleFunc("/api/feed/ws", ws.handleFeedSocket)
}

// ListenAndServe blocks serving HTTP until shutdown or failure.
func (ws *WebServer) ListenAndServe() error {
	return ws.server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	return ws.server.Shutdown(ctx)
}

func (ws *WebServer) handleFeedSocket(w http.ResponseWriter, r *http.Request) {
	if ws.hub == nil {
		http.Error(w, "Feed push not available", http.StatusServiceUnavailable)
		return
	}
	ws.hub.handle(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		GetLogger().Warnf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
