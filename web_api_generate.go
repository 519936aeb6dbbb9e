package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"whitewall/stream"
)

// handleGenerateImage runs one live image request as an SSE stream.
func (ws *WebServer) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	ws.handleGenerate(w, r, ws.orch.RunImage)
}

// handleGenerateVideo runs one live video request as an SSE stream.
func (ws *WebServer) handleGenerateVideo(w http.ResponseWriter, r *http.Request) {
	ws.handleGenerate(w, r, ws.orch.RunVideo)
}

// handleGenerate validates the request body synchronously, then hands
// the run to the orchestrator over the event stream. Validation errors
// never start a stream.
func (ws *WebServer) handleGenerate(w http.ResponseWriter, r *http.Request, run func(ctx context.Context, sink EventSink, req GenerateRequest)) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Prompt == "" || req.AgentID == "" || req.OwnerAddress == "" {
		writeError(w, http.StatusBadRequest, "Missing prompt, agentId, or ownerAddress")
		return
	}

	req.Prompt = cleanPrompt(req.Prompt)
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "Empty prompt")
		return
	}

	sw, err := stream.NewWriter(w)
	if err != nil {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	run(r.Context(), sw, req)
}

// cleanPrompt truncates to the prompt cap and trims whitespace.
func cleanPrompt(prompt string) string {
	runes := []rune(prompt)
	if len(runes) > PromptMaxLen {
		runes = runes[:PromptMaxLen]
	}
	return strings.TrimSpace(string(runes))
}
