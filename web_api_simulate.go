package main

import (
	"net/http"

	"whitewall/scenario"
	"whitewall/stream"
)

// handleSimulate plays a canned scenario over SSE. The scenario id and
// presentation pacing come from query parameters; unknown scenarios
// fall back to the anon-bot storyline.
func (ws *WebServer) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	scenarioID := r.URL.Query().Get("scenario")
	presentMode := r.URL.Query().Get("mode") == "present"

	sw, err := stream.NewWriter(w)
	if err != nil {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	stream.Play(r.Context(), sw, scenario.ForID(scenarioID, presentMode))
}
