package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/podcaststudio/realtime-engine/internal/archive"
	"github.com/podcaststudio/realtime-engine/internal/observability"
	"github.com/podcaststudio/realtime-engine/internal/recorder"
)

// API serves the session lifecycle and artifact endpoints.
type API struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewAPI creates the gateway HTTP API.
func NewAPI(registry *Registry, logger zerolog.Logger) *API {
	return &API{registry: registry, logger: logger}
}

// Register mounts the API routes on the mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", a.handleCreateSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", a.handleStopSession)
	mux.HandleFunc("GET /v1/sessions/{id}/conversation", a.handleConversation)
	mux.HandleFunc("GET /v1/sessions/{id}/archive", a.handleArchive)
	mux.HandleFunc("GET /v1/sessions/{id}/media", a.handleMedia)
}

type createSessionRequest struct {
	SessionID string                 `json:"session_id,omitempty"`
	Paper     *recorder.PaperContext `json:"paper,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	MediaPath string `json:"media_path"`
}

func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	session, err := a.registry.Create(r.Context(), req.SessionID, req.Paper)
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to create session")
		// A duplicate ID is the caller's mistake; everything else that gets
		// past body validation is an upstream failure.
		status := http.StatusBadGateway
		if errors.Is(err, ErrSessionExists) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: session.ID,
		MediaPath: fmt.Sprintf("/v1/sessions/%s/media", session.ID),
	})
}

func (a *API) handleStopSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	conv, err := a.registry.Stop(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

func (a *API) handleConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	conv, ok := a.registry.Conversation(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "no stored conversation for session")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

func (a *API) handleArchive(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	conv, ok := a.registry.Conversation(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "no stored conversation for session")
		return
	}

	data, err := archive.Export(conv)
	if err != nil {
		a.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to export archive")
		writeError(w, http.StatusInternalServerError, "failed to build archive")
		return
	}
	observability.RecordArchiveExport()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "conversation-"+sessionID+".zip"))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
