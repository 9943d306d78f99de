// Package api exposes the HTTP gateway: entity and message queries,
// synchronous send endpoints bridged into the session loops, stored
// media files, and an LLM chat endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/copperline/chatvault/pkg/bridge"
	"github.com/copperline/chatvault/pkg/logger"
	"github.com/copperline/chatvault/pkg/media"
	"github.com/copperline/chatvault/pkg/model"
	"github.com/copperline/chatvault/pkg/session"
	"github.com/copperline/chatvault/pkg/store"
)

// Sender relays synchronous send requests into a running session.
type Sender interface {
	SendDirect(ctx context.Context, role, targetID, text string) error
	Broadcast(ctx context.Context, role, text string) error
}

// ChatService produces a completion for a user message.
type ChatService interface {
	Chat(ctx context.Context, message string) (string, error)
}

// ExtractJSON pulls a structured payload out of completion text.
type ExtractJSON func(text string) (json.RawMessage, bool)

type Server struct {
	entities store.EntityStore
	messages store.MessageLog
	sender   Sender
	files    *media.Store
	states   func() map[string]session.State
	chat     ChatService
	extract  ExtractJSON
}

func NewServer(entities store.EntityStore, messages store.MessageLog, sender Sender, files *media.Store, states func() map[string]session.State) *Server {
	return &Server{
		entities: entities,
		messages: messages,
		sender:   sender,
		files:    files,
		states:   states,
	}
}

// WithChat enables the /api/chat endpoint.
func (s *Server) WithChat(svc ChatService, extract ExtractJSON) *Server {
	s.chat = svc
	s.extract = extract
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Get("/actors", s.handleActors)
		api.Get("/sources", s.handleSources)
		api.Get("/messages", s.handleMessages)
		api.Post("/send", s.handleSend)
		api.Post("/broadcast", s.handleBroadcast)
		api.Post("/chat", s.handleChat)
	})

	r.Get("/files/{platform}/{name}", s.handleFile)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	states := map[string]string{}
	if s.states != nil {
		for role, st := range s.states() {
			states[role] = st.String()
		}
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": states,
	})
}

func (s *Server) handleActors(w http.ResponseWriter, r *http.Request) {
	actors, err := s.entities.ListActors(r.Context(), r.URL.Query().Get("platform"))
	if err != nil {
		logger.ErrorCF("api", "list actors failed", map[string]any{"error": err.Error()})
		RespondError(w, http.StatusInternalServerError, "failed to list actors")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"actors": actors})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	kind := model.SourceKind(r.URL.Query().Get("kind"))
	sources, err := s.entities.ListSources(r.Context(), kind)
	if err != nil {
		logger.ErrorCF("api", "list sources failed", map[string]any{"error": err.Error()})
		RespondError(w, http.StatusInternalServerError, "failed to list sources")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

// handleMessages serves either a source history (kind+source) or a
// symmetric direct history (actor). Oldest first.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			RespondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	var (
		msgs []model.Message
		err  error
	)
	switch {
	case q.Get("actor") != "":
		msgs, err = s.messages.ByActor(r.Context(), q.Get("actor"), limit)
	case q.Get("source") != "":
		kind := model.SourceKind(q.Get("kind"))
		if kind == "" {
			kind = model.SourceGroup
		}
		msgs, err = s.messages.BySource(r.Context(), kind, q.Get("source"), limit)
	default:
		RespondError(w, http.StatusBadRequest, "actor or source query parameter is required")
		return
	}
	if err != nil {
		logger.ErrorCF("api", "message query failed", map[string]any{"error": err.Error()})
		RespondError(w, http.StatusInternalServerError, "failed to query messages")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type sendRequest struct {
	Role string `json:"role"`
	To   string `json:"to"`
	Text string `json:"text"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Role == "" || req.To == "" || req.Text == "" {
		RespondError(w, http.StatusBadRequest, "role, to and text are required")
		return
	}

	if err := s.sender.SendDirect(r.Context(), req.Role, req.To, req.Text); err != nil {
		s.respondSendError(w, req.Role, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Role == "" || req.Text == "" {
		RespondError(w, http.StatusBadRequest, "role and text are required")
		return
	}

	if err := s.sender.Broadcast(r.Context(), req.Role, req.Text); err != nil {
		s.respondSendError(w, req.Role, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) respondSendError(w http.ResponseWriter, role string, err error) {
	var rejected *bridge.RejectedError
	switch {
	case errors.Is(err, session.ErrUnknownRole):
		RespondError(w, http.StatusNotFound, "unknown session role: "+role)
	case errors.Is(err, bridge.ErrNotReady):
		RespondError(w, http.StatusServiceUnavailable, "session not connected")
	case errors.Is(err, bridge.ErrTimeout):
		RespondError(w, http.StatusGatewayTimeout, "send timed out")
	case errors.As(err, &rejected):
		RespondError(w, http.StatusBadGateway, "send rejected: "+rejected.Err.Error())
	default:
		logger.ErrorCF("api", "send failed", map[string]any{"role": role, "error": err.Error()})
		RespondError(w, http.StatusInternalServerError, "send failed")
	}
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	name := chi.URLParam(r, "name")

	path, err := s.files.Resolve(platform, name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		RespondError(w, http.StatusNotFound, "file not found")
		return
	case err != nil:
		RespondError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	http.ServeFile(w, r, path)
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		RespondError(w, http.StatusServiceUnavailable, "chat unavailable")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := s.chat.Chat(r.Context(), req.Message)
	if err != nil {
		logger.ErrorCF("api", "chat completion failed", map[string]any{"error": err.Error()})
		RespondError(w, http.StatusBadGateway, "chat completion failed")
		return
	}

	resp := map[string]any{"reply": reply}
	if s.extract != nil {
		if data, ok := s.extract(reply); ok {
			resp["data"] = data
		}
	}
	RespondJSON(w, http.StatusOK, resp)
}
