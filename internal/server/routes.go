package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/alfredhq/alfred/internal/chat"
	"github.com/alfredhq/alfred/internal/memory"
	"github.com/alfredhq/alfred/internal/user"
	"github.com/alfredhq/alfred/internal/ws"
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Use(CORSMiddleware)
	r.Use(DebugLogMiddleware(s.config.DebugLog))

	// Open endpoints
	r.Get("/health", s.handleHealth)
	r.Post("/register", s.handleRegister)
	r.Post("/login", s.handleLogin)
	r.Post("/conversation/start", s.handleConversationStart)
	r.Get("/ws", s.handleWebSocket)

	// Token-protected endpoints
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(s.config.AuthToken))

		r.Route("/mem0", func(r chi.Router) {
			r.Post("/add", s.handleMemAdd)
			r.Post("/search", s.handleMemSearch)
			r.Post("/delete", s.handleMemDelete)
			r.Post("/clear", s.handleMemClear)
			r.Post("/auto", s.handleMemAuto)
		})

		r.Post("/save", s.handleChatSave)
		r.Get("/history", s.handleChatHistory)
	})
}

// ----- request payloads (field names match the original wire format) -----

type memAddReq struct {
	UserID string   `json:"userId"`
	Text   string   `json:"text"`
	Tags   []string `json:"tags"`
	TS     string   `json:"ts"`
}

type memSearchReq struct {
	UserID string `json:"userId"`
	Query  string `json:"query"`
	TopK   *int   `json:"top_k"`
}

type memDeleteReq struct {
	UserID string `json:"userId"`
	ID     string `json:"id"`
}

type memClearReq struct {
	UserID string `json:"userId"`
}

type memAutoReq struct {
	UserID          string      `json:"userId"`
	Utterance       string      `json:"utterance"`
	SuggestText     string      `json:"suggest_text"`
	SuggestTags     []string    `json:"suggest_tags"`
	DedupeThreshold json.Number `json:"dedupe_threshold"`
}

type authReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type saveReq struct {
	UserID string                 `json:"userId"`
	Role   string                 `json:"role"`
	Text   string                 `json:"text"`
	TS     string                 `json:"ts"`
	ChatID string                 `json:"chatId"`
	Meta   map[string]interface{} `json:"meta"`
}

// ----- memory endpoints -----

func (s *Server) handleMemAdd(w http.ResponseWriter, r *http.Request) {
	var req memAddReq
	if !decodeJSON(w, r, &req) {
		return
	}

	outcome, err := s.memory.AddMemory(r.Context(), req.UserID, req.Text, req.Tags, parseTS(req.TS))
	if err != nil {
		httpError(w, err)
		return
	}

	if outcome.Inserted {
		s.hub.BroadcastEvent(ws.EventMemorySaved, map[string]interface{}{
			"userId": memory.NormalizeOwner(req.UserID),
			"id":     outcome.ID,
		})
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "id": outcome.ID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"skipped": "duplicate",
		"dup_id":  outcome.DupID,
		"score":   outcome.Score,
	})
}

func (s *Server) handleMemSearch(w http.ResponseWriter, r *http.Request) {
	var req memSearchReq
	if !decodeJSON(w, r, &req) {
		return
	}

	topK := s.config.MemoryTopK
	if req.TopK != nil {
		topK = *req.TopK
	}

	items, err := s.memory.SearchMemories(r.Context(), req.UserID, req.Query, topK)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleMemDelete(w http.ResponseWriter, r *http.Request) {
	var req memDeleteReq
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.memory.DeleteMemory(r.Context(), req.UserID, req.ID); err != nil {
		httpError(w, err)
		return
	}
	s.hub.BroadcastEvent(ws.EventMemoryDeleted, map[string]interface{}{
		"userId": memory.NormalizeOwner(req.UserID),
		"id":     req.ID,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleMemClear(w http.ResponseWriter, r *http.Request) {
	var req memClearReq
	if !decodeJSON(w, r, &req) {
		return
	}

	removed, err := s.memory.ClearMemories(r.Context(), req.UserID)
	if err != nil {
		httpError(w, err)
		return
	}
	s.hub.BroadcastEvent(ws.EventMemoryCleared, map[string]interface{}{
		"userId":  memory.NormalizeOwner(req.UserID),
		"removed": removed,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"cleared": true,
		"removed": removed,
	})
}

func (s *Server) handleMemAuto(w http.ResponseWriter, r *http.Request) {
	var req memAutoReq
	if !decodeJSON(w, r, &req) {
		return
	}

	capture := memory.AutoCaptureRequest{
		Owner:       req.UserID,
		HeaderOwner: r.Header.Get("X-User-Id"),
		Utterance:   req.Utterance,
		SuggestText: req.SuggestText,
		SuggestTags: req.SuggestTags,
	}
	// An unparseable threshold falls back to the default rather than
	// failing the request.
	if th, err := req.DedupeThreshold.Float64(); err == nil && req.DedupeThreshold != "" {
		capture.DedupeThreshold = &th
	}

	result, err := s.memory.AutoCapture(r.Context(), capture)
	if err != nil {
		httpError(w, err)
		return
	}

	if result.Saved {
		s.hub.BroadcastEvent(ws.EventMemorySaved, map[string]interface{}{
			"userId":  result.Owner,
			"id":      result.ID,
			"summary": result.Summary,
			"tags":    result.Tags,
		})
	} else if result.Skipped != "" {
		s.hub.BroadcastEvent(ws.EventMemorySkipped, map[string]interface{}{
			"userId": result.Owner,
			"dup_id": result.DupID,
		})
	}

	resp := struct {
		OK bool `json:"ok"`
		*memory.AutoCaptureResult
	}{OK: true, AutoCaptureResult: result}
	writeJSON(w, http.StatusOK, resp)
}

// ----- accounts -----

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req authReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		httpDetail(w, http.StatusBadRequest, "username and password are required")
		return
	}

	u, err := s.users.Register(r.Context(), req.Username, req.Password)
	if errors.Is(err, user.ErrUsernameTaken) {
		httpDetail(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		httpDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"userId": u.Username})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req authReq
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := s.users.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, user.ErrInvalidCredentials) {
		httpDetail(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		httpDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"userId": u.Username})
}

// ----- chat history -----

func (s *Server) handleChatSave(w http.ResponseWriter, r *http.Request) {
	var req saveReq
	if !decodeJSON(w, r, &req) {
		return
	}

	if s.config.DisableChatSave {
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "skipped": "chat-saving disabled"})
		return
	}

	err := s.chat.Save(r.Context(), &chat.Message{
		Username: req.UserID,
		ChatID:   req.ChatID,
		Role:     req.Role,
		Text:     req.Text,
		TS:       parseTS(req.TS),
		Meta:     req.Meta,
	})
	if errors.Is(err, chat.ErrInvalidRole) {
		httpDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		httpDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		httpDetail(w, http.StatusBadRequest, "userId is required")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}

	messages, err := s.chat.History(r.Context(), userID, limit)
	if err != nil {
		httpDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	items := make([]map[string]interface{}, 0, len(messages))
	for _, m := range messages {
		items = append(items, map[string]interface{}{
			"role": m.Role,
			"text": m.Text,
			"ts":   m.TS.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": items})
}

// ----- misc -----

func (s *Server) handleConversationStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	log.Printf("[INFO] User %q started a conversation at %s", req.Username, time.Now().UTC().Format(time.RFC3339))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"message": "Conversation started for " + req.Username,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"time":      time.Now().UTC().Format(time.RFC3339),
		"db":        s.dbDriver.Path(),
		"chat_save": !s.config.DisableChatSave,
		"model":     s.config.EmbedModel,
		"auth":      s.config.AuthToken != "",
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws.ServeWs(s.hub, w, r)
}

// ----- helpers -----

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpDetail(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[WARN] failed to encode response: %v", err)
	}
}

// httpDetail writes an error payload in the original backend's
// {"detail": ...} shape.
func httpDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// httpError maps memory-core errors onto HTTP statuses: validation is
// the caller's fault, a missing record is 404, an unreachable embedding
// model is a retryable 503, anything else is a 500.
func httpError(w http.ResponseWriter, err error) {
	var validation *memory.ValidationError
	switch {
	case errors.As(err, &validation):
		httpDetail(w, http.StatusBadRequest, validation.Msg)
	case errors.Is(err, memory.ErrNotFound):
		httpDetail(w, http.StatusNotFound, "memory not found")
	case errors.Is(err, memory.ErrModelUnavailable):
		httpDetail(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Printf("[WARN] request failed: %v", err)
		httpDetail(w, http.StatusInternalServerError, "internal error")
	}
}

// parseTS parses an ISO-8601 timestamp, tolerating a missing zone.
// Empty or malformed input returns the zero time, which stores
// interpret as "now".
func parseTS(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
