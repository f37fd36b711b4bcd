package server

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"pdfchat/internal/ratelimit"
	"pdfchat/internal/util"
	"pdfchat/pkg/ai"
	"pdfchat/pkg/chathistory"
	"pdfchat/pkg/domain"
	"pdfchat/pkg/rag"
	"pdfchat/services/chat/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App          *app.App
	Limiter      *ratelimit.FixedWindowLimiter
	MaxBodyBytes int64
	CORSOrigins  []string
}

// Server exposes HTTP endpoints for the chat service.
type Server struct {
	app          *app.App
	limiter      *ratelimit.FixedWindowLimiter
	maxBodyBytes int64
	corsOrigins  []string
	mux          *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	s := &Server{
		app:          cfg.App,
		limiter:      cfg.Limiter,
		maxBodyBytes: maxBody,
		corsOrigins:  cfg.CORSOrigins,
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.Chain(s.mux,
		util.WithRequestID,
		util.WithRequestLog("chat"),
		util.WithSecurityHeaders,
		util.WithCORS(s.corsOrigins),
	)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("GET /models", s.handleModels)
	s.mux.Handle("POST /chat", s.withOwner(s.limited(s.handleChat)))
	s.mux.Handle("POST /chat/references", s.withOwner(s.limited(s.handleReferences)))
	s.mux.Handle("GET /history", s.withOwner(s.handleHistoryList))
	s.mux.Handle("GET /history/{title}", s.withOwner(s.handleHistoryLoad))
	s.mux.Handle("PUT /history/{title}", s.withOwner(s.handleHistorySave))
	s.mux.Handle("DELETE /history/{title}", s.withOwner(s.handleHistoryDelete))
	s.mux.Handle("POST /history/{title}/clear", s.withOwner(s.handleHistoryClear))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"items":   s.app.Models(),
		"default": s.app.DefaultModel().ID,
	})
}

type ownerHandler func(http.ResponseWriter, *http.Request, string)

// withOwner resolves the owner scope key from the X-Owner-Key header.
func (s *Server) withOwner(next ownerHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(util.OwnerKeyHeader))
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "owner key required ("+util.OwnerKeyHeader+" header)")
			return
		}
		next(w, r, owner)
	})
}

// limited applies the per-owner model call limit.
func (s *Server) limited(next ownerHandler) ownerHandler {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request, owner string) {
		decision := s.limiter.Allow(r.Context(), owner)
		if !decision.Allowed {
			secs := int(math.Ceil(decision.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r, owner)
	}
}

type chatRequest struct {
	Message       string        `json:"message"`
	History       []domain.Turn `json:"history"`
	FileNames     []string      `json:"fileNames"`
	Model         string        `json:"model"`
	ContextWindow int           `json:"contextWindow"`
	K             int           `json:"k"`
	Title         string        `json:"title"`
	AutoSave      bool          `json:"autoSave"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, owner string) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.app.Chat(r.Context(), app.ChatRequest{
		OwnerKey:      owner,
		Message:       req.Message,
		History:       req.History,
		FileNames:     req.FileNames,
		Model:         req.Model,
		ContextWindow: req.ContextWindow,
		K:             req.K,
		AutoSave:      req.AutoSave,
		Title:         req.Title,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type referencesRequest struct {
	Question  string   `json:"question"`
	Answer    string   `json:"answer"`
	FileNames []string `json:"fileNames"`
	Model     string   `json:"model"`
	K         int      `json:"k"`
}

func (s *Server) handleReferences(w http.ResponseWriter, r *http.Request, owner string) {
	var req referencesRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.app.References(r.Context(), app.ReferencesRequest{
		OwnerKey:  owner,
		Question:  req.Question,
		Answer:    req.Answer,
		FileNames: req.FileNames,
		Model:     req.Model,
		K:         req.K,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request, owner string) {
	titles, err := s.app.ListSessions(r.Context(), owner)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if titles == nil {
		titles = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": titles, "count": len(titles)})
}

func (s *Server) handleHistoryLoad(w http.ResponseWriter, r *http.Request, owner string) {
	data, err := s.app.LoadSession(r.Context(), owner, r.PathValue("title"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleHistorySave(w http.ResponseWriter, r *http.Request, owner string) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	title := r.PathValue("title")
	if err := s.app.SaveSession(r.Context(), owner, title, data); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "title": title})
}

func (s *Server) handleHistoryClear(w http.ResponseWriter, r *http.Request, owner string) {
	title := r.PathValue("title")
	if err := s.app.ClearSession(r.Context(), owner, title); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "title": title})
}

func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request, owner string) {
	title := r.PathValue("title")
	if err := s.app.DeleteSession(r.Context(), owner, title); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "title": title})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		noContext    *rag.NoContextFoundError
		malformedErr *rag.MalformedReplyError
	)
	switch {
	case errors.Is(err, rag.ErrEmptyMessage), errors.Is(err, rag.ErrEmptyQuery),
		errors.Is(err, rag.ErrEmptyAnswer), errors.Is(err, rag.ErrInvalidK),
		errors.Is(err, ai.ErrUnknownModel), errors.Is(err, app.ErrTitleRequired),
		errors.Is(err, chathistory.ErrInvalidKey), errors.Is(err, chathistory.ErrInvalidData):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrOwnerRequired):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &noContext):
		writeError(w, http.StatusNotFound, "no references available")
	case errors.Is(err, chathistory.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &malformedErr):
		util.LoggerFromContext(r.Context()).Warn("malformed model reply", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":  "model returned a malformed reply",
			"detail": malformedErr.Err.Error(),
		})
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
