package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"pdfchat/internal/util"
	"pdfchat/pkg/ai"
	"pdfchat/pkg/rag"
	"pdfchat/services/ingest/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	MaxUploadBytes int64
	CORSOrigins    []string
}

// Server exposes HTTP endpoints for the ingest service.
type Server struct {
	app            *app.App
	maxUploadBytes int64
	corsOrigins    []string
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:            cfg.App,
		maxUploadBytes: cfg.MaxUploadBytes,
		corsOrigins:    cfg.CORSOrigins,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.Chain(s.mux,
		util.WithRequestID,
		util.WithRequestLog("ingest"),
		util.WithSecurityHeaders,
		util.WithCORS(s.corsOrigins),
	)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/documents", s.withOwner(s.handleDocuments))
	s.mux.Handle("/documents/reindex", s.withOwner(s.handleReindex))
	s.mux.Handle("GET /jobs/{id}", s.withOwner(s.handleJob))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
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

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, owner string) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r, owner)
	case http.MethodGet:
		docs, err := s.app.ListDocuments(r.Context(), owner)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": docs,
			"count": len(docs),
		})
	case http.MethodDelete:
		fileName := strings.TrimSpace(r.URL.Query().Get("fileName"))
		if fileName == "" {
			writeError(w, http.StatusBadRequest, "fileName is required")
			return
		}
		if err := s.app.DeleteDocument(r.Context(), owner, fileName); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "fileName": fileName})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, owner string) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	if !s.app.IsExtensionAllowed(header.Filename) {
		writeError(w, http.StatusBadRequest, "unsupported file type")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file")
		return
	}
	generate := true
	if v := strings.TrimSpace(r.FormValue("generateQuestions")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "generateQuestions must be a boolean")
			return
		}
		generate = b
	}

	doc, err := s.app.Upload(r.Context(), app.UploadRequest{
		OwnerKey:          owner,
		FileName:          header.Filename,
		Data:              data,
		GenerateQuestions: generate,
		ModelID:           r.FormValue("model"),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

type reindexRequest struct {
	FileName string `json:"fileName"`
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request, owner string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req reindexRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.FileName) == "" {
		writeError(w, http.StatusBadRequest, "fileName is required")
		return
	}
	job, err := s.app.RequestReindex(r.Context(), owner, req.FileName)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request, owner string) {
	job, err := s.app.GetJob(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
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
		extractErr   *rag.ExtractionError
		emptyErr     *rag.EmptyDocumentError
		storageErr   *rag.StorageError
		malformedErr *rag.MalformedReplyError
	)
	switch {
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrUnsupportedType), errors.Is(err, ai.ErrUnknownModel):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrQueueDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &extractErr), errors.As(err, &emptyErr):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &storageErr):
		util.LoggerFromContext(r.Context()).Error("storage failure", "err", err)
		writeError(w, http.StatusBadGateway, "file storage unavailable")
	case errors.As(err, &malformedErr):
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":  "model returned a malformed reply",
			"detail": malformedErr.Err.Error(),
		})
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
