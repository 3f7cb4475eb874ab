// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/stackdrive/stackdrive/internal/auth"
	"github.com/stackdrive/stackdrive/internal/blob"
	"github.com/stackdrive/stackdrive/internal/events"
	"github.com/stackdrive/stackdrive/internal/logging"
	"github.com/stackdrive/stackdrive/internal/metrics"
	"github.com/stackdrive/stackdrive/internal/service"
)

// Server is the HTTP server.
type Server struct {
	svc           *service.Service
	blobs         blob.Store
	auth          *auth.Auth
	broadcaster   *events.Broadcaster
	maxUploadSize int64
}

// NewServer creates a new server.
func NewServer(svc *service.Service, blobs blob.Store, authHandler *auth.Auth, broadcaster *events.Broadcaster, maxUploadSize int64) *Server {
	return &Server{
		svc:           svc,
		blobs:         blobs,
		auth:          authHandler,
		broadcaster:   broadcaster,
		maxUploadSize: maxUploadSize,
	}
}

// Handler returns the HTTP handler with auth and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	// Protected endpoints
	protected := http.NewServeMux()

	protected.HandleFunc("GET /api/v1/files", s.handleSearch)
	protected.HandleFunc("GET /api/v1/files/{category}", s.handleList)
	protected.HandleFunc("POST /api/v1/files/upload", s.handleUpload)
	protected.HandleFunc("PATCH /api/v1/files/{id}", s.handleRename)
	protected.HandleFunc("DELETE /api/v1/files/{id}", s.handleDelete)
	protected.HandleFunc("PUT /api/v1/files/{id}/share", s.handleShare)
	protected.HandleFunc("GET /api/v1/files/{id}/download", s.handleDownload)
	protected.HandleFunc("GET /api/v1/usage", s.handleUsage)
	protected.HandleFunc("GET /api/v1/events", s.handleEvents)

	mux.Handle("/api/v1/", s.auth.Middleware(protected))

	// Apply logging and metrics middleware
	return metrics.Middleware(logging.Middleware(mux))
}

// actorFrom converts request claims into a service actor.
func actorFrom(r *http.Request) *service.Actor {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		return nil
	}
	return &service.Actor{
		ID:    claims.UserID,
		Email: claims.Email,
		Name:  claims.Name,
	}
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": "1.0"})
}

// ─── Files ──────────────────────────────────────────────────────────────────

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	matches, err := s.svc.Search(r.Context(), actorFrom(r), r.URL.Query().Get("search"))
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"files": matches})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 {
			s.sendError(w, http.StatusBadRequest, "Bad Request", "page must be a positive integer")
			return
		}
		page = p
	}

	listing, err := s.svc.List(r.Context(), actorFrom(r), r.PathValue("category"), page)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, listing)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor == nil {
		s.sendError(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.sendError(w, http.StatusRequestEntityTooLarge, "Payload Too Large",
				fmt.Sprintf("upload exceeds the %d byte limit", s.maxUploadSize))
			return
		}
		s.sendError(w, http.StatusBadRequest, "Bad Request", "invalid multipart body")
		return
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Bad Request", "multipart field \"file\" required")
		return
	}
	defer part.Close()

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	// The blob goes to storage first; the orchestrator cleans it up if
	// the quota or the registry rejects the file.
	obj, err := s.blobs.Put(r.Context(), header.Filename, mimeType, part)
	if err != nil {
		logging.Error("blob upload failed", zap.Error(err))
		s.sendError(w, http.StatusBadGateway, "Bad Gateway", "could not store file content")
		return
	}

	f, err := s.svc.Upload(r.Context(), actor, obj)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, f)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}

	f, err := s.svc.Rename(r.Context(), actorFrom(r), r.PathValue("id"), req.Name)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, f)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), actorFrom(r), r.PathValue("id")); err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string   `json:"email"`
		Permissions []string `json:"permissions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}

	f, err := s.svc.Share(r.Context(), actorFrom(r), r.PathValue("id"), req.Email, req.Permissions)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, f)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	url, err := s.svc.DownloadURL(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"url": url})
}

// ─── Usage ──────────────────────────────────────────────────────────────────

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Usage(r.Context(), actorFrom(r))
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, p)
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "Internal Server Error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Responses ──────────────────────────────────────────────────────────────

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"message":     message,
		"description": description,
	})
}

// sendServiceError maps a service failure onto an HTTP status.
func (s *Server) sendServiceError(w http.ResponseWriter, err error) {
	switch service.KindOf(err) {
	case service.KindUnauthenticated:
		s.sendError(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case service.KindPermissionDenied:
		s.sendError(w, http.StatusForbidden, "Forbidden", err.Error())
	case service.KindNotFound:
		s.sendError(w, http.StatusNotFound, "Not Found", err.Error())
	case service.KindQuotaExceeded:
		s.sendError(w, http.StatusBadRequest, "Quota Exceeded", err.Error())
	case service.KindValidation:
		s.sendError(w, http.StatusBadRequest, "Bad Request", err.Error())
	case service.KindUpstream:
		logging.Error("upstream failure", zap.Error(err))
		s.sendError(w, http.StatusBadGateway, "Bad Gateway", "a dependency failed, try again")
	default:
		logging.Error("unclassified failure", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Internal Server Error", "unexpected error")
	}
}
