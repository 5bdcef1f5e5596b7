// Package api exposes the deck service over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
	"github.com/Lllllllleong/pitchdeckflow/internal/scheduler"
	"github.com/Lllllllleong/pitchdeckflow/internal/services"
)

// multipartOverhead is allowed on top of the upload limit for form framing.
const multipartOverhead = 1 << 20

type Handler struct {
	service  *services.DeckService
	gatherer prometheus.Gatherer
	maxBytes int64
	logger   *slog.Logger
}

// NewRouter builds the HTTP routes. gatherer may be nil to omit /metrics.
func NewRouter(service *services.DeckService, gatherer prometheus.Gatherer, maxBytes int64, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{service: service, gatherer: gatherer, maxBytes: maxBytes, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/api/documents", func(r chi.Router) {
		r.Post("/", h.handleUpload)
		r.Get("/", h.handleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Get("/export", h.handleExport)
			r.Post("/cancel", h.handleCancel)
			r.Get("/audit", h.handleAudit)
		})
	})
	r.Delete("/api/cache/{fingerprint}", h.handleInvalidate)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "scheduler": h.service.Stats()})
}

// handleUpload accepts a multipart form with a "file" part, or the raw bytes
// as the body with ?filename= and optionally ?format=.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)

	req, err := readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, models.NewValidationError("file", fmt.Sprintf("file exceeds the %d byte limit", h.maxBytes)))
			return
		}
		h.writeError(w, r, err)
		return
	}

	res, err := h.service.Upload(r.Context(), req)
	if err != nil {
		var ve *models.ValidationError
		if errors.As(err, &ve) && res != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": ve.Error(), "field": ve.Field, "document": res.Document})
			return
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func readUpload(r *http.Request) (services.UploadRequest, error) {
	q := r.URL.Query()
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return services.UploadRequest{}, err
			}
			return services.UploadRequest{}, models.NewValidationError("file", "multipart form must carry a \"file\" part")
		}
		defer file.Close()
		content, err := io.ReadAll(file)
		if err != nil {
			return services.UploadRequest{}, err
		}
		format := r.FormValue("format")
		if format == "" {
			format = q.Get("format")
		}
		return services.UploadRequest{Filename: header.Filename, Format: format, Content: content}, nil
	}

	filename := q.Get("filename")
	if filename == "" && q.Get("format") == "" {
		return services.UploadRequest{}, models.NewValidationError("filename", "filename or format query parameter is required for raw uploads")
	}
	content, err := io.ReadAll(r.Body)
	if err != nil {
		return services.UploadRequest{}, err
	}
	return services.UploadRequest{Filename: filename, Format: q.Get("format"), Content: content}, nil
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, r, models.NewValidationError("limit", "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	docs, err := h.service.List(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Document(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format := r.URL.Query().Get("format")
	data, contentType, err := h.service.Export(r.Context(), id, format)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ext := services.ExportJSON
	if format != "" {
		ext = format
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+"."+ext))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.Cancel(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"documentId": id, "status": "cancelling"})
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := h.service.Audit(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documentId": id, "entries": entries})
}

func (h *Handler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.InvalidateCache(r.Context(), chi.URLParam(r, "fingerprint")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrResultUnavailable), errors.Is(err, scheduler.ErrFinished), errors.Is(err, models.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "requestId", middleware.GetReqID(r.Context()), "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
