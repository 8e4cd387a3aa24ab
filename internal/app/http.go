package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"pagepush/api/internal/auth"
	"pagepush/api/internal/config"
	"pagepush/api/internal/logger"
	"pagepush/api/internal/metrics"
	"pagepush/api/internal/rbac"
	"pagepush/api/internal/search"
	"pagepush/api/internal/store"
	"pagepush/api/internal/versions"
)

const maxBodyBytes = 8 << 20

type HTTPServer struct {
	service *Service
	gate    *auth.Gate
	metrics *metrics.Collector
	log     logger.Logger
	cfg     config.Config
}

func NewHTTPServer(service *Service, gate *auth.Gate) *HTTPServer {
	return &HTTPServer{
		service: service,
		gate:    gate,
		metrics: service.metrics,
		log:     service.log,
		cfg:     service.cfg,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	if s.cfg.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(s.withMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins(s.cfg.CORSOrigin),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Authorization", "Content-Type", "X-Api-Key", "X-Signature",
			"X-Timestamp", "Idempotency-Key", "X-Request-ID",
		},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	read := s.authorize(rbac.ActionRead)
	r.Route("/api/v1", func(r chi.Router) {
		r.With(s.authorize(rbac.ActionPublish)).Post("/publish", s.handlePublish)
		r.With(s.authorize(rbac.ActionSchedule)).Post("/schedule", s.handleSchedule)
		r.With(read).Get("/capabilities", s.handleCapabilities)
		r.With(read).Post("/convert", s.handleConvert)
		r.With(read).Get("/pages", s.handleListPages)
		r.With(read).Get("/pages/{slug}", s.handleExportPage)
		r.With(read).Get("/pages/{slug}/versions", s.handleListVersions)
		r.With(s.authorize(rbac.ActionRollback)).Post("/pages/{slug}/rollback", s.handleRollback)
	})
	return r
}

func corsOrigins(value string) []string {
	var origins []string
	for _, origin := range strings.Split(value, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if s.gate != nil {
		checks["auth"] = map[string]any{"failed_attempts": s.gate.Failures()}
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidJSON, err.Error(), nil)
		return
	}
	if strings.TrimSpace(req.Options.IdempotencyKey) == "" {
		req.Options.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	resp, err := s.service.Publish(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, PublishStatus(resp), resp)
}

func (s *HTTPServer) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidJSON, err.Error(), nil)
		return
	}
	resp, err := s.service.Schedule(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *HTTPServer) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Capabilities())
}

func (s *HTTPServer) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidJSON, err.Error(), nil)
		return
	}
	resp, err := s.service.Convert(req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleListPages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	resp, err := s.service.ListPages(r.Context(), search.Query{
		Text:   strings.TrimSpace(query.Get("q")),
		Status: strings.TrimSpace(query.Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleExportPage(w http.ResponseWriter, r *http.Request) {
	page, err := s.service.ExportPage(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	items, err := s.service.ListVersions(r.Context(), slug)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slug": slug, "versions": items})
}

func (s *HTTPServer) handleRollback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VersionID int64 `json:"version_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidJSON, err.Error(), nil)
		return
	}
	if body.VersionID <= 0 {
		s.fail(w, r, validationFailed(FieldIssue{Field: "version_id", Rule: "required", Message: "version_id is required"}))
		return
	}
	resp, err := s.service.Rollback(r.Context(), chi.URLParam(r, "slug"), body.VersionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// authorize authenticates the caller and checks its role may perform action.
// The body is read up front because signatures cover the raw bytes; it is
// put back for the handler.
func (s *HTTPServer) authorize(action rbac.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := readBody(w, r)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large", nil)
					return
				}
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Could not read request body", nil)
				return
			}

			ac, err := s.gate.Authenticate(r.Context(), auth.FromHTTP(r, body, action.Mutating()))
			if err != nil {
				reason := auth.Reason(err)
				s.metrics.AuthFailure(reason)
				s.log.Warn("request rejected",
					logger.String("request_id", requestID(r.Context())),
					logger.String("path", r.URL.Path),
					logger.String("reason", reason),
				)
				status, code, message, _ := mapError(err)
				writeError(w, status, code, message, nil)
				return
			}
			if !rbac.Can(ac.Role, action) {
				s.metrics.AuthFailure("forbidden")
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithContext(r.Context(), ac)))
		})
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			logger.String("request_id", requestID(r.Context())),
			logger.String("path", r.URL.Path),
			logger.String("code", code),
			logger.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("Cache-Control", "no-store")
		writer.Header().Set("X-Request-ID", reqID)

		next.ServeHTTP(writer, r)

		s.metrics.HTTPRequest(r.Method, writer.status)
		s.log.Info("request",
			logger.String("request_id", reqID),
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", writer.status),
			logger.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, auth.ErrInvalidSignature):
		return http.StatusUnauthorized, "INVALID_SIGNATURE", "Invalid request signature", nil
	case errors.Is(err, auth.ErrRequestExpired):
		return http.StatusUnauthorized, "REQUEST_EXPIRED", "Request timestamp outside the allowed window", nil
	case errors.Is(err, auth.ErrIPNotAllowed):
		return http.StatusForbidden, "IP_NOT_ALLOWED", "Client address not allowed", nil
	case errors.Is(err, auth.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil
	case errors.Is(err, versions.ErrVersionNotFound):
		return http.StatusNotFound, CodeVersionNotFound, "Version not found", nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}
