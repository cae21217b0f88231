package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/logging"
	"github.com/custodia-labs/sercha-rag/internal/worker"
)

// retryAfterSeconds is sent with 504 responses
const retryAfterSeconds = "5"

var validate = validator.New()

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error  string            `json:"error" example:"validation failed"`
	Fields map[string]string `json:"fields,omitempty"`
}

// HealthResponse reports per-component status
// @Description Health check response
type HealthResponse struct {
	Status       string            `json:"status" example:"healthy"`
	Timestamp    time.Time         `json:"timestamp"`
	Services     map[string]bool   `json:"services"`
	Capabilities map[string]bool   `json:"capabilities,omitempty"`
	Backends     map[string]string `json:"backends,omitempty"`
	Worker       *worker.Health    `json:"worker,omitempty"`
	Ready        bool              `json:"ready"`
	Version      string            `json:"version" example:"1.0.0"`
}

// AskRequest is the body of POST /api/v1/ask.
// Tenant, role and user come from the caller's claims.
type AskRequest struct {
	Question   string `json:"question" validate:"required,min=3"`
	Reasoning  bool   `json:"reasoning"`
	MaxSources int    `json:"max_sources" validate:"omitempty,min=1,max=10"`
}

// UploadRequest is the JSON body of POST /api/v1/documents
type UploadRequest struct {
	TenantID   string `json:"tenant_id"`
	SourceFile string `json:"source_file" validate:"required"`
	Roles      string `json:"roles" validate:"required"`
	Text       string `json:"text" validate:"required"`
}

// UploadResponse acknowledges a queued document
type UploadResponse struct {
	JobID      string           `json:"job_id"`
	Status     domain.JobStatus `json:"status"`
	TenantID   string           `json:"tenant_id"`
	SourceFile string           `json:"source_file"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the status of the vector index, memory store and generation capability
// @Tags         Health
// @Produce      json
// @Success      200  {object}  HealthResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health(r.Context()))
}

// handleReady godoc
// @Summary      Readiness check
// @Tags         Health
// @Produce      json
// @Success      200  {object}  HealthResponse
// @Failure      503  {object}  HealthResponse
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := s.health(r.Context())
	status := http.StatusOK
	if resp.Status != "healthy" || !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) health(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Services:  make(map[string]bool, len(s.checks)),
		Version:   s.version,
	}
	for _, c := range s.checks {
		err := c.Check(ctx)
		resp.Services[c.Name] = err == nil
		if err != nil {
			resp.Status = "degraded"
			s.logger.Warn("health check failed", zap.String("component", c.Name), zap.Error(err))
		}
	}

	resp.Ready = true
	if s.runtime != nil {
		resp.Ready = s.runtime.Ready()
		resp.Capabilities = map[string]bool{
			"embedding":  s.runtime.EmbeddingAvailable(),
			"generation": s.runtime.GenerationAvailable(),
			"reranker":   s.runtime.RerankerAvailable(),
		}
		resp.Backends = map[string]string{
			"index":  s.runtime.IndexBackend,
			"memory": s.runtime.MemoryBackend,
		}
	}

	if s.worker != nil {
		wh := s.worker.Health(ctx)
		resp.Worker = &wh
		if !wh.Running || !wh.QueueHealth {
			resp.Status = "degraded"
			s.logger.Warn("ingest worker unhealthy", zap.Bool("running", wh.Running), zap.String("error", wh.Error))
		}
	}
	return resp
}

// handleVersion godoc
// @Summary      Get API version
// @Tags         Health
// @Produce      json
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// Chat endpoints

// handleAsk godoc
// @Summary      Ask a question
// @Description  Answers a question grounded in the caller's tenant documents visible to their role
// @Tags         Chat
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      AskRequest  true  "Question"
// @Success      200      {object}  domain.AskResult
// @Failure      400      {object}  ErrorResponse
// @Failure      403      {object}  ErrorResponse
// @Failure      504      {object}  ErrorResponse
// @Router       /ask [post]
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	claims := GetClaims(r.Context())

	mode := domain.PromptModeNormal
	if req.Reasoning {
		mode = domain.PromptModeReasoning
	}

	result, err := s.chat.Ask(r.Context(), domain.AskRequest{
		Query:      req.Question,
		TenantID:   claims.TenantID,
		Role:       claims.Role,
		UserID:     claims.UserID,
		Mode:       mode,
		MaxSources: req.MaxSources,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleClearHistory godoc
// @Summary      Clear conversation history
// @Tags         Chat
// @Security     BearerAuth
// @Success      204
// @Router       /history [delete]
func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if strings.TrimSpace(claims.TenantID) == "" {
		writeError(w, http.StatusForbidden, "tenant is required")
		return
	}
	if strings.TrimSpace(claims.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	if err := s.memory.Clear(r.Context(), claims.TenantID, claims.UserID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Document endpoints

// handleUpload godoc
// @Summary      Upload a document
// @Description  Queues a document for chunking and indexing. Accepts JSON or a multipart file upload.
// @Tags         Documents
// @Accept       json,mpfd
// @Produce      json
// @Param        request  body      UploadRequest  false  "Document"
// @Success      202      {object}  UploadResponse
// @Failure      400      {object}  ErrorResponse
// @Failure      403      {object}  ErrorResponse
// @Router       /documents [post]
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	var req UploadRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		parsed, err := readMultipartUpload(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req = *parsed
		if !validateRequest(w, &req) {
			return
		}
	} else if !decodeAndValidate(w, r, &req) {
		return
	}

	if req.TenantID == "" {
		req.TenantID = GetClaims(r.Context()).TenantID
	}
	roles, err := domain.ParseRoles(req.Roles)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	doc := domain.DocumentInput{
		Text:       req.Text,
		TenantID:   req.TenantID,
		SourceFile: req.SourceFile,
		Roles:      roles,
	}
	if err := doc.Validate(); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	job := domain.NewIngestJob(doc)
	if err := s.queue.Enqueue(r.Context(), job); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	logging.WithRequest(r.Context(), s.logger).Info("document queued",
		zap.String("job_id", job.ID),
		zap.String("tenant_id", doc.TenantID),
		zap.String("source_file", doc.SourceFile),
		zap.Int("bytes", len(doc.Text)),
	)

	writeJSON(w, http.StatusAccepted, UploadResponse{
		JobID:      job.ID,
		Status:     job.Status,
		TenantID:   doc.TenantID,
		SourceFile: doc.SourceFile,
	})
}

// readMultipartUpload reads the form fields and the uploaded file of a multipart request
func readMultipartUpload(r *http.Request) (*UploadRequest, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, fmt.Errorf("invalid multipart body: %w", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New("file is required")
	}
	defer file.Close()

	body, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	req := &UploadRequest{
		TenantID:   r.FormValue("tenant_id"),
		SourceFile: r.FormValue("source_file"),
		Roles:      r.FormValue("roles"),
		Text:       string(body),
	}
	if req.SourceFile == "" {
		req.SourceFile = header.Filename
	}
	if req.Roles == "" {
		req.Roles = r.FormValue("accessed_role_list")
	}
	return req, nil
}

// handleListDocuments godoc
// @Summary      List documents
// @Description  Lists the registry records of the caller's tenant
// @Tags         Documents
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   domain.DocumentRecord
// @Router       /documents [get]
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.ingest.ListDocuments(r.Context(), GetClaims(r.Context()).TenantID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleDeleteDocument godoc
// @Summary      Delete a document
// @Description  Removes a document's points and registry record within the caller's tenant
// @Tags         Documents
// @Param        source_file  path  string  true  "Source file (URL-escaped)"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Router       /documents/{source_file} [delete]
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	sourceFile, err := url.PathUnescape(chi.URLParam(r, "source_file"))
	if err != nil || sourceFile == "" {
		writeError(w, http.StatusBadRequest, "invalid source file")
		return
	}

	if err := s.ingest.DeleteDocument(r.Context(), GetClaims(r.Context()).TenantID, sourceFile); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetJob godoc
// @Summary      Get ingest job status
// @Tags         Documents
// @Produce      json
// @Param        id   path      string  true  "Job ID"
// @Success      200  {object}  domain.IngestJob
// @Failure      404  {object}  ErrorResponse
// @Router       /jobs/{id} [get]
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	// jobs of other tenants are reported as missing
	claims := GetClaims(r.Context())
	if !claims.Admin && job.Document.TenantID != claims.TenantID {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, job.Summary())
}

// handleOptimize godoc
// @Summary      Optimize the index
// @Description  Switches the vector index to read-optimized mode (admin only)
// @Tags         Admin
// @Success      200  {object}  map[string]string
// @Router       /admin/optimize [post]
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	if err := s.ingest.Optimize(r.Context()); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "optimized"})
}

// Helper functions

// decodeAndValidate decodes a JSON body into dst and validates it, writing a 400 on failure
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return validateRequest(w, dst)
}

func validateRequest(w http.ResponseWriter, dst interface{}) bool {
	err := validate.Struct(dst)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Fields: fieldErrors(verrs)})
	return false
}

func fieldErrors(errs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(errs))
	for _, err := range errs {
		field := err.Field()
		switch err.Tag() {
		case "required":
			fields[field] = fmt.Sprintf("%s is required", field)
		case "min":
			fields[field] = fmt.Sprintf("%s must be at least %s", field, err.Param())
		case "max":
			fields[field] = fmt.Sprintf("%s must be at most %s", field, err.Param())
		default:
			fields[field] = fmt.Sprintf("%s validation failed on '%s' tag", field, err.Tag())
		}
	}
	return fields
}

// writeServiceError maps pipeline errors to status codes
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if domain.IsRetryable(err) {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	if status >= http.StatusInternalServerError {
		logging.WithRequest(r.Context(), s.logger).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeError(w, status, message)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrScopeViolation):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrTokenInvalid), errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrLockNotAcquired):
		return http.StatusConflict, "document is being ingested"
	case errors.Is(err, domain.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "upstream timeout"
	case errors.Is(err, domain.ErrIndexInconsistency), errors.Is(err, domain.ErrUpstreamMalformedResponse):
		return http.StatusBadGateway, "upstream error"
	case errors.Is(err, domain.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "service unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
