package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/hybridkb/internal/embedding"
	"github.com/hyperjump/hybridkb/internal/indexer"
	"github.com/hyperjump/hybridkb/internal/jobs"
	"github.com/hyperjump/hybridkb/internal/models"
	"github.com/hyperjump/hybridkb/internal/registry"
	"github.com/hyperjump/hybridkb/internal/retrieval"
	"github.com/hyperjump/hybridkb/internal/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createKnowledgeBaseRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

func (s *Server) handleListKnowledgeBases(w http.ResponseWriter, r *http.Request) {
	kbs, err := s.svc.ListKnowledgeBases(r.Context())
	if err != nil {
		s.fail(w, "list knowledge bases failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"knowledge_bases": kbs})
}

func (s *Server) handleCreateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var req createKnowledgeBaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kb, err := s.svc.CreateKnowledgeBase(r.Context(), req.ID, req.Name, req.Description, req.Icon)
	if err != nil {
		s.fail(w, "create knowledge base failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, kb)
}

func (s *Server) handleGetKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	kb, err := s.svc.GetKnowledgeBase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "get knowledge base failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, kb)
}

func (s *Server) handleDeleteKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existed, err := s.svc.DeleteKnowledgeBase(r.Context(), id)
	if err != nil {
		s.fail(w, "delete knowledge base failed", err)
		return
	}
	if !existed {
		s.respondError(w, http.StatusNotFound, "knowledge base not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleEmbeddingStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.EmbeddingStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "embedding status failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

// handleReindex runs synchronously unless async=true, which submits a reindex job.
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		s.submitJob(w, r, jobs.TypeReindex, id)
		return
	}
	n, err := s.svc.ReindexKnowledgeBase(r.Context(), id, nil)
	if err != nil {
		s.fail(w, "reindex failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "chunks": n})
}

func (s *Server) handleClearEmbeddings(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.ClearEmbeddings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "clear embeddings failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleRebuildLexical(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := s.svc.RebuildLexical(r.Context(), id)
	if err != nil {
		s.fail(w, "rebuild lexical index failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "chunks": n})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.svc.ListDocuments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "list documents failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	var doc models.ProcessedDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kbID := chi.URLParam(r, "id")
	s.logger.Debug("add document request", zap.String("kb_id", kbID), zap.String("filename", doc.Filename))
	res, err := s.svc.AddDocument(r.Context(), kbID, &doc)
	if err != nil {
		s.fail(w, "add document failed", err)
		return
	}
	status := http.StatusCreated
	if res.Skipped {
		status = http.StatusOK
	}
	s.respondJSON(w, status, res)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	kbID := chi.URLParam(r, "id")
	filename, ok := s.filename(w, r)
	if !ok {
		return
	}
	chunks, err := s.svc.DocumentChunks(r.Context(), kbID, filename)
	if err != nil {
		s.fail(w, "get document failed", err)
		return
	}
	if len(chunks) == 0 {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"filename":     filename,
		"content_hash": chunks[0].Metadata.ContentHash,
		"chunks":       chunks,
	})
}

func (s *Server) handleRemoveDocument(w http.ResponseWriter, r *http.Request) {
	kbID := chi.URLParam(r, "id")
	filename, ok := s.filename(w, r)
	if !ok {
		return
	}
	removed, err := s.svc.RemoveDocument(r.Context(), kbID, filename)
	if err != nil {
		s.fail(w, "remove document failed", err)
		return
	}
	if !removed {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"filename": filename, "status": "deleted"})
}

func (s *Server) filename(w http.ResponseWriter, r *http.Request) (string, bool) {
	name, err := url.PathUnescape(chi.URLParam(r, "filename"))
	if err != nil || name == "" {
		s.respondError(w, http.StatusBadRequest, "invalid filename")
		return "", false
	}
	return name, true
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.String("mode", string(query.Mode)), zap.Int("top_k", query.TopK))
	resp, err := s.svc.Run(r.Context(), &query)
	if err != nil {
		s.fail(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stats(r.Context())
	if err != nil {
		s.fail(w, "stats failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	probe, _ := strconv.ParseBool(r.URL.Query().Get("probe"))
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"providers": s.svc.Providers(r.Context(), probe)})
}

type submitJobRequest struct {
	Type            string `json:"type"`
	KnowledgeBaseID string `json:"kb_id"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.submitJob(w, r, req.Type, req.KnowledgeBaseID)
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request, jobType, kbID string) {
	job, err := s.svc.SubmitJob(r.Context(), jobType, kbID)
	if err != nil {
		s.fail(w, "submit job failed", err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.svc.ListJobs(r.Context(), limit)
	if err != nil {
		s.fail(w, "list jobs failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": list})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "get job failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.CancelJob(r.Context(), id); err != nil {
		s.fail(w, "cancel job failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(models.JobCancelled)})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrKnowledgeBaseNotFound),
		errors.Is(err, jobs.ErrJobNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrInvalidID),
		errors.Is(err, models.ErrInvalidQuery),
		errors.Is(err, indexer.ErrEmptyDocument),
		errors.Is(err, indexer.ErrInvalidDocument),
		errors.Is(err, jobs.ErrUnknownJobType),
		errors.Is(err, retrieval.ErrMissingParam):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrJobFinished):
		return http.StatusConflict
	case errors.Is(err, embedding.ErrNoProviderConfigured),
		errors.Is(err, embedding.ErrProviderNotConfigured),
		errors.Is(err, embedding.ErrProviderUnavailable),
		errors.Is(err, indexer.ErrIngestionFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
