package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tyqqj0/paper-parser/internal/domain"
	"github.com/tyqqj0/paper-parser/internal/objectstore"
	"github.com/tyqqj0/paper-parser/internal/tasks"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// byIdentifierWait bounds the synchronous wait of the convenience endpoint.
const byIdentifierWait = 30 * time.Second

// submitHandler handles POST /api/v1/resolve.
// A submission whose explicit identifier already resolves returns the
// existing literature; otherwise a task is created and queued.
func (s *Server) submitHandler(w http.ResponseWriter, r *http.Request) {
	var sub domain.Submission
	if !s.decode(w, r, &sub) {
		return
	}
	sub.Normalize()
	if err := s.validate.Struct(&sub); err != nil {
		writeError(w, domain.NewValidationError("submission", err.Error()))
		return
	}
	if !sub.HasIdentifier() {
		writeError(w, domain.NewValidationError("submission", "one of doi, arxiv_id, pmid, url, pdf_url is required"))
		return
	}

	// Phase-1 fast path on supplied identifiers only.
	if lid := s.quickResolve(r, sub); lid != "" {
		writeJSON(w, http.StatusOK, submitExistingResponse{
			LID:         lid,
			ResourceURL: "/api/v1/literatures/" + lid,
		})
		return
	}

	task, err := s.acceptSubmission(r, sub)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, submitAcceptedResponse{
		TaskID:    task.TaskID,
		StatusURL: "/api/v1/tasks/" + task.TaskID,
		StreamURL: "/api/v1/tasks/" + task.TaskID + "/stream",
	})
}

// acceptSubmission creates the pending task snapshot and queues it.
func (s *Server) acceptSubmission(r *http.Request, sub domain.Submission) (*domain.Task, error) {
	task := domain.NewTask(uuid.NewString(), sub, time.Now().UTC())
	if err := s.store.SaveTask(r.Context(), task); err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(r.Context(), &tasks.QueueMessage{TaskID: task.TaskID, Submission: sub}); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.TasksSubmitted.Inc()
	}
	s.logger.Info().Str("task_id", task.TaskID).Str("source", task.SubmittedSource).Msg("submission accepted")
	return task, nil
}

// quickResolve checks the supplied explicit identifiers against the alias
// index. Only dedup phase 1 runs here; everything else happens in the worker.
func (s *Server) quickResolve(r *http.Request, sub domain.Submission) string {
	probes := []struct {
		aliasType domain.AliasType
		value     string
	}{
		{domain.AliasDOI, sub.DOI},
		{domain.AliasArXiv, sub.ArXivID},
		{domain.AliasPMID, sub.PMID},
	}
	for _, p := range probes {
		if p.value == "" {
			continue
		}
		lid, err := s.graph.ResolveAlias(r.Context(), p.aliasType, p.value)
		if err == nil && lid != "" {
			return lid
		}
	}
	return ""
}

// getTaskHandler handles GET /api/v1/tasks/{taskID}.
func (s *Server) getTaskHandler(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

// cancelTaskHandler handles DELETE /api/v1/tasks/{taskID}. Cancellation is
// cooperative: the flag is raised here and honored between plan steps.
func (s *Server) cancelTaskHandler(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if task.ExecutionStatus.IsTerminal() {
		writeJSON(w, http.StatusConflict, cancelResponse{
			Success: false,
			Message: "task already in terminal state " + string(task.ExecutionStatus),
		})
		return
	}

	if err := s.store.RequestCancel(r.Context(), taskID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, cancelResponse{Success: true, Message: "cancellation requested"})
}

// getLiteratureHandler handles GET /api/v1/literatures/{lid}.
func (s *Server) getLiteratureHandler(w http.ResponseWriter, r *http.Request) {
	lit, err := s.graph.GetLiterature(r.Context(), chi.URLParam(r, "lid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, literatureToSummary(lit))
}

// getFulltextHandler handles GET /api/v1/literatures/{lid}/fulltext.
func (s *Server) getFulltextHandler(w http.ResponseWriter, r *http.Request) {
	lit, err := s.graph.GetLiterature(r.Context(), chi.URLParam(r, "lid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, literatureToFulltext(lit))
}

// batchGetHandler handles POST /api/v1/literatures/batch.
func (s *Server) batchGetHandler(w http.ResponseWriter, r *http.Request) {
	var req batchGetRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, domain.NewValidationError("lids", err.Error()))
		return
	}

	lits, err := s.graph.BatchGet(r.Context(), req.LIDs)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := batchGetResponse{Literatures: make([]literatureSummaryResponse, 0, len(lits))}
	for _, lit := range lits {
		resp.Literatures = append(resp.Literatures, literatureToSummary(lit))
	}
	writeJSON(w, http.StatusOK, resp)
}

// graphHandler handles GET /api/v1/graphs?lids=a,b&depth=2.
func (s *Server) graphHandler(w http.ResponseWriter, r *http.Request) {
	lidsParam := strings.TrimSpace(r.URL.Query().Get("lids"))
	if lidsParam == "" {
		writeError(w, domain.NewValidationError("lids", "required"))
		return
	}
	var lids []string
	for _, lid := range strings.Split(lidsParam, ",") {
		if lid = strings.TrimSpace(lid); lid != "" {
			lids = append(lids, lid)
		}
	}

	depth := 1
	if depthParam := r.URL.Query().Get("depth"); depthParam != "" {
		parsed, err := strconv.Atoi(depthParam)
		if err != nil || parsed < 1 {
			writeError(w, domain.NewValidationError("depth", "must be a positive integer"))
			return
		}
		depth = parsed
	}

	graph, err := s.graph.Neighborhood(r.Context(), lids, depth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, graph)
}

// byIdentifierHandler handles GET /api/v1/literatures/by-identifier.
// Convenience surface: resolve immediately when known; otherwise submit,
// wait a bounded time on the task stream, and return the result or the
// still-running task handle.
func (s *Server) byIdentifierHandler(w http.ResponseWriter, r *http.Request) {
	kind := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("kind")))
	value := strings.TrimSpace(r.URL.Query().Get("value"))
	if kind == "" || value == "" {
		writeError(w, domain.NewValidationError("kind/value", "both are required"))
		return
	}

	sub := domain.Submission{}
	switch kind {
	case "doi":
		sub.DOI = value
	case "arxiv", "arxiv_id":
		sub.ArXivID = value
	case "pmid":
		sub.PMID = value
	case "url":
		sub.URL = value
	default:
		writeError(w, domain.NewValidationError("kind", "one of doi, arxiv, pmid, url"))
		return
	}
	sub.Normalize()

	if lid := s.quickResolve(r, sub); lid != "" {
		s.writeSummaryByLID(w, r, lid)
		return
	}

	task, err := s.acceptSubmission(r, sub)
	if err != nil {
		writeError(w, err)
		return
	}

	lid, done := s.awaitTask(r, task.TaskID)
	if !done || lid == "" {
		writeJSON(w, http.StatusAccepted, submitAcceptedResponse{
			TaskID:    task.TaskID,
			StatusURL: "/api/v1/tasks/" + task.TaskID,
			StreamURL: "/api/v1/tasks/" + task.TaskID + "/stream",
		})
		return
	}
	s.writeSummaryByLID(w, r, lid)
}

// awaitTask waits for a terminal event on the task stream, bounded by
// byIdentifierWait. Returns the literature ID and whether the task reached
// a terminal state in time.
func (s *Server) awaitTask(r *http.Request, taskID string) (string, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), byIdentifierWait)
	defer cancel()

	events, unsubscribe := s.store.Subscribe(ctx, taskID)
	defer unsubscribe()

	// The task may already be terminal by the time the subscription opened.
	if task, err := s.store.GetTask(ctx, taskID); err == nil && task.ExecutionStatus.IsTerminal() {
		return task.LiteratureID, true
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", false
		case event, ok := <-events:
			if !ok {
				return "", false
			}
			if event.Terminal() && event.Payload != nil {
				return event.Payload.LiteratureID, true
			}
		case <-ticker.C:
			if task, err := s.store.GetTask(ctx, taskID); err == nil && task.ExecutionStatus.IsTerminal() {
				return task.LiteratureID, true
			}
		}
	}
}

func (s *Server) writeSummaryByLID(w http.ResponseWriter, r *http.Request, lid string) {
	lit, err := s.graph.GetLiterature(r.Context(), lid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, literatureToSummary(lit))
}

// presignHandler handles POST /api/v1/uploads/presign.
func (s *Server) presignHandler(w http.ResponseWriter, r *http.Request) {
	if s.uploader == nil {
		writeError(w, domain.NewDomainError(domain.KindProviderUnavailable, "object store is not configured", nil))
		return
	}

	var req objectstore.UploadRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, domain.NewValidationError("upload", err.Error()))
		return
	}

	presigned, err := s.uploader.PresignUpload(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, presigned)
}

// decode reads a JSON body with a size cap. Returns false after writing an
// error response.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, domain.NewDomainError(domain.KindTooLarge, "request body too large", err))
			return false
		}
		writeError(w, domain.NewValidationError("body", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}
