package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tyqqj0/paper-parser/internal/domain"
)

const (
	// ssePollInterval is how often the store is polled for authoritative
	// state alongside the pub/sub subscription.
	ssePollInterval = 2 * time.Second

	// sseMaxDuration is the maximum time a stream may remain open.
	sseMaxDuration = 1 * time.Hour
)

// streamTaskHandler handles GET /api/v1/tasks/{taskID}/stream (SSE).
// Events come from the task's pub/sub channel with a store poll as the
// authoritative fallback; the stream closes on the first terminal event.
func (s *Server) streamTaskHandler(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, domain.NewDomainError(domain.KindInternal, "streaming not supported", nil))
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// SSE streams outlive the server write timeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	if s.metrics != nil {
		s.metrics.SSEConnections.Inc()
		defer s.metrics.SSEConnections.Dec()
	}

	// If already terminal, send one event and close.
	if task.ExecutionStatus.IsTerminal() {
		sendSSEEvent(w, flusher, &domain.TaskEvent{
			Kind:      domain.EventForStatus(task.ExecutionStatus),
			TaskID:    taskID,
			Timestamp: time.Now().UTC(),
			Payload:   task,
			Message:   "task is in terminal state",
		})
		return
	}

	ctx := r.Context()
	events, unsubscribe := s.store.Subscribe(ctx, taskID)
	defer unsubscribe()

	// Initial snapshot so clients render immediately.
	sendSSEEvent(w, flusher, &domain.TaskEvent{
		Kind:      domain.EventStatus,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
		Payload:   task,
		Message:   "stream started",
	})

	deadline := time.NewTimer(sseMaxDuration)
	defer deadline.Stop()
	ticker := time.NewTicker(ssePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-deadline.C:
			sendSSEEvent(w, flusher, &domain.TaskEvent{
				Kind:      domain.EventError,
				TaskID:    taskID,
				Timestamp: time.Now().UTC(),
				Message:   "stream max duration exceeded",
			})
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event)
			if event.Terminal() {
				return
			}

		case <-ticker.C:
			current, pollErr := s.store.GetTask(ctx, taskID)
			if pollErr != nil {
				s.logger.Warn().Err(pollErr).Str("task_id", taskID).Msg("failed to poll task status")
				continue
			}
			if current.ExecutionStatus.IsTerminal() {
				sendSSEEvent(w, flusher, &domain.TaskEvent{
					Kind:      domain.EventForStatus(current.ExecutionStatus),
					TaskID:    taskID,
					Timestamp: time.Now().UTC(),
					Payload:   current,
					Message:   "task finished with status " + string(current.ExecutionStatus),
				})
				return
			}
		}
	}
}

// sendSSEEvent writes a single SSE event to the response writer.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event *domain.TaskEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
	flusher.Flush()
}
