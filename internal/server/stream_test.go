package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyqqj0/paper-parser/internal/domain"
)

func TestStreamTerminalTaskSendsOneEventAndCloses(t *testing.T) {
	t.Parallel()

	store := newFakeTaskStore()
	task := domain.NewTask("t-1", domain.Submission{DOI: "10.1/x"}, time.Now())
	task.ResultType = domain.ResultCreated
	task.LiteratureID = "2017-vaswani-aayn-a8c4"
	task.Finish(domain.StatusCompleted, time.Now())
	require.NoError(t, store.SaveTask(context.Background(), task))

	s := newTestServer(store, &fakeQueue{}, newFakeGraphReader())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/t-1/stream", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, "event: completed")
	assert.Contains(t, body, "2017-vaswani-aayn-a8c4")
	assert.Equal(t, 1, strings.Count(body, "event:"), "terminal task produces exactly one event")
}

func TestStreamDeliversEventsUntilTerminal(t *testing.T) {
	t.Parallel()

	store := newFakeTaskStore()
	task := domain.NewTask("t-1", domain.Submission{DOI: "10.1/x"}, time.Now())
	task.ExecutionStatus = domain.StatusProcessing
	require.NoError(t, store.SaveTask(context.Background(), task))

	// Queue a status event and a terminal event for the subscriber.
	processing := *task
	store.events <- &domain.TaskEvent{
		Kind:      domain.EventStatus,
		TaskID:    "t-1",
		Timestamp: time.Now(),
		Payload:   &processing,
		Message:   "metadata: resolving metadata",
	}
	terminal := *task
	terminal.Finish(domain.StatusCompleted, time.Now())
	terminal.ResultType = domain.ResultCreated
	store.events <- &domain.TaskEvent{
		Kind:      domain.EventCompleted,
		TaskID:    "t-1",
		Timestamp: time.Now(),
		Payload:   &terminal,
		Message:   "completed",
	}

	s := newTestServer(store, &fakeQueue{}, newFakeGraphReader())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/t-1/stream", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Handler().ServeHTTP(rec, req)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close on terminal event")
	}

	body := rec.Body.String()
	assert.Contains(t, body, "event: status")
	assert.Contains(t, body, "event: completed")
	// The terminal event closes the stream; nothing may follow it.
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), "}"), "no output after the terminal event")
}

func TestStreamUnknownTask(t *testing.T) {
	t.Parallel()

	s := newTestServer(newFakeTaskStore(), &fakeQueue{}, newFakeGraphReader())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/missing/stream", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
