package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/tyqqj0/paper-parser/internal/domain"
)

// Response types for JSON serialization.

type submitExistingResponse struct {
	LID         string `json:"lid"`
	ResourceURL string `json:"resource_url"`
}

type submitAcceptedResponse struct {
	TaskID    string `json:"task_id"`
	StatusURL string `json:"status_url"`
	StreamURL string `json:"stream_url"`
}

type taskStatusResponse struct {
	TaskID          string                     `json:"task_id"`
	ExecutionStatus string                     `json:"execution_status"`
	OverallProgress int                        `json:"overall_progress"`
	CurrentStage    string                     `json:"current_stage,omitempty"`
	ComponentStatus map[string]componentStatus `json:"component_status"`
	ResultType      string                     `json:"result_type,omitempty"`
	LiteratureID    string                     `json:"literature_id,omitempty"`
	ErrorInfo       *errorInfoResponse         `json:"error_info,omitempty"`
	CreatedAt       time.Time                  `json:"created_at"`
	UpdatedAt       time.Time                  `json:"updated_at"`
	CompletedAt     *time.Time                 `json:"completed_at,omitempty"`
}

type componentStatus struct {
	Status     string             `json:"status"`
	Stage      string             `json:"stage,omitempty"`
	Progress   int                `json:"progress"`
	Source     string             `json:"source,omitempty"`
	Attempts   int                `json:"attempts"`
	NextAction string             `json:"next_action,omitempty"`
	ErrorInfo  *errorInfoResponse `json:"error_info,omitempty"`
}

type errorInfoResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type cancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type literatureSummaryResponse struct {
	LID         string             `json:"lid"`
	Identifiers domain.Identifiers `json:"identifiers"`
	Metadata    domain.Metadata    `json:"metadata"`
	Content     contentSummary     `json:"content"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// contentSummary omits the fulltext body.
type contentSummary struct {
	PDFURL        string  `json:"pdf_url,omitempty"`
	SourcePageURL string  `json:"source_page_url,omitempty"`
	ParsingMethod string  `json:"parsing_method,omitempty"`
	QualityScore  float64 `json:"quality_score,omitempty"`
}

type literatureFulltextResponse struct {
	LID         string             `json:"lid"`
	Identifiers domain.Identifiers `json:"identifiers"`
	Metadata    domain.Metadata    `json:"metadata"`
	Content     domain.Content     `json:"content"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

type batchGetRequest struct {
	LIDs []string `json:"lids" validate:"required,min=1,max=100"`
}

type batchGetResponse struct {
	Literatures []literatureSummaryResponse `json:"literatures"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Kind       string `json:"kind,omitempty"`
	NextAction string `json:"next_action,omitempty"`
}

// Converter functions.

func taskToResponse(t *domain.Task) taskStatusResponse {
	components := make(map[string]componentStatus, len(t.Components))
	for name, state := range t.Components {
		components[string(name)] = componentStatus{
			Status:     string(state.Status),
			Stage:      state.Stage,
			Progress:   state.Progress,
			Source:     state.Source,
			Attempts:   state.Attempts,
			NextAction: state.NextAction,
			ErrorInfo:  errorInfoToResponse(state.ErrorInfo),
		}
	}
	return taskStatusResponse{
		TaskID:          t.TaskID,
		ExecutionStatus: string(t.ExecutionStatus),
		OverallProgress: t.OverallProgress,
		CurrentStage:    t.CurrentStage,
		ComponentStatus: components,
		ResultType:      string(t.ResultType),
		LiteratureID:    t.LiteratureID,
		ErrorInfo:       errorInfoToResponse(t.ErrorInfo),
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		CompletedAt:     t.CompletedAt,
	}
}

func errorInfoToResponse(info *domain.ErrorInfo) *errorInfoResponse {
	if info == nil {
		return nil
	}
	return &errorInfoResponse{
		Kind:    string(info.Kind),
		Message: info.Message,
		Details: info.Details,
	}
}

func literatureToSummary(l *domain.Literature) literatureSummaryResponse {
	return literatureSummaryResponse{
		LID:         l.LID,
		Identifiers: l.Identifiers,
		Metadata:    l.Metadata,
		Content: contentSummary{
			PDFURL:        l.Content.PDFURL,
			SourcePageURL: l.Content.SourcePageURL,
			ParsingMethod: l.Content.ParsingMethod,
			QualityScore:  l.Content.QualityScore,
		},
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
}

func literatureToFulltext(l *domain.Literature) literatureFulltextResponse {
	return literatureFulltextResponse{
		LID:         l.LID,
		Identifiers: l.Identifiers,
		Metadata:    l.Metadata,
		Content:     l.Content,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an error to a JSON error response with the right status.
func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)

	resp := errorResponse{Error: err.Error(), Kind: string(kind)}
	var derr *domain.DomainError
	if errors.As(err, &derr) {
		resp.Error = derr.Message
		resp.NextAction = derr.NextAction
	}
	writeJSON(w, status, resp)
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidInput, domain.KindUnsupportedSource:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case domain.KindInvalidPDF, domain.KindSSRFBlocked:
		return http.StatusUnprocessableEntity
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindProviderUnavailable:
		return http.StatusBadGateway
	case domain.KindCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
