package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tyqqj0/paper-parser/internal/content"
	"github.com/tyqqj0/paper-parser/internal/dedup"
	"github.com/tyqqj0/paper-parser/internal/domain"
	"github.com/tyqqj0/paper-parser/internal/linker"
	"github.com/tyqqj0/paper-parser/internal/metadata"
	"github.com/tyqqj0/paper-parser/internal/observability"
	"github.com/tyqqj0/paper-parser/internal/references"
	"github.com/tyqqj0/paper-parser/internal/urlmapping"
)

// URLMapper resolves URLs to identifier sets.
type URLMapper interface {
	Map(ctx context.Context, url string) (*urlmapping.Mapping, error)
}

// Deduper is the four-phase dedup surface.
type Deduper interface {
	PreCheck(ctx context.Context, taskID string, sub domain.Submission, mapping *urlmapping.Mapping) (*dedup.Outcome, error)
	PostCheck(ctx context.Context, candidateLID string, meta domain.Metadata, pdfMD5 string) (*dedup.Outcome, error)
}

// MetadataFetcher runs the metadata waterfall.
type MetadataFetcher interface {
	Fetch(ctx context.Context, req metadata.Request) (*metadata.Result, error)
}

// ContentFetcher acquires PDF bytes.
type ContentFetcher interface {
	Fetch(ctx context.Context, req content.Request) (*content.Result, error)
}

// ReferencesFetcher runs the references waterfall.
type ReferencesFetcher interface {
	Fetch(ctx context.Context, req references.Request) (*references.Result, error)
}

// GraphWriter is the graph persistence surface the coordinator uses.
type GraphWriter interface {
	UpsertLiterature(ctx context.Context, lit *domain.Literature) (string, bool, error)
	AddAlias(ctx context.Context, lid string, aliasType domain.AliasType, value string) error
}

// CitationLinker links references and reclaims placeholders.
type CitationLinker interface {
	LinkReferences(ctx context.Context, srcLID string, refs []domain.Reference) (*linker.Stats, error)
	SweepUnresolved(ctx context.Context, lit *domain.Literature) (int, error)
}

// StatusStore persists snapshots, publishes events, and carries cancel flags.
type StatusStore interface {
	SaveTask(ctx context.Context, task *domain.Task) error
	Publish(ctx context.Context, event *domain.TaskEvent) error
	IsCancelled(ctx context.Context, taskID string) bool
}

// CoordinatorConfig holds execution tuning.
type CoordinatorConfig struct {
	// HardTimeout fails a task that runs longer than this.
	HardTimeout time.Duration
	// SoftTimeout emits a warning event after this long.
	SoftTimeout time.Duration
}

func (c *CoordinatorConfig) applyDefaults() {
	if c.HardTimeout <= 0 {
		c.HardTimeout = 30 * time.Minute
	}
	if c.SoftTimeout <= 0 || c.SoftTimeout >= c.HardTimeout {
		c.SoftTimeout = c.HardTimeout - 5*time.Minute
	}
}

// Coordinator executes the ingestion plan for one task at a time. All state
// lives on the task snapshot; the coordinator is stateless and safe for
// concurrent use across tasks.
type Coordinator struct {
	cfg     CoordinatorConfig
	mapper  URLMapper
	deduper Deduper
	meta    MetadataFetcher
	content ContentFetcher
	refs    ReferencesFetcher
	graph   GraphWriter
	linker  CitationLinker
	store   StatusStore
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewCoordinator wires the pipeline components together.
func NewCoordinator(
	cfg CoordinatorConfig,
	mapper URLMapper,
	deduper Deduper,
	meta MetadataFetcher,
	contentFetcher ContentFetcher,
	refs ReferencesFetcher,
	graphWriter GraphWriter,
	citationLinker CitationLinker,
	store StatusStore,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		cfg:     cfg,
		mapper:  mapper,
		deduper: deduper,
		meta:    meta,
		content: contentFetcher,
		refs:    refs,
		graph:   graphWriter,
		linker:  citationLinker,
		store:   store,
		metrics: metrics,
		logger:  logger.With().Str("component", "coordinator").Logger(),
	}
}

// errCancelled aborts the plan between steps.
var errCancelled = errors.New("task cancelled")

// Execute runs the full ingestion plan for a task. The returned error is for
// queue-level logging only; user-visible outcomes land on the task snapshot.
func (c *Coordinator) Execute(ctx context.Context, task *domain.Task) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HardTimeout)
	defer cancel()

	logger := observability.WithTaskContext(c.logger, task.TaskID, task.SubmittedSource)
	started := time.Now()

	softTimer := time.AfterFunc(c.cfg.SoftTimeout, func() {
		c.publish(context.Background(), task, domain.EventError, "task approaching hard timeout")
	})
	defer softTimer.Stop()

	task.ExecutionStatus = domain.StatusProcessing
	task.UpdatedAt = time.Now()
	c.save(ctx, task, domain.EventStatus, "processing started")

	err := c.run(ctx, task, logger)

	switch {
	case err == nil:
		// Terminal state already set by run.
	case errors.Is(err, errCancelled):
		c.finish(task, domain.StatusCancelled, nil)
		if c.metrics != nil {
			c.metrics.TasksCancelled.Inc()
		}
	case errors.Is(err, context.DeadlineExceeded):
		c.finish(task, domain.StatusFailed, &domain.ErrorInfo{
			Kind:    domain.KindTimeout,
			Message: "task exceeded its time limit",
		})
		if c.metrics != nil {
			c.metrics.TasksFailed.Inc()
		}
	default:
		c.finish(task, domain.StatusFailed, &domain.ErrorInfo{
			Kind:    domain.KindOf(err),
			Message: userMessage(err),
			Details: err.Error(),
		})
		if c.metrics != nil {
			c.metrics.TasksFailed.Inc()
		}
	}

	// The terminal save uses a fresh context: the task context may already
	// be past its deadline.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer saveCancel()
	c.save(saveCtx, task, domain.EventForStatus(task.ExecutionStatus), terminalMessage(task))

	if c.metrics != nil {
		c.metrics.TaskDuration.Observe(time.Since(started).Seconds())
	}
	logger.Info().
		Str("status", string(task.ExecutionStatus)).
		Str("result", string(task.ResultType)).
		Str("lid", task.LiteratureID).
		Dur("elapsed", time.Since(started)).
		Msg("task finished")
	return err
}

// run executes the plan steps. A nil return means a terminal state was
// reached and recorded.
func (c *Coordinator) run(ctx context.Context, task *domain.Task, logger zerolog.Logger) error {
	sub := task.Submission
	sub.Normalize()

	// Step 1: URL mapping, when the submission is URL-only.
	var mapping *urlmapping.Mapping
	if sub.DOI == "" && sub.ArXivID == "" && sub.PMID == "" && sub.URL != "" {
		if err := c.checkCancel(ctx, task); err != nil {
			return err
		}
		c.setStage(ctx, task, "mapping URL")

		m, err := c.mapper.Map(ctx, sub.URL)
		if err != nil {
			if sub.PDFURL == "" {
				// No identifiers and no PDF: nothing downstream can work.
				c.finish(task, domain.StatusFailed, &domain.ErrorInfo{
					Kind:    domain.KindUnsupportedSource,
					Message: "could not extract identifiers from the URL",
					Details: err.Error(),
				})
				return nil
			}
			logger.Warn().Err(err).Msg("URL mapping failed, continuing with PDF only")
		} else {
			mapping = m
		}
	}

	// Step 2: pre-metadata dedup (phases 1-3).
	if err := c.checkCancel(ctx, task); err != nil {
		return err
	}
	out, err := c.deduper.PreCheck(ctx, task.TaskID, sub, mapping)
	if err != nil {
		return fmt.Errorf("pre-metadata dedup: %w", err)
	}
	if c.metrics != nil {
		c.metrics.DedupHits.WithLabelValues(out.Phase).Inc()
	}
	switch out.Kind {
	case dedup.OutcomeExisting:
		return c.completeDuplicate(ctx, task, out.LID, sub, mapping)
	case dedup.OutcomeInProgress:
		logger.Info().Str("other_task", out.OtherTaskID).Msg("submission already in progress")
		task.LiteratureID = out.LID
		task.ResultType = domain.ResultDuplicate
		c.finish(task, domain.StatusCompleted, nil)
		if c.metrics != nil {
			c.metrics.TasksCompleted.WithLabelValues(string(domain.ResultDuplicate)).Inc()
		}
		return nil
	}

	// Step 3: metadata and content in parallel.
	metaResult, contentResult := c.fetchMetadataAndContent(ctx, task, sub, mapping, logger)
	if err := c.checkCancel(ctx, task); err != nil {
		return err
	}
	if metaResult == nil {
		// Metadata is critical: without it there is no record to persist.
		c.finish(task, domain.StatusFailed, &domain.ErrorInfo{
			Kind:    domain.KindNotFound,
			Message: "no metadata could be resolved for the submission",
		})
		return nil
	}

	// Step 4: post-metadata dedup (phase 4).
	candidateLID := domain.GenerateLID(metaResult.Metadata)
	pdfMD5 := ""
	if contentResult != nil {
		pdfMD5 = contentResult.MD5
	}
	postOut, err := c.deduper.PostCheck(ctx, candidateLID, metaResult.Metadata, pdfMD5)
	if err != nil {
		return fmt.Errorf("post-metadata dedup: %w", err)
	}
	if postOut.Kind == dedup.OutcomeExisting {
		if c.metrics != nil {
			c.metrics.DedupHits.WithLabelValues(postOut.Phase).Inc()
		}
		return c.completeDuplicate(ctx, task, postOut.LID, sub, mapping)
	}

	// Step 5: persist the literature and its aliases.
	lit := c.buildLiterature(candidateLID, task, sub, mapping, metaResult, contentResult)
	lid, created, err := c.graph.UpsertLiterature(ctx, lit)
	if err != nil {
		return fmt.Errorf("persisting literature: %w", err)
	}
	task.LiteratureID = lid
	c.addAliases(ctx, lid, sub, mapping, metaResult, contentResult, logger)
	c.save(ctx, task, domain.EventStatus, "literature persisted")

	// Step 6: references (may require content).
	refsResult := c.fetchReferences(ctx, task, metaResult, contentResult)
	if err := c.checkCancel(ctx, task); err != nil {
		return err
	}

	// Step 7: citation linking and placeholder reclamation.
	if refsResult != nil && len(refsResult.References) > 0 {
		c.setStage(ctx, task, "linking citations")
		if _, err := c.linker.LinkReferences(ctx, lid, refsResult.References); err != nil {
			logger.Warn().Err(err).Msg("citation linking incomplete")
		}
	}
	if created {
		if promoted, err := c.linker.SweepUnresolved(ctx, lit); err != nil {
			logger.Warn().Err(err).Msg("unresolved sweep failed")
		} else if promoted > 0 {
			logger.Info().Int("promoted", promoted).Msg("placeholders promoted")
			if c.metrics != nil {
				c.metrics.UnresolvedPromoted.Add(float64(promoted))
			}
		}
	}

	// Step 8: finalize per the completion policy.
	if task.CriticalSucceeded() {
		task.ResultType = domain.ResultCreated
		lit.TaskInfo = &domain.TaskInfo{
			TaskID:    task.TaskID,
			Status:    domain.StatusCompleted,
			UpdatedAt: time.Now(),
		}
		if _, _, err := c.graph.UpsertLiterature(ctx, lit); err != nil {
			logger.Warn().Err(err).Msg("recording task info on literature failed")
		}
		c.finish(task, domain.StatusCompleted, nil)
		if c.metrics != nil {
			c.metrics.TasksCompleted.WithLabelValues(string(domain.ResultCreated)).Inc()
		}
		return nil
	}

	lit.TaskInfo = &domain.TaskInfo{
		TaskID:    task.TaskID,
		Status:    domain.StatusFailed,
		UpdatedAt: time.Now(),
	}
	if _, _, err := c.graph.UpsertLiterature(ctx, lit); err != nil {
		logger.Warn().Err(err).Msg("recording task info on literature failed")
	}
	c.finish(task, domain.StatusFailed, &domain.ErrorInfo{
		Kind:    domain.KindNotFound,
		Message: "all critical components failed",
	})
	return nil
}

// fetchMetadataAndContent runs the metadata and content components in
// parallel. Content failure is tolerated; metadata gets a second chance with
// the PDF when the first pass failed and content succeeded.
func (c *Coordinator) fetchMetadataAndContent(ctx context.Context, task *domain.Task, sub domain.Submission, mapping *urlmapping.Mapping, logger zerolog.Logger) (*metadata.Result, *content.Result) {
	type metaOut struct {
		result *metadata.Result
		err    error
	}
	type contentOut struct {
		result *content.Result
		err    error
	}

	metaCh := make(chan metaOut, 1)
	contentCh := make(chan contentOut, 1)

	c.updateComponent(ctx, task, domain.ComponentMetadata, func(s *domain.ComponentState) {
		s.Advance(domain.ComponentProcessing, "resolving metadata", 10)
		s.Attempts++
	})
	c.updateComponent(ctx, task, domain.ComponentContent, func(s *domain.ComponentState) {
		s.Advance(domain.ComponentProcessing, "acquiring PDF", 10)
		s.Attempts++
	})

	go func() {
		result, err := c.meta.Fetch(ctx, metadata.Request{Submission: sub, Mapping: mapping})
		metaCh <- metaOut{result: result, err: err}
	}()
	contentDOI := sub.DOI
	if contentDOI == "" && mapping != nil {
		contentDOI = mapping.DOI
	}
	go func() {
		result, err := c.content.Fetch(ctx, content.Request{
			UserPDFURL: sub.PDFURL,
			Mapping:    mapping,
			DOI:        contentDOI,
		})
		contentCh <- contentOut{result: result, err: err}
	}()

	meta := <-metaCh
	cont := <-contentCh

	if cont.err != nil {
		c.updateComponent(ctx, task, domain.ComponentContent, func(s *domain.ComponentState) {
			s.Status = domain.ComponentFailed
			s.Stage = "content unavailable"
			s.NextAction = "provide PDF"
			s.ErrorInfo = &domain.ErrorInfo{
				Kind:    domain.KindOf(cont.err),
				Message: userMessage(cont.err),
				Details: cont.err.Error(),
			}
		})
	} else {
		c.updateComponent(ctx, task, domain.ComponentContent, func(s *domain.ComponentState) {
			s.Source = cont.result.Source
			s.Advance(domain.ComponentSuccess, "PDF acquired", 100)
		})
	}

	// Second metadata chance: parse the PDF header when the API waterfall
	// came up empty but content landed.
	if meta.err != nil && cont.err == nil {
		c.updateComponent(ctx, task, domain.ComponentMetadata, func(s *domain.ComponentState) {
			s.Advance(domain.ComponentProcessing, "parsing PDF header", 60)
			s.Attempts++
		})
		result, err := c.meta.Fetch(ctx, metadata.Request{
			Submission: sub,
			Mapping:    mapping,
			PDF:        cont.result.Bytes,
		})
		meta = metaOut{result: result, err: err}
	}

	if meta.err != nil {
		logger.Warn().Err(meta.err).Msg("metadata waterfall failed")
		c.updateComponent(ctx, task, domain.ComponentMetadata, func(s *domain.ComponentState) {
			s.Status = domain.ComponentFailed
			s.Stage = "metadata unavailable"
			s.NextAction = nextActionOf(meta.err)
			s.ErrorInfo = &domain.ErrorInfo{
				Kind:    domain.KindOf(meta.err),
				Message: userMessage(meta.err),
				Details: meta.err.Error(),
			}
		})
		return nil, cont.result
	}

	c.updateComponent(ctx, task, domain.ComponentMetadata, func(s *domain.ComponentState) {
		s.Source = meta.result.Source
		s.Advance(domain.ComponentSuccess, "metadata resolved", 100)
	})
	return meta.result, cont.result
}

// fetchReferences runs the references component, waiting on content only in
// the sense that it runs after the content outcome is known.
func (c *Coordinator) fetchReferences(ctx context.Context, task *domain.Task, meta *metadata.Result, cont *content.Result) *references.Result {
	c.updateComponent(ctx, task, domain.ComponentReferences, func(s *domain.ComponentState) {
		s.Advance(domain.ComponentProcessing, "fetching references", 20)
		s.Attempts++
	})

	req := references.Request{
		DOI:     meta.DOI,
		ArXivID: meta.ArXivID,
		PageURL: meta.SourcePageURL,
	}
	if cont != nil {
		req.PDF = cont.Bytes
	}

	result, err := c.refs.Fetch(ctx, req)
	if err != nil {
		c.updateComponent(ctx, task, domain.ComponentReferences, func(s *domain.ComponentState) {
			s.Status = domain.ComponentFailed
			s.Stage = "references unavailable"
			s.NextAction = "upload PDF"
			s.ErrorInfo = &domain.ErrorInfo{
				Kind:    domain.KindOf(err),
				Message: userMessage(err),
				Details: err.Error(),
			}
		})
		return nil
	}

	c.updateComponent(ctx, task, domain.ComponentReferences, func(s *domain.ComponentState) {
		s.Source = result.Source
		s.Advance(domain.ComponentSuccess, "references resolved", 100)
	})
	return result
}

// completeDuplicate finishes a task whose submission matched an existing
// literature: new aliases are merged into the winner and the task completes
// with a duplicate result. Conflict is not an error to users.
func (c *Coordinator) completeDuplicate(ctx context.Context, task *domain.Task, lid string, sub domain.Submission, mapping *urlmapping.Mapping) error {
	c.addAliases(ctx, lid, sub, mapping, nil, nil, c.logger)
	task.LiteratureID = lid
	task.ResultType = domain.ResultDuplicate
	c.finish(task, domain.StatusCompleted, nil)
	if c.metrics != nil {
		c.metrics.TasksCompleted.WithLabelValues(string(domain.ResultDuplicate)).Inc()
	}
	return nil
}

// buildLiterature assembles the record to persist.
func (c *Coordinator) buildLiterature(lid string, task *domain.Task, sub domain.Submission, mapping *urlmapping.Mapping, meta *metadata.Result, cont *content.Result) *domain.Literature {
	lit := &domain.Literature{
		LID:      lid,
		Metadata: meta.Metadata,
		Identifiers: domain.Identifiers{
			DOI:     meta.DOI,
			ArXivID: meta.ArXivID,
			PMID:    meta.PMID,
		},
		Content: domain.Content{
			PDFURL:        meta.PDFURL,
			SourcePageURL: meta.SourcePageURL,
		},
		TaskInfo: &domain.TaskInfo{
			TaskID:    task.TaskID,
			Status:    domain.StatusProcessing,
			UpdatedAt: time.Now(),
		},
	}
	if sub.URL != "" {
		lit.Identifiers.AddSourceURL(sub.URL)
	}
	if mapping != nil && mapping.SourcePageURL != "" {
		lit.Identifiers.AddSourceURL(mapping.SourcePageURL)
	}
	if cont != nil {
		lit.Identifiers.Fingerprint = cont.MD5
		lit.Content.PDFURL = cont.FetchedURL
		lit.Content.ParsingMethod = cont.Source
	}
	return lit
}

// addAliases merges every known handle of the submission into the
// literature's alias set. Alias writes are idempotent.
func (c *Coordinator) addAliases(ctx context.Context, lid string, sub domain.Submission, mapping *urlmapping.Mapping, meta *metadata.Result, cont *content.Result, logger zerolog.Logger) {
	type aliasEntry struct {
		aliasType domain.AliasType
		value     string
	}

	entries := []aliasEntry{
		{domain.AliasDOI, sub.DOI},
		{domain.AliasArXiv, sub.ArXivID},
		{domain.AliasPMID, sub.PMID},
		{domain.AliasURL, dedup.NormalizeURL(sub.URL)},
		{domain.AliasPDFURL, dedup.NormalizeURL(sub.PDFURL)},
	}
	if mapping != nil {
		entries = append(entries,
			aliasEntry{domain.AliasDOI, mapping.DOI},
			aliasEntry{domain.AliasArXiv, mapping.ArXivID},
			aliasEntry{domain.AliasPMID, mapping.PMID},
			aliasEntry{domain.AliasURL, dedup.NormalizeURL(mapping.SourcePageURL)},
			aliasEntry{domain.AliasPDFURL, dedup.NormalizeURL(mapping.PDFURL)},
		)
	}
	if meta != nil {
		entries = append(entries,
			aliasEntry{domain.AliasDOI, meta.DOI},
			aliasEntry{domain.AliasArXiv, meta.ArXivID},
			aliasEntry{domain.AliasPMID, meta.PMID},
			aliasEntry{domain.AliasTitleFP, domain.TitleFingerprint(meta.Metadata.Title, meta.Metadata.Authors, meta.Metadata.Year)},
		)
	}
	if cont != nil {
		entries = append(entries, aliasEntry{domain.AliasFingerprint, cont.MD5})
	}

	for _, e := range entries {
		if e.value == "" {
			continue
		}
		if err := c.graph.AddAlias(ctx, lid, e.aliasType, e.value); err != nil {
			logger.Warn().Err(err).
				Str("alias_type", string(e.aliasType)).
				Msg("adding alias failed")
		}
	}
}

// checkCancel is the cooperative cancellation point between plan steps.
func (c *Coordinator) checkCancel(ctx context.Context, task *domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.store.IsCancelled(ctx, task.TaskID) {
		return errCancelled
	}
	return nil
}

// updateComponent mutates one component's state and publishes the snapshot.
func (c *Coordinator) updateComponent(ctx context.Context, task *domain.Task, name domain.ComponentName, mutate func(*domain.ComponentState)) {
	state := task.Component(name)
	mutate(&state)
	task.SetComponent(name, state)
	task.UpdatedAt = time.Now()
	c.save(ctx, task, domain.EventStatus, string(name)+": "+state.Stage)
}

// setStage updates the human-readable stage without touching components.
func (c *Coordinator) setStage(ctx context.Context, task *domain.Task, stage string) {
	task.CurrentStage = stage
	task.UpdatedAt = time.Now()
	c.save(ctx, task, domain.EventStatus, stage)
}

// finish moves the task to a terminal state exactly once.
func (c *Coordinator) finish(task *domain.Task, status domain.ExecutionStatus, errInfo *domain.ErrorInfo) {
	if !task.Finish(status, time.Now()) {
		return
	}
	if errInfo != nil {
		task.ErrorInfo = errInfo
	}
}

// save persists the snapshot and publishes an event; failures are logged,
// not propagated, so status plumbing can never fail the pipeline.
func (c *Coordinator) save(ctx context.Context, task *domain.Task, kind domain.EventKind, message string) {
	if err := c.store.SaveTask(ctx, task); err != nil {
		c.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("saving task snapshot failed")
	}
	c.publish(ctx, task, kind, message)
}

func (c *Coordinator) publish(ctx context.Context, task *domain.Task, kind domain.EventKind, message string) {
	event := &domain.TaskEvent{
		Kind:      kind,
		TaskID:    task.TaskID,
		Timestamp: time.Now().UTC(),
		Payload:   task,
		Message:   message,
	}
	if err := c.store.Publish(ctx, event); err != nil {
		c.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("publishing task event failed")
	}
}

// terminalMessage summarizes the terminal state for the final event.
func terminalMessage(task *domain.Task) string {
	switch task.ExecutionStatus {
	case domain.StatusCompleted:
		if task.ResultType == domain.ResultDuplicate {
			return "completed: duplicate of " + task.LiteratureID
		}
		return "completed: created " + task.LiteratureID
	case domain.StatusCancelled:
		return "cancelled"
	default:
		if task.ErrorInfo != nil {
			return "failed: " + task.ErrorInfo.Message
		}
		return "failed"
	}
}

// userMessage extracts the user-facing message of an error.
func userMessage(err error) string {
	var derr *domain.DomainError
	if errors.As(err, &derr) {
		return derr.Message
	}
	return "operation failed"
}

// nextActionOf surfaces a suggested next action from a domain error.
func nextActionOf(err error) string {
	var derr *domain.DomainError
	if errors.As(err, &derr) && derr.NextAction != "" {
		return derr.NextAction
	}
	return "provide DOI"
}
