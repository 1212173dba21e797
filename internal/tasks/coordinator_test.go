package tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyqqj0/paper-parser/internal/content"
	"github.com/tyqqj0/paper-parser/internal/dedup"
	"github.com/tyqqj0/paper-parser/internal/domain"
	"github.com/tyqqj0/paper-parser/internal/linker"
	"github.com/tyqqj0/paper-parser/internal/metadata"
	"github.com/tyqqj0/paper-parser/internal/references"
	"github.com/tyqqj0/paper-parser/internal/urlmapping"
)

type fakeMapper struct {
	mapping *urlmapping.Mapping
	err     error
}

func (f *fakeMapper) Map(_ context.Context, _ string) (*urlmapping.Mapping, error) {
	return f.mapping, f.err
}

type fakeDeduper struct {
	pre  *dedup.Outcome
	post *dedup.Outcome
}

func (f *fakeDeduper) PreCheck(_ context.Context, _ string, _ domain.Submission, _ *urlmapping.Mapping) (*dedup.Outcome, error) {
	if f.pre != nil {
		return f.pre, nil
	}
	return &dedup.Outcome{Kind: dedup.OutcomeNew, Phase: "none"}, nil
}

func (f *fakeDeduper) PostCheck(_ context.Context, lid string, _ domain.Metadata, _ string) (*dedup.Outcome, error) {
	if f.post != nil {
		return f.post, nil
	}
	return &dedup.Outcome{Kind: dedup.OutcomeNew, LID: lid, Phase: "fingerprint"}, nil
}

type fakeMetaFetcher struct {
	result *metadata.Result
	err    error
}

func (f *fakeMetaFetcher) Fetch(_ context.Context, _ metadata.Request) (*metadata.Result, error) {
	return f.result, f.err
}

type fakeContentFetcher struct {
	result *content.Result
	err    error
}

func (f *fakeContentFetcher) Fetch(_ context.Context, _ content.Request) (*content.Result, error) {
	return f.result, f.err
}

type fakeRefsFetcher struct {
	result *references.Result
	err    error
}

func (f *fakeRefsFetcher) Fetch(_ context.Context, _ references.Request) (*references.Result, error) {
	return f.result, f.err
}

type fakeGraphWriter struct {
	mu      sync.Mutex
	upserts []*domain.Literature
	aliases map[string][]string
}

func newFakeGraphWriter() *fakeGraphWriter {
	return &fakeGraphWriter{aliases: make(map[string][]string)}
}

func (f *fakeGraphWriter) UpsertLiterature(_ context.Context, lit *domain.Literature) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, lit)
	return lit.LID, len(f.upserts) == 1, nil
}

func (f *fakeGraphWriter) AddAlias(_ context.Context, lid string, t domain.AliasType, v string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliases[lid] = append(f.aliases[lid], string(t)+":"+v)
	return nil
}

type fakeLinker struct {
	stats    *linker.Stats
	promoted int
}

func (f *fakeLinker) LinkReferences(_ context.Context, _ string, refs []domain.Reference) (*linker.Stats, error) {
	if f.stats != nil {
		return f.stats, nil
	}
	return &linker.Stats{Linked: len(refs)}, nil
}

func (f *fakeLinker) SweepUnresolved(_ context.Context, _ *domain.Literature) (int, error) {
	return f.promoted, nil
}

type fakeStatusStore struct {
	mu        sync.Mutex
	snapshots []domain.Task
	events    []domain.TaskEvent
	cancelled bool
}

func (f *fakeStatusStore) SaveTask(_ context.Context, task *domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, *task)
	return nil
}

func (f *fakeStatusStore) Publish(_ context.Context, event *domain.TaskEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeStatusStore) IsCancelled(_ context.Context, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func vaswaniMetadata() *metadata.Result {
	return &metadata.Result{
		Metadata: domain.Metadata{
			Title:   "Attention Is All You Need",
			Authors: []domain.Author{{Name: "Ashish Vaswani"}},
			Year:    2017,
		},
		ArXivID:       "1706.03762",
		SourcePageURL: "https://arxiv.org/abs/1706.03762",
		Source:        "arxiv",
		Confidence:    0.9,
	}
}

func newTestCoordinator(deduper Deduper, meta MetadataFetcher, cont ContentFetcher, refs ReferencesFetcher, gw GraphWriter, lk CitationLinker, store StatusStore) *Coordinator {
	return NewCoordinator(CoordinatorConfig{}, &fakeMapper{}, deduper, meta, cont, refs, gw, lk, store, nil, zerolog.Nop())
}

func TestExecuteCreatesLiterature(t *testing.T) {
	t.Parallel()

	gw := newFakeGraphWriter()
	store := &fakeStatusStore{}
	refs := &fakeRefsFetcher{result: &references.Result{
		References: []domain.Reference{{RawText: "some ref", Parsed: &domain.ParsedReference{DOI: "10.1/ref"}}},
		Source:     "semantic_scholar",
	}}
	cont := &fakeContentFetcher{result: &content.Result{
		Bytes:      []byte("%PDF-1.4"),
		FetchedURL: "https://arxiv.org/pdf/1706.03762",
		Source:     "mapping",
		MD5:        "md5md5",
	}}

	coord := newTestCoordinator(&fakeDeduper{}, &fakeMetaFetcher{result: vaswaniMetadata()}, cont, refs, gw, &fakeLinker{}, store)

	task := domain.NewTask("t1", domain.Submission{URL: "https://arxiv.org/abs/1706.03762", ArXivID: "1706.03762"}, time.Now())
	require.NoError(t, coord.Execute(context.Background(), task))

	assert.Equal(t, domain.StatusCompleted, task.ExecutionStatus)
	assert.Equal(t, domain.ResultCreated, task.ResultType)
	assert.NotEmpty(t, task.LiteratureID)
	assert.Contains(t, task.LiteratureID, "2017-vaswani-")
	assert.Equal(t, 100, task.OverallProgress)
	assert.Equal(t, domain.ComponentSuccess, task.Component(domain.ComponentMetadata).Status)
	assert.Equal(t, domain.ComponentSuccess, task.Component(domain.ComponentContent).Status)
	assert.Equal(t, domain.ComponentSuccess, task.Component(domain.ComponentReferences).Status)

	require.NotEmpty(t, gw.upserts)
	aliases := gw.aliases[task.LiteratureID]
	assert.Contains(t, aliases, "arxiv:1706.03762")

	// The final event is terminal and no status event follows it.
	last := store.events[len(store.events)-1]
	assert.Equal(t, domain.EventCompleted, last.Kind)
}

func TestExecuteDuplicatePreCheck(t *testing.T) {
	t.Parallel()

	gw := newFakeGraphWriter()
	store := &fakeStatusStore{}
	deduper := &fakeDeduper{pre: &dedup.Outcome{Kind: dedup.OutcomeExisting, LID: "2017-vaswani-aayn-a8c4", Phase: "identifier"}}

	coord := newTestCoordinator(deduper, &fakeMetaFetcher{}, &fakeContentFetcher{}, &fakeRefsFetcher{}, gw, &fakeLinker{}, store)

	task := domain.NewTask("t1", domain.Submission{DOI: "10.48550/arxiv.1706.03762"}, time.Now())
	require.NoError(t, coord.Execute(context.Background(), task))

	assert.Equal(t, domain.StatusCompleted, task.ExecutionStatus)
	assert.Equal(t, domain.ResultDuplicate, task.ResultType)
	assert.Equal(t, "2017-vaswani-aayn-a8c4", task.LiteratureID)

	// The new DOI alias is merged into the existing literature.
	assert.Contains(t, gw.aliases["2017-vaswani-aayn-a8c4"], "doi:10.48550/arxiv.1706.03762")
	assert.Empty(t, gw.upserts, "no new literature on duplicate")
}

func TestExecuteDuplicatePostCheckRace(t *testing.T) {
	t.Parallel()

	gw := newFakeGraphWriter()
	store := &fakeStatusStore{}
	deduper := &fakeDeduper{post: &dedup.Outcome{Kind: dedup.OutcomeExisting, LID: "winner-lid", Phase: "fingerprint"}}

	coord := newTestCoordinator(deduper, &fakeMetaFetcher{result: vaswaniMetadata()}, &fakeContentFetcher{err: domain.NewNotFoundError("pdf", "x")}, &fakeRefsFetcher{}, gw, &fakeLinker{}, store)

	task := domain.NewTask("t1", domain.Submission{ArXivID: "1706.03762"}, time.Now())
	require.NoError(t, coord.Execute(context.Background(), task))

	assert.Equal(t, domain.ResultDuplicate, task.ResultType)
	assert.Equal(t, "winner-lid", task.LiteratureID)
	assert.Empty(t, gw.upserts)
}

func TestExecuteContentFailureStillCompletes(t *testing.T) {
	t.Parallel()

	// Scenario: PDF URL 404s, but metadata and references come from APIs.
	gw := newFakeGraphWriter()
	store := &fakeStatusStore{}
	cont := &fakeContentFetcher{err: domain.NewDomainError(domain.KindNotFound, "content not found", nil)}
	refs := &fakeRefsFetcher{result: &references.Result{
		References: []domain.Reference{{RawText: "r1"}},
		Source:     "crossref",
	}}

	coord := newTestCoordinator(&fakeDeduper{}, &fakeMetaFetcher{result: vaswaniMetadata()}, cont, refs, gw, &fakeLinker{}, store)

	task := domain.NewTask("t1", domain.Submission{DOI: "10.1/x"}, time.Now())
	require.NoError(t, coord.Execute(context.Background(), task))

	assert.Equal(t, domain.StatusCompleted, task.ExecutionStatus)
	assert.Equal(t, domain.ComponentSuccess, task.Component(domain.ComponentMetadata).Status)

	contentState := task.Component(domain.ComponentContent)
	assert.Equal(t, domain.ComponentFailed, contentState.Status)
	assert.Equal(t, "provide PDF", contentState.NextAction)
	assert.Equal(t, domain.ComponentSuccess, task.Component(domain.ComponentReferences).Status)
}

func TestExecuteAllCriticalFailed(t *testing.T) {
	t.Parallel()

	gw := newFakeGraphWriter()
	store := &fakeStatusStore{}

	coord := newTestCoordinator(&fakeDeduper{},
		&fakeMetaFetcher{err: domain.NewDomainError(domain.KindNotFound, "no metadata source succeeded", nil)},
		&fakeContentFetcher{err: domain.NewDomainError(domain.KindNotFound, "content not found", nil)},
		&fakeRefsFetcher{err: domain.NewDomainError(domain.KindNotFound, "no references source succeeded", nil)},
		gw, &fakeLinker{}, store)

	task := domain.NewTask("t1", domain.Submission{DOI: "10.1/x"}, time.Now())
	require.NoError(t, coord.Execute(context.Background(), task))

	assert.Equal(t, domain.StatusFailed, task.ExecutionStatus)
	require.NotNil(t, task.ErrorInfo)

	last := store.events[len(store.events)-1]
	assert.Equal(t, domain.EventFailed, last.Kind)
}

func TestExecuteCancelled(t *testing.T) {
	t.Parallel()

	gw := newFakeGraphWriter()
	store := &fakeStatusStore{cancelled: true}

	coord := newTestCoordinator(&fakeDeduper{}, &fakeMetaFetcher{result: vaswaniMetadata()}, &fakeContentFetcher{}, &fakeRefsFetcher{}, gw, &fakeLinker{}, store)

	task := domain.NewTask("t1", domain.Submission{DOI: "10.1/x"}, time.Now())
	require.Error(t, coord.Execute(context.Background(), task))

	assert.Equal(t, domain.StatusCancelled, task.ExecutionStatus)
	assert.Empty(t, gw.upserts)
}

func TestExecuteInProgressDuplicate(t *testing.T) {
	t.Parallel()

	store := &fakeStatusStore{}
	deduper := &fakeDeduper{pre: &dedup.Outcome{
		Kind:        dedup.OutcomeInProgress,
		OtherTaskID: "t-other",
		Phase:       "in_flight",
	}}

	coord := newTestCoordinator(deduper, &fakeMetaFetcher{}, &fakeContentFetcher{}, &fakeRefsFetcher{}, newFakeGraphWriter(), &fakeLinker{}, store)

	task := domain.NewTask("t1", domain.Submission{DOI: "10.1/x"}, time.Now())
	require.NoError(t, coord.Execute(context.Background(), task))

	assert.Equal(t, domain.StatusCompleted, task.ExecutionStatus)
	assert.Equal(t, domain.ResultDuplicate, task.ResultType)
}
