package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyqqj0/paper-parser/internal/domain"
	"github.com/tyqqj0/paper-parser/internal/urlmapping"
)

type fakeStore struct {
	aliases     map[string]string // "type:value" -> lid
	literatures map[string]*domain.Literature
	fpOwners    map[string]string
	incoming    map[string]int
	deleted     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		aliases:     make(map[string]string),
		literatures: make(map[string]*domain.Literature),
		fpOwners:    make(map[string]string),
		incoming:    make(map[string]int),
	}
}

func (f *fakeStore) ResolveAlias(_ context.Context, t domain.AliasType, v string) (string, error) {
	if lid, ok := f.aliases[string(t)+":"+v]; ok {
		return lid, nil
	}
	return "", domain.NewNotFoundError("alias", v)
}

func (f *fakeStore) ClaimFingerprint(_ context.Context, fp, lid string) (string, bool, error) {
	if owner, ok := f.fpOwners[fp]; ok {
		return owner, false, nil
	}
	f.fpOwners[fp] = lid
	return lid, true, nil
}

func (f *fakeStore) GetLiterature(_ context.Context, lid string) (*domain.Literature, error) {
	if lit, ok := f.literatures[lid]; ok {
		return lit, nil
	}
	return nil, domain.NewNotFoundError("literature", lid)
}

func (f *fakeStore) IncomingResolvedCitations(_ context.Context, lid string) (int, error) {
	return f.incoming[lid], nil
}

func (f *fakeStore) DeleteLiterature(_ context.Context, lid string) error {
	f.deleted = append(f.deleted, lid)
	for k, v := range f.aliases {
		if v == lid {
			delete(f.aliases, k)
		}
	}
	delete(f.literatures, lid)
	return nil
}

type fakeTaskIndex struct {
	task *domain.Task
}

func (f *fakeTaskIndex) FindActiveBySource(_ context.Context, _ string, _ time.Duration) (*domain.Task, error) {
	return f.task, nil
}

func newEngine(store *fakeStore, tasks TaskIndex) *Engine {
	return NewEngine(Config{}, store, tasks, nil, zerolog.Nop())
}

func okLiterature(lid string) *domain.Literature {
	return &domain.Literature{
		LID:      lid,
		TaskInfo: &domain.TaskInfo{TaskID: "t0", Status: domain.StatusCompleted},
	}
}

func TestPreCheckIdentifierHit(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.aliases["doi:10.1038/nature14539"] = "2015-lecun-dl-1a2b"
	store.literatures["2015-lecun-dl-1a2b"] = okLiterature("2015-lecun-dl-1a2b")

	out, err := newEngine(store, nil).PreCheck(context.Background(), "t1",
		domain.Submission{DOI: "10.1038/nature14539"}, nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeExisting, out.Kind)
	assert.Equal(t, "2015-lecun-dl-1a2b", out.LID)
	assert.Equal(t, "identifier", out.Phase)
}

func TestPreCheckFailedDocCleanup(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.aliases["doi:10.1/failed"] = "2020-x-y-dead"
	store.literatures["2020-x-y-dead"] = &domain.Literature{
		LID:      "2020-x-y-dead",
		TaskInfo: &domain.TaskInfo{TaskID: "t0", Status: domain.StatusFailed},
	}

	out, err := newEngine(store, nil).PreCheck(context.Background(), "t1",
		domain.Submission{DOI: "10.1/failed"}, nil)
	require.NoError(t, err)

	// The failed doc is removed and the submission proceeds as new.
	assert.Equal(t, OutcomeNew, out.Kind)
	assert.Equal(t, []string{"2020-x-y-dead"}, store.deleted)
}

func TestPreCheckFailedDocKeptWhenCited(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.aliases["doi:10.1/failed"] = "2020-x-y-dead"
	store.literatures["2020-x-y-dead"] = &domain.Literature{
		LID:      "2020-x-y-dead",
		TaskInfo: &domain.TaskInfo{TaskID: "t0", Status: domain.StatusFailed},
	}
	store.incoming["2020-x-y-dead"] = 2

	out, err := newEngine(store, nil).PreCheck(context.Background(), "t1",
		domain.Submission{DOI: "10.1/failed"}, nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeExisting, out.Kind)
	assert.Empty(t, store.deleted)
}

func TestPreCheckSourceURLHit(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.aliases["url:https://arxiv.org/abs/1706.03762"] = "2017-vaswani-aayn-a8c4"
	store.literatures["2017-vaswani-aayn-a8c4"] = okLiterature("2017-vaswani-aayn-a8c4")

	// A versioned PDF variant must normalize onto the same alias.
	out, err := newEngine(store, nil).PreCheck(context.Background(), "t1",
		domain.Submission{URL: "https://arxiv.org/pdf/1706.03762v2.pdf"}, nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeExisting, out.Kind)
	assert.Equal(t, "source_url", out.Phase)
}

func TestPreCheckInFlight(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	other := domain.NewTask("t-other", domain.Submission{DOI: "10.1/x"}, time.Now())
	other.LiteratureID = "pending-lid"

	out, err := newEngine(store, &fakeTaskIndex{task: other}).PreCheck(context.Background(), "t1",
		domain.Submission{DOI: "10.1/x"}, nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeInProgress, out.Kind)
	assert.Equal(t, "t-other", out.OtherTaskID)
}

func TestPreCheckOwnTaskDoesNotMatch(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	self := domain.NewTask("t1", domain.Submission{DOI: "10.1/x"}, time.Now())

	out, err := newEngine(store, &fakeTaskIndex{task: self}).PreCheck(context.Background(), "t1",
		domain.Submission{DOI: "10.1/x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, out.Kind)
}

func TestPreCheckMappingIdentifiers(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.aliases["arxiv:1706.03762"] = "2017-vaswani-aayn-a8c4"
	store.literatures["2017-vaswani-aayn-a8c4"] = okLiterature("2017-vaswani-aayn-a8c4")

	out, err := newEngine(store, nil).PreCheck(context.Background(), "t1",
		domain.Submission{URL: "https://arxiv.org/abs/1706.03762"},
		&urlmapping.Mapping{ArXivID: "1706.03762"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeExisting, out.Kind)
	assert.Equal(t, "identifier", out.Phase)
}

func TestPostCheckClaimsFingerprint(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	meta := domain.Metadata{
		Title:   "Attention Is All You Need",
		Authors: []domain.Author{{Name: "Ashish Vaswani"}},
		Year:    2017,
	}

	out, err := newEngine(store, nil).PostCheck(context.Background(), "lid-candidate", meta, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, out.Kind)

	// A concurrent loser observes the winner's LID.
	out2, err := newEngine(store, nil).PostCheck(context.Background(), "lid-loser", meta, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExisting, out2.Kind)
	assert.Equal(t, "lid-candidate", out2.LID)
}

func TestPostCheckPDFFingerprint(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.aliases["fingerprint:abcd1234"] = "2017-vaswani-aayn-a8c4"

	out, err := newEngine(store, nil).PostCheck(context.Background(), "lid-candidate",
		domain.Metadata{Title: "different title", Year: 2020}, "abcd1234")
	require.NoError(t, err)

	assert.Equal(t, OutcomeExisting, out.Kind)
	assert.Equal(t, "2017-vaswani-aayn-a8c4", out.LID)
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "host lowered fragment stripped",
			input:    "https://Example.ORG/Paper/1#section-2",
			expected: "https://example.org/Paper/1",
		},
		{
			name:     "tracking params stripped",
			input:    "https://example.org/p?utm_source=x&id=7&fbclid=123",
			expected: "https://example.org/p?id=7",
		},
		{
			name:     "arxiv pdf collapses to abs",
			input:    "https://arxiv.org/pdf/1706.03762v2.pdf",
			expected: "https://arxiv.org/abs/1706.03762",
		},
		{
			name:     "arxiv html collapses to abs",
			input:    "http://arxiv.org/html/1706.03762",
			expected: "https://arxiv.org/abs/1706.03762",
		},
		{
			name:     "trailing slash trimmed",
			input:    "https://example.org/papers/",
			expected: "https://example.org/papers",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, NormalizeURL(tt.input))
		})
	}
}
