package linker

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyqqj0/paper-parser/internal/domain"
	"github.com/tyqqj0/paper-parser/internal/graph"
)

type fakeGraph struct {
	aliases    map[string]string
	candidates []graph.Candidate
	unresolved map[string]*domain.Unresolved
	links      []linkRecord
	promotions []string
	sweepHits  []string
	nextUID    int
}

type linkRecord struct {
	src, dst string
	conf     float64
	source   domain.CitationSource
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		aliases:    make(map[string]string),
		unresolved: make(map[string]*domain.Unresolved),
	}
}

func (f *fakeGraph) ResolveAlias(_ context.Context, t domain.AliasType, v string) (string, error) {
	if lid, ok := f.aliases[string(t)+":"+v]; ok {
		return lid, nil
	}
	return "", domain.NewNotFoundError("alias", v)
}

func (f *fakeGraph) FindCandidatesByTitle(_ context.Context, _ string, _, _, _ int) ([]graph.Candidate, error) {
	return f.candidates, nil
}

func (f *fakeGraph) LinkCitation(_ context.Context, src, dst string, conf float64, source domain.CitationSource) error {
	if src == dst {
		return domain.NewValidationError("citation", "self-citation rejected")
	}
	f.links = append(f.links, linkRecord{src: src, dst: dst, conf: conf, source: source})
	return nil
}

func (f *fakeGraph) CreateUnresolved(_ context.Context, u *domain.Unresolved) (string, error) {
	f.nextUID++
	uid := "u-" + string(rune('0'+f.nextUID))
	f.unresolved[uid] = u
	return uid, nil
}

func (f *fakeGraph) PromoteUnresolved(_ context.Context, uid, lid string) error {
	f.promotions = append(f.promotions, uid+"->"+lid)
	return nil
}

func (f *fakeGraph) FindUnresolvedByFingerprint(_ context.Context, _, _ string) ([]string, error) {
	return f.sweepHits, nil
}

func newLinker(store GraphStore) *Linker {
	return New(Config{}, store, zerolog.Nop())
}

func TestLinkReferencesExactDOI(t *testing.T) {
	t.Parallel()

	store := newFakeGraph()
	store.aliases["doi:10.1038/nature14539"] = "2015-lecun-dl-1a2b"

	stats, err := newLinker(store).LinkReferences(context.Background(), "2024-src-x-0000", []domain.Reference{
		{RawText: "LeCun 2015", Parsed: &domain.ParsedReference{DOI: "10.1038/nature14539"}, Source: "crossref"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Linked)
	assert.Equal(t, 0, stats.Unresolved)
	require.Len(t, store.links, 1)
	assert.Equal(t, "2015-lecun-dl-1a2b", store.links[0].dst)
	assert.InDelta(t, 1.0, store.links[0].conf, 1e-9)
	assert.Equal(t, domain.CitationSourceAPI, store.links[0].source)
}

func TestLinkReferencesCreatesUnresolved(t *testing.T) {
	t.Parallel()

	store := newFakeGraph()
	stats, err := newLinker(store).LinkReferences(context.Background(), "2024-src-x-0000", []domain.Reference{
		{RawText: "Unknown, Mysterious paper, 1999", Parsed: &domain.ParsedReference{Title: "Mysterious paper", Year: 1999}, Source: "grobid"},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Linked)
	assert.Equal(t, 1, stats.Unresolved)
	require.Len(t, store.links, 1)
	assert.Equal(t, domain.CitationSourceParser, store.links[0].source)
	require.Len(t, store.unresolved, 1)
}

func TestLinkReferencesFuzzyMatchPrefersRightYear(t *testing.T) {
	t.Parallel()

	// Corpus contains the 2017 paper and a 2005 unrelated paper of similar
	// title; the 2005 one must not be linked to a 2017 reference.
	store := newFakeGraph()
	store.candidates = []graph.Candidate{
		{
			LID:     "2005-other-aayn-ffff",
			Title:   "Attention is all you need for memory",
			Authors: []domain.Author{{Name: "Somebody Else"}},
			Year:    2005,
		},
		{
			LID:     "2017-vaswani-aayn-a8c4",
			Title:   "Attention Is All You Need",
			Authors: []domain.Author{{Name: "Ashish Vaswani"}, {Name: "Noam Shazeer"}},
			Year:    2017,
		},
	}

	stats, err := newLinker(store).LinkReferences(context.Background(), "2024-src-x-0000", []domain.Reference{
		{
			RawText: "Vaswani et al. Attention is all you need. 2017.",
			Parsed: &domain.ParsedReference{
				Title:   "Attention is all you need",
				Authors: []domain.Author{{Name: "A. Vaswani"}},
				Year:    2017,
			},
			Source: "semantic_scholar",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Linked)
	require.Len(t, store.links, 1)
	assert.Equal(t, "2017-vaswani-aayn-a8c4", store.links[0].dst)
	assert.GreaterOrEqual(t, store.links[0].conf, 0.6)
}

func TestLinkReferencesRejectsPoorAuthorMatch(t *testing.T) {
	t.Parallel()

	store := newFakeGraph()
	store.candidates = []graph.Candidate{
		{
			LID:     "2017-smith-aayn-1111",
			Title:   "Attention is all you need",
			Authors: []domain.Author{{Name: "John Smith"}},
			Year:    2017,
		},
	}

	stats, err := newLinker(store).LinkReferences(context.Background(), "2024-src-x-0000", []domain.Reference{
		{
			RawText: "Vaswani et al. 2017",
			Parsed: &domain.ParsedReference{
				Title:   "Attention is all you need",
				Authors: []domain.Author{{Name: "Ashish Vaswani"}},
				Year:    2017,
			},
		},
	})
	require.NoError(t, err)

	// Author mismatch forces a placeholder instead of a wrong link.
	assert.Equal(t, 0, stats.Linked)
	assert.Equal(t, 1, stats.Unresolved)
}

func TestLinkReferencesSkipsSelfCitation(t *testing.T) {
	t.Parallel()

	store := newFakeGraph()
	store.aliases["doi:10.1/self"] = "2024-src-x-0000"

	stats, err := newLinker(store).LinkReferences(context.Background(), "2024-src-x-0000", []domain.Reference{
		{RawText: "self", Parsed: &domain.ParsedReference{DOI: "10.1/self"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped)
	assert.Empty(t, store.links)
}

func TestSweepUnresolvedPromotes(t *testing.T) {
	t.Parallel()

	store := newFakeGraph()
	store.sweepHits = []string{"u-1", "u-2"}

	lit := &domain.Literature{
		LID: "2017-vaswani-aayn-a8c4",
		Metadata: domain.Metadata{
			Title:   "Attention Is All You Need",
			Authors: []domain.Author{{Name: "Ashish Vaswani"}},
			Year:    2017,
		},
	}
	promoted, err := newLinker(store).SweepUnresolved(context.Background(), lit)
	require.NoError(t, err)

	assert.Equal(t, 2, promoted)
	assert.Equal(t, []string{"u-1->2017-vaswani-aayn-a8c4", "u-2->2017-vaswani-aayn-a8c4"}, store.promotions)
}

func TestTitleSimilarity(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, TitleSimilarity("Attention Is All You Need", "attention is all you need"), 1e-9)
	assert.Greater(t, TitleSimilarity("Attention Is All You Need", "Attention is all you need!"), 0.9)
	assert.Less(t, TitleSimilarity("Attention Is All You Need", "Deep residual learning for image recognition"), 0.4)
}

func TestAuthorMatchRate(t *testing.T) {
	t.Parallel()

	refs := []domain.Author{{Name: "A. Vaswani"}, {Name: "N. Shazeer"}}
	cands := []domain.Author{{Name: "Ashish Vaswani"}, {Name: "Noam Shazeer"}, {Name: "Niki Parmar"}}
	assert.InDelta(t, 1.0, AuthorMatchRate(refs, cands), 1e-9)

	unrelated := []domain.Author{{Name: "John Smith"}}
	assert.InDelta(t, 0.0, AuthorMatchRate(refs, unrelated), 1e-9)
}

func TestYearWithin(t *testing.T) {
	t.Parallel()

	assert.True(t, YearWithin(2017, 2018, 1))
	assert.True(t, YearWithin(2017, 0, 1))
	assert.False(t, YearWithin(2017, 2015, 1))
}
