package references

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyqqj0/paper-parser/internal/domain"
)

type fakeAPI struct {
	refs    []domain.Reference
	err     error
	enabled bool
	calls   int
	lastID  string
}

func (f *fakeAPI) ReferencesOf(_ context.Context, id string) ([]domain.Reference, error) {
	f.calls++
	f.lastID = id
	return f.refs, f.err
}

func (f *fakeAPI) IsEnabled() bool { return f.enabled }

type fakeParser struct {
	refs    []domain.Reference
	err     error
	enabled bool
	calls   int
}

func (f *fakeParser) ParseReferences(_ context.Context, _ []byte) ([]domain.Reference, error) {
	f.calls++
	return f.refs, f.err
}

func (f *fakeParser) IsEnabled() bool { return f.enabled }

func someRefs() []domain.Reference {
	return []domain.Reference{
		{RawText: "Vaswani et al. 2017", Parsed: &domain.ParsedReference{DOI: "10.48550/arxiv.1706.03762"}},
		{RawText: "LeCun et al. 2015", Parsed: &domain.ParsedReference{Title: "Deep learning", Year: 2015}},
	}
}

func TestFetchPrefersCrossRef(t *testing.T) {
	t.Parallel()

	crossref := &fakeAPI{refs: someRefs(), enabled: true}
	s2 := &fakeAPI{refs: someRefs(), enabled: true}

	f := NewFetcher(crossref, s2, nil, nil, zerolog.Nop())
	result, err := f.Fetch(context.Background(), Request{DOI: "10.1038/nature14539"})
	require.NoError(t, err)

	assert.Equal(t, "crossref", result.Source)
	assert.Len(t, result.References, 2)
	assert.Equal(t, 0, s2.calls)
}

func TestFetchFallsThroughToParser(t *testing.T) {
	t.Parallel()

	crossref := &fakeAPI{err: errors.New("unavailable"), enabled: true}
	s2 := &fakeAPI{refs: nil, enabled: true} // empty list keeps falling
	parser := &fakeParser{refs: someRefs(), enabled: true}

	f := NewFetcher(crossref, s2, parser, nil, zerolog.Nop())
	result, err := f.Fetch(context.Background(), Request{DOI: "10.1/x", PDF: []byte("%PDF-")})
	require.NoError(t, err)

	assert.Equal(t, "pdf_parser", result.Source)
	assert.Equal(t, 1, crossref.calls)
	assert.Equal(t, 1, s2.calls)
}

func TestFetchS2UsesArXivIDWithoutDOI(t *testing.T) {
	t.Parallel()

	s2 := &fakeAPI{refs: someRefs(), enabled: true}
	f := NewFetcher(nil, s2, nil, nil, zerolog.Nop())

	_, err := f.Fetch(context.Background(), Request{ArXivID: "1706.03762"})
	require.NoError(t, err)
	assert.Equal(t, "ARXIV:1706.03762", s2.lastID)
}

func TestFetchNothingAvailable(t *testing.T) {
	t.Parallel()

	f := NewFetcher(nil, nil, nil, nil, zerolog.Nop())
	_, err := f.Fetch(context.Background(), Request{})

	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestExtractInlineReferences(t *testing.T) {
	t.Parallel()

	html := `<html><body><ol class="references">
		<li>A. Vaswani et al., "Attention Is All You Need", NeurIPS, 2017. doi:10.5555/3295222.3295349</li>
		<li>Y. LeCun, Y. Bengio, G. Hinton, "Deep learning", Nature, 2015.</li>
		<li>short</li>
	</ol></body></html>`

	refs, err := ExtractInlineReferences(strings.NewReader(html))
	require.NoError(t, err)
	require.Len(t, refs, 2)

	require.NotNil(t, refs[0].Parsed)
	assert.Equal(t, "10.5555/3295222.3295349", refs[0].Parsed.DOI)
	assert.Equal(t, "Attention Is All You Need", refs[0].Parsed.Title)
	assert.Equal(t, 2017, refs[0].Parsed.Year)

	require.NotNil(t, refs[1].Parsed)
	assert.Equal(t, "Deep learning", refs[1].Parsed.Title)
	assert.Equal(t, 2015, refs[1].Parsed.Year)
}

func TestParseRawReference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, p *domain.ParsedReference)
	}{
		{
			name: "doi and year",
			raw:  "Smith, J. (2019). Some title. https://doi.org/10.1234/abcd.5678",
			check: func(t *testing.T, p *domain.ParsedReference) {
				require.NotNil(t, p)
				assert.Equal(t, "10.1234/abcd.5678", p.DOI)
				assert.Equal(t, 2019, p.Year)
			},
		},
		{
			name: "arxiv id",
			raw:  "Vaswani et al. Attention is all you need. arXiv:1706.03762v5, 2017.",
			check: func(t *testing.T, p *domain.ParsedReference) {
				require.NotNil(t, p)
				assert.Equal(t, "1706.03762", p.ArXivID)
			},
		},
		{
			name: "nothing recognizable",
			raw:  "mystery reference with no structure",
			check: func(t *testing.T, p *domain.ParsedReference) {
				assert.Nil(t, p)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.check(t, ParseRawReference(tt.raw))
		})
	}
}
