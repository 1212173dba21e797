package metadata

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyqqj0/paper-parser/internal/domain"
	"github.com/tyqqj0/paper-parser/internal/sources"
	"github.com/tyqqj0/paper-parser/internal/sources/grobid"
	"github.com/tyqqj0/paper-parser/internal/urlmapping"
)

type fakeIdentifierClient struct {
	record  *sources.Record
	err     error
	enabled bool
	calls   int
}

func (f *fakeIdentifierClient) ByIdentifier(_ context.Context, _ string) (*sources.Record, error) {
	f.calls++
	return f.record, f.err
}

func (f *fakeIdentifierClient) IsEnabled() bool { return f.enabled }

type fakeS2 struct {
	record  *sources.Record
	err     error
	enabled bool
	calls   int
}

func (f *fakeS2) ByDOI(_ context.Context, _ string) (*sources.Record, error) {
	f.calls++
	return f.record, f.err
}

func (f *fakeS2) ByArXiv(_ context.Context, _ string) (*sources.Record, error) {
	f.calls++
	return f.record, f.err
}

func (f *fakeS2) IsEnabled() bool { return f.enabled }

type fakeParser struct {
	result  *grobid.HeaderResult
	err     error
	enabled bool
}

func (f *fakeParser) ParseHeader(_ context.Context, _ []byte) (*grobid.HeaderResult, error) {
	return f.result, f.err
}

func (f *fakeParser) IsEnabled() bool { return f.enabled }

func crossrefRecord() *sources.Record {
	return &sources.Record{
		Metadata: domain.Metadata{
			Title:   "Deep learning",
			Authors: []domain.Author{{Name: "Yann LeCun"}},
			Year:    2015,
			Journal: "Nature",
		},
		DOI:      "10.1038/nature14539",
		Provider: "crossref",
	}
}

func TestFetchPrefersCrossRefForDOI(t *testing.T) {
	t.Parallel()

	crossref := &fakeIdentifierClient{record: crossrefRecord(), enabled: true}
	s2 := &fakeS2{record: &sources.Record{Metadata: domain.Metadata{Title: "wrong"}}, enabled: true}

	f := NewFetcher(Config{}, crossref, nil, s2, nil, nil, zerolog.Nop())
	result, err := f.Fetch(context.Background(), Request{
		Submission: domain.Submission{DOI: "10.1038/nature14539"},
	})
	require.NoError(t, err)

	assert.Equal(t, "crossref", result.Source)
	assert.InDelta(t, 0.95, result.Confidence, 1e-9)
	assert.Equal(t, "Deep learning", result.Metadata.Title)
	assert.Equal(t, []string{"crossref"}, result.Metadata.SourcePriority)
	assert.Equal(t, 0, s2.calls, "lower-priority steps must not run after a success")
}

func TestFetchFallsThroughToS2(t *testing.T) {
	t.Parallel()

	crossref := &fakeIdentifierClient{err: errors.New("boom"), enabled: true}
	s2 := &fakeS2{record: &sources.Record{
		Metadata: domain.Metadata{Title: "Attention Is All You Need", Year: 2017},
		ArXivID:  "1706.03762",
	}, enabled: true}

	f := NewFetcher(Config{}, crossref, nil, s2, nil, nil, zerolog.Nop())
	result, err := f.Fetch(context.Background(), Request{
		Submission: domain.Submission{DOI: "10.48550/arxiv.1706.03762"},
	})
	require.NoError(t, err)

	assert.Equal(t, "semantic_scholar", result.Source)
	assert.Equal(t, 1, crossref.calls)
}

func TestFetchUsesParserWhenOnlyPDFAvailable(t *testing.T) {
	t.Parallel()

	parser := &fakeParser{result: &grobid.HeaderResult{
		Metadata: domain.Metadata{Title: "Parsed Title", Year: 2020},
		DOI:      "10.1234/parsed",
	}, enabled: true}

	f := NewFetcher(Config{}, nil, nil, nil, parser, nil, zerolog.Nop())
	result, err := f.Fetch(context.Background(), Request{PDF: []byte("%PDF-")})
	require.NoError(t, err)

	assert.Equal(t, "pdf_parser", result.Source)
	assert.Equal(t, "10.1234/parsed", result.DOI)
	assert.InDelta(t, 0.70, result.Confidence, 1e-9)
}

func TestFetchUserInputWinsMerge(t *testing.T) {
	t.Parallel()

	crossref := &fakeIdentifierClient{record: crossrefRecord(), enabled: true}
	f := NewFetcher(Config{}, crossref, nil, nil, nil, nil, zerolog.Nop())

	result, err := f.Fetch(context.Background(), Request{
		Submission: domain.Submission{
			DOI:     "10.1038/nature14539",
			Title:   "Deep Learning (user corrected)",
			Authors: []domain.Author{{Name: "Y. LeCun"}, {Name: "Y. Bengio"}, {Name: "G. Hinton"}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Deep Learning (user corrected)", result.Metadata.Title)
	require.Len(t, result.Metadata.Authors, 3)
	assert.Equal(t, []string{"user", "crossref"}, result.Metadata.SourcePriority)
}

func TestFetchMergesMappingIdentifiers(t *testing.T) {
	t.Parallel()

	arxiv := &fakeIdentifierClient{record: &sources.Record{
		Metadata: domain.Metadata{Title: "Attention Is All You Need", Year: 2017},
		ArXivID:  "1706.03762",
		PDFURL:   "https://arxiv.org/pdf/1706.03762",
	}, enabled: true}

	f := NewFetcher(Config{}, nil, arxiv, nil, nil, nil, zerolog.Nop())
	result, err := f.Fetch(context.Background(), Request{
		Mapping: &urlmapping.Mapping{
			ArXivID:       "1706.03762",
			SourcePageURL: "https://arxiv.org/abs/1706.03762",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "1706.03762", result.ArXivID)
	assert.Equal(t, "https://arxiv.org/abs/1706.03762", result.SourcePageURL)
}

func TestFetchFailureCarriesNextAction(t *testing.T) {
	t.Parallel()

	f := NewFetcher(Config{}, nil, nil, nil, nil, nil, zerolog.Nop())
	_, err := f.Fetch(context.Background(), Request{})

	var derr *domain.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.KindNotFound, derr.Kind)
	assert.Equal(t, "provide DOI or arXiv ID", derr.NextAction)
}

func TestFetchNextActionSuggestsPDF(t *testing.T) {
	t.Parallel()

	crossref := &fakeIdentifierClient{err: errors.New("unavailable"), enabled: true}
	f := NewFetcher(Config{}, crossref, nil, nil, nil, nil, zerolog.Nop())

	_, err := f.Fetch(context.Background(), Request{
		Submission: domain.Submission{DOI: "10.1/x"},
	})

	var derr *domain.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "upload PDF", derr.NextAction)
}

func TestParsePageMetadata(t *testing.T) {
	t.Parallel()

	html := `<html><head>
		<meta name="citation_title" content="Attention Is All You Need">
		<meta name="citation_author" content="Ashish Vaswani">
		<meta name="citation_author" content="Noam Shazeer">
		<meta name="citation_publication_date" content="2017/06/12">
		<meta name="citation_conference_title" content="NeurIPS">
		<meta name="citation_pdf_url" content="https://example.org/p.pdf">
		<meta name="citation_doi" content="10.5555/3295222.3295349">
	</head><body></body></html>`

	page, err := ParsePageMetadata(strings.NewReader(html))
	require.NoError(t, err)
	require.NotNil(t, page)

	assert.Equal(t, "Attention Is All You Need", page.Title)
	assert.Equal(t, []string{"Ashish Vaswani", "Noam Shazeer"}, page.Authors)
	assert.Equal(t, 2017, page.Year)
	assert.Equal(t, "NeurIPS", page.Journal)
	assert.Equal(t, "https://example.org/p.pdf", page.PDFURL)
	assert.Equal(t, "10.5555/3295222.3295349", page.DOI)

	record := page.toRecord()
	require.NotNil(t, record)
	assert.Equal(t, 2017, record.Metadata.Year)
	require.Len(t, record.Metadata.Authors, 2)
}

func TestParsePageMetadataNoTitle(t *testing.T) {
	t.Parallel()

	page, err := ParsePageMetadata(strings.NewReader(`<html><head></head><body>x</body></html>`))
	require.NoError(t, err)
	assert.Nil(t, page)
}
