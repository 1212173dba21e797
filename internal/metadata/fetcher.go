// Package metadata resolves bibliographic metadata through a waterfall of
// sources: authoritative APIs by identifier, the TEI PDF header parse, and a
// landing-page scrape, in descending confidence order.
package metadata

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tyqqj0/paper-parser/internal/domain"
	"github.com/tyqqj0/paper-parser/internal/sources"
	"github.com/tyqqj0/paper-parser/internal/sources/grobid"
	"github.com/tyqqj0/paper-parser/internal/urlmapping"
)

// Confidence assigned to each waterfall step.
const (
	confidenceCrossRef = 0.95
	confidenceArXiv    = 0.90
	confidenceS2       = 0.85
	confidenceParser   = 0.70
	confidenceScrape   = 0.50
)

// IdentifierClient fetches a record by a source-native identifier.
type IdentifierClient interface {
	ByIdentifier(ctx context.Context, id string) (*sources.Record, error)
	IsEnabled() bool
}

// S2Client is the Semantic Scholar lookup surface used by the waterfall.
type S2Client interface {
	ByDOI(ctx context.Context, doi string) (*sources.Record, error)
	ByArXiv(ctx context.Context, id string) (*sources.Record, error)
	IsEnabled() bool
}

// HeaderParser extracts metadata from PDF bytes.
type HeaderParser interface {
	ParseHeader(ctx context.Context, pdf []byte) (*grobid.HeaderResult, error)
	IsEnabled() bool
}

// PageScraper fetches a landing page and extracts bibliographic meta tags.
type PageScraper interface {
	ScrapePage(ctx context.Context, url string) (*PageMetadata, error)
}

// Request carries everything the waterfall may draw on.
type Request struct {
	// Submission is the original user submission; its title/authors take
	// merge priority over every fetched source.
	Submission domain.Submission

	// Mapping is the URL-mapping result, when the submission was a URL.
	Mapping *urlmapping.Mapping

	// PDF enables the parser step when content was already acquired.
	PDF []byte
}

// doi returns the strongest known DOI for the request.
func (r *Request) doi() string {
	if r.Submission.DOI != "" {
		return r.Submission.DOI
	}
	if r.Mapping != nil {
		return r.Mapping.DOI
	}
	return ""
}

func (r *Request) arxivID() string {
	if r.Submission.ArXivID != "" {
		return r.Submission.ArXivID
	}
	if r.Mapping != nil {
		return r.Mapping.ArXivID
	}
	return ""
}

func (r *Request) pageURL() string {
	if r.Mapping != nil && r.Mapping.SourcePageURL != "" {
		return r.Mapping.SourcePageURL
	}
	return r.Submission.URL
}

// Result is the merged metadata outcome with provenance.
type Result struct {
	// Metadata is the merged bibliographic record.
	Metadata domain.Metadata

	// DOI, ArXivID, and PMID are identifiers discovered along the way.
	DOI     string
	ArXivID string
	PMID    string

	// PDFURL and SourcePageURL are content pointers discovered along the way.
	PDFURL        string
	SourcePageURL string

	// Source names the step that won the waterfall.
	Source string

	// Confidence is the winning step's confidence.
	Confidence float64
}

// step is one entry of the waterfall, iterated by the generic driver.
type step struct {
	name       string
	confidence float64
	available  func(req *Request) bool
	run        func(ctx context.Context, req *Request) (*sources.Record, error)
}

// Config holds metadata fetcher settings.
type Config struct {
	// Threshold is the minimum confidence accepted from a step.
	Threshold float64
}

// Fetcher runs the metadata waterfall.
type Fetcher struct {
	crossref  IdentifierClient
	arxiv     IdentifierClient
	s2        S2Client
	parser    HeaderParser
	scraper   PageScraper
	threshold float64
	logger    zerolog.Logger
}

// NewFetcher creates a metadata fetcher. Any dependency may be nil; the
// corresponding step is skipped.
func NewFetcher(cfg Config, crossref, arxiv IdentifierClient, s2 S2Client, parser HeaderParser, scraper PageScraper, logger zerolog.Logger) *Fetcher {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = confidenceScrape
	}
	return &Fetcher{
		crossref:  crossref,
		arxiv:     arxiv,
		s2:        s2,
		parser:    parser,
		scraper:   scraper,
		threshold: threshold,
		logger:    logger.With().Str("component", "metadata").Logger(),
	}
}

// Fetch walks the waterfall and returns the first success at or above the
// threshold, merged with user-supplied fields. On total failure the error is
// a DomainError whose NextAction suggests what the user can add.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	var lastErr error
	for _, s := range f.steps() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.confidence < f.threshold || !s.available(&req) {
			continue
		}

		record, err := s.run(ctx, &req)
		if err != nil {
			f.logger.Debug().Err(err).Str("step", s.name).Msg("metadata step failed")
			lastErr = err
			continue
		}
		if record == nil || record.Metadata.Title == "" {
			continue
		}

		result := f.merge(&req, record, s.name, s.confidence)
		f.logger.Info().
			Str("step", s.name).
			Str("title", result.Metadata.Title).
			Float64("confidence", s.confidence).
			Msg("metadata resolved")
		return result, nil
	}

	derr := &domain.DomainError{
		Kind:       domain.KindNotFound,
		Message:    "no metadata source succeeded",
		NextAction: f.nextAction(&req),
		Cause:      lastErr,
	}
	return nil, derr
}

// steps returns the waterfall in priority order.
func (f *Fetcher) steps() []step {
	return []step{
		{
			name:       "crossref",
			confidence: confidenceCrossRef,
			available: func(req *Request) bool {
				return f.crossref != nil && f.crossref.IsEnabled() && req.doi() != ""
			},
			run: func(ctx context.Context, req *Request) (*sources.Record, error) {
				return f.crossref.ByIdentifier(ctx, req.doi())
			},
		},
		{
			name:       "arxiv",
			confidence: confidenceArXiv,
			available: func(req *Request) bool {
				return f.arxiv != nil && f.arxiv.IsEnabled() && req.arxivID() != ""
			},
			run: func(ctx context.Context, req *Request) (*sources.Record, error) {
				return f.arxiv.ByIdentifier(ctx, req.arxivID())
			},
		},
		{
			name:       "semantic_scholar",
			confidence: confidenceS2,
			available: func(req *Request) bool {
				return f.s2 != nil && f.s2.IsEnabled() && (req.doi() != "" || req.arxivID() != "")
			},
			run: func(ctx context.Context, req *Request) (*sources.Record, error) {
				if doi := req.doi(); doi != "" {
					return f.s2.ByDOI(ctx, doi)
				}
				return f.s2.ByArXiv(ctx, req.arxivID())
			},
		},
		{
			name:       "pdf_parser",
			confidence: confidenceParser,
			available: func(req *Request) bool {
				return f.parser != nil && f.parser.IsEnabled() && len(req.PDF) > 0
			},
			run: func(ctx context.Context, req *Request) (*sources.Record, error) {
				header, err := f.parser.ParseHeader(ctx, req.PDF)
				if err != nil {
					return nil, err
				}
				return &sources.Record{
					Metadata: header.Metadata,
					DOI:      domain.NormalizeDOI(header.DOI),
					Provider: "grobid",
				}, nil
			},
		},
		{
			name:       "site_scrape",
			confidence: confidenceScrape,
			available: func(req *Request) bool {
				return f.scraper != nil && req.pageURL() != ""
			},
			run: func(ctx context.Context, req *Request) (*sources.Record, error) {
				page, err := f.scraper.ScrapePage(ctx, req.pageURL())
				if err != nil {
					return nil, err
				}
				return page.toRecord(), nil
			},
		},
	}
}

// merge combines the winning record with user input (user fields win) and
// identifier fragments discovered by URL mapping.
func (f *Fetcher) merge(req *Request, record *sources.Record, source string, confidence float64) *Result {
	meta := record.Metadata

	priority := []string{source}
	if req.Submission.Title != "" {
		meta.Title = req.Submission.Title
		priority = append([]string{"user"}, priority...)
	}
	if len(req.Submission.Authors) > 0 {
		meta.Authors = req.Submission.Authors
		if priority[0] != "user" {
			priority = append([]string{"user"}, priority...)
		}
	}
	meta.SourcePriority = priority

	result := &Result{
		Metadata:      meta,
		DOI:           firstNonEmpty(req.Submission.DOI, record.DOI),
		ArXivID:       firstNonEmpty(req.Submission.ArXivID, record.ArXivID),
		PMID:          firstNonEmpty(req.Submission.PMID, record.PMID),
		PDFURL:        record.PDFURL,
		SourcePageURL: firstNonEmpty(record.SourcePageURL, req.pageURL()),
		Source:        source,
		Confidence:    confidence,
	}
	if req.Mapping != nil {
		result.DOI = firstNonEmpty(result.DOI, req.Mapping.DOI)
		result.ArXivID = firstNonEmpty(result.ArXivID, req.Mapping.ArXivID)
		result.PMID = firstNonEmpty(result.PMID, req.Mapping.PMID)
		result.PDFURL = firstNonEmpty(result.PDFURL, req.Mapping.PDFURL)
		if meta.Journal == "" && req.Mapping.Venue != "" {
			result.Metadata.Journal = req.Mapping.Venue
		}
	}
	return result
}

// nextAction suggests what the user can supply to unblock the waterfall.
func (f *Fetcher) nextAction(req *Request) string {
	if req.doi() == "" && req.arxivID() == "" {
		return "provide DOI or arXiv ID"
	}
	if len(req.PDF) == 0 {
		return "upload PDF"
	}
	return "verify the identifier is correct"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
