// Package references resolves a literature's reference list through a
// waterfall: authoritative API lists first, then the TEI parser bibliography,
// then an inline site-extracted list.
package references

import (
	"context"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/tyqqj0/paper-parser/internal/domain"
	"github.com/tyqqj0/paper-parser/internal/requester"
)

// APIClient lists references by a source-native identifier.
type APIClient interface {
	ReferencesOf(ctx context.Context, id string) ([]domain.Reference, error)
	IsEnabled() bool
}

// PDFParser extracts the bibliography from PDF bytes.
type PDFParser interface {
	ParseReferences(ctx context.Context, pdf []byte) ([]domain.Reference, error)
	IsEnabled() bool
}

// Request carries everything the waterfall may draw on.
type Request struct {
	// DOI selects the CrossRef path when present.
	DOI string

	// ArXivID selects the Semantic Scholar path when no DOI is known.
	ArXivID string

	// PDF enables the parser step.
	PDF []byte

	// PageURL enables the site-extraction fallback.
	PageURL string
}

// Result carries the normalized reference list with provenance.
type Result struct {
	// References is the deduplicated normalized list.
	References []domain.Reference

	// Source names the step that produced the list.
	Source string
}

// Fetcher runs the references waterfall.
type Fetcher struct {
	crossref  APIClient
	s2        APIClient
	parser    PDFParser
	requester *requester.Requester
	logger    zerolog.Logger
}

// NewFetcher creates a references fetcher. Any dependency may be nil; the
// corresponding step is skipped.
func NewFetcher(crossref, s2 APIClient, parser PDFParser, rq *requester.Requester, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		crossref:  crossref,
		s2:        s2,
		parser:    parser,
		requester: rq,
		logger:    logger.With().Str("component", "references").Logger(),
	}
}

// Fetch walks the waterfall and returns the first non-empty normalized list.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	type step struct {
		name      string
		available bool
		run       func(ctx context.Context) ([]domain.Reference, error)
	}

	steps := []step{
		{
			name:      "crossref",
			available: f.crossref != nil && f.crossref.IsEnabled() && req.DOI != "",
			run: func(ctx context.Context) ([]domain.Reference, error) {
				return f.crossref.ReferencesOf(ctx, req.DOI)
			},
		},
		{
			name:      "semantic_scholar",
			available: f.s2 != nil && f.s2.IsEnabled() && (req.DOI != "" || req.ArXivID != ""),
			run: func(ctx context.Context) ([]domain.Reference, error) {
				id := "DOI:" + req.DOI
				if req.DOI == "" {
					id = "ARXIV:" + req.ArXivID
				}
				return f.s2.ReferencesOf(ctx, id)
			},
		},
		{
			name:      "pdf_parser",
			available: f.parser != nil && f.parser.IsEnabled() && len(req.PDF) > 0,
			run: func(ctx context.Context) ([]domain.Reference, error) {
				return f.parser.ParseReferences(ctx, req.PDF)
			},
		},
		{
			name:      "site_extract",
			available: f.requester != nil && req.PageURL != "",
			run: func(ctx context.Context) ([]domain.Reference, error) {
				return f.fromPage(ctx, req.PageURL)
			},
		},
	}

	var lastErr error
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.available {
			continue
		}

		refs, err := s.run(ctx)
		if err != nil {
			f.logger.Debug().Err(err).Str("step", s.name).Msg("references step failed")
			lastErr = err
			continue
		}
		refs = domain.DeduplicateReferences(refs)
		if len(refs) == 0 {
			continue
		}

		f.logger.Info().Str("step", s.name).Int("count", len(refs)).Msg("references resolved")
		return &Result{References: refs, Source: s.name}, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, domain.NewDomainError(domain.KindNotFound, "no references source succeeded", nil)
}

// fromPage extracts an inline bibliography from a landing page. Publisher
// pages commonly render references as list items inside a references
// container.
func (f *Fetcher) fromPage(ctx context.Context, pageURL string) ([]domain.Reference, error) {
	resp, err := f.requester.Get(ctx, requester.DestExternal, pageURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	return ExtractInlineReferences(io.LimitReader(resp.Body, 5<<20))
}

// referenceSelectors are tried in order against the page; the first selector
// with hits wins.
var referenceSelectors = []string{
	"ol.references li",
	"ul.references li",
	"div.references li",
	"section[id*=reference] li",
	"li.citation",
	"div.citation",
}

// ExtractInlineReferences pulls raw reference strings out of an HTML
// bibliography and parses what it can from each.
func ExtractInlineReferences(r io.Reader) ([]domain.Reference, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	var refs []domain.Reference
	for _, selector := range referenceSelectors {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			raw := strings.Join(strings.Fields(sel.Text()), " ")
			if len(raw) < 10 {
				return
			}
			refs = append(refs, domain.Reference{
				RawText: raw,
				Parsed:  ParseRawReference(raw),
				Source:  "site_extract",
			})
		})
		if len(refs) > 0 {
			break
		}
	}
	return domain.DeduplicateReferences(refs), nil
}

// Patterns for picking identifiers and years out of raw citation strings.
var (
	rawDOIRegex   = regexp.MustCompile(`\b(10\.\d{4,9}/[^\s,;"']+)`)
	rawArXivRegex = regexp.MustCompile(`(?i)arxiv[:\s]+(\d{4}\.\d{4,5}|[a-z-]+/\d{7})(?:v\d+)?`)
	rawYearRegex  = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	// A quoted span is usually the title in author-year styles.
	rawQuotedTitleRegex = regexp.MustCompile(`[“"]([^”"]{10,})[”"]`)
)

// ParseRawReference extracts whatever structure a raw citation string gives
// up: a DOI, an arXiv ID, a year, and a quoted title. Returns nil when
// nothing was recognized.
func ParseRawReference(raw string) *domain.ParsedReference {
	parsed := &domain.ParsedReference{}

	if m := rawDOIRegex.FindStringSubmatch(raw); m != nil {
		parsed.DOI = domain.NormalizeDOI(strings.TrimRight(m[1], "."))
	}
	if m := rawArXivRegex.FindStringSubmatch(raw); m != nil {
		parsed.ArXivID = domain.NormalizeArXivID(m[1])
	}
	if m := rawYearRegex.FindString(raw); m != "" {
		if y, err := strconv.Atoi(m); err == nil {
			parsed.Year = y
		}
	}
	if m := rawQuotedTitleRegex.FindStringSubmatch(raw); m != nil {
		parsed.Title = strings.TrimSpace(strings.TrimRight(m[1], ",."))
	}

	if parsed.DOI == "" && parsed.ArXivID == "" && parsed.Year == 0 && parsed.Title == "" {
		return nil
	}
	return parsed
}
