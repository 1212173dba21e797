package urlmapping

import (
	"context"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tyqqj0/paper-parser/internal/requester"
)

// Strategy is one way to extract identifiers from a URL. Strategies are
// value-typed entries selected by data (priority, confidence), not by class
// hierarchy; the four kinds below all satisfy this interface.
type Strategy interface {
	// Name identifies the strategy in mapping provenance.
	Name() string

	// Priority orders strategies within an adapter; lower runs first.
	Priority() int

	// Run attempts extraction. A nil mapping with nil error means the
	// strategy found nothing; errors are treated the same way by the driver
	// but are logged.
	Run(ctx context.Context, url string) (*Mapping, error)
}

// PatternSpec is one named regular expression of a RegexStrategy.
type PatternSpec struct {
	// Name labels the pattern for the post-processor.
	Name string

	// Regexp is the compiled pattern. The first capture group is the
	// extracted fragment.
	Regexp *regexp.Regexp
}

// PostProcessor turns a pattern match into mapping fields. It must be a pure
// function of its inputs.
type PostProcessor func(patternName string, match []string, url string, m *Mapping)

// RegexStrategy extracts identifiers with per-platform URL patterns and a
// pure post-processor.
type RegexStrategy struct {
	// StrategyName labels the strategy.
	StrategyName string

	// StrategyPriority orders the strategy within its adapter.
	StrategyPriority int

	// Patterns are tried in order; the first match wins.
	Patterns []PatternSpec

	// Process converts the winning match into mapping fields.
	Process PostProcessor

	// BaseConfidence is the confidence assigned when Process does not set one.
	BaseConfidence float64
}

// Name implements Strategy.
func (s *RegexStrategy) Name() string { return s.StrategyName }

// Priority implements Strategy.
func (s *RegexStrategy) Priority() int { return s.StrategyPriority }

// Run implements Strategy.
func (s *RegexStrategy) Run(_ context.Context, url string) (*Mapping, error) {
	for _, spec := range s.Patterns {
		match := spec.Regexp.FindStringSubmatch(url)
		if match == nil {
			continue
		}
		m := &Mapping{Confidence: s.BaseConfidence}
		if s.Process != nil {
			s.Process(spec.Name, match, url, m)
		}
		m.normalize()
		if !m.HasUsefulInfo() {
			return nil, nil
		}
		return m, nil
	}
	return nil, nil
}

// APIStrategy extracts identifiers by calling an external API with fragments
// pulled from the URL.
type APIStrategy struct {
	// StrategyName labels the strategy.
	StrategyName string

	// StrategyPriority orders the strategy within its adapter.
	StrategyPriority int

	// Call performs the lookup.
	Call func(ctx context.Context, url string) (*Mapping, error)
}

// Name implements Strategy.
func (s *APIStrategy) Name() string { return s.StrategyName }

// Priority implements Strategy.
func (s *APIStrategy) Priority() int { return s.StrategyPriority }

// Run implements Strategy.
func (s *APIStrategy) Run(ctx context.Context, url string) (*Mapping, error) {
	m, err := s.Call(ctx, url)
	if err != nil || m == nil {
		return nil, err
	}
	m.normalize()
	if !m.HasUsefulInfo() {
		return nil, nil
	}
	return m, nil
}

// DBStrategy queries a generic third-party resolver (for example Semantic
// Scholar by URL) as a last resort. It behaves like an APIStrategy but is
// kept distinct so adapters can rank the two kinds differently.
type DBStrategy struct {
	// StrategyName labels the strategy.
	StrategyName string

	// StrategyPriority orders the strategy within its adapter.
	StrategyPriority int

	// Lookup performs the resolver query.
	Lookup func(ctx context.Context, url string) (*Mapping, error)
}

// Name implements Strategy.
func (s *DBStrategy) Name() string { return s.StrategyName }

// Priority implements Strategy.
func (s *DBStrategy) Priority() int { return s.StrategyPriority }

// Run implements Strategy.
func (s *DBStrategy) Run(ctx context.Context, url string) (*Mapping, error) {
	m, err := s.Lookup(ctx, url)
	if err != nil || m == nil {
		return nil, err
	}
	m.normalize()
	if !m.HasUsefulInfo() {
		return nil, nil
	}
	return m, nil
}

// ScrapingStrategy fetches the landing page and extracts citation metadata
// from <meta> tags (citation_doi, citation_pdf_url, citation_arxiv_id,
// OpenGraph url).
type ScrapingStrategy struct {
	// StrategyName labels the strategy.
	StrategyName string

	// StrategyPriority orders the strategy within its adapter.
	StrategyPriority int

	// Requester issues the page fetch under the external policy.
	Requester *requester.Requester

	// Confidence assigned to scraped mappings.
	Confidence float64
}

// Name implements Strategy.
func (s *ScrapingStrategy) Name() string { return s.StrategyName }

// Priority implements Strategy.
func (s *ScrapingStrategy) Priority() int { return s.StrategyPriority }

// Run implements Strategy.
func (s *ScrapingStrategy) Run(ctx context.Context, url string) (*Mapping, error) {
	resp, err := s.Requester.Get(ctx, requester.DestExternal, url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	m, err := ExtractPageMeta(io.LimitReader(resp.Body, 5<<20))
	if err != nil || m == nil {
		return nil, err
	}
	m.Confidence = s.Confidence
	if m.SourcePageURL == "" {
		m.SourcePageURL = url
	}
	m.normalize()
	if !m.HasUsefulInfo() {
		return nil, nil
	}
	return m, nil
}

// ExtractPageMeta pulls citation_* and OpenGraph meta tags out of an HTML
// document.
func ExtractPageMeta(r io.Reader) (*Mapping, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	m := &Mapping{}
	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		if name == "" {
			name, _ = sel.Attr("property")
		}
		content, _ := sel.Attr("content")
		if content = strings.TrimSpace(content); content == "" {
			return
		}
		switch strings.ToLower(name) {
		case "citation_doi", "dc.identifier.doi", "prism.doi":
			if m.DOI == "" {
				m.DOI = content
			}
		case "citation_pdf_url":
			if m.PDFURL == "" {
				m.PDFURL = content
			}
		case "citation_arxiv_id":
			if m.ArXivID == "" {
				m.ArXivID = content
			}
		case "citation_pmid":
			if m.PMID == "" {
				m.PMID = content
			}
		case "citation_conference_title", "citation_journal_title":
			if m.Venue == "" {
				m.Venue = content
			}
		case "og:url":
			if m.SourcePageURL == "" {
				m.SourcePageURL = content
			}
		}
	})

	if !m.HasUsefulInfo() && m.Venue == "" {
		return nil, nil
	}
	return m, nil
}
