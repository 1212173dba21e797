package urlmapping

import (
	"context"
	"regexp"
	"strconv"

	"github.com/tyqqj0/paper-parser/internal/requester"
	"github.com/tyqqj0/paper-parser/internal/sources"
)

// Resolver resolves a URL through a third-party database (Semantic Scholar).
type Resolver interface {
	ByURL(ctx context.Context, url string) (*sources.Record, error)
}

// Compiled URL patterns per platform.
var (
	arxivNewRegex = regexp.MustCompile(`(?i)arxiv\.org/(?:abs|pdf|html)/(\d{4}\.\d{4,5})(?:v\d+)?(?:\.pdf)?`)
	arxivOldRegex = regexp.MustCompile(`(?i)arxiv\.org/(?:abs|pdf|html)/([a-z-]+(?:\.[A-Z]{2})?/\d{7})(?:v\d+)?(?:\.pdf)?`)

	ieeeDocRegex = regexp.MustCompile(`(?i)ieeexplore\.ieee\.org/(?:abstract/)?document/(\d+)`)

	natureArticleRegex = regexp.MustCompile(`(?i)nature\.com/articles/([a-zA-Z0-9.-]+)`)

	acmDOIRegex = regexp.MustCompile(`(?i)dl\.acm\.org/doi(?:/abs|/pdf|/full)?/(10\.\d{4,9}/[^\s?#]+)`)

	cvfPaperRegex = regexp.MustCompile(`(?i)openaccess\.thecvf\.com/content[^/]*/(?:papers|html)/([^\s?#]+?)(?:\.pdf|\.html)?$`)
	cvfVenueRegex = regexp.MustCompile(`(?i)openaccess\.thecvf\.com/content_?([A-Za-z]+)_?(\d{4})?`)

	neuripsRegex = regexp.MustCompile(`(?i)(?:papers|proceedings)\.(?:nips|neurips)\.cc/paper(?:_files)?/(\d{4})?`)

	// Embedded DOIs show up in publisher paths and PDF URLs alike. The
	// trailing cleanup strips common file suffixes.
	embeddedDOIRegex = regexp.MustCompile(`(10\.\d{4,9}/[^\s?#"']+?)(?:\.pdf|\.html)?(?:[?#].*)?$`)
	doiOrgRegex      = regexp.MustCompile(`(?i)(?:dx\.)?doi\.org/(10\.\d{4,9}/[^\s?#]+)`)

	pubmedRegex = regexp.MustCompile(`(?i)pubmed\.ncbi\.nlm\.nih\.gov/(\d+)`)
)

// NewDefaultRegistry builds the adapter registry in priority order, ending
// with the generic always-true adapter.
func NewDefaultRegistry(rq *requester.Requester, resolver Resolver) []*Adapter {
	return []*Adapter{
		newArXivAdapter(),
		newPubMedAdapter(),
		newIEEEAdapter(rq),
		newNatureAdapter(rq),
		newACMAdapter(),
		newCVFAdapter(rq),
		newNeurIPSAdapter(rq),
		newGenericAdapter(rq, resolver),
	}
}

// newArXivAdapter handles arxiv.org URLs. Regex extraction alone carries the
// full confidence: arXiv URLs encode the identifier directly.
func newArXivAdapter() *Adapter {
	return &Adapter{
		Name:    "arxiv",
		Domains: []string{"arxiv.org"},
		Strategies: []Strategy{
			&RegexStrategy{
				StrategyName:     "arxiv_regex",
				StrategyPriority: 1,
				Patterns: []PatternSpec{
					{Name: "new_format", Regexp: arxivNewRegex},
					{Name: "old_format", Regexp: arxivOldRegex},
				},
				BaseConfidence: 0.95,
				Process:        processArXivMatch,
			},
		},
	}
}

// processArXivMatch derives canonical page and PDF URLs, and infers the year
// for new-format identifiers.
func processArXivMatch(patternName string, match []string, _ string, m *Mapping) {
	id := match[1]
	m.ArXivID = id
	m.SourcePageURL = "https://arxiv.org/abs/" + id
	m.PDFURL = "https://arxiv.org/pdf/" + id

	if patternName == "new_format" && len(id) >= 2 {
		if yy, err := strconv.Atoi(id[:2]); err == nil {
			m.Year = 2000 + yy
		}
	}
}

func newPubMedAdapter() *Adapter {
	return &Adapter{
		Name:    "pubmed",
		Domains: []string{"pubmed.ncbi.nlm.nih.gov"},
		Strategies: []Strategy{
			&RegexStrategy{
				StrategyName:     "pubmed_regex",
				StrategyPriority: 1,
				Patterns:         []PatternSpec{{Name: "pmid", Regexp: pubmedRegex}},
				BaseConfidence:   0.95,
				Process: func(_ string, match []string, url string, m *Mapping) {
					m.PMID = match[1]
					m.SourcePageURL = url
				},
			},
		},
	}
}

func newIEEEAdapter(rq *requester.Requester) *Adapter {
	return &Adapter{
		Name:    "ieee",
		Domains: []string{"ieeexplore.ieee.org"},
		Strategies: []Strategy{
			&RegexStrategy{
				StrategyName:     "ieee_document",
				StrategyPriority: 1,
				Patterns:         []PatternSpec{{Name: "document", Regexp: ieeeDocRegex}},
				// A document number alone is not an identifier; keep the page
				// URL and let scraping find the DOI.
				BaseConfidence: 0.3,
				Process: func(_ string, match []string, _ string, m *Mapping) {
					m.SourcePageURL = "https://ieeexplore.ieee.org/document/" + match[1]
				},
			},
			&ScrapingStrategy{
				StrategyName:     "ieee_scrape",
				StrategyPriority: 2,
				Requester:        rq,
				Confidence:       0.8,
			},
		},
	}
}

func newNatureAdapter(rq *requester.Requester) *Adapter {
	return &Adapter{
		Name:    "nature",
		Domains: []string{"nature.com"},
		Strategies: []Strategy{
			&RegexStrategy{
				StrategyName:     "nature_article",
				StrategyPriority: 1,
				Patterns:         []PatternSpec{{Name: "article", Regexp: natureArticleRegex}},
				BaseConfidence:   0.9,
				Process: func(_ string, match []string, url string, m *Mapping) {
					// Nature article slugs are DOI suffixes under the 10.1038 prefix.
					m.DOI = "10.1038/" + match[1]
					m.SourcePageURL = url
				},
			},
			&ScrapingStrategy{
				StrategyName:     "nature_scrape",
				StrategyPriority: 2,
				Requester:        rq,
				Confidence:       0.8,
			},
		},
	}
}

func newACMAdapter() *Adapter {
	return &Adapter{
		Name:    "acm",
		Domains: []string{"dl.acm.org"},
		Strategies: []Strategy{
			&RegexStrategy{
				StrategyName:     "acm_doi",
				StrategyPriority: 1,
				Patterns:         []PatternSpec{{Name: "doi", Regexp: acmDOIRegex}},
				BaseConfidence:   0.95,
				Process: func(_ string, match []string, url string, m *Mapping) {
					m.DOI = match[1]
					m.SourcePageURL = url
				},
			},
		},
	}
}

func newCVFAdapter(rq *requester.Requester) *Adapter {
	return &Adapter{
		Name:    "cvf",
		Domains: []string{"openaccess.thecvf.com"},
		Strategies: []Strategy{
			&RegexStrategy{
				StrategyName:     "cvf_paper",
				StrategyPriority: 1,
				Patterns:         []PatternSpec{{Name: "paper", Regexp: cvfPaperRegex}},
				BaseConfidence:   0.4,
				Process:          processCVFMatch,
			},
			&ScrapingStrategy{
				StrategyName:     "cvf_scrape",
				StrategyPriority: 2,
				Requester:        rq,
				Confidence:       0.7,
			},
		},
	}
}

// processCVFMatch records the page URL, and the venue and year when the URL
// path names them, for CVF open access pages. No PDF link is derived here.
// CVF pages carry no DOI, so confidence stays low and the scrape strategy
// supplies the rest.
func processCVFMatch(_ string, _ []string, url string, m *Mapping) {
	m.SourcePageURL = url
	if venueMatch := cvfVenueRegex.FindStringSubmatch(url); venueMatch != nil {
		m.Venue = venueMatch[1]
		if venueMatch[2] != "" {
			if y, err := strconv.Atoi(venueMatch[2]); err == nil {
				m.Year = y
			}
		}
	}
}

func newNeurIPSAdapter(rq *requester.Requester) *Adapter {
	return &Adapter{
		Name:    "neurips",
		Domains: []string{"papers.nips.cc", "papers.neurips.cc", "proceedings.neurips.cc"},
		Strategies: []Strategy{
			&RegexStrategy{
				StrategyName:     "neurips_venue",
				StrategyPriority: 1,
				Patterns:         []PatternSpec{{Name: "proceedings", Regexp: neuripsRegex}},
				BaseConfidence:   0.3,
				Process: func(_ string, match []string, url string, m *Mapping) {
					m.Venue = "NeurIPS"
					m.SourcePageURL = url
					if match[1] != "" {
						if y, err := strconv.Atoi(match[1]); err == nil {
							m.Year = y
						}
					}
				},
			},
			&ScrapingStrategy{
				StrategyName:     "neurips_scrape",
				StrategyPriority: 2,
				Requester:        rq,
				Confidence:       0.7,
			},
		},
	}
}

// newGenericAdapter is the last-resort adapter: it accepts every URL and
// tries doi.org links, embedded DOIs, page scraping, and the third-party
// resolver in that order. PDF URLs that embed a DOI in their path are parsed
// here even when no platform adapter recognized the host.
func newGenericAdapter(rq *requester.Requester, resolver Resolver) *Adapter {
	strategies := []Strategy{
		&RegexStrategy{
			StrategyName:     "generic_doi_org",
			StrategyPriority: 1,
			Patterns:         []PatternSpec{{Name: "doi_org", Regexp: doiOrgRegex}},
			BaseConfidence:   0.95,
			Process: func(_ string, match []string, _ string, m *Mapping) {
				m.DOI = match[1]
			},
		},
		&RegexStrategy{
			StrategyName:     "generic_embedded_doi",
			StrategyPriority: 2,
			Patterns:         []PatternSpec{{Name: "embedded", Regexp: embeddedDOIRegex}},
			BaseConfidence:   0.7,
			Process: func(_ string, match []string, url string, m *Mapping) {
				m.DOI = match[1]
				m.SourcePageURL = url
			},
		},
		&ScrapingStrategy{
			StrategyName:     "generic_scrape",
			StrategyPriority: 3,
			Requester:        rq,
			Confidence:       0.65,
		},
	}

	if resolver != nil {
		strategies = append(strategies, &DBStrategy{
			StrategyName:     "generic_resolver",
			StrategyPriority: 4,
			Lookup: func(ctx context.Context, url string) (*Mapping, error) {
				record, err := resolver.ByURL(ctx, url)
				if err != nil || record == nil {
					return nil, err
				}
				return &Mapping{
					DOI:           record.DOI,
					ArXivID:       record.ArXivID,
					PMID:          record.PMID,
					SourcePageURL: record.SourcePageURL,
					PDFURL:        record.PDFURL,
					Confidence:    0.6,
				}, nil
			},
		})
	}

	return &Adapter{
		Name:       "generic",
		Domains:    nil, // always-true
		Strategies: strategies,
	}
}
