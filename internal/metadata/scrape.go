package metadata

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tyqqj0/paper-parser/internal/domain"
	"github.com/tyqqj0/paper-parser/internal/requester"
	"github.com/tyqqj0/paper-parser/internal/sources"
)

// PageMetadata is the bibliographic subset extractable from Highwire
// (citation_*) and OpenGraph meta tags on a landing page.
type PageMetadata struct {
	Title    string
	Authors  []string
	Year     int
	Journal  string
	Abstract string
	DOI      string
	ArXivID  string
	PDFURL   string
	PageURL  string
}

// toRecord converts scraped page metadata to the normalized record schema.
func (p *PageMetadata) toRecord() *sources.Record {
	if p == nil || p.Title == "" {
		return nil
	}
	authors := make([]domain.Author, 0, len(p.Authors))
	for _, name := range p.Authors {
		if name = strings.TrimSpace(name); name != "" {
			authors = append(authors, domain.Author{Name: name})
		}
	}
	return &sources.Record{
		Metadata: domain.Metadata{
			Title:    p.Title,
			Authors:  authors,
			Year:     p.Year,
			Journal:  p.Journal,
			Abstract: p.Abstract,
		},
		DOI:           domain.NormalizeDOI(p.DOI),
		ArXivID:       domain.NormalizeArXivID(p.ArXivID),
		PDFURL:        p.PDFURL,
		SourcePageURL: p.PageURL,
		Provider:      "site_scrape",
	}
}

// Scraper fetches landing pages through the requester and extracts meta tags.
type Scraper struct {
	requester *requester.Requester
}

// NewScraper creates a page scraper.
func NewScraper(rq *requester.Requester) *Scraper {
	return &Scraper{requester: rq}
}

var _ PageScraper = (*Scraper)(nil)

// ScrapePage fetches a landing page and extracts bibliographic meta tags.
func (s *Scraper) ScrapePage(ctx context.Context, url string) (*PageMetadata, error) {
	resp, err := s.requester.Get(ctx, requester.DestExternal, url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	page, err := ParsePageMetadata(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, err
	}
	if page != nil && page.PageURL == "" {
		page.PageURL = url
	}
	return page, nil
}

// ParsePageMetadata extracts bibliographic meta tags from an HTML document.
// Returns nil when the page exposes no usable title.
func ParsePageMetadata(r io.Reader) (*PageMetadata, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	page := &PageMetadata{}
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
		case "citation_title":
			page.Title = content
		case "og:title":
			if page.Title == "" {
				page.Title = content
			}
		case "citation_author":
			page.Authors = append(page.Authors, content)
		case "citation_publication_date", "citation_date", "citation_online_date":
			if page.Year == 0 {
				page.Year = yearFromDate(content)
			}
		case "citation_journal_title", "citation_conference_title":
			if page.Journal == "" {
				page.Journal = content
			}
		case "citation_abstract", "og:description", "description":
			if page.Abstract == "" {
				page.Abstract = content
			}
		case "citation_doi", "dc.identifier.doi", "prism.doi":
			if page.DOI == "" {
				page.DOI = content
			}
		case "citation_arxiv_id":
			if page.ArXivID == "" {
				page.ArXivID = content
			}
		case "citation_pdf_url":
			if page.PDFURL == "" {
				page.PDFURL = content
			}
		case "og:url":
			if page.PageURL == "" {
				page.PageURL = content
			}
		}
	})

	if page.Title == "" {
		// <title> is a last resort; publisher pages decorate it heavily.
		if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
			page.Title = t
		}
	}
	if page.Title == "" {
		return nil, nil
	}
	return page, nil
}

// yearFromDate pulls the leading 4-digit year out of a citation date string
// like "2017/06/12" or "2017-06-12".
func yearFromDate(s string) int {
	s = strings.TrimSpace(s)
	if len(s) < 4 {
		return 0
	}
	if y, err := strconv.Atoi(s[:4]); err == nil && y >= 1000 {
		return y
	}
	return 0
}
