// Package semanticscholar provides a typed client over the Semantic Scholar
// Graph API.
package semanticscholar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tyqqj0/paper-parser/internal/domain"
	"github.com/tyqqj0/paper-parser/internal/requester"
	"github.com/tyqqj0/paper-parser/internal/sources"
)

const (
	// DefaultBaseURL is the default Semantic Scholar Graph API base URL.
	DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultRateLimit is the default rate limit in requests per second.
	DefaultRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 10

	// sourceName is the provenance label for this source.
	sourceName = "semantic_scholar"

	// paperFields is the field selection requested for paper lookups.
	paperFields = "title,abstract,authors,year,venue,externalIds,openAccessPdf,url"
)

// Config holds configuration for the Semantic Scholar client.
type Config struct {
	// BaseURL is the API base URL.
	BaseURL string

	// APIKey raises rate limits when set (sent as x-api-key).
	APIKey string

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// Enabled indicates whether this source is enabled.
	Enabled bool
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
}

// Client is a Semantic Scholar Graph API client.
type Client struct {
	config    Config
	requester *requester.Requester
	limiter   *sources.RateLimiter
}

var (
	_ sources.MetadataClient   = (*Client)(nil)
	_ sources.ReferencesClient = (*Client)(nil)
)

// New creates a new Semantic Scholar client.
func New(cfg Config, rq *requester.Requester) *Client {
	cfg.applyDefaults()
	return &Client{
		config:    cfg,
		requester: rq,
		limiter:   sources.NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
	}
}

// Name returns the provenance label for this source.
func (c *Client) Name() string { return sourceName }

// IsEnabled reports whether this source is enabled.
func (c *Client) IsEnabled() bool { return c.config.Enabled }

// ByIdentifier fetches a paper by any identifier the Graph API accepts:
// a DOI, "arXiv:<id>", "PMID:<id>", "URL:<url>", or a native paper ID.
func (c *Client) ByIdentifier(ctx context.Context, id string) (*sources.Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.NewValidationError("id", "required")
	}

	var p paper
	path := "/paper/" + url.PathEscape(id) + "?fields=" + paperFields
	if err := c.get(ctx, path, &p); err != nil {
		return nil, c.mapError(id, err)
	}
	if p.Title == "" {
		return nil, domain.NewNotFoundError("paper", id)
	}
	return paperToRecord(&p), nil
}

// ByDOI fetches a paper by DOI.
func (c *Client) ByDOI(ctx context.Context, doi string) (*sources.Record, error) {
	doi = domain.NormalizeDOI(doi)
	if doi == "" {
		return nil, domain.NewValidationError("doi", "not a DOI")
	}
	return c.ByIdentifier(ctx, "DOI:"+doi)
}

// ByArXiv fetches a paper by arXiv ID.
func (c *Client) ByArXiv(ctx context.Context, id string) (*sources.Record, error) {
	id = domain.NormalizeArXivID(id)
	if id == "" {
		return nil, domain.NewValidationError("arxiv_id", "not an arXiv identifier")
	}
	return c.ByIdentifier(ctx, "ARXIV:"+id)
}

// ByURL resolves a publisher or landing-page URL to a paper. Used as the
// third-party-database strategy of URL mapping.
func (c *Client) ByURL(ctx context.Context, pageURL string) (*sources.Record, error) {
	pageURL = strings.TrimSpace(pageURL)
	if pageURL == "" {
		return nil, domain.NewValidationError("url", "required")
	}
	return c.ByIdentifier(ctx, "URL:"+pageURL)
}

// ReferencesOf fetches the reference list of a paper by identifier.
func (c *Client) ReferencesOf(ctx context.Context, id string) ([]domain.Reference, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.NewValidationError("id", "required")
	}

	var payload referencesResponse
	path := "/paper/" + url.PathEscape(id) + "/references?fields=" + paperFields + "&limit=500"
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, c.mapError(id, err)
	}

	refs := make([]domain.Reference, 0, len(payload.Data))
	for i := range payload.Data {
		cited := &payload.Data[i].CitedPaper
		if cited.Title == "" {
			continue
		}
		refs = append(refs, citedToReference(cited))
	}
	return domain.DeduplicateReferences(refs), nil
}

// Search queries papers by title text.
func (c *Client) Search(ctx context.Context, title string) ([]*sources.Record, error) {
	if strings.TrimSpace(title) == "" {
		return nil, domain.NewValidationError("title", "required")
	}

	query := url.Values{}
	query.Set("query", title)
	query.Set("fields", paperFields)
	query.Set("limit", "5")

	var payload searchResponse
	if err := c.get(ctx, "/paper/search?"+query.Encode(), &payload); err != nil {
		return nil, c.mapError(title, err)
	}

	records := make([]*sources.Record, 0, len(payload.Data))
	for i := range payload.Data {
		records = append(records, paperToRecord(&payload.Data[i]))
	}
	return records, nil
}

// get performs a rate-limited GET against the API.
func (c *Client) get(ctx context.Context, path string, v any) error {
	header := http.Header{}
	if c.config.APIKey != "" {
		header.Set("x-api-key", c.config.APIKey)
	}
	full := strings.TrimRight(c.config.BaseURL, "/") + path
	return sources.GetJSON(ctx, c.requester, requester.DestExternal, c.limiter, full, header, v)
}

// mapError converts requester failures into domain errors.
func (c *Client) mapError(id string, err error) error {
	var re *requester.RequestError
	if errors.As(err, &re) && re.Kind == requester.KindHTTPStatus {
		if re.StatusCode == http.StatusNotFound {
			return domain.NewNotFoundError("paper", id)
		}
		return domain.NewExternalAPIError(sourceName, re.StatusCode, "request failed", err)
	}
	return fmt.Errorf("semantic scholar: %w", err)
}

// paperToRecord maps an API paper to the normalized record schema.
func paperToRecord(p *paper) *sources.Record {
	authors := make([]domain.Author, 0, len(p.Authors))
	for _, a := range p.Authors {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			continue
		}
		authors = append(authors, domain.Author{Name: name})
	}

	record := &sources.Record{
		Metadata: domain.Metadata{
			Title:    strings.TrimSpace(p.Title),
			Authors:  authors,
			Year:     p.Year,
			Journal:  p.Venue,
			Abstract: strings.TrimSpace(p.Abstract),
		},
		DOI:           domain.NormalizeDOI(p.ExternalIDs.DOI),
		ArXivID:       domain.NormalizeArXivID(p.ExternalIDs.ArXiv),
		PMID:          p.ExternalIDs.PubMed,
		SourcePageURL: p.URL,
		Provider:      sourceName,
	}
	if p.OpenAccess != nil {
		record.PDFURL = p.OpenAccess.URL
	}
	return record
}

// citedToReference maps a cited paper to the normalized reference form.
func citedToReference(p *paper) domain.Reference {
	authors := make([]domain.Author, 0, len(p.Authors))
	for _, a := range p.Authors {
		if a.Name != "" {
			authors = append(authors, domain.Author{Name: a.Name})
		}
	}
	return domain.Reference{
		RawText: p.Title,
		Parsed: &domain.ParsedReference{
			Title:   strings.TrimSpace(p.Title),
			Authors: authors,
			Year:    p.Year,
			DOI:     domain.NormalizeDOI(p.ExternalIDs.DOI),
			ArXivID: domain.NormalizeArXivID(p.ExternalIDs.ArXiv),
		},
		Source: sourceName,
	}
}
