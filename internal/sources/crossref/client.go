// Package crossref provides a typed client over the CrossRef REST API.
package crossref

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tyqqj0/paper-parser/internal/domain"
	"github.com/tyqqj0/paper-parser/internal/requester"
	"github.com/tyqqj0/paper-parser/internal/sources"
)

const (
	// DefaultBaseURL is the default CrossRef API base URL.
	DefaultBaseURL = "https://api.crossref.org"

	// DefaultRateLimit is the default rate limit in requests per second.
	DefaultRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 10

	// sourceName is the provenance label for this source.
	sourceName = "crossref"
)

// jatsTagRegex strips JATS markup CrossRef embeds in abstracts.
var jatsTagRegex = regexp.MustCompile(`</?jats:[^>]+>|</?[a-zA-Z][^>]*>`)

// Config holds configuration for the CrossRef client.
type Config struct {
	// BaseURL is the CrossRef API base URL.
	BaseURL string

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// Email joins the CrossRef polite pool when set (sent as mailto param).
	Email string

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

// Client is a CrossRef REST API client.
type Client struct {
	config    Config
	requester *requester.Requester
	limiter   *sources.RateLimiter
}

// Interface guards.
var (
	_ sources.MetadataClient   = (*Client)(nil)
	_ sources.ReferencesClient = (*Client)(nil)
)

// New creates a new CrossRef client.
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

// ByIdentifier fetches a work by DOI.
func (c *Client) ByIdentifier(ctx context.Context, doi string) (*sources.Record, error) {
	doi = domain.NormalizeDOI(doi)
	if doi == "" {
		return nil, domain.NewValidationError("doi", "not a DOI")
	}

	var payload workResponse
	if err := c.get(ctx, "/works/"+url.PathEscape(doi), &payload); err != nil {
		return nil, c.mapError(doi, err)
	}

	record := c.workToRecord(&payload.Message)
	if record.Metadata.Title == "" {
		return nil, domain.NewNotFoundError("work", doi)
	}
	return record, nil
}

// ReferencesOf fetches the normalized reference list of a work by DOI.
func (c *Client) ReferencesOf(ctx context.Context, doi string) ([]domain.Reference, error) {
	doi = domain.NormalizeDOI(doi)
	if doi == "" {
		return nil, domain.NewValidationError("doi", "not a DOI")
	}

	var payload workResponse
	if err := c.get(ctx, "/works/"+url.PathEscape(doi), &payload); err != nil {
		return nil, c.mapError(doi, err)
	}

	refs := make([]domain.Reference, 0, len(payload.Message.Reference))
	for i := range payload.Message.Reference {
		refs = append(refs, referenceToDomain(&payload.Message.Reference[i]))
	}
	return domain.DeduplicateReferences(refs), nil
}

// Search queries works by bibliographic fields. Year narrows the query when
// positive; author is optional.
func (c *Client) Search(ctx context.Context, title, author string, year int) ([]*sources.Record, error) {
	if strings.TrimSpace(title) == "" {
		return nil, domain.NewValidationError("title", "required")
	}

	query := url.Values{}
	query.Set("query.bibliographic", title)
	if author != "" {
		query.Set("query.author", author)
	}
	if year > 0 {
		from := time.Date(year-1, 1, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(year+1, 12, 31, 0, 0, 0, 0, time.UTC)
		query.Set("filter", fmt.Sprintf("from-pub-date:%s,until-pub-date:%s",
			from.Format("2006-01-02"), to.Format("2006-01-02")))
	}
	query.Set("rows", "5")

	var payload searchResponse
	if err := c.get(ctx, "/works?"+query.Encode(), &payload); err != nil {
		return nil, c.mapError(title, err)
	}

	records := make([]*sources.Record, 0, len(payload.Message.Items))
	for i := range payload.Message.Items {
		records = append(records, c.workToRecord(&payload.Message.Items[i]))
	}
	return records, nil
}

// get performs a rate-limited GET against the API.
func (c *Client) get(ctx context.Context, path string, v any) error {
	full := strings.TrimRight(c.config.BaseURL, "/") + path
	if c.config.Email != "" {
		sep := "?"
		if strings.Contains(full, "?") {
			sep = "&"
		}
		full += sep + "mailto=" + url.QueryEscape(c.config.Email)
	}
	return sources.GetJSON(ctx, c.requester, requester.DestExternal, c.limiter, full, nil, v)
}

// mapError converts requester failures into domain errors.
func (c *Client) mapError(id string, err error) error {
	var re *requester.RequestError
	if errors.As(err, &re) && re.Kind == requester.KindHTTPStatus {
		if re.StatusCode == http.StatusNotFound {
			return domain.NewNotFoundError("work", id)
		}
		return domain.NewExternalAPIError(sourceName, re.StatusCode, "request failed", err)
	}
	return fmt.Errorf("crossref: %w", err)
}

// workToRecord maps a CrossRef work to the normalized record schema.
func (c *Client) workToRecord(w *work) *sources.Record {
	authors := make([]domain.Author, 0, len(w.Author))
	for _, a := range w.Author {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			name = strings.TrimSpace(strings.TrimSpace(a.Given) + " " + strings.TrimSpace(a.Family))
		}
		if name == "" {
			continue
		}
		da := domain.Author{Name: name, Sequence: a.Sequence}
		if len(a.Affiliation) > 0 {
			da.Affiliation = a.Affiliation[0].Name
		}
		authors = append(authors, da)
	}

	record := &sources.Record{
		Metadata: domain.Metadata{
			Title:    firstOrEmpty(w.Title),
			Authors:  authors,
			Year:     w.Issued.Year(),
			Journal:  firstOrEmpty(w.ContainerTitle),
			Abstract: cleanAbstract(w.Abstract),
			Keywords: w.Subject,
		},
		DOI:           domain.NormalizeDOI(w.DOI),
		SourcePageURL: w.URL,
		Provider:      sourceName,
	}
	for _, l := range w.Link {
		if strings.EqualFold(l.ContentType, "application/pdf") {
			record.PDFURL = l.URL
			break
		}
	}
	return record
}

// referenceToDomain maps one CrossRef reference entry to the normalized form.
func referenceToDomain(r *reference) domain.Reference {
	raw := r.Unstructured
	if raw == "" {
		parts := make([]string, 0, 4)
		for _, p := range []string{r.Author, r.Year, r.ArticleTitle, r.JournalTitle} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		raw = strings.Join(parts, ". ")
	}

	parsed := &domain.ParsedReference{
		Title: firstNonEmpty(r.ArticleTitle, r.VolumeTitle),
		DOI:   domain.NormalizeDOI(r.DOI),
	}
	if r.Author != "" {
		parsed.Authors = []domain.Author{{Name: r.Author}}
	}
	if y, err := strconv.Atoi(strings.TrimSpace(r.Year)); err == nil {
		parsed.Year = y
	}
	if parsed.Title == "" && parsed.DOI == "" && parsed.Year == 0 && len(parsed.Authors) == 0 {
		parsed = nil
	}

	return domain.Reference{RawText: raw, Parsed: parsed, Source: sourceName}
}

// cleanAbstract strips JATS/XML markup from a CrossRef abstract.
func cleanAbstract(abstract string) string {
	if abstract == "" {
		return ""
	}
	cleaned := jatsTagRegex.ReplaceAllString(abstract, " ")
	return strings.Join(strings.Fields(cleaned), " ")
}

func firstOrEmpty(s []string) string {
	if len(s) > 0 {
		return strings.TrimSpace(s[0])
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
