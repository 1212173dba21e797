// Package arxiv provides a typed client over the arXiv Atom API.
package arxiv

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/tyqqj0/paper-parser/internal/domain"
	"github.com/tyqqj0/paper-parser/internal/requester"
	"github.com/tyqqj0/paper-parser/internal/sources"
)

const (
	// DefaultBaseURL is the default arXiv API base URL.
	DefaultBaseURL = "https://export.arxiv.org/api"

	// DefaultRateLimit is the default rate limit (3 requests per second).
	DefaultRateLimit = 3.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 3

	// sourceName is the provenance label for this source.
	sourceName = "arxiv"
)

// arxivIDRegex extracts the arXiv ID from the entry URL.
// Matches "http://arxiv.org/abs/1706.03762v2" and "http://arxiv.org/abs/cs/0701001v1".
var arxivIDRegex = regexp.MustCompile(`arxiv\.org/abs/(.+?)(?:v\d+)?$`)

// Config holds configuration for the arXiv client.
type Config struct {
	// BaseURL is the arXiv API base URL.
	BaseURL string

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

// Client is an arXiv Atom API client.
type Client struct {
	config    Config
	requester *requester.Requester
	limiter   *sources.RateLimiter
}

var _ sources.MetadataClient = (*Client)(nil)

// New creates a new arXiv client.
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

// ByIdentifier retrieves a record by its arXiv ID. Both new-format
// ("1706.03762", optionally versioned) and old-format ("cs/0701001")
// identifiers are accepted.
func (c *Client) ByIdentifier(ctx context.Context, id string) (*sources.Record, error) {
	id = domain.NormalizeArXivID(id)
	if id == "" {
		return nil, domain.NewValidationError("arxiv_id", "not an arXiv identifier")
	}

	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/query"
	query := url.Values{}
	query.Set("id_list", id)
	base.RawQuery = query.Encode()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	resp, err := c.requester.Get(ctx, requester.DestExternal, base.String())
	if err != nil {
		return nil, c.mapError(id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var feed Feed
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if len(feed.Entries) == 0 {
		return nil, domain.NewNotFoundError("arxiv entry", id)
	}
	record := c.entryToRecord(&feed.Entries[0])
	if record == nil {
		return nil, domain.NewNotFoundError("arxiv entry", id)
	}
	return record, nil
}

// mapError converts requester failures into domain errors.
func (c *Client) mapError(id string, err error) error {
	var re *requester.RequestError
	if errors.As(err, &re) && re.Kind == requester.KindHTTPStatus {
		if re.StatusCode == http.StatusNotFound {
			return domain.NewNotFoundError("arxiv entry", id)
		}
		return domain.NewExternalAPIError(sourceName, re.StatusCode, "request failed", err)
	}
	return fmt.Errorf("arxiv: %w", err)
}

// entryToRecord converts an arXiv Atom entry to the normalized record schema.
func (c *Client) entryToRecord(entry *Entry) *sources.Record {
	arxivID := extractArXivID(entry.ID)
	if arxivID == "" {
		return nil
	}

	year := 0
	if entry.Published != "" {
		if t, err := time.Parse(time.RFC3339, entry.Published); err == nil {
			year = t.Year()
		}
	}

	authors := make([]domain.Author, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			continue
		}
		authors = append(authors, domain.Author{
			Name:        name,
			Affiliation: strings.TrimSpace(a.Affiliation),
		})
	}

	keywords := make([]string, 0, len(entry.Categories))
	for _, cat := range entry.Categories {
		if cat.Term != "" {
			keywords = append(keywords, cat.Term)
		}
	}

	// arXiv pads titles and abstracts with newlines and indentation.
	record := &sources.Record{
		Metadata: domain.Metadata{
			Title:    normalizeWhitespace(entry.Title),
			Authors:  authors,
			Year:     year,
			Journal:  strings.TrimSpace(entry.JournalRef),
			Abstract: normalizeWhitespace(entry.Summary),
			Keywords: keywords,
		},
		DOI:           domain.NormalizeDOI(entry.DOI),
		ArXivID:       arxivID,
		SourcePageURL: "https://arxiv.org/abs/" + arxivID,
		Provider:      sourceName,
	}

	for _, l := range entry.Links {
		if l.Title == "pdf" || l.Type == "application/pdf" {
			record.PDFURL = l.Href
			break
		}
	}
	if record.PDFURL == "" {
		record.PDFURL = "https://arxiv.org/pdf/" + arxivID
	}
	return record
}

// extractArXivID extracts the version-stripped arXiv ID from an entry URL.
func extractArXivID(entryURL string) string {
	matches := arxivIDRegex.FindStringSubmatch(entryURL)
	if len(matches) < 2 {
		return ""
	}
	return domain.StripArXivVersion(matches[1])
}

// normalizeWhitespace trims and collapses whitespace runs, including newlines.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
