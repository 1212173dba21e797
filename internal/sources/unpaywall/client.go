// Package unpaywall provides an open-access location lookup by DOI.
package unpaywall

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
	// DefaultBaseURL is the default Unpaywall API base URL.
	DefaultBaseURL = "https://api.unpaywall.org/v2"

	// DefaultRateLimit is the default rate limit in requests per second.
	DefaultRateLimit = 5.0

	// sourceName is the provenance label for this source.
	sourceName = "unpaywall"
)

// Config holds configuration for the Unpaywall client.
type Config struct {
	// BaseURL is the API base URL.
	BaseURL string

	// Email is the contact address Unpaywall requires on every request.
	Email string

	// RateLimit is the maximum requests per second.
	RateLimit float64

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
	if c.Email == "" {
		c.Email = "paper-parser@example.org"
	}
}

// oaResponse is the subset of the Unpaywall work payload we consume.
type oaResponse struct {
	DOI          string       `json:"doi"`
	IsOA         bool         `json:"is_oa"`
	BestLocation *oaLocation  `json:"best_oa_location"`
	Locations    []oaLocation `json:"oa_locations"`
}

type oaLocation struct {
	URLForPDF string `json:"url_for_pdf"`
	URL       string `json:"url"`
}

// Client is an Unpaywall API client.
type Client struct {
	config    Config
	requester *requester.Requester
	limiter   *sources.RateLimiter
}

// New creates a new Unpaywall client.
func New(cfg Config, rq *requester.Requester) *Client {
	cfg.applyDefaults()
	return &Client{
		config:    cfg,
		requester: rq,
		limiter:   sources.NewRateLimiter(cfg.RateLimit, 5),
	}
}

// Name returns the provenance label for this source.
func (c *Client) Name() string { return sourceName }

// IsEnabled reports whether this source is enabled.
func (c *Client) IsEnabled() bool { return c.config.Enabled }

// BestPDFURL returns the best open-access PDF URL for a DOI, or
// domain.ErrNotFound when the work has no OA location.
func (c *Client) BestPDFURL(ctx context.Context, doi string) (string, error) {
	doi = domain.NormalizeDOI(doi)
	if doi == "" {
		return "", domain.NewValidationError("doi", "not a DOI")
	}

	full := strings.TrimRight(c.config.BaseURL, "/") + "/" + url.PathEscape(doi) +
		"?email=" + url.QueryEscape(c.config.Email)

	var payload oaResponse
	if err := sources.GetJSON(ctx, c.requester, requester.DestExternal, c.limiter, full, nil, &payload); err != nil {
		var re *requester.RequestError
		if errors.As(err, &re) && re.Kind == requester.KindHTTPStatus && re.StatusCode == http.StatusNotFound {
			return "", domain.NewNotFoundError("oa location", doi)
		}
		return "", fmt.Errorf("unpaywall: %w", err)
	}

	if !payload.IsOA {
		return "", domain.NewNotFoundError("oa location", doi)
	}
	if payload.BestLocation != nil && payload.BestLocation.URLForPDF != "" {
		return payload.BestLocation.URLForPDF, nil
	}
	for _, loc := range payload.Locations {
		if loc.URLForPDF != "" {
			return loc.URLForPDF, nil
		}
	}
	return "", domain.NewNotFoundError("oa location", doi)
}
