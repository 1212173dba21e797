// Package sources provides typed clients over the external services the
// ingestion pipeline consumes: CrossRef, arXiv, Semantic Scholar, an
// Unpaywall-style open-access lookup, and the GROBID TEI PDF parser.
//
// Each client wraps one API with a small surface and maps provider payloads
// to the shared normalized schema: authors as an ordered list, trimmed title,
// year as int, identifiers explicit. Clients are idempotent and stateless.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tyqqj0/paper-parser/internal/domain"
	"github.com/tyqqj0/paper-parser/internal/requester"
)

// maxResponseBytes limits how much of a provider response body is decoded.
const maxResponseBytes = 10 << 20

// Record is the normalized result of a metadata lookup against one source.
type Record struct {
	// Metadata holds the normalized bibliographic fields.
	Metadata domain.Metadata

	// Explicit identifiers reported by the source.
	DOI     string
	ArXivID string
	PMID    string

	// PDFURL is a direct fulltext link when the source reports one.
	PDFURL string

	// SourcePageURL is the landing page when the source reports one.
	SourcePageURL string

	// Provider names the source the record came from.
	Provider string
}

// MetadataClient is the lookup surface shared by authoritative sources.
type MetadataClient interface {
	// ByIdentifier fetches a record by the source's native identifier.
	ByIdentifier(ctx context.Context, id string) (*Record, error)

	// Name returns the provider name used in provenance and logging.
	Name() string

	// IsEnabled reports whether this source is configured for use.
	IsEnabled() bool
}

// ReferencesClient is implemented by sources that can list a work's
// bibliography.
type ReferencesClient interface {
	// ReferencesOf fetches the normalized reference list of a work.
	ReferencesOf(ctx context.Context, id string) ([]domain.Reference, error)
}

// DecodeJSON reads at most maxResponseBytes of the response body into v and
// closes the body.
func DecodeJSON(resp *http.Response, v any) error {
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// GetJSON issues a rate-limited GET through the requester and decodes the
// JSON response into v.
func GetJSON(ctx context.Context, rq *requester.Requester, class requester.DestClass, limiter *RateLimiter, url string, header http.Header, v any) error {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range header {
		for _, val := range vs {
			req.Header.Add(k, val)
		}
	}

	resp, err := rq.Do(ctx, class, req)
	if err != nil {
		return err
	}
	return DecodeJSON(resp, v)
}
