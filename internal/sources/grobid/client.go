// Package grobid provides a client for the GROBID TEI PDF parser service.
// The service is an internal collaborator: PDF bytes are POSTed in and
// TEI XML comes back.
package grobid

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/tyqqj0/paper-parser/internal/domain"
	"github.com/tyqqj0/paper-parser/internal/requester"
)

const (
	// DefaultBaseURL is the default GROBID service URL.
	DefaultBaseURL = "http://localhost:8070"

	// sourceName is the provenance label for this parser.
	sourceName = "grobid"

	// maxTEIBytes limits how much TEI XML is decoded.
	maxTEIBytes = 50 << 20
)

// HeaderResult is the outcome of parsing a PDF header.
type HeaderResult struct {
	// Metadata holds the normalized bibliographic fields from <teiHeader>.
	Metadata domain.Metadata

	// DOI is the DOI announced in the header, when present.
	DOI string
}

// FulltextResult is the outcome of a full document parse.
type FulltextResult struct {
	// Metadata holds the normalized header fields.
	Metadata domain.Metadata

	// DOI is the DOI announced in the header, when present.
	DOI string

	// Fulltext is the flattened body text.
	Fulltext string

	// References is the normalized bibliography from <back>/<listBibl>.
	References []domain.Reference
}

// Config holds configuration for the GROBID client.
type Config struct {
	// BaseURL is the GROBID service URL.
	BaseURL string

	// Enabled indicates whether the parser is available.
	Enabled bool
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
}

// Client is a GROBID service client.
type Client struct {
	config    Config
	requester *requester.Requester
}

// New creates a new GROBID client.
func New(cfg Config, rq *requester.Requester) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg, requester: rq}
}

// Name returns the provenance label for this parser.
func (c *Client) Name() string { return sourceName }

// IsEnabled reports whether the parser is available.
func (c *Client) IsEnabled() bool { return c.config.Enabled }

// ParseHeader extracts bibliographic metadata from the PDF header.
func (c *Client) ParseHeader(ctx context.Context, pdf []byte) (*HeaderResult, error) {
	doc, err := c.process(ctx, "/api/processHeaderDocument", pdf)
	if err != nil {
		return nil, err
	}
	meta, doi := headerToRecord(doc)
	if meta.Title == "" {
		return nil, domain.NewDomainError(domain.KindParseFailure, "no title in TEI header", nil)
	}
	return &HeaderResult{Metadata: meta, DOI: doi}, nil
}

// ParseReferences extracts the bibliography from the PDF.
func (c *Client) ParseReferences(ctx context.Context, pdf []byte) ([]domain.Reference, error) {
	doc, err := c.process(ctx, "/api/processReferences", pdf)
	if err != nil {
		return nil, err
	}
	return referencesFrom(doc), nil
}

// ParseFulltext runs a full document parse: header metadata, body text, and
// bibliography in one round trip.
func (c *Client) ParseFulltext(ctx context.Context, pdf []byte) (*FulltextResult, error) {
	doc, err := c.process(ctx, "/api/processFulltextDocument", pdf)
	if err != nil {
		return nil, err
	}
	meta, doi := headerToRecord(doc)
	return &FulltextResult{
		Metadata:   meta,
		DOI:        doi,
		Fulltext:   bodyText(doc),
		References: referencesFrom(doc),
	}, nil
}

// process POSTs the PDF as multipart form data and decodes the TEI response.
func (c *Client) process(ctx context.Context, path string, pdf []byte) (*teiDocument, error) {
	if len(pdf) == 0 {
		return nil, domain.NewValidationError("pdf", "empty input")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("input", "document.pdf")
	if err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}
	if _, err := part.Write(pdf); err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + path
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/xml")
	payload := body.Bytes()
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	resp, err := c.requester.Do(ctx, requester.DestInternal, req)
	if err != nil {
		return nil, fmt.Errorf("grobid: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var doc teiDocument
	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxTEIBytes)).Decode(&doc); err != nil {
		return nil, domain.NewDomainError(domain.KindParseFailure, "invalid TEI response", err)
	}
	return &doc, nil
}

// referencesFrom collects normalized references out of <back>/<listBibl>.
func referencesFrom(doc *teiDocument) []domain.Reference {
	var refs []domain.Reference
	for _, div := range doc.Text.Back.Divs {
		if div.Type != "" && div.Type != "references" {
			continue
		}
		for i := range div.ListBibl {
			ref := biblToReference(&div.ListBibl[i])
			if ref.RawText == "" && ref.Parsed == nil {
				continue
			}
			refs = append(refs, ref)
		}
	}
	return domain.DeduplicateReferences(refs)
}
