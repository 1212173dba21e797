// Package content acquires PDF bytes for a literature through a prioritized
// source list: a user-provided direct link, the object store, the URL
// mapping's PDF link, a landing-page scrape, and finally an open-access
// lookup by DOI.
package content

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/tyqqj0/paper-parser/internal/domain"
	"github.com/tyqqj0/paper-parser/internal/requester"
	"github.com/tyqqj0/paper-parser/internal/urlmapping"
)

// pdfMagic is the required prefix of a PDF file.
const pdfMagic = "%PDF-"

// DefaultMaxBytes caps PDF downloads at 50 MiB unless configured otherwise.
const DefaultMaxBytes = 50 << 20

// ObjectStore is the native object-store fetch path used for URLs that point
// at our own bucket.
type ObjectStore interface {
	// RecognizesURL reports whether the URL points at the object store.
	RecognizesURL(url string) bool

	// FetchByURL retrieves object bytes through the native SDK path.
	FetchByURL(ctx context.Context, url string) ([]byte, error)
}

// OALookup resolves a DOI to an open-access PDF URL.
type OALookup interface {
	BestPDFURL(ctx context.Context, doi string) (string, error)
}

// Result is a successfully acquired and validated PDF.
type Result struct {
	// Bytes is the PDF content.
	Bytes []byte

	// FetchedURL is the URL the bytes actually came from.
	FetchedURL string

	// Source labels which acquisition path succeeded.
	Source string

	// MD5 and SHA256 are hex digests of the content.
	MD5    string
	SHA256 string
}

// Config holds content fetcher settings.
type Config struct {
	// MaxBytes caps the PDF size.
	MaxBytes int64
}

// Fetcher acquires and validates PDFs.
type Fetcher struct {
	requester *requester.Requester
	store     ObjectStore
	oa        OALookup
	maxBytes  int64
	logger    zerolog.Logger
}

// NewFetcher creates a content fetcher. store and oa may be nil, in which
// case those acquisition paths are skipped.
func NewFetcher(cfg Config, rq *requester.Requester, store ObjectStore, oa OALookup, logger zerolog.Logger) *Fetcher {
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Fetcher{
		requester: rq,
		store:     store,
		oa:        oa,
		maxBytes:  maxBytes,
		logger:    logger.With().Str("component", "content").Logger(),
	}
}

// Request describes where content may be found for one literature.
type Request struct {
	// UserPDFURL is a direct link supplied in the submission.
	UserPDFURL string

	// Mapping is the URL-mapping result, when available.
	Mapping *urlmapping.Mapping

	// DOI enables the open-access lookup fallback.
	DOI string
}

// candidate is one entry of the prioritized acquisition list.
type candidate struct {
	source string
	fetch  func(ctx context.Context) ([]byte, string, error)
}

// Fetch tries each acquisition path in priority order and returns the first
// result that validates as a PDF. Validation failures on one path do not
// stop later paths; the first error per failing path is retained and the
// most severe one is surfaced if nothing succeeds.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	candidates := f.candidates(req)
	if len(candidates) == 0 {
		return nil, domain.NewDomainError(domain.KindNotFound, "no content source available", nil)
	}

	var firstErr error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, fetchedURL, err := c.fetch(ctx)
		if err != nil {
			f.logger.Debug().Err(err).Str("source", c.source).Msg("content source failed")
			if firstErr == nil || isSevere(err) && !isSevere(firstErr) {
				firstErr = err
			}
			continue
		}

		if err := f.Validate(data); err != nil {
			f.logger.Debug().Err(err).Str("source", c.source).Str("url", fetchedURL).Msg("content failed validation")
			if firstErr == nil || isSevere(err) && !isSevere(firstErr) {
				firstErr = err
			}
			continue
		}

		md5Sum := md5.Sum(data)
		shaSum := sha256.Sum256(data)
		return &Result{
			Bytes:      data,
			FetchedURL: fetchedURL,
			Source:     c.source,
			MD5:        hex.EncodeToString(md5Sum[:]),
			SHA256:     hex.EncodeToString(shaSum[:]),
		}, nil
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return nil, domain.NewDomainError(domain.KindNotFound, "no content source available", nil)
}

// candidates builds the prioritized acquisition list for a request.
func (f *Fetcher) candidates(req Request) []candidate {
	var out []candidate
	seen := make(map[string]struct{})

	addURL := func(source, url string) {
		url = strings.TrimSpace(url)
		if url == "" {
			return
		}
		if _, dup := seen[url]; dup {
			return
		}
		seen[url] = struct{}{}

		if f.store != nil && f.store.RecognizesURL(url) {
			out = append(out, candidate{source: source + "_object_store", fetch: func(ctx context.Context) ([]byte, string, error) {
				data, err := f.store.FetchByURL(ctx, url)
				if err == nil {
					return data, url, nil
				}
				// Native path failed; fall back to a plain HTTPS GET.
				data, err = f.download(ctx, url)
				return data, url, err
			}})
			return
		}

		out = append(out, candidate{source: source, fetch: func(ctx context.Context) ([]byte, string, error) {
			data, err := f.download(ctx, url)
			return data, url, err
		}})
	}

	addURL("user", req.UserPDFURL)
	if req.Mapping != nil {
		addURL("mapping", req.Mapping.PDFURL)
	}
	if req.Mapping != nil && req.Mapping.SourcePageURL != "" {
		pageURL := req.Mapping.SourcePageURL
		out = append(out, candidate{source: "landing_page", fetch: func(ctx context.Context) ([]byte, string, error) {
			return f.fromLandingPage(ctx, pageURL)
		}})
	}
	if f.oa != nil && req.DOI != "" {
		doi := req.DOI
		out = append(out, candidate{source: "open_access", fetch: func(ctx context.Context) ([]byte, string, error) {
			pdfURL, err := f.oa.BestPDFURL(ctx, doi)
			if err != nil {
				return nil, "", err
			}
			data, err := f.download(ctx, pdfURL)
			return data, pdfURL, err
		}})
	}
	return out
}

// download GETs a URL under the external policy with the size cap enforced
// while reading.
func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.requester.Get(ctx, requester.DestExternal, url)
	if err != nil {
		var re *requester.RequestError
		if errors.As(err, &re) {
			switch re.Kind {
			case requester.KindBlockedSSRF:
				return nil, domain.NewDomainError(domain.KindSSRFBlocked, "refusing to fetch private address", err)
			case requester.KindHTTPStatus:
				if re.StatusCode == 404 {
					return nil, domain.NewDomainError(domain.KindNotFound, "content not found", err)
				}
			}
		}
		return nil, domain.NewDomainError(domain.KindNetwork, "content download failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// One extra byte detects oversize without buffering the whole remainder.
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, domain.NewDomainError(domain.KindNetwork, "reading content body", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, domain.NewDomainError(domain.KindTooLarge,
			fmt.Sprintf("content exceeds %d bytes", f.maxBytes), nil)
	}
	return data, nil
}

// fromLandingPage scrapes the landing page for a citation_pdf_url and
// downloads it.
func (f *Fetcher) fromLandingPage(ctx context.Context, pageURL string) ([]byte, string, error) {
	resp, err := f.requester.Get(ctx, requester.DestExternal, pageURL)
	if err != nil {
		return nil, "", domain.NewDomainError(domain.KindNetwork, "fetching landing page", err)
	}
	meta, err := urlmapping.ExtractPageMeta(io.LimitReader(resp.Body, 5<<20))
	_ = resp.Body.Close()
	if err != nil {
		return nil, "", domain.NewDomainError(domain.KindParseFailure, "parsing landing page", err)
	}
	if meta == nil || meta.PDFURL == "" {
		return nil, "", domain.NewDomainError(domain.KindNotFound, "landing page exposes no PDF link", nil)
	}

	data, err := f.download(ctx, meta.PDFURL)
	return data, meta.PDFURL, err
}

// Validate checks PDF magic bytes, size cap, and sniffed MIME type.
func (f *Fetcher) Validate(data []byte) error {
	if int64(len(data)) > f.maxBytes {
		return domain.NewDomainError(domain.KindTooLarge,
			fmt.Sprintf("content exceeds %d bytes", f.maxBytes), nil)
	}
	if len(data) < len(pdfMagic) || string(data[:len(pdfMagic)]) != pdfMagic {
		return domain.NewDomainError(domain.KindInvalidPDF, "missing %PDF- header", nil)
	}
	if mt := mimetype.Detect(data); !mt.Is("application/pdf") {
		return domain.NewDomainError(domain.KindInvalidPDF,
			fmt.Sprintf("detected MIME type %s", mt.String()), nil)
	}
	return nil
}

// isSevere prefers surfacing hard validation failures over plain misses.
func isSevere(err error) bool {
	kind := domain.KindOf(err)
	return kind == domain.KindTooLarge || kind == domain.KindInvalidPDF || kind == domain.KindSSRFBlocked
}
