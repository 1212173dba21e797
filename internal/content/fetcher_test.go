package content

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyqqj0/paper-parser/internal/domain"
	"github.com/tyqqj0/paper-parser/internal/requester"
	"github.com/tyqqj0/paper-parser/internal/urlmapping"
)

// minimalPDF is a tiny but structurally recognizable PDF document.
var minimalPDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

func newTestFetcher(t *testing.T, cfg Config, store ObjectStore, oa OALookup) *Fetcher {
	t.Helper()
	rq := requester.New(requester.Config{AllowPrivateNetworks: true}, zerolog.Nop())
	return NewFetcher(cfg, rq, store, oa, zerolog.Nop())
}

func TestFetchUserPDFURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(minimalPDF)
	}))
	defer server.Close()

	f := newTestFetcher(t, Config{}, nil, nil)
	result, err := f.Fetch(context.Background(), Request{UserPDFURL: server.URL + "/paper.pdf"})
	require.NoError(t, err)

	assert.Equal(t, "user", result.Source)
	assert.Equal(t, server.URL+"/paper.pdf", result.FetchedURL)
	assert.Equal(t, minimalPDF, result.Bytes)
	assert.NotEmpty(t, result.MD5)
	assert.NotEmpty(t, result.SHA256)
}

func TestFetchFallsThroughToMapping(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/missing.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/found.pdf", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(minimalPDF)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	f := newTestFetcher(t, Config{}, nil, nil)
	result, err := f.Fetch(context.Background(), Request{
		UserPDFURL: server.URL + "/missing.pdf",
		Mapping:    &urlmapping.Mapping{PDFURL: server.URL + "/found.pdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, "mapping", result.Source)
}

func TestFetchFromLandingPage(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/landing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><meta name="citation_pdf_url" content="` + server.URL + `/via-meta.pdf"></head></html>`))
	})
	mux.HandleFunc("/via-meta.pdf", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(minimalPDF)
	})

	f := newTestFetcher(t, Config{}, nil, nil)
	result, err := f.Fetch(context.Background(), Request{
		Mapping: &urlmapping.Mapping{SourcePageURL: server.URL + "/landing"},
	})
	require.NoError(t, err)
	assert.Equal(t, "landing_page", result.Source)
	assert.Equal(t, server.URL+"/via-meta.pdf", result.FetchedURL)
}

type fakeOA struct{ url string }

func (f *fakeOA) BestPDFURL(_ context.Context, _ string) (string, error) {
	if f.url == "" {
		return "", domain.NewNotFoundError("oa location", "doi")
	}
	return f.url, nil
}

func TestFetchOpenAccessFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(minimalPDF)
	}))
	defer server.Close()

	f := newTestFetcher(t, Config{}, nil, &fakeOA{url: server.URL + "/oa.pdf"})
	result, err := f.Fetch(context.Background(), Request{DOI: "10.1038/nature14539"})
	require.NoError(t, err)
	assert.Equal(t, "open_access", result.Source)
}

func TestFetchRejectsNonPDF(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not a pdf</html>"))
	}))
	defer server.Close()

	f := newTestFetcher(t, Config{}, nil, nil)
	_, err := f.Fetch(context.Background(), Request{UserPDFURL: server.URL + "/fake.pdf"})

	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidPDF, domain.KindOf(err))
}

func TestFetchRejectsOversize(t *testing.T) {
	big := append([]byte(pdfMagic), make([]byte, 4096)...)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(big)
	}))
	defer server.Close()

	f := newTestFetcher(t, Config{MaxBytes: 1024}, nil, nil)
	_, err := f.Fetch(context.Background(), Request{UserPDFURL: server.URL + "/big.pdf"})

	require.Error(t, err)
	assert.Equal(t, domain.KindTooLarge, domain.KindOf(err))
}

func TestFetchNoSources(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, Config{}, nil, nil)
	_, err := f.Fetch(context.Background(), Request{})

	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

type fakeStore struct {
	host string
	data []byte
}

func (f *fakeStore) RecognizesURL(url string) bool { return strings.Contains(url, f.host) }

func (f *fakeStore) FetchByURL(_ context.Context, _ string) ([]byte, error) {
	return f.data, nil
}

func TestFetchPrefersObjectStorePath(t *testing.T) {
	t.Parallel()

	store := &fakeStore{host: "objects.internal.example", data: minimalPDF}
	f := newTestFetcher(t, Config{}, store, nil)

	result, err := f.Fetch(context.Background(), Request{
		UserPDFURL: "https://objects.internal.example/bucket/paper.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "user_object_store", result.Source)
	assert.Equal(t, minimalPDF, result.Bytes)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, Config{}, nil, nil)

	assert.NoError(t, f.Validate(minimalPDF))
	assert.Error(t, f.Validate([]byte("plain text")))
	assert.Error(t, f.Validate(nil))
}
