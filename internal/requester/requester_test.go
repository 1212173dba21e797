package requester

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequester(cfg Config) *Requester {
	cfg.AllowPrivateNetworks = true // httptest servers listen on loopback
	return New(cfg, zerolog.Nop())
}

func TestDoSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	r := newTestRequester(Config{})
	resp, err := r.Get(context.Background(), DestExternal, server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestDoRetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r := newTestRequester(Config{MaxRetries: 3, RetryBaseDelay: 10 * time.Millisecond})
	resp, err := r.Get(context.Background(), DestExternal, server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoDoesNotRetryOn404(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	r := newTestRequester(Config{MaxRetries: 3, RetryBaseDelay: 10 * time.Millisecond})
	_, err := r.Get(context.Background(), DestExternal, server.URL)

	var re *RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, KindHTTPStatus, re.Kind)
	assert.Equal(t, http.StatusNotFound, re.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestInternalClassDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	r := newTestRequester(Config{MaxRetries: 3, RetryBaseDelay: 10 * time.Millisecond})
	_, err := r.Get(context.Background(), DestInternal, server.URL)

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExternalBlocksPrivateAddresses(t *testing.T) {
	t.Parallel()

	r := New(Config{}, zerolog.Nop()) // SSRF guard active

	tests := []struct {
		name string
		url  string
	}{
		{name: "loopback", url: "http://127.0.0.1/admin"},
		{name: "rfc1918 ten", url: "http://10.0.0.8/secret"},
		{name: "rfc1918 192", url: "http://192.168.1.1/"},
		{name: "link local", url: "http://169.254.169.254/latest/meta-data"},
		{name: "file scheme", url: "file:///etc/passwd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := r.Get(context.Background(), DestExternal, tt.url)
			var re *RequestError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, KindBlockedSSRF, re.Kind)
		})
	}
}

func TestRequestErrorRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, (&RequestError{Kind: KindNetwork}).Retryable())
	assert.True(t, (&RequestError{Kind: KindTimeout}).Retryable())
	assert.True(t, (&RequestError{Kind: KindHTTPStatus, StatusCode: 429}).Retryable())
	assert.True(t, (&RequestError{Kind: KindHTTPStatus, StatusCode: 503}).Retryable())
	assert.False(t, (&RequestError{Kind: KindHTTPStatus, StatusCode: 404}).Retryable())
	assert.False(t, (&RequestError{Kind: KindBlockedSSRF}).Retryable())
}

func TestValidatePublicURLErrors(t *testing.T) {
	t.Parallel()

	err := ValidatePublicURL("gopher://example.org")
	var re *RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, KindBlockedSSRF, re.Kind)

	require.NoError(t, errOrNil(ValidatePublicURL("https://93.184.216.34/")))
}

func errOrNil(err error) error {
	var re *RequestError
	if errors.As(err, &re) && re.Kind == KindDNS {
		// DNS unavailability in the test environment is not a failure of the guard.
		return nil
	}
	return err
}
