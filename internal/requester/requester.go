// Package requester provides uniform outbound HTTP with per-destination
// policy. Internal destinations (PDF parser, graph, cache, object store) are
// reached without a proxy, with short timeouts, and fail fast. External
// destinations (publisher APIs, PDF hosts) go through the configured proxy,
// get longer timeouts, and retry transient failures with exponential backoff.
package requester

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// DestClass selects the outbound policy for a request.
type DestClass string

// Destination classes.
const (
	DestInternal DestClass = "internal"
	DestExternal DestClass = "external"
)

// ErrorKind classifies a request failure.
type ErrorKind string

// Request error kinds.
const (
	KindNetwork     ErrorKind = "network"
	KindTimeout     ErrorKind = "timeout"
	KindHTTPStatus  ErrorKind = "http_status"
	KindDNS         ErrorKind = "dns"
	KindTLS         ErrorKind = "tls"
	KindBlockedSSRF ErrorKind = "blocked_ssrf"
)

// RequestError is the typed failure returned by the requester.
type RequestError struct {
	Kind       ErrorKind
	StatusCode int
	URL        string
	Cause      error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("request to %s failed: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("request to %s failed (%s): %v", e.URL, e.Kind, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *RequestError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure is worth retrying: connection errors,
// timeouts, 408, 429, and 5xx statuses.
func (e *RequestError) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindDNS:
		return true
	case KindHTTPStatus:
		return e.StatusCode == http.StatusRequestTimeout ||
			e.StatusCode == http.StatusTooManyRequests ||
			(e.StatusCode >= 500 && e.StatusCode < 600)
	}
	return false
}

// Config holds requester policy settings.
type Config struct {
	// ExternalProxy is the proxy URL used for the external class. Empty
	// disables proxying.
	ExternalProxy string
	// InternalTimeout is the per-request timeout for internal destinations.
	InternalTimeout time.Duration
	// ExternalTimeout is the per-request timeout for external destinations.
	ExternalTimeout time.Duration
	// MaxRetries caps retries of retryable external failures.
	MaxRetries int
	// RetryBaseDelay is the initial backoff delay.
	RetryBaseDelay time.Duration
	// UserAgent is sent with every request that does not set its own.
	UserAgent string
	// AllowPrivateNetworks disables the SSRF private-IP check for the
	// external class. Only for tests against httptest servers.
	AllowPrivateNetworks bool
}

func (c *Config) applyDefaults() {
	if c.InternalTimeout == 0 {
		c.InternalTimeout = 10 * time.Second
	}
	if c.ExternalTimeout == 0 {
		c.ExternalTimeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "PaperParser/1.0"
	}
}

// Requester issues outbound HTTP requests under per-destination policy.
// It is safe for concurrent use.
type Requester struct {
	cfg      Config
	internal *http.Client
	external *http.Client
	logger   zerolog.Logger
}

// New creates a Requester with pooled transports per destination class.
func New(cfg Config, logger zerolog.Logger) *Requester {
	cfg.applyDefaults()

	internalTransport := &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	externalTransport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.ExternalProxy != "" {
		if proxyURL, err := url.Parse(cfg.ExternalProxy); err == nil {
			externalTransport.Proxy = http.ProxyURL(proxyURL)
		} else {
			logger.Warn().Err(err).Str("proxy", cfg.ExternalProxy).Msg("invalid external proxy, continuing without")
		}
	}

	r := &Requester{
		cfg:    cfg,
		logger: logger.With().Str("component", "requester").Logger(),
	}
	r.internal = &http.Client{
		Transport: internalTransport,
		Timeout:   cfg.InternalTimeout,
	}
	r.external = &http.Client{
		Transport: externalTransport,
		Timeout:   cfg.ExternalTimeout,
		// Each redirect hop is re-validated so an open redirect cannot land
		// on an internal address.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return &RequestError{Kind: KindBlockedSSRF, URL: req.URL.String(), Cause: errors.New("too many redirects")}
			}
			if !cfg.AllowPrivateNetworks {
				if err := ValidatePublicURL(req.URL.String()); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return r
}

// Do issues req under the policy of the given destination class. External
// requests are validated against private address ranges and retried on
// transient failures; internal requests are issued once and fail fast.
//
// On a non-2xx status the response body is drained, closed, and a
// *RequestError with KindHTTPStatus is returned. On success the caller owns
// the response body.
func (r *Requester) Do(ctx context.Context, class DestClass, req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", r.cfg.UserAgent)
	}
	req = req.WithContext(ctx)

	if class != DestExternal {
		return r.once(r.internal, req)
	}

	if !r.cfg.AllowPrivateNetworks {
		if err := ValidatePublicURL(req.URL.String()); err != nil {
			return nil, err
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(r.cfg.RetryBaseDelay)),
		uint64(r.cfg.MaxRetries),
	), ctx)

	var resp *http.Response
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			if err := resetRequestBody(req); err != nil {
				return backoff.Permanent(err)
			}
		}
		var err error
		resp, err = r.once(r.external, req)
		if err == nil {
			return nil
		}
		var re *RequestError
		if errors.As(err, &re) && re.Retryable() {
			r.logger.Debug().
				Str("url", req.URL.String()).
				Int("attempt", attempt).
				Str("kind", string(re.Kind)).
				Msg("retrying external request")
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return resp, nil
}

// Get is a convenience wrapper for GET requests.
func (r *Requester) Get(ctx context.Context, class DestClass, rawURL string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &RequestError{Kind: KindNetwork, URL: rawURL, Cause: err}
	}
	return r.Do(ctx, class, req)
}

// once issues a single request attempt and classifies any failure.
func (r *Requester) once(client *http.Client, req *http.Request) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransportError(req.URL.String(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		return nil, &RequestError{Kind: KindHTTPStatus, StatusCode: resp.StatusCode, URL: req.URL.String()}
	}
	return resp, nil
}

// classifyTransportError maps a transport-level error to a RequestError kind.
func classifyTransportError(rawURL string, err error) *RequestError {
	var re *RequestError
	if errors.As(err, &re) {
		// CheckRedirect errors come back wrapped in *url.Error.
		return re
	}

	kind := KindNetwork
	var dnsErr *net.DNSError
	var tlsCertErr *tls.CertificateVerificationError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &dnsErr):
		kind = KindDNS
	case errors.As(err, &tlsCertErr):
		kind = KindTLS
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			kind = KindTimeout
		}
	}
	return &RequestError{Kind: kind, URL: rawURL, Cause: err}
}

// resetRequestBody restores the request body before a retry, using GetBody
// when available.
func resetRequestBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("cannot rewind request body for retry: %w", err)
	}
	req.Body = body
	return nil
}
