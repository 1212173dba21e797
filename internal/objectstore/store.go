// Package objectstore wraps the S3-compatible object store used for PDF
// uploads: presigned PUT issuance, existence checks, and byte fetches for
// URLs that point back at our own bucket.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/tyqqj0/paper-parser/internal/domain"
)

// Config holds object store settings.
type Config struct {
	// Endpoint is the object store endpoint (host:port).
	Endpoint string
	// AccessKey and SecretKey authenticate the client.
	AccessKey string
	SecretKey string
	// Bucket is the bucket PDFs live in.
	Bucket string
	// UseSSL enables TLS.
	UseSSL bool
	// PresignExpiry is the lifetime of presigned upload URLs.
	PresignExpiry time.Duration
	// PublicHosts lists additional hostnames recognized as object-store URLs.
	PublicHosts []string
}

// Store is the object store client.
type Store struct {
	client  *minio.Client
	bucket  string
	expiry  time.Duration
	hosts   map[string]struct{}
	logger  zerolog.Logger
	maxSize int64
}

// New creates an object store client.
func New(cfg Config, logger zerolog.Logger) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	hosts := make(map[string]struct{}, len(cfg.PublicHosts)+1)
	hosts[hostOnly(cfg.Endpoint)] = struct{}{}
	for _, h := range cfg.PublicHosts {
		hosts[hostOnly(h)] = struct{}{}
	}

	return &Store{
		client:  client,
		bucket:  cfg.Bucket,
		expiry:  expiry,
		hosts:   hosts,
		logger:  logger.With().Str("component", "objectstore").Logger(),
		maxSize: 50 << 20,
	}, nil
}

// RecognizesURL reports whether a URL points at the object store.
func (s *Store) RecognizesURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	_, ok := s.hosts[strings.ToLower(parsed.Hostname())]
	return ok
}

// FetchByURL retrieves object bytes through the native SDK path. The object
// key is the URL path with the bucket prefix stripped.
func (s *Store) FetchByURL(ctx context.Context, raw string) ([]byte, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing object URL: %w", err)
	}

	key := strings.TrimPrefix(parsed.Path, "/")
	key = strings.TrimPrefix(key, s.bucket+"/")
	if key == "" {
		return nil, domain.NewValidationError("url", "no object key in URL")
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetching object %s: %w", key, err)
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(io.LimitReader(obj, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading object %s: %w", key, err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, domain.NewDomainError(domain.KindTooLarge, "object exceeds size cap", nil)
	}
	return data, nil
}

// Exists checks whether an object is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return true, nil
}

// PresignUpload validates the upload request and issues a time-bound PUT URL.
func (s *Store) PresignUpload(ctx context.Context, req UploadRequest) (*PresignedUpload, error) {
	key, err := req.Validate()
	if err != nil {
		return nil, err
	}

	presigned, err := s.client.PresignedPutObject(ctx, s.bucket, key, s.expiry)
	if err != nil {
		return nil, fmt.Errorf("presigning upload for %s: %w", key, err)
	}

	s.logger.Info().Str("key", key).Int64("size", req.Size).Msg("upload URL issued")
	return &PresignedUpload{
		UploadURL: presigned.String(),
		ObjectKey: key,
		ExpiresIn: int(s.expiry.Seconds()),
	}, nil
}

func hostOnly(endpoint string) string {
	endpoint = strings.ToLower(strings.TrimSpace(endpoint))
	if idx := strings.Index(endpoint, "://"); idx >= 0 {
		endpoint = endpoint[idx+3:]
	}
	if idx := strings.Index(endpoint, ":"); idx >= 0 {
		endpoint = endpoint[:idx]
	}
	return strings.TrimSuffix(endpoint, "/")
}
