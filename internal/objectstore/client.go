// Package objectstore reads and writes screenshot images in an S3-compatible
// bucket. Reads go through presigned URLs.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/shotsearch/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Sentinel errors for object store operations.
var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrObjectTooLarge     = errors.New("object exceeds size limit")
	ErrInvalidPath        = errors.New("invalid object path")
	ErrStorageUnavailable = errors.New("object storage unavailable")
	ErrStorageTimeout     = errors.New("object storage timeout")
)

// Client is the object store surface the pipeline and API depend on.
type Client interface {
	// SignedReadURL returns a URL granting read access to path until ttl elapses.
	SignedReadURL(ctx context.Context, path string, ttl time.Duration) (string, error)
	// Fetch downloads the object behind a signed URL. It returns the body and content type.
	Fetch(ctx context.Context, signedURL string) ([]byte, string, error)
	// Put stores body at path.
	Put(ctx context.Context, path, contentType string, body []byte) error
}

// Options configures an S3Client.
type Options struct {
	// Endpoint is the service URL, e.g. https://s3.amazonaws.com or http://minio:9000.
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	// Region is required; without it presigning asks the service for the bucket location.
	Region   string
	MaxBytes int64
	Timeout  time.Duration
}

// S3Client implements Client with minio-go.
type S3Client struct {
	s3         *minio.Client
	bucket     string
	maxBytes   int64
	httpClient *http.Client
}

func NewS3Client(opts Options) (*S3Client, error) {
	u, err := url.Parse(opts.Endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid storage endpoint %q", opts.Endpoint)
	}

	mc, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: u.Scheme == "https",
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}

	return &S3Client{
		s3:         mc,
		bucket:     opts.Bucket,
		maxBytes:   opts.MaxBytes,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}, nil
}

// NewFromConfig builds the client the server and CLI share.
func NewFromConfig(cfg config.StorageConfig, timeout time.Duration) (*S3Client, error) {
	return NewS3Client(Options{
		Endpoint:  cfg.BaseURL,
		Bucket:    cfg.Bucket,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Region:    cfg.Region,
		MaxBytes:  cfg.MaxObjectBytes,
		Timeout:   timeout,
	})
}

func (c *S3Client) SignedReadURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	clean, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	u, err := c.s3.PresignedGetObject(ctx, c.bucket, clean, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presigning %s: %w", clean, err)
	}
	return u.String(), nil
}

// Fetch GETs a presigned URL, stopping once the body passes the size cap.
func (c *S3Client) Fetch(ctx context.Context, signedURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signedURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", classifyError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp.StatusCode); err != nil {
		return nil, "", err
	}
	if c.maxBytes > 0 && resp.ContentLength > c.maxBytes {
		return nil, "", fmt.Errorf("%w: %d bytes", ErrObjectTooLarge, resp.ContentLength)
	}

	body, err := io.ReadAll(c.limit(resp.Body))
	if err != nil {
		return nil, "", classifyError(err)
	}
	if c.maxBytes > 0 && int64(len(body)) > c.maxBytes {
		return nil, "", fmt.Errorf("%w: more than %d bytes", ErrObjectTooLarge, c.maxBytes)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (c *S3Client) Put(ctx context.Context, path, contentType string, body []byte) error {
	if c.maxBytes > 0 && int64(len(body)) > c.maxBytes {
		return fmt.Errorf("%w: %d bytes", ErrObjectTooLarge, len(body))
	}
	clean, err := cleanPath(path)
	if err != nil {
		return err
	}

	_, err = c.s3.PutObject(ctx, c.bucket, clean, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.StatusCode != 0 {
			if statusErr := checkStatus(resp.StatusCode); statusErr != nil {
				return fmt.Errorf("%w: %s", statusErr, resp.Code)
			}
		}
		return classifyError(err)
	}
	return nil
}

func (c *S3Client) limit(r io.Reader) io.Reader {
	if c.maxBytes <= 0 {
		return r
	}
	return io.LimitReader(r, c.maxBytes+1)
}

func cleanPath(path string) (string, error) {
	p := strings.TrimLeft(path, "/")
	if p == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return p, nil
}

func checkStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrObjectNotFound
	case code == http.StatusRequestEntityTooLarge:
		return ErrObjectTooLarge
	default:
		return fmt.Errorf("%w: status %d", ErrStorageUnavailable, code)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrStorageTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrStorageTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

var _ Client = (*S3Client)(nil)
