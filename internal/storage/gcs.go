package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

type GCSConfig struct {
	Bucket string
	URLTTL time.Duration
}

// GCSBackend keeps objects in a Cloud Storage bucket and hands out V4
// signed URLs for reads.
type GCSBackend struct {
	client *gcs.Client
	bucket string
	urlTTL time.Duration
}

func NewGCSBackend(ctx context.Context, config GCSConfig) (*GCSBackend, error) {
	if config.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	if config.URLTTL <= 0 {
		config.URLTTL = 15 * time.Minute
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSBackend{client: client, bucket: config.Bucket, urlTTL: config.URLTTL}, nil
}

func (b *GCSBackend) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	writer := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write gs://%s/%s: %w", b.bucket, key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", b.bucket, key, err)
	}
	return nil
}

func (b *GCSBackend) DownloadURL(ctx context.Context, key string) (string, error) {
	if _, err := b.client.Bucket(b.bucket).Object(key).Attrs(ctx); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return "", fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return "", fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return "", fmt.Errorf("stat gs://%s/%s: %w", b.bucket, key, err)
	}

	signed, err := b.client.Bucket(b.bucket).SignedURL(key, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(b.urlTTL),
	})
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", key, err)
	}
	return signed, nil
}

func (b *GCSBackend) List(ctx context.Context, prefix string) ([]string, error) {
	it := b.client.Bucket(b.bucket).Objects(ctx, &gcs.Query{Prefix: prefix, Delimiter: "/"})

	names := make([]string, 0)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", b.bucket, prefix, err)
		}
		// Entries with only Prefix set are synthetic sub-folders.
		if attrs.Name == "" {
			continue
		}
		if name, ok := childName(attrs.Name, prefix); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (b *GCSBackend) Close() error {
	return b.client.Close()
}
