package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	URLTTL    time.Duration
}

type MinioBackend struct {
	client *minio.Client
	bucket string
	urlTTL time.Duration
}

// NewMinioBackend connects and creates the bucket when it is missing.
func NewMinioBackend(ctx context.Context, config MinioConfig) (*MinioBackend, error) {
	if config.URLTTL <= 0 {
		config.URLTTL = 15 * time.Minute
	}
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", config.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket %s: %w", config.Bucket, err)
		}
	}

	return &MinioBackend{client: client, bucket: config.Bucket, urlTTL: config.URLTTL}, nil
}

func (b *MinioBackend) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", b.bucket, key, err)
	}
	return nil
}

func (b *MinioBackend) DownloadURL(ctx context.Context, key string) (string, error) {
	if _, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return "", fmt.Errorf("stat %s/%s: %w", b.bucket, key, err)
	}

	presigned, err := b.client.PresignedGetObject(ctx, b.bucket, key, b.urlTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", b.bucket, key, err)
	}
	return presigned.String(), nil
}

func (b *MinioBackend) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	objects := b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: prefix})

	names := make([]string, 0)
	for object := range objects {
		if object.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", b.bucket, prefix, object.Err)
		}
		if name, ok := childName(object.Key, prefix); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
