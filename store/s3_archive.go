package store

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Archive keeps merged files that are too large for the Bot API and hands
// out presigned download links for them.
type S3Archive struct {
	client  *minio.Client
	bucket  string
	linkTTL time.Duration
}

func NewS3Archive(ctx context.Context, endpoint, accessKeyID, secretKey, bucket string, useSSL bool, linkTTL time.Duration) (*S3Archive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("s3 bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("s3 make bucket: %w", err)
		}
	}

	if linkTTL <= 0 {
		linkTTL = 24 * time.Hour
	}
	return &S3Archive{
		client:  client,
		bucket:  bucket,
		linkTTL: linkTTL,
	}, nil
}

func (a *S3Archive) Store(ctx context.Context, key string, r io.Reader, size int64) (string, error) {
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := a.client.PutObject(ctx, a.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}

	link, err := a.client.PresignedGetObject(ctx, a.bucket, key, a.linkTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("s3 presign: %w", err)
	}
	return link.String(), nil
}
