package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"strepadb/internal/config"
)

// Storage wraps MinIO/S3 interactions for uploaded workbooks, source
// documents and processed artifacts.
type Storage struct {
	client          *minio.Client
	uploadBucket    string
	documentBucket  string
	processedBucket string
	region          string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:          client,
		uploadBucket:    cfg.UploadBucket,
		documentBucket:  cfg.DocumentBucket,
		processedBucket: cfg.ProcessedBucket,
		region:          cfg.S3Region,
	}, nil
}

// EnsureBuckets makes sure all buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.uploadBucket, s.documentBucket, s.processedBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// UploadWorkbook stores the original spreadsheet that an import was staged
// from, so the file can be re-downloaded later for auditing.
func (s *Storage) UploadWorkbook(ctx context.Context, objectKey string, data []byte) error {
	reader := bytes.NewReader(data)
	opts := minio.PutObjectOptions{ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"}
	_, err := s.client.PutObject(ctx, s.uploadBucket, objectKey, reader, int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("upload workbook: %w", err)
	}
	return nil
}

// DownloadWorkbook fetches a previously uploaded spreadsheet.
func (s *Storage) DownloadWorkbook(ctx context.Context, objectKey string) ([]byte, error) {
	return s.download(ctx, s.uploadBucket, objectKey)
}

// UploadDocument uploads a source PDF into the document bucket.
func (s *Storage) UploadDocument(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	_, err := s.client.PutObject(ctx, s.documentBucket, objectKey, reader, size, opts)
	if err != nil {
		return fmt.Errorf("upload document: %w", err)
	}
	return nil
}

// DownloadDocument fetches the raw PDF bytes from storage.
func (s *Storage) DownloadDocument(ctx context.Context, objectKey string) ([]byte, error) {
	return s.download(ctx, s.documentBucket, objectKey)
}

// UploadProcessed uploads the extracted text output into the processed bucket.
func (s *Storage) UploadProcessed(ctx context.Context, objectKey string, data []byte) error {
	reader := bytes.NewReader(data)
	opts := minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"}
	_, err := s.client.PutObject(ctx, s.processedBucket, objectKey, reader, int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("upload processed object: %w", err)
	}
	return nil
}

// PresignProcessedURL returns a signed GET URL for the processed text file.
func (s *Storage) PresignProcessedURL(ctx context.Context, objectKey string, expirySeconds int64) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.processedBucket, objectKey, time.Duration(expirySeconds)*time.Second, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign processed object: %w", err)
	}
	return u.String(), nil
}

func (s *Storage) download(ctx context.Context, bucket, objectKey string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return buf, nil
}
