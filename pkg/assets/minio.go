package assets

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"imagestudio/pkg/domain"
)

// MinioConfig holds connection settings for MinIO/S3 compatible storage.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBaseURL, when set, is used to build direct object URLs. Without
	// it, presigned GET URLs are returned instead.
	PublicBaseURL string
}

// MinioUploader implements Uploader for MinIO/S3 compatible storage.
type MinioUploader struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

// NewMinioUploader connects to MinIO and ensures the bucket exists.
func NewMinioUploader(cfg MinioConfig) (*MinioUploader, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, domain.ConfigError("minio endpoint and bucket required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioUploader{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
	}, nil
}

// Upload writes the object and returns its public or presigned URL.
func (m *MinioUploader) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	key := objectKey(req.Folder, req.FileName)
	size := int64(len(req.Data))
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(req.Data), size, minio.PutObjectOptions{
		ContentType:  "image/png",
		UserMetadata: tagMetadata(req.Tags),
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("put object: %w", err)
	}

	var url string
	if m.publicBaseURL != "" {
		url = m.publicBaseURL + "/" + m.bucket + "/" + key
	} else {
		presigned, err := m.client.PresignedGetObject(ctx, m.bucket, key, 7*24*time.Hour, nil)
		if err != nil {
			return UploadResult{}, fmt.Errorf("presign get: %w", err)
		}
		url = presigned.String()
	}
	return UploadResult{
		FileID:       key,
		Name:         req.FileName,
		URL:          url,
		ThumbnailURL: url,
		FilePath:     "/" + key,
		Size:         size,
	}, nil
}

func objectKey(folder, fileName string) string {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		return path.Base(fileName)
	}
	return folder + "/" + path.Base(fileName)
}

func tagMetadata(tags []string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	return map[string]string{"tags": strings.Join(tags, ",")}
}
