package blob

import (
	"context"
	"mime"
	"path/filepath"
	"time"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/utils/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PresignExpiry 预签名链接有效期
	PresignExpiry time.Duration
}

// Minio stores blobs in one S3-compatible bucket.
type Minio struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

var _ rag.BlobStore = (*Minio)(nil)

// NewMinio connects and creates the bucket when it does not exist yet.
func NewMinio(ctx context.Context, cfg MinioConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "minio client")
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "minio bucket check")
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, rag.NewError(rag.ErrStorageUnavailable, err, "minio make bucket")
		}
		logger.Info("minio bucket created", zap.String("bucket", cfg.Bucket))
	}
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &Minio{client: client, bucket: cfg.Bucket, expiry: expiry}, nil
}

func (m *Minio) Upload(ctx context.Context, key, localPath string) (string, error) {
	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := m.client.FPutObject(ctx, m.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", rag.NewError(rag.ErrStorageUnavailable, err, "minio put "+key)
	}
	return m.client.EndpointURL().JoinPath(m.bucket, key).String(), nil
}

func (m *Minio) Download(ctx context.Context, key, localPath string) error {
	if err := m.client.FGetObject(ctx, m.bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return rag.NewError(rag.ErrNotFound, err, "minio get "+key)
		}
		return rag.NewError(rag.ErrStorageUnavailable, err, "minio get "+key)
	}
	return nil
}

func (m *Minio) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "minio remove "+key)
	}
	return nil
}

func (m *Minio) Presign(ctx context.Context, key string) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, m.expiry, nil)
	if err != nil {
		return "", rag.NewError(rag.ErrStorageUnavailable, err, "minio presign "+key)
	}
	return u.String(), nil
}
