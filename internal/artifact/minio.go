package artifact

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sooksun/teachermon-sub002/internal/config"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

// MinIOStore keeps artifacts in an S3-compatible bucket. A single PutObject
// is atomic: readers see the old object or the complete new one.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore connects and creates the bucket when it does not exist yet.
func NewMinIOStore(ctx context.Context, cfg config.MinIOConfig) (*MinIOStore, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &MinIOStore{client: cli, bucket: cfg.Bucket}, nil
}

func (s *MinIOStore) Put(ctx context.Context, jobID uuid.UUID, category models.ArtifactCategory, r io.Reader, size int64, contentType string) (*models.Artifact, error) {
	key := Key(jobID, category)
	if contentType == "" {
		contentType = DefaultContentType(category)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"job-id":   jobID.String(),
			"category": string(category),
		},
	})
	if err != nil {
		return nil, storageErr("put", key, err)
	}
	if size >= 0 && info.Size != size {
		_ = s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
		return nil, storageErr("put", key, fmt.Errorf("stored %d bytes, expected %d", info.Size, size))
	}

	return &models.Artifact{
		JobID:       jobID,
		Category:    category,
		SizeBytes:   info.Size,
		Location:    key,
		ContentType: contentType,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (s *MinIOStore) Stat(ctx context.Context, jobID uuid.UUID, category models.ArtifactCategory) (*models.Artifact, error) {
	key := Key(jobID, category)
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, classifyMinIOError("stat", key, err)
	}
	return &models.Artifact{
		JobID:       jobID,
		Category:    category,
		SizeBytes:   info.Size,
		Location:    key,
		ContentType: info.ContentType,
		CreatedAt:   info.LastModified.UTC(),
	}, nil
}

func (s *MinIOStore) Open(ctx context.Context, jobID uuid.UUID, category models.ArtifactCategory) (io.ReadCloser, *models.Artifact, error) {
	a, err := s.Stat(ctx, jobID, category)
	if err != nil {
		return nil, nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, a.Location, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, classifyMinIOError("get", a.Location, err)
	}
	return obj, a, nil
}

func (s *MinIOStore) Delete(ctx context.Context, jobID uuid.UUID, category models.ArtifactCategory) error {
	if _, err := s.Stat(ctx, jobID, category); err != nil {
		return err
	}
	key := Key(jobID, category)
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return classifyMinIOError("delete", key, err)
	}
	return nil
}

func (s *MinIOStore) DeleteJob(ctx context.Context, jobID uuid.UUID) error {
	prefix := jobPrefix(jobID)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return storageErr("list", prefix, obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return storageErr("delete", obj.Key, err)
		}
	}
	return nil
}

func (s *MinIOStore) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return storageErr("ping", s.bucket, err)
	}
	if !ok {
		return storageErr("ping", s.bucket, fmt.Errorf("bucket does not exist"))
	}
	return nil
}

func (s *MinIOStore) PresignedURL(ctx context.Context, jobID uuid.UUID, category models.ArtifactCategory, expiry time.Duration) (string, error) {
	if _, err := s.Stat(ctx, jobID, category); err != nil {
		return "", err
	}
	key := Key(jobID, category)
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", storageErr("presign", key, err)
	}
	return u.String(), nil
}

func classifyMinIOError(op, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
		return ErrNotFound
	}
	return storageErr(op, key, err)
}
