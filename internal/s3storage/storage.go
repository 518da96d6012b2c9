package s3storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-multierror"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ArchiveDrop/internal/config"
)

// Storage wraps MinIO/S3 interactions for the archive bucket.
type Storage struct {
	client *minio.Client
	bucket string
	region string
	log    *zap.Logger
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config, log *zap.Logger) (*Storage, error) {
	client, err := minio.New(cfg.S3.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3.AccessKey, cfg.S3.SecretKey, ""),
		Secure: cfg.S3.UseSSL,
		Region: cfg.S3.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Storage{
		client: client,
		bucket: cfg.S3.Bucket,
		region: cfg.S3.Region,
		log:    log,
	}, nil
}

// Bucket is the bucket every key lives in.
func (s *Storage) Bucket() string { return s.bucket }

// EnsureBucket makes sure the bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Put uploads data under key.
func (s *Storage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// PutFile uploads the file at path under key, sniffing its content type.
func (s *Storage) PutFile(ctx context.Context, key, path string) error {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("detect content type of %s: %w", path, err)
	}
	info, err := s.client.FPutObject(ctx, s.bucket, key, path, minio.PutObjectOptions{ContentType: mtype.String()})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	s.log.Debug("object uploaded",
		zap.String("key", key),
		zap.String("content_type", mtype.String()),
		zap.String("size", humanize.Bytes(uint64(info.Size))),
	)
	return nil
}

// DeleteMany removes keys in one batch. Every per-key failure is reported.
func (s *Storage) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objects := make(chan minio.ObjectInfo, len(keys))
	for _, k := range keys {
		objects <- minio.ObjectInfo{Key: k}
	}
	close(objects)

	var errs *multierror.Error
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		errs = multierror.Append(errs, fmt.Errorf("delete %s: %w", rerr.ObjectName, rerr.Err))
	}
	return errs.ErrorOrNil()
}

// List returns the keys under prefix that sort after startAfter.
func (s *Storage) List(ctx context.Context, prefix, startAfter string) ([]string, error) {
	var keys []string
	opts := minio.ListObjectsOptions{Prefix: prefix, StartAfter: startAfter, Recursive: true}
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return keys, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
