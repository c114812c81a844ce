package retention

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"zackhub/api/internal/store"
	"zackhub/api/internal/util"
)

// MinioArchiver writes each swept batch to an S3-compatible bucket as one
// JSON object keyed by sweep date.
type MinioArchiver struct {
	client *minio.Client
	bucket string
	prefix string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type archiveObject struct {
	SweptAt  time.Time       `json:"sweptAt"`
	Count    int             `json:"count"`
	Comments []store.Comment `json:"comments"`
}

// NewMinioArchiver connects to the endpoint and creates the bucket if needed.
func NewMinioArchiver(ctx context.Context, cfg MinioConfig) (*MinioArchiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioArchiver{client: client, bucket: cfg.Bucket, prefix: "comments"}, nil
}

func (a *MinioArchiver) Archive(ctx context.Context, batch []store.Comment, sweptAt time.Time) error {
	if len(batch) == 0 {
		return nil
	}
	payload, err := json.Marshal(archiveObject{SweptAt: sweptAt.UTC(), Count: len(batch), Comments: batch})
	if err != nil {
		return fmt.Errorf("encode archive batch: %w", err)
	}
	key := archiveKey(a.prefix, sweptAt, util.NewID("sweep"))
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put archive object %s: %w", key, err)
	}
	return nil
}

func archiveKey(prefix string, sweptAt time.Time, id string) string {
	return path.Join(prefix, sweptAt.UTC().Format("2006/01/02"), id+".json")
}
