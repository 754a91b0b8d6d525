// Package artifacts mirrors composite-checkpoint artifacts to an
// S3-compatible store. The mirror is purely additive: the run directory
// stays the source of truth, and upload failures are logged by the caller,
// never fatal.
package artifacts

import (
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mpataki/clavier/internal/dirs"
)

type Mirror struct {
	mc     *minio.Client
	bucket string
}

func NewMirror(cfg dirs.MirrorConfig) (*Mirror, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("mirror endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("mirror access_key and secret_key are required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mirror client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "clavier-runs"
	}

	return &Mirror{mc: mc, bucket: bucket}, nil
}

func (m *Mirror) EnsureBucket(ctx context.Context) error {
	exists, err := m.mc.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := m.mc.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// UploadFile stores a local file under <prefix>/<base name of localPath>.
func (m *Mirror) UploadFile(ctx context.Context, prefix, localPath string) error {
	key := path.Join(prefix, path.Base(localPath))
	_, err := m.mc.FPutObject(ctx, m.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (m *Mirror) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.mc.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
