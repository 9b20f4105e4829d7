package postman

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/flowlab/oauth-playground/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"
)

// Publisher uploads generated files to an S3-compatible bucket.
type Publisher struct {
	client *minio.Client
	bucket string
	prefix string
	region string
}

// NewPublisher connects to the configured bucket endpoint. No request is
// made until Publish.
func NewPublisher(cfg config.BucketConfig) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("postman: bucket publishing is not configured")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("postman: create bucket client: %w", err)
	}
	return &Publisher{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		region: region,
	}, nil
}

// ObjectName is the key a file is stored under.
func (p *Publisher) ObjectName(name string) string {
	if p.prefix == "" {
		return name
	}
	return path.Join(p.prefix, name)
}

// Publish uploads files, creating the bucket when it does not exist, and
// returns the object keys.
func (p *Publisher) Publish(ctx context.Context, files []File) ([]string, error) {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return nil, fmt.Errorf("postman: check bucket %s: %w", p.bucket, err)
	}
	if !exists {
		if err = p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region}); err != nil {
			return nil, fmt.Errorf("postman: create bucket %s: %w", p.bucket, err)
		}
		log.WithField("bucket", p.bucket).Info("created bucket for postman files")
	}

	keys := make([]string, 0, len(files))
	for _, f := range files {
		key := p.ObjectName(f.Name)
		info, errPut := p.client.PutObject(ctx, p.bucket, key, bytes.NewReader(f.Data), int64(len(f.Data)), minio.PutObjectOptions{
			ContentType: "application/json",
		})
		if errPut != nil {
			return keys, fmt.Errorf("postman: upload %s: %w", key, errPut)
		}
		log.WithFields(log.Fields{"bucket": p.bucket, "key": key, "size": info.Size}).Debug("published postman file")
		keys = append(keys, key)
	}
	return keys, nil
}
