// Package covers looks up scanned cover files in object storage.
package covers

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Region skips the bucket location lookup when set.
	Region string
}

// MinioStore reads cover scans laid out as issues/<issue id>/<file>.
type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(cfg Config) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("cover storage endpoint is required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "covers"
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func issuePrefix(issueID int64) string {
	return fmt.Sprintf("issues/%d/", issueID)
}

// HasCovers reports whether any file is stored for the issue.
func (s *MinioStore) HasCovers(ctx context.Context, issueID int64) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    issuePrefix(issueID),
		Recursive: true,
		MaxKeys:   1,
	})
	for obj := range objects {
		if obj.Err != nil {
			return false, fmt.Errorf("list covers of issue %d: %w", issueID, obj.Err)
		}
		return true, nil
	}
	return false, nil
}

// Ready checks that the bucket exists.
func (s *MinioStore) Ready(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check cover bucket: %w", err)
	}
	if !ok {
		log.Printf("covers: bucket %s does not exist", s.bucket)
		return fmt.Errorf("cover bucket %s does not exist", s.bucket)
	}
	return nil
}
