// Package s3store is a storage.ArtifactStore backed by AWS S3, for the
// external ArtifactReference storage mode in cloud-backed deployments.
package s3store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/storage"
)

// Store content-addresses artifacts under bucket/prefix by their own
// SHA-256 hash, so repeated Store calls for identical content are
// idempotent no-ops.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// Config configures a Store.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // custom endpoint, for MinIO/LocalStack
	Prefix   string
}

// New builds an S3-backed ArtifactStore.
func New(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("s3store: load aws config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}

	return &Store{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *Store) Store(ctx context.Context, data []byte) (string, error) {
	hash := sha256.Sum256(data)
	hashStr := hex.EncodeToString(hash[:])
	prefixedHash := "sha256:" + hashStr
	key := s.key(hashStr)

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err == nil {
		return prefixedHash, nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("s3store: put object: %w", err)
	}
	return prefixedHash, nil
}

func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	rawHash, err := stripPrefix(hash)
	if err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(rawHash))})
	if err != nil {
		return nil, fmt.Errorf("s3store: get object %s: %w", hash, err)
	}
	defer func() { _ = result.Body.Close() }()

	return io.ReadAll(result.Body)
}

func (s *Store) Exists(ctx context.Context, hash string) (bool, error) {
	rawHash, err := stripPrefix(hash)
	if err != nil {
		return false, err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(rawHash))})
	return err == nil, nil
}

func (s *Store) Delete(ctx context.Context, hash string) error {
	rawHash, err := stripPrefix(hash)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(rawHash))})
	if err != nil {
		return fmt.Errorf("s3store: delete object %s: %w", hash, err)
	}
	return nil
}

func (s *Store) key(rawHash string) string { return s.prefix + rawHash + ".blob" }

func stripPrefix(hash string) (string, error) {
	const prefix = "sha256:"
	if len(hash) < len(prefix) || hash[:len(prefix)] != prefix {
		return "", fmt.Errorf("s3store: invalid hash format: %s", hash)
	}
	return hash[len(prefix):], nil
}

var _ storage.ArtifactStore = (*Store)(nil)
