// Package gcsstore is a storage.ArtifactStore backed by Google Cloud
// Storage, for the external ArtifactReference storage mode in
// GCP-backed deployments.
package gcsstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	atlasstorage "github.com/Mindburn-Labs/atlas-runtime/pkg/storage"
)

// Store content-addresses artifacts under bucket/prefix by their own
// SHA-256 hash, so repeated Store calls for identical content are
// idempotent no-ops.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

// Config configures a Store.
type Config struct {
	Bucket string
	Prefix string
}

// New builds a GCS-backed ArtifactStore, using application default
// credentials.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcsstore: create client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *Store) Store(ctx context.Context, data []byte) (string, error) {
	hash := sha256.Sum256(data)
	hashStr := hex.EncodeToString(hash[:])
	prefixedHash := "sha256:" + hashStr

	obj := s.object(hashStr)
	if _, err := obj.Attrs(ctx); err == nil {
		return prefixedHash, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcsstore: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcsstore: close writer: %w", err)
	}
	return prefixedHash, nil
}

func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	rawHash, err := stripPrefix(hash)
	if err != nil {
		return nil, err
	}

	reader, err := s.object(rawHash).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcsstore: get %s: %w", hash, err)
	}
	defer func() { _ = reader.Close() }()

	return io.ReadAll(reader)
}

func (s *Store) Exists(ctx context.Context, hash string) (bool, error) {
	rawHash, err := stripPrefix(hash)
	if err != nil {
		return false, err
	}

	_, err = s.object(rawHash).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gcsstore: attrs: %w", err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, hash string) error {
	rawHash, err := stripPrefix(hash)
	if err != nil {
		return err
	}

	err = s.object(rawHash).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcsstore: delete %s: %w", hash, err)
	}
	return nil
}

// Close releases the underlying GCS client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) object(rawHash string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + rawHash + ".blob")
}

func stripPrefix(hash string) (string, error) {
	const prefix = "sha256:"
	if len(hash) < len(prefix) || hash[:len(prefix)] != prefix {
		return "", fmt.Errorf("gcsstore: invalid hash format: %s", hash)
	}
	return hash[len(prefix):], nil
}

var _ atlasstorage.ArtifactStore = (*Store)(nil)
