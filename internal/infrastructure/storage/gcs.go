package storage

import (
	"context"
	"io"

	gcs "cloud.google.com/go/storage"

	"github.com/oksasatya/profile-service/internal/domain/repository"
	"github.com/oksasatya/profile-service/pkg/helpers"
)

// GCSStore keeps avatar objects in a Google Cloud Storage bucket.
type GCSStore struct {
	Client *gcs.Client
	Bucket string
}

func NewGCSStore(client *gcs.Client, bucket string) *GCSStore {
	return &GCSStore{Client: client, Bucket: bucket}
}

func (s *GCSStore) Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	return helpers.UploadObject(ctx, s.Client, s.Bucket, key, contentType, r)
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return helpers.DeleteObject(ctx, s.Client, s.Bucket, key)
}

func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	return helpers.ObjectExists(ctx, s.Client, s.Bucket, key)
}

func (s *GCSStore) URL(key string) string {
	if key == "" {
		return ""
	}
	return helpers.PublicURL(s.Bucket, key)
}

var _ repository.AvatarStore = (*GCSStore)(nil)
