package preflight

import (
	"context"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// GCSChecker checks buckets in Google Cloud Storage.
type GCSChecker struct {
	client *storage.Client
}

// NewGCSChecker returns a GCSChecker. Without options, application default credentials are
// used.
func NewGCSChecker(ctx context.Context, opts ...option.ClientOption) (*GCSChecker, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize GCS client")
	}
	return &GCSChecker{client: client}, nil
}

// BucketExists implements BucketChecker.
func (g *GCSChecker) BucketExists(ctx context.Context, bucket string) error {
	_, err := g.client.Bucket(bucket).Attrs(ctx)
	if errors.Is(err, storage.ErrBucketNotExist) {
		return ErrBucketNotFound
	}
	return err
}

// Close releases the underlying client.
func (g *GCSChecker) Close() error {
	return g.client.Close()
}
