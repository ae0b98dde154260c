package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/awlabs/trellis/internal/config"
)

type (
	// BlobMapping implements Mapping over a gocloud.dev blob bucket,
	// covering local directories (fileblob), in-memory buckets, and
	// S3/GCS/Azure object stores behind a single driver surface
	BlobMapping struct {
		bucket  *blob.Bucket
		prefix  string
		baseURL string
	}

	blobIterator struct {
		m      *BlobMapping
		prefix string
		it     *blob.ListIterator
	}
)

var _ Mapping = (*BlobMapping)(nil)

// Open constructs the Mapping selected by the storage configuration
func Open(ctx context.Context, cfg *config.StorageConfig) (Mapping, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		bucket, err := fileblob.OpenBucket(cfg.Path, &fileblob.Options{
			CreateDir: true,
		})
		if err != nil {
			return nil, translateError(err)
		}
		return newBlobMapping(bucket, cfg.Prefix, "file://"+cfg.Path), nil

	case config.BackendMemory:
		return newBlobMapping(memblob.OpenBucket(nil), cfg.Prefix, "mem://"), nil

	case config.BackendBucket:
		bucket, err := blob.OpenBucket(ctx, cfg.BucketURL)
		if err != nil {
			return nil, translateError(err)
		}
		return newBlobMapping(bucket, cfg.Prefix, cfg.BucketURL), nil
	}

	return nil, fmt.Errorf("%w: %s", config.ErrInvalidBackend, cfg.Backend)
}

func newBlobMapping(bucket *blob.Bucket, prefix, baseURL string) *BlobMapping {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &BlobMapping{
		bucket:  bucket,
		prefix:  prefix,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (m *BlobMapping) Save(
	ctx context.Context, key string, r io.Reader,
) (string, error) {
	w, err := m.bucket.NewWriter(ctx, m.keyFor(key), nil)
	if err != nil {
		return "", translateError(err)
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", translateError(err)
	}
	if err := w.Close(); err != nil {
		return "", translateError(err)
	}
	return m.URL(key), nil
}

func (m *BlobMapping) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := m.bucket.ReadAll(ctx, m.keyFor(key))
	if err != nil {
		return nil, translateError(err)
	}
	return data, nil
}

func (m *BlobMapping) NewReader(
	ctx context.Context, key string,
) (io.ReadCloser, error) {
	r, err := m.bucket.NewReader(ctx, m.keyFor(key), nil)
	if err != nil {
		return nil, translateError(err)
	}
	return r, nil
}

func (m *BlobMapping) Delete(ctx context.Context, key string) error {
	if err := m.bucket.Delete(ctx, m.keyFor(key)); err != nil {
		return translateError(err)
	}
	return nil
}

func (m *BlobMapping) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := m.bucket.Exists(ctx, m.keyFor(key))
	if err != nil {
		return false, translateError(err)
	}
	return ok, nil
}

func (m *BlobMapping) Size(ctx context.Context, key string) (int64, error) {
	attrs, err := m.bucket.Attributes(ctx, m.keyFor(key))
	if err != nil {
		return 0, translateError(err)
	}
	return attrs.Size, nil
}

func (m *BlobMapping) List(prefix string) ListIterator {
	return &blobIterator{m: m, prefix: prefix}
}

func (m *BlobMapping) URL(key string) string {
	return m.baseURL + "/" + m.keyFor(key)
}

func (m *BlobMapping) Close() error {
	return m.bucket.Close()
}

func (m *BlobMapping) keyFor(key string) string {
	return m.prefix + key
}

func (it *blobIterator) Next(ctx context.Context) (string, error) {
	if it.it == nil {
		it.it = it.m.bucket.List(&blob.ListOptions{
			Prefix: it.m.keyFor(it.prefix),
		})
	}

	for {
		obj, err := it.it.Next(ctx)
		if err == io.EOF {
			return "", io.EOF
		}
		if err != nil {
			return "", translateError(err)
		}
		if obj.IsDir {
			continue
		}
		return strings.TrimPrefix(obj.Key, it.m.prefix), nil
	}
}

// translateError maps gocloud error codes onto the facade's taxonomy so
// callers see consistent errors across every backend
func translateError(err error) error {
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case gcerrors.PermissionDenied:
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrIO, err)
}
