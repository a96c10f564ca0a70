package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
)

var errObjectNotFound = errors.New("storage: object not found")

// objectAPI is the subset of an object store that MinIO needs.
type objectAPI interface {
	put(ctx context.Context, key string, data []byte, contentType string) error
	get(ctx context.Context, key string) ([]byte, error)
	list(ctx context.Context, prefix string) ([]string, error)
}

// MinIO stores images in an S3-compatible bucket using the same layout as
// File: one object per image plus a JSON sidecar object, all under prefix.
type MinIO[T Metadata] struct {
	api    objectAPI
	prefix string
}

// NewMinIO creates a storage for one partition. prefix is the partition's
// key prefix inside the bucket (e.g. "images/-100123").
func NewMinIO[T Metadata](client *minio.Client, bucket, prefix string) *MinIO[T] {
	return &MinIO[T]{
		api:    &minioAPI{client: client, bucket: bucket},
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *MinIO[T]) key(name string) string {
	return path.Join(s.prefix, name)
}

// Save uploads the sidecar first and the image second.
func (s *MinIO[T]) Save(ctx context.Context, img Image[T]) error {
	name := img.Metadata.FileName()
	if err := ValidateName(name); err != nil {
		return err
	}

	metaJSON, err := json.Marshal(img.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata for %s: %w", name, err)
	}

	sidecar := SidecarName(name)
	if err := s.api.put(ctx, s.key(sidecar), metaJSON, "application/json"); err != nil {
		return fmt.Errorf("failed to upload %s: %w", sidecar, err)
	}
	if err := s.api.put(ctx, s.key(name), img.Bytes, http.DetectContentType(img.Bytes)); err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	return nil
}

// LoadAll downloads every image under the prefix in lexical key order.
func (s *MinIO[T]) LoadAll(ctx context.Context) ([]Image[T], error) {
	listPrefix := ""
	if s.prefix != "" {
		listPrefix = s.prefix + "/"
	}
	keys, err := s.api.list(ctx, listPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", listPrefix, err)
	}

	names := make(map[string]bool, len(keys))
	for _, k := range keys {
		name := strings.TrimPrefix(k, listPrefix)
		// Nested keys belong to other partitions.
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		names[name] = true
	}

	primaries := make([]string, 0, len(names))
	for name := range names {
		if !IsSidecar(name) && !strings.HasPrefix(name, ".") {
			primaries = append(primaries, name)
		}
	}
	sort.Strings(primaries)

	images := make([]Image[T], 0, len(primaries))
	for _, name := range primaries {
		sidecar := SidecarName(name)
		if !names[sidecar] {
			return nil, fmt.Errorf("%w: %s has no %s", ErrMissingSidecar, name, sidecar)
		}

		data, err := s.api.get(ctx, s.key(name))
		if err != nil {
			return nil, fmt.Errorf("failed to download %s: %w", name, err)
		}
		metaJSON, err := s.api.get(ctx, s.key(sidecar))
		if err != nil {
			return nil, fmt.Errorf("failed to download %s: %w", sidecar, err)
		}

		var meta T
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSidecar, sidecar, err)
		}
		images = append(images, NewImage(data, meta))
	}
	return images, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

// minioAPI adapts *minio.Client to objectAPI.
type minioAPI struct {
	client *minio.Client
	bucket string
}

func (m *minioAPI) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	return err
}

func (m *minioAPI) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", errObjectNotFound, key)
		}
		return nil, err
	}
	return data, nil
}

func (m *minioAPI) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
