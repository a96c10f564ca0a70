package dedup

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"dupeguard/imagedb"
	"dupeguard/imagedb/storage"
	"dupeguard/internal/config"
)

// Opener opens the storage of one chat.
type Opener = imagedb.Opener[int64, ImageMetadata]

// NewOpener returns the opener for the configured backend. root is the
// resolved storage root for the file and sqlite backends.
func NewOpener(ctx context.Context, cfg *config.Config, root string) (Opener, error) {
	switch cfg.Storage.Backend {
	case config.BackendFile, "":
		return fileOpener(root), nil
	case config.BackendSQLite:
		return sqliteOpener(root), nil
	case config.BackendMemory:
		return func(context.Context, int64) (storage.Storage[ImageMetadata], error) {
			return storage.NewMemory[ImageMetadata](), nil
		}, nil
	case config.BackendMinIO:
		return minioOpener(ctx, cfg.Storage.MinIO)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func chatName(chatID int64) string { return strconv.FormatInt(chatID, 10) }

// fileOpener stores each chat in <root>/<chat id>/.
func fileOpener(root string) Opener {
	return func(_ context.Context, chatID int64) (storage.Storage[ImageMetadata], error) {
		dir := filepath.Join(root, chatName(chatID))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
		return storage.NewFile[ImageMetadata](dir), nil
	}
}

// sqliteOpener stores each chat in <root>/<chat id>.db.
func sqliteOpener(root string) Opener {
	return func(_ context.Context, chatID int64) (storage.Storage[ImageMetadata], error) {
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", root, err)
		}
		return storage.NewSQLite[ImageMetadata](filepath.Join(root, chatName(chatID)+".db"))
	}
}

// minioOpener stores each chat under <prefix>/<chat id>/ in one bucket.
func minioOpener(ctx context.Context, mc config.MinIOConfig) (Opener, error) {
	client, err := minio.New(mc.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(mc.AccessKey, mc.SecretKey, ""),
		Secure: mc.UseSSL,
		Region: mc.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	if err := storage.EnsureBucket(ctx, client, mc.Bucket, mc.Region); err != nil {
		return nil, err
	}
	return func(_ context.Context, chatID int64) (storage.Storage[ImageMetadata], error) {
		return storage.NewMinIO[ImageMetadata](client, mc.Bucket, path.Join(mc.Prefix, chatName(chatID))), nil
	}, nil
}

// DiscoverChats lists the chats that already have storage under root, in
// ascending order. Only the file and sqlite backends can be discovered.
func DiscoverChats(backend, root string) ([]int64, error) {
	if backend != config.BackendFile && backend != config.BackendSQLite && backend != "" {
		return nil, fmt.Errorf("cannot list chats of the %s backend", backend)
	}

	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	var chats []int64
	for _, e := range entries {
		name := e.Name()
		if backend == config.BackendSQLite {
			if e.IsDir() || !strings.HasSuffix(name, ".db") {
				continue
			}
			name = strings.TrimSuffix(name, ".db")
		} else if !e.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		chats = append(chats, id)
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i] < chats[j] })
	return chats, nil
}
