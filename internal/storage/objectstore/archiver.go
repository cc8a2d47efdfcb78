package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Archiver copies file outputs of a run into the results bucket under
// <prefix>/<run id>/<output key>/<file name>.
type Archiver struct {
	store  Store
	bucket string
	prefix string
}

func NewArchiver(store Store, bucket, prefix string) *Archiver {
	if store == nil || strings.TrimSpace(bucket) == "" {
		return nil
	}
	return &Archiver{store: store, bucket: strings.TrimSpace(bucket), prefix: strings.Trim(prefix, "/ ")}
}

// Archive uploads the local file at localPath and returns its object key.
func (a *Archiver) Archive(ctx context.Context, runID, outputKey, localPath string) (string, error) {
	if a == nil {
		return "", errors.New("archiver not initialized")
	}
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open output %s: %w", outputKey, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat output %s: %w", outputKey, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("output %s: %s is a directory", outputKey, localPath)
	}

	objectKey := ObjectKey(a.prefix, runID, outputKey, localPath)
	if err := a.store.Put(ctx, a.bucket, objectKey, f, info.Size(), contentType(localPath)); err != nil {
		return "", fmt.Errorf("upload output %s: %w", outputKey, err)
	}
	stored, err := a.store.Stat(ctx, a.bucket, objectKey)
	if err != nil {
		return "", fmt.Errorf("verify output %s: %w", outputKey, err)
	}
	if stored.Size != info.Size() {
		return "", fmt.Errorf("verify output %s: stored %d bytes, local file has %d", outputKey, stored.Size, info.Size())
	}
	return objectKey, nil
}

// Open streams an archived output back. The caller closes the reader.
func (a *Archiver) Open(ctx context.Context, objectKey string) (io.ReadCloser, ObjectInfo, error) {
	if a == nil {
		return nil, ObjectInfo{}, errors.New("archiver not initialized")
	}
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		return nil, ObjectInfo{}, errors.New("object key is required")
	}
	body, info, err := a.store.Get(ctx, a.bucket, objectKey)
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("open %s: %w", objectKey, err)
	}
	return body, info, nil
}

// ObjectKey is <prefix>/<run id>/<output key>/<file name>.
func ObjectKey(prefix, runID, outputKey, localPath string) string {
	return path.Join(prefix, runID, outputKey, filepath.Base(localPath))
}

func contentType(name string) string {
	if strings.HasSuffix(name, ".nii.gz") {
		return "application/gzip"
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
