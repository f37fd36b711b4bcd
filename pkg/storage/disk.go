package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore saves uploaded files to disk under a base directory.
type DiskStore struct {
	basePath string
}

// NewDiskStore creates the base directory if missing.
func NewDiskStore(basePath string) (*DiskStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &DiskStore{basePath: basePath}, nil
}

// Write stores data atomically: a temp file in the target directory is
// renamed over the final name.
func (d *DiskStore) Write(_ context.Context, ownerKey, fileName string, data []byte) (string, error) {
	key := ObjectKey(ownerKey, fileName)
	target, err := d.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", mapFSError("create dir", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", mapFSError("create file", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", mapFSError("write file", err)
	}
	if err := tmp.Close(); err != nil {
		return "", mapFSError("close file", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", mapFSError("rename file", err)
	}
	return key, nil
}

func (d *DiskStore) Read(_ context.Context, storagePath string) ([]byte, error) {
	target, err := d.resolve(storagePath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, mapFSError("read file", err)
	}
	return data, nil
}

func (d *DiskStore) Delete(_ context.Context, storagePath string) error {
	target, err := d.resolve(storagePath)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil {
		return mapFSError("delete file", err)
	}
	return nil
}

// resolve maps a storage path to a file under basePath, rejecting escapes.
func (d *DiskStore) resolve(storagePath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(storagePath))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage path %q: %w", storagePath, ErrPermission)
	}
	return filepath.Join(d.basePath, clean), nil
}

func mapFSError(op string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s: %w", op, ErrPermission)
	}
	return fmt.Errorf("%s: %w", op, err)
}
