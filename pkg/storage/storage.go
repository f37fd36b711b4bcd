package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrPermission = errors.New("object access denied")
)

// FileStorage keeps the raw bytes of uploaded documents. Write returns the
// storage path later passed to Read and Delete.
type FileStorage interface {
	Write(ctx context.Context, ownerKey, fileName string, data []byte) (string, error)
	Read(ctx context.Context, storagePath string) ([]byte, error)
	Delete(ctx context.Context, storagePath string) error
}

// ObjectKey builds the storage path for an owner's file. The owner segment
// carries a short digest so sanitised owners cannot collide.
func ObjectKey(ownerKey, fileName string) string {
	sum := sha256.Sum256([]byte(ownerKey))
	owner := SanitizeFilename(ownerKey)
	if owner == "" {
		owner = "owner"
	}
	name := SanitizeFilename(filepath.Base(fileName))
	if name == "" {
		name = "document"
	}
	return path.Join("documents", owner+"-"+hex.EncodeToString(sum[:4]), name)
}

// SanitizeFilename keeps ASCII letters, digits, '.', '-' and '_'; any other
// run of characters becomes a single underscore.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
