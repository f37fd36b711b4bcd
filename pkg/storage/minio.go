package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore implements FileStorage for MinIO/S3 compatible storage.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

// Write uploads the bytes under ObjectKey(ownerKey, fileName).
func (m *MinioStore) Write(ctx context.Context, ownerKey, fileName string, data []byte) (string, error) {
	key := ObjectKey(ownerKey, fileName)
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", mapMinioError("put object", err)
	}
	return key, nil
}

func (m *MinioStore) Read(ctx context.Context, storagePath string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, storagePath, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioError("get object", err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapMinioError("read object", err)
	}
	return data, nil
}

// Delete removes an object. RemoveObject succeeds for missing keys, so the
// object is checked first to report ErrNotFound.
func (m *MinioStore) Delete(ctx context.Context, storagePath string) error {
	if _, err := m.client.StatObject(ctx, m.bucket, storagePath, minio.StatObjectOptions{}); err != nil {
		return mapMinioError("stat object", err)
	}
	if err := m.client.RemoveObject(ctx, m.bucket, storagePath, minio.RemoveObjectOptions{}); err != nil {
		return mapMinioError("delete object", err)
	}
	return nil
}

func mapMinioError(op string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case "AccessDenied":
		return fmt.Errorf("%s: %w", op, ErrPermission)
	}
	return fmt.Errorf("%s: %w", op, err)
}
