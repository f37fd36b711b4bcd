package chathistory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const fileExt = ".json"

// FileStore keeps one JSON file per session under base/<owner>/<title>.json.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("chat history base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create chat history dir: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

func (f *FileStore) List(_ context.Context, owner string) ([]string, error) {
	if err := validKey(owner); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(f.basePath, owner))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chat history dir: %w", err)
	}
	titles := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		titles = append(titles, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(titles)
	return titles, nil
}

func (f *FileStore) Load(_ context.Context, owner, title string) (json.RawMessage, error) {
	path, err := f.path(owner, title)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read chat history: %w", err)
	}
	return data, nil
}

func (f *FileStore) Save(_ context.Context, owner, title string, data json.RawMessage) error {
	path, err := f.path(owner, title)
	if err != nil {
		return err
	}
	if err := validData(data); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create owner dir: %w", err)
	}
	return writeAtomic(path, data)
}

func (f *FileStore) Clear(_ context.Context, owner, title string) error {
	path, err := f.path(owner, title)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	} else if err != nil {
		return fmt.Errorf("stat chat history: %w", err)
	}
	return writeAtomic(path, cleared)
}

func (f *FileStore) Delete(_ context.Context, owner, title string) error {
	path, err := f.path(owner, title)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete chat history: %w", err)
	}
	return nil
}

func (f *FileStore) path(owner, title string) (string, error) {
	if err := validKey(owner, title); err != nil {
		return "", err
	}
	return filepath.Join(f.basePath, owner, title+fileExt), nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".history-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write chat history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close chat history: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace chat history: %w", err)
	}
	return nil
}
