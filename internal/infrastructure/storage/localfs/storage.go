// Package localfs stores uploaded documents as flat files under one
// directory. Keys are produced by the ingest use case and never contain path
// separators.
package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const defaultBasePath = "./data/storage"

type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = defaultBasePath
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", basePath, err)
	}
	return &Storage{basePath: basePath}, nil
}

// Save writes through a temporary file so a crashed upload never leaves a
// partial object under the final key.
func (s *Storage) Save(_ context.Context, key string, data io.Reader) error {
	final := filepath.Join(s.basePath, key)

	tmp, err := os.CreateTemp(s.basePath, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("publish object %s: %w", key, err)
	}
	return nil
}

func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.basePath, key))
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return f, nil
}
