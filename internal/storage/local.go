package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalStorage is the dev-mode backend. "Presigned" URLs point at the
// local file server routes; expiration is not enforced.
type LocalStorage struct {
	baseDir string
	baseURL string
}

func NewLocalStorage(baseDir, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{
		baseDir: baseDir,
		baseURL: baseURL,
	}, nil
}

func (s *LocalStorage) PresignUpload(ctx context.Context, filename, contentType string, expiration time.Duration) (*UploadTarget, error) {
	key := s.generateKey(filename)
	return &UploadTarget{
		Key:       key,
		UploadURL: fmt.Sprintf("%s/upload/%s", s.baseURL, key),
	}, nil
}

func (s *LocalStorage) PresignDownload(ctx context.Context, key string, expiration time.Duration) (string, error) {
	return fmt.Sprintf("%s/%s", s.baseURL, key), nil
}

func (s *LocalStorage) UploadFile(ctx context.Context, filename string, content io.Reader, contentType string) (*UploadResult, error) {
	key := s.generateKey(filename)
	if err := s.WriteKey(key, content); err != nil {
		return nil, err
	}

	return &UploadResult{
		Key: key,
		URL: fmt.Sprintf("%s/%s", s.baseURL, key),
	}, nil
}

// BaseDir reports the root directory files are stored under.
func (s *LocalStorage) BaseDir() string {
	return s.baseDir
}

// WriteKey stores bytes under an already-generated key. Used by the local
// upload handler, which receives the client PUT for a presigned target.
func (s *LocalStorage) WriteKey(key string, content io.Reader) error {
	if strings.Contains(key, "..") {
		return fmt.Errorf("invalid key: %s", key)
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return fmt.Errorf("failed to read file content: %w", err)
	}

	filePath := filepath.Join(s.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory structure: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	slog.Info("file stored locally", "key", key, "size", len(data))
	return nil
}

func (s *LocalStorage) DeleteFile(ctx context.Context, key string) error {
	filePath := filepath.Join(s.baseDir, key)

	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	slog.Info("file deleted from local storage", "key", key, "path", filePath)
	return nil
}

func (s *LocalStorage) generateKey(filename string) string {
	ext := filepath.Ext(filename)
	basename := filename[:len(filename)-len(ext)]

	safeBasename := filepath.Base(basename)

	timestamp := time.Now().Format("2006/01/02")
	uniqueID := uuid.New().String()[:8]

	return fmt.Sprintf("audio/%s/%s_%s%s", timestamp, safeBasename, uniqueID, ext)
}
