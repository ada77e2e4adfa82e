package storage

import (
	"context"
	"io"
	"time"
)

type Storage interface {
	// PresignUpload returns a key and a URL the client PUTs the audio
	// bytes to directly; the backend never proxies the file.
	PresignUpload(ctx context.Context, filename, contentType string, expiration time.Duration) (*UploadTarget, error)
	// PresignDownload returns a URL the STT provider can fetch the
	// uploaded audio from.
	PresignDownload(ctx context.Context, key string, expiration time.Duration) (string, error)
	UploadFile(ctx context.Context, filename string, content io.Reader, contentType string) (*UploadResult, error)
	DeleteFile(ctx context.Context, key string) error
}

type UploadTarget struct {
	Key       string
	UploadURL string
}

type UploadResult struct {
	Key string
	URL string
}
