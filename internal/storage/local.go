package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kbforge/ingestd/internal/config"
	ierrors "github.com/kbforge/ingestd/internal/errors"
)

func init() {
	Register("local", newLocalStore)
}

// LocalStore keeps uploads on the local filesystem under a single
// upload directory. GetFile is a passthrough.
type LocalStore struct {
	uploadDir string
}

var _ Store = (*LocalStore)(nil)

func newLocalStore(cfg config.StorageConfig) (Store, error) {
	if cfg.UploadDir == "" {
		return nil, fmt.Errorf("storage.upload_dir is required")
	}
	return &LocalStore{uploadDir: cfg.UploadDir}, nil
}

func (s *LocalStore) GetFile(ctx context.Context, path string) (string, error) {
	_ = ctx
	return path, nil
}

func (s *LocalStore) UploadFile(ctx context.Context, r io.Reader, filename string) ([]byte, string, error) {
	_ = ctx
	contents, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if len(contents) == 0 {
		return nil, "", ierrors.EmptyContent()
	}
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, "", err
	}
	path := filepath.Join(s.uploadDir, filepath.Base(filename))
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		return nil, "", err
	}
	return contents, path, nil
}

// DeleteFile removes the named file from the upload directory. Only the
// base name of path is honored so callers can pass full stored paths.
func (s *LocalStore) DeleteFile(ctx context.Context, path string) error {
	_ = ctx
	local := filepath.Join(s.uploadDir, filepath.Base(path))
	if _, err := os.Stat(local); err != nil {
		slog.Warn("file not found in local storage", slog.String("path", local))
		return nil
	}
	return os.Remove(local)
}

func (s *LocalStore) DeleteAllFiles(ctx context.Context) error {
	_ = ctx
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("upload directory not found", slog.String("dir", s.uploadDir))
			return nil
		}
		return err
	}
	for _, entry := range entries {
		path := filepath.Join(s.uploadDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("failed to delete stored file",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
	return nil
}
