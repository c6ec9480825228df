// Package storage resolves physical document sources for ingestion.
// Providers share a download-if-needed contract: GetFile returns a path
// on the local filesystem, fetching from remote object storage first
// when the provider is not local.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/kbforge/ingestd/internal/config"
)

// Store is the storage collaborator consumed by the ingestion worker.
type Store interface {
	// GetFile resolves path to a file on the local filesystem,
	// downloading it first when the backing store is remote.
	GetFile(ctx context.Context, path string) (string, error)
	// UploadFile persists the reader's contents under filename and
	// returns the contents together with the stored path.
	UploadFile(ctx context.Context, r io.Reader, filename string) ([]byte, string, error)
	// DeleteFile removes a single stored file.
	DeleteFile(ctx context.Context, path string) error
	// DeleteAllFiles removes every stored file.
	DeleteAllFiles(ctx context.Context) error
}

// Factory builds a Store from the storage configuration.
type Factory func(cfg config.StorageConfig) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register installs a provider factory under name. Later registrations
// replace earlier ones.
func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

// New builds the configured provider. An empty provider name selects
// local storage.
func New(cfg config.StorageConfig) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if key == "" {
		key = "local"
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
	return factory(cfg)
}
