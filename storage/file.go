package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/creachadair/atomicfile"
	"github.com/ruteri/medical-record-custody/interfaces"
)

const metaSuffix = ".meta.json"

// FileBackend implements a storage backend using the local file system.
// Each blob is stored under its hex content ID next to a JSON metadata sidecar.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a new file storage backend using the specified base directory.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if log == nil {
		log = slog.Default()
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Fetch retrieves data from the file system by its content identifier.
// Returns ErrContentNotFound if the file doesn't exist.
func (b *FileBackend) Fetch(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	filePath := b.getFilePath(id)

	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ErrContentNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	b.log.Debug("Fetched content from file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return data, nil
}

// Store writes the blob and its metadata sidecar atomically and returns the
// content identifier.
func (b *FileBackend) Store(ctx context.Context, data []byte, meta interfaces.ContentMetadata) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data, meta)
	filePath := b.getFilePath(id)

	encodedMeta, err := json.Marshal(meta)
	if err != nil {
		return id, fmt.Errorf("failed to encode metadata: %w", err)
	}

	if err := writeAtomic(filePath+metaSuffix, encodedMeta); err != nil {
		return id, fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := writeAtomic(filePath, data); err != nil {
		return id, fmt.Errorf("failed to write file: %w", err)
	}

	b.log.Debug("Stored content in file",
		slog.String("path", filePath),
		slog.String("content_id", id.Short()))

	return id, nil
}

// Metadata returns the sidecar metadata stored with a blob.
func (b *FileBackend) Metadata(ctx context.Context, id interfaces.ContentID) (interfaces.ContentMetadata, error) {
	raw, err := os.ReadFile(b.getFilePath(id) + metaSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ErrContentNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta interfaces.ContentMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return meta, nil
}

// Unpin removes the blob and its sidecar. Missing files are not an error.
func (b *FileBackend) Unpin(ctx context.Context, id interfaces.ContentID) error {
	filePath := b.getFilePath(id)
	for _, p := range []string{filePath, filePath + metaSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(p), err)
		}
	}

	b.log.Debug("Unpinned content from file", slog.String("content_id", id.Short()))
	return nil
}

// Available checks if the file backend is accessible by verifying the base directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) getFilePath(id interfaces.ContentID) string {
	return filepath.Join(b.baseDir, id.String())
}

func writeAtomic(path string, data []byte) error {
	return atomicfile.Tx(path, 0600, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
