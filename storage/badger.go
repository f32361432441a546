package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/ruteri/medical-record-custody/interfaces"
)

// badgerChunkSize keeps every value below badger's value threshold, so blobs
// stay in the LSM tree. In-memory databases have no value log and cannot
// hold larger values.
const badgerChunkSize = 256 << 10

var errIncompleteBlob = errors.New("blob is missing chunks")

// BadgerBackend implements a storage backend on an embedded Badger database.
// A blob is a header under blob/<id> holding its size, followed by chunks
// under chunk/<id>/<n>. Metadata lives under meta/<id>.
type BadgerBackend struct {
	db          *badger.DB
	dir         string
	log         *slog.Logger
	locationURI string
}

// NewBadgerBackend opens (or creates) a Badger database in dir. An empty dir
// opens an in-memory database.
func NewBadgerBackend(dir string, log *slog.Logger) (*BadgerBackend, error) {
	if log == nil {
		log = slog.Default()
	}

	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &BadgerBackend{
		db:          db,
		dir:         dir,
		log:         log,
		locationURI: fmt.Sprintf("badger://%s", dir),
	}, nil
}

// Close releases the underlying database.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

// Fetch retrieves a blob by its content identifier.
func (b *BadgerBackend) Fetch(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		size, err := readBlobHeader(txn, id)
		if err != nil {
			return err
		}

		data = make([]byte, 0, size)
		for i := 0; i < chunkCount(size); i++ {
			item, err := txn.Get(chunkKey(id, i))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("chunk %d: %w", i, errIncompleteBlob)
			} else if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				data = append(data, val...)
				return nil
			}); err != nil {
				return err
			}
		}
		if uint64(len(data)) != size {
			return fmt.Errorf("read %d of %d bytes: %w", len(data), size, errIncompleteBlob)
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, interfaces.ErrContentNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}

	b.log.Debug("Fetched content from badger",
		slog.String("content_id", id.Short()),
		slog.Int("size", len(data)))
	return data, nil
}

// Store writes the chunks of a blob, then its header and metadata. A blob
// becomes visible only once its header is written.
func (b *BadgerBackend) Store(ctx context.Context, data []byte, meta interfaces.ContentMetadata) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data, meta)

	encodedMeta, err := json.Marshal(meta)
	if err != nil {
		return id, fmt.Errorf("failed to encode metadata: %w", err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for i := 0; i < chunkCount(uint64(len(data))); i++ {
		end := min((i+1)*badgerChunkSize, len(data))
		if err := wb.Set(chunkKey(id, i), data[i*badgerChunkSize:end]); err != nil {
			return id, fmt.Errorf("failed to write chunk: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return id, fmt.Errorf("failed to write chunks: %w", err)
	}

	var header [8]byte
	binary.BigEndian.PutUint64(header[:], uint64(len(data)))
	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(metaKey(id), encodedMeta); err != nil {
			return err
		}
		return txn.Set(blobKey(id), header[:])
	})
	if err != nil {
		return id, fmt.Errorf("failed to write blob: %w", err)
	}

	b.log.Debug("Stored content in badger",
		slog.String("content_id", id.Short()),
		slog.Int("chunks", chunkCount(uint64(len(data)))))
	return id, nil
}

// Metadata returns the metadata stored with a blob.
func (b *BadgerBackend) Metadata(ctx context.Context, id interfaces.ContentID) (interfaces.ContentMetadata, error) {
	var meta interfaces.ContentMetadata
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, interfaces.ErrContentNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	return meta, nil
}

// Unpin deletes the header and metadata first, so readers stop seeing the
// blob, then its chunks. Deleting absent keys succeeds.
func (b *BadgerBackend) Unpin(ctx context.Context, id interfaces.ContentID) error {
	var size uint64
	err := b.db.Update(func(txn *badger.Txn) error {
		var err error
		size, err = readBlobHeader(txn, id)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Delete(blobKey(id)); err != nil {
			return err
		}
		return txn.Delete(metaKey(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for i := 0; i < chunkCount(size); i++ {
		if err := wb.Delete(chunkKey(id, i)); err != nil {
			return fmt.Errorf("failed to delete chunk: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	b.log.Debug("Unpinned content from badger", slog.String("content_id", id.Short()))
	return nil
}

// Available reports whether the database is open.
func (b *BadgerBackend) Available(ctx context.Context) bool {
	return !b.db.IsClosed()
}

// Name returns a unique identifier for this storage backend.
func (b *BadgerBackend) Name() string {
	if b.dir == "" {
		return "badger-memory"
	}
	return fmt.Sprintf("badger-%s", filepath.Base(b.dir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *BadgerBackend) LocationURI() string {
	return b.locationURI
}

func readBlobHeader(txn *badger.Txn, id interfaces.ContentID) (uint64, error) {
	item, err := txn.Get(blobKey(id))
	if err != nil {
		return 0, err
	}
	var size uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("header of %d bytes: %w", len(val), errIncompleteBlob)
		}
		size = binary.BigEndian.Uint64(val)
		return nil
	})
	return size, err
}

func chunkCount(size uint64) int {
	return int((size + badgerChunkSize - 1) / badgerChunkSize)
}

func blobKey(id interfaces.ContentID) []byte {
	return []byte("blob/" + id.String())
}

func chunkKey(id interfaces.ContentID, n int) []byte {
	return []byte(fmt.Sprintf("chunk/%s/%08x", id.String(), n))
}

func metaKey(id interfaces.ContentID) []byte {
	return []byte("meta/" + id.String())
}
