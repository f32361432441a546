package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/medical-record-custody/interfaces"
)

// IPFSBackend implements a storage backend on an IPFS node. Blobs are added
// (and pinned) by the node, then named in MFS under /<namespace>/<content id>
// so they can be found again by the content ID the pipeline knows.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	namespace   string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates a new IPFS storage backend connected to the specified host and port.
func NewIPFSBackend(host, port, namespace string, timeout time.Duration, log *slog.Logger) (*IPFSBackend, error) {
	if log == nil {
		log = slog.Default()
	}
	if namespace == "" {
		namespace = "records"
	}

	apiURL := fmt.Sprintf("%s:%s", host, port)
	sh := shell.NewShell(apiURL)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}

	return &IPFSBackend{
		shell:       sh,
		host:        host,
		port:        port,
		namespace:   strings.Trim(namespace, "/"),
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s/%s?timeout=%s", apiURL, namespace, timeout),
	}, nil
}

// Fetch reads the blob named by id from MFS.
// Returns ErrContentNotFound if the name doesn't exist, ErrBackendUnavailable
// if the IPFS node is not accessible.
func (b *IPFSBackend) Fetch(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	start := time.Now()
	mfsPath := b.getMFSPath(id)

	if !b.shell.IsUp() {
		b.log.Warn("IPFS node unavailable",
			slog.String("host", b.host),
			slog.String("port", b.port))
		return nil, interfaces.ErrBackendUnavailable
	}

	reader, err := b.shell.FilesRead(ctx, mfsPath)
	if err != nil {
		if isIPFSNotFound(err) {
			return nil, interfaces.ErrContentNotFound
		}
		b.log.Error("Failed to fetch data from IPFS",
			slog.String("path", mfsPath),
			"err", err)
		return nil, fmt.Errorf("failed to fetch data from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data from IPFS: %w", err)
	}

	b.log.Debug("Fetched content from IPFS",
		slog.String("path", mfsPath),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Store adds data to IPFS and links the resulting CID into MFS.
func (b *IPFSBackend) Store(ctx context.Context, data []byte, meta interfaces.ContentMetadata) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data, meta)

	if !b.shell.IsUp() {
		return id, interfaces.ErrBackendUnavailable
	}

	cid, err := b.shell.Add(bytes.NewReader(data))
	if err != nil {
		return id, fmt.Errorf("failed to add data to IPFS: %w", err)
	}

	if err := b.shell.FilesMkdir(ctx, "/"+b.namespace); err != nil && !isIPFSExists(err) {
		return id, fmt.Errorf("failed to create MFS directory: %w", err)
	}

	mfsPath := b.getMFSPath(id)
	if err := b.shell.FilesCp(ctx, "/ipfs/"+cid, mfsPath); err != nil && !isIPFSExists(err) {
		return id, fmt.Errorf("failed to link %s into MFS: %w", cid, err)
	}

	b.log.Debug("Stored content in IPFS",
		slog.String("ipfs_cid", cid),
		slog.String("content_id", id.Short()))

	return id, nil
}

// Unpin removes the MFS name and the pin on the underlying CID.
func (b *IPFSBackend) Unpin(ctx context.Context, id interfaces.ContentID) error {
	if !b.shell.IsUp() {
		return interfaces.ErrBackendUnavailable
	}

	mfsPath := b.getMFSPath(id)
	stat, err := b.shell.FilesStat(ctx, mfsPath)
	if err != nil {
		if isIPFSNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", mfsPath, err)
	}

	if err := b.shell.FilesRm(ctx, mfsPath, true); err != nil && !isIPFSNotFound(err) {
		return fmt.Errorf("failed to remove %s: %w", mfsPath, err)
	}

	if err := b.shell.Unpin(stat.Hash); err != nil && !isIPFSNotPinned(err) {
		return fmt.Errorf("failed to unpin %s: %w", stat.Hash, err)
	}

	b.log.Debug("Unpinned content from IPFS",
		slog.String("ipfs_cid", stat.Hash),
		slog.String("content_id", id.Short()))
	return nil
}

// Available checks if the IPFS node is accessible.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this storage backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

func (b *IPFSBackend) getMFSPath(id interfaces.ContentID) string {
	return fmt.Sprintf("/%s/%s", b.namespace, id.String())
}

func isIPFSNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found")
}

func isIPFSExists(err error) bool {
	return strings.Contains(err.Error(), "already exists")
}

func isIPFSNotPinned(err error) bool {
	return strings.Contains(err.Error(), "not pinned")
}
