package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/atomic"

	"github.com/ruteri/medical-record-custody/cache"
	"github.com/ruteri/medical-record-custody/cryptoutils"
	"github.com/ruteri/medical-record-custody/interfaces"
)

const recordsFingerprint = "records"

// Config holds the collaborators of a Pipeline.
type Config struct {
	Store  interfaces.StorageBackend
	Ledger interfaces.RecordLedger
	Oracle interfaces.AccessOracle

	// Cache, if set, holds List results. It must be dedicated to this pipeline.
	Cache *cache.Cache

	// FixedSecret is used for WalletOnly secrets. Empty means DefaultFixedSecret.
	FixedSecret string

	Log *slog.Logger
}

// Pipeline moves medical files between callers and encrypted storage.
// It is safe for concurrent use; it keeps no per-file state.
type Pipeline struct {
	store       interfaces.StorageBackend
	ledger      interfaces.RecordLedger
	oracle      interfaces.AccessOracle
	cache       *cache.Cache
	fixedSecret string
	log         *slog.Logger

	uploads    atomic.Int64
	retrievals atomic.Int64
	denials    atomic.Int64
	deletes    atomic.Int64
	renames    atomic.Int64
	orphans    atomic.Int64
}

// NewPipeline creates a pipeline over the given collaborators.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil || cfg.Ledger == nil || cfg.Oracle == nil {
		return nil, errors.New("custody: store, ledger and oracle are required")
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	fixedSecret := cfg.FixedSecret
	if fixedSecret == "" {
		fixedSecret = DefaultFixedSecret
	}

	return &Pipeline{
		store:       cfg.Store,
		ledger:      cfg.Ledger,
		oracle:      cfg.Oracle,
		cache:       cfg.Cache,
		fixedSecret: fixedSecret,
		log:         log,
	}, nil
}

// UploadRequest describes a file to upload.
type UploadRequest struct {
	Data     []byte
	Owner    interfaces.Address
	Secret   Secret
	Category interfaces.Category
	Filename string
	FileType string
	// Extra is stored as display metadata. It cannot override the owner,
	// category, filename or file type.
	Extra map[string]string
}

// UploadResult describes a stored file.
type UploadResult struct {
	ContentID     interfaces.ContentID
	EncryptedSize int
	OriginalSize  int
}

// Upload encrypts req.Data under a key derived from the owner and secret,
// stores the combined blob and appends a ledger entry pointing at it.
//
// If the ledger append fails the stored blob is left in place unreferenced.
func (p *Pipeline) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	if err := req.Category.Validate(); err != nil {
		return UploadResult{}, err
	}

	key, err := p.deriveKey(req.Owner, req.Secret)
	if err != nil {
		return UploadResult{}, err
	}

	ciphertext, iv, err := cryptoutils.Encrypt(req.Data, key)
	if err != nil {
		return UploadResult{}, fmt.Errorf("encrypt: %w", err)
	}
	combined := cryptoutils.Combine(ciphertext, iv)

	meta := make(interfaces.ContentMetadata, len(req.Extra)+4)
	for k, v := range req.Extra {
		meta[k] = v
	}
	meta[interfaces.MetaOwner] = req.Owner.String()
	meta[interfaces.MetaCategory] = req.Category.String()
	meta[interfaces.MetaFilename] = req.Filename
	meta[interfaces.MetaFileType] = req.FileType

	id, err := p.store.Store(ctx, combined, meta)
	if err != nil {
		return UploadResult{}, fmt.Errorf("store: %w", err)
	}

	if _, err := p.ledger.Append(ctx, req.Owner, id, req.FileType, req.Category); err != nil {
		p.orphans.Inc()
		p.log.Warn("Ledger append failed, stored blob is orphaned",
			slog.String("owner", req.Owner.String()),
			slog.String("content_id", id.String()),
			"err", err)
		return UploadResult{}, fmt.Errorf("ledger append: %w", err)
	}

	p.invalidate(req.Owner)
	p.uploads.Inc()

	p.log.Info("Uploaded record",
		slog.String("owner", req.Owner.String()),
		slog.String("content_id", id.Short()),
		slog.String("category", req.Category.String()),
		slog.Int("original_size", len(req.Data)),
		slog.Int("encrypted_size", len(combined)))

	return UploadResult{
		ContentID:     id,
		EncryptedSize: len(combined),
		OriginalSize:  len(req.Data),
	}, nil
}

// RetrieveRequest describes a file to read back.
type RetrieveRequest struct {
	ContentID interfaces.ContentID
	Owner     interfaces.Address
	Requester interfaces.Address
	Secret    Secret
}

// Retrieve returns the plaintext of a stored file. A requester other than
// the owner needs a live grant; the access is audited before the blob is
// fetched. The key is always derived from the owner's identity.
func (p *Pipeline) Retrieve(ctx context.Context, req RetrieveRequest) ([]byte, error) {
	if req.Requester.IsZero() {
		return nil, fmt.Errorf("%w: requester is required", interfaces.ErrInvalidInput)
	}

	if req.Requester != req.Owner {
		allowed, err := p.oracle.Check(ctx, req.Owner, req.Requester)
		if err != nil {
			return nil, fmt.Errorf("access check: %w", err)
		}
		if !allowed {
			p.denials.Inc()
			p.log.Warn("Access denied",
				slog.String("owner", req.Owner.String()),
				slog.String("requester", req.Requester.String()),
				slog.String("content_id", req.ContentID.Short()))
			return nil, interfaces.ErrAccessDenied
		}
		if err := p.oracle.RecordAccess(ctx, req.Owner, req.Requester); err != nil {
			return nil, fmt.Errorf("record access: %w", err)
		}
	}

	combined, err := p.store.Fetch(ctx, req.ContentID)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	iv, ciphertext, err := cryptoutils.Split(combined)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}

	key, err := p.deriveKey(req.Owner, req.Secret)
	if err != nil {
		return nil, err
	}

	plaintext, err := cryptoutils.Decrypt(ciphertext, key, iv)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	p.retrievals.Inc()
	p.log.Info("Retrieved record",
		slog.String("owner", req.Owner.String()),
		slog.String("requester", req.Requester.String()),
		slog.String("content_id", req.ContentID.Short()))

	return plaintext, nil
}

// Delete unpins a blob. Deleting an absent blob succeeds. Ledger entries
// are kept.
func (p *Pipeline) Delete(ctx context.Context, id interfaces.ContentID) error {
	if err := p.unpin(ctx, id); err != nil {
		return err
	}

	p.deletes.Inc()
	p.log.Info("Deleted record", slog.String("content_id", id.Short()))
	return nil
}

// RenameRequest describes a rename.
type RenameRequest struct {
	ContentID   interfaces.ContentID
	NewFilename string
	Owner       interfaces.Address
}

// RenameResult links the old and new content ids.
type RenameResult struct {
	OldContentID interfaces.ContentID
	NewContentID interfaces.ContentID
}

// Rename stores the existing ciphertext under new display metadata, appends
// a ledger entry for the new id and unpins the old blob. The old ledger
// entry stays in place.
func (p *Pipeline) Rename(ctx context.Context, req RenameRequest) (RenameResult, error) {
	if req.NewFilename == "" {
		return RenameResult{}, fmt.Errorf("%w: new filename is required", interfaces.ErrInvalidInput)
	}

	entries, err := p.ledger.List(ctx, req.Owner)
	if err != nil {
		return RenameResult{}, fmt.Errorf("ledger list: %w", err)
	}
	old, found := interfaces.FindEntry(entries, req.ContentID)
	if !found {
		return RenameResult{}, fmt.Errorf("ledger lookup %s: %w", req.ContentID.Short(), interfaces.ErrContentNotFound)
	}

	combined, err := p.store.Fetch(ctx, req.ContentID)
	if err != nil {
		return RenameResult{}, fmt.Errorf("fetch: %w", err)
	}

	meta := interfaces.ContentMetadata{
		interfaces.MetaOwner:    req.Owner.String(),
		interfaces.MetaCategory: old.Category.String(),
		interfaces.MetaFilename: req.NewFilename,
		interfaces.MetaFileType: old.FileType,
	}
	newID, err := p.store.Store(ctx, combined, meta)
	if err != nil {
		return RenameResult{}, fmt.Errorf("store: %w", err)
	}

	if _, err := p.ledger.Append(ctx, req.Owner, newID, old.FileType, old.Category); err != nil {
		p.orphans.Inc()
		return RenameResult{}, fmt.Errorf("ledger append: %w", err)
	}
	p.invalidate(req.Owner)

	if newID != req.ContentID {
		if err := p.unpin(ctx, req.ContentID); err != nil {
			return RenameResult{}, err
		}
	}

	p.renames.Inc()
	p.log.Info("Renamed record",
		slog.String("owner", req.Owner.String()),
		slog.String("old_content_id", req.ContentID.Short()),
		slog.String("new_content_id", newID.Short()))

	return RenameResult{OldContentID: req.ContentID, NewContentID: newID}, nil
}

// List returns owner's ledger entries in append order.
func (p *Pipeline) List(ctx context.Context, owner interfaces.Address) ([]interfaces.MedicalRecordEntry, error) {
	key := cache.Key{Owner: owner, Fingerprint: recordsFingerprint}
	if p.cache != nil {
		if cached, ok := p.cache.Get(key); ok {
			if entries, ok := cached.([]interfaces.MedicalRecordEntry); ok {
				return append([]interfaces.MedicalRecordEntry(nil), entries...), nil
			}
		}
	}

	entries, err := p.ledger.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("ledger list: %w", err)
	}

	if p.cache != nil {
		p.cache.Set(key, append([]interfaces.MedicalRecordEntry(nil), entries...))
	}
	return entries, nil
}

// Stats counts completed operations since the pipeline was created.
type Stats struct {
	Uploads    int64
	Retrievals int64
	Denials    int64
	Deletes    int64
	Renames    int64
	// Orphans counts blobs stored without a ledger entry.
	Orphans int64
}

// Stats returns a snapshot of the operation counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Uploads:    p.uploads.Load(),
		Retrievals: p.retrievals.Load(),
		Denials:    p.denials.Load(),
		Deletes:    p.deletes.Load(),
		Renames:    p.renames.Load(),
		Orphans:    p.orphans.Load(),
	}
}

func (p *Pipeline) deriveKey(owner interfaces.Address, secret Secret) ([]byte, error) {
	if owner.IsZero() {
		return nil, fmt.Errorf("%w: owner is required", interfaces.ErrInvalidInput)
	}

	var s string
	switch secret.Mode() {
	case SecretFixedConstant:
		s = p.fixedSecret
	default:
		s = secret.password
	}

	start := time.Now()
	key, err := cryptoutils.DeriveKey(owner.String(), s)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	p.log.Debug("Derived key",
		slog.String("mode", string(secret.Mode())),
		slog.Duration("duration", time.Since(start)))
	return key, nil
}

func (p *Pipeline) unpin(ctx context.Context, id interfaces.ContentID) error {
	err := p.store.Unpin(ctx, id)
	if err != nil && !errors.Is(err, interfaces.ErrContentNotFound) {
		return fmt.Errorf("unpin: %w", err)
	}
	return nil
}

func (p *Pipeline) invalidate(owner interfaces.Address) {
	if p.cache != nil {
		p.cache.Invalidate(owner)
	}
}
