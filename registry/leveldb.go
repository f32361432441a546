package registry

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/ruteri/medical-record-custody/interfaces"
)

const (
	recordPrefix = "rec/"
	grantPrefix  = "grant/"
	auditPrefix  = "audit/"
	seqPrefix    = "seq/"
)

// LocalRegistry is an append-only ledger and access oracle kept in a LevelDB
// database. It stands in for the on-chain contract on a single host.
type LocalRegistry struct {
	db       *leveldb.DB
	uploader interfaces.Address
	now      func() time.Time
	log      *slog.Logger

	// serializes sequence allocation
	mu sync.Mutex
}

// LocalRegistryOpts configures a LocalRegistry.
type LocalRegistryOpts struct {
	// Uploader is recorded on every appended entry. Zero means the owner.
	Uploader interfaces.Address
	Log      *slog.Logger
}

// OpenLocalRegistry opens or creates the database at path.
func OpenLocalRegistry(path string, opts LocalRegistryOpts) (*LocalRegistry, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open ledger database %q: %w", path, err)
	}
	return NewLocalRegistry(db, opts), nil
}

// NewLocalRegistry wraps an open database.
func NewLocalRegistry(db *leveldb.DB, opts LocalRegistryOpts) *LocalRegistry {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &LocalRegistry{
		db:       db,
		uploader: opts.Uploader,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// Close closes the underlying database.
func (r *LocalRegistry) Close() error {
	return r.db.Close()
}

// Append stores a new entry at the end of owner's ledger.
func (r *LocalRegistry) Append(ctx context.Context, owner interfaces.Address, id interfaces.ContentID, fileType string, category interfaces.Category) (interfaces.MedicalRecordEntry, error) {
	if err := category.Validate(); err != nil {
		return interfaces.MedicalRecordEntry{}, err
	}

	uploader := r.uploader
	if uploader.IsZero() {
		uploader = owner
	}

	entry := interfaces.MedicalRecordEntry{
		ContentID: id,
		FileType:  fileType,
		Category:  category,
		Uploader:  uploader,
		Timestamp: r.now(),
	}

	encoded, err := json.Marshal(entry)
	if err != nil {
		return interfaces.MedicalRecordEntry{}, fmt.Errorf("encode entry: %w", err)
	}

	if err := r.appendSeq(recordPrefix, owner, encoded); err != nil {
		return interfaces.MedicalRecordEntry{}, err
	}

	r.log.Debug("Appended ledger entry",
		slog.String("owner", owner.String()),
		slog.String("content_id", id.Short()))
	return entry, nil
}

// List returns owner's entries in append order.
func (r *LocalRegistry) List(ctx context.Context, owner interfaces.Address) ([]interfaces.MedicalRecordEntry, error) {
	var entries []interfaces.MedicalRecordEntry
	err := r.scan(recordPrefix, owner, func(value []byte) error {
		var entry interfaces.MedicalRecordEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return fmt.Errorf("decode entry: %w", err)
		}
		entries = append(entries, entry)
		return nil
	})
	return entries, err
}

// Check reports whether requester holds a grant from owner.
func (r *LocalRegistry) Check(ctx context.Context, owner, requester interfaces.Address) (bool, error) {
	ok, err := r.db.Has(grantKey(owner, requester), nil)
	if err != nil {
		return false, fmt.Errorf("read grant: %w", err)
	}
	return ok, nil
}

// RecordAccess appends an audit event.
func (r *LocalRegistry) RecordAccess(ctx context.Context, owner, requester interfaces.Address) error {
	event := interfaces.AccessEvent{
		ID:        uuid.NewString(),
		Owner:     owner,
		Requester: requester,
		Timestamp: r.now(),
	}

	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode access event: %w", err)
	}
	return r.appendSeq(auditPrefix, owner, encoded)
}

// Grant gives grantee read access to owner's records.
func (r *LocalRegistry) Grant(ctx context.Context, owner, grantee interfaces.Address) error {
	if owner == grantee {
		return fmt.Errorf("%w: owner cannot grant access to itself", interfaces.ErrInvalidInput)
	}
	if err := r.db.Put(grantKey(owner, grantee), []byte{1}, nil); err != nil {
		return fmt.Errorf("write grant: %w", err)
	}
	return nil
}

// Revoke removes a grant. Revoking a missing grant succeeds.
func (r *LocalRegistry) Revoke(ctx context.Context, owner, grantee interfaces.Address) error {
	if err := r.db.Delete(grantKey(owner, grantee), nil); err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	return nil
}

// AccessHistory returns owner's audit events, oldest first.
func (r *LocalRegistry) AccessHistory(ctx context.Context, owner interfaces.Address) ([]interfaces.AccessEvent, error) {
	var events []interfaces.AccessEvent
	err := r.scan(auditPrefix, owner, func(value []byte) error {
		var event interfaces.AccessEvent
		if err := json.Unmarshal(value, &event); err != nil {
			return fmt.Errorf("decode access event: %w", err)
		}
		events = append(events, event)
		return nil
	})
	return events, err
}

// appendSeq writes value under the next sequence number of prefix/owner.
func (r *LocalRegistry) appendSeq(prefix string, owner interfaces.Address, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	counterKey := []byte(seqPrefix + prefix + owner.String())
	var next uint64
	raw, err := r.db.Get(counterKey, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		return fmt.Errorf("read sequence: %w", err)
	default:
		next = binary.BigEndian.Uint64(raw)
	}

	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], next+1)

	batch := new(leveldb.Batch)
	batch.Put(seqKey(prefix, owner, next), value)
	batch.Put(counterKey, counter[:])
	if err := r.db.Write(batch, nil); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

func (r *LocalRegistry) scan(prefix string, owner interfaces.Address, fn func(value []byte) error) error {
	iter := r.db.NewIterator(util.BytesPrefix([]byte(prefix+owner.String()+"/")), nil)
	defer iter.Release()

	for iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func seqKey(prefix string, owner interfaces.Address, seq uint64) []byte {
	// fixed width keeps lexical order equal to append order
	return []byte(fmt.Sprintf("%s%s/%016x", prefix, owner.String(), seq))
}

func grantKey(owner, grantee interfaces.Address) []byte {
	return []byte(grantPrefix + owner.String() + "/" + grantee.String())
}
