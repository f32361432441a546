package custody

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/medical-record-custody/cache"
	"github.com/ruteri/medical-record-custody/interfaces"
	"github.com/ruteri/medical-record-custody/registry"
)

const testOwnerHex = "0xABCDEF0123456789abcdef0123456789ABCDEF01"

var (
	testOwner  = mustAddress(testOwnerHex)
	testDoctor = mustAddress("0x00000000000000000000000000000000000000d0")
	mriReport  = []byte("MRI report contents")
)

func mustAddress(s string) interfaces.Address {
	addr, err := interfaces.NewAddressFromHex(s)
	if err != nil {
		panic(err)
	}
	return addr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory content store that counts calls.
type memStore struct {
	mu      sync.Mutex
	blobs   map[interfaces.ContentID][]byte
	metas   map[interfaces.ContentID]interfaces.ContentMetadata
	fetches int
	unpins  int
}

func newMemStore() *memStore {
	return &memStore{
		blobs: make(map[interfaces.ContentID][]byte),
		metas: make(map[interfaces.ContentID]interfaces.ContentMetadata),
	}
}

func (s *memStore) Fetch(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	data, ok := s.blobs[id]
	if !ok {
		return nil, interfaces.ErrContentNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *memStore) Store(ctx context.Context, data []byte, meta interfaces.ContentMetadata) (interfaces.ContentID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := interfaces.ComputeID(data, meta)
	s.blobs[id] = append([]byte(nil), data...)
	s.metas[id] = meta
	return id, nil
}

func (s *memStore) Unpin(ctx context.Context, id interfaces.ContentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unpins++
	delete(s.blobs, id)
	delete(s.metas, id)
	return nil
}

func (s *memStore) Available(ctx context.Context) bool { return true }
func (s *memStore) Name() string                       { return "mem" }
func (s *memStore) LocationURI() string                { return "mem://" }

func (s *memStore) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func (s *memStore) has(id interfaces.ContentID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[id]
	return ok
}

func newTestPipeline(t *testing.T, store interfaces.StorageBackend, ledger interfaces.RecordLedger, oracle interfaces.AccessOracle) *Pipeline {
	t.Helper()
	p, err := NewPipeline(Config{
		Store:  store,
		Ledger: ledger,
		Oracle: oracle,
		Log:    discardLogger(),
	})
	require.NoError(t, err)
	return p
}

func appendOK(ledger *registry.MockLedger) {
	ledger.On("Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(interfaces.MedicalRecordEntry{}, nil)
}

func TestNewPipeline_RequiresCollaborators(t *testing.T) {
	_, err := NewPipeline(Config{Store: newMemStore()})
	assert.Error(t, err)
}

func TestPipeline_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := &registry.MockLedger{}
	oracle := &registry.MockOracle{}
	ledger.On("Append", mock.Anything, testOwner, mock.AnythingOfType("interfaces.ContentID"), "application/dicom", interfaces.CategoryScans).
		Return(interfaces.MedicalRecordEntry{}, nil).Once()

	p := newTestPipeline(t, store, ledger, oracle)

	res, err := p.Upload(ctx, UploadRequest{
		Data:     mriReport,
		Owner:    testOwner,
		Secret:   Password("pw1"),
		Category: interfaces.CategoryScans,
		Filename: "mri.dcm",
		FileType: "application/dicom",
	})
	require.NoError(t, err)
	assert.Equal(t, len(mriReport), res.OriginalSize)
	// IV plus two padded blocks
	assert.Equal(t, 16+32, res.EncryptedSize)
	assert.NotEqual(t, interfaces.ContentID{}, res.ContentID)

	got, err := p.Retrieve(ctx, RetrieveRequest{
		ContentID: res.ContentID,
		Owner:     testOwner,
		Requester: testOwner,
		Secret:    Password("pw1"),
	})
	require.NoError(t, err)
	assert.Equal(t, mriReport, got)

	_, err = p.Retrieve(ctx, RetrieveRequest{
		ContentID: res.ContentID,
		Owner:     testOwner,
		Requester: testOwner,
		Secret:    Password("pw2"),
	})
	assert.ErrorIs(t, err, interfaces.ErrDecryption)

	// the owner never consults the oracle
	oracle.AssertNotCalled(t, "Check", mock.Anything, mock.Anything, mock.Anything)
	ledger.AssertExpectations(t)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Uploads)
	assert.Equal(t, int64(1), stats.Retrievals)
}

func TestPipeline_StoredMetadata(t *testing.T) {
	store := newMemStore()
	ledger := &registry.MockLedger{}
	appendOK(ledger)
	p := newTestPipeline(t, store, ledger, &registry.MockOracle{})

	res, err := p.Upload(context.Background(), UploadRequest{
		Data:     []byte("rx"),
		Owner:    testOwner,
		Secret:   Password("pw1"),
		Category: interfaces.CategoryPrescriptions,
		Filename: "rx.txt",
		FileType: "text/plain",
		Extra:    map[string]string{"clinic": "north", interfaces.MetaOwner: "spoofed"},
	})
	require.NoError(t, err)

	assert.Equal(t, interfaces.ContentMetadata{
		interfaces.MetaOwner:    "abcdef0123456789abcdef0123456789abcdef01",
		interfaces.MetaCategory: "prescriptions",
		interfaces.MetaFilename: "rx.txt",
		interfaces.MetaFileType: "text/plain",
		"clinic":                "north",
	}, store.metas[res.ContentID])
}

func TestPipeline_UploadInvalidCategory(t *testing.T) {
	store := newMemStore()
	ledger := &registry.MockLedger{}
	p := newTestPipeline(t, store, ledger, &registry.MockOracle{})

	_, err := p.Upload(context.Background(), UploadRequest{
		Data:     []byte("x"),
		Owner:    testOwner,
		Secret:   Password("pw1"),
		Category: interfaces.Category("xrays"),
	})
	assert.ErrorIs(t, err, interfaces.ErrInvalidCategory)
	assert.ErrorIs(t, err, interfaces.ErrInvalidInput)
	assert.Empty(t, store.blobs)
	ledger.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_UploadEmptySecret(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(t, store, &registry.MockLedger{}, &registry.MockOracle{})

	_, err := p.Upload(context.Background(), UploadRequest{
		Data:     []byte("x"),
		Owner:    testOwner,
		Secret:   Password(""),
		Category: interfaces.CategoryReports,
	})
	assert.ErrorIs(t, err, interfaces.ErrInvalidInput)
	assert.Empty(t, store.blobs)
}

func TestPipeline_LedgerFailureOrphansBlob(t *testing.T) {
	store := newMemStore()
	ledger := &registry.MockLedger{}
	ledgerErr := errors.New("rpc down")
	ledger.On("Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(interfaces.MedicalRecordEntry{}, ledgerErr)

	p := newTestPipeline(t, store, ledger, &registry.MockOracle{})
	_, err := p.Upload(context.Background(), UploadRequest{
		Data:     []byte("x"),
		Owner:    testOwner,
		Secret:   Password("pw1"),
		Category: interfaces.CategoryReports,
	})
	assert.ErrorIs(t, err, ledgerErr)

	// no rollback
	assert.Len(t, store.blobs, 1)
	assert.Equal(t, 0, store.unpins)
	assert.Equal(t, int64(1), p.Stats().Orphans)
	assert.Equal(t, int64(0), p.Stats().Uploads)
}

func TestPipeline_AccessDenied(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := &registry.MockLedger{}
	appendOK(ledger)
	oracle := &registry.MockOracle{}
	oracle.On("Check", mock.Anything, testOwner, testDoctor).Return(false, nil).Once()

	p := newTestPipeline(t, store, ledger, oracle)
	res, err := p.Upload(ctx, UploadRequest{
		Data:     mriReport,
		Owner:    testOwner,
		Secret:   Password("pw1"),
		Category: interfaces.CategoryScans,
	})
	require.NoError(t, err)

	_, err = p.Retrieve(ctx, RetrieveRequest{
		ContentID: res.ContentID,
		Owner:     testOwner,
		Requester: testDoctor,
		Secret:    Password("pw1"),
	})
	assert.ErrorIs(t, err, interfaces.ErrAccessDenied)
	assert.Equal(t, 0, store.fetchCount())
	oracle.AssertNotCalled(t, "RecordAccess", mock.Anything, mock.Anything, mock.Anything)
	oracle.AssertExpectations(t)
	assert.Equal(t, int64(1), p.Stats().Denials)
}

func TestPipeline_GrantedAccessIsAudited(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := &registry.MockLedger{}
	appendOK(ledger)

	var order []string
	oracle := &registry.MockOracle{}
	oracle.On("Check", mock.Anything, testOwner, testDoctor).Return(true, nil).
		Run(func(mock.Arguments) { order = append(order, "check") })
	oracle.On("RecordAccess", mock.Anything, testOwner, testDoctor).Return(nil).
		Run(func(mock.Arguments) {
			order = append(order, "audit")
			assert.Equal(t, 0, store.fetchCount(), "audit must precede fetch")
		})

	p := newTestPipeline(t, store, ledger, oracle)
	res, err := p.Upload(ctx, UploadRequest{
		Data:     mriReport,
		Owner:    testOwner,
		Secret:   Password("pw1"),
		Category: interfaces.CategoryReports,
	})
	require.NoError(t, err)

	// the key is derived from the owner, so the owner's secret works for the doctor
	got, err := p.Retrieve(ctx, RetrieveRequest{
		ContentID: res.ContentID,
		Owner:     testOwner,
		Requester: testDoctor,
		Secret:    Password("pw1"),
	})
	require.NoError(t, err)
	assert.Equal(t, mriReport, got)
	assert.Equal(t, []string{"check", "audit"}, order)
	assert.Equal(t, 1, store.fetchCount())
}

func TestPipeline_AuditFailureStopsRetrieve(t *testing.T) {
	store := newMemStore()
	oracle := &registry.MockOracle{}
	oracle.On("Check", mock.Anything, testOwner, testDoctor).Return(true, nil)
	oracle.On("RecordAccess", mock.Anything, testOwner, testDoctor).Return(errors.New("audit down"))

	p := newTestPipeline(t, store, &registry.MockLedger{}, oracle)
	_, err := p.Retrieve(context.Background(), RetrieveRequest{
		ContentID: interfaces.ContentID{1},
		Owner:     testOwner,
		Requester: testDoctor,
		Secret:    Password("pw1"),
	})
	assert.Error(t, err)
	assert.Equal(t, 0, store.fetchCount())
}

func TestPipeline_RetrieveRequiresRequester(t *testing.T) {
	p := newTestPipeline(t, newMemStore(), &registry.MockLedger{}, &registry.MockOracle{})
	_, err := p.Retrieve(context.Background(), RetrieveRequest{ContentID: interfaces.ContentID{1}, Owner: testOwner, Secret: Password("pw1")})
	assert.ErrorIs(t, err, interfaces.ErrInvalidInput)
}

func TestPipeline_RetrieveMissing(t *testing.T) {
	p := newTestPipeline(t, newMemStore(), &registry.MockLedger{}, &registry.MockOracle{})
	_, err := p.Retrieve(context.Background(), RetrieveRequest{
		ContentID: interfaces.ContentID{1},
		Owner:     testOwner,
		Requester: testOwner,
		Secret:    Password("pw1"),
	})
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestPipeline_RetrieveTruncatedBlob(t *testing.T) {
	store := newMemStore()
	id, err := store.Store(context.Background(), []byte("short"), nil)
	require.NoError(t, err)

	p := newTestPipeline(t, store, &registry.MockLedger{}, &registry.MockOracle{})
	_, err = p.Retrieve(context.Background(), RetrieveRequest{ContentID: id, Owner: testOwner, Requester: testOwner, Secret: Password("pw1")})
	assert.ErrorIs(t, err, interfaces.ErrInvalidFormat)
}

func TestPipeline_ReadsExistingBlobFormat(t *testing.T) {
	blob, err := hex.DecodeString("000102030405060708090a0b0c0d0e0f" +
		"550a36ab246dc34361a2af604f0cbab623e557b21598fd0c28f713752f62498c")
	require.NoError(t, err)

	store := newMemStore()
	id, err := store.Store(context.Background(), blob, nil)
	require.NoError(t, err)

	p := newTestPipeline(t, store, &registry.MockLedger{}, &registry.MockOracle{})
	got, err := p.Retrieve(context.Background(), RetrieveRequest{ContentID: id, Owner: testOwner, Requester: testOwner, Secret: Password("pw1")})
	require.NoError(t, err)
	assert.Equal(t, mriReport, got)
}

func TestPipeline_WalletOnly(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := &registry.MockLedger{}
	appendOK(ledger)

	p := newTestPipeline(t, store, ledger, &registry.MockOracle{})
	res, err := p.Upload(ctx, UploadRequest{Data: mriReport, Owner: testOwner, Secret: WalletOnly(), Category: interfaces.CategoryReports})
	require.NoError(t, err)

	got, err := p.Retrieve(ctx, RetrieveRequest{ContentID: res.ContentID, Owner: testOwner, Requester: testOwner, Secret: WalletOnly()})
	require.NoError(t, err)
	assert.Equal(t, mriReport, got)

	// equivalent to passing the constant as a password
	got, err = p.Retrieve(ctx, RetrieveRequest{ContentID: res.ContentID, Owner: testOwner, Requester: testOwner, Secret: Password(DefaultFixedSecret)})
	require.NoError(t, err)
	assert.Equal(t, mriReport, got)

	// a pipeline with a different constant cannot read it
	other, err := NewPipeline(Config{Store: store, Ledger: ledger, Oracle: &registry.MockOracle{}, FixedSecret: "site-secret", Log: discardLogger()})
	require.NoError(t, err)
	got, err = other.Retrieve(ctx, RetrieveRequest{ContentID: res.ContentID, Owner: testOwner, Requester: testOwner, Secret: WalletOnly()})
	if err == nil {
		assert.NotEqual(t, mriReport, got)
	} else {
		assert.ErrorIs(t, err, interfaces.ErrDecryption)
	}
}

func TestPipeline_DeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := &registry.MockLedger{}
	appendOK(ledger)

	p := newTestPipeline(t, store, ledger, &registry.MockOracle{})
	res, err := p.Upload(ctx, UploadRequest{Data: mriReport, Owner: testOwner, Secret: Password("pw1"), Category: interfaces.CategoryReports})
	require.NoError(t, err)

	require.NoError(t, p.Delete(ctx, res.ContentID))
	require.NoError(t, p.Delete(ctx, res.ContentID))

	_, err = p.Retrieve(ctx, RetrieveRequest{ContentID: res.ContentID, Owner: testOwner, Requester: testOwner, Secret: Password("pw1")})
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	// ledger untouched by delete
	ledger.AssertNumberOfCalls(t, "Append", 1)
}

// notFoundStore reports ErrContentNotFound on unpin of absent content.
type notFoundStore struct{ *memStore }

func (s notFoundStore) Unpin(ctx context.Context, id interfaces.ContentID) error {
	if !s.has(id) {
		return interfaces.ErrContentNotFound
	}
	return s.memStore.Unpin(ctx, id)
}

func TestPipeline_DeleteToleratesNotFound(t *testing.T) {
	p := newTestPipeline(t, notFoundStore{newMemStore()}, &registry.MockLedger{}, &registry.MockOracle{})
	assert.NoError(t, p.Delete(context.Background(), interfaces.ContentID{5}))
}

func TestPipeline_ConcurrentDelete(t *testing.T) {
	p := newTestPipeline(t, notFoundStore{newMemStore()}, &registry.MockLedger{}, &registry.MockOracle{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Delete(context.Background(), interfaces.ContentID{5}))
		}()
	}
	wg.Wait()
}

func TestPipeline_Rename(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger, err := registry.OpenLocalRegistry(t.TempDir(), registry.LocalRegistryOpts{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	p := newTestPipeline(t, store, ledger, ledger)
	res, err := p.Upload(ctx, UploadRequest{
		Data:     mriReport,
		Owner:    testOwner,
		Secret:   Password("pw1"),
		Category: interfaces.CategoryScans,
		Filename: "old.dcm",
		FileType: "application/dicom",
	})
	require.NoError(t, err)

	renamed, err := p.Rename(ctx, RenameRequest{ContentID: res.ContentID, NewFilename: "new.dcm", Owner: testOwner})
	require.NoError(t, err)
	assert.Equal(t, res.ContentID, renamed.OldContentID)
	assert.NotEqual(t, res.ContentID, renamed.NewContentID)

	// old blob unpinned, new blob readable with the same secret
	assert.False(t, store.has(res.ContentID))
	got, err := p.Retrieve(ctx, RetrieveRequest{ContentID: renamed.NewContentID, Owner: testOwner, Requester: testOwner, Secret: Password("pw1")})
	require.NoError(t, err)
	assert.Equal(t, mriReport, got)
	assert.Equal(t, "new.dcm", store.metas[renamed.NewContentID][interfaces.MetaFilename])

	// both entries remain, the new one copies type and category
	entries, err := p.List(ctx, testOwner)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, res.ContentID, entries[0].ContentID)
	assert.Equal(t, renamed.NewContentID, entries[1].ContentID)
	assert.Equal(t, "application/dicom", entries[1].FileType)
	assert.Equal(t, interfaces.CategoryScans, entries[1].Category)
}

func TestPipeline_RenameUnknownContent(t *testing.T) {
	ledger := &registry.MockLedger{}
	ledger.On("List", mock.Anything, testOwner).Return([]interfaces.MedicalRecordEntry{}, nil)
	store := newMemStore()

	p := newTestPipeline(t, store, ledger, &registry.MockOracle{})
	_, err := p.Rename(context.Background(), RenameRequest{ContentID: interfaces.ContentID{1}, NewFilename: "x", Owner: testOwner})
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
	assert.Equal(t, 0, store.fetchCount())

	_, err = p.Rename(context.Background(), RenameRequest{ContentID: interfaces.ContentID{1}, Owner: testOwner})
	assert.ErrorIs(t, err, interfaces.ErrInvalidInput)
}

func TestPipeline_ListCache(t *testing.T) {
	ctx := context.Background()
	c, err := cache.New(cache.Config{MaxEntries: 16, TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	first := []interfaces.MedicalRecordEntry{{ContentID: interfaces.ContentID{1}, Category: interfaces.CategoryReports}}
	ledger := &registry.MockLedger{}
	ledger.On("List", mock.Anything, testOwner).Return(first, nil).Once()
	appendOK(ledger)

	p, err := NewPipeline(Config{Store: newMemStore(), Ledger: ledger, Oracle: &registry.MockOracle{}, Cache: c, Log: discardLogger()})
	require.NoError(t, err)

	got, err := p.List(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, first, got)
	c.Wait()

	got, err = p.List(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, first, got)
	ledger.AssertNumberOfCalls(t, "List", 1)

	// uploads invalidate the owner's listing
	_, err = p.Upload(ctx, UploadRequest{Data: []byte("x"), Owner: testOwner, Secret: Password("pw1"), Category: interfaces.CategoryReports})
	require.NoError(t, err)

	second := append(first, interfaces.MedicalRecordEntry{ContentID: interfaces.ContentID{2}, Category: interfaces.CategoryReports})
	ledger.On("List", mock.Anything, testOwner).Return(second, nil).Once()
	got, err = p.List(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, second, got)
	ledger.AssertNumberOfCalls(t, "List", 2)
}
