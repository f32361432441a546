package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/medical-record-custody/interfaces"
)

func openTestRegistry(t *testing.T, path string, opts LocalRegistryOpts) *LocalRegistry {
	t.Helper()
	reg, err := OpenLocalRegistry(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestLocalRegistry_AppendList(t *testing.T) {
	ctx := context.Background()
	reg := openTestRegistry(t, filepath.Join(t.TempDir(), "ledger"), LocalRegistryOpts{})
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return fixed }

	owner := interfaces.Address{0xab}
	var want []interfaces.MedicalRecordEntry
	for i := 0; i < 20; i++ {
		entry, err := reg.Append(ctx, owner, interfaces.ContentID{byte(i)}, "application/pdf", interfaces.CategoryReports)
		require.NoError(t, err)
		want = append(want, entry)
	}

	got, err := reg.List(ctx, owner)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}

	// uploader defaults to the owner
	assert.Equal(t, owner, got[0].Uploader)
	assert.Equal(t, fixed, got[0].Timestamp)

	none, err := reg.List(ctx, interfaces.Address{0xcd})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLocalRegistry_ConfiguredUploader(t *testing.T) {
	ctx := context.Background()
	clinic := interfaces.Address{0xc1}
	reg := openTestRegistry(t, filepath.Join(t.TempDir(), "ledger"), LocalRegistryOpts{Uploader: clinic})

	entry, err := reg.Append(ctx, interfaces.Address{0xab}, interfaces.ContentID{1}, "image/png", interfaces.CategoryScans)
	require.NoError(t, err)
	assert.Equal(t, clinic, entry.Uploader)

	_, err = reg.Append(ctx, interfaces.Address{0xab}, interfaces.ContentID{1}, "image/png", interfaces.Category("notes"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidCategory)
	assert.ErrorIs(t, err, interfaces.ErrInvalidInput)
}

func TestLocalRegistry_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger")
	owner := interfaces.Address{0xab}

	reg, err := OpenLocalRegistry(path, LocalRegistryOpts{})
	require.NoError(t, err)
	_, err = reg.Append(ctx, owner, interfaces.ContentID{1}, "a", interfaces.CategoryReports)
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	reg = openTestRegistry(t, path, LocalRegistryOpts{})
	_, err = reg.Append(ctx, owner, interfaces.ContentID{2}, "b", interfaces.CategoryReports)
	require.NoError(t, err)

	entries, err := reg.List(ctx, owner)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, interfaces.ContentID{1}, entries[0].ContentID)
	assert.Equal(t, interfaces.ContentID{2}, entries[1].ContentID)
}

func TestLocalRegistry_ConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	reg := openTestRegistry(t, filepath.Join(t.TempDir(), "ledger"), LocalRegistryOpts{})
	owner := interfaces.Address{0xab}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.Append(ctx, owner, interfaces.ContentID{byte(i)}, fmt.Sprint(i), interfaces.CategoryReports)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	entries, err := reg.List(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, entries, 50)
}

func TestLocalRegistry_Grants(t *testing.T) {
	ctx := context.Background()
	reg := openTestRegistry(t, filepath.Join(t.TempDir(), "ledger"), LocalRegistryOpts{})
	owner, doctor := interfaces.Address{0xab}, interfaces.Address{0xd0}

	ok, err := reg.Check(ctx, owner, doctor)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, reg.Grant(ctx, owner, doctor))
	ok, err = reg.Check(ctx, owner, doctor)
	require.NoError(t, err)
	assert.True(t, ok)

	// grants are directional
	ok, err = reg.Check(ctx, doctor, owner)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, reg.Revoke(ctx, owner, doctor))
	require.NoError(t, reg.Revoke(ctx, owner, doctor))
	ok, err = reg.Check(ctx, owner, doctor)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, reg.Grant(ctx, owner, owner), interfaces.ErrInvalidInput)
}

func TestLocalRegistry_AccessHistory(t *testing.T) {
	ctx := context.Background()
	reg := openTestRegistry(t, filepath.Join(t.TempDir(), "ledger"), LocalRegistryOpts{})
	owner, doctor, nurse := interfaces.Address{0xab}, interfaces.Address{0xd0}, interfaces.Address{0xe0}

	require.NoError(t, reg.RecordAccess(ctx, owner, doctor))
	require.NoError(t, reg.RecordAccess(ctx, owner, nurse))
	require.NoError(t, reg.RecordAccess(ctx, doctor, nurse))

	events, err := reg.AccessHistory(ctx, owner)
	require.NoError(t, err)

	want := []interfaces.AccessEvent{
		{Owner: owner, Requester: doctor},
		{Owner: owner, Requester: nurse},
	}
	if diff := cmp.Diff(want, events, cmpopts.IgnoreFields(interfaces.AccessEvent{}, "ID", "Timestamp")); diff != "" {
		t.Errorf("AccessHistory mismatch (-want +got):\n%s", diff)
	}
	assert.NotEqual(t, events[0].ID, events[1].ID)
}
