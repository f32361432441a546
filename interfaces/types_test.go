package interfaces

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAddressFromHex(t *testing.T) {
	addr, err := NewAddressFromHex("0xABCDEF0123456789abcdef0123456789ABCDEF01")
	require.NoError(t, err)
	assert.Equal(t, "abcdef0123456789abcdef0123456789abcdef01", addr.String())

	bare, err := NewAddressFromHex("abcdef0123456789abcdef0123456789abcdef01")
	require.NoError(t, err)
	assert.Equal(t, addr, bare)

	for _, bad := range []string{"", "0x1234", "zz" + bare.String()[2:]} {
		_, err := NewAddressFromHex(bad)
		assert.ErrorIs(t, err, ErrInvalidInput, bad)
	}
}

func TestParseCategory(t *testing.T) {
	for _, c := range Categories {
		parsed, err := ParseCategory(string(c))
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}

	_, err := ParseCategory("Reports")
	assert.ErrorIs(t, err, ErrInvalidCategory)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestComputeID(t *testing.T) {
	meta := ContentMetadata{MetaOwner: "aa", MetaFilename: "scan.png"}

	assert.Equal(t, ComputeID([]byte("x"), meta), ComputeID([]byte("x"), ContentMetadata{MetaFilename: "scan.png", MetaOwner: "aa"}))
	assert.NotEqual(t, ComputeID([]byte("x"), meta), ComputeID([]byte("y"), meta))
	assert.NotEqual(t, ComputeID([]byte("x"), meta), ComputeID([]byte("x"), ContentMetadata{MetaOwner: "aa", MetaFilename: "scan2.png"}))

	// Length prefixes keep boundaries unambiguous.
	assert.NotEqual(t,
		ComputeID(nil, ContentMetadata{"a": "bc"}),
		ComputeID(nil, ContentMetadata{"ab": "c"}))
}

func TestContentIDText(t *testing.T) {
	id := ComputeID([]byte("report"), nil)

	encoded, err := json.Marshal(MedicalRecordEntry{ContentID: id, Category: CategoryScans})
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"content_id":"`+id.String()+`"`)

	var decoded MedicalRecordEntry
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, id, decoded.ContentID)

	_, err = NewContentIDFromHex(id.String()[:10])
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, id.String()[:16], id.Short())
}

func TestNewStorageBackendLocation(t *testing.T) {
	loc, err := NewStorageBackendLocation("s3://key:secret@bucket/prefix?region=eu-west-1&tls=1")
	require.NoError(t, err)
	assert.Equal(t, "s3", loc.Scheme)
	assert.Equal(t, "bucket", loc.Host)
	assert.Equal(t, "/prefix", loc.Path)
	assert.Equal(t, "key:secret", loc.Auth)
	assert.Equal(t, "eu-west-1", loc.GetParam("region"))
	assert.True(t, loc.GetParamBool("tls"))

	_, err = NewStorageBackendLocation("github://owner/repo")
	assert.ErrorIs(t, err, ErrInvalidLocationURI)
}

func TestFindEntry(t *testing.T) {
	a := ComputeID([]byte("a"), nil)
	b := ComputeID([]byte("b"), nil)
	entries := []MedicalRecordEntry{{ContentID: a, FileType: "first"}, {ContentID: b}, {ContentID: a, FileType: "second"}}

	e, ok := FindEntry(entries, a)
	require.True(t, ok)
	assert.Equal(t, "first", e.FileType)

	_, ok = FindEntry(entries, ComputeID([]byte("c"), nil))
	assert.False(t, ok)
}

func TestContentIDParsingMatchesAddress(t *testing.T) {
	id := ComputeID([]byte("scan"), nil)

	for _, form := range []string{id.String(), "0x" + id.String(), "0X" + id.String(), " 0x" + id.String() + " "} {
		parsed, err := NewContentIDFromHex(form)
		require.NoError(t, err, form)
		assert.Equal(t, id, parsed)
	}

	fromBytes, err := NewContentIDFromBytes(id.Bytes())
	require.NoError(t, err)
	assert.Equal(t, id, fromBytes)

	_, err = NewContentIDFromBytes(id.Bytes()[:31])
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = NewAddressFromBytes(id.Bytes())
	assert.ErrorIs(t, err, ErrInvalidInput)
}
