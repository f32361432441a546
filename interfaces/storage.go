package interfaces

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"sort"
	"strings"
)

// ContentID is a 32-byte SHA-256 hash uniquely identifying a stored object.
type ContentID [32]byte

// NewContentIDFromBytes creates a content ID from a 32-byte slice.
func NewContentIDFromBytes(source []byte) (ContentID, error) {
	if len(source) != 32 {
		return ContentID{}, fmt.Errorf("%w: content ID must be 32 bytes, got %d", ErrInvalidInput, len(source))
	}

	var hash [32]byte
	copy(hash[:], source)
	return ContentID(hash), nil
}

// NewContentIDFromHex parses 64 hex characters, with an optional 0x or 0X prefix.
func NewContentIDFromHex(source string) (ContentID, error) {
	clean := strings.TrimSpace(source)
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		clean = clean[2:]
	}
	if len(clean) != 64 {
		return ContentID{}, fmt.Errorf("%w: content ID hex string must be 64 characters", ErrInvalidInput)
	}

	hashBytes, err := hex.DecodeString(clean)
	if err != nil {
		return ContentID{}, fmt.Errorf("%w: invalid hex format: %v", ErrInvalidInput, err)
	}
	return NewContentIDFromBytes(hashBytes)
}

// ContentMetadata is the display metadata stored alongside a blob: owner,
// category, filename, file type and any caller extras.
type ContentMetadata map[string]string

// Well-known metadata keys.
const (
	MetaOwner    = "owner"
	MetaCategory = "category"
	MetaFilename = "filename"
	MetaFileType = "file_type"
)

// ComputeID calculates the content ID of a blob stored under the given
// metadata. The metadata is hashed in key order with length prefixes ahead
// of the data, so the same bytes stored under a different name get a
// different id.
func ComputeID(data []byte, meta ContentMetadata) ContentID {
	h := sha256.New()

	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	writeLen(h, len(keys))
	for _, k := range keys {
		writeLen(h, len(k))
		h.Write([]byte(k))
		writeLen(h, len(meta[k]))
		h.Write([]byte(meta[k]))
	}
	h.Write(data)

	var id ContentID
	copy(id[:], h.Sum(nil))
	return id
}

func writeLen(h hash.Hash, n int) {
	var buf [binary.MaxVarintLen64]byte
	h.Write(buf[:binary.PutUvarint(buf[:], uint64(n))])
}

// String returns hex representation.
func (id ContentID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 bytes in hex, for logging.
func (id ContentID) Short() string {
	return hex.EncodeToString(id[:8])
}

// Bytes returns raw 32-byte hash.
func (id ContentID) Bytes() []byte {
	return id[:]
}

// Equal compares two content IDs.
func (id ContentID) Equal(other ContentID) bool {
	return id == other
}

func (id ContentID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ContentID) UnmarshalText(text []byte) error {
	parsed, err := NewContentIDFromHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// StorageBackendLocation represents URI for storage backend.
type StorageBackendLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewStorageBackendLocation creates a new storage location from a URI string with validation.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "file", "s3", "ipfs", "vault", "badger":
	default:
		return StorageBackendLocation{}, fmt.Errorf("%w: unsupported storage scheme: %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StorageBackendLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc StorageBackendLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc StorageBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StorageBackendLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

var (
	// ErrContentNotFound is returned when requested content cannot be found
	// in the storage backend, including content that was unpinned.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// StorageBackend provides content-addressed blob storage.
type StorageBackend interface {
	// Fetch retrieves data by content ID. Returns ErrContentNotFound if the
	// blob is absent or was unpinned.
	Fetch(ctx context.Context, id ContentID) ([]byte, error)

	// Store saves data with its display metadata and returns its content ID.
	Store(ctx context.Context, data []byte, meta ContentMetadata) (ContentID, error)

	// Unpin removes a blob. Removing an absent blob succeeds.
	Unpin(ctx context.Context, id ContentID) error

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// StorageBackendFactory creates storage backends.
type StorageBackendFactory interface {
	// StorageBackendFor creates backend from URI.
	// Supports file://, s3://, ipfs://, vault://, badger://
	StorageBackendFor(location StorageBackendLocation) (StorageBackend, error)

	// CreateMultiBackend creates aggregated storage backend.
	CreateMultiBackend(locations []StorageBackendLocation) (StorageBackend, error)
}
