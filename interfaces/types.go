package interfaces

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Address is the 20-byte identity of a patient, provider or uploader,
// e.g. an account address.
type Address [20]byte

// NewAddressFromBytes creates an address from a 20-byte slice.
func NewAddressFromBytes(addr []byte) (Address, error) {
	if len(addr) != 20 {
		return Address{}, fmt.Errorf("%w: address must be 20 bytes", ErrInvalidInput)
	}

	var res Address
	copy(res[:], addr)
	return res, nil
}

// NewAddressFromHex parses a hex address, with or without 0x prefix, in any
// letter case.
func NewAddressFromHex(addr string) (Address, error) {
	clean := strings.TrimSpace(addr)
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		clean = clean[2:]
	}
	if len(clean) != 40 {
		return Address{}, fmt.Errorf("%w: address hex string must be 40 characters", ErrInvalidInput)
	}

	addrBytes, err := hex.DecodeString(clean)
	if err != nil {
		return Address{}, fmt.Errorf("%w: invalid hex format: %v", ErrInvalidInput, err)
	}

	return NewAddressFromBytes(addrBytes)
}

// String returns the canonical form: lowercase hex without prefix. This is
// the form used as key derivation salt.
func (addr Address) String() string {
	return hex.EncodeToString(addr[:])
}

// Bytes returns the raw 20-byte address.
func (addr Address) Bytes() []byte {
	return addr[:]
}

// IsZero reports whether the address is unset.
func (addr Address) IsZero() bool {
	return addr == Address{}
}

func (addr Address) MarshalText() ([]byte, error) {
	return []byte(addr.String()), nil
}

func (addr *Address) UnmarshalText(text []byte) error {
	parsed, err := NewAddressFromHex(string(text))
	if err != nil {
		return err
	}
	*addr = parsed
	return nil
}

// Category classifies a medical record.
type Category string

const (
	CategoryReports       Category = "reports"
	CategoryPrescriptions Category = "prescriptions"
	CategoryScans         Category = "scans"
)

// Categories lists all valid categories.
var Categories = []Category{CategoryReports, CategoryPrescriptions, CategoryScans}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if err := c.Validate(); err != nil {
		return "", err
	}
	return c, nil
}

// Validate reports ErrInvalidCategory for anything outside the enumeration.
func (c Category) Validate() error {
	switch c {
	case CategoryReports, CategoryPrescriptions, CategoryScans:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCategory, string(c))
	}
}

func (c Category) String() string {
	return string(c)
}

// MedicalRecordEntry is one ledger entry pointing at an encrypted blob.
// Entries are immutable once appended.
type MedicalRecordEntry struct {
	ContentID ContentID `json:"content_id"`
	FileType  string    `json:"file_type"`
	Category  Category  `json:"category"`
	Uploader  Address   `json:"uploader"`
	Timestamp time.Time `json:"timestamp"`
}

// AccessEvent is an audit record written for each permitted non-owner access.
type AccessEvent struct {
	ID        string    `json:"id"`
	Owner     Address   `json:"owner"`
	Requester Address   `json:"requester"`
	Timestamp time.Time `json:"timestamp"`
}

// FindEntry returns the first entry referencing id.
func FindEntry(entries []MedicalRecordEntry, id ContentID) (MedicalRecordEntry, bool) {
	for _, e := range entries {
		if e.ContentID == id {
			return e, true
		}
	}
	return MedicalRecordEntry{}, false
}
