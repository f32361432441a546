package interfaces

import (
	"errors"
	"fmt"

	"github.com/ruteri/medical-record-custody/cryptoutils"
)

// Error taxonomy shared by the custody pipeline and its collaborators.
// Cryptographic errors originate in cryptoutils and are re-exported here so
// callers match a single set of sentinels with errors.Is.
var (
	ErrInvalidInput  = cryptoutils.ErrInvalidInput
	ErrInvalidKey    = cryptoutils.ErrInvalidKey
	ErrInvalidFormat = cryptoutils.ErrInvalidFormat
	ErrDecryption    = cryptoutils.ErrDecryption

	// ErrInvalidCategory also matches ErrInvalidInput.
	ErrInvalidCategory = fmt.Errorf("%w: invalid category", ErrInvalidInput)

	// ErrAccessDenied is returned when a requester has no live grant. It is
	// terminal; a retry needs an out-of-band grant.
	ErrAccessDenied = errors.New("access denied")
)
