package custody

import (
	"fmt"

	"github.com/ruteri/medical-record-custody/interfaces"
)

// SecretMode says where the key derivation secret comes from.
type SecretMode string

const (
	// SecretCallerSupplied uses a passphrase supplied with each call.
	SecretCallerSupplied SecretMode = "callerSupplied"

	// SecretFixedConstant uses the pipeline's fixed secret, so a file can be
	// decrypted knowing only the owner identity. This provides no secrecy
	// beyond obscurity of the constant.
	SecretFixedConstant SecretMode = "fixedConstant"
)

// DefaultFixedSecret is the constant used in SecretFixedConstant mode when
// the pipeline is not configured with its own. Changing it makes files
// uploaded in that mode unreadable.
const DefaultFixedSecret = "medical-record-custody:wallet-only:v1"

// ParseSecretMode accepts the mode names, plus "password" and "wallet" as
// shorthands.
func ParseSecretMode(s string) (SecretMode, error) {
	switch s {
	case string(SecretCallerSupplied), "password":
		return SecretCallerSupplied, nil
	case string(SecretFixedConstant), "wallet":
		return SecretFixedConstant, nil
	default:
		return "", fmt.Errorf("%w: unknown secret mode %q", interfaces.ErrInvalidInput, s)
	}
}

// Secret selects the secret for a single Upload or Retrieve.
type Secret struct {
	mode     SecretMode
	password string
}

// Password returns a caller supplied secret.
func Password(password string) Secret {
	return Secret{mode: SecretCallerSupplied, password: password}
}

// WalletOnly selects the pipeline's fixed secret.
func WalletOnly() Secret {
	return Secret{mode: SecretFixedConstant}
}

// Mode reports where the secret comes from.
func (s Secret) Mode() SecretMode {
	if s.mode == "" {
		return SecretCallerSupplied
	}
	return s.mode
}

// String never reveals the password.
func (s Secret) String() string {
	return fmt.Sprintf("Secret(%s)", s.Mode())
}

// GoString keeps %#v from printing the password.
func (s Secret) GoString() string {
	return s.String()
}
