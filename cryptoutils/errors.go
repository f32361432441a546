package cryptoutils

import "errors"

var (
	// ErrInvalidInput is returned for an empty or non-hex owner identity or
	// an empty secret.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidKey is returned when a key or IV has the wrong length.
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidFormat is returned when a combined buffer is too short to
	// contain an IV.
	ErrInvalidFormat = errors.New("invalid ciphertext format")

	// ErrDecryption is returned when the block transform produces invalid
	// padding. With CBC this is the only signal of a wrong key, a wrong IV or
	// a corrupted blob, and it is probabilistic: a wrong key can still yield
	// valid-looking padding.
	ErrDecryption = errors.New("decryption failed")
)
