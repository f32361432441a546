package cryptoutils

import "fmt"

// Combine lays out the persisted blob format: IV (16 bytes) followed by the
// ciphertext. This layout is durable; previously stored blobs depend on it.
func Combine(ciphertext, iv []byte) []byte {
	out := make([]byte, 0, len(iv)+len(ciphertext))
	out = append(out, iv...)
	return append(out, ciphertext...)
}

// Split is the inverse of Combine. The returned slices do not alias combined.
func Split(combined []byte) (iv, ciphertext []byte, err error) {
	if len(combined) < IVSize {
		return nil, nil, fmt.Errorf("%w: combined buffer is %d bytes, need at least %d", ErrInvalidFormat, len(combined), IVSize)
	}
	iv = append([]byte(nil), combined[:IVSize]...)
	ciphertext = append([]byte(nil), combined[IVSize:]...)
	return iv, ciphertext, nil
}

// EncryptCombined encrypts plaintext and returns the combined blob.
func EncryptCombined(plaintext, key []byte) ([]byte, error) {
	ciphertext, iv, err := Encrypt(plaintext, key)
	if err != nil {
		return nil, err
	}
	return Combine(ciphertext, iv), nil
}

// DecryptCombined splits a combined blob and decrypts it.
func DecryptCombined(combined, key []byte) ([]byte, error) {
	iv, ciphertext, err := Split(combined)
	if err != nil {
		return nil, err
	}
	return Decrypt(ciphertext, key, iv)
}
