// Package custody implements the encrypted medical record pipeline.
//
// Upload derives a key from the owner identity and a secret (PBKDF2), encrypts
// the file with AES-256-CBC under a fresh IV, stores IV||ciphertext in a
// content-addressed store and appends a pointer to the owner's ledger.
// Retrieve runs the inverse, gating non-owner requesters through the access
// oracle and auditing every permitted access.
//
// Keys are re-derived on every call and never stored, cached or logged.
// Secrets come either from the caller (Password) or from a fixed constant
// (WalletOnly); the latter lets anyone who knows the owner identity and the
// constant decrypt the file.
package custody
