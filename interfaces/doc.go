// Package interfaces defines the core types and collaborator contracts of the
// medical record custody system, separating interface definitions from
// implementations.
//
// # Storage Interfaces
//
// StorageBackend: content-addressed blob storage for encrypted records across
// multiple backend types (file, S3, IPFS, Vault, Badger). Blobs are written
// once and removed only by unpinning.
//
// StorageBackendFactory: creates storage backends from URI strings and
// aggregates several of them into a redundant multi-backend.
//
// # Ledger Interfaces
//
// RecordLedger: the append-only, per-owner list of record pointers. It is the
// authoritative source of which files exist; entries are never updated.
//
// AccessOracle: answers whether a requester currently holds a grant to an
// owner's records and records an audit event for each permitted access.
//
// AccessAdmin: grant management and audit history, used by operator tooling.
//
// # Types
//
//   - Address: 20-byte identity of a patient, provider or uploader
//   - ContentID: 32-byte SHA-256 identifier of a stored object
//   - Category: closed enumeration of record categories
//   - MedicalRecordEntry: one immutable ledger entry
//   - AccessEvent: one audit log entry
package interfaces
