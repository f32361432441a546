// Package storage provides content-addressed blob storage with pluggable backends.
//
// Every backend implements interfaces.StorageBackend and derives the same
// content ID for the same (data, metadata) pair via interfaces.ComputeID, so
// backends can be combined behind MultiStorageBackend for redundancy.
//
//   - FileBackend: local directory, blob plus .meta.json sidecar
//   - BadgerBackend: embedded Badger key-value store
//   - S3Backend: S3 or compatible object storage
//   - IPFSBackend: IPFS node, blobs named in MFS
//   - VaultBackend: HashiCorp Vault KV v2 mount
//
// # Storage URI Format
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Examples:
//
//   - file:///var/lib/records
//   - badger:///var/lib/records.db
//   - s3://bucket-name/prefix?region=us-west-2
//   - ipfs://localhost:5001/records?timeout=30s
//   - vault://vault.example.com:8200/secret/records
//
// Backends only ever see ciphertext. Unpin is idempotent everywhere: removing
// content that is already gone succeeds, and a later Fetch reports
// interfaces.ErrContentNotFound.
package storage
