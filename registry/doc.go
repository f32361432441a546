// Package registry provides the record ledger and access oracle used by the
// custody pipeline.
//
// Two implementations of interfaces.Registry are offered:
//
//   - OnchainRegistryClient talks to a MedicalRecords contract on an
//     Ethereum-compatible chain. Reads are eth_calls; writes are
//     transactions signed by the transactor set with SetTransactOpts, whose
//     address is recorded as the uploader.
//   - LocalRegistry keeps the same data in a LevelDB database for
//     single-host deployments and tests.
//
// Both are append-only with respect to records: entries are never modified
// or removed, a rename appends a new entry. Grant state lives here and is
// changed only through Grant and Revoke; the custody pipeline reads it via
// Check.
//
// # Usage
//
//	client, err := ethclient.Dial(rpcURL)
//	reg, err := registry.NewOnchainRegistryClient(client, client, contract)
//	reg.SetTransactOpts(auth)
//	entry, err := reg.Append(ctx, owner, id, "application/pdf", interfaces.CategoryReports)
//
// MockLedger and MockOracle are testify mocks for callers' tests.
package registry
