package interfaces

import (
	"context"
)

// RecordLedger is the append-only per-owner list of record pointers.
type RecordLedger interface {
	// Append records a new entry for owner. The uploader is the identity
	// the ledger client acts as.
	Append(ctx context.Context, owner Address, id ContentID, fileType string, category Category) (MedicalRecordEntry, error)

	// List returns all entries of owner in append order.
	List(ctx context.Context, owner Address) ([]MedicalRecordEntry, error)
}

// AccessOracle answers access questions. The custody pipeline only reads
// grant state through it.
type AccessOracle interface {
	// Check reports whether requester currently holds a grant from owner.
	Check(ctx context.Context, owner, requester Address) (bool, error)

	// RecordAccess appends an audit event for a permitted access.
	RecordAccess(ctx context.Context, owner, requester Address) error
}

// AccessAdmin mutates grant state and exposes the audit trail.
type AccessAdmin interface {
	Grant(ctx context.Context, owner, grantee Address) error
	Revoke(ctx context.Context, owner, grantee Address) error
	AccessHistory(ctx context.Context, owner Address) ([]AccessEvent, error)
}

// Registry is the full ledger surface offered by a registry implementation.
type Registry interface {
	RecordLedger
	AccessOracle
	AccessAdmin
}

// RegistryFactory creates Registry instances for contract addresses.
type RegistryFactory interface {
	RegistryFor(contract Address) (Registry, error)
}
