package persistence

import (
	"context"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/types"
)

// IAccountPersistence stores registered multisig accounts.
// All implementations must be thread-safe.
type IAccountPersistence interface {
	// InsertAccountIfAbsent stores the account and indexes it under each member
	// address. The existence check and the insert are one atomic unit: of two
	// concurrent inserts for the same address exactly one succeeds and the other
	// returns ErrAlreadyExists. An existing account is never overwritten.
	InsertAccountIfAbsent(ctx context.Context, account *types.MultisigAccount, members []string) error

	// LoadAccount retrieves an account by address.
	// Returns nil if the account doesn't exist, error only on storage failure.
	LoadAccount(ctx context.Context, address string) (*types.MultisigAccount, error)

	// ListAccountsByMember returns every account indexed under the member
	// address, sorted by account address. Returns an empty slice if none.
	ListAccountsByMember(ctx context.Context, member string) ([]*types.MultisigAccount, error)
}

// IProposalPersistence stores transaction proposals.
// All implementations must be thread-safe.
type IProposalPersistence interface {
	// CreateProposal stores a new proposal. The ID must be set and unused.
	CreateProposal(ctx context.Context, proposal *types.TransactionProposal) error

	// LoadProposal retrieves a proposal by ID.
	// Returns nil if the proposal doesn't exist, error only on storage failure.
	LoadProposal(ctx context.Context, id string) (*types.TransactionProposal, error)

	// UpdateProposal replaces a stored proposal if its stored version still
	// equals expectedVersion. Returns ErrVersionConflict otherwise and
	// ErrNotFound when the proposal is missing.
	UpdateProposal(ctx context.Context, proposal *types.TransactionProposal, expectedVersion int64) error

	// ListProposalsByMultisig returns proposals for a multisig address sorted by
	// creation time. Returns an empty slice if none.
	ListProposalsByMultisig(ctx context.Context, address string) ([]*types.TransactionProposal, error)
}

// IMultisigPersistence is the complete store used by the registry and the
// proposal tracker.
type IMultisigPersistence interface {
	IAccountPersistence
	IProposalPersistence

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations return ErrStoreUnavailable.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	HealthCheck() error
}
