package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/errors"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/types"
)

// MemoryPersistence is an in-memory implementation of IMultisigPersistence.
// This implementation is intended for TESTING and single process use.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Deep copies data to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	// address -> account
	accounts map[string]*types.MultisigAccount

	// member address -> set of account addresses
	memberIndex map[string]map[string]struct{}

	// id -> proposal
	proposals map[string]*types.TransactionProposal

	// multisig address -> proposal ids
	proposalIndex map[string][]string

	closed bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
// Logs a loud warning since nothing survives a restart.
func NewMemoryPersistence(l *zap.Logger) *MemoryPersistence {
	if l != nil {
		l.Sugar().Warnw("Using in-memory persistence - ALL DATA WILL BE LOST ON RESTART",
			"hint", "set MULTISIG_PERSISTENCE_TYPE=badger or redis for durable storage",
		)
	}

	return &MemoryPersistence{
		accounts:      make(map[string]*types.MultisigAccount),
		memberIndex:   make(map[string]map[string]struct{}),
		proposals:     make(map[string]*types.TransactionProposal),
		proposalIndex: make(map[string][]string),
	}
}

func closedErr() error {
	return errors.ErrStoreUnavailable.New("persistence layer is closed")
}

// InsertAccountIfAbsent stores the account unless the address is taken.
func (m *MemoryPersistence) InsertAccountIfAbsent(ctx context.Context, account *types.MultisigAccount, members []string) error {
	if account == nil {
		return errors.ErrInvalidInput.New("cannot save nil MultisigAccount")
	}
	if account.Address == "" {
		return errors.ErrInvalidInput.New("account address is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return closedErr()
	}
	if _, exists := m.accounts[account.Address]; exists {
		return errors.ErrAlreadyExists.Newf("multisig %s already registered", account.Address)
	}

	m.accounts[account.Address] = cloneAccount(account)
	for _, member := range persistence.UniqueMembers(members) {
		set, ok := m.memberIndex[member]
		if !ok {
			set = make(map[string]struct{})
			m.memberIndex[member] = set
		}
		set[account.Address] = struct{}{}
	}
	return nil
}

// LoadAccount retrieves an account by address.
func (m *MemoryPersistence) LoadAccount(ctx context.Context, address string) (*types.MultisigAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, closedErr()
	}

	account, exists := m.accounts[address]
	if !exists {
		return nil, nil // Not found is not an error
	}
	return cloneAccount(account), nil
}

// ListAccountsByMember returns the accounts a member belongs to, sorted by address.
func (m *MemoryPersistence) ListAccountsByMember(ctx context.Context, member string) ([]*types.MultisigAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, closedErr()
	}

	result := make([]*types.MultisigAccount, 0, len(m.memberIndex[member]))
	for addr := range m.memberIndex[member] {
		result = append(result, cloneAccount(m.accounts[addr]))
	}
	persistence.SortAccounts(result)
	return result, nil
}

// CreateProposal stores a new proposal.
func (m *MemoryPersistence) CreateProposal(ctx context.Context, proposal *types.TransactionProposal) error {
	if proposal == nil {
		return errors.ErrInvalidInput.New("cannot save nil TransactionProposal")
	}
	if proposal.ID == "" {
		return errors.ErrInvalidInput.New("proposal id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return closedErr()
	}
	if _, exists := m.proposals[proposal.ID]; exists {
		return errors.ErrAlreadyExists.Newf("proposal %s already exists", proposal.ID)
	}

	m.proposals[proposal.ID] = proposal.Clone()
	m.proposalIndex[proposal.MultisigAddress] = append(m.proposalIndex[proposal.MultisigAddress], proposal.ID)
	return nil
}

// LoadProposal retrieves a proposal by ID.
func (m *MemoryPersistence) LoadProposal(ctx context.Context, id string) (*types.TransactionProposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, closedErr()
	}

	proposal, exists := m.proposals[id]
	if !exists {
		return nil, nil
	}
	return proposal.Clone(), nil
}

// UpdateProposal replaces the stored proposal when the version matches.
func (m *MemoryPersistence) UpdateProposal(ctx context.Context, proposal *types.TransactionProposal, expectedVersion int64) error {
	if proposal == nil {
		return errors.ErrInvalidInput.New("cannot save nil TransactionProposal")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return closedErr()
	}

	current, exists := m.proposals[proposal.ID]
	if !exists {
		return errors.ErrNotFound.Newf("proposal %s", proposal.ID)
	}
	if current.Version != expectedVersion {
		return errors.ErrVersionConflict.Newf("proposal %s is at version %d, expected %d", proposal.ID, current.Version, expectedVersion)
	}

	m.proposals[proposal.ID] = proposal.Clone()
	return nil
}

// ListProposalsByMultisig returns proposals for a multisig sorted by creation time.
func (m *MemoryPersistence) ListProposalsByMultisig(ctx context.Context, address string) ([]*types.TransactionProposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, closedErr()
	}

	ids := m.proposalIndex[address]
	result := make([]*types.TransactionProposal, 0, len(ids))
	for _, id := range ids {
		result = append(result, m.proposals[id].Clone())
	}
	persistence.SortProposals(result)
	return result, nil
}

// Close marks the persistence layer as closed.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return closedErr()
	}
	return nil
}

// cloneAccount copies the persisted fields. The descriptor is rebuilt by readers.
func cloneAccount(a *types.MultisigAccount) *types.MultisigAccount {
	return &types.MultisigAccount{
		Address:    a.Address,
		PubkeyJSON: a.PubkeyJSON,
		Components: append([]string{}, a.Components...),
		Prefix:     a.Prefix,
	}
}
