// Package persistencetest holds the behaviour every IMultisigPersistence
// backend must share. Backend packages run it from their own tests.
package persistencetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/errors"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/types"
)

// Factory opens a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) persistence.IMultisigPersistence

// RunSuite runs the shared store tests against the backend built by newStore
func RunSuite(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store persistence.IMultisigPersistence)
	}{
		{"InsertAndLoadAccount", testInsertAndLoadAccount},
		{"LoadAccount_NotFound", testLoadAccountNotFound},
		{"InsertAccount_Duplicate", testInsertAccountDuplicate},
		{"InsertAccount_ConcurrentExactlyOne", testInsertAccountConcurrent},
		{"ListAccountsByMember", testListAccountsByMember},
		{"CreateAndLoadProposal", testCreateAndLoadProposal},
		{"UpdateProposal_CompareAndSwap", testUpdateProposalCAS},
		{"UpdateProposal_ConcurrentExactlyOne", testUpdateProposalConcurrent},
		{"ListProposalsByMultisig", testListProposals},
		{"ReturnedValuesAreCopies", testReturnedValuesAreCopies},
		{"Close", testClose},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			defer func() { _ = store.Close() }()
			tt.fn(t, store)
		})
	}
}

// NewAccount returns a store-level account fixture. The blob is opaque to stores.
func NewAccount(address string, components ...string) *types.MultisigAccount {
	return &types.MultisigAccount{
		Address:    address,
		PubkeyJSON: fmt.Sprintf(`{"type":"tendermint/PubKeyMultisigThreshold","value":{"threshold":"1","pubkeys":[],"addr":%q}}`, address),
		Components: components,
		Prefix:     "cosmos",
	}
}

// NewProposal returns a pending proposal fixture
func NewProposal(id, multisig string, createdAt int64) *types.TransactionProposal {
	return &types.TransactionProposal{
		ID:              id,
		DataJSON:        `{"chainId":"cosmoshub-4","msgs":[],"fee":{"amount":[],"gas":"200000"},"memo":""}`,
		CreatedBy:       "cosmos1creator",
		Status:          types.ProposalStatusPending,
		MultisigAddress: multisig,
		Signatures:      []types.MemberSignature{},
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

func testInsertAndLoadAccount(t *testing.T, store persistence.IMultisigPersistence) {
	ctx := context.Background()
	account := NewAccount("cosmos1alpha", "cosmos1m1", "cosmos1m2")

	require.NoError(t, store.InsertAccountIfAbsent(ctx, account, account.Components))

	loaded, err := store.LoadAccount(ctx, account.Address)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, account.Address, loaded.Address)
	assert.Equal(t, account.PubkeyJSON, loaded.PubkeyJSON)
	assert.Equal(t, account.Components, loaded.Components)
	assert.Equal(t, account.Prefix, loaded.Prefix)
}

func testLoadAccountNotFound(t *testing.T, store persistence.IMultisigPersistence) {
	loaded, err := store.LoadAccount(context.Background(), "cosmos1missing")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	list, err := store.ListAccountsByMember(context.Background(), "cosmos1nobody")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func testInsertAccountDuplicate(t *testing.T, store persistence.IMultisigPersistence) {
	ctx := context.Background()
	first := NewAccount("cosmos1dup", "cosmos1m1")
	require.NoError(t, store.InsertAccountIfAbsent(ctx, first, first.Components))

	second := NewAccount("cosmos1dup", "cosmos1other")
	second.PubkeyJSON = `{"different":true}`
	err := store.InsertAccountIfAbsent(ctx, second, second.Components)
	require.Error(t, err)
	assert.True(t, errors.ErrAlreadyExists.Is(err), err.Error())

	loaded, err := store.LoadAccount(ctx, "cosmos1dup")
	require.NoError(t, err)
	assert.Equal(t, first.PubkeyJSON, loaded.PubkeyJSON)

	other, err := store.ListAccountsByMember(ctx, "cosmos1other")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testInsertAccountConcurrent(t *testing.T, store persistence.IMultisigPersistence) {
	ctx := context.Background()
	const workers = 16

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			account := NewAccount("cosmos1race", fmt.Sprintf("cosmos1member%d", i))
			err := store.InsertAccountIfAbsent(ctx, account, account.Components)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.ErrAlreadyExists.Is(err):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(workers-1), conflicts.Load())
}

func testListAccountsByMember(t *testing.T, store persistence.IMultisigPersistence) {
	ctx := context.Background()
	for _, addr := range []string{"cosmos1ccc", "cosmos1aaa", "cosmos1bbb"} {
		account := NewAccount(addr, "cosmos1shared", "cosmos1only"+addr[len(addr)-3:])
		require.NoError(t, store.InsertAccountIfAbsent(ctx, account, account.Components))
	}

	shared, err := store.ListAccountsByMember(ctx, "cosmos1shared")
	require.NoError(t, err)
	require.Len(t, shared, 3)
	assert.Equal(t, "cosmos1aaa", shared[0].Address)
	assert.Equal(t, "cosmos1bbb", shared[1].Address)
	assert.Equal(t, "cosmos1ccc", shared[2].Address)

	single, err := store.ListAccountsByMember(ctx, "cosmos1onlybbb")
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "cosmos1bbb", single[0].Address)
}

func testCreateAndLoadProposal(t *testing.T, store persistence.IMultisigPersistence) {
	ctx := context.Background()
	proposal := NewProposal("p-1", "cosmos1msig", 100)

	require.NoError(t, store.CreateProposal(ctx, proposal))

	loaded, err := store.LoadProposal(ctx, "p-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, proposal.DataJSON, loaded.DataJSON)
	assert.Equal(t, types.ProposalStatusPending, loaded.Status)
	assert.Equal(t, int64(0), loaded.Version)

	err = store.CreateProposal(ctx, NewProposal("p-1", "cosmos1msig", 200))
	assert.True(t, errors.ErrAlreadyExists.Is(err))

	missing, err := store.LoadProposal(ctx, "p-missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testUpdateProposalCAS(t *testing.T, store persistence.IMultisigPersistence) {
	ctx := context.Background()
	require.NoError(t, store.CreateProposal(ctx, NewProposal("p-cas", "cosmos1msig", 100)))

	loaded, err := store.LoadProposal(ctx, "p-cas")
	require.NoError(t, err)

	expected := loaded.Version
	loaded.Status = types.ProposalStatusSignedPartial
	loaded.Version++
	require.NoError(t, store.UpdateProposal(ctx, loaded, expected))

	// A writer still holding the old version loses
	stale := NewProposal("p-cas", "cosmos1msig", 100)
	stale.Status = types.ProposalStatusFailed
	err = store.UpdateProposal(ctx, stale, expected)
	require.Error(t, err)
	assert.True(t, errors.ErrVersionConflict.Is(err), err.Error())

	current, err := store.LoadProposal(ctx, "p-cas")
	require.NoError(t, err)
	assert.Equal(t, types.ProposalStatusSignedPartial, current.Status)
	assert.Equal(t, expected+1, current.Version)

	err = store.UpdateProposal(ctx, NewProposal("p-nope", "cosmos1msig", 1), 0)
	assert.True(t, errors.ErrNotFound.Is(err))
}

func testUpdateProposalConcurrent(t *testing.T, store persistence.IMultisigPersistence) {
	ctx := context.Background()
	require.NoError(t, store.CreateProposal(ctx, NewProposal("p-race", "cosmos1msig", 100)))

	const workers = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := NewProposal("p-race", "cosmos1msig", 100)
			p.Version = 1
			p.Signatures = []types.MemberSignature{{PubKey: []byte{byte(i)}, Signature: []byte{1}}}
			err := store.UpdateProposal(ctx, p, 0)
			if err == nil {
				successes.Add(1)
				return
			}
			if !errors.ErrVersionConflict.Is(err) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	current, err := store.LoadProposal(ctx, "p-race")
	require.NoError(t, err)
	assert.Len(t, current.Signatures, 1)
}

func testListProposals(t *testing.T, store persistence.IMultisigPersistence) {
	ctx := context.Background()
	require.NoError(t, store.CreateProposal(ctx, NewProposal("p-late", "cosmos1msig", 300)))
	require.NoError(t, store.CreateProposal(ctx, NewProposal("p-early", "cosmos1msig", 100)))
	require.NoError(t, store.CreateProposal(ctx, NewProposal("p-mid", "cosmos1msig", 200)))
	require.NoError(t, store.CreateProposal(ctx, NewProposal("p-other", "cosmos1else", 50)))

	list, err := store.ListProposalsByMultisig(ctx, "cosmos1msig")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "p-early", list[0].ID)
	assert.Equal(t, "p-mid", list[1].ID)
	assert.Equal(t, "p-late", list[2].ID)

	empty, err := store.ListProposalsByMultisig(ctx, "cosmos1none")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func testReturnedValuesAreCopies(t *testing.T, store persistence.IMultisigPersistence) {
	ctx := context.Background()
	account := NewAccount("cosmos1copy", "cosmos1m1")
	require.NoError(t, store.InsertAccountIfAbsent(ctx, account, account.Components))
	account.Components[0] = "mutated"

	loaded, err := store.LoadAccount(ctx, "cosmos1copy")
	require.NoError(t, err)
	assert.Equal(t, "cosmos1m1", loaded.Components[0])
	loaded.Components[0] = "mutated again"

	again, err := store.LoadAccount(ctx, "cosmos1copy")
	require.NoError(t, err)
	assert.Equal(t, "cosmos1m1", again.Components[0])
}

func testClose(t *testing.T, store persistence.IMultisigPersistence) {
	ctx := context.Background()
	require.NoError(t, store.HealthCheck())

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	assert.True(t, errors.ErrStoreUnavailable.Is(store.HealthCheck()))
	assert.True(t, errors.IsRetryable(store.InsertAccountIfAbsent(ctx, NewAccount("cosmos1late"), nil)))
	_, err := store.LoadAccount(ctx, "cosmos1late")
	assert.True(t, errors.ErrStoreUnavailable.Is(err))
	_, err = store.ListAccountsByMember(ctx, "cosmos1m1")
	assert.True(t, errors.ErrStoreUnavailable.Is(err))
	assert.True(t, errors.ErrStoreUnavailable.Is(store.CreateProposal(ctx, NewProposal("p-late", "x", 1))))
	_, err = store.LoadProposal(ctx, "p-late")
	assert.True(t, errors.ErrStoreUnavailable.Is(err))
	assert.True(t, errors.ErrStoreUnavailable.Is(store.UpdateProposal(ctx, NewProposal("p-late", "x", 1), 0)))
	_, err = store.ListProposalsByMultisig(ctx, "x")
	assert.True(t, errors.ErrStoreUnavailable.Is(err))
}
