package proposal

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/errors"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/registry"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/testutil"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/txbuilder"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/types"
)

type fixture struct {
	store    *memory.MemoryPersistence
	registry *registry.Client
	tracker  *Tracker
	members  []*testutil.TestMember
	account  *types.MultisigAccount
}

func newFixture(t *testing.T, n, threshold int, opts ...Option) *fixture {
	t.Helper()
	store := memory.NewMemoryPersistence(nil)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.NewClient(store, zap.NewNop())
	members := testutil.CreateTestMembers(t, n)
	account := testutil.CreateTestAccount(t, members, threshold)
	require.NoError(t, reg.Register(context.Background(), account))

	return &fixture{
		store:    store,
		registry: reg,
		tracker:  NewTracker(store, reg, zap.NewNop(), opts...),
		members:  members,
		account:  account,
	}
}

func (f *fixture) transfer(t *testing.T) *types.UnsignedTx {
	t.Helper()
	tx, err := txbuilder.BuildTransfer(txbuilder.TransferRequest{
		Sender:    f.account.Address,
		Recipient: f.members[0].Address,
		Amount:    5000000,
		Denom:     "uatom",
		Fee:       5000,
		Gas:       200000,
		ChainID:   "cosmoshub-4",
	})
	require.NoError(t, err)
	return tx
}

func (f *fixture) submit(t *testing.T) *types.TransactionProposal {
	t.Helper()
	id, err := f.tracker.Submit(context.Background(), f.transfer(t), f.account.Address)
	require.NoError(t, err)
	p, err := f.tracker.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestTracker_ThresholdTwoLifecycle(t *testing.T) {
	f := newFixture(t, 3, 2)
	ctx := context.Background()

	p := f.submit(t)
	assert.Equal(t, types.ProposalStatusPending, p.Status)
	assert.Equal(t, f.account.Address, p.MultisigAddress)
	assert.Empty(t, p.Signatures)

	m0, m1 := f.members[0], f.members[1]

	p, err := f.tracker.AttachSignature(ctx, p.ID, m0.PubKey, m0.Sign(t, SignBytes(p)))
	require.NoError(t, err)
	assert.Equal(t, types.ProposalStatusSignedPartial, p.Status)
	assert.Len(t, p.Signatures, 1)
	version := p.Version

	// Same member again is a no-op
	p, err = f.tracker.AttachSignature(ctx, p.ID, m0.PubKey, m0.Sign(t, SignBytes(p)))
	require.NoError(t, err)
	assert.Equal(t, types.ProposalStatusSignedPartial, p.Status)
	assert.Len(t, p.Signatures, 1)
	assert.Equal(t, version, p.Version)

	p, err = f.tracker.AttachSignature(ctx, p.ID, m1.PubKey, m1.Sign(t, SignBytes(p)))
	require.NoError(t, err)
	assert.Equal(t, types.ProposalStatusSignedComplete, p.Status)
	assert.Len(t, p.Signatures, 2)

	p, err = f.tracker.ReportBroadcast(ctx, p.ID, "ABCDEF", nil)
	require.NoError(t, err)
	assert.Equal(t, types.ProposalStatusBroadcast, p.Status)
	assert.Equal(t, "ABCDEF", p.TxHash)

	m2 := f.members[2]
	_, err = f.tracker.AttachSignature(ctx, p.ID, m2.PubKey, m2.Sign(t, SignBytes(p)))
	assert.True(t, errors.ErrTerminalState.Is(err))
	_, err = f.tracker.ReportBroadcast(ctx, p.ID, "", stderrors.New("again"))
	assert.True(t, errors.ErrTerminalState.Is(err))

	stored, err := f.tracker.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ProposalStatusBroadcast, stored.Status)
	assert.Len(t, stored.Signatures, 2)

	sigs, err := f.tracker.Signatures(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.Equal(t, m0.PubKey, sigs[0].PubKey)
	assert.Equal(t, m1.PubKey, sigs[1].PubKey)

	_, err = f.tracker.Signatures(ctx, "missing")
	assert.True(t, errors.ErrNotFound.Is(err))
}

func TestTracker_SignatureFromNonMemberFails(t *testing.T) {
	f := newFixture(t, 2, 2)
	ctx := context.Background()
	p := f.submit(t)

	outsider := testutil.CreateTestMembers(t, 3)[2]
	failed, err := f.tracker.AttachSignature(ctx, p.ID, outsider.PubKey, outsider.Sign(t, SignBytes(p)))
	require.Error(t, err)
	assert.True(t, errors.ErrNotMember.Is(err))
	require.NotNil(t, failed)
	assert.Equal(t, types.ProposalStatusFailed, failed.Status)
	assert.NotEmpty(t, failed.FailureReason)

	m0 := f.members[0]
	_, err = f.tracker.AttachSignature(ctx, p.ID, m0.PubKey, m0.Sign(t, SignBytes(p)))
	assert.True(t, errors.ErrTerminalState.Is(err))
}

func TestTracker_InvalidSignatureFails(t *testing.T) {
	f := newFixture(t, 2, 2)
	ctx := context.Background()
	p := f.submit(t)

	m0, m1 := f.members[0], f.members[1]
	p, err := f.tracker.AttachSignature(ctx, p.ID, m0.PubKey, m0.Sign(t, SignBytes(p)))
	require.NoError(t, err)

	// m1's key with a signature over other bytes
	failed, err := f.tracker.AttachSignature(ctx, p.ID, m1.PubKey, m1.Sign(t, []byte("something else")))
	require.Error(t, err)
	assert.True(t, errors.ErrInvalidSignature.Is(err))
	assert.Equal(t, types.ProposalStatusFailed, failed.Status)

	_, err = f.tracker.AttachSignature(ctx, p.ID, m1.PubKey, []byte{1, 2, 3})
	assert.True(t, errors.ErrTerminalState.Is(err))
}

func TestTracker_ShortSignatureFails(t *testing.T) {
	f := newFixture(t, 2, 1)
	p := f.submit(t)

	failed, err := f.tracker.AttachSignature(context.Background(), p.ID, f.members[0].PubKey, []byte{1, 2, 3})
	assert.True(t, errors.ErrInvalidSignature.Is(err))
	assert.Equal(t, types.ProposalStatusFailed, failed.Status)
}

func TestTracker_AcceptsRecoverableSignature(t *testing.T) {
	f := newFixture(t, 2, 1)
	p := f.submit(t)
	m0 := f.members[0]

	sig := append(m0.Sign(t, SignBytes(p)), 0x01)
	p, err := f.tracker.AttachSignature(context.Background(), p.ID, m0.PubKey, sig)
	require.NoError(t, err)
	assert.Equal(t, types.ProposalStatusSignedComplete, p.Status)
	assert.Len(t, p.Signatures[0].Signature, 64)
}

func TestTracker_ConcurrentSignersLoseNoUpdates(t *testing.T) {
	f := newFixture(t, 5, 3)
	ctx := context.Background()
	p := f.submit(t)

	var wg sync.WaitGroup
	for round := 0; round < 2; round++ {
		for _, m := range f.members {
			wg.Add(1)
			go func(m *testutil.TestMember) {
				defer wg.Done()
				_, err := f.tracker.AttachSignature(ctx, p.ID, m.PubKey, m.Sign(t, SignBytes(p)))
				assert.NoError(t, err)
			}(m)
		}
	}
	wg.Wait()

	final, err := f.tracker.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ProposalStatusSignedComplete, final.Status)
	assert.Len(t, final.Signatures, len(f.members))
}

func TestTracker_TrackersSharingStore(t *testing.T) {
	f := newFixture(t, 4, 4)
	ctx := context.Background()
	p := f.submit(t)
	other := NewTracker(f.store, f.registry, zap.NewNop())

	var wg sync.WaitGroup
	for i, m := range f.members {
		tracker := f.tracker
		if i%2 == 1 {
			tracker = other
		}
		wg.Add(1)
		go func(tracker *Tracker, m *testutil.TestMember) {
			defer wg.Done()
			_, err := tracker.AttachSignature(ctx, p.ID, m.PubKey, m.Sign(t, SignBytes(p)))
			assert.NoError(t, err)
		}(tracker, m)
	}
	wg.Wait()

	final, err := f.tracker.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ProposalStatusSignedComplete, final.Status)
	assert.Len(t, final.Signatures, 4)
}

func TestTracker_ReportBroadcast(t *testing.T) {
	f := newFixture(t, 2, 2)
	ctx := context.Background()

	partial := f.submit(t)
	_, err := f.tracker.ReportBroadcast(ctx, partial.ID, "HASH", nil)
	assert.True(t, errors.ErrInvalidState.Is(err))

	failed, err := f.tracker.ReportBroadcast(ctx, partial.ID, "", stderrors.New("insufficient fees"))
	require.NoError(t, err)
	assert.Equal(t, types.ProposalStatusFailed, failed.Status)
	assert.Contains(t, failed.FailureReason, "insufficient fees")

	_, err = f.tracker.ReportBroadcast(ctx, "missing", "", nil)
	assert.True(t, errors.ErrNotFound.Is(err))
}

func TestTracker_SubmitRequiresRegisteredMultisig(t *testing.T) {
	f := newFixture(t, 2, 2)
	ctx := context.Background()

	stranger := testutil.CreateTestAccount(t, f.members, 1)
	tx, err := txbuilder.BuildTransfer(txbuilder.TransferRequest{
		Sender: stranger.Address, Recipient: f.members[0].Address,
		Amount: 1, Denom: "uatom", ChainID: "cosmoshub-4",
	})
	require.NoError(t, err)

	_, err = f.tracker.Submit(ctx, tx, stranger.Address)
	assert.True(t, errors.ErrNotFound.Is(err))

	_, err = f.tracker.Submit(ctx, &types.UnsignedTx{ChainID: "cosmoshub-4"}, "x")
	assert.True(t, errors.ErrInvalidInput.Is(err))

	_, err = f.tracker.Get(ctx, "missing")
	assert.True(t, errors.ErrNotFound.Is(err))
}

type fakePublisher struct {
	calls []string
	err   error
}

func (p *fakePublisher) CreateTransaction(_ context.Context, dataJSON, createdBy string, status types.ProposalStatus) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.calls = append(p.calls, createdBy+"|"+status.String())
	return "remote-1", nil
}

func TestTracker_SubmitPublishes(t *testing.T) {
	pub := &fakePublisher{}
	fixed := time.Unix(1700000000, 0)
	f := newFixture(t, 2, 2, WithPublisher(pub), WithClock(func() time.Time { return fixed }))

	p := f.submit(t)
	assert.Equal(t, "remote-1", p.RemoteID)
	assert.Equal(t, fixed.Unix(), p.CreatedAt)
	assert.Equal(t, []string{f.account.Address + "|PENDING"}, pub.calls)

	list, err := f.tracker.List(context.Background(), f.account.Address)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)

	pub.err = errors.ErrStoreUnavailable.New("backend down")
	_, err = f.tracker.Submit(context.Background(), f.transfer(t), f.account.Address)
	assert.True(t, errors.IsRetryable(err))

	list, err = f.tracker.List(context.Background(), f.account.Address)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// failingCreateStore rejects every new proposal
type failingCreateStore struct {
	*memory.MemoryPersistence
	err error
}

func (s *failingCreateStore) CreateProposal(context.Context, *types.TransactionProposal) error {
	return s.err
}

func TestTracker_SubmitReportsPublishedButUnsaved(t *testing.T) {
	f := newFixture(t, 2, 2)
	core, logs := observer.New(zapcore.ErrorLevel)
	store := &failingCreateStore{MemoryPersistence: f.store, err: stderrors.New("disk full")}
	tracker := NewTracker(store, f.registry, zap.New(core), WithPublisher(&fakePublisher{}))

	id, err := tracker.Submit(context.Background(), f.transfer(t), f.account.Address)
	require.Error(t, err)
	assert.Empty(t, id)
	assert.True(t, errors.ErrStoreUnavailable.Is(err))
	assert.True(t, errors.IsRetryable(err))
	assert.Contains(t, err.Error(), "remote-1")

	entries := logs.FilterField(zap.String("remote_id", "remote-1")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)

	list, err := f.tracker.List(context.Background(), f.account.Address)
	require.NoError(t, err)
	assert.Empty(t, list)

	// without a publisher nothing is orphaned and nothing is logged
	tracker = NewTracker(store, f.registry, zap.New(core))
	_, err = tracker.Submit(context.Background(), f.transfer(t), f.account.Address)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "published as")
	assert.Equal(t, 1, logs.Len())
}

func TestTracker_DescriptorCacheSize(t *testing.T) {
	f := newFixture(t, 3, 2, WithDescriptorCacheSize(1))
	other := testutil.CreateTestAccount(t, f.members[:2], 1)
	require.NoError(t, f.registry.Register(context.Background(), other))

	f.submit(t)
	assert.Equal(t, []string{f.account.Address}, f.tracker.descriptors.Keys())

	tx, err := txbuilder.BuildTransfer(txbuilder.TransferRequest{
		Sender:    other.Address,
		Recipient: f.members[0].Address,
		Amount:    1,
		Denom:     "uatom",
		Gas:       200000,
		ChainID:   "cosmoshub-4",
	})
	require.NoError(t, err)
	_, err = f.tracker.Submit(context.Background(), tx, other.Address)
	require.NoError(t, err)

	// the first multisig was evicted
	assert.Equal(t, []string{other.Address}, f.tracker.descriptors.Keys())
}
