package syncMonitor

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/errors"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/eventSource"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/registry"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/testutil"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/types"
)

type fakeSessions struct {
	mu      sync.Mutex
	session *Session
}

func (s *fakeSessions) Current(context.Context) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, nil
	}
	c := *s.session
	return &c, nil
}

func (s *fakeSessions) set(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
}

type fakeWallet struct {
	mu      sync.Mutex
	signers map[string]string // chain id -> signer address
}

func (w *fakeWallet) SignerAddress(_ context.Context, chainID string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	signer, ok := w.signers[chainID]
	if !ok {
		return "", errors.ErrNotFound.Newf("no key for %s", chainID)
	}
	return signer, nil
}

func (w *fakeWallet) set(chainID, signer string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.signers[chainID] = signer
}

type fixture struct {
	monitor  *Monitor
	sessions *fakeSessions
	wallet   *fakeWallet
	members  []*testutil.TestMember
	updates  <-chan SyncState
}

// newFixture registers seven accounts that include member 0 and two that
// include member 3 only with member 1.
func newFixture(t *testing.T, lister AccountLister) *fixture {
	t.Helper()
	ctx := context.Background()
	members := testutil.CreateTestMembers(t, 4)

	if lister == nil {
		store := memory.NewMemoryPersistence(nil)
		t.Cleanup(func() { _ = store.Close() })
		reg := registry.NewClient(store, zap.NewNop())
		groups := []struct {
			idx       []int
			threshold int
		}{
			{[]int{0, 1}, 1}, {[]int{0, 1}, 2}, {[]int{0, 2}, 1},
			{[]int{0, 1, 2}, 1}, {[]int{0, 1, 2}, 2}, {[]int{0, 1, 2}, 3},
			{[]int{0, 3}, 1}, {[]int{1, 3}, 1}, {[]int{1, 3}, 2},
		}
		for _, g := range groups {
			var subset []*testutil.TestMember
			for _, i := range g.idx {
				subset = append(subset, members[i])
			}
			require.NoError(t, reg.Register(ctx, testutil.CreateTestAccount(t, subset, g.threshold)))
		}
		lister = reg
	}

	sessions := &fakeSessions{session: &Session{ChainID: "cosmoshub-4"}}
	wallet := &fakeWallet{signers: map[string]string{"cosmoshub-4": members[0].Address}}

	monitor, err := NewMonitor(&MonitorConfig{
		Registry:   lister,
		Sessions:   sessions,
		Wallet:     wallet,
		Logger:     zap.NewNop(),
		RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(monitor.Close)

	updates, unsubscribe := monitor.Subscribe()
	t.Cleanup(unsubscribe)

	return &fixture{
		monitor:  monitor,
		sessions: sessions,
		wallet:   wallet,
		members:  members,
		updates:  updates,
	}
}

// waitFor returns the first published state with a sequence number of at least seq
func waitFor(t *testing.T, updates <-chan SyncState, seq uint64) SyncState {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-updates:
			if s.Seq >= seq {
				return s
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %d", seq)
		}
	}
}

func TestMonitor_RebuildsOnSignerChange(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	seq := f.monitor.HandleEvent(ctx, eventSource.SignerChange())
	state := waitFor(t, f.updates, seq)

	assert.Equal(t, f.members[0].Address, state.Signer)
	assert.Equal(t, "cosmoshub-4", state.ChainID)
	assert.Equal(t, 7, state.Total())
	assert.Equal(t, 1, state.Page)
	assert.Len(t, state.Visible(), DefaultPageSize)
	for _, acct := range state.Accounts {
		assert.NotNil(t, acct.Descriptor)
	}

	// Another key in the wallet
	f.wallet.set("cosmoshub-4", f.members[3].Address)
	seq = f.monitor.HandleEvent(ctx, eventSource.SignerChange())
	state = waitFor(t, f.updates, seq)
	assert.Equal(t, f.members[3].Address, state.Signer)
	assert.Equal(t, 3, state.Total())
}

func TestMonitor_Pagination(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	state := waitFor(t, f.updates, f.monitor.HandleEvent(ctx, eventSource.SignerChange()))
	first := state.Visible()

	state = f.monitor.SetPage(2)
	assert.Equal(t, 2, state.Page)
	second := state.Visible()
	assert.Len(t, second, 2)
	assert.NotEqual(t, first[0].Address, second[0].Address)

	published := <-f.updates
	assert.Equal(t, 2, published.Page)

	assert.Empty(t, f.monitor.SetPage(9).Visible())
	assert.Equal(t, 1, f.monitor.SetPage(-3).Page)

	// A rebuild resets the window
	f.monitor.SetPage(2)
	state = waitFor(t, f.updates, f.monitor.HandleEvent(ctx, eventSource.SessionChange()))
	assert.Equal(t, 1, state.Page)
}

func TestMonitor_LogoutClearsState(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	state := waitFor(t, f.updates, f.monitor.HandleEvent(ctx, eventSource.SignerChange()))
	require.False(t, state.LoggedOut())

	f.sessions.set(nil)
	state = waitFor(t, f.updates, f.monitor.HandleEvent(ctx, eventSource.SessionChange()))
	assert.True(t, state.LoggedOut())
	assert.Empty(t, state.Accounts)
	assert.Empty(t, state.Visible())
	assert.Equal(t, state, f.monitor.State())
}

func TestMonitor_NetworkChange(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.wallet.set("osmosis-1", f.members[1].Address)

	state := waitFor(t, f.updates, f.monitor.HandleEvent(ctx, eventSource.NetworkChange("osmosis-1")))
	assert.Equal(t, "osmosis-1", state.ChainID)
	assert.Equal(t, f.members[1].Address, state.Signer)
	assert.Equal(t, 7, state.Total())

	// Later signer events stay on the selected network
	state = waitFor(t, f.updates, f.monitor.HandleEvent(ctx, eventSource.SignerChange()))
	assert.Equal(t, "osmosis-1", state.ChainID)
}

// blockingLister holds the first call until release is closed and records
// whether that call's context was still live afterwards
type blockingLister struct {
	inner    AccountLister
	mu       sync.Mutex
	calls    int
	started  chan struct{}
	release  chan struct{}
	finished chan struct{}
	ctxErr   error
}

func (l *blockingLister) ListByMember(ctx context.Context, member string) ([]*types.MultisigAccount, error) {
	l.mu.Lock()
	l.calls++
	first := l.calls == 1
	l.mu.Unlock()

	if first {
		close(l.started)
		<-l.release
		l.ctxErr = ctx.Err()
		close(l.finished)
		return []*types.MultisigAccount{{Address: "stale"}}, nil
	}
	return l.inner.ListByMember(ctx, member)
}

func TestMonitor_DiscardsStaleRebuild(t *testing.T) {
	store := memory.NewMemoryPersistence(nil)
	defer func() { _ = store.Close() }()
	lister := &blockingLister{
		inner:    registry.NewClient(store, zap.NewNop()),
		started:  make(chan struct{}),
		release:  make(chan struct{}),
		finished: make(chan struct{}),
	}
	f := newFixture(t, lister)
	ctx := context.Background()

	slow := f.monitor.HandleEvent(ctx, eventSource.SignerChange())
	<-lister.started

	fast := f.monitor.HandleEvent(ctx, eventSource.SessionChange())
	require.Greater(t, fast, slow)
	state := waitFor(t, f.updates, fast)
	assert.Equal(t, fast, state.Seq)
	assert.Empty(t, state.Accounts)

	close(lister.release)
	<-lister.finished
	// a newer event does not cancel the older rebuild, its result is discarded
	assert.NoError(t, lister.ctxErr)
	f.monitor.Close()

	final := f.monitor.State()
	assert.Equal(t, fast, final.Seq)
	assert.Empty(t, final.Accounts)
}

// flakyLister fails with a transient error a fixed number of times
type flakyLister struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (l *flakyLister) ListByMember(context.Context, string) ([]*types.MultisigAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.calls <= l.failures {
		return nil, l.err
	}
	return []*types.MultisigAccount{{Address: "cosmos1ok"}}, nil
}

func TestMonitor_RetriesTransientFailures(t *testing.T) {
	lister := &flakyLister{failures: 2, err: errors.ErrStoreUnavailable.New("backend down")}
	f := newFixture(t, lister)

	state := waitFor(t, f.updates, f.monitor.HandleEvent(context.Background(), eventSource.SignerChange()))
	require.Len(t, state.Accounts, 1)
	assert.Equal(t, "cosmos1ok", state.Accounts[0].Address)
	assert.Equal(t, 3, lister.calls)
}

// memberLister lists one account for ok and fails for every other member
type memberLister struct {
	mu    sync.Mutex
	ok    string
	err   error
	calls int
}

func (l *memberLister) ListByMember(_ context.Context, member string) ([]*types.MultisigAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if member != l.ok {
		return nil, l.err
	}
	return []*types.MultisigAccount{{Address: "cosmos1ok"}}, nil
}

func TestMonitor_FailedRebuildReplacesPreviousSigner(t *testing.T) {
	lister := &memberLister{err: stderrors.New("boom")}
	f := newFixture(t, lister)
	lister.ok = f.members[0].Address
	ctx := context.Background()

	state := waitFor(t, f.updates, f.monitor.HandleEvent(ctx, eventSource.SignerChange()))
	require.NoError(t, state.Err)
	require.Len(t, state.Accounts, 1)

	// The new signer's listing fails; the old signer's accounts must not remain
	f.wallet.set("cosmoshub-4", f.members[3].Address)
	seq := f.monitor.HandleEvent(ctx, eventSource.SignerChange())
	state = waitFor(t, f.updates, seq)

	assert.Equal(t, seq, state.Seq)
	assert.Equal(t, f.members[3].Address, state.Signer)
	assert.Equal(t, "cosmoshub-4", state.ChainID)
	assert.Empty(t, state.Accounts)
	assert.Empty(t, state.Visible())
	assert.Equal(t, 0, state.Total())
	assert.True(t, state.Failed())
	assert.False(t, state.LoggedOut())
	assert.ErrorContains(t, state.Err, "failed to list accounts")
	assert.ErrorContains(t, state.Err, "boom")
	assert.Equal(t, state, f.monitor.State())
	// permanent errors are not retried
	assert.Equal(t, 2, lister.calls)

	// The next successful rebuild clears the failure
	f.wallet.set("cosmoshub-4", f.members[0].Address)
	state = waitFor(t, f.updates, f.monitor.HandleEvent(ctx, eventSource.SignerChange()))
	assert.NoError(t, state.Err)
	assert.Equal(t, f.members[0].Address, state.Signer)
	assert.Len(t, state.Accounts, 1)
}

func TestMonitor_FailedSignerLookupIsPublished(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	state := waitFor(t, f.updates, f.monitor.HandleEvent(ctx, eventSource.SignerChange()))
	require.Equal(t, 7, state.Total())

	// no key for this network in the wallet
	seq := f.monitor.HandleEvent(ctx, eventSource.NetworkChange("juno-1"))
	state = waitFor(t, f.updates, seq)
	assert.Equal(t, seq, state.Seq)
	assert.Equal(t, "juno-1", state.ChainID)
	assert.Empty(t, state.Signer)
	assert.Empty(t, state.Accounts)
	assert.False(t, state.LoggedOut())
	assert.True(t, errors.ErrNotFound.Is(state.Err))
}

func TestMonitor_CancelledRebuildInstallsNothing(t *testing.T) {
	f := newFixture(t, &memberLister{err: stderrors.New("boom")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.monitor.HandleEvent(ctx, eventSource.SignerChange())
	f.monitor.Close()

	state := f.monitor.State()
	assert.Equal(t, uint64(0), state.Seq)
	assert.NoError(t, state.Err)
	assert.True(t, state.LoggedOut())
}

func TestMonitor_RunWithEventSource(t *testing.T) {
	f := newFixture(t, nil)
	source := eventSource.NewEventSource(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.monitor.Run(ctx, source)
		close(done)
	}()

	require.NoError(t, source.Publish(ctx, eventSource.SignerChange()))
	state := waitFor(t, f.updates, 1)
	assert.Equal(t, 7, state.Total())

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestMonitor_Unsubscribe(t *testing.T) {
	f := newFixture(t, nil)
	ch, unsubscribe := f.monitor.Subscribe()
	unsubscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestNewMonitor_Validation(t *testing.T) {
	_, err := NewMonitor(nil)
	assert.True(t, errors.IsValidation(err))

	_, err = NewMonitor(&MonitorConfig{Registry: &flakyLister{}, Sessions: &fakeSessions{}, Wallet: &fakeWallet{}})
	assert.True(t, errors.IsValidation(err))
}
