package syncMonitor

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/errors"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/eventSource"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/types"
)

const (
	DefaultPageSize      = 5
	defaultRetryAttempts = 3
	defaultRetryDelay    = 100 * time.Millisecond
)

var rebuilds = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "multisig_sync_rebuilds_total",
		Help: "Account list rebuilds by result",
	},
	[]string{"result"},
)

// AccountLister is the registry query the monitor runs
type AccountLister interface {
	ListByMember(ctx context.Context, member string) ([]*types.MultisigAccount, error)
}

// Session is the stored login session
type Session struct {
	ChainID string
}

// SessionStore reads the current login session. A nil session means logged out.
type SessionStore interface {
	Current(ctx context.Context) (*Session, error)
}

// Wallet reports the signer address the wallet holds for a chain
type Wallet interface {
	SignerAddress(ctx context.Context, chainID string) (string, error)
}

// SyncState is the account list of the active signer plus the pagination
// window. It is replaced wholesale on every rebuild. When the latest rebuild
// failed, Err is set, Accounts is empty and Signer/ChainID name what the
// rebuild was attempted for, if known.
type SyncState struct {
	Signer   string
	ChainID  string
	Accounts []*types.MultisigAccount
	Page     int
	PageSize int
	Seq      uint64
	Err      error
}

// Visible returns the accounts in the current pagination window
func (s SyncState) Visible() []*types.MultisigAccount {
	return Page(s.Accounts, s.Page, s.PageSize)
}

// Total is the number of accounts across all pages
func (s SyncState) Total() int {
	return len(s.Accounts)
}

// LoggedOut reports whether the state holds no signer
func (s SyncState) LoggedOut() bool {
	return s.Signer == "" && s.Err == nil
}

// Failed reports whether the latest rebuild failed
func (s SyncState) Failed() bool {
	return s.Err != nil
}

// MonitorConfig holds the collaborators of a Monitor
type MonitorConfig struct {
	Registry AccountLister
	Sessions SessionStore
	Wallet   Wallet
	Logger   *zap.Logger

	PageSize      int
	RetryAttempts uint
	RetryDelay    time.Duration
}

// Monitor keeps the multisig list of the active signer current. Every event
// starts a rebuild with a new sequence number. Older rebuilds keep running,
// but a result is applied only if no newer rebuild started since. Close
// cancels every rebuild in flight.
type Monitor struct {
	registry AccountLister
	sessions SessionStore
	wallet   Wallet
	logger   *zap.Logger

	retryAttempts uint
	retryDelay    time.Duration

	closing context.Context
	close   context.CancelFunc

	mu       sync.Mutex
	state    SyncState
	seq      uint64
	subs     map[int]chan SyncState
	nextSub  int
	inflight conc.WaitGroup
}

// NewMonitor creates a monitor with an empty, logged out state
func NewMonitor(cfg *MonitorConfig) (*Monitor, error) {
	if cfg == nil || cfg.Registry == nil || cfg.Sessions == nil || cfg.Wallet == nil {
		return nil, errors.ErrInvalidInput.New("registry, session store and wallet are required")
	}
	if cfg.Logger == nil {
		return nil, errors.ErrInvalidInput.New("logger is required")
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	attempts := cfg.RetryAttempts
	if attempts == 0 {
		attempts = defaultRetryAttempts
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	closing, closeFn := context.WithCancel(context.Background())
	return &Monitor{
		closing:       closing,
		close:         closeFn,
		registry:      cfg.Registry,
		sessions:      cfg.Sessions,
		wallet:        cfg.Wallet,
		logger:        cfg.Logger,
		retryAttempts: attempts,
		retryDelay:    delay,
		state: SyncState{
			Accounts: []*types.MultisigAccount{},
			Page:     1,
			PageSize: pageSize,
		},
		subs: make(map[int]chan SyncState),
	}, nil
}

// Run feeds events from source into the monitor until ctx is done, then waits
// for in-flight rebuilds to finish.
func (m *Monitor) Run(ctx context.Context, source eventSource.IEventSource) {
	source.ListenToChannel(ctx, func(event *eventSource.Event) {
		m.HandleEvent(ctx, event)
	})
	m.Close()
}

// HandleEvent starts a rebuild for event and returns its sequence number
func (m *Monitor) HandleEvent(ctx context.Context, event *eventSource.Event) uint64 {
	m.mu.Lock()
	m.seq++
	seq := m.seq
	chainID := m.state.ChainID
	if event.Kind == eventSource.NetworkChanged && event.ChainID != "" {
		chainID = event.ChainID
	}
	m.mu.Unlock()

	rebuildCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.closing, cancel)

	m.logger.Sugar().Debugw("Starting account rebuild",
		"seq", seq,
		"event", event.Kind,
		"chain_id", chainID,
	)

	m.inflight.Go(func() {
		defer stop()
		defer cancel()
		m.rebuild(rebuildCtx, seq, chainID)
	})
	return seq
}

// Close cancels the rebuilds in flight and waits for them
func (m *Monitor) Close() {
	m.close()
	m.inflight.Wait()
}

func (m *Monitor) rebuild(ctx context.Context, seq uint64, chainID string) {
	session, err := m.sessions.Current(ctx)
	if err != nil {
		m.fail(ctx, seq, SyncState{ChainID: chainID}, errors.Wrap(err, "failed to read session"))
		return
	}
	if session == nil {
		m.apply(seq, SyncState{Accounts: []*types.MultisigAccount{}}, "cleared")
		return
	}
	// the session chain only applies until a network is known
	if chainID == "" {
		chainID = session.ChainID
	}

	signer, err := m.wallet.SignerAddress(ctx, chainID)
	if err != nil {
		m.fail(ctx, seq, SyncState{ChainID: chainID}, errors.Wrap(err, "failed to read signer"))
		return
	}

	var accounts []*types.MultisigAccount
	err = retry.Do(
		func() error {
			var err error
			accounts, err = m.registry.ListByMember(ctx, signer)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(m.retryAttempts),
		retry.Delay(m.retryDelay),
		retry.RetryIf(errors.IsRetryable),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		m.fail(ctx, seq, SyncState{Signer: signer, ChainID: chainID}, errors.Wrap(err, "failed to list accounts"))
		return
	}

	m.apply(seq, SyncState{
		Signer:   signer,
		ChainID:  chainID,
		Accounts: accounts,
	}, "applied")
}

// apply installs next unless a newer rebuild has started
func (m *Monitor) apply(seq uint64, next SyncState, result string) {
	m.mu.Lock()
	if latest := m.seq; seq != latest {
		m.mu.Unlock()
		rebuilds.WithLabelValues("stale").Inc()
		m.logger.Sugar().Debugw("Discarding stale rebuild", "seq", seq, "latest", latest)
		return
	}
	next.Seq = seq
	next.Page = 1
	next.PageSize = m.state.PageSize
	m.state = next
	snapshot := m.snapshotLocked()
	m.notifyLocked(snapshot)
	m.mu.Unlock()

	rebuilds.WithLabelValues(result).Inc()
	if next.Err != nil {
		m.logger.Sugar().Warnw("Account list rebuild failed",
			"seq", seq,
			"signer", next.Signer,
			"chain_id", next.ChainID,
			"error", next.Err,
			"retryable", errors.IsRetryable(next.Err),
		)
		return
	}
	m.logger.Sugar().Infow("Account list rebuilt",
		"seq", seq,
		"signer", next.Signer,
		"chain_id", next.ChainID,
		"accounts", len(next.Accounts),
	)
}

// fail installs a failed state for seq. The previous account list is
// dropped so it is never shown for a signer it does not belong to. A
// rebuild cancelled by Close or by its caller installs nothing.
func (m *Monitor) fail(ctx context.Context, seq uint64, attempted SyncState, err error) {
	if ctx.Err() != nil {
		rebuilds.WithLabelValues("cancelled").Inc()
		m.logger.Sugar().Debugw("Account list rebuild cancelled", "seq", seq, "error", err)
		return
	}
	attempted.Accounts = []*types.MultisigAccount{}
	attempted.Err = err
	m.apply(seq, attempted, "failed")
}

// State returns a copy of the current state
func (m *Monitor) State() SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// SetPage moves the pagination window. Pages past the end are allowed and
// show nothing.
func (m *Monitor) SetPage(page int) SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if page < 1 {
		page = 1
	}
	m.state.Page = page
	snapshot := m.snapshotLocked()
	m.notifyLocked(snapshot)
	return snapshot
}

// Subscribe returns a channel that receives the state after every applied
// rebuild or page change. Only the latest state is kept for slow readers.
// The returned func unsubscribes.
func (m *Monitor) Subscribe() (<-chan SyncState, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan SyncState, 1)
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
}

func (m *Monitor) snapshotLocked() SyncState {
	s := m.state
	s.Accounts = append([]*types.MultisigAccount{}, m.state.Accounts...)
	return s
}

func (m *Monitor) notifyLocked(s SyncState) {
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
