package badger

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/errors"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/types"
)

// Key prefixes for namespacing
const (
	keyPrefixAccount       = "account:"
	keyPrefixMember        = "member:"
	keyPrefixProposal      = "proposal:"
	keyPrefixProposalIndex = "proposal_by_msig:"
	keySchemaVersion       = "metadata:schema_version"
	currentSchemaVersion   = "v1"

	// txnConflictAttempts bounds retries of a transaction that lost an
	// optimistic concurrency race.
	txnConflictAttempts = 5
)

// BadgerPersistence is a persistence implementation using Badger.
// Provides durable, disk-based storage with serializable transactions.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerPersistence creates a new Badger-backed persistence layer.
// The database is opened at the specified path with SyncWrites enabled for durability.
// A background goroutine is started for garbage collection.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = newBadgerLogger(logger)
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStoreUnavailable, "failed to open badger database at %s: %v", absPath, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath)

	return bp, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}

		return nil
	})
}

// runGC runs periodic garbage collection in the background
func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && err != badgerdb.ErrNoRewrite {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// update runs fn in a read-write transaction, retrying when badger reports a
// conflict with a concurrently committed transaction. fn re-reads state on each
// attempt, so a retried insert observes the winner's write.
func (b *BadgerPersistence) update(ctx context.Context, fn func(txn *badgerdb.Txn) error) error {
	err := retry.Do(
		func() error {
			return b.db.Update(fn)
		},
		retry.Context(ctx),
		retry.Attempts(txnConflictAttempts),
		retry.Delay(time.Millisecond),
		retry.RetryIf(func(err error) bool {
			return stderrors.Is(err, badgerdb.ErrConflict)
		}),
		retry.LastErrorOnly(true),
	)
	if stderrors.Is(err, badgerdb.ErrConflict) {
		return errors.Wrap(errors.ErrStoreUnavailable, "transaction conflict retries exhausted")
	}
	return err
}

func accountKey(address string) []byte {
	return []byte(keyPrefixAccount + address)
}

func memberKey(member, address string) []byte {
	return []byte(keyPrefixMember + member + ":" + address)
}

func proposalKey(id string) []byte {
	return []byte(keyPrefixProposal + id)
}

func proposalIndexKey(address, id string) []byte {
	return []byte(keyPrefixProposalIndex + address + ":" + id)
}

// getValue copies the value stored under key. Returns nil when the key is missing.
func getValue(txn *badgerdb.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err == badgerdb.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// InsertAccountIfAbsent stores the account and its member index entries in a
// single transaction.
func (b *BadgerPersistence) InsertAccountIfAbsent(ctx context.Context, account *types.MultisigAccount, members []string) error {
	if account == nil || account.Address == "" {
		return errors.ErrInvalidInput.New("account with an address is required")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.ErrStoreUnavailable.New("persistence layer is closed")
	}

	data, err := persistence.MarshalAccount(account)
	if err != nil {
		return err
	}
	members = persistence.UniqueMembers(members)

	return b.update(ctx, func(txn *badgerdb.Txn) error {
		existing, err := getValue(txn, accountKey(account.Address))
		if err != nil {
			return err
		}
		if existing != nil {
			return errors.ErrAlreadyExists.Newf("multisig %s already registered", account.Address)
		}
		if err := txn.Set(accountKey(account.Address), data); err != nil {
			return err
		}
		for _, member := range members {
			if err := txn.Set(memberKey(member, account.Address), []byte{}); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadAccount retrieves an account by address
func (b *BadgerPersistence) LoadAccount(ctx context.Context, address string) (*types.MultisigAccount, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errors.ErrStoreUnavailable.New("persistence layer is closed")
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		data, err = getValue(txn, accountKey(address))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load MultisigAccount: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return persistence.UnmarshalAccount(data)
}

// ListAccountsByMember walks the member index and loads each account
func (b *BadgerPersistence) ListAccountsByMember(ctx context.Context, member string) ([]*types.MultisigAccount, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errors.ErrStoreUnavailable.New("persistence layer is closed")
	}

	accounts := make([]*types.MultisigAccount, 0)
	prefix := []byte(keyPrefixMember + member + ":")

	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			address := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			data, err := getValue(txn, accountKey(address))
			if err != nil {
				return err
			}
			if data == nil {
				continue
			}
			account, err := persistence.UnmarshalAccount(data)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to unmarshal MultisigAccount, skipping",
					"address", address, "error", err)
				continue
			}
			accounts = append(accounts, account)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list MultisigAccounts: %w", err)
	}

	persistence.SortAccounts(accounts)
	return accounts, nil
}

// CreateProposal stores a new proposal and indexes it under its multisig
func (b *BadgerPersistence) CreateProposal(ctx context.Context, proposal *types.TransactionProposal) error {
	if proposal == nil || proposal.ID == "" {
		return errors.ErrInvalidInput.New("proposal with an id is required")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.ErrStoreUnavailable.New("persistence layer is closed")
	}

	data, err := persistence.MarshalProposal(proposal)
	if err != nil {
		return err
	}

	return b.update(ctx, func(txn *badgerdb.Txn) error {
		existing, err := getValue(txn, proposalKey(proposal.ID))
		if err != nil {
			return err
		}
		if existing != nil {
			return errors.ErrAlreadyExists.Newf("proposal %s already exists", proposal.ID)
		}
		if err := txn.Set(proposalKey(proposal.ID), data); err != nil {
			return err
		}
		return txn.Set(proposalIndexKey(proposal.MultisigAddress, proposal.ID), []byte{})
	})
}

// LoadProposal retrieves a proposal by ID
func (b *BadgerPersistence) LoadProposal(ctx context.Context, id string) (*types.TransactionProposal, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errors.ErrStoreUnavailable.New("persistence layer is closed")
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		data, err = getValue(txn, proposalKey(id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load TransactionProposal: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return persistence.UnmarshalProposal(data)
}

// UpdateProposal compares the stored version and writes inside one transaction
func (b *BadgerPersistence) UpdateProposal(ctx context.Context, proposal *types.TransactionProposal, expectedVersion int64) error {
	if proposal == nil {
		return errors.ErrInvalidInput.New("cannot save nil TransactionProposal")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.ErrStoreUnavailable.New("persistence layer is closed")
	}

	data, err := persistence.MarshalProposal(proposal)
	if err != nil {
		return err
	}

	return b.update(ctx, func(txn *badgerdb.Txn) error {
		raw, err := getValue(txn, proposalKey(proposal.ID))
		if err != nil {
			return err
		}
		if raw == nil {
			return errors.ErrNotFound.Newf("proposal %s", proposal.ID)
		}
		current, err := persistence.UnmarshalProposal(raw)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return errors.ErrVersionConflict.Newf("proposal %s is at version %d, expected %d", proposal.ID, current.Version, expectedVersion)
		}
		return txn.Set(proposalKey(proposal.ID), data)
	})
}

// ListProposalsByMultisig returns proposals for a multisig sorted by creation time
func (b *BadgerPersistence) ListProposalsByMultisig(ctx context.Context, address string) ([]*types.TransactionProposal, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errors.ErrStoreUnavailable.New("persistence layer is closed")
	}

	proposals := make([]*types.TransactionProposal, 0)
	prefix := []byte(keyPrefixProposalIndex + address + ":")

	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			id := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			data, err := getValue(txn, proposalKey(id))
			if err != nil {
				return err
			}
			if data == nil {
				continue
			}
			proposal, err := persistence.UnmarshalProposal(data)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to unmarshal TransactionProposal, skipping",
					"id", id, "error", err)
				continue
			}
			proposals = append(proposals, proposal)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list TransactionProposals: %w", err)
	}

	persistence.SortProposals(proposals)
	return proposals, nil
}

// Close shuts down the persistence layer
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.ErrStoreUnavailable.New("persistence layer is closed")
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
