package redis

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/errors"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/types"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixAccount       = "msig:account:"
	keyPrefixMember        = "msig:member:"
	keyPrefixProposal      = "msig:proposal:"
	keyPrefixProposalIndex = "msig:proposals:"
	keySchemaVersion       = "msig:metadata:schema_version"
	currentSchemaVersion   = "v1"

	// watchAttempts bounds retries of an optimistic WATCH transaction
	watchAttempts = 5
)

// RedisPersistence is a persistence implementation using Redis.
// Provides durable, distributed storage shared by several coordinator processes.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string // Custom prefix for all keys
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix for all keys (for multi-tenant setups).
	// If set, this prefix is prepended to all keys, e.g., "myapp:" would result in
	// keys like "myapp:msig:account:cosmos1...".
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, errors.ErrInvalidInput.New("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, errors.ErrInvalidInput.New("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(errors.ErrStoreUnavailable, "failed to connect to Redis at %s: %v", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis persistence initialized",
		"address", cfg.Address,
		"db", cfg.DB,
		"key_prefix", cfg.KeyPrefix,
	)

	return rp, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisPersistence) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisPersistence) accountKey(address string) string {
	return r.prefixKey(keyPrefixAccount + address)
}

func (r *RedisPersistence) memberKey(member string) string {
	return r.prefixKey(keyPrefixMember + member)
}

func (r *RedisPersistence) proposalKey(id string) string {
	return r.prefixKey(keyPrefixProposal + id)
}

func (r *RedisPersistence) proposalIndexKey(address string) string {
	return r.prefixKey(keyPrefixProposalIndex + address)
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	// SetNX so two processes starting together agree on one value
	if err := r.client.SetNX(ctx, schemaKey, currentSchemaVersion, 0).Err(); err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

// watch runs fn under WATCH on keys and retries when another client modified
// a watched key before EXEC.
func (r *RedisPersistence) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < watchAttempts; attempt++ {
		err := r.client.Watch(ctx, fn, keys...)
		if !stderrors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return errors.ErrStoreUnavailable.Newf("optimistic transaction on %v did not settle", keys)
}

// InsertAccountIfAbsent writes the account and member index in one MULTI
// block guarded by WATCH on the account key.
func (r *RedisPersistence) InsertAccountIfAbsent(ctx context.Context, account *types.MultisigAccount, members []string) error {
	if account == nil || account.Address == "" {
		return errors.ErrInvalidInput.New("account with an address is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return errors.ErrStoreUnavailable.New("persistence layer is closed")
	}

	data, err := persistence.MarshalAccount(account)
	if err != nil {
		return err
	}
	members = persistence.UniqueMembers(members)
	key := r.accountKey(account.Address)

	err = r.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return errors.ErrAlreadyExists.Newf("multisig %s already registered", account.Address)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			for _, member := range members {
				pipe.SAdd(ctx, r.memberKey(member), account.Address)
			}
			return nil
		})
		return err
	}, key)
	return persistence.StoreError(err, "failed to insert MultisigAccount")
}

// LoadAccount retrieves an account by address
func (r *RedisPersistence) LoadAccount(ctx context.Context, address string) (*types.MultisigAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, errors.ErrStoreUnavailable.New("persistence layer is closed")
	}

	data, err := r.client.Get(ctx, r.accountKey(address)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, persistence.StoreError(err, "failed to load MultisigAccount")
	}
	return persistence.UnmarshalAccount(data)
}

// ListAccountsByMember reads the member set and fetches the accounts with MGET
func (r *RedisPersistence) ListAccountsByMember(ctx context.Context, member string) ([]*types.MultisigAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, errors.ErrStoreUnavailable.New("persistence layer is closed")
	}

	addresses, err := r.client.SMembers(ctx, r.memberKey(member)).Result()
	if err != nil {
		return nil, persistence.StoreError(err, "failed to read member index")
	}

	accounts := make([]*types.MultisigAccount, 0, len(addresses))
	if len(addresses) == 0 {
		return accounts, nil
	}

	keys := make([]string, len(addresses))
	for i, addr := range addresses {
		keys[i] = r.accountKey(addr)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, persistence.StoreError(err, "failed to load MultisigAccounts")
	}

	for i, val := range values {
		if val == nil {
			continue
		}
		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Unexpected value type for MultisigAccount", "key", keys[i])
			continue
		}
		account, err := persistence.UnmarshalAccount([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal MultisigAccount, skipping",
				"key", keys[i], "error", err)
			continue
		}
		accounts = append(accounts, account)
	}

	persistence.SortAccounts(accounts)
	return accounts, nil
}

// CreateProposal stores a new proposal with SETNX and indexes it
func (r *RedisPersistence) CreateProposal(ctx context.Context, proposal *types.TransactionProposal) error {
	if proposal == nil || proposal.ID == "" {
		return errors.ErrInvalidInput.New("proposal with an id is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return errors.ErrStoreUnavailable.New("persistence layer is closed")
	}

	data, err := persistence.MarshalProposal(proposal)
	if err != nil {
		return err
	}

	ok, err := r.client.SetNX(ctx, r.proposalKey(proposal.ID), data, 0).Result()
	if err != nil {
		return persistence.StoreError(err, "failed to save TransactionProposal")
	}
	if !ok {
		return errors.ErrAlreadyExists.Newf("proposal %s already exists", proposal.ID)
	}

	if err := r.client.SAdd(ctx, r.proposalIndexKey(proposal.MultisigAddress), proposal.ID).Err(); err != nil {
		return persistence.StoreError(err, "failed to index TransactionProposal")
	}
	return nil
}

// LoadProposal retrieves a proposal by ID
func (r *RedisPersistence) LoadProposal(ctx context.Context, id string) (*types.TransactionProposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, errors.ErrStoreUnavailable.New("persistence layer is closed")
	}

	data, err := r.client.Get(ctx, r.proposalKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, persistence.StoreError(err, "failed to load TransactionProposal")
	}
	return persistence.UnmarshalProposal(data)
}

// UpdateProposal compares the stored version under WATCH and replaces the value
func (r *RedisPersistence) UpdateProposal(ctx context.Context, proposal *types.TransactionProposal, expectedVersion int64) error {
	if proposal == nil {
		return errors.ErrInvalidInput.New("cannot save nil TransactionProposal")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return errors.ErrStoreUnavailable.New("persistence layer is closed")
	}

	data, err := persistence.MarshalProposal(proposal)
	if err != nil {
		return err
	}
	key := r.proposalKey(proposal.ID)

	err = r.watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return errors.ErrNotFound.Newf("proposal %s", proposal.ID)
		}
		if err != nil {
			return err
		}
		current, err := persistence.UnmarshalProposal(raw)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return errors.ErrVersionConflict.Newf("proposal %s is at version %d, expected %d", proposal.ID, current.Version, expectedVersion)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
	return persistence.StoreError(err, "failed to update TransactionProposal")
}

// ListProposalsByMultisig returns proposals for a multisig sorted by creation time
func (r *RedisPersistence) ListProposalsByMultisig(ctx context.Context, address string) ([]*types.TransactionProposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, errors.ErrStoreUnavailable.New("persistence layer is closed")
	}

	ids, err := r.client.SMembers(ctx, r.proposalIndexKey(address)).Result()
	if err != nil {
		return nil, persistence.StoreError(err, "failed to read proposal index")
	}

	proposals := make([]*types.TransactionProposal, 0, len(ids))
	if len(ids) == 0 {
		return proposals, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.proposalKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, persistence.StoreError(err, "failed to load TransactionProposals")
	}

	for i, val := range values {
		if val == nil {
			continue
		}
		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Unexpected value type for TransactionProposal", "key", keys[i])
			continue
		}
		proposal, err := persistence.UnmarshalProposal([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal TransactionProposal, skipping",
				"key", keys[i], "error", err)
			continue
		}
		proposals = append(proposals, proposal)
	}

	persistence.SortProposals(proposals)
	return proposals, nil
}

// Close shuts down the persistence layer
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return errors.ErrStoreUnavailable.New("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.Wrapf(errors.ErrStoreUnavailable, "redis health check failed: %v", err)
	}

	_, err := r.client.Get(ctx, r.prefixKey(keySchemaVersion)).Result()
	if err == redis.Nil {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}

	return nil
}
