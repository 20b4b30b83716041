package main

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/clients/multisigApi"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/config"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/persistence/badger"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/persistence/redis"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/proposal"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/registry"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/types"
)

// environment holds the components a command runs against
type environment struct {
	cfg      *config.Config
	chain    *config.ChainParams
	logger   *zap.Logger
	store    persistence.IMultisigPersistence
	registry *registry.Client
	tracker  *proposal.Tracker
}

func (e *environment) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Sugar().Warnw("Failed to close store", "error", err)
	}
	_ = e.logger.Sync()
}

// loadConfig reads the environment and applies flags that were set explicitly
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if c.IsSet("persistence") {
		cfg.Persistence = config.PersistenceType(c.String("persistence"))
	}
	if c.IsSet("data-path") {
		cfg.DataPath = c.String("data-path")
	}
	if c.IsSet("redis-address") {
		cfg.RedisAddress = c.String("redis-address")
	}
	if c.IsSet("redis-password") {
		cfg.RedisPassword = c.String("redis-password")
	}
	if c.IsSet("redis-db") {
		cfg.RedisDB = c.Int("redis-db")
	}
	if c.IsSet("backend-url") {
		cfg.BackendURL = c.String("backend-url")
	}
	if c.IsSet("chain-id") {
		cfg.ChainID = config.ChainId(c.String("chain-id"))
	}
	if c.IsSet("debug") {
		cfg.Debug = c.Bool("debug")
	}
	if c.IsSet("page-size") {
		cfg.PageSize = c.Int("page-size")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openStore creates the configured persistence backend
func openStore(cfg *config.Config, l *zap.Logger) (persistence.IMultisigPersistence, error) {
	switch cfg.Persistence {
	case config.PersistenceType_Memory:
		return memory.NewMemoryPersistence(l), nil
	case config.PersistenceType_Badger:
		return badger.NewBadgerPersistence(cfg.DataPath, l)
	case config.PersistenceType_Redis:
		return redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   cfg.RedisAddress,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, l)
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s", cfg.Persistence)
	}
}

// newEnvironment wires the store, the registry and the proposal tracker.
// With a backend URL accounts are registered through the REST backend and
// new proposals are published there; proposals are tracked locally either way.
func newEnvironment(c *cli.Context) (*environment, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	chain, err := cfg.Chain()
	if err != nil {
		return nil, err
	}

	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	store, err := openStore(cfg, l)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Persistence, err)
	}

	env := &environment{
		cfg:    cfg,
		chain:  chain,
		logger: l,
		store:  store,
	}

	var accounts persistence.IAccountPersistence = store
	opts := []proposal.Option{proposal.WithDescriptorCacheSize(cfg.DescriptorCacheSize)}
	if cfg.BackendURL != "" {
		backend, err := multisigApi.NewClient(&multisigApi.ClientConfig{
			BaseURL:           cfg.BackendURL,
			Logger:            l,
			RequestsPerSecond: cfg.RequestsPerSec,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to create backend client: %w", err)
		}
		accounts = backend
		opts = append(opts, proposal.WithPublisher(backend))
		l.Sugar().Debugw("Registering accounts through backend", "backend", backend.String())
	}

	env.registry = registry.NewClient(accounts, l)
	env.tracker = proposal.NewTracker(store, env.registry, l, opts...)
	return env, nil
}

// parsePubKey accepts a compressed key as hex, with or without 0x, or base64
func parsePubKey(s string) (types.PublicKeyEntry, error) {
	s = strings.TrimSpace(s)
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if raw, err := hex.DecodeString(trimmed); err == nil {
		return types.NewSecp256k1Entry(raw), nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return types.PublicKeyEntry{}, fmt.Errorf("public key %q is neither hex nor base64", s)
	}
	return types.NewSecp256k1Entry(raw), nil
}

func parsePubKeys(values []string) ([]types.PublicKeyEntry, error) {
	keys := make([]types.PublicKeyEntry, 0, len(values))
	for _, v := range values {
		k, err := parsePubKey(v)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}
