package registry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/errors"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/multisig"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/types"
)

var registrations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "multisig_registry_registrations_total",
		Help: "Multisig registration attempts by outcome",
	},
	[]string{"result"},
)

// Client registers multisig accounts with a backing store and answers
// membership queries. It holds no lock: the store makes check-then-insert
// atomic.
type Client struct {
	store  persistence.IAccountPersistence
	logger *zap.Logger
}

// NewClient creates a registry client over store
func NewClient(store persistence.IAccountPersistence, logger *zap.Logger) *Client {
	return &Client{
		store:  store,
		logger: logger,
	}
}

// Exists reports whether an account is registered at address
func (c *Client) Exists(ctx context.Context, address string) (bool, error) {
	account, err := c.store.LoadAccount(ctx, address)
	if err != nil {
		return false, persistence.StoreError(err, "failed to check account")
	}
	return account != nil, nil
}

// Get loads an account and rebuilds its descriptor. Returns ErrNotFound for
// addresses that were never registered and ErrMalformed when the stored blob
// does not derive to the stored address.
func (c *Client) Get(ctx context.Context, address string) (*types.MultisigAccount, error) {
	account, err := c.store.LoadAccount(ctx, address)
	if err != nil {
		return nil, persistence.StoreError(err, "failed to load account")
	}
	if account == nil {
		return nil, errors.ErrNotFound.Newf("no multisig registered at %s", address)
	}

	d, err := multisig.VerifyAccount(account)
	if err != nil {
		return nil, err
	}
	account.Descriptor = d
	return account, nil
}

// Register stores a new account. The account must re-derive to its address,
// otherwise ErrMalformed is returned before the store is touched. A colliding
// registration returns ErrAlreadyExists and leaves the original untouched.
func (c *Client) Register(ctx context.Context, account *types.MultisigAccount) error {
	d, err := multisig.VerifyAccount(account)
	if err != nil {
		registrations.WithLabelValues("malformed").Inc()
		return err
	}

	memberAddrs, err := multisig.MemberAddresses(d, account.Prefix)
	if err != nil {
		registrations.WithLabelValues("malformed").Inc()
		return errors.Wrap(errors.ErrMalformed, err.Error())
	}
	members := persistence.UniqueMembers(append(append([]string{}, account.Components...), memberAddrs...))

	err = c.store.InsertAccountIfAbsent(ctx, account, members)
	switch {
	case err == nil:
		registrations.WithLabelValues("committed").Inc()
		c.logger.Sugar().Infow("Registered multisig",
			"address", account.Address,
			"threshold", d.Threshold,
			"members", len(d.PubKeys),
		)
		return nil
	case errors.ErrAlreadyExists.Is(err):
		registrations.WithLabelValues("exists").Inc()
		c.logger.Sugar().Debugw("Multisig already registered", "address", account.Address)
		return err
	default:
		registrations.WithLabelValues("error").Inc()
		return persistence.StoreError(err, "failed to register account")
	}
}

// ListByMember returns every registered account the member belongs to. The
// member is matched by address. Accounts whose blob no longer verifies are
// skipped and logged.
func (c *Client) ListByMember(ctx context.Context, member string) ([]*types.MultisigAccount, error) {
	accounts, err := c.store.ListAccountsByMember(ctx, member)
	if err != nil {
		return nil, persistence.StoreError(err, "failed to list accounts")
	}

	result := make([]*types.MultisigAccount, 0, len(accounts))
	for _, account := range accounts {
		d, err := multisig.VerifyAccount(account)
		if err != nil {
			c.logger.Sugar().Warnw("Skipping account that does not verify",
				"address", account.Address,
				"error", err,
			)
			continue
		}
		account.Descriptor = d
		result = append(result, account)
	}
	return result, nil
}

// CreateMultisig normalizes the keys, derives the address and registers the
// account. When the multisig already exists the returned error wraps
// ErrAlreadyExists and the existing address is returned alongside it.
func (c *Client) CreateMultisig(
	ctx context.Context,
	keys []types.PublicKeyEntry,
	threshold int,
	prefix string,
	components []string,
) (*types.MultisigAccount, error) {
	d, err := multisig.Normalize(keys, threshold)
	if err != nil {
		return nil, err
	}
	if len(components) == 0 {
		components, err = multisig.MemberAddresses(d, prefix)
		if err != nil {
			return nil, err
		}
	}

	account, err := multisig.NewAccount(d, prefix, components)
	if err != nil {
		return nil, err
	}

	if err := c.Register(ctx, account); err != nil {
		if errors.ErrAlreadyExists.Is(err) {
			return account, errors.Wrapf(err, "multisig %s already exists, use it instead of creating a new one", account.Address)
		}
		return nil, err
	}
	return account, nil
}
