package proposal

import (
	"context"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/avast/retry-go"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/puzpuzpuz/xsync/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/cache"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/errors"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/types"
)

const (
	defaultDescriptorCacheSize = 1024
	updateAttempts             = 5
)

var transitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "multisig_proposal_transitions_total",
		Help: "Proposal status transitions by target status",
	},
	[]string{"status"},
)

// AccountResolver loads a registered multisig with its descriptor
type AccountResolver interface {
	Get(ctx context.Context, address string) (*types.MultisigAccount, error)
}

// Publisher mirrors a new proposal to an external backend and returns the id
// the backend assigned.
type Publisher interface {
	CreateTransaction(ctx context.Context, dataJSON, createdBy string, status types.ProposalStatus) (string, error)
}

// Tracker owns the proposal lifecycle. Signature attachment is serialized per
// proposal inside the process, and every write is a versioned compare-and-swap
// so trackers sharing one store never lose updates.
type Tracker struct {
	store     persistence.IProposalPersistence
	accounts  AccountResolver
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time

	descriptors *cache.Cache[string, *types.MultisigDescriptor]
	locks       *xsync.MapOf[string, *sync.Mutex]
}

// Option configures a Tracker
type Option func(*Tracker)

// WithPublisher publishes every submitted proposal through p
func WithPublisher(p Publisher) Option {
	return func(t *Tracker) {
		t.publisher = p
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithDescriptorCacheSize bounds the number of cached multisig descriptors
func WithDescriptorCacheSize(size int) Option {
	return func(t *Tracker) {
		t.descriptors = cache.NewLRUCache[string, *types.MultisigDescriptor](size, "proposal_descriptors")
	}
}

// NewTracker creates a proposal tracker
func NewTracker(store persistence.IProposalPersistence, accounts AccountResolver, logger *zap.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		store:       store,
		accounts:    accounts,
		logger:      logger,
		now:         time.Now,
		descriptors: cache.NewLRUCache[string, *types.MultisigDescriptor](defaultDescriptorCacheSize, "proposal_descriptors"),
		locks:       xsync.NewMapOf[*sync.Mutex](),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SignBytes returns the bytes members sign for a proposal
func SignBytes(p *types.TransactionProposal) []byte {
	return []byte(p.DataJSON)
}

// SignDigest returns sha256 of the sign bytes. Member signatures are 64 byte
// r||s secp256k1 signatures over this digest.
func SignDigest(p *types.TransactionProposal) []byte {
	digest := sha256.Sum256(SignBytes(p))
	return digest[:]
}

// Submit stores tx as a PENDING proposal for the multisig that signs its
// messages and returns the new proposal id.
func (t *Tracker) Submit(ctx context.Context, tx *types.UnsignedTx, createdBy string) (string, error) {
	multisigAddress, err := tx.Signer()
	if err != nil {
		return "", errors.ErrInvalidInput.New(err.Error())
	}
	if _, err := t.descriptor(ctx, multisigAddress); err != nil {
		return "", err
	}

	dataJSON, err := types.MarshalUnsignedTx(tx)
	if err != nil {
		return "", errors.Wrap(errors.ErrInvalidInput, err.Error())
	}

	now := t.now().Unix()
	p := &types.TransactionProposal{
		ID:              uuid.NewString(),
		DataJSON:        dataJSON,
		CreatedBy:       createdBy,
		Status:          types.ProposalStatusPending,
		MultisigAddress: multisigAddress,
		Signatures:      []types.MemberSignature{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if t.publisher != nil {
		remoteID, err := t.publisher.CreateTransaction(ctx, dataJSON, createdBy, types.ProposalStatusPending)
		if err != nil {
			return "", errors.Wrap(err, "failed to publish proposal")
		}
		p.RemoteID = remoteID
	}

	if err := t.store.CreateProposal(ctx, p); err != nil {
		err = persistence.StoreError(err, "failed to save proposal")
		if p.RemoteID == "" {
			return "", err
		}
		// the backend already holds the proposal; it has no local copy
		t.logger.Sugar().Errorw("Published proposal was not saved locally",
			"id", p.ID,
			"remote_id", p.RemoteID,
			"multisig", multisigAddress,
			"error", err,
		)
		return "", errors.Wrapf(err, "proposal published as %s", p.RemoteID)
	}
	transitions.WithLabelValues(p.Status.String()).Inc()

	t.logger.Sugar().Infow("Proposal submitted",
		"id", p.ID,
		"multisig", multisigAddress,
		"created_by", createdBy,
		"remote_id", p.RemoteID,
	)
	return p.ID, nil
}

// Get returns a proposal or ErrNotFound
func (t *Tracker) Get(ctx context.Context, id string) (*types.TransactionProposal, error) {
	p, err := t.store.LoadProposal(ctx, id)
	if err != nil {
		return nil, persistence.StoreError(err, "failed to load proposal")
	}
	if p == nil {
		return nil, errors.ErrNotFound.Newf("proposal %s", id)
	}
	return p, nil
}

// List returns the proposals of a multisig in creation order
func (t *Tracker) List(ctx context.Context, multisigAddress string) ([]*types.TransactionProposal, error) {
	proposals, err := t.store.ListProposalsByMultisig(ctx, multisigAddress)
	if err != nil {
		return nil, persistence.StoreError(err, "failed to list proposals")
	}
	return proposals, nil
}

// Signatures returns the member signatures collected for a proposal in the
// order they were attached
func (t *Tracker) Signatures(ctx context.Context, id string) ([]types.MemberSignature, error) {
	p, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Signatures, nil
}

// AttachSignature records one member signature.
//
// A repeated signature from the same member changes nothing. A signature from
// a non-member or one that does not verify moves the proposal to FAILED; the
// failed proposal is returned together with ErrNotMember or
// ErrInvalidSignature. Members may keep signing after the threshold is
// reached; the proposal stays SIGNED_COMPLETE.
func (t *Tracker) AttachSignature(ctx context.Context, id string, pubKey, signature []byte) (*types.TransactionProposal, error) {
	unlock := t.lock(id)
	defer unlock()

	var (
		result  *types.TransactionProposal
		sigErr  error
		changed bool
	)
	err := t.update(ctx, id, func(p *types.TransactionProposal) (bool, error) {
		result, sigErr, changed = p, nil, false
		if p.Status.IsTerminal() {
			return false, errors.ErrTerminalState.Newf("proposal %s is %s", id, p.Status)
		}
		if p.HasSignatureFrom(pubKey) {
			return false, nil
		}

		d, err := t.descriptor(ctx, p.MultisigAddress)
		if err != nil {
			return false, err
		}

		if err := verifyMemberSignature(d, p, pubKey, signature); err != nil {
			p.Status = types.ProposalStatusFailed
			p.FailureReason = err.Error()
			sigErr = err
			changed = true
			return true, nil
		}

		p.Signatures = append(p.Signatures, types.MemberSignature{
			PubKey:    append([]byte{}, pubKey...),
			Signature: append([]byte{}, signature[:64]...),
			SignedAt:  t.now().Unix(),
		})
		if len(p.Signatures) >= d.Threshold {
			p.Status = types.ProposalStatusSignedComplete
		} else {
			p.Status = types.ProposalStatusSignedPartial
		}
		changed = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		transitions.WithLabelValues(result.Status.String()).Inc()
		t.logger.Sugar().Infow("Proposal signature processed",
			"id", id,
			"status", result.Status,
			"signatures", len(result.Signatures),
			"error", sigErr,
		)
	}
	return result, sigErr
}

// ReportBroadcast records the outcome of broadcasting a completed proposal.
// A nil broadcastErr moves SIGNED_COMPLETE to BROADCAST; any broadcastErr moves
// a non-terminal proposal to FAILED.
func (t *Tracker) ReportBroadcast(ctx context.Context, id, txHash string, broadcastErr error) (*types.TransactionProposal, error) {
	unlock := t.lock(id)
	defer unlock()

	var result *types.TransactionProposal
	err := t.update(ctx, id, func(p *types.TransactionProposal) (bool, error) {
		result = p
		if p.Status.IsTerminal() {
			return false, errors.ErrTerminalState.Newf("proposal %s is %s", id, p.Status)
		}
		if broadcastErr != nil {
			p.Status = types.ProposalStatusFailed
			p.FailureReason = errors.Wrap(errors.ErrBroadcastRejected, broadcastErr.Error()).Error()
			return true, nil
		}
		if p.Status != types.ProposalStatusSignedComplete {
			return false, errors.ErrInvalidState.Newf("proposal %s is %s, not %s", id, p.Status, types.ProposalStatusSignedComplete)
		}
		p.Status = types.ProposalStatusBroadcast
		p.TxHash = txHash
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	transitions.WithLabelValues(result.Status.String()).Inc()
	t.logger.Sugar().Infow("Proposal broadcast reported",
		"id", id,
		"status", result.Status,
		"tx_hash", txHash,
	)
	return result, nil
}

// lock serializes mutations of one proposal within this process
func (t *Tracker) lock(id string) func() {
	mu, _ := t.locks.LoadOrCompute(id, func() *sync.Mutex {
		return &sync.Mutex{}
	})
	mu.Lock()
	return mu.Unlock
}

// update loads the proposal, applies mutate and writes it back with a version
// check. A version conflict means another process wrote first; the proposal is
// reloaded and mutate runs again on the fresh copy.
func (t *Tracker) update(ctx context.Context, id string, mutate func(p *types.TransactionProposal) (bool, error)) error {
	return retry.Do(
		func() error {
			p, err := t.Get(ctx, id)
			if err != nil {
				return err
			}
			expected := p.Version
			write, err := mutate(p)
			if err != nil || !write {
				return err
			}
			p.Touch(t.now())
			return t.store.UpdateProposal(ctx, p, expected)
		},
		retry.Context(ctx),
		retry.Attempts(updateAttempts),
		retry.Delay(time.Millisecond),
		retry.RetryIf(func(err error) bool {
			return errors.ErrVersionConflict.Is(err)
		}),
		retry.LastErrorOnly(true),
	)
}

// descriptor resolves the member set of a multisig. Accounts never change
// once registered, so descriptors are cached.
func (t *Tracker) descriptor(ctx context.Context, address string) (*types.MultisigDescriptor, error) {
	if d, ok := t.descriptors.Get(address); ok {
		return d, nil
	}
	account, err := t.accounts.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	if account.Descriptor == nil {
		return nil, errors.ErrMalformed.Newf("account %s has no descriptor", address)
	}
	t.descriptors.Set(address, account.Descriptor)
	return account.Descriptor, nil
}

func verifyMemberSignature(d *types.MultisigDescriptor, p *types.TransactionProposal, pubKey, signature []byte) error {
	if !d.HasMember(pubKey) {
		return errors.ErrNotMember.Newf("key %x is not a member of %s", pubKey, p.MultisigAddress)
	}
	if len(signature) != 64 && len(signature) != 65 {
		return errors.ErrInvalidSignature.Newf("expected 64 byte signature, got %d", len(signature))
	}
	if !ethcrypto.VerifySignature(pubKey, SignDigest(p), signature[:64]) {
		return errors.ErrInvalidSignature.Newf("signature from %x does not verify", pubKey)
	}
	return nil
}
