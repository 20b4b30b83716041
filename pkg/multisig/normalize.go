package multisig

import (
	"bytes"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/errors"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/types"
)

// Normalize builds the canonical descriptor for a member set and threshold.
//
// Members are sorted byte-lexicographically by raw key bytes, so any ordering
// of the same keys yields the same descriptor. Duplicate keys are reported
// with ErrDuplicateKey and are never dropped. A threshold below one or above
// the member count fails with ErrInvalidThreshold.
func Normalize(rawKeys []types.PublicKeyEntry, threshold int) (*types.MultisigDescriptor, error) {
	keys := make([]types.PublicKeyEntry, len(rawKeys))
	for i, k := range rawKeys {
		if err := ValidatePubKey(k); err != nil {
			return nil, errors.Wrapf(err, "member %d", i)
		}
		keys[i] = types.NewSecp256k1Entry(k.Value)
	}

	sort.SliceStable(keys, func(i, j int) bool {
		return bytes.Compare(keys[i].Value, keys[j].Value) < 0
	})

	for i := 1; i < len(keys); i++ {
		if bytes.Equal(keys[i-1].Value, keys[i].Value) {
			return nil, errors.ErrDuplicateKey.Newf("key %x appears more than once", keys[i].Value)
		}
	}

	if threshold < 1 || threshold > len(keys) {
		return nil, errors.ErrInvalidThreshold.Newf("threshold %d with %d members", threshold, len(keys))
	}

	return &types.MultisigDescriptor{
		PubKeys:   keys,
		Threshold: threshold,
	}, nil
}

// ValidatePubKey checks the algorithm tag and that the bytes are a compressed
// point on secp256k1.
func ValidatePubKey(k types.PublicKeyEntry) error {
	if k.Type != types.PubKeyTypeSecp256k1 {
		return errors.ErrInvalidPubKey.Newf("unsupported key type %q", k.Type)
	}
	if len(k.Value) != types.CompressedPubKeyLength {
		return errors.ErrInvalidPubKey.Newf("expected %d bytes, got %d", types.CompressedPubKeyLength, len(k.Value))
	}
	if _, err := ethcrypto.DecompressPubkey(k.Value); err != nil {
		return errors.ErrInvalidPubKey.Newf("not a secp256k1 point: %v", err)
	}
	return nil
}

// validateDescriptor re-checks the invariants Normalize establishes. It guards
// against descriptors assembled by hand.
func validateDescriptor(d *types.MultisigDescriptor) error {
	if d == nil {
		return errors.ErrMalformed.New("nil descriptor")
	}
	if d.Threshold < 1 || d.Threshold > len(d.PubKeys) {
		return errors.ErrMalformed.Newf("threshold %d with %d members", d.Threshold, len(d.PubKeys))
	}
	for i, pk := range d.PubKeys {
		if err := ValidatePubKey(pk); err != nil {
			return errors.Wrapf(errors.ErrMalformed, "member %d: %v", i, err)
		}
		if i > 0 && bytes.Compare(d.PubKeys[i-1].Value, pk.Value) >= 0 {
			return errors.ErrMalformed.New("members are not sorted or contain duplicates")
		}
	}
	return nil
}
