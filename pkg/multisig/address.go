package multisig

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"strconv"

	"golang.org/x/crypto/ripemd160"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/bech32"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/errors"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/types"
)

// Amino registered type prefixes
var (
	aminoPrefixMultisigThreshold = []byte{0x22, 0xc1, 0xf7, 0xe2}
	aminoPrefixSecp256k1         = []byte{0xeb, 0x5a, 0xe9, 0x87, 0x21} // includes the 33 byte length
)

// AddressLength is the raw account address size
const AddressLength = 20

// EncodeAmino serializes the descriptor to the legacy amino binary form that
// the chain hashes into the account address.
func EncodeAmino(d *types.MultisigDescriptor) ([]byte, error) {
	if err := validateDescriptor(d); err != nil {
		return nil, err
	}

	out := append([]byte{}, aminoPrefixMultisigThreshold...)
	out = append(out, 0x08) // field 1, varint
	out = binary.AppendUvarint(out, uint64(d.Threshold))
	for _, pk := range d.PubKeys {
		member := append(append([]byte{}, aminoPrefixSecp256k1...), pk.Value...)
		out = append(out, 0x12) // field 2, length delimited
		out = binary.AppendUvarint(out, uint64(len(member)))
		out = append(out, member...)
	}
	return out, nil
}

// Derive maps a descriptor and bech32 prefix to the multisig account address.
// The address is bech32(prefix, sha256(amino(descriptor))[:20]).
func Derive(d *types.MultisigDescriptor, prefix string) (string, error) {
	if prefix == "" {
		return "", errors.ErrInvalidInput.New("address prefix is required")
	}
	encoded, err := EncodeAmino(d)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(encoded)
	addr, err := bech32.Encode(prefix, hash[:AddressLength])
	if err != nil {
		return "", errors.Wrap(errors.ErrInvalidInput, err.Error())
	}
	return addr, nil
}

// MemberAddress returns the single key account address of a member:
// bech32(prefix, ripemd160(sha256(pubkey))).
func MemberAddress(pubKey []byte, prefix string) (string, error) {
	if err := ValidatePubKey(types.NewSecp256k1Entry(pubKey)); err != nil {
		return "", err
	}
	if prefix == "" {
		return "", errors.ErrInvalidInput.New("address prefix is required")
	}
	sha := sha256.Sum256(pubKey)
	hasher := ripemd160.New()
	_, _ = hasher.Write(sha[:])
	addr, err := bech32.Encode(prefix, hasher.Sum(nil))
	if err != nil {
		return "", errors.Wrap(errors.ErrInvalidInput, err.Error())
	}
	return addr, nil
}

// MemberAddresses returns the member addresses in descriptor order
func MemberAddresses(d *types.MultisigDescriptor, prefix string) ([]string, error) {
	if err := validateDescriptor(d); err != nil {
		return nil, err
	}
	addrs := make([]string, 0, len(d.PubKeys))
	for _, pk := range d.PubKeys {
		addr, err := MemberAddress(pk.Value, prefix)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

type descriptorJSON struct {
	Type  string `json:"type"`
	Value struct {
		Threshold string                 `json:"threshold"`
		PubKeys   []types.PublicKeyEntry `json:"pubkeys"`
	} `json:"value"`
}

// MarshalDescriptorJSON produces the serialized descriptor blob stored with an account
func MarshalDescriptorJSON(d *types.MultisigDescriptor) (string, error) {
	if err := validateDescriptor(d); err != nil {
		return "", err
	}
	var blob descriptorJSON
	blob.Type = types.PubKeyTypeMultisigThreshold
	blob.Value.Threshold = strconv.Itoa(d.Threshold)
	blob.Value.PubKeys = d.PubKeys
	data, err := json.Marshal(blob)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal descriptor")
	}
	return string(data), nil
}

// ParseDescriptorJSON parses a descriptor blob and normalizes it again, so the
// result always satisfies the descriptor invariants.
func ParseDescriptorJSON(data string) (*types.MultisigDescriptor, error) {
	var blob descriptorJSON
	if err := json.Unmarshal([]byte(data), &blob); err != nil {
		return nil, errors.ErrMalformed.Newf("invalid descriptor json: %v", err)
	}
	if blob.Type != types.PubKeyTypeMultisigThreshold {
		return nil, errors.ErrMalformed.Newf("unexpected descriptor type %q", blob.Type)
	}
	threshold, err := strconv.Atoi(blob.Value.Threshold)
	if err != nil {
		return nil, errors.ErrMalformed.Newf("invalid threshold %q", blob.Value.Threshold)
	}
	d, err := Normalize(blob.Value.PubKeys, threshold)
	if err != nil {
		return nil, errors.Wrap(errors.ErrMalformed, err.Error())
	}
	return d, nil
}

// NewAccount derives the address for a descriptor and assembles the account
// record that gets registered.
func NewAccount(d *types.MultisigDescriptor, prefix string, components []string) (*types.MultisigAccount, error) {
	addr, err := Derive(d, prefix)
	if err != nil {
		return nil, err
	}
	blob, err := MarshalDescriptorJSON(d)
	if err != nil {
		return nil, err
	}
	return &types.MultisigAccount{
		Address:    addr,
		PubkeyJSON: blob,
		Components: append([]string{}, components...),
		Prefix:     prefix,
		Descriptor: d,
	}, nil
}

// VerifyAccount checks that an account's blob parses and re-derives to its
// address. Failures are ErrMalformed.
func VerifyAccount(acct *types.MultisigAccount) (*types.MultisigDescriptor, error) {
	if acct == nil {
		return nil, errors.ErrMalformed.New("nil account")
	}
	d, err := ParseDescriptorJSON(acct.PubkeyJSON)
	if err != nil {
		return nil, err
	}
	addr, err := Derive(d, acct.Prefix)
	if err != nil {
		return nil, errors.Wrap(errors.ErrMalformed, err.Error())
	}
	if addr != acct.Address {
		return nil, errors.ErrMalformed.Newf("address %s does not match descriptor (derived %s)", acct.Address, addr)
	}
	return d, nil
}
