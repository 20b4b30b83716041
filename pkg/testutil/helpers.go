package testutil

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/multisig"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/types"
)

// TestPrefix is the bech32 prefix used across tests
const TestPrefix = "cosmos"

// TestMember is a deterministic member key pair
type TestMember struct {
	PrivateKey *ecdsa.PrivateKey
	PubKey     []byte // compressed
	Address    string
}

// CreateTestMembers returns n members with private keys 1..n so results are
// reproducible between runs.
func CreateTestMembers(t *testing.T, n int) []*TestMember {
	t.Helper()
	members := make([]*TestMember, n)
	for i := 0; i < n; i++ {
		scalar := make([]byte, 32)
		new(big.Int).SetInt64(int64(i + 1)).FillBytes(scalar)
		priv, err := ethcrypto.ToECDSA(scalar)
		require.NoError(t, err)

		pub := ethcrypto.CompressPubkey(&priv.PublicKey)
		addr, err := multisig.MemberAddress(pub, TestPrefix)
		require.NoError(t, err)

		members[i] = &TestMember{
			PrivateKey: priv,
			PubKey:     pub,
			Address:    addr,
		}
	}
	return members
}

// Entries converts members to descriptor entries in the given order
func Entries(members []*TestMember) []types.PublicKeyEntry {
	entries := make([]types.PublicKeyEntry, len(members))
	for i, m := range members {
		entries[i] = types.NewSecp256k1Entry(m.PubKey)
	}
	return entries
}

// Addresses returns the member addresses
func Addresses(members []*TestMember) []string {
	addrs := make([]string, len(members))
	for i, m := range members {
		addrs[i] = m.Address
	}
	return addrs
}

// CreateTestAccount normalizes the members and builds an account record
func CreateTestAccount(t *testing.T, members []*TestMember, threshold int) *types.MultisigAccount {
	t.Helper()
	d, err := multisig.Normalize(Entries(members), threshold)
	require.NoError(t, err)
	acct, err := multisig.NewAccount(d, TestPrefix, Addresses(members))
	require.NoError(t, err)
	return acct
}

// Sign produces a 64 byte r||s signature over sha256(signBytes)
func (m *TestMember) Sign(t *testing.T, signBytes []byte) []byte {
	t.Helper()
	digest := sha256.Sum256(signBytes)
	sig, err := ethcrypto.Sign(digest[:], m.PrivateKey)
	require.NoError(t, err)
	return sig[:64]
}
