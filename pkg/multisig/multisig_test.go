package multisig_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/bech32"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/errors"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/multisig"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/testutil"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/types"
)

// permutations returns every ordering of entries
func permutations(entries []types.PublicKeyEntry) [][]types.PublicKeyEntry {
	if len(entries) <= 1 {
		return [][]types.PublicKeyEntry{append([]types.PublicKeyEntry{}, entries...)}
	}
	var out [][]types.PublicKeyEntry
	for i := range entries {
		rest := make([]types.PublicKeyEntry, 0, len(entries)-1)
		rest = append(rest, entries[:i]...)
		rest = append(rest, entries[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]types.PublicKeyEntry{entries[i]}, p...))
		}
	}
	return out
}

func TestNormalizeDerive_PermutationInvariance(t *testing.T) {
	members := testutil.CreateTestMembers(t, 4)
	entries := testutil.Entries(members)

	for threshold := 1; threshold <= len(entries); threshold++ {
		var want string
		for _, perm := range permutations(entries) {
			d, err := multisig.Normalize(perm, threshold)
			require.NoError(t, err)

			addr, err := multisig.Derive(d, testutil.TestPrefix)
			require.NoError(t, err)
			if want == "" {
				want = addr
			}
			require.Equal(t, want, addr, "threshold %d", threshold)
		}
	}
}

func TestNormalize_SortsByRawBytes(t *testing.T) {
	members := testutil.CreateTestMembers(t, 5)
	d, err := multisig.Normalize(testutil.Entries(members), 3)
	require.NoError(t, err)

	require.Len(t, d.PubKeys, 5)
	for i := 1; i < len(d.PubKeys); i++ {
		assert.Negative(t, bytes.Compare(d.PubKeys[i-1].Value, d.PubKeys[i].Value))
	}
	assert.Equal(t, 3, d.Threshold)
}

func TestNormalize_InvalidThreshold(t *testing.T) {
	members := testutil.CreateTestMembers(t, 3)
	entries := testutil.Entries(members)

	for _, threshold := range []int{-5, -1, 0, 4, 5, 100} {
		d, err := multisig.Normalize(entries, threshold)
		require.Error(t, err, "threshold %d", threshold)
		assert.Nil(t, d)
		assert.True(t, errors.ErrInvalidThreshold.Is(err), "threshold %d: %v", threshold, err)
		assert.True(t, errors.IsValidation(err))
	}

	_, err := multisig.Normalize(nil, 1)
	assert.True(t, errors.ErrInvalidThreshold.Is(err))
}

func TestNormalize_DuplicateKey(t *testing.T) {
	members := testutil.CreateTestMembers(t, 3)
	entries := testutil.Entries(members)
	withDup := append(append([]types.PublicKeyEntry{}, entries...), types.NewSecp256k1Entry(members[1].PubKey))

	for _, threshold := range []int{1, 2, 3, 4} {
		d, err := multisig.Normalize(withDup, threshold)
		require.Error(t, err)
		assert.Nil(t, d)
		assert.True(t, errors.ErrDuplicateKey.Is(err), "threshold %d: %v", threshold, err)
	}
}

func TestNormalize_InvalidKeys(t *testing.T) {
	members := testutil.CreateTestMembers(t, 2)

	tests := []struct {
		name  string
		entry types.PublicKeyEntry
	}{
		{"wrong type", types.PublicKeyEntry{Type: "tendermint/PubKeyEd25519", Value: members[0].PubKey}},
		{"short", types.NewSecp256k1Entry(members[0].PubKey[:32])},
		{"bad prefix", types.NewSecp256k1Entry(append([]byte{0x05}, members[0].PubKey[1:]...))},
		{"empty", types.NewSecp256k1Entry(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := multisig.Normalize([]types.PublicKeyEntry{tt.entry, types.NewSecp256k1Entry(members[1].PubKey)}, 1)
			require.Error(t, err)
			assert.True(t, errors.ErrInvalidPubKey.Is(err), err.Error())
		})
	}
}

func TestNormalize_DoesNotAliasInput(t *testing.T) {
	members := testutil.CreateTestMembers(t, 2)
	entries := testutil.Entries(members)
	d, err := multisig.Normalize(entries, 2)
	require.NoError(t, err)

	entries[0].Value[1] ^= 0xff
	for _, pk := range d.PubKeys {
		assert.True(t, bytes.Equal(pk.Value, members[0].PubKey) || bytes.Equal(pk.Value, members[1].PubKey))
	}
}

func TestEncodeAmino_Layout(t *testing.T) {
	members := testutil.CreateTestMembers(t, 2)
	d, err := multisig.Normalize(testutil.Entries(members), 2)
	require.NoError(t, err)

	encoded, err := multisig.EncodeAmino(d)
	require.NoError(t, err)

	want := []byte{0x22, 0xc1, 0xf7, 0xe2, 0x08, 0x02}
	for _, pk := range d.PubKeys {
		want = append(want, 0x12, 38, 0xeb, 0x5a, 0xe9, 0x87, 0x21)
		want = append(want, pk.Value...)
	}
	assert.Equal(t, want, encoded)

	hash := sha256.Sum256(encoded)
	wantAddr, err := bech32.Encode(testutil.TestPrefix, hash[:20])
	require.NoError(t, err)

	addr, err := multisig.Derive(d, testutil.TestPrefix)
	require.NoError(t, err)
	assert.Equal(t, wantAddr, addr)
}

func TestEncodeAmino_LargeThresholdVarint(t *testing.T) {
	members := testutil.CreateTestMembers(t, 130)
	d, err := multisig.Normalize(testutil.Entries(members), 129)
	require.NoError(t, err)

	encoded, err := multisig.EncodeAmino(d)
	require.NoError(t, err)

	threshold, n := binary.Uvarint(encoded[5:])
	assert.Equal(t, uint64(129), threshold)
	assert.Equal(t, 2, n)
}

func TestDerive_ThresholdAndPrefixChangeAddress(t *testing.T) {
	members := testutil.CreateTestMembers(t, 3)
	d2, err := multisig.Normalize(testutil.Entries(members), 2)
	require.NoError(t, err)
	d3, err := multisig.Normalize(testutil.Entries(members), 3)
	require.NoError(t, err)

	a2, err := multisig.Derive(d2, "cosmos")
	require.NoError(t, err)
	a3, err := multisig.Derive(d3, "cosmos")
	require.NoError(t, err)
	osmo, err := multisig.Derive(d2, "osmo")
	require.NoError(t, err)

	assert.NotEqual(t, a2, a3)
	assert.NotEqual(t, a2, osmo)
	assert.Regexp(t, "^cosmos1", a2)
	assert.Regexp(t, "^osmo1", osmo)

	_, raw2, err := bech32.Decode(a2)
	require.NoError(t, err)
	_, rawOsmo, err := bech32.Decode(osmo)
	require.NoError(t, err)
	assert.Equal(t, raw2, rawOsmo)
}

func TestDerive_RejectsHandBuiltDescriptors(t *testing.T) {
	members := testutil.CreateTestMembers(t, 2)
	d, err := multisig.Normalize(testutil.Entries(members), 2)
	require.NoError(t, err)

	unsorted := &types.MultisigDescriptor{
		PubKeys:   []types.PublicKeyEntry{d.PubKeys[1], d.PubKeys[0]},
		Threshold: 2,
	}
	_, err = multisig.Derive(unsorted, testutil.TestPrefix)
	assert.True(t, errors.ErrMalformed.Is(err))

	badThreshold := &types.MultisigDescriptor{PubKeys: d.PubKeys, Threshold: 3}
	_, err = multisig.Derive(badThreshold, testutil.TestPrefix)
	assert.True(t, errors.ErrMalformed.Is(err))

	_, err = multisig.Derive(nil, testutil.TestPrefix)
	assert.True(t, errors.ErrMalformed.Is(err))

	_, err = multisig.Derive(d, "")
	assert.True(t, errors.ErrInvalidInput.Is(err))
}

func TestDerive_ConcurrentCallsAgree(t *testing.T) {
	members := testutil.CreateTestMembers(t, 3)
	d, err := multisig.Normalize(testutil.Entries(members), 2)
	require.NoError(t, err)
	want, err := multisig.Derive(d, testutil.TestPrefix)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]string, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = multisig.Derive(d, testutil.TestPrefix)
		}(i)
	}
	wg.Wait()
	for _, got := range results {
		assert.Equal(t, want, got)
	}
}

func TestDescriptorJSON_RoundTripAndVerify(t *testing.T) {
	members := testutil.CreateTestMembers(t, 3)
	acct := testutil.CreateTestAccount(t, members, 2)

	assert.Contains(t, acct.PubkeyJSON, `"type":"tendermint/PubKeyMultisigThreshold"`)
	assert.Contains(t, acct.PubkeyJSON, `"threshold":"2"`)
	assert.Contains(t, acct.PubkeyJSON, `"type":"tendermint/PubKeySecp256k1"`)

	d, err := multisig.ParseDescriptorJSON(acct.PubkeyJSON)
	require.NoError(t, err)
	assert.Equal(t, acct.Descriptor, d)

	verified, err := multisig.VerifyAccount(acct)
	require.NoError(t, err)
	assert.Equal(t, 2, verified.Threshold)

	tampered := *acct
	tampered.Address = testutil.CreateTestAccount(t, members, 3).Address
	_, err = multisig.VerifyAccount(&tampered)
	assert.True(t, errors.ErrMalformed.Is(err))

	_, err = multisig.ParseDescriptorJSON(`{"type":"other","value":{}}`)
	assert.True(t, errors.ErrMalformed.Is(err))
	_, err = multisig.ParseDescriptorJSON(`not json`)
	assert.True(t, errors.ErrMalformed.Is(err))
}

func TestMemberAddress(t *testing.T) {
	members := testutil.CreateTestMembers(t, 2)

	addr, err := multisig.MemberAddress(members[0].PubKey, "cosmos")
	require.NoError(t, err)
	require.NoError(t, bech32.ValidateAddress(addr, "cosmos"))
	assert.NotEqual(t, members[1].Address, addr)

	again, err := multisig.MemberAddress(members[0].PubKey, "cosmos")
	require.NoError(t, err)
	assert.Equal(t, addr, again)

	_, err = multisig.MemberAddress([]byte{1, 2, 3}, "cosmos")
	assert.True(t, errors.ErrInvalidPubKey.Is(err))
}
