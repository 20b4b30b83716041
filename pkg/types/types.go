package types

import (
	"bytes"
	"time"
)

// Amino type tags used in the serialized descriptor blob
const (
	PubKeyTypeSecp256k1         = "tendermint/PubKeySecp256k1"
	PubKeyTypeMultisigThreshold = "tendermint/PubKeyMultisigThreshold"
)

// CompressedPubKeyLength is the size of a compressed secp256k1 public key
const CompressedPubKeyLength = 33

// PublicKeyEntry is a single member key. Only compressed secp256k1 keys are supported.
type PublicKeyEntry struct {
	Type  string `json:"type"`
	Value []byte `json:"value"` // base64 in JSON, matching the amino JSON layout
}

// NewSecp256k1Entry wraps raw compressed key bytes. The bytes are copied.
func NewSecp256k1Entry(raw []byte) PublicKeyEntry {
	return PublicKeyEntry{
		Type:  PubKeyTypeSecp256k1,
		Value: append([]byte{}, raw...),
	}
}

// Equal compares type and raw bytes
func (p PublicKeyEntry) Equal(other PublicKeyEntry) bool {
	return p.Type == other.Type && bytes.Equal(p.Value, other.Value)
}

// MultisigDescriptor is the canonical threshold public key: members sorted by
// raw key bytes plus the signing threshold. Build it with multisig.Normalize.
type MultisigDescriptor struct {
	PubKeys   []PublicKeyEntry
	Threshold int
}

// HasMember reports whether raw is one of the member keys
func (d *MultisigDescriptor) HasMember(raw []byte) bool {
	for _, pk := range d.PubKeys {
		if bytes.Equal(pk.Value, raw) {
			return true
		}
	}
	return false
}

// MultisigAccount is a registered multisig. Address is always derived from the
// descriptor and prefix, never supplied by a caller.
type MultisigAccount struct {
	Address    string   `json:"address"`
	PubkeyJSON string   `json:"pubkeyJSON"` // serialized descriptor blob
	Components []string `json:"components"` // member labels, usually member addresses
	Prefix     string   `json:"prefix"`

	// Descriptor is rebuilt from PubkeyJSON on load and is not persisted separately.
	Descriptor *MultisigDescriptor `json:"-"`
}

// ProposalStatus is the lifecycle state of a transaction proposal
type ProposalStatus string

const (
	ProposalStatusPending        ProposalStatus = "PENDING"
	ProposalStatusSignedPartial  ProposalStatus = "SIGNED_PARTIAL"
	ProposalStatusSignedComplete ProposalStatus = "SIGNED_COMPLETE"
	ProposalStatusBroadcast      ProposalStatus = "BROADCAST"
	ProposalStatusFailed         ProposalStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed
func (s ProposalStatus) IsTerminal() bool {
	return s == ProposalStatusBroadcast || s == ProposalStatusFailed
}

func (s ProposalStatus) String() string {
	return string(s)
}

// MemberSignature is one member's signature over the proposal sign bytes
type MemberSignature struct {
	PubKey    []byte `json:"pubKey"`
	Signature []byte `json:"signature"` // 64 byte r||s
	SignedAt  int64  `json:"signedAt"`
}

// TransactionProposal is an unsigned or partially signed transaction waiting
// for enough member signatures.
type TransactionProposal struct {
	ID              string            `json:"id"`
	DataJSON        string            `json:"dataJSON"` // serialized UnsignedTx
	CreatedBy       string            `json:"createBy"`
	Status          ProposalStatus    `json:"status"`
	MultisigAddress string            `json:"multisigAddress"`
	Signatures      []MemberSignature `json:"signatures"`

	// Version increases on every stored update and guards compare-and-swap writes.
	Version int64 `json:"version"`

	RemoteID      string `json:"remoteId,omitempty"` // id assigned by the REST backend, if published
	TxHash        string `json:"txHash,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
	UpdatedAt     int64  `json:"updatedAt"`
}

// HasSignatureFrom reports whether the member key already signed
func (p *TransactionProposal) HasSignatureFrom(pubKey []byte) bool {
	for _, sig := range p.Signatures {
		if bytes.Equal(sig.PubKey, pubKey) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores never share slices with callers
func (p *TransactionProposal) Clone() *TransactionProposal {
	if p == nil {
		return nil
	}
	c := *p
	c.Signatures = make([]MemberSignature, len(p.Signatures))
	for i, sig := range p.Signatures {
		c.Signatures[i] = MemberSignature{
			PubKey:    append([]byte{}, sig.PubKey...),
			Signature: append([]byte{}, sig.Signature...),
			SignedAt:  sig.SignedAt,
		}
	}
	return &c
}

// Touch bumps the version and update time
func (p *TransactionProposal) Touch(now time.Time) {
	p.Version++
	p.UpdatedAt = now.Unix()
}
