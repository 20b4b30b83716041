package persistence

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/types"
)

// MarshalAccount serializes a MultisigAccount to JSON bytes.
// The descriptor is not stored; it is rebuilt from PubkeyJSON by the registry.
func MarshalAccount(account *types.MultisigAccount) ([]byte, error) {
	if account == nil {
		return nil, fmt.Errorf("cannot marshal nil MultisigAccount")
	}

	data, err := json.Marshal(account)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal MultisigAccount to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalAccount deserializes a MultisigAccount from JSON bytes.
func UnmarshalAccount(data []byte) (*types.MultisigAccount, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var account types.MultisigAccount
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to MultisigAccount: %w", err)
	}

	return &account, nil
}

// MarshalProposal serializes a TransactionProposal to JSON bytes.
func MarshalProposal(proposal *types.TransactionProposal) ([]byte, error) {
	if proposal == nil {
		return nil, fmt.Errorf("cannot marshal nil TransactionProposal")
	}

	return json.Marshal(proposal)
}

// UnmarshalProposal deserializes a TransactionProposal from JSON bytes.
func UnmarshalProposal(data []byte) (*types.TransactionProposal, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var proposal types.TransactionProposal
	if err := json.Unmarshal(data, &proposal); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to TransactionProposal: %w", err)
	}

	return &proposal, nil
}

// SortAccounts orders accounts by address
func SortAccounts(accounts []*types.MultisigAccount) {
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Address < accounts[j].Address
	})
}

// SortProposals orders proposals by creation time, then ID
func SortProposals(proposals []*types.TransactionProposal) {
	sort.Slice(proposals, func(i, j int) bool {
		if proposals[i].CreatedAt != proposals[j].CreatedAt {
			return proposals[i].CreatedAt < proposals[j].CreatedAt
		}
		return proposals[i].ID < proposals[j].ID
	})
}

// UniqueMembers drops empty and repeated member addresses, keeping order
func UniqueMembers(members []string) []string {
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
